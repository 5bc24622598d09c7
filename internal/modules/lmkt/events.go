package lmkt

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/lmkt/candle-indexer/internal/database"
	"github.com/lmkt/candle-indexer/internal/modules/core"
)

var ErrMalformedEvent = core.ErrMalformedEvent

type Kind string

const (
	KindSwap        Kind = "swap"
	KindPurchase    Kind = "purchase"
	KindListingFee  Kind = "listing_fee"
	KindFeeTransfer Kind = "fee_transfer"
)

// Meta is the log context shared by every event.
type Meta struct {
	Contract    common.Address
	BlockNumber uint64
	Timestamp   int64
	TxHash      common.Hash
	LogIndex    uint
}

func (m Meta) ID() database.EventID {
	return database.NewEventID(m.TxHash, m.LogIndex)
}

// Event is one of SwapEvent, PurchaseEvent, ListingFeeEvent or
// FeeTransferEvent. Every field of a decoded event is set.
type Event interface {
	Kind() Kind
	Meta() Meta
}

// SwapEvent is a bonding-curve buy or sell on the treasury. It carries the
// post-trade collateral and supply, so its price needs no chain read.
type SwapEvent struct {
	meta              Meta
	User              common.Address
	CollateralAmount  *big.Int
	LMKTAmount        *big.Int
	IsBuy             bool
	TotalCollateral   *big.Int
	CirculatingSupply *big.Int
}

func (e *SwapEvent) Kind() Kind { return KindSwap }
func (e *SwapEvent) Meta() Meta { return e.meta }

// PurchaseEvent is a marketplace item bought with LMKT.
type PurchaseEvent struct {
	meta       Meta
	ListingID  *big.Int
	Buyer      common.Address
	Seller     common.Address
	LMKTAmount *big.Int
}

func (e *PurchaseEvent) Kind() Kind { return KindPurchase }
func (e *PurchaseEvent) Meta() Meta { return e.meta }

// ListingFeeEvent is the collateral fee paid to list an item.
type ListingFeeEvent struct {
	meta      Meta
	ListingID *big.Int
	Payer     common.Address
	FeePaid   *big.Int
}

func (e *ListingFeeEvent) Kind() Kind { return KindListingFee }
func (e *ListingFeeEvent) Meta() Meta { return e.meta }

// FeeTransferEvent is a collateral token transfer.
type FeeTransferEvent struct {
	meta  Meta
	From  common.Address
	To    common.Address
	Value *big.Int
}

func (e *FeeTransferEvent) Kind() Kind { return KindFeeTransfer }
func (e *FeeTransferEvent) Meta() Meta { return e.meta }

// Decoder turns raw logs into events.
type Decoder struct {
	parser *core.EventParser
}

func NewDecoder() *Decoder {
	parser := core.NewEventParser()
	parser.AddABI(treasuryABI)
	parser.AddABI(marketplaceABI)
	parser.AddABI(erc20ABI)
	return &Decoder{parser: parser}
}

// Decode validates log against its ABI. Logs with an unknown signature
// return core.ErrUnknownEvent; logs with missing or undecodable arguments
// return an error wrapping ErrMalformedEvent.
func (d *Decoder) Decode(log *types.Log, timestamp int64) (Event, error) {
	parsed, err := d.parser.ParseEvent(log)
	if err != nil {
		var unknown core.ErrUnknownEvent
		if errors.As(err, &unknown) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	meta := Meta{
		Contract:    log.Address,
		BlockNumber: log.BlockNumber,
		Timestamp:   timestamp,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
	}

	var evt Event
	switch parsed.EventName {
	case "Swap":
		evt, err = decodeSwap(parsed, meta)
	case "ItemPurchased":
		evt, err = decodePurchase(parsed, meta)
	case "ListingFeePaid":
		evt, err = decodeListingFee(parsed, meta)
	case "Transfer":
		evt, err = decodeTransfer(parsed, meta)
	default:
		return nil, core.ErrUnknownEvent{Topic: log.Topics[0].Hex()}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return evt, nil
}

func decodeSwap(p *core.ParsedEvent, meta Meta) (*SwapEvent, error) {
	e := &SwapEvent{meta: meta}
	var err error
	if e.User, err = p.AddressArg("user"); err != nil {
		return nil, err
	}
	if e.CollateralAmount, err = p.BigArg("collateralAmount"); err != nil {
		return nil, err
	}
	if e.LMKTAmount, err = p.BigArg("lmktAmount"); err != nil {
		return nil, err
	}
	if e.IsBuy, err = p.BoolArg("isBuy"); err != nil {
		return nil, err
	}
	if e.TotalCollateral, err = p.BigArg("totalCollateral"); err != nil {
		return nil, err
	}
	if e.CirculatingSupply, err = p.BigArg("circulatingSupply"); err != nil {
		return nil, err
	}
	return e, nil
}

func decodePurchase(p *core.ParsedEvent, meta Meta) (*PurchaseEvent, error) {
	e := &PurchaseEvent{meta: meta}
	var err error
	if e.ListingID, err = p.BigArg("listingId"); err != nil {
		return nil, err
	}
	if e.Buyer, err = p.AddressArg("buyer"); err != nil {
		return nil, err
	}
	if e.Seller, err = p.AddressArg("seller"); err != nil {
		return nil, err
	}
	if e.LMKTAmount, err = p.BigArg("lmktAmount"); err != nil {
		return nil, err
	}
	return e, nil
}

func decodeListingFee(p *core.ParsedEvent, meta Meta) (*ListingFeeEvent, error) {
	e := &ListingFeeEvent{meta: meta}
	var err error
	if e.ListingID, err = p.BigArg("listingId"); err != nil {
		return nil, err
	}
	if e.Payer, err = p.AddressArg("payer"); err != nil {
		return nil, err
	}
	if e.FeePaid, err = p.BigArg("feePaid"); err != nil {
		return nil, err
	}
	return e, nil
}

func decodeTransfer(p *core.ParsedEvent, meta Meta) (*FeeTransferEvent, error) {
	e := &FeeTransferEvent{meta: meta}
	var err error
	if e.From, err = p.AddressArg("from"); err != nil {
		return nil, err
	}
	if e.To, err = p.AddressArg("to"); err != nil {
		return nil, err
	}
	if e.Value, err = p.BigArg("value"); err != nil {
		return nil, err
	}
	return e, nil
}
