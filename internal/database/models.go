package database

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// UnknownSymbol is stored when a token's symbol or name cannot be read.
const UnknownSymbol = "UNKNOWN"

// DefaultDecimals is used when a token's decimals cannot be read.
const DefaultDecimals = 18

// Token is an ERC-20 referenced by a pair. Written once, never updated.
type Token struct {
	Address  string `db:"address"`
	Decimals int32  `db:"decimals"`
	Symbol   string `db:"symbol"`
	Name     string `db:"name"`
}

// Pair is the trading venue whose activity is charted. Its ID is the
// treasury contract address; token0 is the collateral side and token1 is LMKT.
type Pair struct {
	ID                 string `db:"id"`
	Token0             string `db:"token0"`
	Token1             string `db:"token1"`
	CreatedAtBlock     uint64 `db:"created_at_block"`
	CreatedAtTimestamp int64  `db:"created_at_timestamp"`
}

// CandleKey identifies one bucket of one interval series.
type CandleKey struct {
	PairID      string
	Interval    int64
	BucketStart int64
}

func (k CandleKey) String() string {
	return fmt.Sprintf("%s-%d-%d", k.PairID, k.Interval, k.BucketStart)
}

// Candle is an OHLCV record for a pair, interval and bucket.
type Candle struct {
	PairID       string  `db:"pair_id"`
	Interval     int64   `db:"interval_seconds"`
	BucketStart  int64   `db:"bucket_start"`
	Open         float64 `db:"open"`
	High         float64 `db:"high"`
	Low          float64 `db:"low"`
	Close        float64 `db:"close"`
	VolumeToken0 float64 `db:"volume_token0"`
	VolumeToken1 float64 `db:"volume_token1"`
	Trades       int64   `db:"trades"`
}

func (c *Candle) Key() CandleKey {
	return CandleKey{PairID: c.PairID, Interval: c.Interval, BucketStart: c.BucketStart}
}

// EventID identifies a decoded log across redeliveries.
type EventID struct {
	TxHash   string
	LogIndex uint
}

func NewEventID(txHash common.Hash, logIndex uint) EventID {
	return EventID{TxHash: strings.ToLower(txHash.Hex()), LogIndex: logIndex}
}

func (id EventID) String() string {
	return fmt.Sprintf("%s-%d", id.TxHash, id.LogIndex)
}

// FeeKind distinguishes the two fee sources recorded for audit.
type FeeKind string

const (
	FeeKindListing  FeeKind = "listing"
	FeeKindTransfer FeeKind = "transfer"
)

// FeeRecord is an audit row for a listing fee or a treasury-bound transfer.
type FeeRecord struct {
	ID          string  `db:"id"`
	Kind        FeeKind `db:"kind"`
	PairID      string  `db:"pair_id"`
	Payer       string  `db:"payer"`
	Token       string  `db:"token"`
	AmountRaw   string  `db:"amount_raw"`
	Amount      float64 `db:"amount"`
	BlockNumber uint64  `db:"block_number"`
	Timestamp   int64   `db:"timestamp"`
}

// PurchaseRecord is an audit row for a marketplace purchase.
type PurchaseRecord struct {
	ID          string  `db:"id"`
	PairID      string  `db:"pair_id"`
	Buyer       string  `db:"buyer"`
	Seller      string  `db:"seller"`
	ListingID   string  `db:"listing_id"`
	AmountRaw   string  `db:"amount_raw"`
	Amount      float64 `db:"amount"`
	Price       float64 `db:"price"`
	BlockNumber uint64  `db:"block_number"`
	Timestamp   int64   `db:"timestamp"`
}

func AddressToString(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func BigIntToNumeric(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
