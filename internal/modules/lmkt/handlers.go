package lmkt

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/lmkt/candle-indexer/internal/candles"
	"github.com/lmkt/candle-indexer/internal/database"
	"github.com/lmkt/candle-indexer/internal/pricing"
)

// handler is the per-type plan for one event: where its price comes from,
// how the price turns into a trade, and which audit row it leaves.
type handler struct {
	request pricing.Request
	trade   func(price float64) candles.Trade
	record  func(ctx context.Context, tx database.Tx, pairID string, price float64) error
}

func (m *Module) handlerFor(evt Event, collateral, lmkt *database.Token) handler {
	switch e := evt.(type) {
	case *SwapEvent:
		return handleSwap(e, collateral, lmkt)
	case *PurchaseEvent:
		return handlePurchase(e, collateral, lmkt)
	case *ListingFeeEvent:
		return handleListingFee(e, collateral, lmkt)
	case *FeeTransferEvent:
		return handleFeeTransfer(e, collateral, lmkt)
	}
	panic(fmt.Sprintf("unhandled event type %T", evt))
}

func onChain(block uint64, collateral, lmkt *database.Token) pricing.Request {
	return pricing.Request{
		Block:              block,
		CollateralDecimals: collateral.Decimals,
		LMKTDecimals:       lmkt.Decimals,
	}
}

// handleSwap: embedded price, volumes are the collateral and LMKT legs.
func handleSwap(e *SwapEvent, collateral, lmkt *database.Token) handler {
	req := onChain(e.meta.BlockNumber, collateral, lmkt)
	req.Embedded = true
	req.TotalCollateral = e.TotalCollateral
	req.CirculatingSupply = e.CirculatingSupply

	return handler{
		request: req,
		trade: func(price float64) candles.Trade {
			return candles.Trade{
				Price:   price,
				Volume0: candles.ToDecimal(e.CollateralAmount, collateral.Decimals),
				Volume1: candles.ToDecimal(e.LMKTAmount, lmkt.Decimals),
			}
		},
	}
}

// handlePurchase: on-chain price, collateral volume is the LMKT amount
// valued at that price.
func handlePurchase(e *PurchaseEvent, collateral, lmkt *database.Token) handler {
	amount := candles.ToDecimal(e.LMKTAmount, lmkt.Decimals)

	return handler{
		request: onChain(e.meta.BlockNumber, collateral, lmkt),
		trade: func(price float64) candles.Trade {
			return candles.Trade{
				Price:   price,
				Volume0: amount * price,
				Volume1: amount,
			}
		},
		record: func(ctx context.Context, tx database.Tx, pairID string, price float64) error {
			err := tx.InsertPurchase(ctx, &database.PurchaseRecord{
				ID:          e.meta.ID().String(),
				PairID:      pairID,
				Buyer:       database.AddressToString(e.Buyer),
				Seller:      database.AddressToString(e.Seller),
				ListingID:   database.BigIntToNumeric(e.ListingID),
				AmountRaw:   database.BigIntToNumeric(e.LMKTAmount),
				Amount:      amount,
				Price:       price,
				BlockNumber: e.meta.BlockNumber,
				Timestamp:   e.meta.Timestamp,
			})
			if err != nil {
				return fmt.Errorf("failed to insert purchase: %w", err)
			}
			return nil
		},
	}
}

// handleListingFee: on-chain price, the fee is collateral volume and always
// counts as a trade.
func handleListingFee(e *ListingFeeEvent, collateral, lmkt *database.Token) handler {
	fee := candles.ToDecimal(e.FeePaid, collateral.Decimals)

	return handler{
		request: onChain(e.meta.BlockNumber, collateral, lmkt),
		trade: func(price float64) candles.Trade {
			return candles.Trade{Price: price, Volume0: fee, ForceCount: true}
		},
		record: feeRecord(database.FeeKindListing, e.meta, e.Payer.Hex(), collateral.Address, e.FeePaid, fee),
	}
}

// handleFeeTransfer: on-chain price, the transferred collateral is volume.
func handleFeeTransfer(e *FeeTransferEvent, collateral, lmkt *database.Token) handler {
	fee := candles.ToDecimal(e.Value, collateral.Decimals)

	return handler{
		request: onChain(e.meta.BlockNumber, collateral, lmkt),
		trade: func(price float64) candles.Trade {
			return candles.Trade{Price: price, Volume0: fee}
		},
		record: feeRecord(database.FeeKindTransfer, e.meta, e.From.Hex(), collateral.Address, e.Value, fee),
	}
}

func feeRecord(kind database.FeeKind, meta Meta, payer, token string, raw *big.Int, amount float64) func(context.Context, database.Tx, string, float64) error {
	return func(ctx context.Context, tx database.Tx, pairID string, _ float64) error {
		err := tx.InsertFee(ctx, &database.FeeRecord{
			ID:          meta.ID().String(),
			Kind:        kind,
			PairID:      pairID,
			Payer:       strings.ToLower(payer),
			Token:       token,
			AmountRaw:   database.BigIntToNumeric(raw),
			Amount:      amount,
			BlockNumber: meta.BlockNumber,
			Timestamp:   meta.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("failed to insert %s fee: %w", kind, err)
		}
		return nil
	}
}
