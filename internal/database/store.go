package database

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Tx is the storage port used while processing one event. All methods are
// read-your-writes within the same Tx. Insert* methods are atomic
// create-if-absent: when a record with the same key already exists, the
// stored record is returned unchanged.
type Tx interface {
	GetToken(ctx context.Context, address string) (*Token, error)
	InsertToken(ctx context.Context, token *Token) (*Token, error)

	GetPair(ctx context.Context, id string) (*Pair, error)
	InsertPair(ctx context.Context, pair *Pair) (*Pair, error)

	GetCandle(ctx context.Context, key CandleKey) (*Candle, error)
	// InsertCandle reports created=false when the key was already present.
	InsertCandle(ctx context.Context, candle *Candle) (stored *Candle, created bool, err error)
	SaveCandle(ctx context.Context, candle *Candle) error

	InsertFee(ctx context.Context, fee *FeeRecord) error
	InsertPurchase(ctx context.Context, purchase *PurchaseRecord) error

	IsProcessed(ctx context.Context, id EventID) (bool, error)
	MarkProcessed(ctx context.Context, id EventID, blockNumber uint64) error
}

// Store is a Tx that can also open transactions and serve reads for
// the chart query surface.
type Store interface {
	Tx

	// InTx runs fn in a single transaction. If fn returns an error nothing
	// it wrote is kept.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// ListCandles returns a pair's series for one interval ordered by
	// bucket start. A zero from/to leaves that side unbounded.
	ListCandles(ctx context.Context, pairID string, interval int64, from, to int64) ([]*Candle, error)

	GetCheckpoint(ctx context.Context) (uint64, error)
	SetCheckpoint(ctx context.Context, blockNumber uint64) error

	Close()
}
