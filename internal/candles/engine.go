// Package candles aggregates priced trades into OHLCV candles.
package candles

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/lmkt/candle-indexer/internal/config"
	"github.com/lmkt/candle-indexer/internal/database"
)

// Trade is one priced contribution to a candle series.
type Trade struct {
	Price   float64
	Volume0 float64
	Volume1 float64
	// ForceCount counts the trade even when both volumes are zero.
	ForceCount bool
}

func (t Trade) counts() bool {
	return t.ForceCount || t.Volume0 > 0 || t.Volume1 > 0
}

// Summary reports what one ApplyAll call wrote.
type Summary struct {
	Created    int
	Updated    int
	Backfilled int
}

// Engine applies trades to every configured interval of a pair. It holds no
// candle state; every call reads through the given Tx. Callers serialize
// writes for one pair.
type Engine struct {
	intervals  []int64
	tolerance  int64
	backfiller *Backfiller
	now        func() time.Time
	logger     zerolog.Logger
}

func NewEngine(cfg *config.CandlesConfig, logger zerolog.Logger) *Engine {
	intervals := cfg.Intervals
	if len(intervals) == 0 {
		intervals = config.DefaultIntervals
	}
	tolerance := int64(cfg.FutureTolerance / time.Second)
	if tolerance <= 0 {
		tolerance = DefaultFutureTolerance
	}
	return &Engine{
		intervals:  intervals,
		tolerance:  tolerance,
		backfiller: NewBackfiller(cfg.MaxBackfillSteps, logger),
		now:        time.Now,
		logger:     logger.With().Str("component", "candles").Logger(),
	}
}

func (e *Engine) Intervals() []int64 {
	return e.intervals
}

// EffectiveTime returns ts, or the wall clock when ts is further ahead than
// the future tolerance. A pair created from a clamped event must record this
// time so its creation bucket never lies after its first candle.
func (e *Engine) EffectiveTime(ts int64) int64 {
	now := e.now().Unix()
	if ts > now+e.tolerance {
		return now
	}
	return ts
}

// ApplyAll applies trade at timestamp to every interval, one after another,
// inside tx.
func (e *Engine) ApplyAll(ctx context.Context, tx database.Tx, pair *database.Pair, timestamp int64, trade Trade) (Summary, error) {
	var sum Summary
	now := e.now().Unix()
	for _, interval := range e.intervals {
		bucket := BucketStartAt(timestamp, interval, now, e.tolerance)
		created, backfilled, err := e.ApplyTrade(ctx, tx, pair, interval, bucket, trade)
		sum.Backfilled += backfilled
		if err != nil {
			return sum, fmt.Errorf("interval %d: %w", interval, err)
		}
		if created {
			sum.Created++
		} else {
			sum.Updated++
		}
	}
	return sum, nil
}

// ApplyTrade merges trade into the candle at (pair, interval, bucket),
// backfilling any gap before it first. It reports whether the candle was
// newly created and how many empty candles were backfilled.
func (e *Engine) ApplyTrade(ctx context.Context, tx database.Tx, pair *database.Pair, interval, bucket int64, trade Trade) (bool, int, error) {
	backfilled, err := e.backfiller.Backfill(ctx, tx, pair, interval, bucket)
	if err != nil {
		return false, backfilled, err
	}

	key := database.CandleKey{PairID: pair.ID, Interval: interval, BucketStart: bucket}
	candle, err := tx.GetCandle(ctx, key)
	switch {
	case errors.Is(err, database.ErrNotFound):
		created, err := e.create(ctx, tx, key, trade)
		return created, backfilled, err
	case err != nil:
		return false, backfilled, fmt.Errorf("failed to load candle %s: %w", key, err)
	}

	merge(candle, trade)
	if err := tx.SaveCandle(ctx, candle); err != nil {
		return false, backfilled, fmt.Errorf("failed to save candle %s: %w", key, err)
	}
	return false, backfilled, nil
}

func (e *Engine) create(ctx context.Context, tx database.Tx, key database.CandleKey, trade Trade) (bool, error) {
	open := trade.Price
	prev, err := tx.GetCandle(ctx, database.CandleKey{PairID: key.PairID, Interval: key.Interval, BucketStart: key.BucketStart - key.Interval})
	switch {
	case err == nil:
		open = prev.Close
	case !errors.Is(err, database.ErrNotFound):
		return false, fmt.Errorf("failed to load previous candle for %s: %w", key, err)
	}

	candle := &database.Candle{
		PairID:       key.PairID,
		Interval:     key.Interval,
		BucketStart:  key.BucketStart,
		Open:         open,
		High:         math.Max(open, trade.Price),
		Low:          math.Min(open, trade.Price),
		Close:        trade.Price,
		VolumeToken0: trade.Volume0,
		VolumeToken1: trade.Volume1,
	}
	if trade.counts() {
		candle.Trades = 1
	}

	stored, created, err := tx.InsertCandle(ctx, candle)
	if err != nil {
		return false, fmt.Errorf("failed to insert candle %s: %w", key, err)
	}
	if created {
		return true, nil
	}

	// Lost a race with another writer for this key; fold into its row.
	merge(stored, trade)
	if err := tx.SaveCandle(ctx, stored); err != nil {
		return false, fmt.Errorf("failed to save candle %s: %w", key, err)
	}
	return false, nil
}

func merge(c *database.Candle, trade Trade) {
	c.Close = trade.Price
	c.High = math.Max(c.High, trade.Price)
	c.Low = math.Min(c.Low, trade.Price)
	c.VolumeToken0 += trade.Volume0
	c.VolumeToken1 += trade.Volume1
	if trade.counts() {
		c.Trades++
	}
}
