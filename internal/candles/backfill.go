package candles

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lmkt/candle-indexer/internal/database"
)

// DefaultMaxBackfillSteps bounds how many buckets Backfill walks back.
const DefaultMaxBackfillSteps = 1000

// Backfiller materializes zero-volume candles between the latest stored
// candle and a new bucket so a series never has holes.
type Backfiller struct {
	maxSteps int
	logger   zerolog.Logger
}

func NewBackfiller(maxSteps int, logger zerolog.Logger) *Backfiller {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxBackfillSteps
	}
	return &Backfiller{
		maxSteps: maxSteps,
		logger:   logger.With().Str("component", "backfill").Logger(),
	}
}

// Backfill finds the nearest stored candle before target (the anchor) and
// fills every missing bucket after it, up to but excluding target, with the
// anchor's close. The walk stops at the pair's creation bucket or after
// maxSteps buckets; with no anchor it does nothing. Already existing buckets
// are left untouched, so a rerun after a partial write is safe. It returns
// the number of candles created.
func (b *Backfiller) Backfill(ctx context.Context, tx database.Tx, pair *database.Pair, interval, target int64) (int, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("invalid interval %d", interval)
	}

	floor := align(pair.CreatedAtTimestamp, interval)

	var anchor *database.Candle
	bucket := target - interval
	for step := 0; step < b.maxSteps && bucket >= floor; step++ {
		c, err := tx.GetCandle(ctx, database.CandleKey{PairID: pair.ID, Interval: interval, BucketStart: bucket})
		if err == nil {
			anchor = c
			break
		}
		if !errors.Is(err, database.ErrNotFound) {
			return 0, fmt.Errorf("failed to load candle at %d: %w", bucket, err)
		}
		bucket -= interval
	}

	if anchor == nil {
		return 0, nil
	}

	created := 0
	for bucket := anchor.BucketStart + interval; bucket < target; bucket += interval {
		_, ok, err := tx.InsertCandle(ctx, &database.Candle{
			PairID:      pair.ID,
			Interval:    interval,
			BucketStart: bucket,
			Open:        anchor.Close,
			High:        anchor.Close,
			Low:         anchor.Close,
			Close:       anchor.Close,
		})
		if err != nil {
			return created, fmt.Errorf("failed to insert backfill candle at %d: %w", bucket, err)
		}
		if ok {
			created++
		}
	}

	if created > 0 {
		b.logger.Debug().
			Str("pair", pair.ID).
			Int64("interval", interval).
			Int64("from", anchor.BucketStart+interval).
			Int64("to", target-interval).
			Int("created", created).
			Msg("Backfilled empty candles")
	}

	return created, nil
}
