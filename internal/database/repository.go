package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// repository implements Tx on top of a pool or an open transaction.
type repository struct {
	q querier
}

var _ Tx = (*repository)(nil)

func (r *repository) GetToken(ctx context.Context, address string) (*Token, error) {
	var t Token
	err := r.q.QueryRow(ctx, `
		SELECT address, decimals, symbol, name
		FROM tokens
		WHERE address = $1`, address).Scan(&t.Address, &t.Decimals, &t.Symbol, &t.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get token %s: %w", address, err)
	}
	return &t, nil
}

func (r *repository) InsertToken(ctx context.Context, token *Token) (*Token, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO tokens (address, decimals, symbol, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO NOTHING`,
		token.Address, token.Decimals, token.Symbol, token.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to insert token %s: %w", token.Address, err)
	}
	return r.GetToken(ctx, token.Address)
}

func (r *repository) GetPair(ctx context.Context, id string) (*Pair, error) {
	var p Pair
	err := r.q.QueryRow(ctx, `
		SELECT id, token0, token1, created_at_block, created_at_timestamp
		FROM pairs
		WHERE id = $1`, id).Scan(&p.ID, &p.Token0, &p.Token1, &p.CreatedAtBlock, &p.CreatedAtTimestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pair %s: %w", id, err)
	}
	return &p, nil
}

func (r *repository) InsertPair(ctx context.Context, pair *Pair) (*Pair, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO pairs (id, token0, token1, created_at_block, created_at_timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		pair.ID, pair.Token0, pair.Token1, pair.CreatedAtBlock, pair.CreatedAtTimestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to insert pair %s: %w", pair.ID, err)
	}
	return r.GetPair(ctx, pair.ID)
}

func (r *repository) GetCandle(ctx context.Context, key CandleKey) (*Candle, error) {
	var c Candle
	err := r.q.QueryRow(ctx, `
		SELECT pair_id, interval_seconds, bucket_start, open, high, low, close,
		       volume_token0, volume_token1, trades
		FROM candles
		WHERE pair_id = $1 AND interval_seconds = $2 AND bucket_start = $3`,
		key.PairID, key.Interval, key.BucketStart).Scan(
		&c.PairID, &c.Interval, &c.BucketStart,
		&c.Open, &c.High, &c.Low, &c.Close,
		&c.VolumeToken0, &c.VolumeToken1, &c.Trades,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get candle %s: %w", key, err)
	}
	return &c, nil
}

func (r *repository) InsertCandle(ctx context.Context, candle *Candle) (*Candle, bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO candles (
			pair_id, interval_seconds, bucket_start, open, high, low, close,
			volume_token0, volume_token1, trades
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (pair_id, interval_seconds, bucket_start) DO NOTHING`,
		candle.PairID, candle.Interval, candle.BucketStart,
		candle.Open, candle.High, candle.Low, candle.Close,
		candle.VolumeToken0, candle.VolumeToken1, candle.Trades,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert candle %s: %w", candle.Key(), err)
	}

	stored, err := r.GetCandle(ctx, candle.Key())
	if err != nil {
		return nil, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

func (r *repository) SaveCandle(ctx context.Context, candle *Candle) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE candles
		SET open = $4, high = $5, low = $6, close = $7,
		    volume_token0 = $8, volume_token1 = $9, trades = $10,
		    updated_at = NOW()
		WHERE pair_id = $1 AND interval_seconds = $2 AND bucket_start = $3`,
		candle.PairID, candle.Interval, candle.BucketStart,
		candle.Open, candle.High, candle.Low, candle.Close,
		candle.VolumeToken0, candle.VolumeToken1, candle.Trades,
	)
	if err != nil {
		return fmt.Errorf("failed to save candle %s: %w", candle.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to save candle %s: %w", candle.Key(), ErrNotFound)
	}
	return nil
}

func (r *repository) InsertFee(ctx context.Context, fee *FeeRecord) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO fees (id, kind, pair_id, payer, token, amount_raw, amount, block_number, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		fee.ID, string(fee.Kind), fee.PairID, fee.Payer, fee.Token,
		fee.AmountRaw, fee.Amount, fee.BlockNumber, fee.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert fee %s: %w", fee.ID, err)
	}
	return nil
}

func (r *repository) InsertPurchase(ctx context.Context, purchase *PurchaseRecord) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO purchases (id, pair_id, buyer, seller, listing_id, amount_raw, amount, price, block_number, timestamp)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		purchase.ID, purchase.PairID, purchase.Buyer, purchase.Seller, purchase.ListingID,
		purchase.AmountRaw, purchase.Amount, purchase.Price, purchase.BlockNumber, purchase.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert purchase %s: %w", purchase.ID, err)
	}
	return nil
}

func (r *repository) IsProcessed(ctx context.Context, id EventID) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_events WHERE transaction_hash = $1 AND log_index = $2)`,
		id.TxHash, id.LogIndex).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event %s: %w", id, err)
	}
	return exists, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id EventID, blockNumber uint64) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO processed_events (transaction_hash, log_index, block_number)
		VALUES ($1, $2, $3)
		ON CONFLICT (transaction_hash, log_index) DO NOTHING`,
		id.TxHash, id.LogIndex, blockNumber)
	if err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", id, err)
	}
	return nil
}
