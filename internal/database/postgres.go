package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lmkt/candle-indexer/internal/config"
)

// Database is the Postgres implementation of Store.
type Database struct {
	*repository
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var _ Store = (*Database)(nil)

func New(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*Database, error) {
	connString := cfg.ConnectionString()

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Msg("Connected to database")

	return &Database{
		repository: &repository{q: pool},
		pool:       pool,
		logger:     logger.With().Str("component", "database").Logger(),
	}, nil
}

func (db *Database) Close() {
	db.pool.Close()
	db.logger.Info().Msg("Database connection closed")
}

func (db *Database) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// InTx executes fn within a database transaction.
func (db *Database) InTx(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				db.logger.Error().Err(rbErr).Msg("Failed to rollback transaction")
			}
		}
	}()

	if err = fn(&repository{q: tx}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetCheckpoint returns the last block whose events were fully processed.
func (db *Database) GetCheckpoint(ctx context.Context) (uint64, error) {
	var blockNumber uint64
	err := db.pool.QueryRow(ctx, `SELECT last_block_number FROM indexer_state WHERE id = 1`).Scan(&blockNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return blockNumber, nil
}

// SetCheckpoint records the last fully processed block.
func (db *Database) SetCheckpoint(ctx context.Context, blockNumber uint64) error {
	query := `
		INSERT INTO indexer_state (id, last_block_number, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			last_block_number = EXCLUDED.last_block_number,
			updated_at = NOW()`

	if _, err := db.pool.Exec(ctx, query, blockNumber); err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}

// ListCandles serves a pair's interval series in ascending bucket order.
func (db *Database) ListCandles(ctx context.Context, pairID string, interval int64, from, to int64) ([]*Candle, error) {
	query := `
		SELECT pair_id, interval_seconds, bucket_start, open, high, low, close,
		       volume_token0, volume_token1, trades
		FROM candles
		WHERE pair_id = $1 AND interval_seconds = $2
		  AND ($3::bigint = 0 OR bucket_start >= $3::bigint)
		  AND ($4::bigint = 0 OR bucket_start <= $4::bigint)
		ORDER BY bucket_start ASC`

	rows, err := db.pool.Query(ctx, query, pairID, interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list candles: %w", err)
	}
	defer rows.Close()

	var candles []*Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(
			&c.PairID, &c.Interval, &c.BucketStart,
			&c.Open, &c.High, &c.Low, &c.Close,
			&c.VolumeToken0, &c.VolumeToken1, &c.Trades,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return candles, nil
}
