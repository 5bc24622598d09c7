// Package registry creates Token and Pair records on first sight.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lmkt/candle-indexer/internal/database"
	"github.com/lmkt/candle-indexer/internal/rpc"
)

type Registry struct {
	metadata rpc.TokenMetadataReader
	logger   zerolog.Logger
}

// New returns a Registry. metadata may be nil, in which case new tokens get
// default decimals and an unknown symbol.
func New(metadata rpc.TokenMetadataReader, logger zerolog.Logger) *Registry {
	return &Registry{
		metadata: metadata,
		logger:   logger.With().Str("component", "registry").Logger(),
	}
}

// GetOrCreateToken returns the stored token for address, creating it when
// absent. An existing token is never modified.
func (r *Registry) GetOrCreateToken(ctx context.Context, tx database.Tx, address string) (*database.Token, error) {
	address = strings.ToLower(address)

	token, err := tx.GetToken(ctx, address)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to get token %s: %w", address, err)
	}

	token, err = tx.InsertToken(ctx, r.describe(ctx, address))
	if err != nil {
		return nil, fmt.Errorf("failed to insert token %s: %w", address, err)
	}
	return token, nil
}

// describe builds a new token record, reading metadata from chain when
// possible.
func (r *Registry) describe(ctx context.Context, address string) *database.Token {
	token := &database.Token{
		Address:  address,
		Decimals: database.DefaultDecimals,
		Symbol:   database.UnknownSymbol,
		Name:     database.UnknownSymbol,
	}
	if r.metadata == nil {
		return token
	}

	meta, err := r.metadata.ReadTokenMetadata(ctx, address)
	if err != nil {
		r.logger.Warn().Err(err).Str("token", address).Msg("Failed to read token metadata, using defaults")
		return token
	}
	if meta.Decimals >= 0 {
		token.Decimals = meta.Decimals
	}
	if meta.Symbol != "" {
		token.Symbol = meta.Symbol
	}
	if meta.Name != "" {
		token.Name = meta.Name
	}

	r.logger.Info().
		Str("token", address).
		Str("symbol", token.Symbol).
		Int32("decimals", token.Decimals).
		Msg("Registered token")
	return token
}

// GetOrCreatePair returns the stored pair for venue, creating it and both
// tokens when absent. The creation block and time are those of the first
// event seen; an existing pair keeps its tokens and creation time.
func (r *Registry) GetOrCreatePair(ctx context.Context, tx database.Tx, venue, token0, token1 string, blockNumber uint64, blockTimestamp int64) (*database.Pair, error) {
	venue = strings.ToLower(venue)

	pair, err := tx.GetPair(ctx, venue)
	if err == nil {
		return pair, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to get pair %s: %w", venue, err)
	}

	t0, err := r.GetOrCreateToken(ctx, tx, token0)
	if err != nil {
		return nil, err
	}
	t1, err := r.GetOrCreateToken(ctx, tx, token1)
	if err != nil {
		return nil, err
	}

	pair, err = tx.InsertPair(ctx, &database.Pair{
		ID:                 venue,
		Token0:             t0.Address,
		Token1:             t1.Address,
		CreatedAtBlock:     blockNumber,
		CreatedAtTimestamp: blockTimestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert pair %s: %w", venue, err)
	}

	r.logger.Info().
		Str("pair", pair.ID).
		Str("token0", pair.Token0).
		Str("token1", pair.Token1).
		Uint64("block", pair.CreatedAtBlock).
		Msg("Registered pair")
	return pair, nil
}
