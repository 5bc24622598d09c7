package memory

import (
	"context"
	"fmt"

	"github.com/lmkt/candle-indexer/internal/database"
)

// view reads staged rows first and falls back to the committed tables.
// When staged and base are the same tables every write is immediate.
type view struct {
	base   *tables
	staged *tables
}

var _ database.Tx = (*view)(nil)

func (v *view) commit() {
	if v.staged == v.base {
		return
	}
	for k, t := range v.staged.tokens {
		v.base.tokens[k] = t
	}
	for k, p := range v.staged.pairs {
		v.base.pairs[k] = p
	}
	for k, c := range v.staged.candles {
		v.base.candles[k] = c
	}
	for k, f := range v.staged.fees {
		v.base.fees[k] = f
	}
	for k, p := range v.staged.purchases {
		v.base.purchases[k] = p
	}
	for k, b := range v.staged.processed {
		v.base.processed[k] = b
	}
}

func (v *view) token(address string) (*database.Token, bool) {
	if t, ok := v.staged.tokens[address]; ok {
		return t, true
	}
	t, ok := v.base.tokens[address]
	return t, ok
}

func (v *view) GetToken(_ context.Context, address string) (*database.Token, error) {
	t, ok := v.token(address)
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (v *view) InsertToken(_ context.Context, token *database.Token) (*database.Token, error) {
	if existing, ok := v.token(token.Address); ok {
		cp := *existing
		return &cp, nil
	}
	stored := *token
	v.staged.tokens[token.Address] = &stored
	cp := stored
	return &cp, nil
}

func (v *view) pair(id string) (*database.Pair, bool) {
	if p, ok := v.staged.pairs[id]; ok {
		return p, true
	}
	p, ok := v.base.pairs[id]
	return p, ok
}

func (v *view) GetPair(_ context.Context, id string) (*database.Pair, error) {
	p, ok := v.pair(id)
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (v *view) InsertPair(_ context.Context, pair *database.Pair) (*database.Pair, error) {
	if existing, ok := v.pair(pair.ID); ok {
		cp := *existing
		return &cp, nil
	}
	stored := *pair
	v.staged.pairs[pair.ID] = &stored
	cp := stored
	return &cp, nil
}

func (v *view) candle(key database.CandleKey) (*database.Candle, bool) {
	if c, ok := v.staged.candles[key]; ok {
		return c, true
	}
	c, ok := v.base.candles[key]
	return c, ok
}

func (v *view) GetCandle(_ context.Context, key database.CandleKey) (*database.Candle, error) {
	c, ok := v.candle(key)
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (v *view) InsertCandle(_ context.Context, candle *database.Candle) (*database.Candle, bool, error) {
	if existing, ok := v.candle(candle.Key()); ok {
		cp := *existing
		return &cp, false, nil
	}
	stored := *candle
	v.staged.candles[candle.Key()] = &stored
	cp := stored
	return &cp, true, nil
}

func (v *view) SaveCandle(_ context.Context, candle *database.Candle) error {
	if _, ok := v.candle(candle.Key()); !ok {
		return fmt.Errorf("failed to save candle %s: %w", candle.Key(), database.ErrNotFound)
	}
	stored := *candle
	v.staged.candles[candle.Key()] = &stored
	return nil
}

func (v *view) InsertFee(_ context.Context, fee *database.FeeRecord) error {
	if _, ok := v.staged.fees[fee.ID]; ok {
		return nil
	}
	if _, ok := v.base.fees[fee.ID]; ok {
		return nil
	}
	stored := *fee
	v.staged.fees[fee.ID] = &stored
	return nil
}

func (v *view) InsertPurchase(_ context.Context, purchase *database.PurchaseRecord) error {
	if _, ok := v.staged.purchases[purchase.ID]; ok {
		return nil
	}
	if _, ok := v.base.purchases[purchase.ID]; ok {
		return nil
	}
	stored := *purchase
	v.staged.purchases[purchase.ID] = &stored
	return nil
}

func (v *view) IsProcessed(_ context.Context, id database.EventID) (bool, error) {
	if _, ok := v.staged.processed[id]; ok {
		return true, nil
	}
	_, ok := v.base.processed[id]
	return ok, nil
}

func (v *view) MarkProcessed(_ context.Context, id database.EventID, blockNumber uint64) error {
	if ok, _ := v.IsProcessed(context.Background(), id); ok {
		return nil
	}
	v.staged.processed[id] = blockNumber
	return nil
}
