// Package memory is an in-process implementation of database.Store used by
// tests and by the indexer when database.driver is "memory".
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/lmkt/candle-indexer/internal/database"
)

type tables struct {
	tokens     map[string]*database.Token
	pairs      map[string]*database.Pair
	candles    map[database.CandleKey]*database.Candle
	fees       map[string]*database.FeeRecord
	purchases  map[string]*database.PurchaseRecord
	processed  map[database.EventID]uint64
	checkpoint uint64
}

func newTables() *tables {
	return &tables{
		tokens:    make(map[string]*database.Token),
		pairs:     make(map[string]*database.Pair),
		candles:   make(map[database.CandleKey]*database.Candle),
		fees:      make(map[string]*database.FeeRecord),
		purchases: make(map[string]*database.PurchaseRecord),
		processed: make(map[database.EventID]uint64),
	}
}

// Store keeps every table in maps guarded by one mutex. A transaction holds
// the mutex for its whole duration and stages writes until commit.
type Store struct {
	mu   sync.Mutex
	data *tables
}

var _ database.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{data: newTables()}
}

// InTx runs fn against a staging view and merges the staged writes only if
// fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(database.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := &view{base: s.data, staged: newTables()}
	if err := fn(v); err != nil {
		return err
	}
	v.commit()
	return nil
}

// direct returns a view that writes straight into the committed tables.
// Callers must hold s.mu.
func (s *Store) direct() *view {
	return &view{base: s.data, staged: s.data}
}

func (s *Store) GetToken(ctx context.Context, address string) (*database.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().GetToken(ctx, address)
}

func (s *Store) InsertToken(ctx context.Context, token *database.Token) (*database.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertToken(ctx, token)
}

func (s *Store) GetPair(ctx context.Context, id string) (*database.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().GetPair(ctx, id)
}

func (s *Store) InsertPair(ctx context.Context, pair *database.Pair) (*database.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertPair(ctx, pair)
}

func (s *Store) GetCandle(ctx context.Context, key database.CandleKey) (*database.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().GetCandle(ctx, key)
}

func (s *Store) InsertCandle(ctx context.Context, candle *database.Candle) (*database.Candle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertCandle(ctx, candle)
}

func (s *Store) SaveCandle(ctx context.Context, candle *database.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().SaveCandle(ctx, candle)
}

func (s *Store) InsertFee(ctx context.Context, fee *database.FeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertFee(ctx, fee)
}

func (s *Store) InsertPurchase(ctx context.Context, purchase *database.PurchaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertPurchase(ctx, purchase)
}

func (s *Store) IsProcessed(ctx context.Context, id database.EventID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().IsProcessed(ctx, id)
}

func (s *Store) MarkProcessed(ctx context.Context, id database.EventID, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().MarkProcessed(ctx, id, blockNumber)
}

func (s *Store) ListCandles(_ context.Context, pairID string, interval int64, from, to int64) ([]*database.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*database.Candle
	for key, c := range s.data.candles {
		if key.PairID != pairID || key.Interval != interval {
			continue
		}
		if from != 0 && key.BucketStart < from {
			continue
		}
		if to != 0 && key.BucketStart > to {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].BucketStart < out[j].BucketStart
	})
	return out, nil
}

// Fees returns every recorded fee, for inspection in tests.
func (s *Store) Fees() []database.FeeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]database.FeeRecord, 0, len(s.data.fees))
	for _, f := range s.data.fees {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Purchases returns every recorded purchase, for inspection in tests.
func (s *Store) Purchases() []database.PurchaseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]database.PurchaseRecord, 0, len(s.data.purchases))
	for _, p := range s.data.purchases {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) GetCheckpoint(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.checkpoint, nil
}

func (s *Store) SetCheckpoint(_ context.Context, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.checkpoint = blockNumber
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}
