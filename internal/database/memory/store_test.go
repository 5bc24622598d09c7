package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmkt/candle-indexer/internal/database"
)

func TestInsertTokenKeepsFirstRecord(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	first, err := s.InsertToken(ctx, &database.Token{Address: "0xaa", Decimals: 6, Symbol: "USDC"})
	require.NoError(t, err)
	assert.Equal(t, int32(6), first.Decimals)

	second, err := s.InsertToken(ctx, &database.Token{Address: "0xaa", Decimals: 18, Symbol: "OTHER"})
	require.NoError(t, err)
	assert.Equal(t, int32(6), second.Decimals)
	assert.Equal(t, "USDC", second.Symbol)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.GetPair(ctx, "0xmissing")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = s.GetCandle(ctx, database.CandleKey{PairID: "0xp", Interval: 60, BucketStart: 0})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestInsertCandleReportsCreated(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	c := &database.Candle{PairID: "0xp", Interval: 60, BucketStart: 120, Open: 1, High: 1, Low: 1, Close: 1}
	_, created, err := s.InsertCandle(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)

	c2 := *c
	c2.Close = 9
	stored, created, err := s.InsertCandle(ctx, &c2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1.0, stored.Close)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	c := &database.Candle{PairID: "0xp", Interval: 60, BucketStart: 0, Close: 1}
	_, _, err := s.InsertCandle(ctx, c)
	require.NoError(t, err)

	c.Close = 42
	got, err := s.GetCandle(ctx, c.Key())
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Close)

	got.Close = 7
	again, err := s.GetCandle(ctx, c.Key())
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Close)
}

func TestSaveCandleRequiresExisting(t *testing.T) {
	s := NewStore()
	err := s.SaveCandle(context.Background(), &database.Candle{PairID: "0xp", Interval: 60})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	boom := errors.New("boom")
	id := database.EventID{TxHash: "0x01", LogIndex: 0}

	err := s.InTx(ctx, func(tx database.Tx) error {
		_, _, err := tx.InsertCandle(ctx, &database.Candle{PairID: "0xp", Interval: 60, BucketStart: 60})
		require.NoError(t, err)
		require.NoError(t, tx.MarkProcessed(ctx, id, 1))

		// read-your-writes inside the transaction
		processed, err := tx.IsProcessed(ctx, id)
		require.NoError(t, err)
		assert.True(t, processed)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	processed, err := s.IsProcessed(ctx, id)
	require.NoError(t, err)
	assert.False(t, processed)

	candles, err := s.ListCandles(ctx, "0xp", 60, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestInTxCommits(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.InTx(ctx, func(tx database.Tx) error {
		_, err := tx.InsertPair(ctx, &database.Pair{ID: "0xp", Token0: "0xa", Token1: "0xb"})
		return err
	})
	require.NoError(t, err)

	p, err := s.GetPair(ctx, "0xp")
	require.NoError(t, err)
	assert.Equal(t, "0xa", p.Token0)
}

func TestListCandlesOrderedAndBounded(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for _, b := range []int64{300, 60, 180, 120, 240} {
		_, _, err := s.InsertCandle(ctx, &database.Candle{PairID: "0xp", Interval: 60, BucketStart: b})
		require.NoError(t, err)
	}
	_, _, err := s.InsertCandle(ctx, &database.Candle{PairID: "0xp", Interval: 300, BucketStart: 0})
	require.NoError(t, err)

	all, err := s.ListCandles(ctx, "0xp", 60, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].BucketStart, all[i].BucketStart)
	}

	bounded, err := s.ListCandles(ctx, "0xp", 60, 120, 240)
	require.NoError(t, err)
	require.Len(t, bounded, 3)
	assert.Equal(t, int64(120), bounded[0].BucketStart)
	assert.Equal(t, int64(240), bounded[2].BucketStart)
}

func TestCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	cp, err := s.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Zero(t, cp)

	require.NoError(t, s.SetCheckpoint(ctx, 1234))
	cp, err = s.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), cp)
}
