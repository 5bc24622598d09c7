package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmkt/candle-indexer/internal/config"
	"github.com/lmkt/candle-indexer/internal/database/memory"
	"github.com/lmkt/candle-indexer/internal/metrics"
	"github.com/lmkt/candle-indexer/internal/modules/core"
)

var (
	contractA = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	contractB = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
	topicX    = common.HexToHash("0x01")
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fakeChain struct {
	mu             sync.Mutex
	head           uint64
	logs           []types.Log
	logFailures    int
	logCalls       int
	headerCalls    map[uint64]int
	timestampCalls int
	lastLogsQuery  ethereum.FilterQuery
}

func newFakeChain(head uint64, logs ...types.Log) *fakeChain {
	return &fakeChain{head: head, logs: logs, headerCalls: make(map[uint64]int)}
}

func (c *fakeChain) GetLatestBlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) GetLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logCalls++
	c.lastLogsQuery = q
	if c.logFailures > 0 {
		c.logFailures--
		return nil, errors.New("upstream timeout")
	}

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	var out []types.Log
	for _, l := range c.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (c *fakeChain) GetBlockTimestamps(_ context.Context, numbers []uint64) (map[uint64]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timestampCalls++
	out := make(map[uint64]int64, len(numbers))
	for _, n := range numbers {
		c.headerCalls[n]++
		out[n] = int64(1_700_000_000 + n*2)
	}
	return out, nil
}

type delivery struct {
	block     uint64
	index     uint
	timestamp int64
}

// fakeModule records deliveries per contract.
type fakeModule struct {
	mu        sync.Mutex
	delivered map[common.Address][]delivery
	fail      map[uint]error
}

func newFakeModule() *fakeModule {
	return &fakeModule{delivered: make(map[common.Address][]delivery), fail: make(map[uint]error)}
}

func (m *fakeModule) Name() string { return "fake" }

func (m *fakeModule) EventFilters() []core.EventFilter {
	return []core.EventFilter{
		{Address: contractA.Hex(), Topic0: topicX.Hex()},
		{Address: contractB.Hex(), Topic0: topicX.Hex()},
	}
}

func (m *fakeModule) PartitionKey(log *types.Log) string {
	return log.Address.Hex()
}

func (m *fakeModule) HandleEvent(_ context.Context, log *types.Log, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[log.Index]; err != nil {
		return err
	}
	m.delivered[log.Address] = append(m.delivered[log.Address], delivery{log.BlockNumber, log.Index, timestamp})
	return nil
}

func (m *fakeModule) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.delivered {
		n += len(d)
	}
	return n
}

func mkLog(addr common.Address, block uint64, index uint) types.Log {
	return types.Log{Address: addr, Topics: []common.Hash{topicX}, BlockNumber: block, Index: index}
}

func newTestIndexer(chain ChainSource, module core.Module, store Checkpointer, batch int) *Indexer {
	cfg := &config.Config{
		Chain:     config.ChainConfig{BlockTime: time.Millisecond},
		Processor: config.ProcessorConfig{BatchSize: batch, Workers: 2},
		Pricing:   config.PricingConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffMultiplier: 2},
	}
	idx := NewIndexer(cfg, chain, module, store, metrics.NewNop(), testLogger())
	idx.retryDelay = time.Millisecond
	idx.maxDelay = 4 * time.Millisecond
	return idx
}

func TestBuildQueryDeduplicates(t *testing.T) {
	q := buildQuery(newFakeModule().EventFilters())
	assert.Equal(t, []common.Address{contractA, contractB}, q.Addresses)
	require.Len(t, q.Topics, 1)
	assert.Equal(t, []common.Hash{topicX}, q.Topics[0])
}

func TestSyncOnceWalksBatches(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain(10,
		mkLog(contractA, 2, 0),
		mkLog(contractB, 2, 1),
		mkLog(contractA, 5, 0),
		mkLog(contractA, 9, 3),
	)
	module := newFakeModule()
	store := memory.NewStore()
	idx := newTestIndexer(chain, module, store, 4)

	caughtUp, err := idx.SyncOnce(ctx)
	require.NoError(t, err)
	assert.False(t, caughtUp)
	checkpoint, _ := store.GetCheckpoint(ctx)
	assert.Equal(t, uint64(4), checkpoint)
	assert.Equal(t, 2, module.count())

	_, err = idx.SyncOnce(ctx)
	require.NoError(t, err)
	caughtUp, err = idx.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, caughtUp)

	checkpoint, _ = store.GetCheckpoint(ctx)
	assert.Equal(t, uint64(10), checkpoint)
	assert.Equal(t, []delivery{
		{2, 0, 1_700_000_004},
		{5, 0, 1_700_000_010},
		{9, 3, 1_700_000_018},
	}, module.delivered[contractA])

	caughtUp, err = idx.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, caughtUp)
}

func TestPartitionKeepsChainOrder(t *testing.T) {
	idx := newTestIndexer(newFakeChain(0), newFakeModule(), memory.NewStore(), 10)

	removed := mkLog(contractB, 1, 9)
	removed.Removed = true
	partitions, order := idx.partition([]types.Log{
		mkLog(contractA, 3, 1),
		mkLog(contractB, 2, 0),
		mkLog(contractA, 3, 0),
		mkLog(contractA, 1, 5),
		removed,
	})

	assert.Equal(t, []string{contractA.Hex(), contractB.Hex()}, order)
	var got []string
	for _, l := range partitions[contractA.Hex()] {
		got = append(got, fmt.Sprintf("%d/%d", l.BlockNumber, l.Index))
	}
	assert.Equal(t, []string{"1/5", "3/0", "3/1"}, got)
	assert.Len(t, partitions[contractB.Hex()], 1)
}

func TestFailureHoldsCheckpoint(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain(5, mkLog(contractA, 1, 0), mkLog(contractB, 3, 7))
	module := newFakeModule()
	module.fail[7] = errors.New("price unavailable")
	store := memory.NewStore()
	idx := newTestIndexer(chain, module, store, 10)

	_, err := idx.SyncOnce(ctx)
	require.Error(t, err)
	checkpoint, _ := store.GetCheckpoint(ctx)
	assert.Zero(t, checkpoint)
	assert.Equal(t, uint64(0), idx.lastBlock.Load())

	delete(module.fail, 7)
	caughtUp, err := idx.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, caughtUp)
	checkpoint, _ = store.GetCheckpoint(ctx)
	assert.Equal(t, uint64(5), checkpoint)
	assert.Len(t, module.delivered[contractB], 1)
}

func TestMalformedEventDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain(3, mkLog(contractA, 1, 0), mkLog(contractA, 2, 1))
	module := newFakeModule()
	module.fail[0] = fmt.Errorf("%w: short data", core.ErrMalformedEvent)
	store := memory.NewStore()
	idx := newTestIndexer(chain, module, store, 10)

	_, err := idx.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []delivery{{2, 1, 1_700_000_004}}, module.delivered[contractA])
	checkpoint, _ := store.GetCheckpoint(ctx)
	assert.Equal(t, uint64(3), checkpoint)
}

func TestTransientLogFailureRetried(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain(2, mkLog(contractA, 1, 0))
	chain.logFailures = 2
	module := newFakeModule()
	idx := newTestIndexer(chain, module, memory.NewStore(), 10)

	_, err := idx.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, chain.logCalls)
	assert.Equal(t, 1, module.count())
	assert.Equal(t, uint64(1), chain.lastLogsQuery.FromBlock.Uint64())
	assert.Equal(t, uint64(2), chain.lastLogsQuery.ToBlock.Uint64())
}

func TestTimestampsFetchedOncePerBlock(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain(4,
		mkLog(contractA, 2, 0),
		mkLog(contractA, 2, 1),
		mkLog(contractB, 2, 2),
		mkLog(contractB, 4, 0),
	)
	idx := newTestIndexer(chain, newFakeModule(), memory.NewStore(), 10)

	_, err := idx.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, chain.timestampCalls)
	assert.Equal(t, 1, chain.headerCalls[2])
	assert.Equal(t, 1, chain.headerCalls[4])
	assert.Empty(t, idx.timestamps)
}

func TestResume(t *testing.T) {
	ctx := context.Background()

	t.Run("from checkpoint", func(t *testing.T) {
		store := memory.NewStore()
		require.NoError(t, store.SetCheckpoint(ctx, 42))
		idx := newTestIndexer(newFakeChain(100), newFakeModule(), store, 10)
		last, err := idx.resume(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), last)
	})

	t.Run("from configured block", func(t *testing.T) {
		idx := newTestIndexer(newFakeChain(100), newFakeModule(), memory.NewStore(), 10)
		idx.startBlock = 7
		last, err := idx.resume(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(6), last)
	})

	t.Run("from head", func(t *testing.T) {
		idx := newTestIndexer(newFakeChain(100), newFakeModule(), memory.NewStore(), 10)
		last, err := idx.resume(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), last)
	})
}

func TestGetStatus(t *testing.T) {
	idx := newTestIndexer(newFakeChain(250), newFakeModule(), memory.NewStore(), 10)
	idx.lastBlock.Store(100)
	_, err := idx.latest(context.Background())
	require.NoError(t, err)

	status := idx.GetStatus()
	assert.Equal(t, int64(150), status["behind_by"])
	assert.Equal(t, uint64(250), status["latest_block"])
	assert.Equal(t, true, status["syncing"])
}

func TestRunUntilCancelled(t *testing.T) {
	chain := newFakeChain(20, mkLog(contractA, 3, 0), mkLog(contractB, 17, 0))
	module := newFakeModule()
	store := memory.NewStore()
	idx := newTestIndexer(chain, module, store, 5)
	idx.startBlock = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- idx.Run(ctx) }()

	require.Eventually(t, func() bool {
		checkpoint, _ := store.GetCheckpoint(context.Background())
		return checkpoint == 20
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("indexer did not stop")
	}
	assert.Equal(t, 2, module.count())
}

func (m *fakeModule) setFailure(index uint, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, index)
		return
	}
	m.fail[index] = err
}

func consecutiveErrors(idx *Indexer) int64 {
	n, _ := idx.GetStatus()["consecutive_errors"].(int64)
	return n
}

func TestRunKeepsRetryingFailedSyncs(t *testing.T) {
	chain := newFakeChain(5, mkLog(contractA, 1, 0), mkLog(contractB, 3, 7))
	module := newFakeModule()
	module.setFailure(7, errors.New("price unavailable"))
	store := memory.NewStore()
	idx := newTestIndexer(chain, module, store, 10)
	idx.startBlock = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- idx.Run(ctx) }()

	require.Eventually(t, func() bool {
		return consecutiveErrors(idx) >= 15
	}, 5*time.Second, time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("indexer stopped after repeated failures: %v", err)
	default:
	}

	status := idx.GetStatus()
	assert.Contains(t, status["last_error"], "price unavailable")
	checkpoint, _ := store.GetCheckpoint(context.Background())
	assert.Zero(t, checkpoint)

	module.setFailure(7, nil)
	require.Eventually(t, func() bool {
		checkpoint, _ := store.GetCheckpoint(context.Background())
		return checkpoint == 5
	}, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return consecutiveErrors(idx) == 0
	}, time.Second, time.Millisecond)
	assert.NotContains(t, idx.GetStatus(), "last_error")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("indexer did not stop")
	}
}

func TestBackoffIsCapped(t *testing.T) {
	idx := newTestIndexer(newFakeChain(0), newFakeModule(), memory.NewStore(), 10)
	idx.retryDelay = time.Second
	idx.maxDelay = 10 * time.Second

	assert.Equal(t, time.Second, idx.backoff(1))
	assert.Equal(t, 2*time.Second, idx.backoff(2))
	assert.Equal(t, 8*time.Second, idx.backoff(4))
	assert.Equal(t, 10*time.Second, idx.backoff(5))
	assert.Equal(t, 10*time.Second, idx.backoff(1000))
}
