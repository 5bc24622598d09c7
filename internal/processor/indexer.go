package processor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lmkt/candle-indexer/internal/config"
	"github.com/lmkt/candle-indexer/internal/metrics"
	"github.com/lmkt/candle-indexer/internal/modules/core"
	"github.com/lmkt/candle-indexer/internal/pricing"
)

// ChainSource is the slice of the RPC client the indexer polls.
type ChainSource interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	GetBlockTimestamps(ctx context.Context, numbers []uint64) (map[uint64]int64, error)
}

// Checkpointer persists the last block whose logs were fully handled.
type Checkpointer interface {
	GetCheckpoint(ctx context.Context) (uint64, error)
	SetCheckpoint(ctx context.Context, blockNumber uint64) error
}


// Indexer polls the chain for the module's logs in block ranges and hands
// them over in order. Logs of different partitions run concurrently; the
// checkpoint only moves once every log of a range has been handled.
type Indexer struct {
	chain       ChainSource
	module      core.Module
	checkpoints Checkpointer
	metrics     *metrics.Metrics

	batchSize  uint64
	workers    int
	startBlock uint64
	blockTime  time.Duration
	retryDelay time.Duration
	maxDelay   time.Duration
	policy     pricing.RetryPolicy

	query ethereum.FilterQuery

	tsMu       sync.Mutex
	timestamps map[uint64]int64

	lastBlock   atomic.Uint64
	latestBlock atomic.Uint64

	errMu             sync.Mutex
	consecutiveErrors int64
	lastError         string

	logger zerolog.Logger
}

func NewIndexer(cfg *config.Config, chain ChainSource, module core.Module, checkpoints Checkpointer, m *metrics.Metrics, logger zerolog.Logger) *Indexer {
	if m == nil {
		m = metrics.NewNop()
	}

	batchSize := uint64(500)
	if cfg.Processor.BatchSize > 0 {
		batchSize = uint64(cfg.Processor.BatchSize)
	}
	workers := 1
	if cfg.Processor.Workers > 0 {
		workers = cfg.Processor.Workers
	}
	blockTime := cfg.Chain.BlockTime
	if blockTime <= 0 {
		blockTime = 2 * time.Second
	}

	return &Indexer{
		chain:       chain,
		module:      module,
		checkpoints: checkpoints,
		metrics:     m,
		batchSize:   batchSize,
		workers:     workers,
		startBlock:  cfg.Chain.StartBlock,
		blockTime:   blockTime,
		retryDelay:  5 * time.Second,
		maxDelay:    2 * time.Minute,
		policy:      pricing.RetryPolicyFromConfig(&cfg.Pricing),
		query:       buildQuery(module.EventFilters()),
		timestamps:  make(map[uint64]int64),
		logger:      logger.With().Str("component", "indexer").Logger(),
	}
}

// buildQuery folds the module's filters into a single eth_getLogs query.
// The query is the address x topic cross product; modules drop the
// combinations they did not ask for.
func buildQuery(filters []core.EventFilter) ethereum.FilterQuery {
	seenAddr := make(map[common.Address]bool)
	seenTopic := make(map[common.Hash]bool)
	var addresses []common.Address
	var topics []common.Hash

	for _, f := range filters {
		addr := common.HexToAddress(f.Address)
		if !seenAddr[addr] {
			seenAddr[addr] = true
			addresses = append(addresses, addr)
		}
		topic := common.HexToHash(f.Topic0)
		if !seenTopic[topic] {
			seenTopic[topic] = true
			topics = append(topics, topic)
		}
	}

	return ethereum.FilterQuery{
		Addresses: addresses,
		Topics:    [][]common.Hash{topics},
	}
}

// Run polls until ctx is cancelled. Failed syncs are retried with a capped
// exponential backoff and surface through GetStatus and the metrics.
func (i *Indexer) Run(ctx context.Context) error {
	i.logger.Info().
		Str("module", i.module.Name()).
		Uint64("batch_size", i.batchSize).
		Int("workers", i.workers).
		Msg("Starting indexer")

	last, err := i.resume(ctx)
	if err != nil {
		return err
	}
	i.lastBlock.Store(last)

	for {
		if ctx.Err() != nil {
			i.logger.Info().Msg("Indexer stopped")
			return nil
		}

		caughtUp, err := i.SyncOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				i.logger.Info().Msg("Indexer stopped")
				return nil
			}
			failures := i.recordFailure(err)
			delay := i.backoff(failures)
			i.logger.Error().
				Err(err).
				Int64("consecutive_errors", failures).
				Dur("retry_in", delay).
				Msg("Sync failed")
			sleep(ctx, delay)
			continue
		}
		i.recordSuccess()

		if caughtUp {
			sleep(ctx, i.blockTime)
		}
	}
}

func (i *Indexer) recordFailure(err error) int64 {
	i.errMu.Lock()
	defer i.errMu.Unlock()
	i.consecutiveErrors++
	i.lastError = err.Error()
	i.metrics.SyncFailures.Inc()
	i.metrics.ConsecutiveSyncErrors.Set(float64(i.consecutiveErrors))
	return i.consecutiveErrors
}

func (i *Indexer) recordSuccess() {
	i.errMu.Lock()
	defer i.errMu.Unlock()
	if i.consecutiveErrors > 0 {
		i.logger.Info().Int64("after_errors", i.consecutiveErrors).Msg("Sync recovered")
	}
	i.consecutiveErrors = 0
	i.lastError = ""
	i.metrics.ConsecutiveSyncErrors.Set(0)
}

// backoff doubles retryDelay per consecutive failure, up to maxDelay.
func (i *Indexer) backoff(failures int64) time.Duration {
	delay := i.retryDelay
	for n := int64(1); n < failures && delay < i.maxDelay; n++ {
		delay *= 2
	}
	if delay > i.maxDelay {
		delay = i.maxDelay
	}
	return delay
}

// resume returns the block to continue after.
func (i *Indexer) resume(ctx context.Context) (uint64, error) {
	last, err := i.checkpoints.GetCheckpoint(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	if last > 0 {
		i.logger.Info().Uint64("block", last).Msg("Resuming from checkpoint")
		return last, nil
	}

	if i.startBlock > 0 {
		i.logger.Info().Uint64("block", i.startBlock).Msg("Starting from configured block")
		return i.startBlock - 1, nil
	}

	latest, err := i.latest(ctx)
	if err != nil {
		return 0, err
	}
	i.logger.Info().Uint64("block", latest).Msg("Starting from latest block")
	return latest, nil
}

// SyncOnce handles the next batch of blocks after the last handled one and
// reports whether the indexer has reached the chain head.
func (i *Indexer) SyncOnce(ctx context.Context) (bool, error) {
	latest, err := i.latest(ctx)
	if err != nil {
		return false, err
	}

	last := i.lastBlock.Load()
	if last >= latest {
		i.logger.Debug().
			Uint64("current", last).
			Uint64("latest", latest).
			Msg("Caught up with chain")
		return true, nil
	}

	from := last + 1
	to := from + i.batchSize - 1
	if to > latest {
		to = latest
	}

	start := time.Now()
	handled, err := i.ProcessRange(ctx, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to process blocks %d-%d: %w", from, to, err)
	}

	if err := i.checkpoints.SetCheckpoint(ctx, to); err != nil {
		return false, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	i.lastBlock.Store(to)
	i.metrics.LastProcessedBlock.Set(float64(to))

	i.logger.Info().
		Uint64("from", from).
		Uint64("to", to).
		Int("logs", handled).
		Uint64("lag", latest-to).
		Dur("duration", time.Since(start)).
		Msg("Blocks processed")

	return to >= latest, nil
}

// ProcessRange fetches and handles the logs of blocks [from, to]. It
// returns the number of logs handed to the module.
func (i *Indexer) ProcessRange(ctx context.Context, from, to uint64) (int, error) {
	defer i.resetTimestamps()

	query := i.query
	query.FromBlock = newBlock(from)
	query.ToBlock = newBlock(to)

	logs, err := pricing.Retry(ctx, i.policy, func(ctx context.Context) ([]types.Log, error) {
		return i.chain.GetLogs(ctx, query)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get logs: %w", err)
	}

	partitions, order := i.partition(logs)
	if len(order) == 0 {
		return 0, nil
	}

	if err := i.prefetchTimestamps(ctx, logs); err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)
	for _, key := range order {
		batch := partitions[key]
		key := key
		g.Go(func() error {
			return i.handlePartition(gctx, key, batch)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	return len(logs), nil
}

// partition groups logs by module partition, keeping chain order inside
// each group.
func (i *Indexer) partition(logs []types.Log) (map[string][]*types.Log, []string) {
	sort.SliceStable(logs, func(a, b int) bool {
		if logs[a].BlockNumber != logs[b].BlockNumber {
			return logs[a].BlockNumber < logs[b].BlockNumber
		}
		return logs[a].Index < logs[b].Index
	})

	partitions := make(map[string][]*types.Log)
	var order []string
	for n := range logs {
		log := &logs[n]
		if log.Removed {
			continue
		}
		key := i.module.PartitionKey(log)
		if _, ok := partitions[key]; !ok {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], log)
	}
	return partitions, order
}

func (i *Indexer) handlePartition(ctx context.Context, key string, logs []*types.Log) error {
	for _, log := range logs {
		timestamp, err := i.blockTimestamp(ctx, log.BlockNumber)
		if err != nil {
			return err
		}

		err = i.module.HandleEvent(ctx, log, timestamp)
		if errors.Is(err, core.ErrMalformedEvent) {
			continue
		}
		if err != nil {
			return fmt.Errorf("partition %s: %w", key, err)
		}
	}
	return nil
}

// prefetchTimestamps loads the header time of every block in logs with
// one batched fetch.
func (i *Indexer) prefetchTimestamps(ctx context.Context, logs []types.Log) error {
	seen := make(map[uint64]bool)
	var numbers []uint64
	for n := range logs {
		block := logs[n].BlockNumber
		if !seen[block] {
			seen[block] = true
			numbers = append(numbers, block)
		}
	}
	return i.fetchTimestamps(ctx, numbers)
}

func (i *Indexer) fetchTimestamps(ctx context.Context, numbers []uint64) error {
	fetched, err := pricing.Retry(ctx, i.policy, func(ctx context.Context) (map[uint64]int64, error) {
		return i.chain.GetBlockTimestamps(ctx, numbers)
	})
	if err != nil {
		return fmt.Errorf("failed to get block timestamps: %w", err)
	}

	i.tsMu.Lock()
	for n, ts := range fetched {
		i.timestamps[n] = ts
	}
	i.tsMu.Unlock()
	return nil
}

// blockTimestamp returns a block's time from the range cache, fetching it
// when the block was not prefetched.
func (i *Indexer) blockTimestamp(ctx context.Context, number uint64) (int64, error) {
	i.tsMu.Lock()
	ts, ok := i.timestamps[number]
	i.tsMu.Unlock()
	if ok {
		return ts, nil
	}

	if err := i.fetchTimestamps(ctx, []uint64{number}); err != nil {
		return 0, err
	}

	i.tsMu.Lock()
	ts, ok = i.timestamps[number]
	i.tsMu.Unlock()
	if !ok {
		return 0, fmt.Errorf("no timestamp for block %d", number)
	}
	return ts, nil
}

func (i *Indexer) resetTimestamps() {
	i.tsMu.Lock()
	i.timestamps = make(map[uint64]int64)
	i.tsMu.Unlock()
}

func (i *Indexer) latest(ctx context.Context) (uint64, error) {
	latest, err := pricing.Retry(ctx, i.policy, i.chain.GetLatestBlockNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	i.latestBlock.Store(latest)
	i.metrics.ChainHead.Set(float64(latest))
	return latest, nil
}

// GetStatus returns the current sync progress.
func (i *Indexer) GetStatus() map[string]interface{} {
	last := i.lastBlock.Load()
	latest := i.latestBlock.Load()

	var behind int64
	if latest > last {
		behind = int64(latest - last)
	}

	i.errMu.Lock()
	failures, lastError := i.consecutiveErrors, i.lastError
	i.errMu.Unlock()

	status := map[string]interface{}{
		"module":             i.module.Name(),
		"last_indexed_block": last,
		"latest_block":       latest,
		"behind_by":          behind,
		"syncing":            behind > 0,
		"consecutive_errors": failures,
	}
	if lastError != "" {
		status["last_error"] = lastError
	}
	return status
}

func newBlock(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
