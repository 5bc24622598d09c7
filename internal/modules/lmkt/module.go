// Package lmkt routes treasury, marketplace and collateral-token logs into
// the candle engine.
package lmkt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/lmkt/candle-indexer/internal/candles"
	"github.com/lmkt/candle-indexer/internal/config"
	"github.com/lmkt/candle-indexer/internal/database"
	"github.com/lmkt/candle-indexer/internal/metrics"
	"github.com/lmkt/candle-indexer/internal/modules/core"
	"github.com/lmkt/candle-indexer/internal/pricing"
	"github.com/lmkt/candle-indexer/internal/registry"
)

const ModuleName = "lmkt"

// PriceResolver prices one event.
type PriceResolver interface {
	Resolve(ctx context.Context, req pricing.Request) (float64, error)
}

// errAlreadyProcessed aborts a transaction that found the event marker set
// by a concurrent delivery.
var errAlreadyProcessed = errors.New("event already processed")

// Module is the event dispatcher. Each log is decoded, priced once and then
// written in a single storage transaction together with its processed
// marker, so an event either lands on every interval or on none.
type Module struct {
	treasury        common.Address
	marketplace     common.Address
	collateralToken common.Address
	lmktToken       common.Address

	decoder  *Decoder
	store    database.Store
	registry *registry.Registry
	resolver PriceResolver
	engine   *candles.Engine
	metrics  *metrics.Metrics
	locks    *pairLocks
	logger   zerolog.Logger
}

var _ core.Module = (*Module)(nil)

func NewModule(
	contracts *config.ContractsConfig,
	store database.Store,
	reg *registry.Registry,
	resolver PriceResolver,
	engine *candles.Engine,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Module {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Module{
		treasury:        common.HexToAddress(contracts.Treasury),
		marketplace:     common.HexToAddress(contracts.Marketplace),
		collateralToken: common.HexToAddress(contracts.CollateralToken),
		lmktToken:       common.HexToAddress(contracts.LMKTToken),
		decoder:         NewDecoder(),
		store:           store,
		registry:        reg,
		resolver:        resolver,
		engine:          engine,
		metrics:         m,
		locks:           newPairLocks(),
		logger:          logger.With().Str("module", ModuleName).Logger(),
	}
}

func (m *Module) Name() string {
	return ModuleName
}

// EventFilters returns the logs this module consumes
func (m *Module) EventFilters() []core.EventFilter {
	filters := []core.EventFilter{
		{Address: m.treasury.Hex(), Topic0: SwapTopic.Hex()},
		{Address: m.collateralToken.Hex(), Topic0: TransferTopic.Hex()},
	}
	if m.marketplace != (common.Address{}) {
		filters = append(filters,
			core.EventFilter{Address: m.marketplace.Hex(), Topic0: ItemPurchasedTopic.Hex()},
			core.EventFilter{Address: m.marketplace.Hex(), Topic0: ListingFeePaidTopic.Hex()},
		)
	}
	return filters
}

// PartitionKey returns the pair a log contributes to. Every supported log
// feeds the treasury pair.
func (m *Module) PartitionKey(*types.Log) string {
	return m.pairID()
}

func (m *Module) pairID() string {
	return database.AddressToString(m.treasury)
}

// HandleEvent decodes and applies one log. Unrelated logs are ignored. A
// malformed log returns an error wrapping ErrMalformedEvent and writes
// nothing; callers may skip it. Any other error means nothing was written
// and the log should be delivered again.
func (m *Module) HandleEvent(ctx context.Context, log *types.Log, timestamp int64) error {
	evt, err := m.decoder.Decode(log, timestamp)
	if err != nil {
		var unknown core.ErrUnknownEvent
		if errors.As(err, &unknown) {
			return nil
		}
		m.metrics.EventsSkipped.WithLabelValues("malformed").Inc()
		m.logger.Warn().
			Err(err).
			Str("tx_hash", log.TxHash.Hex()).
			Uint("log_index", log.Index).
			Uint64("block", log.BlockNumber).
			Msg("Skipping malformed event")
		return err
	}

	if reason, ok := m.ignore(evt); ok {
		m.metrics.EventsSkipped.WithLabelValues(reason).Inc()
		m.logger.Debug().
			Str("event", string(evt.Kind())).
			Str("reason", reason).
			Str("tx_hash", log.TxHash.Hex()).
			Msg("Ignoring event")
		return nil
	}

	return m.Apply(ctx, evt)
}

// ignore filters logs that decode fine but are not market activity for
// this pair.
func (m *Module) ignore(evt Event) (string, bool) {
	contract := evt.Meta().Contract
	switch e := evt.(type) {
	case *SwapEvent:
		if contract != m.treasury {
			return "foreign_contract", true
		}
	case *PurchaseEvent, *ListingFeeEvent:
		if m.marketplace == (common.Address{}) || contract != m.marketplace {
			return "foreign_contract", true
		}
	case *FeeTransferEvent:
		if contract != m.collateralToken {
			return "foreign_contract", true
		}
		if e.To != m.treasury {
			return "not_treasury", true
		}
	}
	return "", false
}

// Apply runs a decoded event through pricing and the candle engine.
func (m *Module) Apply(ctx context.Context, evt Event) error {
	start := time.Now()
	meta := evt.Meta()
	kind := string(evt.Kind())
	logger := m.logger.With().
		Str("event", kind).
		Str("tx_hash", meta.TxHash.Hex()).
		Uint("log_index", meta.LogIndex).
		Uint64("block", meta.BlockNumber).
		Logger()

	unlock := m.locks.lock(m.pairID())
	defer unlock()

	processed, err := m.store.IsProcessed(ctx, meta.ID())
	if err != nil {
		m.metrics.EventErrors.WithLabelValues(kind).Inc()
		return fmt.Errorf("failed to check processed marker: %w", err)
	}
	if processed {
		m.metrics.EventsSkipped.WithLabelValues("duplicate").Inc()
		logger.Debug().Msg("Event already processed")
		return nil
	}

	collateral, err := m.registry.GetOrCreateToken(ctx, m.store, m.collateralToken.Hex())
	if err != nil {
		m.metrics.EventErrors.WithLabelValues(kind).Inc()
		return err
	}
	lmkt, err := m.registry.GetOrCreateToken(ctx, m.store, m.lmktToken.Hex())
	if err != nil {
		m.metrics.EventErrors.WithLabelValues(kind).Inc()
		return err
	}

	h := m.handlerFor(evt, collateral, lmkt)

	// Price is resolved once, before any write, so a failed read leaves
	// every interval untouched.
	price, err := m.resolver.Resolve(ctx, h.request)
	if err != nil {
		if errors.Is(err, pricing.ErrPriceUnavailable) {
			m.metrics.PriceUnavailable.Inc()
		}
		m.metrics.EventErrors.WithLabelValues(kind).Inc()
		logger.Error().Err(err).Msg("Failed to resolve price")
		return fmt.Errorf("failed to resolve price for %s: %w", meta.ID(), err)
	}
	if price == 0 {
		m.metrics.ZeroPrices.WithLabelValues(kind).Inc()
		logger.Warn().Msg("Event priced at zero")
	}

	trade := h.trade(price)
	var summary candles.Summary
	err = m.store.InTx(ctx, func(tx database.Tx) error {
		processed, err := tx.IsProcessed(ctx, meta.ID())
		if err != nil {
			return fmt.Errorf("failed to check processed marker: %w", err)
		}
		if processed {
			return errAlreadyProcessed
		}

		pair, err := m.registry.GetOrCreatePair(ctx, tx, m.treasury.Hex(), collateral.Address, lmkt.Address, meta.BlockNumber, m.engine.EffectiveTime(meta.Timestamp))
		if err != nil {
			return err
		}

		if h.record != nil {
			if err := h.record(ctx, tx, pair.ID, price); err != nil {
				return err
			}
		}

		summary, err = m.engine.ApplyAll(ctx, tx, pair, meta.Timestamp, trade)
		if err != nil {
			return err
		}

		return tx.MarkProcessed(ctx, meta.ID(), meta.BlockNumber)
	})
	if errors.Is(err, errAlreadyProcessed) {
		m.metrics.EventsSkipped.WithLabelValues("duplicate").Inc()
		return nil
	}
	if err != nil {
		m.metrics.EventErrors.WithLabelValues(kind).Inc()
		logger.Error().Err(err).Msg("Failed to apply event")
		return fmt.Errorf("failed to apply %s: %w", meta.ID(), err)
	}

	m.metrics.EventsProcessed.WithLabelValues(kind).Inc()
	m.metrics.EventLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	m.metrics.CandlesCreated.Add(float64(summary.Created))
	m.metrics.CandlesUpdated.Add(float64(summary.Updated))
	m.metrics.CandlesBackfilled.Add(float64(summary.Backfilled))

	logger.Debug().
		Float64("price", price).
		Float64("volume0", trade.Volume0).
		Float64("volume1", trade.Volume1).
		Int("created", summary.Created).
		Int("backfilled", summary.Backfilled).
		Msg("Event applied")
	return nil
}

// pairLocks serializes writers per pair while leaving other pairs free.
type pairLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *pairLocks) lock(pairID string) func() {
	pairID = strings.ToLower(pairID)

	p.mu.Lock()
	l, ok := p.locks[pairID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[pairID] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}
