package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Pinger checks storage connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChainReader reports the chain head.
type ChainReader interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
}

// SyncReporter exposes the processor's progress.
type SyncReporter interface {
	GetStatus() map[string]interface{}
}

// maxBehind is how many blocks the processor may trail the head before the
// service reports itself degraded.
const maxBehind = 100

// maxSyncErrors is how many syncs in a row may fail before the service
// reports itself unhealthy. Fewer failures only degrade it.
const maxSyncErrors = 10

type HealthServer struct {
	db       Pinger
	chain    ChainReader
	sync     SyncReporter
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	mux      *http.ServeMux
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  DatabaseStatus         `json:"database"`
	RPC       RPCStatus              `json:"rpc"`
	Sync      map[string]interface{} `json:"sync,omitempty"`
}

type DatabaseStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type RPCStatus struct {
	Connected   bool   `json:"connected"`
	LatestBlock uint64 `json:"latest_block"`
	Error       string `json:"error,omitempty"`
}

func NewHealthServer(db Pinger, chain ChainReader, sync SyncReporter, gatherer prometheus.Gatherer, logger zerolog.Logger) *HealthServer {
	h := &HealthServer{
		db:       db,
		chain:    chain,
		sync:     sync,
		gatherer: gatherer,
		logger:   logger.With().Str("component", "health").Logger(),
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("/health", h.handleHealth)
	h.mux.HandleFunc("/ready", h.handleReady)
	h.mux.HandleFunc("/live", h.handleLive)
	h.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return h
}

func (h *HealthServer) Handler() http.Handler {
	return h.mux
}

// Start serves until ctx is done.
func (h *HealthServer) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      h.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.logger.Info().Msg("Shutting down health server")
		_ = server.Shutdown(shutdownCtx)
	}()

	h.logger.Info().Str("addr", addr).Msg("Starting health server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.getHealthStatus(ctx)

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	JSON(w, httpStatus, status)
}

func (h *HealthServer) getHealthStatus(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Timestamp: time.Now().UTC(),
		Status:    "healthy",
	}

	status.Database = h.checkDatabase(ctx)
	if !status.Database.Connected {
		status.Status = "unhealthy"
	}

	status.RPC = h.checkRPC(ctx)
	if !status.RPC.Connected {
		status.Status = "unhealthy"
	}

	if h.sync != nil {
		status.Sync = h.sync.GetStatus()
		if behindBy, ok := status.Sync["behind_by"].(int64); ok && behindBy > maxBehind && status.Status == "healthy" {
			status.Status = "degraded"
		}
	}

	return status
}

func (h *HealthServer) checkDatabase(ctx context.Context) DatabaseStatus {
	if h.db == nil {
		return DatabaseStatus{Connected: false, Error: "no database"}
	}
	if err := h.db.Ping(ctx); err != nil {
		return DatabaseStatus{Connected: false, Error: err.Error()}
	}
	return DatabaseStatus{Connected: true}
}

func (h *HealthServer) checkRPC(ctx context.Context) RPCStatus {
	if h.chain == nil {
		return RPCStatus{Connected: false, Error: "no rpc client"}
	}
	latest, err := h.chain.GetLatestBlockNumber(ctx)
	if err != nil {
		return RPCStatus{Connected: false, Error: err.Error()}
	}
	return RPCStatus{Connected: true, LatestBlock: latest}
}

func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.checkDatabase(ctx).Connected && h.checkRPC(ctx).Connected {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (h *HealthServer) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
