// Package api provides the HTTP surface over the latest pool snapshots.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pool-metrics/internal/adapter"
	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/logging"
	"github.com/pool-metrics/internal/types"
)

// SnapshotProvider exposes the most recent run
type SnapshotProvider interface {
	LatestSnapshots(ctx context.Context) (types.SnapshotSet, error)
	LatestMetadata() *types.RunMetadata
}

// PoolLookup resolves configured pools
type PoolLookup interface {
	Pool(id types.PoolID) (*types.PoolConfig, bool)
	Pools() []*types.PoolConfig
}

// RPCHealthSource reports the state of the contract-read endpoint
type RPCHealthSource interface {
	Health() *adapter.EndpointHealth
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	snapshots  SnapshotProvider
	pools      PoolLookup
	rpc        RPCHealthSource
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int // per client IP, 0 disables limiting
}

// DefaultServerConfig returns timeouts suitable for a small read-only API
func DefaultServerConfig(host, port string) *ServerConfig {
	return &ServerConfig{
		Host:              host,
		Port:              port,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: 20,
	}
}

// NewServer creates a new API server instance. rpc may be nil.
func NewServer(config *ServerConfig, snapshots SnapshotProvider, pools PoolLookup, rpc RPCHealthSource) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		snapshots: snapshots,
		pools:     pools,
		rpc:       rpc,
		config:    config,
		logger:    logging.GetGlobalLogger().WithField("component", "api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	if s.config.RequestsPerSecond > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RequestsPerSecond)))
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pools", s.handleListPools).Methods("GET")
	api.HandleFunc("/snapshots", s.handleListSnapshots).Methods("GET")
	api.HandleFunc("/snapshots/{poolId}", s.handleGetSnapshot).Methods("GET")
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// HealthResponse reports liveness, RPC endpoint state and the last successful run
type HealthResponse struct {
	Status              string `json:"status"`
	Service             string `json:"service"`
	RPCEndpoint         string `json:"rpc_endpoint,omitempty"`
	RPCHealthy          *bool  `json:"rpc_healthy,omitempty"`
	RPCConsecutiveFails int    `json:"rpc_consecutive_fails"`
	LastRunID           string `json:"last_run_id,omitempty"`
	LastRunAt           string `json:"last_run_at,omitempty"`
	BlockHeight         uint64 `json:"block_height,omitempty"`
}

// redactEndpoint keeps scheme and host; provider URLs often embed API keys in
// the path or query.
func redactEndpoint(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unparseable"
	}
	return u.Scheme + "://" + u.Host
}

// handleHealth handles health check requests. The process stays up while the
// RPC endpoint is failing, so that case is reported as degraded with 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Service: "pool-metrics"}
	if s.rpc != nil {
		if h := s.rpc.Health(); h != nil {
			healthy := h.IsHealthy
			resp.RPCEndpoint = redactEndpoint(h.CurrentURL)
			resp.RPCHealthy = &healthy
			resp.RPCConsecutiveFails = h.ConsecutiveFails
			if !healthy {
				resp.Status = "degraded"
			}
		}
	}
	if meta := s.snapshots.LatestMetadata(); meta != nil {
		resp.LastRunID = meta.RunID
		resp.LastRunAt = meta.StartedAt.UTC().Format(time.RFC3339)
		resp.BlockHeight = meta.BlockHeight
	}
	respondJSON(w, http.StatusOK, resp)
}

// PoolResponse describes one configured pool
type PoolResponse struct {
	ID          types.PoolID     `json:"id"`
	Address     string           `json:"address"`
	OptionType  types.OptionType `json:"option_type"`
	Underlying  types.Asset      `json:"underlying"`
	Quote       types.Asset      `json:"quote"`
	TokenSymbol string           `json:"token_symbol"`
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools := s.pools.Pools()
	out := make([]PoolResponse, 0, len(pools))
	for _, p := range pools {
		out = append(out, PoolResponse{
			ID:          p.ID,
			Address:     fmt.Sprintf("%#x", p.Address),
			OptionType:  p.OptionType,
			Underlying:  p.Underlying,
			Quote:       p.Quote,
			TokenSymbol: p.TokenSymbol,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	respondJSON(w, http.StatusOK, out)
}

// handleListSnapshots returns the full keyed document of the last run
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	set, err := s.snapshots.LatestSnapshots(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, set)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := types.PoolID(mux.Vars(r)["poolId"])
	if _, ok := s.pools.Pool(id); !ok {
		respondServiceError(w, apperrors.NewNotFoundError("pool", string(id)))
		return
	}

	set, err := s.snapshots.LatestSnapshots(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	snap, ok := set[id]
	if !ok {
		respondServiceError(w, apperrors.NewNotFoundError("snapshot", string(id)))
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}
