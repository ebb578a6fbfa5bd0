// Package api wires the HTTP surface for the signal-ingestion and
// decision engine: routing, CORS, the ambient middleware chain, and the
// websocket price feed. Grounded on api/router.go's APIServer shape
// from the teacher, narrowed to this domain's endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/tvsignal/engine/internal/admin"
	"github.com/tvsignal/engine/internal/config"
	"github.com/tvsignal/engine/internal/ingress"
	"github.com/tvsignal/engine/internal/pricestream"
	"github.com/tvsignal/engine/internal/query"
	"github.com/tvsignal/engine/internal/store"
	"github.com/tvsignal/engine/pkg/middleware"
	"github.com/tvsignal/engine/pkg/observability"
)

// queryCacheTTL bounds the extra staleness the response cache adds on
// GET /latest and GET /price. It is shorter than the scheduler's 5s
// minimum refresh interval and the market-data fetcher's 10s kline
// cache, so a cached response lags its sources by at most 2s more.
const queryCacheTTL = 2 * time.Second

// Server hosts the HTTP API: webhook ingestion, read surfaces, admin
// control, live price websocket, and the Prometheus /metrics endpoint.
type Server struct {
	logger  *observability.Logger
	metrics *observability.MetricsProvider
	cfg     config.ServerConfig

	router *mux.Router
	server *http.Server

	ingress *ingress.Handler
	admin   *admin.Handler
	query   *query.Handler
	stream  *pricestream.Stream

	upgrader  websocket.Upgrader
	startedAt time.Time
}

// NewServer builds the router and registers every endpoint. started
// must be set once at process start, for /status's uptime field.
func NewServer(
	logger *observability.Logger,
	metrics *observability.MetricsProvider,
	cfg config.ServerConfig,
	rateLimit config.RateLimitConfig,
	ingressHandler *ingress.Handler,
	adminHandler *admin.Handler,
	queryHandler *query.Handler,
	stream *pricestream.Stream,
	s *store.Store,
	startedAt time.Time,
) *Server {
	srv := &Server{
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
		router:  mux.NewRouter(),
		ingress: ingressHandler,
		admin:   adminHandler,
		query:   queryHandler,
		stream:  stream,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startedAt: startedAt,
	}

	srv.setupRoutes(s, rateLimit)
	return srv
}

func (s *Server) setupRoutes(st *store.Store, rateLimit config.RateLimitConfig) {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Tracing("tvsignal-engine"))
	s.router.Use(middleware.Logging(s.logger))
	s.router.Use(middleware.RateLimit(rateLimit))

	cache := middleware.NewCacheMiddleware(st, s.logger, queryCacheTTL)

	s.router.HandleFunc("/tv-webhook", s.ingress.ServeHTTP).Methods(http.MethodPost)
	s.router.HandleFunc("/status", s.handleStatus(st)).Methods(http.MethodGet)
	s.router.Handle("/latest", cache.Middleware()(http.HandlerFunc(s.query.Latest))).Methods(http.MethodGet)
	s.router.HandleFunc("/events", s.query.Events).Methods(http.MethodGet)
	s.router.Handle("/price", cache.Middleware()(http.HandlerFunc(s.query.Price))).Methods(http.MethodGet)
	s.router.HandleFunc("/config", s.admin.UpdateConfig).Methods(http.MethodPost)
	s.router.HandleFunc("/events/{symbol}", s.admin.DeleteEvent).Methods(http.MethodDelete)
	s.router.HandleFunc("/ws/prices", s.handlePricesWS)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
}

type statusResponse struct {
	Status            string `json:"status"`
	RedisOK           bool   `json:"redis_ok"`
	EventsLastMinute  int64  `json:"events_last_minute"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
}

// handleStatus reports liveness and a rolling event-rate figure: the
// sum of every live tv:rate:* counter, which self-expire after twice the
// rate-limit window.
func (s *Server) handleStatus(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		redisOK := st.Ping(ctx) == nil

		var eventsCount int64
		if sum, err := st.ScanSum(ctx, store.RateScanPatternAllSymbols()); err == nil {
			eventsCount = sum
		}

		status := "ok"
		if !redisOK {
			status = "degraded"
		}

		writeJSON(w, http.StatusOK, statusResponse{
			Status:           status,
			RedisOK:          redisOK,
			EventsLastMinute: eventsCount,
			UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		})
	}
}

// wsSnapshotInterval is the push cadence for /ws/prices, matching
// original_source/app/routers/ws.py's fixed one-second broadcast loop.
const wsSnapshotInterval = 1 * time.Second

// handlePricesWS pushes a full {symbol: price} snapshot once per second
// for the life of the connection.
func (s *Server) handlePricesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(r.Context(), "websocket upgrade failed", err, nil)
		return
	}
	defer conn.Close()
	s.logger.Info(r.Context(), "ws client connected", nil)

	ticker := time.NewTicker(wsSnapshotInterval)
	defer ticker.Stop()

	if err := conn.WriteJSON(s.stream.AllPrices()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info(r.Context(), "ws client disconnected", nil)
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.stream.AllPrices()); err != nil {
				s.logger.Info(r.Context(), "ws client disconnected", nil)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Start launches the HTTP server, wrapped in rs/cors, in a background
// goroutine and returns immediately.
func (s *Server) Start(ctx context.Context, corsOrigins []string) error {
	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.logger.Info(ctx, "starting http server", map[string]interface{}{"address": s.cfg.Addr})

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(context.Background(), "http server error", err, nil)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info(ctx, "stopping http server", nil)
	return s.server.Shutdown(ctx)
}
