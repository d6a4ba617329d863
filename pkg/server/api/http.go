// Package api provides the HTTP and WebSocket surface of the price-oracle
// engine: price queries, quality reports, history, tracking control and
// monitoring endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rz1989s/saros-price-oracle/pkg/config"
	"github.com/rz1989s/saros-price-oracle/pkg/logging"
	"github.com/rz1989s/saros-price-oracle/pkg/metrics"
	"github.com/rz1989s/saros-price-oracle/pkg/server/feed"
	"github.com/rz1989s/saros-price-oracle/pkg/server/history"
	"github.com/rz1989s/saros-price-oracle/pkg/server/quality"
	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
)

// Server is the HTTP API server.
type Server struct {
	addr     string
	manager  *feed.Manager
	reports  *quality.Generator
	tracker  *history.Tracker
	logger   *logging.Logger
	server   *http.Server
	wsServer *WebSocketServer
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, manager *feed.Manager, reports *quality.Generator, tracker *history.Tracker, logger *logging.Logger) *Server {
	return &Server{
		addr:    addr,
		manager: manager,
		reports: reports,
		tracker: tracker,
		logger:  logger,
	}
}

// SetWebSocketServer sets the WebSocket server for streaming updates.
func (s *Server) SetWebSocketServer(ws *WebSocketServer) {
	s.wsServer = ws
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/price", s.handlePrice)
	mux.HandleFunc("/v1/prices", s.handlePrices)
	mux.HandleFunc("/v1/quality", s.handleQuality)
	mux.HandleFunc("/v1/history", s.handleHistory)
	mux.HandleFunc("/v1/trend", s.handleTrend)
	mux.HandleFunc("/v1/tracking", s.handleTracking)
	mux.HandleFunc("/v1/feeds", s.handleFeeds)
	mux.HandleFunc("/v1/system/health", s.handleSystemHealth)
	mux.HandleFunc("/v1/stats", s.handleStats)
	if s.wsServer != nil {
		mux.HandleFunc("/ws", s.wsServer.HandleWebSocket)
	}
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := s.routes()

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleHealth handles the liveness endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/health", "200", time.Since(start))
	}()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePrice handles GET /v1/price?symbol=SOL/USD[&refresh=true].
// On a hard fetch failure the last accepted value is served with an explicit
// stale marker instead of blocking the dashboard.
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/price", status, time.Since(start))
	}()

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		status = "400"
		http.Error(w, "symbol query parameter is required", http.StatusBadRequest)
		return
	}
	force := r.URL.Query().Get("refresh") == "true"

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	price, err := s.manager.GetPrice(ctx, symbol, force)
	if err != nil {
		if errors.Is(err, sources.ErrNotConfigured) {
			status = "404"
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		// Degrade to the last cached value with a staleness indicator.
		if cached, cerr := s.manager.LastKnown(symbol); cerr == nil {
			s.logger.Warn("Serving stale cached price after fetch failure",
				"symbol", symbol, "error", err.Error())
			s.sendJSON(w, map[string]interface{}{
				"price": priceResponse(cached),
				"stale": true,
				"error": err.Error(),
			})
			return
		}

		status = "503"
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	s.sendJSON(w, priceResponse(price))
}

// handlePrices handles GET /v1/prices[?symbols=A,B]. Best effort: failed
// symbols are omitted.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/prices", status, time.Since(start))
	}()

	symbols := s.manager.Symbols()
	if raw := r.URL.Query().Get("symbols"); raw != "" {
		symbols = strings.Split(raw, ",")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	prices := s.manager.GetPrices(ctx, symbols)
	if len(prices) == 0 {
		status = "503"
		http.Error(w, "No prices available", http.StatusServiceUnavailable)
		return
	}

	out := make(map[string]interface{}, len(prices))
	for symbol, price := range prices {
		out[symbol] = priceResponse(price)
	}
	s.sendJSON(w, out)
}

// handleQuality handles GET /v1/quality?symbol=.
func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/quality", status, time.Since(start))
	}()

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		status = "400"
		http.Error(w, "symbol query parameter is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	report, err := s.reports.Generate(ctx, symbol)
	if err != nil {
		if errors.Is(err, sources.ErrNotConfigured) {
			status = "404"
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		status = "503"
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	s.sendJSON(w, report)
}

// handleHistory handles GET /v1/history?symbol=[&window=1h].
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/history", status, time.Since(start))
	}()

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		status = "400"
		http.Error(w, "symbol query parameter is required", http.StatusBadRequest)
		return
	}

	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			status = "400"
			http.Error(w, "invalid window duration", http.StatusBadRequest)
			return
		}
		window = d
	}

	points := s.tracker.Window(symbol, time.Now(), window)
	s.sendJSON(w, historyResponse(symbol, points))
}

// handleTrend handles GET /v1/trend?symbol=.
func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/trend", status, time.Since(start))
	}()

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		status = "400"
		http.Error(w, "symbol query parameter is required", http.StatusBadRequest)
		return
	}

	trend, err := s.tracker.Series(symbol).Trend()
	if err != nil {
		status = "422"
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	indicators, ierr := s.tracker.Series(symbol).Indicators()
	resp := map[string]interface{}{
		"symbol": symbol,
		"trend":  trend,
	}
	if ierr == nil {
		resp["indicators"] = indicators
	}
	s.sendJSON(w, resp)
}

// handleTracking handles POST/DELETE /v1/tracking?symbol=.
func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/tracking", status, time.Since(start))
	}()

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		status = "400"
		http.Error(w, "symbol query parameter is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		if err := s.manager.StartTracking(symbol); err != nil {
			status = "404"
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.sendJSON(w, map[string]interface{}{"symbol": symbol, "tracking": true})
	case http.MethodDelete:
		s.manager.StopTracking(symbol)
		s.sendJSON(w, map[string]interface{}{"symbol": symbol, "tracking": false})
	default:
		status = "405"
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// feedUpdateRequest is the admin payload for PATCH /v1/feeds. Only set fields
// are applied; durations are Go duration strings.
type feedUpdateRequest struct {
	Symbol                string   `json:"symbol"`
	PrimarySource         *string  `json:"primary_source,omitempty"`
	FallbackSources       []string `json:"fallback_sources,omitempty"`
	HighTrustSources      []string `json:"high_trust_sources,omitempty"`
	RefreshInterval       *string  `json:"refresh_interval,omitempty"`
	MaxStaleness          *string  `json:"max_staleness,omitempty"`
	MinQualityScore       *float64 `json:"min_quality_score,omitempty"`
	DeviationThresholdPct *float64 `json:"deviation_threshold_pct,omitempty"`
	RetryAttempts         *int     `json:"retry_attempts,omitempty"`
	RetryBackoff          *string  `json:"retry_backoff,omitempty"`
	EnableCrossValidation *bool    `json:"enable_cross_validation,omitempty"`
	EnableAggregation     *bool    `json:"enable_aggregation,omitempty"`
	RejectOnDeviation     *bool    `json:"reject_on_deviation,omitempty"`
}

// handleFeeds handles the admin feed-config endpoint.
// GET returns the merged config for a symbol; PATCH applies a partial update.
func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/feeds", status, time.Since(start))
	}()

	switch r.Method {
	case http.MethodGet:
		symbol := r.URL.Query().Get("symbol")
		cfg, ok := s.manager.FeedConfig(symbol)
		if !ok {
			status = "404"
			http.Error(w, "unknown symbol", http.StatusNotFound)
			return
		}
		s.sendJSON(w, feedConfigResponse(cfg))

	case http.MethodPatch:
		var req feedUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			status = "400"
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		cfg, ok := s.manager.FeedConfig(req.Symbol)
		if !ok {
			status = "404"
			http.Error(w, "unknown symbol", http.StatusNotFound)
			return
		}

		if err := applyFeedUpdate(&cfg, req); err != nil {
			status = "400"
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.manager.UpdateFeed(cfg); err != nil {
			status = "422"
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		s.sendJSON(w, feedConfigResponse(cfg))

	default:
		status = "405"
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func applyFeedUpdate(cfg *config.FeedConfig, req feedUpdateRequest) error {
	if req.PrimarySource != nil {
		cfg.PrimarySource = *req.PrimarySource
	}
	if req.FallbackSources != nil {
		cfg.FallbackSources = req.FallbackSources
	}
	if req.HighTrustSources != nil {
		cfg.HighTrustSources = req.HighTrustSources
	}
	if req.RefreshInterval != nil {
		d, err := time.ParseDuration(*req.RefreshInterval)
		if err != nil {
			return fmt.Errorf("invalid refresh_interval: %w", err)
		}
		cfg.RefreshInterval = d
	}
	if req.MaxStaleness != nil {
		d, err := time.ParseDuration(*req.MaxStaleness)
		if err != nil {
			return fmt.Errorf("invalid max_staleness: %w", err)
		}
		cfg.MaxStaleness = d
	}
	if req.MinQualityScore != nil {
		cfg.MinQualityScore = *req.MinQualityScore
	}
	if req.DeviationThresholdPct != nil {
		cfg.DeviationThresholdPct = *req.DeviationThresholdPct
	}
	if req.RetryAttempts != nil {
		cfg.RetryAttempts = *req.RetryAttempts
	}
	if req.RetryBackoff != nil {
		d, err := time.ParseDuration(*req.RetryBackoff)
		if err != nil {
			return fmt.Errorf("invalid retry_backoff: %w", err)
		}
		cfg.RetryBackoff = d
	}
	if req.EnableCrossValidation != nil {
		cfg.EnableCrossValidation = *req.EnableCrossValidation
	}
	if req.EnableAggregation != nil {
		cfg.EnableAggregation = *req.EnableAggregation
	}
	if req.RejectOnDeviation != nil {
		cfg.RejectOnDeviation = *req.RejectOnDeviation
	}
	return nil
}

// handleSystemHealth handles GET /v1/system/health.
func (s *Server) handleSystemHealth(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/v1/system/health", "200", time.Since(start))
	}()

	health := s.manager.SystemHealth()
	statuses := make(map[string]string)
	for _, symbol := range s.manager.Symbols() {
		statuses[symbol] = string(s.manager.FeedStatus(symbol))
	}

	s.sendJSON(w, map[string]interface{}{
		"overall":         health.Overall,
		"percent_healthy": health.PercentHealthy,
		"issues":          health.Issues,
		"feeds":           statuses,
	})
}

// handleStats handles GET /v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/v1/stats", "200", time.Since(start))
	}()

	stats := s.manager.Stats()
	s.sendJSON(w, map[string]interface{}{
		"requests":           stats.Requests,
		"cache_hits":         stats.CacheHits,
		"cache_hit_rate":     stats.CacheHitRate,
		"fetch_cycles":       stats.FetchCycles,
		"average_latency_ms": float64(stats.AverageLatency.Microseconds()) / 1000,
	})
}

// sendJSON writes a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
