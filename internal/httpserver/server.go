package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/luxlabs/lux-analytics/internal/analytics"
	"github.com/luxlabs/lux-analytics/internal/config"
	"github.com/luxlabs/lux-analytics/internal/database"
	"github.com/luxlabs/lux-analytics/internal/geo"
	"github.com/luxlabs/lux-analytics/internal/metrics"
	"github.com/luxlabs/lux-analytics/internal/middleware"
	"github.com/luxlabs/lux-analytics/internal/privacy"
	"github.com/luxlabs/lux-analytics/internal/storage"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wraps HTTP handlers and the analytics services.
type Server struct {
	ingestService    *analytics.IngestService
	reportingService *analytics.ReportingService
	attribution      *analytics.AttributionEngine
	scheduler        *analytics.RollupScheduler
	sessions         storage.SessionStore
	orders           storage.OrderStore
	logger           *zap.Logger
	config           *config.Config
	metrics          *metrics.Metrics
}

// NewServer wires stores and services from the available backends.
// Raw events go to ClickHouse when enabled, otherwise PostgreSQL,
// otherwise memory; the relational stores follow PostgreSQL or memory.
func NewServer(deps *Dependencies) *Server {
	var (
		eventStore   storage.EventStore
		sessionStore storage.SessionStore
		orderStore   storage.OrderStore
		rollupStore  storage.RollupStore
		suppressions storage.SuppressionStore
	)

	if deps.DB != nil {
		sessionStore = storage.NewPostgresSessionStore(deps.DB.Pool)
		orderStore = storage.NewPostgresOrderStore(deps.DB.Pool)
		rollupStore = storage.NewPostgresRollupStore(deps.DB.Pool)
		suppressions = storage.NewPostgresSuppressionStore(deps.DB.Pool)
		eventStore = storage.NewPostgresEventStore(deps.DB.Pool)
	} else {
		sessionStore = storage.NewInMemorySessionStore()
		orderStore = storage.NewInMemoryOrderStore()
		rollupStore = storage.NewInMemoryRollupStore()
		suppressions = storage.NewInMemorySuppressionStore()
		eventStore = storage.NewInMemoryEventStore()
	}
	if deps.ClickHouse != nil {
		eventStore = storage.NewClickHouseEventStore(deps.ClickHouse.Conn())
	}

	var geoResolver geo.Resolver = geo.NoopResolver{}
	if deps.Config.Geo.Enabled {
		resolver, err := geo.NewMaxMindResolver(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to open GeoIP database, country enrichment disabled", zap.Error(err))
		} else {
			geoResolver = resolver
		}
	}

	var locker analytics.RunLocker
	if deps.Redis != nil {
		locker = analytics.NewRedisRunLocker(deps.Redis.Client)
	} else {
		locker = analytics.NewInMemoryRunLocker()
	}

	hasher := privacy.NewHasher(deps.Config.Privacy.HashSalt)
	attribution := analytics.NewAttributionEngine(sessionStore, orderStore, deps.Logger, deps.Metrics)
	ingestSvc := analytics.NewIngestService(
		eventStore, sessionStore, orderStore, suppressions,
		attribution, hasher, geoResolver,
		deps.Config.Ingest.StoreTimeout, deps.Logger, deps.Metrics,
	)
	reportingSvc := analytics.NewReportingService(eventStore, rollupStore, suppressions, deps.Logger, deps.Metrics)
	aggregator := analytics.NewRollupAggregator(
		eventStore, rollupStore, locker,
		deps.Config.Rollup.LockTTL, deps.Logger, deps.Metrics,
	)
	scheduler := analytics.NewRollupScheduler(aggregator, eventStore, deps.Config.Rollup.Interval, deps.Logger)

	return &Server{
		ingestService:    ingestSvc,
		reportingService: reportingSvc,
		attribution:      attribution,
		scheduler:        scheduler,
		sessions:         sessionStore,
		orders:           orderStore,
		logger:           deps.Logger,
		config:           deps.Config,
		metrics:          deps.Metrics,
	}
}

// Scheduler returns the rollup scheduler for the background loop.
func (s *Server) Scheduler() *analytics.RollupScheduler {
	return s.scheduler
}

// Handler returns the fully wired http.Handler, middleware included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	if s.config.Metrics.Enabled {
		mux.Handle(s.config.Metrics.Path, metrics.Handler())
	}

	// Ingestion (public, called by browser trackers)
	mux.HandleFunc("/v1/events", s.handleIngest)

	// Reporting
	mux.HandleFunc("/v1/reports", s.handleReport)
	mux.HandleFunc("/v1/reports/export", s.handleReportExport)

	// Audit reads
	mux.HandleFunc("/v1/sessions/", s.handleSessionByID)
	mux.HandleFunc("/v1/orders/", s.handleOrderByID)

	// Maintenance
	mux.HandleFunc("/v1/rollups/run", s.handleRollupRun)
	mux.HandleFunc("/v1/attribution/run-pending", s.handleAttributionRunPending)

	rateLimit := middleware.NewRateLimitMiddleware(s.config.RateLimit, s.logger)
	rateLimit.SetMetrics(s.metrics)
	auth := middleware.NewAuthMiddleware(s.config.Auth, s.logger)
	logging := middleware.NewLoggingMiddleware(s.logger)
	recovery := middleware.NewRecoveryMiddleware(s.logger)

	var handler http.Handler = mux
	handler = rateLimit.Handler(handler)
	handler = auth.Handler(handler)
	handler = logging.Handler(handler)
	handler = recovery.Handler(handler)
	return handler
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Ingestion ----

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.Ingest.MaxPayloadBytes)

	var req analytics.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.errorResponse(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	// Transport-level signals never come from the payload.
	req.IP = clientIP(r)
	req.GPC = r.Header.Get("Sec-GPC") == "1"

	result, err := s.ingestService.Ingest(r.Context(), &req)
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch result.Outcome {
	case analytics.OutcomeRejected:
		s.jsonResponseStatus(w, result, http.StatusBadRequest)
	case analytics.OutcomeSuppressed:
		s.jsonResponseStatus(w, result, http.StatusAccepted)
	default:
		s.jsonResponse(w, result)
	}
}

// ---- Reporting ----

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		s.errorResponse(w, "tenant_id required", http.StatusBadRequest)
		return
	}

	rng, compare, err := parseRanges(r)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := s.reportingService.Summary(r.Context(), tenantID, rng, compare)
	if err != nil {
		s.logger.Error("report failed", zap.String("tenant_id", tenantID), zap.Error(err))
		s.errorResponse(w, "failed to build report", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, summary)
}

func (s *Server) handleReportExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		s.errorResponse(w, "tenant_id required", http.StatusBadRequest)
		return
	}

	rng, _, err := parseRanges(r)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := s.reportingService.Export(r.Context(), tenantID, rng)
	if err != nil {
		s.logger.Error("export failed", zap.String("tenant_id", tenantID), zap.Error(err))
		s.errorResponse(w, "failed to export", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, rows)
}

func parseRanges(r *http.Request) (analytics.Range, analytics.Range, error) {
	q := r.URL.Query()

	preset := q.Get("range")
	if preset == "" {
		preset = "last_30_days"
	}

	customStart, customEnd, err := parseDayPair(q.Get("start"), q.Get("end"))
	if err != nil {
		return analytics.Range{}, analytics.Range{}, err
	}

	rng, err := analytics.ResolveRange(preset, time.Now().UTC(), customStart, customEnd)
	if err != nil {
		return analytics.Range{}, analytics.Range{}, err
	}

	compareStart, compareEnd, err := parseDayPair(q.Get("compare_start"), q.Get("compare_end"))
	if err != nil {
		return analytics.Range{}, analytics.Range{}, err
	}

	compare, err := analytics.ResolveCompare(q.Get("compare"), rng, compareStart, compareEnd)
	if err != nil {
		return analytics.Range{}, analytics.Range{}, err
	}

	return rng, compare, nil
}

func parseDayPair(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if startStr != "" {
		if start, err = time.Parse("2006-01-02", startStr); err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid start date, expected YYYY-MM-DD")
		}
	}
	if endStr != "" {
		if end, err = time.Parse("2006-01-02", endStr); err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid end date, expected YYYY-MM-DD")
		}
	}
	return start, end, nil
}

// ---- Audit Reads ----

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	tenantID := r.URL.Query().Get("tenant_id")
	if sessionID == "" || tenantID == "" {
		s.errorResponse(w, "tenant_id and session id required", http.StatusBadRequest)
		return
	}

	session, err := s.sessions.Get(r.Context(), tenantID, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("session lookup failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, session)
}

// handleOrderByID serves /v1/orders/{order_id} and the recompute action
// at /v1/orders/{order_id}/recompute.
func (s *Server) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	tenantID := r.URL.Query().Get("tenant_id")

	orderID, action := path, ""
	if idx := strings.IndexByte(path, '/'); idx != -1 {
		orderID, action = path[:idx], path[idx+1:]
	}
	if orderID == "" || tenantID == "" {
		s.errorResponse(w, "tenant_id and order id required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		order, err := s.orders.Get(r.Context(), tenantID, orderID)
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			s.logger.Error("order lookup failed", zap.Error(err))
			s.errorResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, order)

	case action == "recompute" && r.Method == http.MethodPost:
		order, err := s.attribution.Recompute(r.Context(), tenantID, orderID)
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			s.logger.Error("attribution recompute failed", zap.Error(err))
			s.errorResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, order)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ---- Maintenance ----

func (s *Server) handleRollupRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	day := r.URL.Query().Get("day")
	if day == "" {
		s.errorResponse(w, "day required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	if err := s.scheduler.RunDay(r.Context(), day); err != nil {
		s.logger.Error("rollup backfill failed", zap.String("day", day), zap.Error(err))
		s.errorResponse(w, "rollup failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]string{"status": "ok", "day": day})
}

func (s *Server) handleAttributionRunPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		s.errorResponse(w, "tenant_id required", http.StatusBadRequest)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.errorResponse(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	processed, err := s.attribution.RunPending(r.Context(), tenantID, limit)
	if err != nil {
		s.logger.Error("attribution pass failed", zap.String("tenant_id", tenantID), zap.Error(err))
		s.errorResponse(w, "attribution pass failed", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]int{"processed": processed})
}

// ---- Helper Methods ----

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonResponseStatus(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
