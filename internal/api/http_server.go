package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"equipres/internal/config"
	"equipres/internal/domain"
	"equipres/internal/metrics"
	"equipres/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Services are the application services the HTTP API drives.
type Services struct {
	Reservations domain.ReservationService
	Equipment    domain.EquipmentService
	Availability domain.AvailabilityService
}

// HTTPServer exposes the reservation API over JSON.
type HTTPServer struct {
	cfg            config.APIConfig
	svc            Services
	verifier       *TokenVerifier
	limiter        *rateLimiter
	projectionDays int
	server         *http.Server
	now            func() time.Time
	logger         zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, projectionDays int, svc Services, logger *zerolog.Logger) *HTTPServer {
	if projectionDays <= 0 {
		projectionDays = models.DefaultProjectionDays
	}
	srv := &HTTPServer{
		cfg:            cfg,
		svc:            svc,
		verifier:       NewTokenVerifier(cfg.Auth),
		limiter:        newRateLimiter(cfg.RateLimit),
		projectionDays: projectionDays,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         zerolog.Nop(),
	}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metricsMiddleware)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.authMiddleware, s.rateLimitMiddleware)

	api.HandleFunc("/reservations", s.handleCreateReservation).Methods(http.MethodPost)
	api.HandleFunc("/reservations", s.handleListReservations).Methods(http.MethodGet)
	api.HandleFunc("/reservations/{id:[0-9]+}", s.handleGetReservation).Methods(http.MethodGet)
	api.HandleFunc("/reservations/{id:[0-9]+}", s.handleUpdateReservation).Methods(http.MethodPut)
	api.HandleFunc("/reservations/{id:[0-9]+}", s.handleCancelReservation).Methods(http.MethodDelete)
	api.HandleFunc("/reservations/{id:[0-9]+}/approve", s.handleApproveReservation).Methods(http.MethodPut)
	api.HandleFunc("/reservations/{id:[0-9]+}/reject", s.handleRejectReservation).Methods(http.MethodPut)
	api.HandleFunc("/reservations/{id:[0-9]+}/pickup", s.handlePickupReservation).Methods(http.MethodPut)
	api.HandleFunc("/reservations/{id:[0-9]+}/return", s.handleReturnReservation).Methods(http.MethodPut)

	api.HandleFunc("/equipment", s.handleListEquipment).Methods(http.MethodGet)
	api.HandleFunc("/equipment", s.requireAdmin(s.handleCreateEquipment)).Methods(http.MethodPost)
	api.HandleFunc("/equipment/availability/{id:[0-9]+}", s.handleCheckAvailability).Methods(http.MethodGet)
	api.HandleFunc("/equipment/{id:[0-9]+}", s.handleGetEquipment).Methods(http.MethodGet)
	api.HandleFunc("/equipment/{id:[0-9]+}", s.requireAdmin(s.handleUpdateEquipment)).Methods(http.MethodPut)
	api.HandleFunc("/equipment/{id:[0-9]+}/status", s.requireAdmin(s.handleSetEquipmentStatus)).Methods(http.MethodPut)
	api.HandleFunc("/equipment/{id:[0-9]+}/reconcile", s.requireAdmin(s.handleReconcileEquipment)).Methods(http.MethodPost)

	api.HandleFunc("/exports/reservations", s.requireAdmin(s.handleExportReservations)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.writeJSON(w, req, http.StatusNotFound, envelope{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.writeJSON(w, req, http.StatusMethodNotAllowed, envelope{Error: "method not allowed"})
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
	})
	return s.requestIDMiddleware(s.loggingMiddleware(c.Handler(r)))
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

const requestIDHeader = "X-Request-ID"

func (s *HTTPServer) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.Info().
			Str("request_id", requestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.IncHTTP(route, strconv.Itoa(recorder.status))
	})
}

func (s *HTTPServer) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a, ok := ActorFrom(r.Context()); !ok || !a.IsAdmin() {
			s.writeError(w, r, domain.Forbidden("admin role required"))
			return
		}
		next(w, r)
	}
}

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Str("request_id", requestID(r.Context())).Msg("encode response")
	}
}

func (s *HTTPServer) writeData(w http.ResponseWriter, r *http.Request, statusCode int, message string, data any) {
	s.writeJSON(w, r, statusCode, envelope{Success: true, Message: message, Data: data})
}

// writeError maps domain errors to status codes. Unknown errors are logged and hidden.
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := envelope{Error: err.Error()}
	var statusCode int

	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		statusCode = http.StatusConflict
		if conflict.Result != nil {
			body.Data = map[string]any{
				"available_quantity":       conflict.Result.AvailableQuantity,
				"conflicting_reservations": conflict.Result.ConflictingReservations,
			}
		}
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrUnavailable):
		statusCode = http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		statusCode = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, errBadRequest):
		statusCode = http.StatusBadRequest
	default:
		statusCode = http.StatusInternalServerError
		body.Error = "internal server error"
		s.logger.Error().Err(err).Str("request_id", requestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	s.writeJSON(w, r, statusCode, body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
