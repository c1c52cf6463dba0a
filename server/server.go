package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"nftreserve/auth"
	"nftreserve/mint"
	"nftreserve/observability"
	"nftreserve/reservation"
)

// statusNoInventory is the non-standard code the service has always used to
// let clients distinguish "sold out / nothing open" from a real client error.
const statusNoInventory = 444

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine   *reservation.Engine
	Tracker  *mint.Tracker
	Verifier *auth.Verifier
	Signer   *auth.Signer
	Metrics  *observability.Metrics
	Logger   *slog.Logger

	MaxReservations        int
	MaxReservationDuration time.Duration
	AllowedOrigins         []string
	RateLimitRPS           float64
	RateLimitBurst         int
	Now                    func() time.Time
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	engine   *reservation.Engine
	tracker  *mint.Tracker
	verifier *auth.Verifier
	signer   *auth.Signer
	metrics  *observability.Metrics
	logger   *slog.Logger

	maxReservations        int
	maxReservationDuration time.Duration
	now                    func() time.Time

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxReservations < 1 {
		cfg.MaxReservations = 1
	}
	if cfg.MaxReservationDuration <= 0 {
		cfg.MaxReservationDuration = 30 * time.Minute
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	srv := &Server{
		engine:                 cfg.Engine,
		tracker:                cfg.Tracker,
		verifier:               cfg.Verifier,
		signer:                 cfg.Signer,
		metrics:                cfg.Metrics,
		logger:                 logger,
		maxReservations:        cfg.MaxReservations,
		maxReservationDuration: cfg.MaxReservationDuration,
		now:                    nowFn,
	}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(corsMiddleware(cfg.AllowedOrigins))
	if cfg.RateLimitRPS > 0 {
		r.Use(rateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.MetricsHandler())
	}

	r.Route("/nft", func(nft chi.Router) {
		nft.Use(s.route("nft"))
		nft.Get("/", s.PoolStats)
		nft.Get("/stages", s.StageStats)
		nft.Get("/{id}", s.GetNFT)
		nft.With(s.requireSignature()).Post("/new", s.IngestNFT)
	})

	r.Route("/reservation", func(res chi.Router) {
		res.Use(s.route("reservation"))
		res.Get("/in-process", s.InProcess)
		res.Get("/in-mint-process", s.InMintProcess)
		res.Get("/in-mint-reserved", s.InMintReserved)
		res.Get("/stuck-mint-process", s.StuckMintProcess)
		res.Get("/free/stage/{stage}", s.FreeStageMint)
		res.Get("/{address}", s.WalletReservations)
		res.With(s.requireSignature()).Post("/new", s.CreateReservation)
	})

	r.Route("/mint", func(m chi.Router) {
		m.Use(s.route("mint"))
		m.Get("/{wallet}/{nft}", s.MintMetadata)
		m.With(s.requireSignature()).Post("/hash", s.RecordTxHash)
		m.With(s.requireSignature()).Post("/tx", s.RecordSignedTx)
		m.With(s.requireSignature()).Post("/tx_result", s.ResolveTx)
		m.With(s.requireSignature()).Post("/assign-owner", s.AssignOwner)
	})

	return r
}

func (s *Server) route(name string) func(http.Handler) http.Handler {
	if s.metrics == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.metrics.Middleware(name)
}

// apiError is the wire envelope for all error responses.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, apiError{Code: status, Message: message})
}

// handleEngineError maps the engine's error taxonomy onto the HTTP surface.
// Store errors are logged and returned opaquely.
func (s *Server) handleEngineError(w http.ResponseWriter, err error) {
	var validation *reservation.ValidationError
	var store *reservation.StoreError
	switch {
	case errors.Is(err, reservation.ErrNoInventory), errors.Is(err, reservation.ErrNoStagesOpen):
		s.writeJSON(w, statusNoInventory, apiError{Code: statusNoInventory, Message: reservation.ErrNoInventory.Error()})
	case errors.Is(err, reservation.ErrQuotaExceeded):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, reservation.ErrNotReserved),
		errors.Is(err, reservation.ErrNotReservedToWallet),
		errors.Is(err, reservation.ErrReservationExpired):
		s.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, reservation.ErrAlreadyProcessed):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, reservation.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &validation):
		s.writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &store):
		s.logger.Error("store failure", "op", store.Op, "error", store.Err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	default:
		s.logger.Error("unhandled error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
