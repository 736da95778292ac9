package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"crossledger/core/events"
	"crossledger/gateway/middleware"
	"crossledger/services/lending/engine"
)

const (
	requestBodyLimit = 1 << 20 // 1 MiB

	// Rate limit keys understood by the configured RateLimiter.
	LimitRead  = "read"
	LimitWrite = "write"
	LimitAdmin = "admin"
)

// EventLog returns journaled lending events.
type EventLog interface {
	List(ctx context.Context, q events.Query) ([]events.Envelope, error)
}

// EventFeed streams lending events as they are committed.
type EventFeed interface {
	Subscribe(ctx context.Context) (<-chan events.Envelope, func())
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine         engine.Engine
	Logger         *slog.Logger
	Auth           *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	CORS           *middleware.CORSConfig
	Events         EventLog
	Stream         EventFeed
	Metrics        http.Handler
	RequestTimeout time.Duration
	// WSOriginPatterns restricts websocket upgrades; empty allows same-origin only.
	WSOriginPatterns []string
}

// Service serves the lending HTTP API on top of an engine adapter.
type Service struct {
	engine  engine.Engine
	logger  *slog.Logger
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
	cors    *middleware.CORSConfig
	events  EventLog
	stream  EventFeed
	metrics http.Handler
	timeout time.Duration
	origins []string

	router http.Handler
}

// New constructs the lending service and its router.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	s := &Service{
		engine:  cfg.Engine,
		logger:  logger.With("component", "lending-api"),
		auth:    cfg.Auth,
		limiter: cfg.RateLimiter,
		obs:     cfg.Observability,
		cors:    cfg.CORS,
		events:  cfg.Events,
		stream:  cfg.Stream,
		metrics: cfg.Metrics,
		timeout: cfg.RequestTimeout,
		origins: cfg.WSOriginPatterns,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Service) Handler() http.Handler {
	return s.router
}

func (s *Service) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if s.cors != nil {
		r.Use(middleware.CORS(*s.cors))
	}

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/v1", func(api chi.Router) {
		if s.obs != nil {
			api.Use(s.obs.Handler)
		}
		api.Group(func(read chi.Router) {
			read.Use(s.limit(LimitRead))
			read.Get("/reserves", s.listReserves)
			read.Get("/reserves/{asset}", s.getReserve)
			read.Get("/accounts/{user}/positions", s.getPositions)
			read.Get("/accounts/{user}/health", s.getHealth)
			read.Post("/accounts/{user}/simulate", s.simulate)
			read.Get("/events", s.listEvents)
			read.Get("/events/ws", s.streamEvents)
		})
		api.Group(func(write chi.Router) {
			write.Use(s.authenticate())
			write.Use(s.limit(LimitWrite))
			write.Post("/deposit", s.deposit)
			write.Post("/withdraw", s.withdraw)
			write.Post("/borrow", s.borrow)
			write.Post("/repay", s.repay)
			write.Post("/collateral", s.setCollateral)
			write.Post("/liquidate", s.liquidate)
		})
		api.Route("/admin", func(admin chi.Router) {
			admin.Use(s.authenticate(middleware.ScopeAdmin))
			admin.Use(s.limit(LimitAdmin))
			admin.Get("/controls", s.getControls)
			admin.Post("/prices", s.setPrice)
			admin.Post("/reserves/{asset}/active", s.setReserveActive)
			admin.Post("/reserves/{asset}/emergency", s.setEmergencyWithdraw)
			admin.Post("/pause", s.setPaused)
			admin.Post("/fees/withdraw", s.withdrawFees)
		})
	})
	return r
}

func (s *Service) authenticate(scopes ...string) func(http.Handler) http.Handler {
	if s.auth == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.auth.Middleware(scopes...)
}

func (s *Service) limit(key string) func(http.Handler) http.Handler {
	if s.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.limiter.Middleware(key)
}

func (s *Service) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// authorizeActor rejects authenticated callers acting for another account
// unless they hold the admin scope. Unauthenticated deployments are open.
func (s *Service) authorizeActor(r *http.Request, actor string) error {
	ctx := r.Context()
	if !middleware.Authenticated(ctx) || middleware.HasScope(ctx, middleware.ScopeAdmin) {
		return nil
	}
	subject := middleware.Subject(ctx)
	if subject == "" || !strings.EqualFold(subject, strings.TrimSpace(actor)) {
		return fmt.Errorf("caller %q may not act for %q: %w", subject, actor, engine.ErrUnauthorized)
	}
	return nil
}

func (s *Service) healthz(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errors.New("lending engine unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type actionRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type repayRequest struct {
	Payer  string `json:"payer"`
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type repayResponse struct {
	Repaid string `json:"repaid"`
}

type collateralRequest struct {
	User    string `json:"user"`
	Asset   string `json:"asset"`
	Enabled bool   `json:"enabled"`
}

type liquidateRequest struct {
	Liquidator      string `json:"liquidator"`
	User            string `json:"user"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	Amount          string `json:"amount"`
}

type simulateRequest struct {
	Asset     string `json:"asset"`
	ChangeBps int64  `json:"changeBps"`
}

type priceRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type feesRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type positionFn func(ctx context.Context, user, asset, amount string) (engine.Position, error)

func (s *Service) positionAction(action string, fn func(engine.Engine) positionFn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req actionRequest
		if err := decodeRequest(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.authorizeActor(r, req.User); err != nil {
			s.writeEngineError(w, action, err)
			return
		}
		ctx, cancel := s.context(r.Context())
		defer cancel()
		position, err := fn(s.engine)(ctx, req.User, req.Asset, req.Amount)
		if err != nil {
			s.writeEngineError(w, action, err)
			return
		}
		writeJSON(w, http.StatusOK, position)
	}
}

func (s *Service) deposit(w http.ResponseWriter, r *http.Request) {
	s.positionAction("deposit", func(e engine.Engine) positionFn { return e.Deposit })(w, r)
}

func (s *Service) withdraw(w http.ResponseWriter, r *http.Request) {
	s.positionAction("withdraw", func(e engine.Engine) positionFn { return e.Withdraw })(w, r)
}

func (s *Service) borrow(w http.ResponseWriter, r *http.Request) {
	s.positionAction("borrow", func(e engine.Engine) positionFn { return e.Borrow })(w, r)
}

func (s *Service) repay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	actor := req.Payer
	if strings.TrimSpace(actor) == "" {
		actor = req.User
	}
	if err := s.authorizeActor(r, actor); err != nil {
		s.writeEngineError(w, "repay", err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	repaid, err := s.engine.Repay(ctx, req.Payer, req.User, req.Asset, req.Amount)
	if err != nil {
		s.writeEngineError(w, "repay", err)
		return
	}
	writeJSON(w, http.StatusOK, repayResponse{Repaid: repaid})
}

func (s *Service) setCollateral(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.authorizeActor(r, req.User); err != nil {
		s.writeEngineError(w, "collateral", err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	position, err := s.engine.SetCollateral(ctx, req.User, req.Asset, req.Enabled)
	if err != nil {
		s.writeEngineError(w, "collateral", err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (s *Service) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.authorizeActor(r, req.Liquidator); err != nil {
		s.writeEngineError(w, "liquidate", err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	result, err := s.engine.Liquidate(ctx, req.Liquidator, req.User, req.DebtAsset, req.CollateralAsset, req.Amount)
	if err != nil {
		s.writeEngineError(w, "liquidate", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) listReserves(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	reserves, err := s.engine.ListReserves(ctx)
	if err != nil {
		s.writeEngineError(w, "list_reserves", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reserves": reserves})
}

func (s *Service) getReserve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	reserve, err := s.engine.GetReserve(ctx, chi.URLParam(r, "asset"))
	if err != nil {
		s.writeEngineError(w, "get_reserve", err)
		return
	}
	writeJSON(w, http.StatusOK, reserve)
}

func (s *Service) getPositions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	positions, err := s.engine.GetPositions(ctx, chi.URLParam(r, "user"))
	if err != nil {
		s.writeEngineError(w, "get_positions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (s *Service) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	health, err := s.engine.GetHealth(ctx, chi.URLParam(r, "user"))
	if err != nil {
		s.writeEngineError(w, "get_health", err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Service) simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	sim, err := s.engine.Simulate(ctx, chi.URLParam(r, "user"), req.Asset, req.ChangeBps)
	if err != nil {
		s.writeEngineError(w, "simulate", err)
		return
	}
	writeJSON(w, http.StatusOK, sim)
}

func (s *Service) getControls(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	controls, err := s.engine.GetControls(ctx)
	if err != nil {
		s.writeEngineError(w, "get_controls", err)
		return
	}
	writeJSON(w, http.StatusOK, controls)
}

func (s *Service) setPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := s.engine.SetPrice(ctx, req.Asset, req.Price); err != nil {
		s.writeEngineError(w, "set_price", err)
		return
	}
	s.logger.Info("price updated", "asset", req.Asset, "price", req.Price)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) setReserveActive(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := s.engine.SetReserveActive(ctx, chi.URLParam(r, "asset"), req.Enabled); err != nil {
		s.writeEngineError(w, "set_reserve_active", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) setEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := s.engine.SetEmergencyWithdraw(ctx, chi.URLParam(r, "asset"), req.Enabled); err != nil {
		s.writeEngineError(w, "set_emergency_withdraw", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) setPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := s.engine.SetPaused(ctx, req.Paused); err != nil {
		s.writeEngineError(w, "set_paused", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) withdrawFees(w http.ResponseWriter, r *http.Request) {
	var req feesRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := s.engine.WithdrawFees(ctx, req.Asset, req.Amount); err != nil {
		s.writeEngineError(w, "withdraw_fees", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errors.New("event journal not configured"))
		return
	}
	query := events.Query{
		User: strings.TrimSpace(r.URL.Query().Get("user")),
		Type: strings.TrimSpace(r.URL.Query().Get("type")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		query.Limit = limit
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	entries, err := s.events.List(ctx, query)
	if err != nil {
		s.writeEngineError(w, "list_events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

func (s *Service) writeEngineError(w http.ResponseWriter, action string, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("lending engine error", "action", action, "error", err)
		writeJSONError(w, status, errors.New("internal error"))
		return
	}
	writeJSONError(w, status, err)
}

func decodeRequest(r *http.Request, out any) error {
	body := http.MaxBytesReader(nil, r.Body, requestBodyLimit)
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
