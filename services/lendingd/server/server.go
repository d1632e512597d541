package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	nativecommon "p2plend/native/common"
	"p2plend/native/lending"
	"p2plend/observability"
	telemetry "p2plend/observability/otel"
	"p2plend/services/lendingd/journal"
)

const maxBodyBytes = 1 << 20

// Engine describes the lending operations exposed over HTTP.
type Engine interface {
	Initialize(admin, usdcToken, xlmToken, oracle string, maxRate uint32) error
	SetMaxInterestRate(admin string, maxRate uint32) error
	SetOracle(admin, oracle string) error
	Pause(admin string) error
	Unpause(admin string) error
	Mint(admin, asset, recipient string, amount *big.Int) error

	CreateOffer(lender string, p lending.OfferParams) (uint64, error)
	CancelOffer(lender string, offerID uint64) error
	WithdrawFromOffer(lender string, offerID uint64, amount *big.Int) error
	Borrow(borrower string, offerID uint64, collateral, amount *big.Int) (uint64, error)
	Repay(borrower string, loanID uint64, amount *big.Int) error
	AddCollateral(borrower string, loanID uint64, amount *big.Int) error
	WithdrawCollateral(borrower string, loanID uint64, amount *big.Int) error
	Liquidate(liquidator string, loanID uint64) (*lending.Settlement, error)

	Market() (*lending.MarketConfig, error)
	EscrowAccount() string
	Offer(id uint64) (*lending.Offer, error)
	Loan(id uint64) (*lending.Loan, error)
	LoanHealth(id uint64) (*lending.LoanHealth, error)
	IsLiquidatable(id uint64) (bool, error)
	BatchCheckLiquidatable(ids []uint64) ([]uint64, error)
	LoanInterest(id uint64) (*big.Int, error)
	LiquidationDistance(id uint64) (*big.Int, error)
	CurrentPrice() (lending.PriceQuote, error)
	UserOffers(user string) ([]uint64, error)
	BorrowerLoans(user string) ([]uint64, error)
	LenderLoans(user string) ([]uint64, error)
	ActiveOffers() ([]uint64, error)
	ActiveLoans() ([]uint64, error)
	ListOffers(sortBy lending.SortOption, offset, limit uint32) ([]*lending.Offer, error)
	Portfolio(user string) (*lending.Portfolio, error)
	Balance(asset, account string) (*big.Int, error)
}

// PriceSetter accepts operator price overrides.
type PriceSetter interface {
	SetDecimal(asset, price string, ts time.Time) error
}

// Config captures the HTTP surface settings.
type Config struct {
	Auth              AuthConfig
	RequestsPerSecond float64
	Burst             int
	FaucetEnabled     bool
	FaucetQuota       nativecommon.Quota
	// PriceOverride, when set, enables POST /v1/oracle/price for the admin.
	PriceOverride PriceSetter
	// AssetUnit is the base-unit size of one whole token, used to charge the
	// faucet quota. Defaults to 10^7.
	AssetUnit *big.Int
	// AllowedOrigins lists host patterns admitted to the event stream besides
	// the server's own origin.
	AllowedOrigins []string
}

// Server exposes the lending engine over a chi router.
type Server struct {
	engine  Engine
	journal *journal.Journal
	auth    *Authenticator
	logger  *slog.Logger
	metrics *observability.LendingMetrics
	tracer  trace.Tracer
	cfg     Config
	now     func() time.Time

	// writeMu serialises mutations so that journal and stream delivery follow
	// commit order. The engine emits after releasing its own lock.
	writeMu sync.Mutex

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	faucet    *nativecommon.QuotaTracker
}

// New wires a server. journal and metrics may be nil.
func New(engine Engine, j *journal.Journal, cfg Config, logger *slog.Logger, metrics *observability.LendingMetrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AssetUnit == nil || cfg.AssetUnit.Sign() <= 0 {
		cfg.AssetUnit = big.NewInt(10_000_000)
	}
	return &Server{
		engine:   engine,
		journal:  j,
		auth:     NewAuthenticator(cfg.Auth, logger),
		logger:   logger,
		metrics:  metrics,
		tracer:   telemetry.Tracer("p2plend/lendingd"),
		cfg:      cfg,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
		faucet:   nativecommon.NewQuotaTracker(cfg.FaucetQuota),
	}
}

// Handler returns the full HTTP handler including tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.Routes(), "lendingd")
}

// Routes builds the chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.recoverer, s.accessLog)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware, s.rateLimit, s.observe)

		r.Get("/admin", s.handleMarket)
		r.Post("/admin/initialize", s.handleInitialize)
		r.Post("/admin/max-rate", s.handleSetMaxRate)
		r.Post("/admin/oracle", s.handleSetOracle)
		r.Post("/admin/pause", s.handlePause)
		r.Post("/admin/unpause", s.handleUnpause)

		r.Get("/offers", s.handleListOffers)
		r.Post("/offers", s.handleCreateOffer)
		r.Get("/offers/active", s.handleActiveOffers)
		r.Get("/offers/{id}", s.handleGetOffer)
		r.Post("/offers/{id}/cancel", s.handleCancelOffer)
		r.Post("/offers/{id}/withdraw", s.handleWithdrawOffer)

		r.Post("/loans", s.handleBorrow)
		r.Get("/loans/active", s.handleActiveLoans)
		r.Post("/loans/liquidatable", s.handleBatchLiquidatable)
		r.Get("/loans/{id}", s.handleGetLoan)
		r.Get("/loans/{id}/health", s.handleLoanHealth)
		r.Get("/loans/{id}/interest", s.handleLoanInterest)
		r.Get("/loans/{id}/liquidatable", s.handleIsLiquidatable)
		r.Get("/loans/{id}/events", s.handleLoanEvents)
		r.Post("/loans/{id}/repay", s.handleRepay)
		r.Post("/loans/{id}/collateral/add", s.handleAddCollateral)
		r.Post("/loans/{id}/collateral/withdraw", s.handleWithdrawCollateral)
		r.Post("/loans/{id}/liquidate", s.handleLiquidate)

		r.Get("/users/{addr}/offers", s.handleUserOffers)
		r.Get("/users/{addr}/loans", s.handleUserLoans)
		r.Get("/users/{addr}/portfolio", s.handlePortfolio)
		r.Get("/users/{addr}/events", s.handleUserEvents)
		r.Get("/balances/{asset}/{account}", s.handleBalance)

		r.Get("/price", s.handlePrice)
		r.Post("/oracle/price", s.handleSetPrice)
		r.Post("/faucet", s.handleFaucet)
		r.Get("/events/ws", s.handleEventStream)
	})
	return r
}

// write runs fn with the write lock held.
func (s *Server) write(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn()
}

func (s *Server) requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := CallerFromContext(r.Context())
	if caller == "" {
		writeCoded(w, http.StatusUnauthorized, lending.ErrUnauthorized.Code, "caller identity required")
		return "", false
	}
	return caller, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeCoded(w, http.StatusBadRequest, lending.ErrInvalidInput.Code, "request body required")
			return false
		}
		writeCoded(w, http.StatusBadRequest, lending.ErrInvalidInput.Code, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		writeCoded(w, http.StatusBadRequest, lending.ErrInvalidInput.Code, fmt.Sprintf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

func queryUint32(r *http.Request, key string, fallback uint32) (uint32, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return uint32(v), nil
}

func amountOrError(w http.ResponseWriter, field, raw string) (*big.Int, bool) {
	v, err := parseAmount(field, raw)
	if err != nil {
		writeCoded(w, http.StatusBadRequest, lending.ErrInvalidInput.Code, err.Error())
		return nil, false
	}
	return v, true
}

// limiterFor returns the token bucket of a caller or, for anonymous reads,
// of the remote address.
func (s *Server) limiterFor(key string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)
		s.limiters[key] = limiter
	}
	return limiter
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RequestsPerSecond <= 0 || s.cfg.Burst <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		key := CallerFromContext(r.Context())
		if key == "" {
			key = remoteHost(r.RemoteAddr)
		}
		if !s.limiterFor(key).Allow() {
			s.metrics.RecordThrottle(routePattern(r), "rate_limit")
			writeMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack exposes the underlying connection for the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Unwrap lets http.ResponseController and the websocket upgrade reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// observe records per-route metrics and a lending span carrying the caller.
// Routing has already resolved the chi pattern by the time next returns.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := s.tracer.Start(r.Context(), "lending "+r.Method)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		route := routePattern(r)
		span.SetName("lending " + r.Method + " " + route)
		span.SetAttributes(
			attribute.String("lending.caller", CallerFromContext(r.Context())),
			attribute.Int("http.status_code", rec.status),
		)
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		s.metrics.Observe(route, rec.status, time.Since(start))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"caller", CallerFromContext(r.Context()),
			"duration", time.Since(start))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic in handler", "method", r.Method, "path", r.URL.Path, "panic", rec)
				writeMessage(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func remoteHost(addr string) string {
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	return addr
}
