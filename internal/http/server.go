package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"saldo/internal/core"
	"saldo/internal/ledger"
	"saldo/internal/log"
	"saldo/internal/middleware/ratelimit"
	"saldo/internal/middleware/security"
	"saldo/internal/middleware/trace"
	"saldo/internal/services"
)

// Pinger reports whether the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the API.
type Deps struct {
	DB         Pinger
	Users      *services.Users
	Currencies *services.Currencies
	Accounts   *services.Accounts
	Categories *services.Categories
	Ledger     *ledger.Engine
}

type Options struct {
	RateLimitPerMinute int
	Logger             *log.Logger
}

type Server struct {
	http.Server
	deps    Deps
	auth    Authenticator
	limiter *ratelimit.Limiter
	ips     *security.IPResolver
	tracer  *trace.Middleware
	logger  *log.Logger
	started time.Time

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	ips := security.MustIPResolver(security.DefaultTrustedProxies...)
	s := &Server{
		deps:    deps,
		auth:    deps.Users,
		limiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		ips:     ips,
		tracer:  trace.NewMiddleware(logger, ips.ClientIP),
		logger:  logger,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var h http.Handler = mux
	h = s.limiter.Middleware(ips.ClientIP, s.rateLimited)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)

	mux.HandleFunc("GET /api/users/me", s.withUser(s.handleGetMe))
	mux.HandleFunc("PUT /api/users/me", s.withUser(s.handleUpdateMe))
	mux.HandleFunc("DELETE /api/users/me", s.withUser(s.handleDeleteMe))

	mux.HandleFunc("GET /api/currencies", s.handleListCurrencies)
	mux.HandleFunc("GET /api/currencies/{code}", s.handleGetCurrency)
	mux.HandleFunc("GET /api/account-categories", s.handleListAccountCategories)

	mux.HandleFunc("GET /api/accounts", s.withUser(s.handleListAccounts))
	mux.HandleFunc("POST /api/accounts", s.withUser(s.handleCreateAccount))
	mux.HandleFunc("GET /api/accounts/{id}", s.withUser(s.handleGetAccount))
	mux.HandleFunc("PUT /api/accounts/{id}", s.withUser(s.handleUpdateAccount))
	mux.HandleFunc("DELETE /api/accounts/{id}", s.withUser(s.handleDeleteAccount))

	mux.HandleFunc("GET /api/categories", s.withUser(s.handleListCategories))
	mux.HandleFunc("POST /api/categories", s.withUser(s.handleCreateCategory))
	mux.HandleFunc("PUT /api/categories/{id}", s.withUser(s.handleUpdateCategory))
	mux.HandleFunc("DELETE /api/categories/{id}", s.withUser(s.handleDeleteCategory))

	mux.HandleFunc("GET /api/transactions", s.withUser(s.handleListTransactions))
	mux.HandleFunc("GET /api/transactions/recent", s.withUser(s.handleRecentTransactions))
	mux.HandleFunc("GET /api/transactions/{id}", s.withUser(s.handleGetTransaction))
	mux.HandleFunc("POST /api/transactions", s.withUser(s.handleCreateTransaction))
	mux.HandleFunc("POST /api/transactions/transfer", s.withUser(s.handleCreateTransfer))
	mux.HandleFunc("PUT /api/transactions/{id}", s.withUser(s.handleUpdateTransaction))
	mux.HandleFunc("PUT /api/transactions/transfer/{id}", s.withUser(s.handleUpdateTransfer))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.withUser(s.handleDeleteTransaction))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("Not Found - " + r.URL.Path).Write(w)
	})
}

// Shutdown stops the rate limiter and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// rateLimited writes the 429 answer. Retry-After is already set.
func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).
		WarnContext(r.Context(), "Rate limit exceeded", log.FieldClientIP, s.ips.ClientIP(r))
	RateLimitedError().Write(w)
}

// fail logs err at a level matching its kind and writes the error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	ctx := r.Context()
	if core.KindOf(err) == core.KindInternal {
		fields := log.NewFields().WithUser(currentUser(ctx).ID)
		log.FromContext(ctx).WithComponent(log.ComponentHTTP).Failure(ctx, "Request failed", err, op, fields)
	} else {
		log.FromContext(ctx).DebugContext(ctx, "Request rejected",
			log.FieldOperation, op,
			log.FieldErrorKind, string(core.KindOf(err)),
			log.FieldError, err)
	}
	FailureResponse(err).Write(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	m := s.tracer.GetMetrics()
	NewJSONResponse().Data(map[string]any{
		"status":         "ok",
		"uptime":         time.Since(s.started).Round(time.Second).String(),
		"requests_total": m.TotalRequests,
		"in_flight":      m.InFlight,
	}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]any{
		"rate_limiter": map[string]any{
			"active_clients": s.limiter.ActiveClients(),
			"rejected":       s.limiter.Rejected(),
		},
	}
	if s.deps.DB == nil {
		checks["database"] = "not_configured"
		ErrorResponse(http.StatusServiceUnavailable, core.KindInternal, "not ready").Data(checks).Write(w)
		return
	}
	if err := s.deps.DB.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		checks["database"] = "failed"
		ErrorResponse(http.StatusServiceUnavailable, core.KindInternal, "not ready").Data(checks).Write(w)
		return
	}
	checks["database"] = "ok"
	NewJSONResponse().Data(map[string]any{"status": "ready", "checks": checks}).Write(w)
}
