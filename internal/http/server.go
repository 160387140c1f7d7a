package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/insight"
	"ledger/internal/ledger"
	"ledger/internal/log"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/middleware/security"
	"ledger/internal/middleware/trace"
	"ledger/internal/stats"
	"ledger/internal/storage"
)

// Identity headers set by the fronting authentication proxy.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// Deps are the collaborators the API serves from.
type Deps struct {
	Store  storage.Store
	Ledger *ledger.Manager
	Stats  *stats.Aggregator
	// Insights is optional; without it receipts are unavailable and monthly
	// insights fall back to canned text.
	Insights *insight.Service

	TxCreateLimit  int
	TxCreateWindow time.Duration

	Location *time.Location
	Now      func() time.Time
}

type Server struct {
	http.Server
	store    storage.Store
	ledger   *ledger.Manager
	stats    *stats.Aggregator
	insights *insight.Service
	loc      *time.Location
	now      func() time.Time
	started  time.Time

	txCreateLimiter *ratelimit.Limiter
	ipLimiter       *ratelimit.Limiter
	clientIP        *security.ClientIPResolver
	traceMiddleware *trace.Middleware

	// knownUsers remembers identities already upserted by this process.
	knownUsers *cache.LRUCache[struct{}]
	janitor    *cache.Janitor

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Stats == nil {
		deps.Stats = stats.NewAggregator(deps.Store)
	}

	s := &Server{
		store:    deps.Store,
		ledger:   deps.Ledger,
		stats:    deps.Stats,
		insights: deps.Insights,
		loc:      deps.Location,
		now:      deps.Now,
		started:  deps.Now(),

		txCreateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			Limit:  deps.TxCreateLimit,
			Window: deps.TxCreateWindow,
			Now:    deps.Now,
		}),
		ipLimiter: ratelimit.NewLimiter(ratelimit.Config{
			Limit:  120,
			Window: time.Minute,
			Now:    deps.Now,
		}),
		clientIP:   security.NewClientIPResolver(),
		knownUsers: cache.NewLRUCache[struct{}](10000, time.Hour),
		janitor:    cache.NewJanitor(),
	}
	s.traceMiddleware = trace.NewMiddleware(s.clientIP.ClientIP)
	s.janitor.Register(s.knownUsers)
	s.janitor.Start(10 * time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	api.HandleFunc("GET /api/accounts", s.handleListAccounts)
	api.HandleFunc("GET /api/accounts/{id}", s.handleGetAccount)
	api.HandleFunc("PUT /api/accounts/{id}/default", s.handleSetDefaultAccount)

	createTx := s.txCreateLimiter.Middleware(ownerKey, s.onTransactionLimit)
	api.Handle("POST /api/transactions", createTx(http.HandlerFunc(s.handleCreateTransaction)))
	api.HandleFunc("GET /api/transactions", s.handleListTransactions)
	api.HandleFunc("GET /api/transactions/{id}", s.handleGetTransaction)
	api.HandleFunc("PUT /api/transactions/{id}", s.handleUpdateTransaction)
	api.HandleFunc("POST /api/transactions/bulk-delete", s.handleBulkDelete)

	api.HandleFunc("PUT /api/budget", s.handleUpsertBudget)
	api.HandleFunc("GET /api/budget", s.handleCurrentBudget)

	api.HandleFunc("GET /api/stats/monthly", s.handleMonthlyStats)
	api.HandleFunc("GET /api/insights", s.handleInsights)
	api.HandleFunc("POST /api/receipts/scan", s.handleScanReceipt)

	ipLimit := s.ipLimiter.Middleware(s.clientIP.ClientIP, func(w http.ResponseWriter, _ *http.Request, retry time.Duration) {
		ErrorResponse(http.StatusTooManyRequests, "too many requests").RetryAfter(retry).Write(w)
	})
	mux.Handle("/api/", ipLimit(s.withIdentity(api)))

	var handler http.Handler = mux
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = log.RequestIDMiddleware(log.For(log.ComponentHTTP), trace.RequestIDFromRequest)(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.janitor.Stop()
		s.txCreateLimiter.Stop()
		s.ipLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

type ownerContextKey struct{}

// ownerFrom returns the authenticated owner id, or "".
func ownerFrom(ctx context.Context) string {
	id, _ := ctx.Value(ownerContextKey{}).(string)
	return id
}

func ownerKey(r *http.Request) string {
	return ownerFrom(r.Context())
}

// withIdentity resolves the caller from the identity headers and upserts the
// user the first time this process sees them.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sanitizeInput(r.Header.Get(HeaderUserID))
		if id == "" || len(id) > 128 {
			ErrorResponse(http.StatusUnauthorized, core.ErrUnauthorized.Error()).Write(w)
			return
		}

		ctx := r.Context()
		if _, seen := s.knownUsers.Get(id); !seen {
			err := s.ledger.EnsureUser(ctx, core.User{
				ID:    id,
				Email: sanitizeInput(r.Header.Get(HeaderUserEmail)),
				Name:  sanitizeInput(r.Header.Get(HeaderUserName)),
			})
			if err != nil {
				ErrorFrom(r, err).Write(w)
				return
			}
			s.knownUsers.Set(id, struct{}{})
		}

		logger := log.FromContext(ctx).With(log.FieldOwnerID, id)
		ctx = log.NewContext(context.WithValue(ctx, ownerContextKey{}, id), logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) onTransactionLimit(w http.ResponseWriter, r *http.Request, retry time.Duration) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Transaction creation rate limited",
		"retry_after", retry.String())
	ErrorResponse(http.StatusTooManyRequests, core.ErrRateLimited.Error()).RetryAfter(retry).Write(w)
}
