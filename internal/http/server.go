package http

import (
	"context"
	"net/http"
	"time"

	"breakthebill/internal/core"
	"breakthebill/internal/log"
	"breakthebill/internal/middleware/trace"
	"breakthebill/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/unrolled/secure"
	"golang.org/x/text/currency"
)

// Ledger is the part of services.LedgerService the handlers use.
type Ledger interface {
	CreateGroup(ctx context.Context, name string, cur currency.Unit, actor core.Member) (core.Group, error)
	GetGroup(ctx context.Context, id core.GroupID, actor core.MemberID) (core.Group, error)
	ListGroups(ctx context.Context, actor core.MemberID) ([]core.Group, error)
	JoinGroup(ctx context.Context, code string, actor core.Member) (core.Group, error)
	LeaveGroup(ctx context.Context, id core.GroupID, actor core.MemberID) error
	KickMember(ctx context.Context, id core.GroupID, actor, member core.MemberID) error
	TransferOwnership(ctx context.Context, id core.GroupID, actor, to core.MemberID) error
	DeleteGroup(ctx context.Context, id core.GroupID, actor core.MemberID) error

	AddExpense(ctx context.Context, id core.GroupID, actor core.MemberID, in core.ExpenseInput) (core.Expense, error)
	EditExpense(ctx context.Context, id core.GroupID, actor core.MemberID, expenseID core.ExpenseID, in core.ExpenseInput) (core.Expense, error)
	DeleteExpense(ctx context.Context, id core.GroupID, actor core.MemberID, expenseID core.ExpenseID) (core.Expense, error)
	ListExpenses(ctx context.Context, id core.GroupID, actor core.MemberID) ([]core.Expense, error)
	ExpenseHistory(ctx context.Context, id core.GroupID, actor core.MemberID, expenseID core.ExpenseID) (core.ExpenseHistory, error)

	RecordSettlement(ctx context.Context, id core.GroupID, actor core.MemberID, in core.SettlementInput) (core.Settlement, error)
	ListSettlements(ctx context.Context, id core.GroupID, actor core.MemberID) ([]core.Settlement, error)

	Balances(ctx context.Context, id core.GroupID, actor core.MemberID) (services.BalanceSnapshot, error)
	SettleUp(ctx context.Context, id core.GroupID, actor core.MemberID) ([]core.Transfer, error)
	Summary(ctx context.Context, id core.GroupID, actor core.MemberID) (core.GroupSummary, error)
	PreviewSplit(ctx context.Context, spec core.SplitSpec) (core.Shares, error)
}

var _ Ledger = (*services.LedgerService)(nil)

type Options struct {
	RequestTimeout     time.Duration
	RateLimitPerMinute int
	// DefaultCurrency applies to groups and previews that name none.
	DefaultCurrency currency.Unit
	// SSLRedirect enables the HTTPS redirect of the security middleware.
	SSLRedirect bool
	Logger      *log.Logger
	// Ready backs /readyz. Nil means always ready.
	Ready func(context.Context) error
}

type Server struct {
	http.Server
	ledger          Ledger
	validate        *validator.Validate
	logger          *log.Logger
	trace           *trace.Middleware
	defaultCurrency currency.Unit
	ready           func(context.Context) error
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, ledger Ledger, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.ForComponent(log.ComponentHTTP, "info")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = 120
	}
	if opts.DefaultCurrency == (currency.Unit{}) {
		opts.DefaultCurrency = core.DefaultCurrency
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       opts.RequestTimeout,
			WriteTimeout:      opts.RequestTimeout + 5*time.Second,
			IdleTimeout:       60 * time.Second,
		},
		ledger:          ledger,
		validate:        newValidator(),
		logger:          logger,
		trace:           trace.NewMiddleware(logger),
		defaultCurrency: opts.DefaultCurrency,
		ready:           opts.Ready,
	}
	s.Handler = s.routes(opts)
	return s
}

func (s *Server) routes(opts Options) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           opts.SSLRedirect,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.trace.Handler)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := secureMiddleware.Process(w, r); err != nil {
				s.logger.Warn("Secure headers blocked request", "error", err, "path", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeProblem(w, r, problem{Status: http.StatusNotFound, Title: "Not Found", Detail: "no route for " + r.URL.Path})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeProblem(w, r, problem{Status: http.StatusMethodNotAllowed, Title: "Method Not Allowed"})
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/v1", func(r chi.Router) {
		r.Use(httprate.Limit(opts.RateLimitPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				s.writeProblem(w, r, problem{Status: http.StatusTooManyRequests, Title: "Too Many Requests", Detail: "rate limit exceeded"})
			}),
		))

		r.Post("/splits/preview", s.handlePreviewSplit)

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.handleListGroups)
			r.Post("/", s.handleCreateGroup)
			r.Post("/join", s.handleJoinGroup)

			r.Route("/{groupID}", func(r chi.Router) {
				r.Get("/", s.handleGetGroup)
				r.Delete("/", s.handleDeleteGroup)
				r.Post("/leave", s.handleLeaveGroup)
				r.Post("/owner", s.handleTransferOwnership)
				r.Delete("/members/{memberID}", s.handleKickMember)

				r.Get("/expenses", s.handleListExpenses)
				r.Post("/expenses", s.handleAddExpense)
				r.Put("/expenses/{expenseID}", s.handleEditExpense)
				r.Delete("/expenses/{expenseID}", s.handleDeleteExpense)
				r.Get("/expenses/{expenseID}/history", s.handleExpenseHistory)

				r.Get("/settlements", s.handleListSettlements)
				r.Post("/settlements", s.handleRecordSettlement)

				r.Get("/balances", s.handleBalances)
				r.Get("/settle-up", s.handleSettleUp)
				r.Get("/summary", s.handleSummary)
			})
		})
	})
	return r
}

// Metrics returns the request counters collected by the trace middleware.
func (s *Server) Metrics() trace.Metrics {
	return s.trace.GetMetrics()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(r.Context()).Warn("Readiness check failed", "error", err)
			s.writeProblem(w, r, problem{Status: http.StatusServiceUnavailable, Title: "Service Unavailable", Detail: "dependencies not ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
