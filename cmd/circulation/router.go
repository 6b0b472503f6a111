package main

import (
	"context"
	"net/http"
	"time"

	"librarium/internal/access"
	"librarium/internal/auth"
	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/config"
	"librarium/internal/fines"
	"librarium/internal/httpx"
	"librarium/internal/integrity"
	"librarium/internal/membership"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// backend is what the service needs from a store. Both the postgres and
// the in-memory store satisfy it.
type backend interface {
	integrity.Source

	Circulation() circulation.Repository
	Fines() fines.Repository
	Catalog() catalog.Repository
	Membership() membership.Repository
	Settings(ctx context.Context) (map[string]string, error)
	Ping(ctx context.Context) error
	Close() error
}

type app struct {
	logger   *zap.Logger
	store    backend
	issuer   *auth.Issuer
	matrix   *access.Matrix
	registry *prometheus.Registry
	metrics  *httpx.Metrics
	auditor  *integrity.Auditor

	circulation *circulation.Handler
	catalog     *catalog.Handler
	fines       *fines.Handler
	membership  *membership.Handler

	// eventsHealthy is nil when no broker is configured.
	eventsHealthy func() bool
}

func newApp(cfg *config.Config, st backend, policy circulation.Policy, pub fines.Publisher, log *zap.Logger, now func() time.Time) (*app, error) {
	circ, err := circulation.NewService(st.Circulation(), policy, log.Named("circulation"),
		circulation.WithPublisher(pub),
		circulation.WithClock(now),
	)
	if err != nil {
		return nil, err
	}
	ledger := fines.NewService(st.Fines(), log.Named("fines"),
		fines.WithPublisher(pub),
		fines.WithClock(now),
	)
	books := catalog.NewService(st.Catalog(), log.Named("catalog"))
	members := membership.NewService(st.Membership(), log.Named("membership"), membership.WithClock(now))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	matrix := access.DefaultMatrix()
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	return &app{
		logger:      log,
		store:       st,
		issuer:      issuer,
		matrix:      matrix,
		registry:    reg,
		metrics:     httpx.NewMetrics(reg),
		auditor:     integrity.NewAuditor(st, policy.MaxBorrowingsPerUser),
		circulation: circulation.NewHandler(circ, matrix, log),
		catalog:     catalog.NewHandler(books, log),
		fines:       fines.NewHandler(ledger, log),
		membership:  membership.NewHandler(members, issuer, matrix, cfg.RegistrationEnabled, log),
	}, nil
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.RequestLogger(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(a.metrics.Middleware)

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Post("/login", a.membership.HandleLogin)
	r.With(auth.Optional(a.issuer)).Post("/users", a.membership.HandleRegister)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(a.issuer))
		can := func(res access.Resource, act access.Action) func(http.Handler) http.Handler {
			return auth.Require(a.matrix, res, act)
		}

		r.Get("/users/{id}", a.membership.HandleGet)
		r.With(can(access.Users, access.Update)).Patch("/users/{id}/status", a.membership.HandleSetStatus)

		r.Route("/books", func(r chi.Router) {
			r.With(can(access.Books, access.Read)).Get("/", a.catalog.HandleList)
			r.With(can(access.Books, access.Create)).Post("/", a.catalog.HandleAdd)
			r.With(can(access.Books, access.Read)).Get("/{id}", a.catalog.HandleGet)
			r.With(can(access.Books, access.Update)).Patch("/{id}", a.catalog.HandleSetQuantity)
			r.With(can(access.Books, access.Delete)).Delete("/{id}", a.catalog.HandleDelete)
		})

		r.Route("/borrowings", func(r chi.Router) {
			r.With(can(access.Borrowing, access.Create)).Post("/", a.circulation.HandleBorrow)
			r.Get("/mine", a.circulation.HandleMine)
			r.With(can(access.Reports, access.Read)).Get("/overdue", a.circulation.HandleOverdue)
			r.Get("/{id}", a.circulation.HandleGet)
			r.With(can(access.Borrowing, access.Update)).Post("/{id}/return", a.circulation.HandleReturn)
			r.With(can(access.Borrowing, access.Update)).Post("/{id}/renew", a.circulation.HandleRenew)
		})

		r.Route("/fines", func(r chi.Router) {
			r.Get("/mine", a.fines.HandleMine)
			r.With(can(access.Fines, access.Read)).Get("/{id}", a.fines.HandleGet)
			r.With(can(access.Fines, access.Update)).Post("/{id}/payments", a.fines.HandlePayment)
		})

		r.With(can(access.Reports, access.Read)).Get("/stats", a.circulation.HandleStats)
		r.With(can(access.Reports, access.Read)).Get("/reports/integrity", a.handleIntegrity)
	})

	return r
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Events   string `json:"events"`
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "up", Events: "disabled"}
	status := http.StatusOK
	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("health check: database unreachable", zap.Error(err))
		resp.Status, resp.Database = "unavailable", "down"
		status = http.StatusServiceUnavailable
	}
	if a.eventsHealthy != nil {
		resp.Events = "up"
		if !a.eventsHealthy() {
			resp.Events = "down"
			if status == http.StatusOK {
				resp.Status = "degraded"
			}
		}
	}
	httpx.WriteJSON(w, status, resp)
}

func (a *app) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := a.auditor.Run(r.Context())
	if err != nil {
		a.logger.Error("integrity audit failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "", "audit failed")
		return
	}
	if !report.Healthy {
		a.logger.Warn("integrity audit found violations", zap.Int("violations", len(report.Violations)))
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}
