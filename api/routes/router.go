package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/jobrouter/api/controllers"
	"github.com/angelmondragon/jobrouter/api/middleware"
	"github.com/angelmondragon/jobrouter/internal/assignment"
	"github.com/angelmondragon/jobrouter/pkg/config"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	"github.com/angelmondragon/jobrouter/pkg/logger"
	"github.com/angelmondragon/jobrouter/pkg/redis"
)

// Deps carries everything the HTTP surface calls into. Redis is optional;
// without it idempotency and re-run throttling are off.
type Deps struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         controllers.Pinger
	Redis      *redis.Client
	Assignment assignment.Service
	RunLog     controllers.RunLogReader
	Rules      controllers.RuleAdmin
	Capacity   controllers.CapacityAdmin
	Designers  controllers.DesignerOwners
	Metrics    http.Handler
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	checks := []controllers.ReadinessCheck{{Name: "db", Pinger: d.DB}}
	var idempotency redis.IdempotencyStore
	rerunLimit := func(next http.Handler) http.Handler { return next }
	if d.Redis != nil {
		checks = append(checks, controllers.ReadinessCheck{Name: "redis", Pinger: d.Redis})
		idempotency = d.Redis
		rerunLimit = middleware.RateLimit(
			middleware.NewRateLimitPolicy("rerun", "jobId", cfg.RateLimit.RerunWindow, cfg.RateLimit.RerunLimit),
			d.Redis,
			logg,
		)
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, checks...))
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRolePlatformAdmin, enums.ActorRoleVendorAdmin, enums.ActorRoleSystem))
		r.Use(middleware.Idempotency(idempotency, logg))

		r.Route("/jobs/{jobId}/automation", func(r chi.Router) {
			r.With(rerunLimit).Post("/run", controllers.AutomationRun(d.Assignment, logg))
			r.Get("/logs", controllers.AutomationLogs(d.RunLog, logg))
		})
		r.Route("/priority", func(r chi.Router) {
			r.Post("/allowance", controllers.PriorityAllowance(d.Assignment, logg))
			r.Get("/preview/{clientId}", controllers.PriorityPreview(d.Assignment, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRolePlatformAdmin, enums.ActorRoleVendorAdmin))
		r.Use(middleware.Idempotency(idempotency, logg))

		r.Route("/automation/rules", func(r chi.Router) {
			r.Get("/", controllers.AdminRulesList(d.Rules, logg))
			r.Post("/", controllers.AdminRulesCreate(d.Rules, logg))
			r.Put("/{ruleId}", controllers.AdminRulesUpdate(d.Rules, logg))
			r.Patch("/{ruleId}", controllers.AdminRulesPatch(d.Rules, logg))
		})
		r.Route("/capacity", func(r chi.Router) {
			r.Put("/vendors", controllers.AdminVendorCapacity(d.Capacity, logg))
			r.Put("/designers", controllers.AdminDesignerCapacity(d.Capacity, d.Designers, logg))
		})
	})

	return r
}
