package panel

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"regdesk/internal/platform/metrics"
	"regdesk/internal/platform/middleware"
	"regdesk/pkg/platform/httputil"
	"regdesk/pkg/platform/middleware/metadata"
	"regdesk/pkg/platform/middleware/requesttime"
	"regdesk/pkg/platform/middleware/secret"
)

const healthTimeout = 2 * time.Second

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Panel   *Handler
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// Webhook, when set, is served at /telegram/webhook/{secret}.
	Webhook       http.Handler
	WebhookSecret string

	Checks  map[string]HealthCheck
	Version string
}

type statusResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recover(log))
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Metrics(cfg.Metrics))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, statusResponse{Service: "regdesk", Status: "ok", Version: cfg.Version})
	})
	r.Get("/healthz", healthHandler(cfg.Checks, log))
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	if cfg.Webhook != nil {
		r.With(secret.RequireURLParam("secret", cfg.WebhookSecret, log)).
			Method(http.MethodPost, "/telegram/webhook/{secret}", cfg.Webhook)
	}
	if cfg.Panel != nil {
		cfg.Panel.Register(r)
	}
	return r
}

// healthHandler reports each check as "ok" or "unavailable". Failure detail
// goes to the log only; the route is public.
func healthHandler(checks map[string]HealthCheck, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.Warn("health check failed", zap.String("check", name), zap.Error(err))
				resp.Status = "degraded"
				resp.Checks[name] = "unavailable"
				continue
			}
			resp.Checks[name] = "ok"
		}
		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	}
}
