package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tickettoken/settlement/api/controllers"
	webhookcontrollers "github.com/tickettoken/settlement/api/controllers/webhooks"
	"github.com/tickettoken/settlement/api/middleware"
	"github.com/tickettoken/settlement/pkg/config"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/metrics"
)

// Inbox is the intake side of the webhook inbox.
type Inbox = webhookcontrollers.Inbox

type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Inbox       Inbox
	Stripe      webhookcontrollers.SigningSecretSource
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger, p.HTTPMetrics),
	)

	env := p.Config.App.Env
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(env))
		r.Get("/ready", controllers.HealthReady(env, p.Logger, map[string]controllers.Pinger{
			"database": p.DB,
			"redis":    p.Redis,
		}))
	})

	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.Inbox, p.Stripe, p.Config.Webhooks.MaxPayloadSize, p.Logger))
	})

	return r
}
