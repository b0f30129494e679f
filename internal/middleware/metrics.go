package middleware

import (
	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis command failures by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_redis_errors_total",
		Help: "Total number of Redis command errors",
	}, []string{"command"})

	// MailDeliveries counts outbound mail attempts by outcome.
	MailDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_mail_deliveries_total",
		Help: "Total number of outbound mail delivery attempts",
	}, []string{"status"})
)

// InitMetrics creates the Prometheus HTTP middleware for the given service name.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	return fiberprometheus.New(serviceName)
}

// MetricsMiddleware returns the Fiber handler that records request metrics.
func MetricsMiddleware(prom *fiberprometheus.FiberPrometheus) fiber.Handler {
	return prom.Middleware
}
