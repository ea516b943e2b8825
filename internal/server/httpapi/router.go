package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Anthony-Michael/replyrocket-auth/internal/server/metrics"
	"github.com/Anthony-Michael/replyrocket-auth/internal/telemetry"
)

// NewRouter wires the middleware chain, the API, and /metrics when gatherer
// is not nil.
func NewRouter(h *Handler, serviceName string, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(
		RequestID(),
		telemetry.Middleware(serviceName),
		AccessLog(h.logger, h.metrics),
		Recovery(h.logger),
	)

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))
	}
	h.RegisterRoutes(r)
	return r
}
