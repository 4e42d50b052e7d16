package middleware

import (
	"strconv"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/metrics"
	"github.com/gofiber/fiber/v2"
)

// Metrics records Prometheus request metrics labelled by route pattern, so
// chat ids in the path do not blow up label cardinality.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Route().Path
		if path == "" || path == "/" {
			path = c.Path()
		}

		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Method(), path, strconv.Itoa(c.Response().StatusCode()),
		).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(
			c.Method(), path,
		).Observe(time.Since(start).Seconds())

		return err
	}
}
