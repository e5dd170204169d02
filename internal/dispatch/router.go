package dispatch

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shineum/multimail/internal/metrics"
	"github.com/shineum/multimail/internal/provider"
)

// NewRouter builds the gin engine serving the endpoint, health and metrics.
func NewRouter(p provider.Provider) *gin.Engine {
	h := NewHandler(p)

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(requestLogger(), recovery())

	engine.POST(SendPath, h.SendEmail)
	engine.NoMethod(h.MethodNotAllowed)
	engine.GET("/healthz", h.Health)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	return engine
}

// requestLogger writes one slog line per request. Bodies carry credentials
// and are never logged.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", c.ClientIP(),
		)
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		slog.Error("panic while handling request", "path", c.Request.URL.Path, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: http.StatusText(http.StatusInternalServerError)})
	})
}
