// Package httpx holds the gin plumbing shared by the HTTP services.
package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/you/event-booking/pkg/apperr"
)

// NewEngine returns a gin engine with recovery, tracing, request logging,
// CORS and a /health probe installed.
func NewEngine(service string, origins []string, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(service), RequestLogger(log))
	if len(origins) > 0 {
		r.Use(CORS(origins))
	}
	r.GET("/health", Health)
	return r
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

// Error writes err as {message, code} using its apperr kind for the status.
func Error(c *gin.Context, err error) {
	ErrorStatus(c, apperr.HTTPStatus(err), err)
}

func ErrorStatus(c *gin.Context, status int, err error) {
	ae := apperr.As(err)
	msg := ae.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	c.JSON(status, gin.H{"message": msg, "code": ae.Code})
}

func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
		)
	}
}
