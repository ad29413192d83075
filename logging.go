package main

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rhye/rhye-dev/internal/logx"
)

// requestLogger writes one line per request through the context logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		log := logx.Ctx(c.Request.Context()).With(
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration", time.Since(start).String(),
		)
		switch {
		case c.Writer.Status() >= 500:
			log.Warn("http request", "errors", c.Errors.String())
		case c.Request.URL.Path == "/healthz":
			log.Debug("http request")
		default:
			log.Info("http request")
		}
	}
}
