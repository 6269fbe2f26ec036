// Package httpserver bootstraps the gin-based HTTP surface: middleware
// chain, content negotiation, and the default server configuration.
package httpserver

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lithammer/shortuuid/v4"

	"navign/internal/apperr"
	"navign/internal/logger"
)

// Duration stamps the request's processing time into the gin context.
func Duration() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()
		c.Next()
		c.Set("duration", time.Since(t))
	}
}

// RequestID stamps a unique id onto the request and response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := shortuuid.New()
		c.Set("req_id", id)
		c.Header("req_id", id)
		c.Next()
	}
}

// Logger logs one line per completed request.
func Logger(log *logger.Log) gin.HandlerFunc {
	sub := log.New("http")
	return func(c *gin.Context) {
		c.Next()
		sub.Info("request", "status", c.Writer.Status(), "url", c.Request.URL.String(), "method", c.Request.Method, "req_id", c.GetString("req_id"))
	}
}

// Crash recovers from panics in handlers and renders a 500 instead of
// crashing the process.
func Crash(log *logger.Log) gin.HandlerFunc {
	sub := log.New("http")
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				sub.Trace("crash", "error", r, "status", c.Writer.Status(), "url", c.Request.URL.Path, "method", c.Request.Method)
				Content(c, 500, gin.H{"error": apperr.Wrap(apperr.TitleInternalServer, nil)})
			}
		}()
		c.Next()
	}
}
