package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"navign/internal/apperr"
	"navign/internal/logger"
)

// Server wraps an http.Server plus the gin engine it serves, with the
// timeouts and middleware chain used across this codebase's HTTP
// surfaces.
type Server struct {
	Engine *gin.Engine
	http   *http.Server
	log    *logger.Log
}

// SetGinProductionMode toggles gin's verbose debug output.
func SetGinProductionMode(production bool) {
	if production {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
}

// Default builds a Server with the standard middleware chain
// (RequestID -> Duration -> Logger -> Crash -> Gzip -> CORS) and conservative
// timeouts for a handshake-heavy, low-payload API.
func Default(bindAddr string, log *logger.Log, production bool) *Server {
	SetGinProductionMode(production)

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "req_id")

	engine := gin.New()
	engine.Use(RequestID(), Duration(), Logger(log), Crash(log), gzip.Gzip(gzip.DefaultCompression), cors.New(corsCfg))
	engine.NoRoute(NoRouteHandler())

	httpSrv := &http.Server{
		Addr:              bindAddr,
		Handler:           engine,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	return &Server{Engine: engine, http: httpSrv, log: log}
}

// RegEndpoint registers a handler at method+path, rendering its returned
// error (if any) through the apperr status/title mapping.
func RegEndpoint(group *gin.RouterGroup, method, path string, handler func(c *gin.Context) (any, error)) {
	group.Handle(method, path, func(c *gin.Context) {
		body, err := handler(c)
		if err != nil {
			Content(c, apperr.StatusCode(err), gin.H{"error": err.Error()})
			return
		}
		Content(c, http.StatusOK, body)
	})
}

// ListenAndServe blocks serving the underlying http.Server until ctx is
// canceled, then gracefully shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("httpserver: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
