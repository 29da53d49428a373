// Package gateway exposes the rendering actions and the speech endpoints over
// HTTP with gin.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/render-gateway/internal/cache"
	"github.com/book-expert/render-gateway/internal/config"
	"github.com/book-expert/render-gateway/internal/core"
	"github.com/book-expert/render-gateway/internal/normalize"
	"github.com/book-expert/render-gateway/internal/render"
	"github.com/book-expert/render-gateway/internal/speech"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	corsMaxAge        = 12 * time.Hour
)

// Prober negotiates one rendering call with the upstream.
type Prober interface {
	Probe(ctx context.Context, endpoint, token string, candidates []render.Candidate) (*normalize.Result, error)
}

// Talker serves the speech endpoints.
type Talker interface {
	Talk(ctx context.Context, req speech.TalkRequest) (*speech.TalkResult, error)
	Audio(ctx context.Context, key string) (*core.Object, error)
}

// Server is the inbound HTTP surface.
type Server struct {
	settings  config.Settings
	prober    Prober
	responses *cache.Adapter
	talker    Talker
	log       *logger.Logger
	router    *gin.Engine
}

// New builds a Server and its routes.
func New(
	settings config.Settings,
	prober Prober,
	responses *cache.Adapter,
	talker Talker,
	log *logger.Logger,
) *Server {
	s := &Server{
		settings:  settings,
		prober:    prober,
		responses: responses,
		talker:    talker,
		log:       log,
	}
	s.router = s.routes()

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true

	router.Use(gin.Recovery(), s.requestID(), s.accessLog())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type", "Authorization"},
		ExposeHeaders:   []string{"Content-Length", headerRequestID},
		MaxAge:          corsMaxAge,
	}))

	for _, action := range render.Actions() {
		router.GET("/"+string(action), s.handleRender(action))
	}

	router.GET("/status", s.handleStatus)
	router.POST("/talk", s.handleTalk)
	router.GET("/audio/*key", s.handleAudio)

	router.NoRoute(func(c *gin.Context) {
		writeError(c, core.NewAPIError(http.StatusNotFound, codeNotFound, nil))
	})
	router.NoMethod(func(c *gin.Context) {
		writeError(c, core.NewAPIError(http.StatusMethodNotAllowed, codeMethodNotAllowed, nil))
	})

	return router
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully and waits for pending cache writes.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.settings.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)

	go func() {
		s.log.System("Gateway listening on %s", s.settings.ListenAddr)
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server failed: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	s.log.System("Shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)

	s.responses.Wait()

	if err != nil {
		return fmt.Errorf("gateway shutdown failed: %w", err)
	}

	return nil
}
