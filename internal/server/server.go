package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

// Server wraps the gin engine in an http.Server so shutdown can drain
// in-flight requests.
type Server struct {
	log    *logger.Logger
	engine *gin.Engine
	srv    *http.Server
}

func New(log *logger.Logger, addr string, cfg RouterConfig) (*Server, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	engine := NewRouter(cfg)
	return &Server{
		log:    log.With("service", "HTTPServer"),
		engine: engine,
		srv: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *Server) Engine() *gin.Engine { return s.engine }

// Run blocks until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("http server shutting down")
	return s.srv.Shutdown(ctx)
}
