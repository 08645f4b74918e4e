// Package httpapi exposes health, session status and Prometheus metrics.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"LegSentinel/internal/model"
)

var log = logrus.WithField("component", "http")

// StatusSource reports the live session.
type StatusSource interface {
	Status() model.Status
	Summary() (*model.Summary, bool)
}

// Server serves the read-only operator endpoints.
type Server struct {
	src StatusSource
	srv *http.Server
}

// New builds a server listening on addr.
func New(addr string, src StatusSource) *Server {
	s := &Server{src: src}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the gin handler.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/status", s.handleStatus)
	r.GET("/summary", s.handleSummary)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.Status())
}

func (s *Server) handleSummary(c *gin.Context) {
	sum, ok := s.src.Summary()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session still running"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		log.WithField("addr", s.srv.Addr).Info("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
		}
	}()
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
