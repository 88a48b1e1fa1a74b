// Package api exposes the admin HTTP surface: the viral-post feed, the
// runtime settings document, a manual scan trigger, health, and Prometheus
// metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"viralscan/internal/scan"
	"viralscan/internal/settings"
	"viralscan/internal/storage"
	"viralscan/pkg/logx"
)

type Server struct {
	store    storage.Store
	settings *settings.Service
	trigger  *scan.Trigger
	registry *prometheus.Registry
	log      logx.Logger

	srv *http.Server
}

func New(addr string, store storage.Store, svc *settings.Service, trigger *scan.Trigger, registry *prometheus.Registry, log logx.Logger) *Server {
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	s := &Server{
		store:    store,
		settings: svc,
		trigger:  trigger,
		registry: registry,
		log:      log.With(logx.String("component", "api")),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/posts", s.listPosts)
	v1.GET("/settings", s.getSettings)
	v1.PATCH("/settings", s.patchSettings)
	v1.POST("/scan/run", s.runScan)
	v1.GET("/scan/status", s.scanStatus)
	return r
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()
	s.log.Info("api listening", logx.String("addr", s.srv.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) listPosts(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	if limit < 1 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit out of range [1,200]"})
		return
	}
	if offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be >= 0"})
		return
	}
	posts, err := s.store.ListViralPosts(c.Request.Context(), limit, offset)
	if err != nil {
		s.log.Error("list posts failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": toPostViews(posts), "limit": limit, "offset": offset})
}

func (s *Server) getSettings(c *gin.Context) {
	st, err := s.settings.Get(c.Request.Context())
	if err != nil {
		s.log.Error("load settings failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) patchSettings(c *gin.Context) {
	var patch settings.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed settings patch: " + err.Error()})
		return
	}
	st, err := s.settings.Update(c.Request.Context(), patch)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) runScan(c *gin.Context) {
	res, err := s.trigger.TryRun(c.Request.Context())
	switch {
	case errors.Is(err, scan.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "scan already running"})
	case err != nil:
		s.log.Error("manual scan failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		s.log.Info("manual scan finished",
			logx.Int("processed", res.AccountsProcessed),
			logx.Int("sent", res.NotificationsSent))
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) scanStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": s.trigger.Running()})
}

func intQuery(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
