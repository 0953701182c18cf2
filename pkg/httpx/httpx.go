// Package httpx owns the HTTP server lifecycle: engine construction with
// the shared middlewares, listen, and drained shutdown.
package httpx

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/klaxonhq/klaxon/pkg/aop"
	"github.com/klaxonhq/klaxon/pkg/version"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/toolkits/pkg/logger"
)

type Config struct {
	Host            string
	Port            int
	CertFile        string
	KeyFile         string
	PProf           bool
	PrintAccessLog  bool
	ExposeMetrics   bool
	ShutdownTimeout int
	ReadTimeout     int
	WriteTimeout    int
	IdleTimeout     int
}

// GinEngine builds the engine with recovery, optional access logging and
// the operational endpoints every deployment gets regardless of routes.
func GinEngine(mode string, cfg Config) *gin.Engine {
	gin.SetMode(mode)
	if strings.ToLower(mode) == "release" {
		gin.DisableConsoleColor()
	}

	r := gin.New()
	r.Use(aop.Recovery())

	if cfg.PrintAccessLog {
		r.Use(aop.Logger("/ping", "/metrics"))
	}

	if cfg.PProf {
		pprof.Register(r, "/api/debug/pprof")
	}

	r.GET("/ping", func(c *gin.Context) {
		c.String(200, "pong")
	})

	r.GET("/api/version", func(c *gin.Context) {
		c.String(200, version.Version)
	})

	if cfg.ExposeMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	return r
}

// Init starts the server in the background and returns the shutdown func.
// A listen failure panics, the process is useless without its API.
func Init(cfg Config, handler http.Handler) func() {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
	}

	go func() {
		logger.Infof("http server listening on %s", addr)

		var err error
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			err = srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*time.Duration(cfg.ShutdownTimeout))
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("http server shutdown: %v", err)
			return
		}
		logger.Info("http server stopped")
	}
}
