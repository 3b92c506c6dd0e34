package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/finledger/internal/config"
	"github.com/smallbiznis/finledger/internal/csvimport"
	csvdomain "github.com/smallbiznis/finledger/internal/csvimport/domain"
	"github.com/smallbiznis/finledger/internal/dailyimport"
	dailydomain "github.com/smallbiznis/finledger/internal/dailyimport/domain"
	"github.com/smallbiznis/finledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/finledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/finledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/finledger/internal/observability/tracing"
	"github.com/smallbiznis/finledger/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	ratelimit.Module,
	csvimport.Module,
	dailyimport.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	imports    csvdomain.Service
	daily      dailydomain.Service
	settings   *config.ImportSettingsHolder
	limiter    *ratelimit.ImportLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Imports    csvdomain.Service
	Daily      dailydomain.Service
	Settings   *config.ImportSettingsHolder
	Limiter    *ratelimit.ImportLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		imports:    p.Imports,
		daily:      p.Daily,
		settings:   p.Settings,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Imports --------
	api.POST("/imports", s.ImportUploadRateLimit(), s.CreateImport)
	api.POST("/imports/url", s.ImportUploadRateLimit(), s.CreateImportFromURL)
	api.GET("/imports", s.ListImportRuns)
	api.GET("/imports/:id", s.GetImportRun)
	api.POST("/imports/:id/replay", s.ImportUploadRateLimit(), s.ReplayImportRun)
	api.GET("/imports/:id/report.pdf", s.RenderImportRunReport)

	// -------- Daily Import --------
	api.POST("/imports/daily/run", s.RunDailyImport)
	api.GET("/imports/daily/config", s.GetDailyImportConfig)
	api.PUT("/imports/daily/config", s.UpdateDailyImportConfig)

	// -------- Ledger --------
	api.GET("/ledger", s.ListLedgerEntries)
	api.GET("/channel-statistics", s.GetChannelStatistics)
}
