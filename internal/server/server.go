package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/bigdeal/internal/config"
	consortiumdomain "github.com/smallbiznis/bigdeal/internal/consortium/domain"
	dashboarddomain "github.com/smallbiznis/bigdeal/internal/dashboard/domain"
	"github.com/smallbiznis/bigdeal/internal/ingest"
	"github.com/smallbiznis/bigdeal/internal/journalmeta"
	"github.com/smallbiznis/bigdeal/internal/observability"
	obslogger "github.com/smallbiznis/bigdeal/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/bigdeal/internal/observability/metrics"
	obstracing "github.com/smallbiznis/bigdeal/internal/observability/tracing"
	recomputedomain "github.com/smallbiznis/bigdeal/internal/recompute/domain"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterAPIRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		SlowThreshold:   time.Duration(obsCfg.SlowViewMillis) * time.Millisecond,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	dashboardSvc  dashboarddomain.Service
	recomputeSvc  recomputedomain.Service
	scenarioSvc   scenariodomain.Service
	consortiumSvc consortiumdomain.Service
	ingest        *ingest.Notifier
	directory     *journalmeta.Directory
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	DashboardSvc  dashboarddomain.Service
	RecomputeSvc  recomputedomain.Service
	ScenarioSvc   scenariodomain.Service
	ConsortiumSvc consortiumdomain.Service
	Ingest        *ingest.Notifier
	Directory     *journalmeta.Directory `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics    `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		dashboardSvc:  p.DashboardSvc,
		recomputeSvc:  p.RecomputeSvc,
		scenarioSvc:   p.ScenarioSvc,
		consortiumSvc: p.ConsortiumSvc,
		ingest:        p.Ingest,
		directory:     p.Directory,
		obsMetrics:    p.ObsMetrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Scenario views --------
	scenario := api.Group("/scenarios/:scenario_id")
	{
		views := scenario.Group("", s.observeView)
		views.GET("/journals", s.GetRankedJournals)
		views.GET("/summary", s.GetSummary)
		views.GET("/apc", s.GetApcRollup)
		views.GET("/institutions", s.GetInstitutions)
		views.GET("/journals/:issn_l", s.GetJournalZoom)
		views.GET("/export", s.ExportJournalsByInstitution)
	}

	// -------- Scenario settings --------
	{
		scenario.GET("/saved", s.GetSavedScenario)
		scenario.PUT("/saved", s.SaveScenario)
		scenario.GET("/members", s.GetIncludedMembers)
		scenario.PUT("/members", s.SetIncludedMembers)
		scenario.POST("/copy", s.CopyScenario)
	}

	// -------- Recompute --------
	{
		scenario.POST("/recompute", s.RequestRecompute)
		scenario.GET("/recompute", s.GetRecomputeStatus)
		scenario.GET("/recompute/jobs", s.ListRecomputeJobs)
		scenario.GET("/recompute/jobs/:job_id", s.GetRecomputeJob)
	}

	// -------- Ingestion hooks --------
	api.POST("/packages/:package_id/ingested", s.PackageIngested)
	if s.directory != nil {
		api.POST("/journals/reload", s.ReloadJournalMetadata)
	}
}

func (s *Server) observeView(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.obsMetrics.ObserveView(c.Request.Context(), c.FullPath(), c.Writer.Status(), time.Since(start))
}
