package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/launchblocks/creditgate/internal/account"
	accountdomain "github.com/launchblocks/creditgate/internal/account/domain"
	"github.com/launchblocks/creditgate/internal/chain"
	"github.com/launchblocks/creditgate/internal/config"
	"github.com/launchblocks/creditgate/internal/entitlement"
	entitlementdomain "github.com/launchblocks/creditgate/internal/entitlement/domain"
	"github.com/launchblocks/creditgate/internal/launch"
	launchdomain "github.com/launchblocks/creditgate/internal/launch/domain"
	"github.com/launchblocks/creditgate/internal/ledger"
	"github.com/launchblocks/creditgate/internal/observability"
	obslogger "github.com/launchblocks/creditgate/internal/observability/logger"
	obsmetrics "github.com/launchblocks/creditgate/internal/observability/metrics"
	obstracing "github.com/launchblocks/creditgate/internal/observability/tracing"
	"github.com/launchblocks/creditgate/internal/ratelimit"
	"github.com/launchblocks/creditgate/internal/verify"
)

var Module = fx.Module("http.server",
	chain.Module,
	verify.Module,
	ledger.Module,
	account.Module,
	entitlement.Module,
	launch.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.registerRoutes() }),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
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

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	log            *zap.Logger
	accounts       accountdomain.Repository
	entitlementSvc entitlementdomain.Service
	launchSvc      launchdomain.Service
	confirmLimiter *ratelimit.ConfirmLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	Log            *zap.Logger
	Accounts       accountdomain.Repository
	EntitlementSvc entitlementdomain.Service
	LaunchSvc      launchdomain.Service
	ConfirmLimiter *ratelimit.ConfirmLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		log:            p.Log.Named("http.server"),
		accounts:       p.Accounts,
		entitlementSvc: p.EntitlementSvc,
		launchSvc:      p.LaunchSvc,
		confirmLimiter: p.ConfirmLimiter,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Server) registerRoutes() {
	authed := s.engine.Group("/", s.APIKeyRequired())

	authed.POST("/credit/confirm", s.handleConfirmPayment)
	authed.GET("/me/entitlements", s.handleEntitlements)

	authed.POST("/launches", s.handleCreateLaunch)
	authed.GET("/launches", s.handleListLaunches)
	authed.GET("/launches/:ref", s.handleGetLaunch)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
