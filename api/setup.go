package api

import (
	"context"
	"os"
	"strings"
	"time"

	actionHandlers "certhub/api/handlers/actions"
	adminHandlers "certhub/api/handlers/admin"
	auditHandlers "certhub/api/handlers/audits"
	authHandlers "certhub/api/handlers/auth"
	eventHandlers "certhub/api/handlers/events"
	"certhub/internal/action"
	"certhub/internal/auth"
	"certhub/internal/config"
	"certhub/internal/document"
	"certhub/internal/event"
	"certhub/internal/infra"
	"certhub/internal/infra/queue"
	"certhub/internal/logger"
	"certhub/internal/metrics"
	"certhub/internal/notification"
	"certhub/internal/worker"
	"certhub/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupRouter 装配全部服务并返回 Gin 路由和 Worker 服务器
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *worker.Server) {
	router := gin.New()

	// Redis：任务队列、通知冷却、令牌黑名单。不可用时降级运行。
	// 接口变量避免 typed-nil 穿透空值检查
	var redisClient redis.UniversalClient
	if rdb, err := infra.InitRedis(&cfg.Redis); err != nil {
		logger.Warn("Redis 不可用，通知冷却与令牌黑名单降级", zap.Error(err))
	} else {
		redisClient = rdb
	}

	queueClient := queue.NewClient(cfg.Redis)

	// JWT 密钥：生产模式必须显式配置，防止弱默认值
	jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if jwtSecret == "" {
		jwtSecret = strings.TrimSpace(os.Getenv("JWT_SECRET_KEY"))
	}
	if jwtSecret == "" {
		if strings.EqualFold(cfg.Server.Mode, "release") {
			logger.Fatal("JWT 密钥未配置，生产环境禁止使用默认密钥")
		}
		jwtSecret = "default_jwt_secret_key_change_in_production"
		logger.Warn("JWT 密钥未配置，已回退为开发默认值")
	}
	jwtService := auth.NewJWTService(jwtSecret, cfg.Auth.JWTIssuer, redisClient)

	// 核心服务装配
	events := event.NewLog(db)
	docs := document.NewGormStore(db)

	notifier := notification.NewMultiNotifier(notification.ZapNotifier{})
	trackerOpts := []action.TrackerOption{action.WithNotifier(notifier)}
	if redisClient != nil {
		cooldown := notification.NewCooldown(redisClient, time.Duration(cfg.Workflow.NotifyCooldownSeconds)*time.Second)
		trackerOpts = append(trackerOpts, action.WithCooldown(cooldown))
	}
	tracker := action.NewTracker(db, docs, events, trackerOpts...)

	engine := workflow.NewEngine(db, docs, tracker, events, cfg.Workflow, workflow.WithQueue(queueClient))
	service := workflow.NewService(db, engine, tracker, docs, events)

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())

	// 公开端点
	router.GET("/health", HealthCheck(db))
	router.GET("/ready", ReadinessCheck(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Handlers
	auditHandler := auditHandlers.NewAuditHandler(service)
	actionHandler := actionHandlers.NewActionHandler(tracker, service)
	eventHandler := eventHandlers.NewEventHandler(events)
	adminHandler := adminHandlers.NewAdminHandler(queueClient)
	authHandler := authHandlers.NewAuthHandler(jwtService)

	// 认证 API（公开，不需要 JWT）
	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
	}

	registerAPIRoutes := func(apiGroup *gin.RouterGroup) {
		// 审核工作流
		audits := apiGroup.Group("/audits")
		{
			audits.POST("", auth.RequireRole("ORGANIZATION", "FEEF"), auditHandler.SubmitCase)
			audits.GET("", auditHandler.List)
			audits.GET("/:id", auditHandler.Get)
			audits.DELETE("/:id", auth.RequireRole("FEEF"), auditHandler.Delete)

			audits.POST("/:id/approve", auth.RequireRole("FEEF"), auditHandler.ApproveCase)
			audits.POST("/:id/transitions", auditHandler.Transition)
			audits.PUT("/:id/plan", auth.RequireRole("OE", "FEEF"), auditHandler.Plan)
			audits.PUT("/:id/evaluator", auth.RequireRole("FEEF"), auditHandler.AssignEvaluator)
			audits.PUT("/:id/score", auth.RequireRole("AUDITOR", "OE", "FEEF"), auditHandler.RecordScore)
			audits.POST("/:id/documents", auditHandler.RegisterDocument)

			audits.GET("/:id/actions", actionHandler.ListForAudit)
			audits.GET("/:id/events", eventHandler.AuditTimeline)
		}

		// 行动项
		actionsGroup := apiGroup.Group("/actions")
		{
			actionsGroup.GET("", actionHandler.ListMine)
			actionsGroup.GET("/:id", actionHandler.Get)
			actionsGroup.POST("/:id/complete", auth.RequireRole("FEEF"), actionHandler.Complete)
		}

		// 企业时间线
		apiGroup.GET("/organizations/:id/events", eventHandler.EntityTimeline)

		// 运维
		adminGroup := apiGroup.Group("/admin", auth.RequireRole("FEEF"))
		{
			adminGroup.POST("/sweeps/status", adminHandler.TriggerStatusSweep)
			adminGroup.POST("/sweeps/overdue", adminHandler.TriggerOverdueSweep)
		}
	}

	// 主 API 组与版本化 API 组
	apiGroup := router.Group("/api")
	apiGroup.Use(auth.AuthMiddleware(jwtService))
	registerAPIRoutes(apiGroup)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(auth.AuthMiddleware(jwtService))
	registerAPIRoutes(apiV1)

	// Worker 服务器
	workerServer := worker.NewServer(cfg.Redis, engine, tracker, docs, events, logger.Get())

	// 定时巡检调度
	worker.StartSweepScheduler(context.Background(), queueClient, cfg.Sweep, logger.Get())

	return router, workerServer
}
