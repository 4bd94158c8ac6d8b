package worker

import (
	"context"
	"time"

	"certhub/internal/action"
	"certhub/internal/config"
	"certhub/internal/document"
	"certhub/internal/event"
	"certhub/internal/infra/queue"
	"certhub/internal/worker/handlers"
	"certhub/internal/worker/tasks"
	"certhub/internal/workflow"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server 异步任务服务器：证书生成与每日巡检
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建任务服务器
func NewServer(
	cfg config.RedisConfig,
	engine *workflow.Engine,
	tracker *action.Tracker,
	docs document.Store,
	events *event.Log,
	logger *zap.Logger,
) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"documents": 6, // 证书生成优先
				"sweeps":    3,
				"default":   1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	attestationHandler := handlers.NewAttestationHandler(docs, events, logger)
	mux.HandleFunc(tasks.TypeGenerateAttestation, attestationHandler.HandleGenerateAttestation)

	sweepHandler := handlers.NewSweepHandler(engine, tracker, logger)
	mux.HandleFunc(tasks.TypeStatusSweep, sweepHandler.HandleStatusSweep)
	mux.HandleFunc(tasks.TypeOverdueSweep, sweepHandler.HandleOverdueSweep)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Run 启动任务服务器（阻塞）
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止任务服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}

// StartSweepScheduler 启动定时巡检：按配置间隔把状态巡检与逾期巡检入队。
// 入队由 worker 消费，调度进程本身不做业务
func StartSweepScheduler(ctx context.Context, q queue.Client, cfg config.SweepConfig, logger *zap.Logger) {
	if !cfg.Enabled {
		logger.Info("定时巡检未启用")
		return
	}

	interval := cfg.Interval()
	ticker := time.NewTicker(interval)
	logger.Info("定时巡检调度器启动", zap.Duration("interval", interval))

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := q.EnqueueStatusSweep("scheduler"); err != nil {
					logger.Error("状态巡检入队失败", zap.Error(err))
				}
				if err := q.EnqueueOverdueSweep("scheduler"); err != nil {
					logger.Error("逾期巡检入队失败", zap.Error(err))
				}
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}
