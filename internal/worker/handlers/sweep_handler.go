package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"certhub/internal/action"
	"certhub/internal/worker/tasks"
	"certhub/internal/workflow"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// SweepHandler 巡检任务处理器：状态巡检与逾期巡检
type SweepHandler struct {
	engine  *workflow.Engine
	tracker *action.Tracker
	logger  *zap.Logger
}

// NewSweepHandler 创建巡检处理器
func NewSweepHandler(engine *workflow.Engine, tracker *action.Tracker, logger *zap.Logger) *SweepHandler {
	return &SweepHandler{engine: engine, tracker: tracker, logger: logger}
}

// HandleStatusSweep 排期日已过的审核推进到待报告
func (h *SweepHandler) HandleStatusSweep(ctx context.Context, t *asynq.Task) error {
	var p tasks.SweepPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Info("开始状态巡检", zap.String("triggered_by", p.TriggeredBy))

	summary, err := h.engine.StatusSweep(ctx, time.Now().UTC())
	if err != nil {
		h.logger.Error("状态巡检失败", zap.Error(err))
		return err
	}

	h.logger.Info("状态巡检完成",
		zap.Int("scanned", summary.Scanned),
		zap.Int("transitioned", summary.Transitioned),
		zap.Int("failed", summary.Failed),
	)
	return nil
}

// HandleOverdueSweep 超过截止日的待办行动项标记为逾期
func (h *SweepHandler) HandleOverdueSweep(ctx context.Context, t *asynq.Task) error {
	var p tasks.SweepPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Info("开始逾期巡检", zap.String("triggered_by", p.TriggeredBy))

	summary, err := h.tracker.MarkOverdueSweep(ctx, time.Now().UTC())
	if err != nil {
		h.logger.Error("逾期巡检失败", zap.Error(err))
		return err
	}

	h.logger.Info("逾期巡检完成",
		zap.Int("scanned", summary.Scanned),
		zap.Int("flagged", summary.Flagged),
		zap.Int("failed", summary.Failed),
	)
	return nil
}
