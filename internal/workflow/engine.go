package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"certhub/internal/action"
	"certhub/internal/certification"
	"certhub/internal/config"
	"certhub/internal/document"
	"certhub/internal/event"
	"certhub/internal/infra/queue"
	"certhub/internal/logger"
	"certhub/internal/metrics"
	"certhub/internal/worker/tasks"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Engine 审核状态机。审核状态只通过这里的迁移操作改写，
// 外部不得对 status 做随意写入
type Engine struct {
	db       *gorm.DB
	docs     document.Store
	tracker  *action.Tracker
	events   *event.Log
	queue    queue.Client
	cfg      config.WorkflowConfig
	handlers map[certification.Status]SideEffect
}

// EngineOption 自定义配置
type EngineOption func(*Engine)

// WithQueue 注入任务队列客户端
func WithQueue(q queue.Client) EngineOption {
	return func(e *Engine) { e.queue = q }
}

// NewEngine 创建状态机
func NewEngine(db *gorm.DB, docs document.Store, tracker *action.Tracker, events *event.Log, cfg config.WorkflowConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		db:      db,
		docs:    docs,
		tracker: tracker,
		events:  events,
		cfg:     cfg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.handlers = e.buildSideEffects()
	return e
}

// Transition 命名迁移。迁移标识承载业务意图；属于决策表的分支
// 由调用时点的业务数据裁决，指名与裁决不符时拒绝
func (e *Engine) Transition(ctx context.Context, auditID string, id TransitionID, actorID string) (*certification.Audit, error) {
	ctx = logger.WithAudit(ctx, auditID)
	g, err := e.loadGuardContext(ctx, auditID)
	if err != nil {
		return nil, err
	}

	if g.Audit.Status.IsTerminal() {
		metrics.TransitionRejectionsTotal.WithLabelValues(string(id), "invalid_transition").Inc()
		return nil, fmt.Errorf("%w: 审核已处于终态 %s", ErrInvalidTransition, g.Audit.Status)
	}

	// 决策表裁决：approve_case 展开为分支；直接指名分支时校验表会选中它
	if id == TransitionApproveCase {
		id = resolveApproveBranch(g)
	} else if isApproveBranch(id) {
		if resolved := resolveApproveBranch(g); resolved != id {
			metrics.TransitionRejectionsTotal.WithLabelValues(string(id), "guard_rejected").Inc()
			return nil, fmt.Errorf("%w: 决策表选定 %s", ErrGuardRejected, resolved)
		}
	}

	def, ok := TransitionCatalog[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransition, id)
	}

	if !containsStatus(def.Sources, g.Audit.Status) {
		metrics.TransitionRejectionsTotal.WithLabelValues(string(id), "invalid_transition").Inc()
		return nil, fmt.Errorf("%w: %s 不允许 %s", ErrInvalidTransition, g.Audit.Status, id)
	}

	if def.Guard != nil {
		if ok, reason := def.Guard(ctx, g); !ok {
			metrics.TransitionRejectionsTotal.WithLabelValues(string(id), "guard_rejected").Inc()
			return nil, fmt.Errorf("%w: %s", ErrGuardRejected, reason)
		}
	}

	updated, err := e.apply(ctx, g, id, def, actorID)
	if err != nil {
		return nil, err
	}

	e.afterTransition(ctx, updated, g.Org, id, def.Target, actorID, "explicit")
	return updated, nil
}

// CheckAutoTransition 自动迁移检查。幂等：条件不满足、状态已离开源状态
// 或输给并发请求时都是无操作，不是错误
func (e *Engine) CheckAutoTransition(ctx context.Context, auditID string, actorID string) (*certification.Audit, bool, error) {
	ctx = logger.WithAudit(ctx, auditID)
	g, err := e.loadGuardContext(ctx, auditID)
	if err != nil {
		return nil, false, err
	}

	if g.Audit.Status.IsTerminal() {
		return g.Audit, false, nil
	}

	rule, ok := AutoRules[g.Audit.Status]
	if !ok {
		return g.Audit, false, nil
	}

	satisfied, err := rule.When(ctx, g)
	if err != nil {
		return nil, false, fmt.Errorf("自动迁移条件判定失败: %w", err)
	}
	if !satisfied {
		return g.Audit, false, nil
	}

	def := Definition{Sources: []certification.Status{rule.Source}, Target: rule.Target}
	updated, err := e.apply(ctx, g, TransitionID("auto:"+string(rule.Source)), def, actorID)
	if errors.Is(err, ErrConcurrentModification) {
		// 输掉竞态的一方视为无操作
		current, loadErr := e.GetAudit(ctx, auditID)
		if loadErr != nil {
			return nil, false, loadErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	e.afterTransition(ctx, updated, g.Org, TransitionID("auto:"+string(rule.Source)), rule.Target, actorID, "auto")
	return updated, true, nil
}

// SweepSummary 状态巡检摘要
type SweepSummary struct {
	Scanned      int `json:"scanned"`
	Transitioned int `json:"transitioned"`
	Failed       int `json:"failed"`
}

// StatusSweep 每日状态巡检：排期日已过的 PLANNING/SCHEDULED 审核推进到
// PENDING_REPORT。单条失败记日志后继续，不中断批次
func (e *Engine) StatusSweep(ctx context.Context, now time.Time) (SweepSummary, error) {
	started := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("status_sweep").Observe(time.Since(started).Seconds())
	}()

	var stale []*certification.Audit
	err := e.db.WithContext(ctx).
		Where("status IN ? AND planned_date IS NOT NULL AND planned_date < ? AND deleted_at IS NULL",
			[]certification.Status{certification.StatusPlanning, certification.StatusScheduled}, now).
		Find(&stale).Error
	if err != nil {
		return SweepSummary{}, fmt.Errorf("查询到期审核失败: %w", err)
	}

	summary := SweepSummary{Scanned: len(stale)}
	for _, a := range stale {
		itemCtx := logger.WithAudit(ctx, a.ID)
		g, err := e.loadGuardContext(itemCtx, a.ID)
		if err != nil {
			summary.Failed++
			metrics.SweepItemsTotal.WithLabelValues("status_sweep", "failed").Inc()
			logger.WithContext(itemCtx).Error("状态巡检读取失败", zap.Error(err))
			continue
		}

		def := Definition{Sources: []certification.Status{g.Audit.Status}, Target: certification.StatusPendingReport}
		id := TransitionID("sweep:" + string(g.Audit.Status))
		updated, err := e.apply(itemCtx, g, id, def, "")
		if errors.Is(err, ErrConcurrentModification) {
			metrics.SweepItemsTotal.WithLabelValues("status_sweep", "skipped").Inc()
			continue
		}
		if err != nil {
			summary.Failed++
			metrics.SweepItemsTotal.WithLabelValues("status_sweep", "failed").Inc()
			logger.WithContext(itemCtx).Error("状态巡检推进失败", zap.Error(err))
			continue
		}

		summary.Transitioned++
		metrics.SweepItemsTotal.WithLabelValues("status_sweep", "transitioned").Inc()
		e.afterTransition(itemCtx, updated, g.Org, id, certification.StatusPendingReport, "", "sweep")
	}

	logger.WithContext(ctx).Info("状态巡检完成",
		zap.Int("scanned", summary.Scanned),
		zap.Int("transitioned", summary.Transitioned),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// GetAudit 读取审核（软删除不可见）
func (e *Engine) GetAudit(ctx context.Context, auditID string) (*certification.Audit, error) {
	var a certification.Audit
	err := e.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", auditID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAuditNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询审核失败: %w", err)
	}
	return &a, nil
}

// --- 内部方法 ---

func (e *Engine) loadGuardContext(ctx context.Context, auditID string) (*GuardContext, error) {
	audit, err := e.GetAudit(ctx, auditID)
	if err != nil {
		return nil, err
	}

	var org certification.Organization
	err = e.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", audit.OrganizationID).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询企业失败: %w", err)
	}

	return &GuardContext{Audit: audit, Org: &org, Docs: e.docs}, nil
}

// apply 原子落库：状态的条件更新（观察值比对）＋副作用字段＋新状态行动项，
// 同一事务，任何一步失败整体回滚
func (e *Engine) apply(ctx context.Context, g *GuardContext, id TransitionID, def Definition, actorID string) (*certification.Audit, error) {
	now := time.Now().UTC()
	observed := g.Audit.Status

	updates := map[string]any{
		"status":     def.Target,
		"updated_at": now,
	}
	if def.Mutate != nil {
		for k, v := range def.Mutate(g, actorID, now) {
			updates[k] = v
		}
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if handler := e.handlers[def.Target]; handler != nil {
			extra, err := handler(ctx, tx, g, actorID, now)
			if err != nil {
				return fmt.Errorf("副作用处理器失败: %w", err)
			}
			for k, v := range extra {
				updates[k] = v
			}
		}

		// 乐观并发：UPDATE 以守卫判定时观察到的状态为条件，
		// 状态已被并发改写时整体回滚
		result := tx.Model(&certification.Audit{}).
			Where("id = ? AND status = ?", g.Audit.ID, observed).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("写入状态失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrConcurrentModification
		}

		var after certification.Audit
		if err := tx.Where("id = ?", g.Audit.ID).First(&after).Error; err != nil {
			return fmt.Errorf("回读审核失败: %w", err)
		}

		if _, err := e.tracker.WithTx(tx).CreateForStatus(ctx, &after, g.Org, def.Target); err != nil {
			return err
		}

		g.Audit = &after
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			metrics.TransitionRejectionsTotal.WithLabelValues(string(id), "concurrent").Inc()
		}
		return nil, err
	}

	return g.Audit, nil
}

// afterTransition 提交后的收尾：指标、事件、遗留行动项复查、证书生成入队。
// 失败只记日志，状态已经落库
func (e *Engine) afterTransition(ctx context.Context, audit *certification.Audit, org *certification.Organization, id TransitionID, target certification.Status, actorID, mode string) {
	metrics.TransitionsTotal.WithLabelValues(string(id), string(target), mode).Inc()

	e.recordTransitionEvent(ctx, audit, id, target, actorID)

	if !target.IsTerminal() {
		if _, err := e.tracker.CheckAndCompleteAllPending(ctx, audit, actorID); err != nil {
			logger.WithContext(ctx).Warn("迁移后行动项复查失败", zap.Error(err))
		}
	}

	if target == certification.StatusCompleted && e.queue != nil {
		payload := tasks.GenerateAttestationPayload{AuditID: audit.ID, OrganizationID: audit.OrganizationID}
		if err := e.queue.EnqueueGenerateAttestation(payload); err != nil {
			logger.WithContext(ctx).Error("证书生成任务入队失败", zap.Error(err))
		} else if e.events != nil {
			aid := audit.ID
			_, _ = e.events.Record(ctx, event.RecordParams{Type: event.TypeAttestationAsked, AuditID: &aid})
		}
	}
}

func (e *Engine) recordTransitionEvent(ctx context.Context, audit *certification.Audit, id TransitionID, target certification.Status, actorID string) {
	if e.events == nil {
		return
	}

	aid := audit.ID
	eid := audit.OrganizationID
	var by *string
	if actorID != "" {
		by = &actorID
	}

	p := event.RecordParams{
		Type:        eventTypeFor(id, target),
		AuditID:     &aid,
		EntityID:    &eid,
		PerformedBy: by,
		Metadata: map[string]any{
			"transition": string(id),
			"target":     string(target),
		},
	}
	if _, err := e.events.Record(ctx, p); err != nil {
		logger.WithContext(ctx).Warn("记录迁移事件失败", zap.Error(err))
	}
}

// eventTypeFor 迁移标识 → 事件类型
func eventTypeFor(id TransitionID, target certification.Status) event.Type {
	switch id {
	// 批准分支的 audit.case.approved 由 Service.ApproveCase 的 EnsureOnce 记录，
	// 这里只落通用状态变更，避免重复事件
	case TransitionSchedule:
		return event.TypeAuditScheduled
	case TransitionOEAccept:
		return event.TypeOEEngagementOK
	case TransitionOERefuse:
		return event.TypeOEEngagementKO
	case TransitionDecideCertify, TransitionDecideCorrectivePlan, TransitionDecideComplementaryAudit:
		return event.TypeDecisionRendered
	case TransitionValidateCorrectivePlan:
		return event.TypeCorrectivePlanOK
	case TransitionRefuseCorrectivePlan:
		return event.TypeCorrectivePlanKO
	case TransitionLaunchComplementaryReport:
		return event.TypeComplementaryAsked
	}

	switch target {
	case certification.StatusCompleted:
		return event.TypeAuditCompleted
	case certification.StatusRefusedPlan, certification.StatusRefusedByOE:
		return event.TypeAuditRefused
	}
	return event.TypeStatusChanged
}

func containsStatus(list []certification.Status, s certification.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
