package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"certhub/internal/certification"
	"certhub/internal/document"
	"certhub/internal/event"
	"certhub/internal/logger"
	"certhub/internal/metrics"
	"certhub/internal/notification"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrActionNotFound 行动项不存在
	ErrActionNotFound = errors.New("行动项不存在")
	// ErrAlreadyCompleted 行动项已了结（完成或取消），重复操作按无操作处理
	ErrAlreadyCompleted = errors.New("行动项已了结")
)

// Tracker 行动项追踪引擎：按状态目录生成、自动完成、批量取消、逾期升级
type Tracker struct {
	db       *gorm.DB
	docs     document.Store
	events   *event.Log
	notifier notification.Notifier
	cooldown *notification.Cooldown
}

// TrackerOption 自定义配置
type TrackerOption func(*Tracker)

// WithNotifier 注入通知器
func WithNotifier(n notification.Notifier) TrackerOption {
	return func(t *Tracker) { t.notifier = n }
}

// WithCooldown 注入通知冷却器
func WithCooldown(c *notification.Cooldown) TrackerOption {
	return func(t *Tracker) { t.cooldown = c }
}

// NewTracker 创建追踪引擎
func NewTracker(db *gorm.DB, docs document.Store, events *event.Log, opts ...TrackerOption) *Tracker {
	t := &Tracker{db: db, docs: docs, events: events}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// WithTx 返回绑定到指定事务的副本，状态迁移事务内创建行动项时使用
func (t *Tracker) WithTx(tx *gorm.DB) *Tracker {
	clone := *t
	clone.db = tx
	return &clone
}

// CreateForStatus 为进入新状态的审核生成目录规定的行动项。
// 幂等：同 (auditId, type) 已有未取消记录时跳过，重入状态不会产生重复
func (t *Tracker) CreateForStatus(ctx context.Context, audit *certification.Audit, org *certification.Organization, status certification.Status) ([]*Action, error) {
	templates, ok := Catalog[status]
	if !ok {
		return nil, nil
	}

	now := time.Now().UTC()
	var created []*Action

	for _, tpl := range templates {
		if tpl.Applies != nil && !tpl.Applies(audit, org) {
			continue
		}

		var count int64
		err := t.db.WithContext(ctx).Model(&Action{}).
			Where("audit_id = ? AND type = ? AND status <> ? AND deleted_at IS NULL", audit.ID, tpl.Type, StatusCancelled).
			Count(&count).Error
		if err != nil {
			return created, fmt.Errorf("查询既有行动项失败: %w", err)
		}
		if count > 0 {
			continue
		}

		roles := make([]string, 0, len(tpl.Roles))
		for _, r := range tpl.Roles {
			roles = append(roles, string(r))
		}

		auditID := audit.ID
		a := &Action{
			ID:            uuid.New().String(),
			Type:          tpl.Type,
			AssignedRoles: roles,
			Status:        StatusPending,
			Deadline:      tpl.Deadline.Resolve(now, audit),
			AuditID:       &auditID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if err := t.db.WithContext(ctx).Create(a).Error; err != nil {
			// 并发重入同一状态时由局部唯一索引兜底，视为已存在
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			return created, fmt.Errorf("创建行动项失败: %w", err)
		}

		created = append(created, a)
		metrics.ActionsPendingGauge.Inc()
		t.recordEvent(ctx, event.TypeActionCreated, audit, nil, map[string]any{"action_type": string(a.Type)})
		t.dispatch(ctx, notification.Notification{
			Kind:       notification.KindActionCreated,
			AuditID:    audit.ID,
			EntityID:   audit.OrganizationID,
			Roles:      roles,
			Payload:    map[string]any{"action_type": string(a.Type)},
			OccurredAt: now,
		}, fmt.Sprintf("%s:%s:created", audit.ID, a.Type))
	}

	return created, nil
}

// CheckAndCompleteAllPending 重新判定该审核全部未了结行动项，满足条件的标记完成。
// 可在任何写操作后冗余调用，已完成项不受影响
func (t *Tracker) CheckAndCompleteAllPending(ctx context.Context, audit *certification.Audit, userID string) (int, error) {
	var open []*Action
	err := t.db.WithContext(ctx).
		Where("audit_id = ? AND status IN ? AND deleted_at IS NULL", audit.ID, []Status{StatusPending, StatusOverdue}).
		Find(&open).Error
	if err != nil {
		return 0, fmt.Errorf("查询未了结行动项失败: %w", err)
	}

	return t.completeSatisfied(ctx, audit, open, userID)
}

// DetectAndCompleteForField 只复查依赖指定字段的行动项，热路径免全量判定
func (t *Tracker) DetectAndCompleteForField(ctx context.Context, audit *certification.Audit, field string, userID string) (int, error) {
	types, ok := FieldIndex[field]
	if !ok || len(types) == 0 {
		return 0, nil
	}

	var open []*Action
	err := t.db.WithContext(ctx).
		Where("audit_id = ? AND type IN ? AND status IN ? AND deleted_at IS NULL", audit.ID, types, []Status{StatusPending, StatusOverdue}).
		Find(&open).Error
	if err != nil {
		return 0, fmt.Errorf("查询未了结行动项失败: %w", err)
	}

	return t.completeSatisfied(ctx, audit, open, userID)
}

// CancelForAudit 批量取消审核的全部未了结行动项，审核进入终态或死局时调用
func (t *Tracker) CancelForAudit(ctx context.Context, auditID string) (int64, error) {
	now := time.Now().UTC()
	result := t.db.WithContext(ctx).Model(&Action{}).
		Where("audit_id = ? AND status IN ? AND deleted_at IS NULL", auditID, []Status{StatusPending, StatusOverdue}).
		Updates(map[string]any{
			"status":     StatusCancelled,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("取消行动项失败: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		metrics.ActionsPendingGauge.Sub(float64(result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// CompleteManually 授权角色（FEEF）绕过判定直接完成 PENDING/OVERDUE 行动项。
// 调用方随后必须触发所属审核的自动迁移检查
func (t *Tracker) CompleteManually(ctx context.Context, actionID, userID string) (*Action, error) {
	var a Action
	err := t.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", actionID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询行动项失败: %w", err)
	}
	if !a.IsOpen() {
		return nil, ErrAlreadyCompleted
	}

	if err := t.markCompleted(ctx, &a, userID); err != nil {
		return nil, err
	}
	metrics.ActionsCompletedTotal.WithLabelValues(string(a.Type), "manual").Inc()
	return &a, nil
}

// SweepSummary 巡检结果摘要
type SweepSummary struct {
	Scanned int `json:"scanned"`
	Flagged int `json:"flagged"`
	Failed  int `json:"failed"`
}

// MarkOverdueSweep 逾期巡检：deadline 已过的 PENDING 项升级为 OVERDUE。
// 纯可见性升级，不影响状态机；单行失败记日志后继续
func (t *Tracker) MarkOverdueSweep(ctx context.Context, now time.Time) (SweepSummary, error) {
	started := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("overdue_sweep").Observe(time.Since(started).Seconds())
	}()

	var stale []*Action
	err := t.db.WithContext(ctx).
		Where("status = ? AND deadline IS NOT NULL AND deadline < ? AND deleted_at IS NULL", StatusPending, now).
		Find(&stale).Error
	if err != nil {
		return SweepSummary{}, fmt.Errorf("查询逾期行动项失败: %w", err)
	}

	summary := SweepSummary{Scanned: len(stale)}
	for _, a := range stale {
		result := t.db.WithContext(ctx).Model(&Action{}).
			Where("id = ? AND status = ?", a.ID, StatusPending).
			Updates(map[string]any{
				"status":     StatusOverdue,
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			summary.Failed++
			metrics.SweepItemsTotal.WithLabelValues("overdue_sweep", "failed").Inc()
			logger.WithContext(ctx).Error("逾期升级失败",
				zap.String("action_id", a.ID),
				zap.Error(result.Error),
			)
			continue
		}
		if result.RowsAffected == 0 {
			// 已被并发了结，跳过
			metrics.SweepItemsTotal.WithLabelValues("overdue_sweep", "skipped").Inc()
			continue
		}

		summary.Flagged++
		metrics.ActionsOverdueTotal.Inc()
		metrics.SweepItemsTotal.WithLabelValues("overdue_sweep", "flagged").Inc()
		if a.AuditID != nil {
			aid := *a.AuditID
			t.recordEventRaw(ctx, event.TypeActionOverdue, &aid, nil, map[string]any{"action_type": string(a.Type)})
			t.dispatch(ctx, notification.Notification{
				Kind:       notification.KindActionOverdue,
				AuditID:    aid,
				Roles:      a.AssignedRoles,
				Payload:    map[string]any{"action_type": string(a.Type)},
				OccurredAt: time.Now().UTC(),
			}, fmt.Sprintf("%s:%s:overdue", aid, a.Type))
		}
	}

	logger.WithContext(ctx).Info("逾期巡检完成",
		zap.Int("scanned", summary.Scanned),
		zap.Int("flagged", summary.Flagged),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// Get 按 ID 读取行动项
func (t *Tracker) Get(ctx context.Context, actionID string) (*Action, error) {
	var a Action
	err := t.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", actionID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询行动项失败: %w", err)
	}
	return &a, nil
}

// ListForAudit 审核的全部行动项
func (t *Tracker) ListForAudit(ctx context.Context, auditID string) ([]*Action, error) {
	var actions []*Action
	err := t.db.WithContext(ctx).
		Where("audit_id = ? AND deleted_at IS NULL", auditID).
		Order("created_at ASC").
		Find(&actions).Error
	if err != nil {
		return nil, fmt.Errorf("查询行动项失败: %w", err)
	}
	return actions, nil
}

// --- 内部方法 ---

func (t *Tracker) completeSatisfied(ctx context.Context, audit *certification.Audit, open []*Action, userID string) (int, error) {
	env := &PredicateEnv{Audit: audit, Docs: t.docs}
	completed := 0

	for _, a := range open {
		pred := resolvePredicate(a.Type)
		if pred == nil {
			continue
		}
		ok, err := pred(ctx, env)
		if err != nil {
			return completed, fmt.Errorf("判定行动项 %s 失败: %w", a.Type, err)
		}
		if !ok {
			continue
		}
		if err := t.markCompleted(ctx, a, userID); err != nil {
			return completed, err
		}
		completed++
		metrics.ActionsCompletedTotal.WithLabelValues(string(a.Type), "auto").Inc()
	}
	return completed, nil
}

// markCompleted 条件更新防并发：只有仍未了结的行才会被改写
func (t *Tracker) markCompleted(ctx context.Context, a *Action, userID string) error {
	now := time.Now().UTC()
	var by *string
	if userID != "" {
		by = &userID
	}

	result := t.db.WithContext(ctx).Model(&Action{}).
		Where("id = ? AND status IN ?", a.ID, []Status{StatusPending, StatusOverdue}).
		Updates(map[string]any{
			"status":       StatusCompleted,
			"completed_at": now,
			"completed_by": by,
			"updated_at":   now,
		})
	if result.Error != nil {
		return fmt.Errorf("完成行动项失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// 并发方已抢先了结，按无操作处理
		return nil
	}

	a.Status = StatusCompleted
	a.CompletedAt = &now
	a.CompletedBy = by
	metrics.ActionsPendingGauge.Dec()
	t.recordEventRaw(ctx, event.TypeActionCompleted, a.AuditID, by, map[string]any{"action_type": string(a.Type)})
	return nil
}

func (t *Tracker) recordEvent(ctx context.Context, typ event.Type, audit *certification.Audit, by *string, metadata map[string]any) {
	aid := audit.ID
	t.recordEventRaw(ctx, typ, &aid, by, metadata)
}

// recordEventRaw 事件写入失败不中断业务流程
func (t *Tracker) recordEventRaw(ctx context.Context, typ event.Type, auditID, by *string, metadata map[string]any) {
	if t.events == nil {
		return
	}
	if _, err := t.events.Record(ctx, event.RecordParams{
		Type:        typ,
		AuditID:     auditID,
		PerformedBy: by,
		Metadata:    metadata,
	}); err != nil {
		logger.WithContext(ctx).Warn("记录行动项事件失败", zap.Error(err))
	}
}

func (t *Tracker) dispatch(ctx context.Context, n notification.Notification, cooldownKey string) {
	if t.notifier == nil {
		return
	}
	if t.cooldown != nil && !t.cooldown.Allow(ctx, cooldownKey) {
		return
	}
	_ = t.notifier.Notify(ctx, n)
}
