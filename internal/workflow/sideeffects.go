package workflow

import (
	"context"
	"fmt"
	"time"

	"certhub/internal/certification"

	"gorm.io/gorm"
)

// SideEffect 目标状态的副作用处理器，在迁移事务内、提交前执行。
// 返回的字段更新并入审核记录；不得回调状态机（禁止重入迁移）
type SideEffect func(ctx context.Context, tx *gorm.DB, g *GuardContext, actor string, now time.Time) (map[string]any, error)

// buildSideEffects 目标状态 → 处理器。未列出的状态无副作用
func (e *Engine) buildSideEffects() map[certification.Status]SideEffect {
	return map[certification.Status]SideEffect{
		certification.StatusScheduled: func(ctx context.Context, tx *gorm.DB, g *GuardContext, actor string, now time.Time) (map[string]any, error) {
			if g.Audit.ActualStartDate == nil && g.Audit.PlannedDate != nil {
				return map[string]any{"actual_start_date": *g.Audit.PlannedDate}, nil
			}
			return nil, nil
		},

		certification.StatusPendingComplementaryAudit: func(ctx context.Context, tx *gorm.DB, g *GuardContext, actor string, now time.Time) (map[string]any, error) {
			return map[string]any{"has_complementary_audit": true}, nil
		},

		certification.StatusCompleted: func(ctx context.Context, tx *gorm.DB, g *GuardContext, actor string, now time.Time) (map[string]any, error) {
			// 认证完成：颁发标签有效期，清空企业的周期内标记为下一周期做准备，
			// 未了结行动项一并取消
			if err := e.clearCycleMarkers(ctx, tx, g.Audit.OrganizationID); err != nil {
				return nil, err
			}
			if _, err := e.tracker.WithTx(tx).CancelForAudit(ctx, g.Audit.ID); err != nil {
				return nil, err
			}
			return map[string]any{
				"label_expiration_date": now.AddDate(0, e.cfg.LabelValidityMonths, 0),
				"actual_end_date":       now,
			}, nil
		},

		certification.StatusRefusedPlan: e.refusalSideEffect(),
		certification.StatusRefusedByOE: e.refusalSideEffect(),
	}
}

// refusalSideEffect 死局状态共用：取消全部未了结行动项，不留僵尸工作
func (e *Engine) refusalSideEffect() SideEffect {
	return func(ctx context.Context, tx *gorm.DB, g *GuardContext, actor string, now time.Time) (map[string]any, error) {
		if _, err := e.tracker.WithTx(tx).CancelForAudit(ctx, g.Audit.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func (e *Engine) clearCycleMarkers(ctx context.Context, tx *gorm.DB, orgID string) error {
	err := tx.WithContext(ctx).Model(&certification.Organization{}).
		Where("id = ?", orgID).
		Updates(map[string]any{
			"documentary_review_ready_at": nil,
			"case_submitted_at":           nil,
			"updated_at":                  time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("清空企业周期标记失败: %w", err)
	}
	return nil
}
