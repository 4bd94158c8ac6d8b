package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"certhub/internal/action"
	"certhub/internal/certification"
	"certhub/internal/document"
	"certhub/internal/event"
	"certhub/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service 认证工作流的业务入口：案卷提交、字段更新、文档登记、
// 行动项人工完成。状态迁移本身委托给 Engine
type Service struct {
	db      *gorm.DB
	engine  *Engine
	tracker *action.Tracker
	docs    document.Store
	events  *event.Log
}

// NewService 创建工作流服务
func NewService(db *gorm.DB, engine *Engine, tracker *action.Tracker, docs document.Store, events *event.Log) *Service {
	return &Service{db: db, engine: engine, tracker: tracker, docs: docs, events: events}
}

// SubmitCaseParams 案卷提交参数
type SubmitCaseParams struct {
	OrganizationID string
	Type           certification.AuditType
	SubmittedBy    string
}

// SubmitCase 企业提交认证案卷，开启新审核。同一企业同时只允许一个
// 未走完的审核，上一周期未到终态时拒绝
func (s *Service) SubmitCase(ctx context.Context, p SubmitCaseParams) (*certification.Audit, error) {
	var org certification.Organization
	err := s.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", p.OrganizationID).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询企业失败: %w", err)
	}

	var openCount int64
	err = s.db.WithContext(ctx).Model(&certification.Audit{}).
		Where("organization_id = ? AND status NOT IN ? AND deleted_at IS NULL",
			p.OrganizationID,
			[]certification.Status{certification.StatusCompleted, certification.StatusRefusedPlan, certification.StatusRefusedByOE}).
		Count(&openCount).Error
	if err != nil {
		return nil, fmt.Errorf("查询在途审核失败: %w", err)
	}
	if openCount > 0 {
		return nil, ErrCaseAlreadyOpen
	}

	auditType := p.Type
	if auditType == "" {
		auditType = certification.AuditTypeInitial
	}

	now := time.Now().UTC()
	audit := &certification.Audit{
		ID:             uuid.New().String(),
		OrganizationID: p.OrganizationID,
		EvaluatorOrgID: org.EvaluatorOrgID,
		Type:           auditType,
		Status:         certification.StatusPendingCaseApproval,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(audit).Error; err != nil {
			return fmt.Errorf("创建审核失败: %w", err)
		}

		if err := tx.Model(&certification.Organization{}).
			Where("id = ?", org.ID).
			Update("case_submitted_at", now).Error; err != nil {
			return fmt.Errorf("更新企业案卷标记失败: %w", err)
		}

		if _, err := s.tracker.WithTx(tx).CreateForStatus(ctx, audit, &org, audit.Status); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.events != nil {
		aid, eid, by := audit.ID, org.ID, p.SubmittedBy
		_, recErr := s.events.Record(ctx, event.RecordParams{
			Type:        event.TypeAuditCaseSubmitted,
			AuditID:     &aid,
			EntityID:    &eid,
			PerformedBy: &by,
			Metadata:    map[string]any{"audit_type": string(auditType)},
		})
		if recErr != nil {
			logger.WithContext(ctx).Warn("记录案卷提交事件失败", zap.Error(recErr))
		}
	}

	return audit, nil
}

// ApproveCase FEEF 批准案卷。批准分支由决策表按企业当前数据裁决。
// 同一审核的重复批准幂等化为当前状态
func (s *Service) ApproveCase(ctx context.Context, auditID, actorID string) (*certification.Audit, error) {
	var result *certification.Audit
	err := s.events.EnsureOnce(ctx, event.TypeAuditCaseApproved, event.Filter{AuditID: auditID}, &actorID, nil,
		func(ctx context.Context) error {
			updated, err := s.engine.Transition(ctx, auditID, TransitionApproveCase, actorID)
			if err != nil {
				return err
			}
			result = updated
			return nil
		})
	if errors.Is(err, event.ErrDuplicateEvent) {
		return s.engine.GetAudit(ctx, auditID)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Transition 透传命名迁移，API 层直接调用
func (s *Service) Transition(ctx context.Context, auditID string, id TransitionID, actorID string) (*certification.Audit, error) {
	return s.engine.Transition(ctx, auditID, id, actorID)
}

// RecordScore 录入总评分。0 分合法；录入后检查评分行动项的自动完成
// 与 PENDING_REPORT 的自动迁移
func (s *Service) RecordScore(ctx context.Context, auditID string, score float64, actorID string) (*certification.Audit, error) {
	audit, err := s.engine.GetAudit(ctx, auditID)
	if err != nil {
		return nil, err
	}
	if audit.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: 审核已处于终态 %s", ErrInvalidTransition, audit.Status)
	}

	err = s.db.WithContext(ctx).Model(&certification.Audit{}).
		Where("id = ?", auditID).
		Update("global_score", score).Error
	if err != nil {
		return nil, fmt.Errorf("写入评分失败: %w", err)
	}
	audit.GlobalScore = &score

	s.recordFieldEvent(ctx, audit, event.TypeScoreRecorded, actorID, map[string]any{"global_score": score})

	if _, err := s.tracker.DetectAndCompleteForField(ctx, audit, "global_score", actorID); err != nil {
		logger.WithContext(ctx).Warn("评分行动项检查失败", zap.String("audit_id", auditID), zap.Error(err))
	}

	updated, _, err := s.engine.CheckAutoTransition(ctx, auditID, actorID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AssignEvaluator FEEF 为企业指派评估机构，同步到企业与在途审核
func (s *Service) AssignEvaluator(ctx context.Context, auditID, evaluatorOrgID, actorID string) (*certification.Audit, error) {
	audit, err := s.engine.GetAudit(ctx, auditID)
	if err != nil {
		return nil, err
	}
	if audit.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: 审核已处于终态 %s", ErrInvalidTransition, audit.Status)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&certification.Audit{}).
			Where("id = ?", auditID).
			Update("evaluator_org_id", evaluatorOrgID).Error; err != nil {
			return fmt.Errorf("更新审核评估机构失败: %w", err)
		}
		return tx.Model(&certification.Organization{}).
			Where("id = ?", audit.OrganizationID).
			Update("evaluator_org_id", evaluatorOrgID).Error
	})
	if err != nil {
		return nil, err
	}
	audit.EvaluatorOrgID = &evaluatorOrgID

	s.recordFieldEvent(ctx, audit, event.TypeStatusChanged, actorID, map[string]any{"evaluator_org_id": evaluatorOrgID})

	if _, err := s.tracker.DetectAndCompleteForField(ctx, audit, "evaluator_org_id", actorID); err != nil {
		logger.WithContext(ctx).Warn("评估机构行动项检查失败", zap.String("audit_id", auditID), zap.Error(err))
	}
	return audit, nil
}

// PlanParams 排期参数。审核员二选一：平台内 auditor_id 或外部姓名
type PlanParams struct {
	PlannedDate         time.Time
	AuditorID           *string
	ExternalAuditorName *string
}

// PlanAudit 填写排期与审核员。只更新字段，排期确认（schedule 迁移）
// 由调用方显式触发
func (s *Service) PlanAudit(ctx context.Context, auditID string, p PlanParams, actorID string) (*certification.Audit, error) {
	audit, err := s.engine.GetAudit(ctx, auditID)
	if err != nil {
		return nil, err
	}
	if audit.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: 审核已处于终态 %s", ErrInvalidTransition, audit.Status)
	}
	if p.AuditorID != nil && p.ExternalAuditorName != nil {
		return nil, fmt.Errorf("%w: 平台审核员与外部审核员互斥", ErrGuardRejected)
	}

	updates := map[string]any{"planned_date": p.PlannedDate}
	if p.AuditorID != nil {
		updates["auditor_id"] = *p.AuditorID
		updates["external_auditor_name"] = nil
	}
	if p.ExternalAuditorName != nil {
		updates["external_auditor_name"] = *p.ExternalAuditorName
		updates["auditor_id"] = nil
	}

	err = s.db.WithContext(ctx).Model(&certification.Audit{}).
		Where("id = ?", auditID).
		Updates(updates).Error
	if err != nil {
		return nil, fmt.Errorf("写入排期失败: %w", err)
	}

	audit, err = s.engine.GetAudit(ctx, auditID)
	if err != nil {
		return nil, err
	}

	if _, err := s.tracker.DetectAndCompleteForField(ctx, audit, "planned_date", actorID); err != nil {
		logger.WithContext(ctx).Warn("排期行动项检查失败", zap.String("audit_id", auditID), zap.Error(err))
	}
	return audit, nil
}

// RegisterDocument 文档上传完成后的登记：写元数据、记事件、复查行动项、
// 触发该文档类型可能引起的自动迁移
func (s *Service) RegisterDocument(ctx context.Context, p document.RegisterParams, actorID string) (*certification.Document, *certification.Audit, error) {
	audit, err := s.engine.GetAudit(ctx, p.AuditID)
	if err != nil {
		return nil, nil, err
	}
	if audit.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("%w: 审核已处于终态 %s", ErrInvalidTransition, audit.Status)
	}

	doc, err := s.docs.Register(ctx, p)
	if err != nil {
		return nil, nil, err
	}

	s.recordFieldEvent(ctx, audit, documentEventType(p.Type), actorID, map[string]any{
		"document_type": string(p.Type),
		"file_key":      p.FileKey,
	})

	if _, err := s.tracker.CheckAndCompleteAllPending(ctx, audit, actorID); err != nil {
		logger.WithContext(ctx).Warn("文档登记后行动项复查失败", zap.String("audit_id", p.AuditID), zap.Error(err))
	}

	updated := audit
	if targets, ok := DocumentTransitions[p.Type]; ok {
		if _, hit := targets[audit.Status]; hit {
			updated, _, err = s.engine.CheckAutoTransition(ctx, p.AuditID, actorID)
			if err != nil {
				return nil, nil, err
			}
		}
	}
	return doc, updated, nil
}

// CompleteAction 人工标记行动项完成，随后检查所属审核的自动迁移
func (s *Service) CompleteAction(ctx context.Context, actionID, userID string) (*action.Action, error) {
	a, err := s.tracker.CompleteManually(ctx, actionID, userID)
	if err != nil {
		return nil, err
	}

	if a.AuditID != nil {
		if _, _, err := s.engine.CheckAutoTransition(ctx, *a.AuditID, userID); err != nil {
			logger.WithContext(ctx).Warn("行动项完成后自动迁移检查失败",
				zap.String("action_id", actionID),
				zap.Error(err),
			)
		}
	}
	return a, nil
}

// ListFilter 审核列表筛选
type ListFilter struct {
	OrganizationID string
	Status         certification.Status
	Limit          int
	Offset         int
}

// ListAudits 审核列表，按创建时间倒序
func (s *Service) ListAudits(ctx context.Context, f ListFilter) ([]*certification.Audit, int64, error) {
	q := s.db.WithContext(ctx).Model(&certification.Audit{}).Where("deleted_at IS NULL")
	if f.OrganizationID != "" {
		q = q.Where("organization_id = ?", f.OrganizationID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计审核失败: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var audits []*certification.Audit
	err := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&audits).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询审核列表失败: %w", err)
	}
	return audits, total, nil
}

// GetAudit 读取单个审核
func (s *Service) GetAudit(ctx context.Context, auditID string) (*certification.Audit, error) {
	return s.engine.GetAudit(ctx, auditID)
}

// SoftDeleteAudit 软删除审核并取消其未了行动项
func (s *Service) SoftDeleteAudit(ctx context.Context, auditID string) error {
	audit, err := s.engine.GetAudit(ctx, auditID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := tx.Model(&certification.Audit{}).
			Where("id = ?", audit.ID).
			Update("deleted_at", now).Error; err != nil {
			return fmt.Errorf("软删除审核失败: %w", err)
		}
		_, err := s.tracker.WithTx(tx).CancelForAudit(ctx, audit.ID)
		return err
	})
}

// recordFieldEvent 字段级业务事件，失败不阻断主流程
func (s *Service) recordFieldEvent(ctx context.Context, audit *certification.Audit, t event.Type, actorID string, metadata map[string]any) {
	if s.events == nil {
		return
	}
	aid, eid := audit.ID, audit.OrganizationID
	var by *string
	if actorID != "" {
		by = &actorID
	}
	_, err := s.events.Record(ctx, event.RecordParams{
		Type:        t,
		AuditID:     &aid,
		EntityID:    &eid,
		PerformedBy: by,
		Metadata:    metadata,
	})
	if err != nil {
		logger.WithContext(ctx).Warn("记录业务事件失败", zap.String("type", string(t)), zap.Error(err))
	}
}

// documentEventType 文档类型 → 事件类型
func documentEventType(t certification.DocumentType) event.Type {
	switch t {
	case certification.DocumentTypeReport:
		return event.TypeReportSubmitted
	case certification.DocumentTypeOEOpinion:
		return event.TypeOEOpinionSubmitted
	case certification.DocumentTypeCorrectivePlan:
		return event.TypeCorrectivePlanUpload
	}
	return event.TypeStatusChanged
}
