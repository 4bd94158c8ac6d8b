package workflow

import (
	"context"
	"time"

	"certhub/internal/certification"
	"certhub/internal/document"
)

// TransitionID 命名迁移标识，承载业务意图而非单纯的目标状态
type TransitionID string

const (
	// 案卷批准：决策表入口，分支由企业/审核数据决定，不由调用方挑选
	TransitionApproveCase TransitionID = "approve_case"
	// 批准分支：无 OE → 直接进入规划，稍后指派
	TransitionApproveWithoutOE TransitionID = "approve_without_oe"
	// 批准分支：有 OE 且为监督审核 → 免确认直接规划
	TransitionApproveWithOEMonitoring TransitionID = "approve_with_oe_monitoring"
	// 批准分支：有 OE 的常规审核 → 等待 OE 确认受托
	TransitionApproveWithOENeedsAcceptance TransitionID = "approve_with_oe_needs_acceptance"

	TransitionSchedule TransitionID = "schedule"
	TransitionOEAccept TransitionID = "oe_accept"
	TransitionOERefuse TransitionID = "oe_refuse"

	TransitionDecideCertify             TransitionID = "decide_certify"
	TransitionDecideCorrectivePlan      TransitionID = "decide_corrective_plan"
	TransitionDecideComplementaryAudit  TransitionID = "decide_complementary_audit"
	TransitionValidateCorrectivePlan    TransitionID = "validate_corrective_plan"
	TransitionRefuseCorrectivePlan      TransitionID = "refuse_corrective_plan"
	TransitionLaunchComplementaryReport TransitionID = "launch_complementary_fieldwork"
)

// GuardContext 守卫判定时可读的业务数据，调用时点加载
type GuardContext struct {
	Audit *certification.Audit
	Org   *certification.Organization
	Docs  document.Store
}

// Guard 迁移守卫。返回 false 时附带原因说明
type Guard func(ctx context.Context, g *GuardContext) (bool, string)

// Definition 迁移定义。Mutate 产出迁移自身附带的字段更新，
// 与目标状态的副作用处理器在同一事务内合并落库
type Definition struct {
	Sources []certification.Status
	Target  certification.Status
	Guard   Guard
	Mutate  func(g *GuardContext, actor string, now time.Time) map[string]any
}

// hasEvaluator 企业是否已分配评估机构
func hasEvaluator(org *certification.Organization) bool {
	return org != nil && org.EvaluatorOrgID != nil && *org.EvaluatorOrgID != ""
}

// TransitionCatalog 迁移目录。决策表分支的守卫即「表会选中我」，
// 由 resolveApproveBranch 统一裁决
var TransitionCatalog = map[TransitionID]Definition{
	TransitionApproveWithoutOE: {
		Sources: []certification.Status{certification.StatusPendingCaseApproval},
		Target:  certification.StatusPlanning,
	},
	TransitionApproveWithOEMonitoring: {
		Sources: []certification.Status{certification.StatusPendingCaseApproval},
		Target:  certification.StatusPlanning,
	},
	TransitionApproveWithOENeedsAcceptance: {
		Sources: []certification.Status{certification.StatusPendingCaseApproval},
		Target:  certification.StatusPendingOEAcceptance,
	},
	TransitionSchedule: {
		Sources: []certification.Status{certification.StatusPlanning},
		Target:  certification.StatusScheduled,
		Guard: func(ctx context.Context, g *GuardContext) (bool, string) {
			if g.Audit.PlannedDate == nil {
				return false, "未确定排期日期"
			}
			if !g.Audit.HasAuditor() {
				return false, "未指派审核员"
			}
			return true, ""
		},
	},
	TransitionOEAccept: {
		Sources: []certification.Status{certification.StatusPendingOEAcceptance},
		Target:  certification.StatusPlanning,
	},
	TransitionOERefuse: {
		Sources: []certification.Status{certification.StatusPendingOEAcceptance},
		Target:  certification.StatusRefusedByOE,
	},
	TransitionDecideCertify: {
		Sources: []certification.Status{certification.StatusPendingFEEFDecision},
		Target:  certification.StatusCompleted,
		Guard: func(ctx context.Context, g *GuardContext) (bool, string) {
			if g.Audit.GlobalScore == nil {
				return false, "评分未录入"
			}
			return true, ""
		},
	},
	TransitionDecideCorrectivePlan: {
		Sources: []certification.Status{certification.StatusPendingFEEFDecision},
		Target:  certification.StatusPendingCorrectivePlan,
		Guard: func(ctx context.Context, g *GuardContext) (bool, string) {
			if g.Audit.GlobalScore == nil {
				return false, "评分未录入"
			}
			return true, ""
		},
	},
	TransitionDecideComplementaryAudit: {
		Sources: []certification.Status{certification.StatusPendingFEEFDecision},
		Target:  certification.StatusPendingComplementaryAudit,
	},
	TransitionValidateCorrectivePlan: {
		Sources: []certification.Status{certification.StatusPendingCorrectivePlanValidation},
		Target:  certification.StatusCompleted,
		Mutate: func(g *GuardContext, actor string, now time.Time) map[string]any {
			updates := map[string]any{"corrective_plan_validated_at": now}
			if actor != "" {
				updates["corrective_plan_validated_by"] = actor
			}
			return updates
		},
	},
	TransitionRefuseCorrectivePlan: {
		Sources: []certification.Status{certification.StatusPendingCorrectivePlanValidation},
		Target:  certification.StatusRefusedPlan,
	},
	TransitionLaunchComplementaryReport: {
		Sources: []certification.Status{certification.StatusPendingComplementaryAudit},
		Target:  certification.StatusPendingReport,
	},
}

// approveBranches 案卷批准决策表，自上而下首个命中生效
var approveBranches = []struct {
	When   func(g *GuardContext) bool
	Branch TransitionID
}{
	{
		When:   func(g *GuardContext) bool { return !hasEvaluator(g.Org) },
		Branch: TransitionApproveWithoutOE,
	},
	{
		When:   func(g *GuardContext) bool { return g.Audit.Type == certification.AuditTypeMonitoring },
		Branch: TransitionApproveWithOEMonitoring,
	},
	{
		When:   func(g *GuardContext) bool { return true },
		Branch: TransitionApproveWithOENeedsAcceptance,
	},
}

// resolveApproveBranch 按决策表选定批准分支
func resolveApproveBranch(g *GuardContext) TransitionID {
	for _, b := range approveBranches {
		if b.When(g) {
			return b.Branch
		}
	}
	return TransitionApproveWithOENeedsAcceptance
}

// isApproveBranch 是否属于批准决策表的分支
func isApproveBranch(id TransitionID) bool {
	switch id {
	case TransitionApproveWithoutOE, TransitionApproveWithOEMonitoring, TransitionApproveWithOENeedsAcceptance:
		return true
	}
	return false
}

// AutoRule 自动迁移规则：数据满足条件即触发，无需用户指令
type AutoRule struct {
	Source certification.Status
	Target certification.Status
	When   func(ctx context.Context, g *GuardContext) (bool, error)
}

// AutoRules 按源状态索引的自动迁移规则
var AutoRules = map[certification.Status]AutoRule{
	certification.StatusPendingReport: {
		Source: certification.StatusPendingReport,
		Target: certification.StatusPendingOEOpinion,
		When: func(ctx context.Context, g *GuardContext) (bool, error) {
			// 两个条件缺一不可；0 分是有效分值
			ok, err := g.Docs.Exists(ctx, g.Audit.ID, certification.DocumentTypeReport)
			if err != nil || !ok {
				return false, err
			}
			return g.Audit.GlobalScore != nil, nil
		},
	},
	certification.StatusPendingOEOpinion: {
		Source: certification.StatusPendingOEOpinion,
		Target: certification.StatusPendingFEEFDecision,
		When: func(ctx context.Context, g *GuardContext) (bool, error) {
			return g.Docs.Exists(ctx, g.Audit.ID, certification.DocumentTypeOEOpinion)
		},
	},
	certification.StatusPendingCorrectivePlan: {
		Source: certification.StatusPendingCorrectivePlan,
		Target: certification.StatusPendingCorrectivePlanValidation,
		When: func(ctx context.Context, g *GuardContext) (bool, error) {
			return g.Docs.Exists(ctx, g.Audit.ID, certification.DocumentTypeCorrectivePlan)
		},
	},
}

// DocumentTransitions (文档类型, 当前状态) → 目标状态的静态映射，
// 文档登记后的即时迁移查询用；与 AutoRules 口径一致
var DocumentTransitions = map[certification.DocumentType]map[certification.Status]certification.Status{
	certification.DocumentTypeReport: {
		certification.StatusPendingReport: certification.StatusPendingOEOpinion,
	},
	certification.DocumentTypeOEOpinion: {
		certification.StatusPendingOEOpinion: certification.StatusPendingFEEFDecision,
	},
	certification.DocumentTypeCorrectivePlan: {
		certification.StatusPendingCorrectivePlan: certification.StatusPendingCorrectivePlanValidation,
	},
}
