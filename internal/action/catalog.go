package action

import (
	"context"
	"time"

	"certhub/internal/certification"
	"certhub/internal/document"
)

// DeadlineRule 截止期规则
type DeadlineRule struct {
	Days            int  // 相对创建时间 +N 天
	Months          int  // 相对创建时间 +N 月
	FromPlannedDate bool // 直接使用审核排期日
}

// Resolve 计算截止期，无规则时返回 nil
func (r DeadlineRule) Resolve(now time.Time, audit *certification.Audit) *time.Time {
	if r.FromPlannedDate {
		if audit.PlannedDate == nil {
			return nil
		}
		d := *audit.PlannedDate
		return &d
	}
	if r.Days == 0 && r.Months == 0 {
		return nil
	}
	d := now.AddDate(0, r.Months, r.Days)
	return &d
}

// PredicateEnv 自动完成判定的只读环境
type PredicateEnv struct {
	Audit *certification.Audit
	Docs  document.Store
}

// Predicate 判定某行动项是否已被当前数据满足
type Predicate func(ctx context.Context, env *PredicateEnv) (bool, error)

// Template 行动项模板
type Template struct {
	Type     Type
	Roles    []certification.Role
	Deadline DeadlineRule
	// Applies 为空表示模板恒适用；否则在状态入口先判定
	Applies func(audit *certification.Audit, org *certification.Organization) bool
}

// Catalog 状态 → 行动项模板。同一 (auditId, type) 同时至多一条未取消记录，
// 由 Tracker 在创建时保证
var Catalog = map[certification.Status][]Template{
	certification.StatusPendingCaseApproval: {
		{Type: TypeReviewCase, Roles: []certification.Role{certification.RoleFEEF}, Deadline: DeadlineRule{Days: 15}},
	},
	certification.StatusPlanning: {
		{
			Type: TypeAssignEvaluator, Roles: []certification.Role{certification.RoleFEEF},
			Applies: func(_ *certification.Audit, org *certification.Organization) bool {
				return org == nil || org.EvaluatorOrgID == nil || *org.EvaluatorOrgID == ""
			},
		},
		{Type: TypePlanAudit, Roles: []certification.Role{certification.RoleOE, certification.RoleAuditor}, Deadline: DeadlineRule{Days: 15}},
	},
	certification.StatusScheduled: {
		{Type: TypeConductAudit, Roles: []certification.Role{certification.RoleAuditor}, Deadline: DeadlineRule{FromPlannedDate: true}},
	},
	certification.StatusPendingReport: {
		{Type: TypeUploadReport, Roles: []certification.Role{certification.RoleAuditor, certification.RoleOE}, Deadline: DeadlineRule{Days: 15}},
		{Type: TypeEnterScore, Roles: []certification.Role{certification.RoleAuditor, certification.RoleOE}, Deadline: DeadlineRule{Days: 15}},
	},
	certification.StatusPendingOEOpinion: {
		{Type: TypeUploadOEOpinion, Roles: []certification.Role{certification.RoleOE}, Deadline: DeadlineRule{Days: 15}},
	},
	certification.StatusPendingFEEFDecision: {
		{Type: TypeRenderDecision, Roles: []certification.Role{certification.RoleFEEF}, Deadline: DeadlineRule{Days: 15}},
	},
	certification.StatusPendingCorrectivePlan: {
		{Type: TypeUploadCorrectivePlan, Roles: []certification.Role{certification.RoleOrganization}, Deadline: DeadlineRule{Months: 6}},
	},
	certification.StatusPendingCorrectivePlanValidation: {
		{Type: TypeValidateCorrectivePlan, Roles: []certification.Role{certification.RoleFEEF}, Deadline: DeadlineRule{Days: 15}},
	},
	certification.StatusPendingOEAcceptance: {
		{Type: TypeConfirmEngagement, Roles: []certification.Role{certification.RoleOE}, Deadline: DeadlineRule{Days: 15}},
	},
	certification.StatusPendingComplementaryAudit: {
		{Type: TypeScheduleComplementary, Roles: []certification.Role{certification.RoleOE}, Deadline: DeadlineRule{Days: 15}},
	},
}

// catalogStatusOf 类型 → 所属目录状态（反查，用于「离开该状态即视为完成」兜底判定）
var catalogStatusOf = func() map[Type]certification.Status {
	m := make(map[Type]certification.Status)
	for status, templates := range Catalog {
		for _, tpl := range templates {
			m[tpl.Type] = status
		}
	}
	return m
}()

// Predicates 类型 → 自动完成判定。未列出的类型走 leftStatus 兜底
var Predicates = map[Type]Predicate{
	TypeUploadReport: func(ctx context.Context, env *PredicateEnv) (bool, error) {
		return env.Docs.Exists(ctx, env.Audit.ID, certification.DocumentTypeReport)
	},
	TypeEnterScore: func(ctx context.Context, env *PredicateEnv) (bool, error) {
		// 0 分是有效分值，判空而非判零
		return env.Audit.GlobalScore != nil, nil
	},
	TypeUploadOEOpinion: func(ctx context.Context, env *PredicateEnv) (bool, error) {
		return env.Docs.Exists(ctx, env.Audit.ID, certification.DocumentTypeOEOpinion)
	},
	TypeUploadCorrectivePlan: func(ctx context.Context, env *PredicateEnv) (bool, error) {
		return env.Docs.Exists(ctx, env.Audit.ID, certification.DocumentTypeCorrectivePlan)
	},
	TypeAssignEvaluator: func(ctx context.Context, env *PredicateEnv) (bool, error) {
		return env.Audit.EvaluatorOrgID != nil && *env.Audit.EvaluatorOrgID != "", nil
	},
	TypePlanAudit: func(ctx context.Context, env *PredicateEnv) (bool, error) {
		return env.Audit.PlannedDate != nil && env.Audit.HasAuditor(), nil
	},
}

// resolvePredicate 取类型的判定；目录内未显式声明的，审核离开目录状态即视为完成
func resolvePredicate(t Type) Predicate {
	if p, ok := Predicates[t]; ok {
		return p
	}
	home, ok := catalogStatusOf[t]
	if !ok {
		return nil
	}
	return func(ctx context.Context, env *PredicateEnv) (bool, error) {
		return env.Audit.Status != home, nil
	}
}

// FieldIndex 字段 → 受其影响的行动项类型，DetectAndCompleteForField 热路径用
var FieldIndex = map[string][]Type{
	"global_score":     {TypeEnterScore},
	"evaluator_org_id": {TypeAssignEvaluator},
	"planned_date":     {TypePlanAudit},
}
