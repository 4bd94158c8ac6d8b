package action

import (
	"context"
	"fmt"
	"sort"

	"certhub/internal/certification"
)

// Viewer 行动项读取方的身份与归属
type Viewer struct {
	UserID string
	Role   certification.Role
	// OrganizationID 企业角色的所属企业
	OrganizationID string
	// EvaluatorOrgID OE 角色的所属评估机构
	EvaluatorOrgID string
	// AffiliatedOEIDs 审核员挂靠的评估机构
	AffiliatedOEIDs []string
}

// VisibleActions 按角色与归属过滤可见行动项。
// 任何分支都不匹配时返回空集，绝不放行全部
func (t *Tracker) VisibleActions(ctx context.Context, v Viewer) ([]*Action, error) {
	base := t.db.WithContext(ctx).Model(&Action{}).Where("actions.deleted_at IS NULL")

	switch v.Role {
	case certification.RoleFEEF:
		// 认证机构全局可见

	case certification.RoleOE:
		if v.EvaluatorOrgID == "" {
			return nil, nil
		}
		base = base.
			Joins("JOIN audits ON audits.id = actions.audit_id").
			Where("audits.evaluator_org_id = ?", v.EvaluatorOrgID)

	case certification.RoleAuditor:
		return t.visibleToAuditor(ctx, v)

	case certification.RoleOrganization:
		if v.OrganizationID == "" {
			return nil, nil
		}
		base = base.
			Joins("LEFT JOIN audits ON audits.id = actions.audit_id").
			Where("audits.organization_id = ? OR actions.entity_id = ?", v.OrganizationID, v.OrganizationID)

	default:
		return nil, nil
	}

	var rows []*Action
	if err := base.Order("actions.created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询可见行动项失败: %w", err)
	}

	if v.Role == certification.RoleFEEF {
		return rows, nil
	}
	return filterByAssignedRole(rows, v.Role), nil
}

// visibleToAuditor 审核员的两条可见路径各自与角色配对：本人被指派的
// 审核只命中 AUDITOR 角色的行动项，挂靠评估机构的审核只命中 OE 角色的
// 行动项。两条路径不得交叉放大——指派不授予非挂靠机构的 OE 视图
func (t *Tracker) visibleToAuditor(ctx context.Context, v Viewer) ([]*Action, error) {
	if v.UserID == "" && len(v.AffiliatedOEIDs) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var out []*Action
	collect := func(cond string, arg any, role certification.Role) error {
		var rows []*Action
		err := t.db.WithContext(ctx).Model(&Action{}).
			Where("actions.deleted_at IS NULL").
			Joins("JOIN audits ON audits.id = actions.audit_id").
			Where(cond, arg).
			Find(&rows).Error
		if err != nil {
			return fmt.Errorf("查询可见行动项失败: %w", err)
		}
		for _, a := range rows {
			if !seen[a.ID] && a.HasRole(role) {
				seen[a.ID] = true
				out = append(out, a)
			}
		}
		return nil
	}

	if v.UserID != "" {
		if err := collect("audits.auditor_id = ?", v.UserID, certification.RoleAuditor); err != nil {
			return nil, err
		}
	}
	if len(v.AffiliatedOEIDs) > 0 {
		if err := collect("audits.evaluator_org_id IN ?", v.AffiliatedOEIDs, certification.RoleOE); err != nil {
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// filterByAssignedRole 角色匹配在内存中完成，负责角色存 JSON 数组，
// 方言间的 JSON 包含查询不可移植
func filterByAssignedRole(rows []*Action, role certification.Role) []*Action {
	out := make([]*Action, 0, len(rows))
	for _, a := range rows {
		if a.HasRole(role) {
			out = append(out, a)
		}
	}
	return out
}
