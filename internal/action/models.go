package action

import (
	"time"

	"certhub/internal/certification"
)

// Status 行动项状态，只能 PENDING → {COMPLETED, CANCELLED, OVERDUE}，不可回退
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusOverdue   Status = "OVERDUE"
)

// Type 行动项类型目录
type Type string

const (
	TypeReviewCase             Type = "REVIEW_CASE"              // FEEF 受理案卷
	TypeAssignEvaluator        Type = "ASSIGN_EVALUATOR"         // 指派评估机构
	TypePlanAudit              Type = "PLAN_AUDIT"               // 制定审核计划
	TypeConductAudit           Type = "CONDUCT_AUDIT"            // 执行现场审核
	TypeUploadReport           Type = "UPLOAD_REPORT"            // 提交审核报告
	TypeEnterScore             Type = "ENTER_SCORE"              // 录入评分
	TypeUploadOEOpinion        Type = "UPLOAD_OE_OPINION"        // 提交 OE 意见书
	TypeRenderDecision         Type = "RENDER_DECISION"          // FEEF 作出决定
	TypeUploadCorrectivePlan   Type = "UPLOAD_CORRECTIVE_PLAN"   // 提交整改计划
	TypeValidateCorrectivePlan Type = "VALIDATE_CORRECTIVE_PLAN" // 审查整改计划
	TypeConfirmEngagement      Type = "CONFIRM_ENGAGEMENT"       // OE 确认受托
	TypeScheduleComplementary  Type = "SCHEDULE_COMPLEMENTARY"   // 安排补充审核
)

// Action 当前工作流状态隐含的一项待办工作
type Action struct {
	ID   string `json:"id" gorm:"primaryKey;type:uuid"`
	Type Type   `json:"type" gorm:"size:50;not null;index"`

	// 负责角色，至少一个
	AssignedRoles []string `json:"assignedRoles" gorm:"type:jsonb;serializer:json;not null"`

	Status   Status     `json:"status" gorm:"size:20;not null;index;default:PENDING"`
	Deadline *time.Time `json:"deadline" gorm:"index"`

	// 归属上下文，audit_id 与 entity_id 恰有一个非空
	AuditID  *string `json:"auditId" gorm:"type:uuid;index"`
	EntityID *string `json:"entityId" gorm:"type:uuid;index"`

	CompletedAt *time.Time `json:"completedAt"`
	CompletedBy *string    `json:"completedBy" gorm:"type:uuid"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt" gorm:"index"`
}

// TableName 指定表名
func (Action) TableName() string { return "actions" }

// IsOpen PENDING 或 OVERDUE 视为未了结
func (a *Action) IsOpen() bool {
	return a.Status == StatusPending || a.Status == StatusOverdue
}

// HasRole 负责角色中是否包含指定角色
func (a *Action) HasRole(r certification.Role) bool {
	for _, role := range a.AssignedRoles {
		if role == string(r) {
			return true
		}
	}
	return false
}
