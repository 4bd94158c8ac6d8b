package event

// Type 领域事件类型
type Type string

// 案卷与审批事件
const (
	TypeAuditCaseSubmitted Type = "audit.case.submitted" // 企业提交案卷
	TypeAuditCaseApproved  Type = "audit.case.approved"  // FEEF 批准案卷
	TypeAuditScheduled     Type = "audit.scheduled"      // 审核排期确定
	TypeOEEngagementOK     Type = "audit.oe.accepted"    // OE 确认受托
	TypeOEEngagementKO     Type = "audit.oe.refused"     // OE 拒绝受托
)

// 审核执行事件
const (
	TypeReportSubmitted      Type = "audit.report.submitted"       // 审核报告提交
	TypeScoreRecorded        Type = "audit.score.recorded"         // 评分录入
	TypeOEOpinionSubmitted   Type = "audit.oe_opinion.submitted"   // OE 意见书提交
	TypeDecisionRendered     Type = "audit.decision.rendered"      // FEEF 作出决定
	TypeCorrectivePlanUpload Type = "audit.corrective_plan.upload" // 整改计划提交
	TypeCorrectivePlanOK     Type = "audit.corrective_plan.ok"     // 整改计划通过
	TypeCorrectivePlanKO     Type = "audit.corrective_plan.ko"     // 整改计划被拒
	TypeComplementaryAsked   Type = "audit.complementary.asked"    // 要求补充审核
	TypeAuditCompleted       Type = "audit.completed"              // 认证完成
	TypeAuditRefused         Type = "audit.refused"                // 认证被拒
	TypeStatusChanged        Type = "audit.status.changed"         // 其它状态变化（自动迁移、巡检）
)

// 行动项事件
const (
	TypeActionCreated   Type = "action.created"   // 行动项生成
	TypeActionCompleted Type = "action.completed" // 行动项完成
	TypeActionOverdue   Type = "action.overdue"   // 行动项逾期
)

// 外部协作事件
const (
	TypeAttestationAsked  Type = "attestation.requested" // 证书生成请求已入队
	TypeAttestationIssued Type = "attestation.issued"    // 证书文档已登记
)

// Category 事件分类，时间线展示用
type Category string

const (
	CategoryCase     Category = "case"     // 案卷流程
	CategoryAudit    Category = "audit"    // 审核执行
	CategoryAction   Category = "action"   // 行动项
	CategoryExternal Category = "external" // 外部协作
)

// CategoryOf 按类型前缀归类
func CategoryOf(t Type) Category {
	switch t {
	case TypeAuditCaseSubmitted, TypeAuditCaseApproved, TypeAuditScheduled,
		TypeOEEngagementOK, TypeOEEngagementKO:
		return CategoryCase
	case TypeActionCreated, TypeActionCompleted, TypeActionOverdue:
		return CategoryAction
	case TypeAttestationAsked, TypeAttestationIssued:
		return CategoryExternal
	default:
		return CategoryAudit
	}
}
