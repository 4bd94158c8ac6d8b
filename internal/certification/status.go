package certification

// Status 审核状态机的状态集合
type Status string

const (
	StatusPlanning                         Status = "PLANNING"
	StatusScheduled                        Status = "SCHEDULED"
	StatusPendingReport                    Status = "PENDING_REPORT"
	StatusPendingOEOpinion                 Status = "PENDING_OE_OPINION"
	StatusPendingFEEFDecision              Status = "PENDING_FEEF_DECISION"
	StatusPendingCorrectivePlan            Status = "PENDING_CORRECTIVE_PLAN"
	StatusPendingCorrectivePlanValidation  Status = "PENDING_CORRECTIVE_PLAN_VALIDATION"
	StatusPendingOEAcceptance              Status = "PENDING_OE_ACCEPTANCE"
	StatusPendingComplementaryAudit        Status = "PENDING_COMPLEMENTARY_AUDIT"
	StatusPendingCaseApproval              Status = "PENDING_CASE_APPROVAL"
	StatusCompleted                        Status = "COMPLETED"
	StatusRefusedPlan                      Status = "REFUSED_PLAN"
	StatusRefusedByOE                      Status = "REFUSED_BY_OE"
)

// AllStatuses 全部合法状态，按业务流程大致排序
var AllStatuses = []Status{
	StatusPendingCaseApproval,
	StatusPendingOEAcceptance,
	StatusPlanning,
	StatusScheduled,
	StatusPendingReport,
	StatusPendingOEOpinion,
	StatusPendingFEEFDecision,
	StatusPendingCorrectivePlan,
	StatusPendingCorrectivePlanValidation,
	StatusPendingComplementaryAudit,
	StatusCompleted,
	StatusRefusedPlan,
	StatusRefusedByOE,
}

// IsValid 判断是否为声明过的状态
func (s Status) IsValid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal 终态：COMPLETED、REFUSED_PLAN、REFUSED_BY_OE，进入后状态不再变化
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRefusedPlan, StatusRefusedByOE:
		return true
	}
	return false
}

// AuditType 审核类型
type AuditType string

const (
	AuditTypeInitial    AuditType = "INITIAL"    // 首次认证
	AuditTypeRenewal    AuditType = "RENEWAL"    // 续期认证
	AuditTypeMonitoring AuditType = "MONITORING" // 监督审核
)

// Role 工作流中的参与方角色
type Role string

const (
	RoleFEEF         Role = "FEEF"         // 认证机构，拥有最终决定权
	RoleOE           Role = "OE"           // 评估机构，受托执行审核
	RoleAuditor      Role = "AUDITOR"      // 审核员
	RoleOrganization Role = "ORGANIZATION" // 被认证企业
)

// DocumentType 工作流涉及的文档类型
type DocumentType string

const (
	DocumentTypeReport         DocumentType = "REPORT"          // 审核报告
	DocumentTypeOEOpinion      DocumentType = "OE_OPINION"      // OE 意见书
	DocumentTypeCorrectivePlan DocumentType = "CORRECTIVE_PLAN" // 整改计划
	DocumentTypeAttestation    DocumentType = "ATTESTATION"     // 认证证书
)
