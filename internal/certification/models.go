package certification

import "time"

// Audit 一次认证审核（一个企业的一个认证周期）
type Audit struct {
	ID             string `json:"id" gorm:"primaryKey;type:uuid"`
	OrganizationID string `json:"organizationId" gorm:"type:uuid;not null;index"`

	// 执行方：分配了 OE 时填 evaluator_org_id；
	// 审核员要么是平台内用户（auditor_id），要么是外部人员（external_auditor_name），二者互斥
	EvaluatorOrgID      *string `json:"evaluatorOrgId" gorm:"type:uuid;index"`
	AuditorID           *string `json:"auditorId" gorm:"type:uuid;index"`
	ExternalAuditorName *string `json:"externalAuditorName" gorm:"size:255"`

	Type   AuditType `json:"type" gorm:"size:20;not null"`
	Status Status    `json:"status" gorm:"size:50;not null;index"`

	// 评分：0 是合法分值，必须用指针区分「未录入」
	GlobalScore *float64 `json:"globalScore"`

	PlannedDate     *time.Time `json:"plannedDate"`
	ActualStartDate *time.Time `json:"actualStartDate"`
	ActualEndDate   *time.Time `json:"actualEndDate"`

	HasComplementaryAudit bool `json:"hasComplementaryAudit" gorm:"default:false"`

	CorrectivePlanValidatedAt *time.Time `json:"correctivePlanValidatedAt"`
	CorrectivePlanValidatedBy *string    `json:"correctivePlanValidatedBy" gorm:"type:uuid"`

	LabelExpirationDate *time.Time `json:"labelExpirationDate"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt" gorm:"index"`
}

// TableName 指定表名
func (Audit) TableName() string { return "audits" }

// Organization 被认证企业（Entity）
type Organization struct {
	ID   string `json:"id" gorm:"primaryKey;type:uuid"`
	Name string `json:"name" gorm:"size:255;not null"`

	// 受理该企业审核的评估机构，案卷批准前可以为空
	EvaluatorOrgID *string `json:"evaluatorOrgId" gorm:"type:uuid;index"`

	// 周期内工作流标记，COMPLETED 处理器清空，为下一周期做准备
	DocumentaryReviewReadyAt *time.Time `json:"documentaryReviewReadyAt"`
	CaseSubmittedAt          *time.Time `json:"caseSubmittedAt"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt" gorm:"index"`
}

// TableName 指定表名
func (Organization) TableName() string { return "organizations" }

// Document 文档元数据（仅存储 file_key，文件字节由外部存储负责）
type Document struct {
	ID         string       `json:"id" gorm:"primaryKey;type:uuid"`
	AuditID    string       `json:"auditId" gorm:"type:uuid;not null;index"`
	Type       DocumentType `json:"type" gorm:"size:50;not null;index"`
	FileKey    string       `json:"fileKey" gorm:"size:512;not null"`
	UploadedBy *string      `json:"uploadedBy" gorm:"type:uuid"`
	CreatedAt  time.Time    `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// TableName 指定表名
func (Document) TableName() string { return "documents" }

// HasAuditor 是否已指派审核员（平台内或外部）
func (a *Audit) HasAuditor() bool {
	return (a.AuditorID != nil && *a.AuditorID != "") ||
		(a.ExternalAuditorName != nil && *a.ExternalAuditorName != "")
}
