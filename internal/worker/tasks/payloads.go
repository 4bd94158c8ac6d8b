package tasks

// 任务类型
const (
	TypeGenerateAttestation = "document:generate_attestation"
	TypeStatusSweep         = "audit:status_sweep"
	TypeOverdueSweep        = "action:overdue_sweep"
)

// GenerateAttestationPayload 证书生成任务载荷
type GenerateAttestationPayload struct {
	AuditID        string `json:"audit_id"`
	OrganizationID string `json:"organization_id"`
}

// SweepPayload 巡检任务载荷，空结构保留扩展位
type SweepPayload struct {
	TriggeredBy string `json:"triggered_by,omitempty"` // schedule 或管理员 ID
}
