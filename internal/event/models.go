package event

import "time"

// Event 不可变领域事件，只增不改不删
type Event struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	Type     Type   `json:"type" gorm:"size:100;not null;index"`
	Category string `json:"category" gorm:"size:50;not null;index"`

	// 归属上下文，至少其一非空
	AuditID  *string `json:"auditId" gorm:"type:uuid;index"`
	EntityID *string `json:"entityId" gorm:"type:uuid;index"`

	PerformedBy *string   `json:"performedBy" gorm:"type:uuid"`
	PerformedAt time.Time `json:"performedAt" gorm:"not null;index"`

	Metadata map[string]any `json:"metadata" gorm:"type:jsonb;serializer:json"`
}

// TableName 指定表名
func (Event) TableName() string { return "events" }
