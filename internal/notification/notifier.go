package notification

import (
	"context"
	"time"

	"certhub/internal/logger"

	"go.uber.org/zap"
)

// Kind 通知类别
type Kind string

const (
	KindActionCreated      Kind = "action_created"       // 新行动项生成
	KindActionDeadlineNear Kind = "action_deadline_near" // 行动项临期
	KindActionOverdue      Kind = "action_overdue"       // 行动项逾期
	KindStatusChanged      Kind = "status_changed"       // 审核状态变化
)

// Notification 发往外部的信号，投递机制由接收端自行实现
type Notification struct {
	Kind       Kind           `json:"kind"`
	AuditID    string         `json:"auditId,omitempty"`
	EntityID   string         `json:"entityId,omitempty"`
	Roles      []string       `json:"roles,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Notifier 通知分发接口
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// MultiNotifier 聚合多个下游通知器，单个失败不阻断其余
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier 创建聚合通知器
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Add 追加下游通知器
func (m *MultiNotifier) Add(n Notifier) {
	if n != nil {
		m.notifiers = append(m.notifiers, n)
	}
}

// Notify 实现 Notifier
func (m *MultiNotifier) Notify(ctx context.Context, n Notification) error {
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			logger.Warn("通知分发失败",
				zap.String("kind", string(n.Kind)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// ZapNotifier 把通知写入结构化日志，开发环境与无下游配置时的默认实现
type ZapNotifier struct{}

// Notify 实现 Notifier
func (ZapNotifier) Notify(ctx context.Context, n Notification) error {
	logger.WithContext(ctx).Info("通知信号",
		zap.String("kind", string(n.Kind)),
		zap.String("audit_id", n.AuditID),
		zap.Strings("roles", n.Roles),
	)
	return nil
}
