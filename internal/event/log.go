package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrDuplicateEvent 幂等守卫命中：同类事件已记录过
var ErrDuplicateEvent = errors.New("事件已记录")

// Filter 事件查询条件
type Filter struct {
	AuditID  string
	EntityID string
	Type     Type
	Category Category
	Limit    int
}

// Log 事件日志服务，事件表只追加
type Log struct {
	db *gorm.DB
}

// NewLog 创建事件日志服务
func NewLog(db *gorm.DB) *Log {
	return &Log{db: db}
}

// RecordParams 事件写入参数
type RecordParams struct {
	Type        Type
	AuditID     *string
	EntityID    *string
	PerformedBy *string
	Metadata    map[string]any
}

// Record 追加一条事件。去重不在这里做，需要幂等的调用方用 EnsureOnce 或 Latest 自查
func (l *Log) Record(ctx context.Context, p RecordParams) (*Event, error) {
	ev := &Event{
		ID:          uuid.New().String(),
		Type:        p.Type,
		Category:    string(CategoryOf(p.Type)),
		AuditID:     p.AuditID,
		EntityID:    p.EntityID,
		PerformedBy: p.PerformedBy,
		PerformedAt: time.Now().UTC(),
		Metadata:    p.Metadata,
	}
	if err := l.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, fmt.Errorf("写入事件失败: %w", err)
	}
	return ev, nil
}

// Latest 查询最近一条匹配事件；无匹配时返回 (nil, nil)
func (l *Log) Latest(ctx context.Context, f Filter) (*Event, error) {
	q := l.db.WithContext(ctx).Model(&Event{})
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.AuditID != "" {
		q = q.Where("audit_id = ?", f.AuditID)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}

	var ev Event
	err := q.Order("performed_at DESC").First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}
	return &ev, nil
}

// EnsureOnce 幂等组合子：同 scope 下该类型事件已存在则返回 ErrDuplicateEvent，
// 否则执行 fn，成功后追加事件。所有「只许发生一次」的业务操作统一走这里
func (l *Log) EnsureOnce(ctx context.Context, t Type, scope Filter, performedBy *string, metadata map[string]any, fn func(ctx context.Context) error) error {
	scope.Type = t
	existing, err := l.Latest(ctx, scope)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicateEvent
	}

	if err := fn(ctx); err != nil {
		return err
	}

	p := RecordParams{Type: t, PerformedBy: performedBy, Metadata: metadata}
	if scope.AuditID != "" {
		id := scope.AuditID
		p.AuditID = &id
	}
	if scope.EntityID != "" {
		id := scope.EntityID
		p.EntityID = &id
	}
	_, err = l.Record(ctx, p)
	return err
}

// AuditEvents 某次审核的事件，按时间倒序
func (l *Log) AuditEvents(ctx context.Context, auditID string, f Filter) ([]*Event, error) {
	f.AuditID = auditID
	return l.list(ctx, f)
}

// EntityTimeline 企业维度时间线，含其名下审核的事件，按时间倒序
func (l *Log) EntityTimeline(ctx context.Context, entityID string, f Filter) ([]*Event, error) {
	limit := normalizeLimit(f.Limit)

	q := l.db.WithContext(ctx).Model(&Event{}).
		Where("entity_id = ? OR audit_id IN (?)",
			entityID,
			l.db.Model(&auditRef{}).Select("id").Where("organization_id = ?", entityID),
		)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}

	var events []*Event
	if err := q.Order("performed_at DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("查询时间线失败: %w", err)
	}
	return events, nil
}

func (l *Log) list(ctx context.Context, f Filter) ([]*Event, error) {
	q := l.db.WithContext(ctx).Model(&Event{})
	if f.AuditID != "" {
		q = q.Where("audit_id = ?", f.AuditID)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}

	var events []*Event
	if err := q.Order("performed_at DESC").Limit(normalizeLimit(f.Limit)).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}
	return events, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

// auditRef 避免 event 包反向依赖 certification 包，仅用于子查询
type auditRef struct {
	ID             string
	OrganizationID string
}

func (auditRef) TableName() string { return "audits" }
