package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"certhub/internal/certification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrMissingFileKey 注册文档必须携带对象存储 key
var ErrMissingFileKey = errors.New("文档缺少 file_key")

// Store 文档存储边界。核心只关心「某类型文档是否存在」与元数据登记，
// 文件字节由外部对象存储负责
type Store interface {
	// Exists 判断某次审核是否已存在带 file_key 的指定类型文档
	Exists(ctx context.Context, auditID string, t certification.DocumentType) (bool, error)
	// Register 登记一条文档元数据（上传完成后的回调路径）
	Register(ctx context.Context, p RegisterParams) (*certification.Document, error)
	// Latest 最近一条指定类型文档；无则返回 (nil, nil)
	Latest(ctx context.Context, auditID string, t certification.DocumentType) (*certification.Document, error)
}

// RegisterParams 文档登记参数
type RegisterParams struct {
	AuditID    string
	Type       certification.DocumentType
	FileKey    string
	UploadedBy *string
}

// GormStore 基于关系库的文档元数据存储
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建文档存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var _ Store = (*GormStore)(nil)

// Exists 实现 Store
func (s *GormStore) Exists(ctx context.Context, auditID string, t certification.DocumentType) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&certification.Document{}).
		Where("audit_id = ? AND type = ? AND file_key <> ''", auditID, t).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("查询文档失败: %w", err)
	}
	return count > 0, nil
}

// Register 实现 Store
func (s *GormStore) Register(ctx context.Context, p RegisterParams) (*certification.Document, error) {
	if p.FileKey == "" {
		return nil, ErrMissingFileKey
	}
	doc := &certification.Document{
		ID:         uuid.New().String(),
		AuditID:    p.AuditID,
		Type:       p.Type,
		FileKey:    p.FileKey,
		UploadedBy: p.UploadedBy,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, fmt.Errorf("登记文档失败: %w", err)
	}
	return doc, nil
}

// Latest 实现 Store
func (s *GormStore) Latest(ctx context.Context, auditID string, t certification.DocumentType) (*certification.Document, error) {
	var doc certification.Document
	err := s.db.WithContext(ctx).
		Where("audit_id = ? AND type = ?", auditID, t).
		Order("created_at DESC").
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询文档失败: %w", err)
	}
	return &doc, nil
}
