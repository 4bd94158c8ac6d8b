package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"certhub/internal/certification"
	"certhub/internal/document"
	"certhub/internal/event"
	"certhub/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// AttestationHandler 证书生成处理器。文件本体由外部对象存储渲染落盘，
// 这里负责登记元数据并保证重试幂等
type AttestationHandler struct {
	docs   document.Store
	events *event.Log
	logger *zap.Logger
}

// NewAttestationHandler 创建证书处理器
func NewAttestationHandler(docs document.Store, events *event.Log, logger *zap.Logger) *AttestationHandler {
	return &AttestationHandler{docs: docs, events: events, logger: logger}
}

// HandleGenerateAttestation 为完成认证的审核生成证书文档
func (h *AttestationHandler) HandleGenerateAttestation(ctx context.Context, t *asynq.Task) error {
	var p tasks.GenerateAttestationPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Info("开始生成证书",
		zap.String("audit_id", p.AuditID),
		zap.String("organization_id", p.OrganizationID),
	)

	// 任务重试幂等：证书已登记则直接成功
	exists, err := h.docs.Exists(ctx, p.AuditID, certification.DocumentTypeAttestation)
	if err != nil {
		return fmt.Errorf("查询证书文档失败: %w", err)
	}
	if exists {
		h.logger.Info("证书已存在，跳过生成", zap.String("audit_id", p.AuditID))
		return nil
	}

	doc, err := h.docs.Register(ctx, document.RegisterParams{
		AuditID: p.AuditID,
		Type:    certification.DocumentTypeAttestation,
		FileKey: fmt.Sprintf("attestations/%s.pdf", p.AuditID),
	})
	if err != nil {
		h.logger.Error("证书登记失败", zap.String("audit_id", p.AuditID), zap.Error(err))
		return err
	}

	if h.events != nil {
		aid, eid := p.AuditID, p.OrganizationID
		_, recErr := h.events.Record(ctx, event.RecordParams{
			Type:     event.TypeAttestationIssued,
			AuditID:  &aid,
			EntityID: &eid,
			Metadata: map[string]any{"attestation_file_key": doc.FileKey},
		})
		if recErr != nil {
			h.logger.Warn("记录证书事件失败", zap.Error(recErr))
		}
	}

	h.logger.Info("证书生成完成",
		zap.String("audit_id", p.AuditID),
		zap.String("file_key", doc.FileKey),
	)
	return nil
}
