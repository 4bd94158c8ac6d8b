package action

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"certhub/internal/certification"
	"certhub/internal/document"
	"certhub/internal/event"

	"certhub/internal/logger"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func init() {
	_ = logger.Init("debug", "console", "stdout")
}

// initTestDB 创建内存数据库用于测试
func initTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:action_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&certification.Organization{},
		&certification.Audit{},
		&certification.Document{},
		&Action{},
		&event.Event{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestTracker(t *testing.T) (*gorm.DB, *Tracker) {
	t.Helper()
	db := initTestDB(t)
	tracker := NewTracker(db, document.NewGormStore(db), event.NewLog(db))
	return db, tracker
}

func seedAudit(t *testing.T, db *gorm.DB, evaluatorOrgID string, status certification.Status) (*certification.Audit, *certification.Organization) {
	t.Helper()
	org := &certification.Organization{ID: uuid.New().String(), Name: "测试企业"}
	if evaluatorOrgID != "" {
		org.EvaluatorOrgID = &evaluatorOrgID
	}
	if err := db.Create(org).Error; err != nil {
		t.Fatalf("create org failed: %v", err)
	}
	audit := &certification.Audit{
		ID:             uuid.New().String(),
		OrganizationID: org.ID,
		EvaluatorOrgID: org.EvaluatorOrgID,
		Type:           certification.AuditTypeInitial,
		Status:         status,
	}
	if err := db.Create(audit).Error; err != nil {
		t.Fatalf("create audit failed: %v", err)
	}
	return audit, org
}

func TestCreateForStatusIsIdempotent(t *testing.T) {
	db, tracker := newTestTracker(t)
	audit, org := seedAudit(t, db, "", certification.StatusPlanning)

	created, err := tracker.CreateForStatus(context.Background(), audit, org, certification.StatusPlanning)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// 无 OE：ASSIGN_EVALUATOR 与 PLAN_AUDIT 都生成
	if len(created) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(created))
	}

	again, err := tracker.CreateForStatus(context.Background(), audit, org, certification.StatusPlanning)
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("re-entry should create nothing, got %d", len(again))
	}

	var total int64
	if err := db.Model(&Action{}).Where("audit_id = ?", audit.ID).Count(&total).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 rows, got %d", total)
	}
}

func TestCreateForStatusSkipsAssignWhenEvaluatorPresent(t *testing.T) {
	db, tracker := newTestTracker(t)
	audit, org := seedAudit(t, db, uuid.New().String(), certification.StatusPlanning)

	created, err := tracker.CreateForStatus(context.Background(), audit, org, certification.StatusPlanning)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(created) != 1 || created[0].Type != TypePlanAudit {
		t.Fatalf("expected only PLAN_AUDIT, got %v", created)
	}
}

func TestCreateForStatusUnknownStatusIsNoop(t *testing.T) {
	db, tracker := newTestTracker(t)
	audit, org := seedAudit(t, db, "", certification.StatusCompleted)

	created, err := tracker.CreateForStatus(context.Background(), audit, org, certification.StatusCompleted)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("terminal status has no catalog entry, got %d actions", len(created))
	}
}

func TestCompleteManuallyRejectsRepeat(t *testing.T) {
	db, tracker := newTestTracker(t)
	audit, org := seedAudit(t, db, "", certification.StatusPendingCaseApproval)
	created, err := tracker.CreateForStatus(context.Background(), audit, org, certification.StatusPendingCaseApproval)
	if err != nil || len(created) != 1 {
		t.Fatalf("seed failed: %v %v", created, err)
	}

	done, err := tracker.CompleteManually(context.Background(), created[0].ID, "feef-1")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if done.Status != StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("action should be completed, got %+v", done)
	}

	_, err = tracker.CompleteManually(context.Background(), created[0].ID, "feef-1")
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}

	_, err = tracker.CompleteManually(context.Background(), uuid.New().String(), "feef-1")
	if !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("expected ErrActionNotFound, got %v", err)
	}
}

func TestCancelForAuditLeavesCompletedAlone(t *testing.T) {
	db, tracker := newTestTracker(t)
	audit, org := seedAudit(t, db, "", certification.StatusPendingReport)
	created, err := tracker.CreateForStatus(context.Background(), audit, org, certification.StatusPendingReport)
	if err != nil || len(created) != 2 {
		t.Fatalf("seed failed: %v %v", created, err)
	}

	if _, err := tracker.CompleteManually(context.Background(), created[0].ID, "feef-1"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	cancelled, err := tracker.CancelForAudit(context.Background(), audit.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled != 1 {
		t.Fatalf("expected 1 cancelled, got %d", cancelled)
	}

	first, err := tracker.Get(context.Background(), created[0].ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if first.Status != StatusCompleted {
		t.Fatalf("completed action must keep its status, got %s", first.Status)
	}
	second, err := tracker.Get(context.Background(), created[1].ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if second.Status != StatusCancelled {
		t.Fatalf("open action should be cancelled, got %s", second.Status)
	}
}

func TestMarkOverdueSweepFlagsOnlyStalePending(t *testing.T) {
	db, tracker := newTestTracker(t)
	audit, _ := seedAudit(t, db, "", certification.StatusPendingReport)

	past := time.Now().UTC().AddDate(0, 0, -2)
	future := time.Now().UTC().AddDate(0, 0, 2)
	auditID := audit.ID

	rows := []*Action{
		{ID: uuid.New().String(), Type: TypeUploadReport, AssignedRoles: []string{"AUDITOR"}, Status: StatusPending, Deadline: &past, AuditID: &auditID},
		{ID: uuid.New().String(), Type: TypeEnterScore, AssignedRoles: []string{"AUDITOR"}, Status: StatusPending, Deadline: &future, AuditID: &auditID},
		{ID: uuid.New().String(), Type: TypeRenderDecision, AssignedRoles: []string{"FEEF"}, Status: StatusCompleted, Deadline: &past, AuditID: &auditID},
	}
	for _, a := range rows {
		if err := db.Create(a).Error; err != nil {
			t.Fatalf("seed action failed: %v", err)
		}
	}

	summary, err := tracker.MarkOverdueSweep(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if summary.Scanned != 1 || summary.Flagged != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	flagged, err := tracker.Get(context.Background(), rows[0].ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if flagged.Status != StatusOverdue {
		t.Fatalf("stale pending should be OVERDUE, got %s", flagged.Status)
	}

	fresh, err := tracker.Get(context.Background(), rows[1].ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if fresh.Status != StatusPending {
		t.Fatalf("future deadline should stay PENDING, got %s", fresh.Status)
	}
}

func TestDetectAndCompleteForFieldTargetsOnlyIndexedTypes(t *testing.T) {
	db, tracker := newTestTracker(t)
	audit, org := seedAudit(t, db, "", certification.StatusPendingReport)
	if _, err := tracker.CreateForStatus(context.Background(), audit, org, certification.StatusPendingReport); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	score := 0.0
	audit.GlobalScore = &score
	completed, err := tracker.DetectAndCompleteForField(context.Background(), audit, "global_score", "auditor-1")
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if completed != 1 {
		t.Fatalf("expected 1 completed, got %d", completed)
	}

	actions, err := tracker.ListForAudit(context.Background(), audit.ID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, a := range actions {
		switch a.Type {
		case TypeEnterScore:
			if a.Status != StatusCompleted {
				t.Fatalf("ENTER_SCORE should be completed, got %s", a.Status)
			}
		case TypeUploadReport:
			if a.Status != StatusPending {
				t.Fatalf("UPLOAD_REPORT must stay PENDING, got %s", a.Status)
			}
		}
	}

	// 无索引字段是无操作
	completed, err = tracker.DetectAndCompleteForField(context.Background(), audit, "auditor_id", "auditor-1")
	if err != nil || completed != 0 {
		t.Fatalf("unindexed field should be a no-op: %d %v", completed, err)
	}
}

func TestCheckAndCompleteAllPendingLeftStatusFallback(t *testing.T) {
	db, tracker := newTestTracker(t)
	audit, org := seedAudit(t, db, "", certification.StatusPendingCaseApproval)
	created, err := tracker.CreateForStatus(context.Background(), audit, org, certification.StatusPendingCaseApproval)
	if err != nil || len(created) != 1 {
		t.Fatalf("seed failed: %v %v", created, err)
	}

	// 仍在目录状态内：REVIEW_CASE 不满足
	completed, err := tracker.CheckAndCompleteAllPending(context.Background(), audit, "feef-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if completed != 0 {
		t.Fatalf("should not complete while in home status, got %d", completed)
	}

	// 离开目录状态后兜底判定视为完成
	audit.Status = certification.StatusPlanning
	completed, err = tracker.CheckAndCompleteAllPending(context.Background(), audit, "feef-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if completed != 1 {
		t.Fatalf("leaving home status should complete REVIEW_CASE, got %d", completed)
	}
}

func TestCompletionRecordsEvent(t *testing.T) {
	db, tracker := newTestTracker(t)
	audit, org := seedAudit(t, db, "", certification.StatusPendingCaseApproval)
	created, err := tracker.CreateForStatus(context.Background(), audit, org, certification.StatusPendingCaseApproval)
	if err != nil || len(created) != 1 {
		t.Fatalf("seed failed: %v %v", created, err)
	}

	if _, err := tracker.CompleteManually(context.Background(), created[0].ID, "feef-1"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	var count int64
	if err := db.Model(&event.Event{}).
		Where("audit_id = ? AND type = ?", audit.ID, event.TypeActionCompleted).
		Count(&count).Error; err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one completion event, got %d", count)
	}
}

// 生产迁移里的局部唯一索引；AutoMigrate 不支持 WHERE 条件索引
func createOpenUniqueIndex(t *testing.T, db *gorm.DB) {
	t.Helper()
	err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_actions_audit_type_open
		 ON actions (audit_id, type)
		 WHERE status <> 'CANCELLED' AND deleted_at IS NULL`,
	).Error
	if err != nil {
		t.Fatalf("create index failed: %v", err)
	}
}

func TestDuplicateOpenActionTranslatesToDuplicatedKey(t *testing.T) {
	db, _ := newTestTracker(t)
	createOpenUniqueIndex(t, db)
	audit, _ := seedAudit(t, db, "", certification.StatusPlanning)

	aID := audit.ID
	mk := func() *Action {
		return &Action{
			ID:            uuid.New().String(),
			Type:          TypePlanAudit,
			AssignedRoles: []string{"OE"},
			Status:        StatusPending,
			AuditID:       &aID,
		}
	}
	if err := db.Create(mk()).Error; err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	// 索引冲突必须翻译为 ErrDuplicatedKey，CreateForStatus 的兜底分支依赖它
	err := db.Create(mk()).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected gorm.ErrDuplicatedKey, got %v", err)
	}

	// 已取消的同型行不占坑
	if err := db.Model(&Action{}).Where("audit_id = ? AND type = ?", aID, TypePlanAudit).
		Update("status", StatusCancelled).Error; err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := db.Create(mk()).Error; err != nil {
		t.Fatalf("insert after cancel should succeed: %v", err)
	}
}
