package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"certhub/internal/action"
	"certhub/internal/certification"
	"certhub/internal/config"
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
	dsn := fmt.Sprintf("file:workflow_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&certification.Organization{},
		&certification.Audit{},
		&certification.Document{},
		&action.Action{},
		&event.Event{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

type testEnv struct {
	db      *gorm.DB
	docs    document.Store
	tracker *action.Tracker
	events  *event.Log
	engine  *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := initTestDB(t)
	events := event.NewLog(db)
	docs := document.NewGormStore(db)
	tracker := action.NewTracker(db, docs, events)
	engine := NewEngine(db, docs, tracker, events, config.WorkflowConfig{
		LabelValidityMonths:   12,
		NotifyCooldownSeconds: 300,
	})
	return &testEnv{db: db, docs: docs, tracker: tracker, events: events, engine: engine}
}

func (e *testEnv) createOrg(t *testing.T, evaluatorOrgID string) *certification.Organization {
	t.Helper()
	org := &certification.Organization{
		ID:   uuid.New().String(),
		Name: "测试企业",
	}
	if evaluatorOrgID != "" {
		org.EvaluatorOrgID = &evaluatorOrgID
	}
	if err := e.db.Create(org).Error; err != nil {
		t.Fatalf("create org failed: %v", err)
	}
	return org
}

func (e *testEnv) createAudit(t *testing.T, org *certification.Organization, auditType certification.AuditType, status certification.Status) *certification.Audit {
	t.Helper()
	audit := &certification.Audit{
		ID:             uuid.New().String(),
		OrganizationID: org.ID,
		EvaluatorOrgID: org.EvaluatorOrgID,
		Type:           auditType,
		Status:         status,
	}
	if err := e.db.Create(audit).Error; err != nil {
		t.Fatalf("create audit failed: %v", err)
	}
	return audit
}

func (e *testEnv) registerDoc(t *testing.T, auditID string, docType certification.DocumentType) {
	t.Helper()
	_, err := e.docs.Register(context.Background(), document.RegisterParams{
		AuditID: auditID,
		Type:    docType,
		FileKey: fmt.Sprintf("files/%s-%s", auditID, docType),
	})
	if err != nil {
		t.Fatalf("register document failed: %v", err)
	}
}

func TestApproveCaseWithoutEvaluatorGoesToPlanning(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, "")
	audit := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusPendingCaseApproval)

	updated, err := env.engine.Transition(context.Background(), audit.ID, TransitionApproveCase, "feef-1")
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if updated.Status != certification.StatusPlanning {
		t.Fatalf("expected PLANNING, got %s", updated.Status)
	}

	// 无 OE 时应同时生成指派评估机构与审核排期两项
	actions, err := env.tracker.ListForAudit(context.Background(), audit.ID)
	if err != nil {
		t.Fatalf("list actions failed: %v", err)
	}
	types := map[action.Type]bool{}
	for _, a := range actions {
		types[a.Type] = true
	}
	if !types[action.TypeAssignEvaluator] || !types[action.TypePlanAudit] {
		t.Fatalf("expected ASSIGN_EVALUATOR and PLAN_AUDIT actions, got %v", types)
	}
}

func TestApproveCaseMonitoringSkipsAcceptance(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, uuid.New().String())
	audit := env.createAudit(t, org, certification.AuditTypeMonitoring, certification.StatusPendingCaseApproval)

	updated, err := env.engine.Transition(context.Background(), audit.ID, TransitionApproveCase, "feef-1")
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if updated.Status != certification.StatusPlanning {
		t.Fatalf("expected PLANNING for monitoring audit, got %s", updated.Status)
	}
}

func TestApproveCaseWithEvaluatorNeedsAcceptance(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, uuid.New().String())
	audit := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusPendingCaseApproval)

	updated, err := env.engine.Transition(context.Background(), audit.ID, TransitionApproveCase, "feef-1")
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if updated.Status != certification.StatusPendingOEAcceptance {
		t.Fatalf("expected PENDING_OE_ACCEPTANCE, got %s", updated.Status)
	}
}

func TestApproveBranchMismatchRejected(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, uuid.New().String())
	audit := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusPendingCaseApproval)

	// 决策表会选定 needs_acceptance，直接指名 without_oe 应被拒绝
	_, err := env.engine.Transition(context.Background(), audit.ID, TransitionApproveWithoutOE, "feef-1")
	if !errors.Is(err, ErrGuardRejected) {
		t.Fatalf("expected ErrGuardRejected, got %v", err)
	}

	var current certification.Audit
	if err := env.db.First(&current, "id = ?", audit.ID).Error; err != nil {
		t.Fatalf("reload audit failed: %v", err)
	}
	if current.Status != certification.StatusPendingCaseApproval {
		t.Fatalf("status should be unchanged, got %s", current.Status)
	}
}

func TestScheduleGuardRequiresPlanAndAuditor(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, "")
	audit := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusPlanning)

	_, err := env.engine.Transition(context.Background(), audit.ID, TransitionSchedule, "oe-1")
	if !errors.Is(err, ErrGuardRejected) {
		t.Fatalf("expected ErrGuardRejected without plan, got %v", err)
	}

	planned := time.Now().UTC().AddDate(0, 1, 0)
	auditor := "auditor-1"
	if err := env.db.Model(&certification.Audit{}).Where("id = ?", audit.ID).
		Updates(map[string]any{"planned_date": planned, "auditor_id": auditor}).Error; err != nil {
		t.Fatalf("update audit failed: %v", err)
	}

	updated, err := env.engine.Transition(context.Background(), audit.ID, TransitionSchedule, "oe-1")
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if updated.Status != certification.StatusScheduled {
		t.Fatalf("expected SCHEDULED, got %s", updated.Status)
	}
	if updated.ActualStartDate == nil {
		t.Fatalf("actual_start_date should be set from planned_date")
	}
}

func TestAutoTransitionAcceptsZeroScore(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, uuid.New().String())
	audit := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusPendingReport)

	// 只有报告没有评分时不迁移
	env.registerDoc(t, audit.ID, certification.DocumentTypeReport)
	_, changed, err := env.engine.CheckAutoTransition(context.Background(), audit.ID, "auditor-1")
	if err != nil {
		t.Fatalf("auto check failed: %v", err)
	}
	if changed {
		t.Fatalf("should not transition without score")
	}

	// 0 分是有效分值，两个条件齐备后迁移
	if err := env.db.Model(&certification.Audit{}).Where("id = ?", audit.ID).
		Update("global_score", 0.0).Error; err != nil {
		t.Fatalf("update score failed: %v", err)
	}

	updated, changed, err := env.engine.CheckAutoTransition(context.Background(), audit.ID, "auditor-1")
	if err != nil {
		t.Fatalf("auto check failed: %v", err)
	}
	if !changed {
		t.Fatalf("expected transition with zero score")
	}
	if updated.Status != certification.StatusPendingOEOpinion {
		t.Fatalf("expected PENDING_OE_OPINION, got %s", updated.Status)
	}
}

func TestAutoTransitionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, uuid.New().String())
	audit := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusPendingOEOpinion)

	env.registerDoc(t, audit.ID, certification.DocumentTypeOEOpinion)

	_, changed, err := env.engine.CheckAutoTransition(context.Background(), audit.ID, "")
	if err != nil || !changed {
		t.Fatalf("first auto check failed: changed=%v err=%v", changed, err)
	}

	// 重复检查是无操作而不是错误
	current, changed, err := env.engine.CheckAutoTransition(context.Background(), audit.ID, "")
	if err != nil {
		t.Fatalf("second auto check failed: %v", err)
	}
	if changed {
		t.Fatalf("second check should be a no-op")
	}
	if current.Status != certification.StatusPendingFEEFDecision {
		t.Fatalf("expected PENDING_FEEF_DECISION, got %s", current.Status)
	}
}

func TestDecideCertifyCompletesAndCleans(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, uuid.New().String())
	now := time.Now().UTC()
	if err := env.db.Model(&certification.Organization{}).Where("id = ?", org.ID).
		Updates(map[string]any{"case_submitted_at": now, "documentary_review_ready_at": now}).Error; err != nil {
		t.Fatalf("update org failed: %v", err)
	}
	audit := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusPendingFEEFDecision)
	score := 85.0
	if err := env.db.Model(&certification.Audit{}).Where("id = ?", audit.ID).
		Update("global_score", score).Error; err != nil {
		t.Fatalf("update score failed: %v", err)
	}

	// 挂一个未了结行动项，完成时应被取消
	if _, err := env.tracker.CreateForStatus(context.Background(), audit, org, certification.StatusPendingFEEFDecision); err != nil {
		t.Fatalf("seed actions failed: %v", err)
	}

	updated, err := env.engine.Transition(context.Background(), audit.ID, TransitionDecideCertify, "feef-1")
	if err != nil {
		t.Fatalf("certify failed: %v", err)
	}
	if updated.Status != certification.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", updated.Status)
	}
	if updated.LabelExpirationDate == nil {
		t.Fatalf("label_expiration_date should be set")
	}
	expected := time.Now().UTC().AddDate(0, 12, 0)
	if diff := updated.LabelExpirationDate.Sub(expected); diff > time.Minute || diff < -time.Minute {
		t.Fatalf("label expiration should be ~12 months out, got %v", updated.LabelExpirationDate)
	}

	var openCount int64
	if err := env.db.Model(&action.Action{}).
		Where("audit_id = ? AND status IN ?", audit.ID, []action.Status{action.StatusPending, action.StatusOverdue}).
		Count(&openCount).Error; err != nil {
		t.Fatalf("count open actions failed: %v", err)
	}
	if openCount != 0 {
		t.Fatalf("open actions should all be cancelled, found %d", openCount)
	}

	var reloadedOrg certification.Organization
	if err := env.db.First(&reloadedOrg, "id = ?", org.ID).Error; err != nil {
		t.Fatalf("reload org failed: %v", err)
	}
	if reloadedOrg.CaseSubmittedAt != nil || reloadedOrg.DocumentaryReviewReadyAt != nil {
		t.Fatalf("cycle markers should be cleared")
	}
}

func TestDecideCertifyRequiresScore(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, uuid.New().String())
	audit := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusPendingFEEFDecision)

	_, err := env.engine.Transition(context.Background(), audit.ID, TransitionDecideCertify, "feef-1")
	if !errors.Is(err, ErrGuardRejected) {
		t.Fatalf("expected ErrGuardRejected without score, got %v", err)
	}
}

func TestTerminalStateRejectsTransitions(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, uuid.New().String())
	audit := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusCompleted)

	_, err := env.engine.Transition(context.Background(), audit.ID, TransitionSchedule, "feef-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from terminal state, got %v", err)
	}
}

func TestOERefuseIsTerminalAndCancelsActions(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, uuid.New().String())
	audit := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusPendingOEAcceptance)

	if _, err := env.tracker.CreateForStatus(context.Background(), audit, org, certification.StatusPendingOEAcceptance); err != nil {
		t.Fatalf("seed actions failed: %v", err)
	}

	updated, err := env.engine.Transition(context.Background(), audit.ID, TransitionOERefuse, "oe-1")
	if err != nil {
		t.Fatalf("refuse failed: %v", err)
	}
	if updated.Status != certification.StatusRefusedByOE {
		t.Fatalf("expected REFUSED_BY_OE, got %s", updated.Status)
	}

	var openCount int64
	if err := env.db.Model(&action.Action{}).
		Where("audit_id = ? AND status IN ?", audit.ID, []action.Status{action.StatusPending, action.StatusOverdue}).
		Count(&openCount).Error; err != nil {
		t.Fatalf("count open actions failed: %v", err)
	}
	if openCount != 0 {
		t.Fatalf("refusal should cancel open actions, found %d", openCount)
	}
}

func TestComplementaryAuditFlagAndRelaunch(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, uuid.New().String())
	audit := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusPendingFEEFDecision)

	updated, err := env.engine.Transition(context.Background(), audit.ID, TransitionDecideComplementaryAudit, "feef-1")
	if err != nil {
		t.Fatalf("decide complementary failed: %v", err)
	}
	if updated.Status != certification.StatusPendingComplementaryAudit {
		t.Fatalf("expected PENDING_COMPLEMENTARY_AUDIT, got %s", updated.Status)
	}
	if !updated.HasComplementaryAudit {
		t.Fatalf("has_complementary_audit should be set")
	}

	relaunched, err := env.engine.Transition(context.Background(), audit.ID, TransitionLaunchComplementaryReport, "oe-1")
	if err != nil {
		t.Fatalf("relaunch failed: %v", err)
	}
	if relaunched.Status != certification.StatusPendingReport {
		t.Fatalf("expected PENDING_REPORT after relaunch, got %s", relaunched.Status)
	}
}

func TestStatusSweepAdvancesStaleAudits(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, uuid.New().String())

	past := time.Now().UTC().AddDate(0, 0, -3)
	future := time.Now().UTC().AddDate(0, 0, 3)

	stale := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusScheduled)
	if err := env.db.Model(&certification.Audit{}).Where("id = ?", stale.ID).
		Update("planned_date", past).Error; err != nil {
		t.Fatalf("update stale audit failed: %v", err)
	}

	org2 := env.createOrg(t, uuid.New().String())
	fresh := env.createAudit(t, org2, certification.AuditTypeInitial, certification.StatusScheduled)
	if err := env.db.Model(&certification.Audit{}).Where("id = ?", fresh.ID).
		Update("planned_date", future).Error; err != nil {
		t.Fatalf("update fresh audit failed: %v", err)
	}

	summary, err := env.engine.StatusSweep(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if summary.Transitioned != 1 {
		t.Fatalf("expected 1 transitioned, got %+v", summary)
	}

	var reloaded certification.Audit
	if err := env.db.First(&reloaded, "id = ?", stale.ID).Error; err != nil {
		t.Fatalf("reload stale audit failed: %v", err)
	}
	if reloaded.Status != certification.StatusPendingReport {
		t.Fatalf("stale audit should be PENDING_REPORT, got %s", reloaded.Status)
	}

	if err := env.db.First(&reloaded, "id = ?", fresh.ID).Error; err != nil {
		t.Fatalf("reload fresh audit failed: %v", err)
	}
	if reloaded.Status != certification.StatusScheduled {
		t.Fatalf("fresh audit should stay SCHEDULED, got %s", reloaded.Status)
	}
}

func TestValidateCorrectivePlanRecordsValidator(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, uuid.New().String())
	audit := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusPendingCorrectivePlanValidation)

	updated, err := env.engine.Transition(context.Background(), audit.ID, TransitionValidateCorrectivePlan, "feef-1")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if updated.Status != certification.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", updated.Status)
	}
	if updated.CorrectivePlanValidatedAt == nil {
		t.Fatalf("corrective_plan_validated_at should be set")
	}
	if updated.CorrectivePlanValidatedBy == nil || *updated.CorrectivePlanValidatedBy != "feef-1" {
		t.Fatalf("corrective_plan_validated_by should record the actor")
	}
}

func TestConcurrentTransitionsExactlyOneWinner(t *testing.T) {
	env := newTestEnv(t)
	org := env.createOrg(t, uuid.New().String())
	audit := env.createAudit(t, org, certification.AuditTypeInitial, certification.StatusPendingFEEFDecision)

	// 单连接把写串行化，保留两个请求对同一观察状态的竞争
	sqlDB, err := env.db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.engine.Transition(context.Background(), audit.ID, TransitionDecideComplementaryAudit, "feef-1")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		// 输家要么抢写失败，要么读到已改写的状态
		if !errors.Is(err, ErrConcurrentModification) && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d (errs=%v)", winners, errs)
	}

	reloaded, err := env.engine.GetAudit(context.Background(), audit.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Status != certification.StatusPendingComplementaryAudit {
		t.Fatalf("expected PENDING_COMPLEMENTARY_AUDIT, got %s", reloaded.Status)
	}
	if !reloaded.HasComplementaryAudit {
		t.Fatalf("has_complementary_audit should be set once")
	}
}
