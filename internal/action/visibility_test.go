package action

import (
	"context"
	"testing"

	"certhub/internal/certification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type visibilityFixture struct {
	db      *gorm.DB
	tracker *Tracker
	oeID    string
	orgA    *certification.Organization
	orgB    *certification.Organization
	auditA  *certification.Audit
	auditB  *certification.Audit
}

// 两家企业：A 挂在 OE 下且有指派审核员，B 无 OE
func newVisibilityFixture(t *testing.T) *visibilityFixture {
	t.Helper()
	db, tracker := newTestTracker(t)
	f := &visibilityFixture{db: db, tracker: tracker, oeID: uuid.New().String()}

	f.auditA, f.orgA = seedAudit(t, db, f.oeID, certification.StatusPendingReport)
	auditor := "auditor-1"
	if err := db.Model(&certification.Audit{}).Where("id = ?", f.auditA.ID).
		Update("auditor_id", auditor).Error; err != nil {
		t.Fatalf("assign auditor failed: %v", err)
	}
	f.auditB, f.orgB = seedAudit(t, db, "", certification.StatusPendingCorrectivePlan)

	seed := func(a *Action) {
		if err := db.Create(a).Error; err != nil {
			t.Fatalf("seed action failed: %v", err)
		}
	}
	aID, bID := f.auditA.ID, f.auditB.ID
	seed(&Action{ID: uuid.New().String(), Type: TypeUploadReport, AssignedRoles: []string{"AUDITOR", "OE"}, Status: StatusPending, AuditID: &aID})
	seed(&Action{ID: uuid.New().String(), Type: TypeRenderDecision, AssignedRoles: []string{"FEEF"}, Status: StatusPending, AuditID: &aID})
	seed(&Action{ID: uuid.New().String(), Type: TypeUploadCorrectivePlan, AssignedRoles: []string{"ORGANIZATION"}, Status: StatusPending, AuditID: &bID})
	return f
}

func TestVisibilityFEEFSeesEverything(t *testing.T) {
	f := newVisibilityFixture(t)
	rows, err := f.tracker.VisibleActions(context.Background(), Viewer{UserID: "feef-1", Role: certification.RoleFEEF})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("FEEF should see all 3 actions, got %d", len(rows))
	}
}

func TestVisibilityOEScopedToEvaluator(t *testing.T) {
	f := newVisibilityFixture(t)
	rows, err := f.tracker.VisibleActions(context.Background(), Viewer{
		UserID: "oe-user", Role: certification.RoleOE, EvaluatorOrgID: f.oeID,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Type != TypeUploadReport {
		t.Fatalf("OE should see only UPLOAD_REPORT on its audit, got %v", rows)
	}

	// 其他评估机构看不到任何东西
	rows, err = f.tracker.VisibleActions(context.Background(), Viewer{
		UserID: "oe-user", Role: certification.RoleOE, EvaluatorOrgID: uuid.New().String(),
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("foreign OE should see nothing, got %d", len(rows))
	}
}

func TestVisibilityOEWithoutAffiliationSeesNothing(t *testing.T) {
	f := newVisibilityFixture(t)
	rows, err := f.tracker.VisibleActions(context.Background(), Viewer{UserID: "oe-user", Role: certification.RoleOE})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("missing affiliation must yield empty set, got %d", len(rows))
	}
}

func TestVisibilityAuditorByAssignmentAndAffiliation(t *testing.T) {
	f := newVisibilityFixture(t)

	// 本人被指派：命中 AUDITOR 角色的行动项
	rows, err := f.tracker.VisibleActions(context.Background(), Viewer{
		UserID: "auditor-1", Role: certification.RoleAuditor,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Type != TypeUploadReport {
		t.Fatalf("assigned auditor should see UPLOAD_REPORT, got %v", rows)
	}

	// 仅挂靠 OE、未被指派：以 OE 角色命中
	rows, err = f.tracker.VisibleActions(context.Background(), Viewer{
		UserID: "auditor-2", Role: certification.RoleAuditor, AffiliatedOEIDs: []string{f.oeID},
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Type != TypeUploadReport {
		t.Fatalf("affiliated auditor should see UPLOAD_REPORT, got %v", rows)
	}
}

func TestVisibilityOrganizationScoped(t *testing.T) {
	f := newVisibilityFixture(t)
	rows, err := f.tracker.VisibleActions(context.Background(), Viewer{
		UserID: "org-user", Role: certification.RoleOrganization, OrganizationID: f.orgB.ID,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Type != TypeUploadCorrectivePlan {
		t.Fatalf("organization should see only its corrective plan action, got %v", rows)
	}

	// 企业 A 的审核里没有 ORGANIZATION 角色的行动项
	rows, err = f.tracker.VisibleActions(context.Background(), Viewer{
		UserID: "org-user", Role: certification.RoleOrganization, OrganizationID: f.orgA.ID,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("role filter should drop non-ORGANIZATION actions, got %d", len(rows))
	}
}

func TestVisibilityUnknownRoleSeesNothing(t *testing.T) {
	f := newVisibilityFixture(t)
	rows, err := f.tracker.VisibleActions(context.Background(), Viewer{UserID: "x", Role: certification.Role("INTRUDER")})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("unknown role must yield empty set, got %d", len(rows))
	}
}

func TestVisibilityAuditorPairsRoleWithPath(t *testing.T) {
	f := newVisibilityFixture(t)

	// 审核 C：指派给 auditor-1，评估机构却不在其挂靠列表
	foreignOE := uuid.New().String()
	auditC, _ := seedAudit(t, f.db, foreignOE, certification.StatusPendingReport)
	if err := f.db.Model(&certification.Audit{}).Where("id = ?", auditC.ID).
		Update("auditor_id", "auditor-1").Error; err != nil {
		t.Fatalf("assign auditor failed: %v", err)
	}
	cID := auditC.ID
	oeOnly := &Action{ID: uuid.New().String(), Type: TypeConfirmEngagement, AssignedRoles: []string{"OE"}, Status: StatusPending, AuditID: &cID}
	auditorOnly := &Action{ID: uuid.New().String(), Type: TypeEnterScore, AssignedRoles: []string{"AUDITOR"}, Status: StatusPending, AuditID: &cID}
	for _, a := range []*Action{oeOnly, auditorOnly} {
		if err := f.db.Create(a).Error; err != nil {
			t.Fatalf("seed action failed: %v", err)
		}
	}

	rows, err := f.tracker.VisibleActions(context.Background(), Viewer{
		UserID: "auditor-1", Role: certification.RoleAuditor, AffiliatedOEIDs: []string{f.oeID},
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	got := map[string]bool{}
	for _, a := range rows {
		got[a.ID] = true
	}
	// 指派路径放行 AUDITOR 角色；非挂靠机构的 OE 角色行动项必须隐藏
	if got[oeOnly.ID] {
		t.Fatalf("OE-role action on non-affiliated audit must stay hidden")
	}
	if !got[auditorOnly.ID] {
		t.Fatalf("AUDITOR-role action on assigned audit should be visible")
	}
	// 挂靠路径照常命中自己机构审核上的 OE 角色行动项
	if len(rows) != 2 {
		t.Fatalf("expected UPLOAD_REPORT + ENTER_SCORE and nothing else, got %d rows", len(rows))
	}
}
