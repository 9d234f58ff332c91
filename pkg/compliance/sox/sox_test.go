package sox

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attestia/grc-core/pkg/ledger"
)

func newTrail(t *testing.T) *ledger.Ledger {
	t.Helper()
	keys, err := ledger.NewKeyring(
		[]byte("0123456789abcdef0123456789abcdef"),
		[]byte("fedcba9876543210fedcba9876543210"),
	)
	require.NoError(t, err)
	return ledger.New(keys)
}

func TestRegisterControlRecordsCreation(t *testing.T) {
	trail := newTrail(t)
	engine := NewEngine(trail)

	ctrl, err := engine.RegisterControl(
		Actor{ID: "user-1", Name: "Alice Doe"},
		Control{Name: "Quarterly access review", Type: ControlDetective, Section: "404", Owner: "user-1"},
	)
	require.NoError(t, err)
	assert.NotEmpty(t, ctrl.ID)
	assert.Equal(t, "draft", ctrl.Status)
	assert.Equal(t, EffectivenessOperating, ctrl.Effectiveness)

	require.Equal(t, 1, trail.Len())
	e, err := trail.Entry(0)
	require.NoError(t, err)
	assert.Equal(t, "CREATE", e.Action)
	assert.Equal(t, "control", e.ResourceType)
	assert.Equal(t, ledger.CategoryCompliance, e.Category)
	assert.True(t, e.Compliance)
	assert.Nil(t, e.PreviousValue)
	assert.Contains(t, string(e.NewValue), "Quarterly access review")
}

func TestRegisterControlRequiresName(t *testing.T) {
	engine := NewEngine(newTrail(t))
	_, err := engine.RegisterControl(Actor{ID: "user-1"}, Control{})
	require.Error(t, err)
}

func TestRecordTestResultClassifiesDeficiency(t *testing.T) {
	trail := newTrail(t)
	engine := NewEngine(trail)
	ctrl, err := engine.RegisterControl(Actor{ID: "user-1"}, Control{Name: "Change management", Owner: "user-1"})
	require.NoError(t, err)

	updated, err := engine.RecordTestResult(
		Actor{ID: "user-2"}, ctrl.ID, EffectivenessWeakness, time.Now())
	require.NoError(t, err)
	assert.Equal(t, EffectivenessWeakness, updated.Effectiveness)
	assert.Equal(t, "pending", updated.Status)

	e, err := trail.Entry(1)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE", e.Action)
	assert.Equal(t, ledger.SeverityCritical, e.Severity)
	assert.Contains(t, string(e.PreviousValue), string(EffectivenessOperating))
	assert.Contains(t, string(e.NewValue), string(EffectivenessWeakness))
}

func TestRecordTestResultUnknownControl(t *testing.T) {
	engine := NewEngine(newTrail(t))
	_, err := engine.RecordTestResult(Actor{ID: "user-1"}, "missing", EffectivenessDeficiency, time.Now())
	assert.ErrorIs(t, err, ErrControlNotFound)
}

func TestApproveHappyPath(t *testing.T) {
	trail := newTrail(t)
	engine := NewEngine(trail)
	ctrl, err := engine.RegisterControl(Actor{ID: "user-1"}, Control{Name: "Journal entry review", Owner: "user-1"})
	require.NoError(t, err)
	_, err = engine.RecordTestResult(Actor{ID: "user-2"}, ctrl.ID, EffectivenessOperating, time.Now())
	require.NoError(t, err)

	approved, err := engine.Approve(Actor{ID: "user-3"}, ctrl.ID)
	require.NoError(t, err)
	assert.Equal(t, "approved", approved.Status)

	res := trail.Verify()
	assert.True(t, res.Valid)
	assert.Equal(t, 3, trail.Len())
}

func TestApproveDeniedForOwner(t *testing.T) {
	trail := newTrail(t)
	engine := NewEngine(trail)
	ctrl, err := engine.RegisterControl(Actor{ID: "user-1"}, Control{Name: "Payroll review", Owner: "user-1"})
	require.NoError(t, err)

	_, err = engine.Approve(Actor{ID: "user-1"}, ctrl.ID)
	assert.ErrorIs(t, err, ErrSoDViolation)

	// The denial itself is on the record.
	e, lerr := trail.Entry(trail.Len() - 1)
	require.NoError(t, lerr)
	assert.Equal(t, "APPROVE", e.Action)
	assert.Equal(t, ledger.OutcomeDenied, e.Outcome)
}

func TestApproveDeniedForLastModifier(t *testing.T) {
	trail := newTrail(t)
	engine := NewEngine(trail)
	ctrl, err := engine.RegisterControl(Actor{ID: "user-1"}, Control{Name: "Vendor onboarding", Owner: "user-1"})
	require.NoError(t, err)
	_, err = engine.RecordTestResult(Actor{ID: "user-2"}, ctrl.ID, EffectivenessOperating, time.Now())
	require.NoError(t, err)

	_, err = engine.Approve(Actor{ID: "user-2"}, ctrl.ID)
	assert.ErrorIs(t, err, ErrSoDViolation)
}

func TestApproveDeniedForConflictingRoles(t *testing.T) {
	trail := newTrail(t)
	engine := NewEngine(trail)
	engine.AddSoDRule(SoDRule{RoleA: "preparer", RoleB: "approver", Enforced: true})
	engine.AddRole("finance-lead", "preparer")

	ctrl, err := engine.RegisterControl(Actor{ID: "user-1"}, Control{Name: "Reconciliation", Owner: "user-1"})
	require.NoError(t, err)

	// finance-lead inherits preparer, which conflicts with approver.
	_, err = engine.Approve(Actor{ID: "user-2", Roles: []string{"finance-lead", "approver"}}, ctrl.ID)
	assert.ErrorIs(t, err, ErrSoDViolation)
}

func TestApproveSerializesConcurrentAttempts(t *testing.T) {
	trail := newTrail(t)
	engine := NewEngine(trail)
	engine.AddSoDRule(SoDRule{RoleA: "preparer", RoleB: "approver", Enforced: true})
	engine.AddRole("finance-lead", "preparer")

	ctrl, err := engine.RegisterControl(Actor{ID: "user-owner"}, Control{Name: "Close checklist", Owner: "user-owner"})
	require.NoError(t, err)
	_, err = engine.RecordTestResult(Actor{ID: "user-tester"}, ctrl.ID, EffectivenessOperating, time.Now())
	require.NoError(t, err)

	// A mix of permitted and conflicted approvers race; the check and the
	// status change are one atomic step, so every attempt sees consistent
	// state and the trail stays verifiable.
	actors := []Actor{
		{ID: "user-owner"},
		{ID: "user-tester"},
		{ID: "user-a", Roles: []string{"finance-lead", "approver"}},
		{ID: "user-b", Roles: []string{"approver"}},
		{ID: "user-c", Roles: []string{"approver"}},
	}
	var wg sync.WaitGroup
	for _, actor := range actors {
		wg.Add(1)
		go func(a Actor) {
			defer wg.Done()
			_, _ = engine.Approve(a, ctrl.ID)
		}(actor)
	}
	wg.Wait()

	got, err := engine.Control(ctrl.ID)
	require.NoError(t, err)
	assert.Equal(t, "approved", got.Status)
	assert.True(t, trail.Verify().Valid)

	// The conflicted actors' attempts are on the record as denials.
	for _, e := range trail.Entries() {
		if e.Outcome == ledger.OutcomeDenied {
			assert.Contains(t, []string{"user-owner", "user-tester", "user-a"}, e.ActorID)
		}
	}
}

func TestResolveRolesHandlesCycles(t *testing.T) {
	engine := NewEngine(newTrail(t))
	engine.AddRole("a", "b")
	engine.AddRole("b", "c")
	engine.AddRole("c", "a") // cycle

	resolved := engine.ResolveRoles([]string{"a"})
	assert.ElementsMatch(t, []string{"a", "b", "c"}, resolved)
}

func TestCheckSoDUnenforcedRuleAllows(t *testing.T) {
	engine := NewEngine(newTrail(t))
	engine.AddSoDRule(SoDRule{RoleA: "x", RoleB: "y", Enforced: false})
	assert.True(t, engine.CheckSoD("x", "y"))

	engine.AddSoDRule(SoDRule{RoleA: "x", RoleB: "y", Enforced: true})
	assert.False(t, engine.CheckSoD("y", "x"))
}
