// Package sox implements the SOX-404 internal-control workflow at the
// audit trail's append boundary: control registration, effectiveness
// testing, deficiency classification, and approval under segregation of
// duties. Every state change is recorded through the ledger's append
// contract; this package never sees or manages hashes.
package sox

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attestia/grc-core/pkg/ledger"
)

var (
	// ErrControlNotFound is returned for unknown control IDs.
	ErrControlNotFound = errors.New("sox: control not found")
	// ErrSoDViolation is returned when an action would let one actor
	// both perform and approve the same change.
	ErrSoDViolation = errors.New("sox: segregation of duties violation")
)

// ── Control model ─────────────────────────────────────────────

// ControlType classifies internal controls per SOX Section 302/404.
type ControlType string

const (
	ControlPreventive ControlType = "PREVENTIVE"
	ControlDetective  ControlType = "DETECTIVE"
	ControlCorrective ControlType = "CORRECTIVE"
)

// Effectiveness tracks the testing outcome of a control.
type Effectiveness string

const (
	EffectivenessOperating   Effectiveness = "OPERATING_EFFECTIVELY"
	EffectivenessDeficiency  Effectiveness = "DEFICIENCY"
	EffectivenessSignificant Effectiveness = "SIGNIFICANT_DEFICIENCY"
	EffectivenessWeakness    Effectiveness = "MATERIAL_WEAKNESS"
)

// Control represents an ICFR (Internal Control over Financial Reporting).
type Control struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Type          ControlType   `json:"type"`
	Section       string        `json:"section"` // SOX section reference (302, 404)
	Process       string        `json:"process"` // business process
	Owner         string        `json:"owner"`
	Description   string        `json:"description"`
	Effectiveness Effectiveness `json:"effectiveness"`
	Status        string        `json:"status"` // draft, pending, approved
	LastTested    time.Time     `json:"last_tested"`
	TestFrequency string        `json:"test_frequency"` // QUARTERLY, ANNUALLY
}

// SoDRule forbids one actor from holding two conflicting roles for the
// same action.
type SoDRule struct {
	ID          string `json:"id"`
	RoleA       string `json:"role_a"`
	RoleB       string `json:"role_b"`
	Description string `json:"description"`
	Enforced    bool   `json:"enforced"`
}

// Actor identifies who is acting, with the roles they hold and the
// request context recorded for forensics.
type Actor struct {
	ID      string
	Name    string
	Roles   []string
	Context ledger.RequestContext
}

// ── Engine ────────────────────────────────────────────────────

// Engine manages SOX controls and writes every mutation through the
// injected audit trail.
type Engine struct {
	mu       sync.RWMutex
	controls map[string]*Control
	sodRules []SoDRule
	// parents maps a role to the roles it inherits from. The graph is
	// resolved by iterative traversal with a visited set, never by
	// language-level inheritance, so cycles cannot loop forever.
	parents map[string][]string

	trail *ledger.Ledger
}

// NewEngine creates a SOX engine appending to trail.
func NewEngine(trail *ledger.Ledger) *Engine {
	return &Engine{
		controls: make(map[string]*Control),
		parents:  make(map[string][]string),
		trail:    trail,
	}
}

// AddSoDRule installs a segregation of duties rule.
func (e *Engine) AddSoDRule(rule SoDRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	e.sodRules = append(e.sodRules, rule)
}

// AddRole declares a role and the roles it inherits from.
func (e *Engine) AddRole(role string, inheritsFrom ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parents[role] = append(e.parents[role], inheritsFrom...)
}

// ResolveRoles returns every role reachable from the given roles
// through the inheritance graph, the input roles included.
func (e *Engine) ResolveRoles(roles []string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolveRolesLocked(roles)
}

func (e *Engine) resolveRolesLocked(roles []string) []string {
	visited := make(map[string]bool)
	queue := append([]string(nil), roles...)
	out := make([]string, 0, len(roles))
	for len(queue) > 0 {
		role := queue[0]
		queue = queue[1:]
		if visited[role] {
			continue
		}
		visited[role] = true
		out = append(out, role)
		queue = append(queue, e.parents[role]...)
	}
	return out
}

// CheckSoD reports whether holding both roles violates an enforced rule.
func (e *Engine) CheckSoD(roleA, roleB string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checkSoDLocked(roleA, roleB)
}

func (e *Engine) checkSoDLocked(roleA, roleB string) bool {
	for _, rule := range e.sodRules {
		if !rule.Enforced {
			continue
		}
		if (rule.RoleA == roleA && rule.RoleB == roleB) ||
			(rule.RoleA == roleB && rule.RoleB == roleA) {
			return false
		}
	}
	return true
}

// ── Control lifecycle ─────────────────────────────────────────

// RegisterControl stores a new control and records its creation.
func (e *Engine) RegisterControl(actor Actor, ctrl Control) (*Control, error) {
	if ctrl.Name == "" {
		return nil, fmt.Errorf("sox: control name is required")
	}
	if ctrl.ID == "" {
		ctrl.ID = uuid.New().String()
	}
	if ctrl.Effectiveness == "" {
		ctrl.Effectiveness = EffectivenessOperating
	}
	ctrl.Status = "draft"

	e.mu.Lock()
	e.controls[ctrl.ID] = &ctrl
	stored := ctrl
	e.mu.Unlock()

	if err := e.record(actor, "CREATE", &stored, nil, &stored, ledger.SeverityInfo, ledger.OutcomeSuccess, ""); err != nil {
		return nil, err
	}
	return &stored, nil
}

// RecordTestResult updates a control's effectiveness after testing and
// classifies the finding: a material weakness is critical, a significant
// deficiency an error, an ordinary deficiency a warning.
func (e *Engine) RecordTestResult(actor Actor, controlID string, eff Effectiveness, testedAt time.Time) (*Control, error) {
	e.mu.Lock()
	ctrl, ok := e.controls[controlID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrControlNotFound, controlID)
	}
	before := *ctrl
	ctrl.Effectiveness = eff
	ctrl.LastTested = testedAt
	ctrl.Status = "pending"
	after := *ctrl
	e.mu.Unlock()

	if err := e.record(actor, "UPDATE", &after, &before, &after, deficiencySeverity(eff), ledger.OutcomeSuccess, ""); err != nil {
		return nil, err
	}
	return &after, nil
}

// Approve marks a control approved. Segregation of duties forbids the
// control's owner and the actor who last modified it from approving;
// the denial itself is recorded in the trail. The conflict check and the
// status change happen under one write lock, so two racing approvals
// cannot both pass the check against the same state.
func (e *Engine) Approve(actor Actor, controlID string) (*Control, error) {
	e.mu.Lock()
	ctrl, ok := e.controls[controlID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrControlNotFound, controlID)
	}

	if reason := e.approvalConflictLocked(actor, *ctrl); reason != "" {
		snapshot := *ctrl
		e.mu.Unlock()
		_ = e.record(actor, "APPROVE", &snapshot, &snapshot, &snapshot,
			ledger.SeverityWarning, ledger.OutcomeDenied, reason)
		return nil, fmt.Errorf("%w: %s", ErrSoDViolation, reason)
	}

	before := *ctrl
	ctrl.Status = "approved"
	after := *ctrl
	e.mu.Unlock()

	if err := e.record(actor, "APPROVE", &after, &before, &after, ledger.SeverityInfo, ledger.OutcomeSuccess, ""); err != nil {
		return nil, err
	}
	return &after, nil
}

// approvalConflictLocked returns a non-empty reason when actor may not
// approve. Callers hold e.mu; the trail lookup is safe because the
// ledger serializes its own access.
func (e *Engine) approvalConflictLocked(actor Actor, ctrl Control) string {
	if actor.ID == ctrl.Owner {
		return "approver owns the control"
	}
	if last := e.lastModifier(ctrl.ID); last != "" && last == actor.ID {
		return "approver performed the last change"
	}
	resolved := e.resolveRolesLocked(actor.Roles)
	for i, a := range resolved {
		for _, b := range resolved[i+1:] {
			if !e.checkSoDLocked(a, b) {
				return fmt.Sprintf("actor holds conflicting roles %s and %s", a, b)
			}
		}
	}
	return ""
}

// lastModifier consults the trail's change history for the control.
func (e *Engine) lastModifier(controlID string) string {
	history := e.trail.ChangeHistory("control", controlID)
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1].ActorID
}

// record appends one control mutation to the trail.
func (e *Engine) record(actor Actor, action string, ctrl *Control, before, after *Control, sev ledger.Severity, outcome ledger.Outcome, description string) error {
	rec := ledger.Record{
		ActorID:      actor.ID,
		ActorName:    actor.Name,
		Action:       action,
		ResourceType: "control",
		ResourceID:   ctrl.ID,
		ResourceName: ctrl.Name,
		Description:  description,
		Category:     ledger.CategoryCompliance,
		Severity:     sev,
		Outcome:      outcome,
		Compliance:   true,
		Context:      actor.Context,
	}
	var err error
	if before != nil {
		if rec.PreviousValue, err = json.Marshal(before); err != nil {
			return fmt.Errorf("sox: snapshot: %w", err)
		}
	}
	if after != nil {
		if rec.NewValue, err = json.Marshal(after); err != nil {
			return fmt.Errorf("sox: snapshot: %w", err)
		}
	}
	if _, err = e.trail.Append(rec); err != nil {
		return fmt.Errorf("sox: audit append: %w", err)
	}
	return nil
}

// deficiencySeverity maps a test outcome to the recorded severity.
func deficiencySeverity(eff Effectiveness) ledger.Severity {
	switch eff {
	case EffectivenessWeakness:
		return ledger.SeverityCritical
	case EffectivenessSignificant:
		return ledger.SeverityError
	case EffectivenessDeficiency:
		return ledger.SeverityWarning
	default:
		return ledger.SeverityInfo
	}
}

// Control returns a copy of a registered control.
func (e *Engine) Control(id string) (Control, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ctrl, ok := e.controls[id]
	if !ok {
		return Control{}, fmt.Errorf("%w: %s", ErrControlNotFound, id)
	}
	return *ctrl, nil
}
