package gate

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cortexmem/cortex/internal/audit"
)

// Config holds gate construction parameters.
type Config struct {
	Policy Policy

	// Secret is the durable gate secret. Empty selects the ephemeral mode;
	// see NewKeySet.
	Secret string

	// ApprovalTimeout bounds both pending→approved and approved→executed.
	// Default: 5 minutes.
	ApprovalTimeout time.Duration

	// Retention bounds how long any action, terminal or not, stays in the
	// table before Sweep evicts it. Default: 24 hours.
	Retention time.Duration

	// Clock overrides the wall clock, for tests.
	Clock func() time.Time

	// Confirm is the interactive confirmation used under PolicyEnforce.
	// Default prompts on stdin.
	Confirm func(prompt string) (bool, error)
}

// Gate is the process-wide action-approval authority. One instance is
// constructed per daemon lifetime and passed explicitly to every call site
// that performs gated side effects.
type Gate struct {
	mu      sync.Mutex
	actions map[string]*Action

	keys    *KeySet
	policy  Policy
	timeout time.Duration
	keep    time.Duration
	now     func() time.Time
	confirm func(prompt string) (bool, error)

	trail  *audit.Log
	logger *zap.Logger
}

// New creates a Gate. trail receives one audit entry per state transition and
// may be shared with the ledger.
func New(cfg Config, trail *audit.Log, logger *zap.Logger) (*Gate, error) {
	keys, err := NewKeySet(cfg.Secret, logger)
	if err != nil {
		return nil, err
	}

	if cfg.ApprovalTimeout == 0 {
		cfg.ApprovalTimeout = 5 * time.Minute
	}
	if cfg.Retention == 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Confirm == nil {
		cfg.Confirm = stdinConfirm
	}

	return &Gate{
		actions: make(map[string]*Action),
		keys:    keys,
		policy:  cfg.Policy,
		timeout: cfg.ApprovalTimeout,
		keep:    cfg.Retention,
		now:     cfg.Clock,
		confirm: cfg.Confirm,
		trail:   trail,
		logger:  logger,
	}, nil
}

// Policy returns the gate's enforcement mode.
func (g *Gate) Policy() Policy { return g.policy }

// Ephemeral reports whether approvals are signed with a per-process secret.
func (g *Gate) Ephemeral() bool { return g.keys.Ephemeral() }

// Keys exposes the derived key material for collaborators (the operator
// token issuer).
func (g *Gate) Keys() *KeySet { return g.keys }

// RequestApproval registers a new action and issues its HMAC challenge. The
// action is PENDING; nothing is authorized yet.
func (g *Gate) RequestApproval(level Level, description, command, project, contextNote string) *Action {
	now := g.now().UTC()
	a := &Action{
		ID:          uuid.New().String(),
		Level:       level,
		Description: description,
		Command:     command,
		Project:     project,
		Context:     contextNote,
		Status:      StatusPending,
		CreatedAt:   now,
	}
	a.Challenge = computeChallenge(g.keys.ChallengeKey(), a.ID, level, description, now)

	g.mu.Lock()
	g.actions[a.ID] = a
	g.mu.Unlock()

	if g.keys.Ephemeral() {
		g.logger.Warn("challenge issued under ephemeral gate secret",
			zap.String("action_id", a.ID))
	}
	g.record("action.requested", a, "", level.String()+": "+description)
	return snapshot(a)
}

// Approve validates signature against the action's challenge and transitions
// it to APPROVED. Unknown ids are a structural error; everything else is a
// tagged outcome the caller must handle.
func (g *Gate) Approve(actionID, signature, operatorID string) (Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.actions[actionID]
	if !ok {
		return 0, fmt.Errorf("approve %s: %w", actionID, ErrActionNotFound)
	}

	if g.expireLocked(a) {
		return OutcomeExpired, nil
	}
	if a.Status != StatusPending {
		return 0, fmt.Errorf("approve %s: action already %s", actionID, a.Status)
	}

	if !signaturesEqual(signature, a.Challenge) {
		// Status stays PENDING: a bad signature may be an attack, and must
		// not consume the action.
		g.recordLocked("action.signature_rejected", a, operatorID, "presented signature does not match challenge")
		g.logger.Warn("invalid approval signature",
			zap.String("action_id", actionID),
			zap.String("operator_id", operatorID))
		return OutcomeInvalidSignature, nil
	}

	a.Status = StatusApproved
	a.Operator = operatorID
	a.ApprovedAt = g.now().UTC()
	g.recordLocked("action.approved", a, operatorID, "")
	return OutcomeApproved, nil
}

// Deny transitions a pending action to DENIED.
func (g *Gate) Deny(actionID, operatorID, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.actions[actionID]
	if !ok {
		return fmt.Errorf("deny %s: %w", actionID, ErrActionNotFound)
	}
	if g.expireLocked(a) || a.Status != StatusPending {
		return fmt.Errorf("deny %s: action already %s", actionID, a.Status)
	}

	a.Status = StatusDenied
	a.Operator = operatorID
	g.recordLocked("action.denied", a, operatorID, reason)
	return nil
}

// ApproveInteractive resolves a pending action according to the gate policy:
// DISABLED approves transparently, AUDIT_ONLY approves but records the
// decision as if it had been gated, ENFORCE blocks on operator confirmation
// and denies on any negative or interrupted response.
func (g *Gate) ApproveInteractive(actionID string) (Outcome, error) {
	g.mu.Lock()
	a, ok := g.actions[actionID]
	if !ok {
		g.mu.Unlock()
		return 0, fmt.Errorf("interactive approve %s: %w", actionID, ErrActionNotFound)
	}
	if g.expireLocked(a) {
		g.mu.Unlock()
		return OutcomeExpired, nil
	}
	if a.Status != StatusPending {
		g.mu.Unlock()
		return 0, fmt.Errorf("interactive approve %s: action already %s", actionID, a.Status)
	}

	switch g.policy {
	case PolicyDisabled:
		a.Status = StatusApproved
		a.Operator = "auto:disabled"
		a.ApprovedAt = g.now().UTC()
		g.mu.Unlock()
		return OutcomeApproved, nil

	case PolicyAuditOnly:
		a.Status = StatusApproved
		a.Operator = "auto:audit"
		a.ApprovedAt = g.now().UTC()
		g.recordLocked("action.approved", a, a.Operator, "auto-approved under audit_only policy")
		g.mu.Unlock()
		return OutcomeApproved, nil
	}

	// ENFORCE: release the lock for the blocking prompt, then re-resolve.
	prompt := fmt.Sprintf("approve %s action %q", a.Level, a.Description)
	g.mu.Unlock()

	yes, err := g.confirm(prompt)

	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok = g.actions[actionID]
	if !ok {
		return 0, fmt.Errorf("interactive approve %s: %w", actionID, ErrActionNotFound)
	}
	if g.expireLocked(a) {
		return OutcomeExpired, nil
	}
	if a.Status != StatusPending {
		return 0, fmt.Errorf("interactive approve %s: action already %s", actionID, a.Status)
	}

	if err != nil || !yes {
		a.Status = StatusDenied
		a.Operator = "operator:interactive"
		detail := "operator declined"
		if err != nil {
			detail = "confirmation interrupted: " + err.Error()
		}
		g.recordLocked("action.denied", a, a.Operator, detail)
		return OutcomeDenied, nil
	}

	a.Status = StatusApproved
	a.Operator = "operator:interactive"
	a.ApprovedAt = g.now().UTC()
	g.recordLocked("action.approved", a, a.Operator, "")
	return OutcomeApproved, nil
}

// ExecuteGuarded is the sole entry point for running a gated side effect. The
// APPROVED→EXECUTED transition happens atomically before op runs, so a second
// caller racing on the same action fails with ErrNotApproved rather than
// executing twice. op may block for as long as it needs; the gate is a
// synchronous choke point, not a scheduler.
func (g *Gate) ExecuteGuarded(ctx context.Context, actionID string, op func(context.Context) (string, error)) (string, error) {
	g.mu.Lock()
	a, ok := g.actions[actionID]
	if !ok {
		g.mu.Unlock()
		return "", fmt.Errorf("execute %s: %w", actionID, ErrActionNotFound)
	}

	g.expireLocked(a)
	switch a.Status {
	case StatusApproved:
		// fall through to the timeout check
	case StatusExpired:
		g.mu.Unlock()
		return "", fmt.Errorf("execute %s: %w", actionID, ErrExpired)
	default:
		g.mu.Unlock()
		return "", fmt.Errorf("execute %s (status %s): %w", actionID, a.Status, ErrNotApproved)
	}

	now := g.now().UTC()
	if now.Sub(a.ApprovedAt) > g.timeout {
		a.Status = StatusExpired
		g.recordLocked("action.expired", a, "", "approval timed out before execution")
		g.mu.Unlock()
		return "", fmt.Errorf("execute %s: %w", actionID, ErrExpired)
	}

	a.Status = StatusExecuted
	a.ExecutedAt = now
	g.mu.Unlock()

	out, err := op(ctx)

	g.mu.Lock()
	if err != nil {
		a.Result = "error: " + err.Error()
	} else {
		// Summary only — raw output would grow the table unboundedly.
		a.Result = fmt.Sprintf("ok (%d bytes output)", len(out))
	}
	g.recordLocked("action.executed", a, a.Operator, a.Result)
	g.mu.Unlock()

	return out, err
}

// Get returns a snapshot of the action, applying lazy expiry first.
func (g *Gate) Get(actionID string) (*Action, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.actions[actionID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", actionID, ErrActionNotFound)
	}
	g.expireLocked(a)
	return snapshot(a), nil
}

// Pending returns snapshots of all still-pending actions, oldest first.
func (g *Gate) Pending() []*Action {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*Action, 0)
	for _, a := range g.actions {
		if g.expireLocked(a) {
			continue
		}
		if a.Status == StatusPending {
			out = append(out, snapshot(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Sweep expires stale pending actions and evicts anything older than the
// retention bound, keeping the table bounded under sustained load. Returns
// the number expired and evicted.
func (g *Gate) Sweep() (expired, evicted int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	for id, a := range g.actions {
		if g.expireLocked(a) {
			expired++
		}
		if now.Sub(a.CreatedAt) > g.keep {
			delete(g.actions, id)
			evicted++
		}
	}
	if expired > 0 || evicted > 0 {
		g.logger.Debug("gate sweep",
			zap.Int("expired", expired),
			zap.Int("evicted", evicted),
			zap.Int("retained", len(g.actions)))
	}
	return expired, evicted
}

// expireLocked applies lazy expiry to a pending action. Caller holds the
// lock. Returns true if the action transitioned to EXPIRED on this call.
func (g *Gate) expireLocked(a *Action) bool {
	if a.Status != StatusPending {
		return false
	}
	if g.now().UTC().Sub(a.CreatedAt) <= g.timeout {
		return false
	}
	a.Status = StatusExpired
	g.recordLocked("action.expired", a, "", "pending approval timed out")
	return true
}

// record appends an audit entry without holding the gate lock.
func (g *Gate) record(kind string, a *Action, actor, detail string) {
	if g.trail == nil {
		return
	}
	g.trail.Append(audit.Entry{
		Source: "gate",
		Kind:   kind,
		RefID:  a.ID,
		Actor:  actor,
		Detail: detail,
	})
}

// recordLocked is record for call sites already holding the gate lock; the
// audit log has its own lock, so the two never nest the other way around.
func (g *Gate) recordLocked(kind string, a *Action, actor, detail string) {
	g.record(kind, a, actor, detail)
}

// snapshot copies an action for handing outside the gate.
func snapshot(a *Action) *Action {
	cp := *a
	return &cp
}

// stdinConfirm prompts the operator on the controlling terminal. A read
// failure (closed stdin, ctrl-d) counts as an interrupted response.
func stdinConfirm(prompt string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s? [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
