package gate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cortexmem/cortex/internal/audit"
	"github.com/cortexmem/cortex/internal/gate"
)

var ctx = context.Background()

// testClock is a controllable wall clock.
type testClock struct{ t time.Time }

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newGate(t *testing.T, cfg gate.Config) *gate.Gate {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = "test-secret"
	}
	g, err := gate.New(cfg, audit.NewLog(64), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestApprove_validSignature(t *testing.T) {
	clock := newTestClock()
	g := newGate(t, gate.Config{Clock: clock.now})

	a := g.RequestApproval(gate.LevelExecute, "run backup", "pg_dump", "cortex", "")
	if a.Status != gate.StatusPending {
		t.Fatalf("new action status = %s, want pending", a.Status)
	}
	if a.Challenge == "" {
		t.Fatal("new action has no challenge")
	}

	out, err := g.Approve(a.ID, a.Challenge, "operator-7")
	if err != nil {
		t.Fatal(err)
	}
	if out != gate.OutcomeApproved {
		t.Fatalf("outcome = %s, want approved", out)
	}

	got, err := g.Get(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != gate.StatusApproved || got.Operator != "operator-7" {
		t.Errorf("action after approve: status=%s operator=%q", got.Status, got.Operator)
	}
}

func TestApprove_wrongSignatureNeverMutatesStatus(t *testing.T) {
	g := newGate(t, gate.Config{})
	a := g.RequestApproval(gate.LevelMutate, "purge fact", "", "", "")

	for i := 0; i < 3; i++ {
		out, err := g.Approve(a.ID, "deadbeef", "operator-7")
		if err != nil {
			t.Fatal(err)
		}
		if out != gate.OutcomeInvalidSignature {
			t.Fatalf("outcome = %s, want invalid_signature", out)
		}
	}

	got, _ := g.Get(a.ID)
	if got.Status != gate.StatusPending {
		t.Errorf("status after bad signatures = %s, want pending", got.Status)
	}

	// The real signature still works afterwards.
	out, err := g.Approve(a.ID, a.Challenge, "operator-7")
	if err != nil || out != gate.OutcomeApproved {
		t.Errorf("valid signature after failures: outcome=%v err=%v", out, err)
	}
}

func TestApprove_unknownAction(t *testing.T) {
	g := newGate(t, gate.Config{})
	if _, err := g.Approve("no-such-id", "sig", "op"); !errors.Is(err, gate.ErrActionNotFound) {
		t.Errorf("got %v, want ErrActionNotFound", err)
	}
}

func TestApprove_expiredPending(t *testing.T) {
	clock := newTestClock()
	g := newGate(t, gate.Config{Clock: clock.now, ApprovalTimeout: 300 * time.Second})
	a := g.RequestApproval(gate.LevelExecute, "slow approval", "", "", "")

	clock.advance(301 * time.Second)

	out, err := g.Approve(a.ID, a.Challenge, "operator-7")
	if err != nil {
		t.Fatal(err)
	}
	if out != gate.OutcomeExpired {
		t.Fatalf("outcome = %s, want expired", out)
	}

	got, _ := g.Get(a.ID)
	if got.Status != gate.StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
}

func TestExecuteGuarded_runsApprovedActionOnce(t *testing.T) {
	clock := newTestClock()
	g := newGate(t, gate.Config{Clock: clock.now})
	a := g.RequestApproval(gate.LevelExecute, "run job", "", "", "")
	if _, err := g.Approve(a.ID, a.Challenge, "op"); err != nil {
		t.Fatal(err)
	}

	runs := 0
	op := func(context.Context) (string, error) {
		runs++
		return "job output", nil
	}

	out, err := g.ExecuteGuarded(ctx, a.ID, op)
	if err != nil {
		t.Fatal(err)
	}
	if out != "job output" {
		t.Errorf("output = %q", out)
	}
	if runs != 1 {
		t.Fatalf("operation ran %d times, want 1", runs)
	}

	// Second call must fail without re-running the operation.
	if _, err := g.ExecuteGuarded(ctx, a.ID, op); !errors.Is(err, gate.ErrNotApproved) {
		t.Errorf("second execute: got %v, want ErrNotApproved", err)
	}
	if runs != 1 {
		t.Errorf("operation ran %d times after double execute, want 1", runs)
	}

	got, _ := g.Get(a.ID)
	if got.Status != gate.StatusExecuted {
		t.Errorf("status = %s, want executed", got.Status)
	}
	if got.Result == "" || got.Result == "job output" {
		t.Errorf("result should be a summary, not raw output: %q", got.Result)
	}
}

func TestExecuteGuarded_expiresBetweenApprovalAndExecution(t *testing.T) {
	clock := newTestClock()
	g := newGate(t, gate.Config{Clock: clock.now, ApprovalTimeout: 300 * time.Second})
	a := g.RequestApproval(gate.LevelExecute, "stale job", "", "", "")
	if _, err := g.Approve(a.ID, a.Challenge, "op"); err != nil {
		t.Fatal(err)
	}

	clock.advance(301 * time.Second)

	ran := false
	_, err := g.ExecuteGuarded(ctx, a.ID, func(context.Context) (string, error) {
		ran = true
		return "", nil
	})
	if !errors.Is(err, gate.ErrExpired) {
		t.Fatalf("got %v, want ErrExpired", err)
	}
	if ran {
		t.Error("expired action still ran the wrapped operation")
	}
}

func TestExecuteGuarded_pendingIsNotApproved(t *testing.T) {
	g := newGate(t, gate.Config{})
	a := g.RequestApproval(gate.LevelExecute, "unapproved", "", "", "")

	if _, err := g.ExecuteGuarded(ctx, a.ID, func(context.Context) (string, error) {
		t.Fatal("operation ran without approval")
		return "", nil
	}); !errors.Is(err, gate.ErrNotApproved) {
		t.Errorf("got %v, want ErrNotApproved", err)
	}
}

func TestExecuteGuarded_recordsFailureSummary(t *testing.T) {
	g := newGate(t, gate.Config{})
	a := g.RequestApproval(gate.LevelExecute, "failing job", "", "", "")
	if _, err := g.Approve(a.ID, a.Challenge, "op"); err != nil {
		t.Fatal(err)
	}

	wantErr := errors.New("exit status 2")
	_, err := g.ExecuteGuarded(ctx, a.ID, func(context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want the operation's error", err)
	}

	got, _ := g.Get(a.ID)
	if got.Status != gate.StatusExecuted {
		t.Errorf("status = %s, want executed even on failure", got.Status)
	}
	if got.Result != "error: exit status 2" {
		t.Errorf("result = %q", got.Result)
	}
}

func TestApproveInteractive_disabledNeverPrompts(t *testing.T) {
	g := newGate(t, gate.Config{
		Policy: gate.PolicyDisabled,
		Confirm: func(string) (bool, error) {
			t.Fatal("disabled policy prompted")
			return false, nil
		},
	})
	a := g.RequestApproval(gate.LevelMutate, "anything", "", "", "")

	out, err := g.ApproveInteractive(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out != gate.OutcomeApproved {
		t.Fatalf("outcome = %s, want approved", out)
	}
}

func TestApproveInteractive_auditOnlyApprovesAndLogs(t *testing.T) {
	trail := audit.NewLog(16)
	g, err := gate.New(gate.Config{Policy: gate.PolicyAuditOnly, Secret: "s"}, trail, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	a := g.RequestApproval(gate.LevelExecute, "staging deploy", "", "", "")

	out, err := g.ApproveInteractive(a.ID)
	if err != nil || out != gate.OutcomeApproved {
		t.Fatalf("outcome=%v err=%v", out, err)
	}

	found := false
	for _, e := range trail.Tail(0) {
		if e.Kind == "action.approved" && e.RefID == a.ID {
			found = true
		}
	}
	if !found {
		t.Error("audit_only approval left no audit entry")
	}
}

func TestApproveInteractive_enforceDeniesOnNo(t *testing.T) {
	g := newGate(t, gate.Config{
		Policy:  gate.PolicyEnforce,
		Confirm: func(string) (bool, error) { return false, nil },
	})
	a := g.RequestApproval(gate.LevelExecute, "risky", "", "", "")

	out, err := g.ApproveInteractive(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out != gate.OutcomeDenied {
		t.Fatalf("outcome = %s, want denied", out)
	}

	got, _ := g.Get(a.ID)
	if got.Status != gate.StatusDenied {
		t.Errorf("status = %s, want denied", got.Status)
	}
}

func TestApproveInteractive_enforceDeniesOnInterrupt(t *testing.T) {
	g := newGate(t, gate.Config{
		Policy:  gate.PolicyEnforce,
		Confirm: func(string) (bool, error) { return true, errors.New("stdin closed") },
	})
	a := g.RequestApproval(gate.LevelExecute, "risky", "", "", "")

	out, err := g.ApproveInteractive(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out != gate.OutcomeDenied {
		t.Fatalf("outcome = %s, want denied on interrupted confirmation", out)
	}
}

func TestSweep_expiresAndEvicts(t *testing.T) {
	clock := newTestClock()
	g := newGate(t, gate.Config{
		Clock:           clock.now,
		ApprovalTimeout: time.Minute,
		Retention:       time.Hour,
	})

	stale := g.RequestApproval(gate.LevelExecute, "stale", "", "", "")
	clock.advance(2 * time.Minute)
	fresh := g.RequestApproval(gate.LevelExecute, "fresh", "", "", "")

	expired, evicted := g.Sweep()
	if expired != 1 || evicted != 0 {
		t.Fatalf("sweep = (%d expired, %d evicted), want (1, 0)", expired, evicted)
	}

	got, _ := g.Get(stale.ID)
	if got.Status != gate.StatusExpired {
		t.Errorf("stale action status = %s, want expired", got.Status)
	}

	clock.advance(2 * time.Hour)
	_, evicted = g.Sweep()
	if evicted != 2 {
		t.Fatalf("retention sweep evicted %d, want 2", evicted)
	}
	if _, err := g.Get(fresh.ID); !errors.Is(err, gate.ErrActionNotFound) {
		t.Errorf("evicted action still present: %v", err)
	}
}

func TestPending_listsOnlyPendingOldestFirst(t *testing.T) {
	clock := newTestClock()
	g := newGate(t, gate.Config{Clock: clock.now})

	a := g.RequestApproval(gate.LevelExecute, "first", "", "", "")
	clock.advance(time.Second)
	b := g.RequestApproval(gate.LevelExecute, "second", "", "", "")
	clock.advance(time.Second)
	c := g.RequestApproval(gate.LevelExecute, "third", "", "", "")

	if _, err := g.Approve(b.ID, b.Challenge, "op"); err != nil {
		t.Fatal(err)
	}

	pending := g.Pending()
	if len(pending) != 2 {
		t.Fatalf("pending = %d actions, want 2", len(pending))
	}
	if pending[0].ID != a.ID || pending[1].ID != c.ID {
		t.Errorf("pending order wrong: got %s, %s", pending[0].Description, pending[1].Description)
	}
}

func TestEphemeralMode(t *testing.T) {
	g, err := gate.New(gate.Config{}, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if !g.Ephemeral() {
		t.Error("gate with no secret should report ephemeral mode")
	}

	g2, err := gate.New(gate.Config{Secret: "configured"}, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if g2.Ephemeral() {
		t.Error("gate with a configured secret should not report ephemeral mode")
	}
}

func TestChallenge_deterministicPerSecret(t *testing.T) {
	// Two gates with the same secret issue different challenges for
	// different actions but the same key material: an approval computed
	// against one process verifies in another.
	g1, _ := gate.New(gate.Config{Secret: "shared"}, nil, zap.NewNop())
	g2, _ := gate.New(gate.Config{Secret: "shared"}, nil, zap.NewNop())

	a := g1.RequestApproval(gate.LevelExecute, "x", "", "", "")
	b := g2.RequestApproval(gate.LevelExecute, "y", "", "", "")
	if a.Challenge == b.Challenge {
		t.Error("distinct actions produced identical challenges")
	}
	if a.Challenge == "" || b.Challenge == "" {
		t.Error("missing challenge")
	}
}
