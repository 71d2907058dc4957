package memory_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/cortexmem/cortex/internal/audit"
	"github.com/cortexmem/cortex/internal/gate"
	"github.com/cortexmem/cortex/internal/ledger"
	"github.com/cortexmem/cortex/internal/memory"
)

var ctx = context.Background()

func newService(t *testing.T) (*memory.Service, ledger.Ledger, *gate.Gate) {
	t.Helper()
	chain := ledger.New(audit.NewLog(64))
	guard, err := gate.New(gate.Config{Secret: "test-secret"}, audit.NewLog(64), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	svc := memory.NewService(memory.NewMemoryRepository(), memory.PlainCipher{}, chain, guard, zap.NewNop())
	return svc, chain, guard
}

func TestStore_recordsLedgerTransaction(t *testing.T) {
	svc, chain, _ := newService(t)

	f, err := svc.Store(ctx, "tenant-a", "agent-1", []byte("the sky is blue"), []string{"color"})
	if err != nil {
		t.Fatal(err)
	}

	tip, _ := chain.LastID(ctx)
	if tip != 1 {
		t.Fatalf("chain tip = %d, want 1 after one store", tip)
	}
	tx, err := chain.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Action != "fact.store" || tx.Resource != f.ID.String() {
		t.Errorf("ledger tx = %s %s, want fact.store %s", tx.Action, tx.Resource, f.ID)
	}
}

func TestGet_opensContent(t *testing.T) {
	svc, _, _ := newService(t)
	f, err := svc.Store(ctx, "tenant-a", "agent-1", []byte("remember this"), nil)
	if err != nil {
		t.Fatal(err)
	}

	_, plaintext, err := svc.Get(ctx, "tenant-a", f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plaintext, []byte("remember this")) {
		t.Errorf("plaintext = %q", plaintext)
	}

	// Another tenant cannot see it.
	if _, _, err := svc.Get(ctx, "tenant-b", f.ID); !errors.Is(err, memory.ErrFactNotFound) {
		t.Errorf("cross-tenant get: got %v, want ErrFactNotFound", err)
	}
}

func TestDeprecate_recordsButDoesNotGate(t *testing.T) {
	svc, chain, guard := newService(t)
	f, _ := svc.Store(ctx, "tenant-a", "agent-1", []byte("stale"), nil)

	if err := svc.Deprecate(ctx, "tenant-a", "agent-1", f.ID); err != nil {
		t.Fatal(err)
	}

	got, _, err := svc.Get(ctx, "tenant-a", f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != memory.StatusDeprecated {
		t.Errorf("status = %q, want deprecated", got.Status)
	}

	tx, _ := chain.Get(ctx, 2)
	if tx.Action != "fact.deprecate" {
		t.Errorf("second tx = %q, want fact.deprecate", tx.Action)
	}
	if n := len(guard.Pending()); n != 0 {
		t.Errorf("deprecate created %d pending actions, want 0", n)
	}
}

func TestPurge_requiresApprovedAction(t *testing.T) {
	svc, chain, guard := newService(t)
	f, _ := svc.Store(ctx, "tenant-a", "agent-1", []byte("secret"), nil)

	a, err := svc.RequestPurge(ctx, "tenant-a", f.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Unapproved purge must not touch the fact.
	if err := svc.Purge(ctx, a.ID, "tenant-a", "operator-7", f.ID); !errors.Is(err, gate.ErrNotApproved) {
		t.Fatalf("unapproved purge: got %v, want ErrNotApproved", err)
	}
	if _, _, err := svc.Get(ctx, "tenant-a", f.ID); err != nil {
		t.Fatal("fact deleted without approval")
	}

	out, err := guard.Approve(a.ID, a.Challenge, "operator-7")
	if err != nil || out != gate.OutcomeApproved {
		t.Fatalf("approve: outcome=%v err=%v", out, err)
	}

	if err := svc.Purge(ctx, a.ID, "tenant-a", "operator-7", f.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Get(ctx, "tenant-a", f.ID); !errors.Is(err, memory.ErrFactNotFound) {
		t.Errorf("fact still present after purge: %v", err)
	}

	tip, _ := chain.LastID(ctx)
	tx, _ := chain.Get(ctx, tip)
	if tx.Action != "fact.purge" {
		t.Errorf("last tx = %q, want fact.purge", tx.Action)
	}
}

func TestRequestPurge_unknownFact(t *testing.T) {
	svc, _, _ := newService(t)
	f, _ := svc.Store(ctx, "tenant-a", "agent-1", []byte("x"), nil)

	if _, err := svc.RequestPurge(ctx, "tenant-b", f.ID); !errors.Is(err, memory.ErrFactNotFound) {
		t.Errorf("got %v, want ErrFactNotFound", err)
	}
}

func TestListByTag(t *testing.T) {
	svc, _, _ := newService(t)
	_, _ = svc.Store(ctx, "tenant-a", "agent-1", []byte("a"), []string{"work", "urgent"})
	_, _ = svc.Store(ctx, "tenant-a", "agent-1", []byte("b"), []string{"work"})
	_, _ = svc.Store(ctx, "tenant-a", "agent-1", []byte("c"), []string{"home"})

	work, err := svc.ListByTag(ctx, "tenant-a", "work")
	if err != nil {
		t.Fatal(err)
	}
	if len(work) != 2 {
		t.Errorf("work facts = %d, want 2", len(work))
	}
}
