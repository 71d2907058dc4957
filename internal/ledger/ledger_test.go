package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cortexmem/cortex/internal/audit"
	"github.com/cortexmem/cortex/internal/ledger"
)

var ctx = context.Background()

func appendN(t *testing.T, l ledger.Ledger, n int) []*ledger.Transaction {
	t.Helper()
	out := make([]*ledger.Transaction, 0, n)
	for i := 0; i < n; i++ {
		tx, err := l.Append(ctx, "tenant-a", "agent-1", "agent",
			"fact.store", fmt.Sprintf("fact-%d", i), "confirmed")
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, tx)
	}
	return out
}

func TestNew_genesis(t *testing.T) {
	l := ledger.New(nil)

	tip, err := l.LastID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tip != 0 {
		t.Errorf("fresh ledger tip = %d, want genesis id 0", tip)
	}

	root, err := l.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != ledger.GenesisHash {
		t.Errorf("fresh ledger root = %q, want the genesis constant", root)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l := ledger.New(nil)
	txs := appendN(t, l, 3)

	if txs[0].PrevHash != ledger.GenesisHash {
		t.Errorf("first transaction must chain from genesis, got prev %q", txs[0].PrevHash)
	}
	for i := 1; i < len(txs); i++ {
		if txs[i].PrevHash != txs[i-1].Signature {
			t.Errorf("chain broken at %d: prev=%q, want %q", txs[i].ID, txs[i].PrevHash, txs[i-1].Signature)
		}
		if txs[i].ID != txs[i-1].ID+1 {
			t.Errorf("ids not monotonic: %d after %d", txs[i].ID, txs[i-1].ID)
		}
	}

	root, _ := l.Root(ctx)
	if root != txs[2].Signature {
		t.Errorf("root = %q, want tip signature %q", root, txs[2].Signature)
	}
}

func TestVerifyIntegrity_roundTrip(t *testing.T) {
	l := ledger.New(nil)
	appendN(t, l, 100)

	if _, err := l.Checkpoint(ctx, 1, 50); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Checkpoint(ctx, 51, 100); err != nil {
		t.Fatal(err)
	}

	report, err := l.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Errorf("untouched ledger reported invalid: %+v", report.Violations)
	}
	if report.TxChecked != 100 {
		t.Errorf("tx_checked = %d, want 100", report.TxChecked)
	}
	if report.RootsChecked != 2 {
		t.Errorf("roots_checked = %d, want 2", report.RootsChecked)
	}
	if len(report.Violations) != 0 {
		t.Errorf("violations = %v, want none", report.Violations)
	}
}

func TestVerifyIntegrity_detectsTamperedField(t *testing.T) {
	l := ledger.New(nil)
	appendN(t, l, 10)
	if _, err := l.Checkpoint(ctx, 1, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Checkpoint(ctx, 6, 10); err != nil {
		t.Fatal(err)
	}

	// Simulate an attacker editing a stored row in place.
	victim, err := l.Get(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	victim.Action = "fact.delete"

	report, err := l.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid {
		t.Fatal("tampered ledger reported valid")
	}

	var sigViolations, cpViolations []ledger.Violation
	for _, v := range report.Violations {
		switch v.Kind {
		case "signature":
			sigViolations = append(sigViolations, v)
		case "checkpoint_root":
			cpViolations = append(cpViolations, v)
		default:
			t.Errorf("unexpected violation kind %q: %+v", v.Kind, v)
		}
	}

	if len(sigViolations) != 1 || sigViolations[0].TxID != 3 {
		t.Errorf("expected exactly transaction 3 flagged, got %+v", sigViolations)
	}
	// Only the checkpoint covering tx 3 must be flagged.
	if len(cpViolations) != 1 || cpViolations[0].CheckpointID != 1 {
		t.Errorf("expected exactly checkpoint 1 flagged, got %+v", cpViolations)
	}
}

func TestVerifyIntegrity_detectsBrokenLink(t *testing.T) {
	l := ledger.New(nil)
	appendN(t, l, 5)

	victim, err := l.Get(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	victim.PrevHash = ledger.GenesisHash

	report, err := l.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid {
		t.Fatal("broken chain reported valid")
	}

	foundLink := false
	for _, v := range report.Violations {
		if v.Kind == "chain_link" && v.TxID == 4 {
			foundLink = true
		}
	}
	if !foundLink {
		t.Errorf("expected a chain_link violation at tx 4, got %+v", report.Violations)
	}
}

func TestCheckpoint_rejectsOverlap(t *testing.T) {
	l := ledger.New(nil)
	appendN(t, l, 20)

	if _, err := l.Checkpoint(ctx, 1, 10); err != nil {
		t.Fatal(err)
	}

	for _, r := range [][2]int64{{1, 10}, {5, 15}, {10, 20}} {
		_, err := l.Checkpoint(ctx, r[0], r[1])
		if !errors.Is(err, ledger.ErrRangeCheckpointed) {
			t.Errorf("range [%d,%d]: got %v, want ErrRangeCheckpointed", r[0], r[1], err)
		}
	}

	// A disjoint later range is fine.
	if _, err := l.Checkpoint(ctx, 11, 20); err != nil {
		t.Errorf("disjoint range rejected: %v", err)
	}
}

func TestCheckpoint_emptyRange(t *testing.T) {
	l := ledger.New(nil)
	appendN(t, l, 3)

	if _, err := l.Checkpoint(ctx, 10, 20); !errors.Is(err, ledger.ErrEmptyRange) {
		t.Errorf("got %v, want ErrEmptyRange", err)
	}
}

func TestCheckpoint_rootIsReproducible(t *testing.T) {
	a := ledger.New(nil)
	b := ledger.New(nil)

	// Same fields produce different signatures (timestamps differ), but each
	// ledger's checkpoint must reproduce from its own range on re-scan.
	appendN(t, a, 8)
	appendN(t, b, 8)
	if _, err := a.Checkpoint(ctx, 1, 8); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Checkpoint(ctx, 1, 8); err != nil {
		t.Fatal(err)
	}

	for _, l := range []ledger.Ledger{a, b} {
		report, err := l.VerifyIntegrity(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !report.Valid {
			t.Errorf("checkpoint did not reproduce: %+v", report.Violations)
		}
	}
}

func TestCheckpointDue(t *testing.T) {
	l := ledger.New(nil)
	appendN(t, l, 125)

	created, err := ledger.CheckpointDue(ctx, l, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 checkpoints for 125 tx at batch 50, got %d", len(created))
	}
	if created[0].TxStartID != 1 || created[0].TxEndID != 50 {
		t.Errorf("first checkpoint range [%d,%d], want [1,50]", created[0].TxStartID, created[0].TxEndID)
	}
	if created[1].TxStartID != 51 || created[1].TxEndID != 100 {
		t.Errorf("second checkpoint range [%d,%d], want [51,100]", created[1].TxStartID, created[1].TxEndID)
	}

	// Nothing new until another full batch accumulates.
	created, err = ledger.CheckpointDue(ctx, l, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Errorf("expected no new checkpoints, got %d", len(created))
	}

	appendN(t, l, 25)
	created, err = ledger.CheckpointDue(ctx, l, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 || created[0].TxStartID != 101 || created[0].TxEndID != 150 {
		t.Errorf("expected checkpoint [101,150], got %+v", created)
	}
}

func TestAppend_recordsAudit(t *testing.T) {
	trail := audit.NewLog(16)
	l := ledger.New(trail)
	appendN(t, l, 2)
	if _, err := l.Checkpoint(ctx, 1, 2); err != nil {
		t.Fatal(err)
	}

	entries := trail.Tail(0)
	if len(entries) != 3 {
		t.Fatalf("expected 3 audit entries (2 appends + checkpoint), got %d", len(entries))
	}
	if entries[0].Kind != "tx.appended" || entries[2].Kind != "checkpoint.created" {
		t.Errorf("unexpected audit kinds: %+v", entries)
	}
}

func TestConcurrentAppends_keepChainIntact(t *testing.T) {
	l := ledger.New(nil)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 25; i++ {
				_, _ = l.Append(ctx, "tenant-a", fmt.Sprintf("agent-%d", g), "agent",
					"fact.store", "fact", "confirmed")
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	report, err := l.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Errorf("concurrent appends corrupted the chain: %+v", report.Violations)
	}
	if report.TxChecked != 200 {
		t.Errorf("tx_checked = %d, want 200", report.TxChecked)
	}
}
