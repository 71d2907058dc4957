package audit_test

import (
	"strconv"
	"testing"

	"github.com/cortexmem/cortex/internal/audit"
)

func TestAppend_belowCapacity(t *testing.T) {
	l := audit.NewLog(10)
	for i := 0; i < 3; i++ {
		l.Append(audit.Entry{Source: "gate", Kind: "action.requested", RefID: strconv.Itoa(i)})
	}
	if l.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", l.Len())
	}

	tail := l.Tail(0)
	if len(tail) != 3 {
		t.Fatalf("expected full tail of 3, got %d", len(tail))
	}
	if tail[0].RefID != "0" || tail[2].RefID != "2" {
		t.Errorf("tail not oldest-first: %v", tail)
	}
}

func TestAppend_dropsOldestPastCapacity(t *testing.T) {
	l := audit.NewLog(4)
	for i := 0; i < 10; i++ {
		l.Append(audit.Entry{RefID: strconv.Itoa(i)})
	}
	if l.Len() != 4 {
		t.Fatalf("expected ring capped at 4, got %d", l.Len())
	}

	tail := l.Tail(4)
	want := []string{"6", "7", "8", "9"}
	for i, e := range tail {
		if e.RefID != want[i] {
			t.Errorf("tail[%d]=%q, want %q", i, e.RefID, want[i])
		}
	}
}

func TestTail_limitsCount(t *testing.T) {
	l := audit.NewLog(8)
	for i := 0; i < 5; i++ {
		l.Append(audit.Entry{RefID: strconv.Itoa(i)})
	}

	tail := l.Tail(2)
	if len(tail) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tail))
	}
	if tail[0].RefID != "3" || tail[1].RefID != "4" {
		t.Errorf("expected the two most recent, got %v", tail)
	}
}

func TestAppend_stampsTimestamp(t *testing.T) {
	l := audit.NewLog(2)
	l.Append(audit.Entry{RefID: "x"})
	if l.Tail(1)[0].Timestamp.IsZero() {
		t.Error("append should stamp a missing timestamp")
	}
}
