package ledger

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cortexmem/cortex/internal/audit"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation. It is
// primarily useful for testing and for daemons run without a database, where
// the chain does not survive a restart.
type MemoryLedger struct {
	mu          sync.RWMutex
	txs         []*Transaction
	checkpoints []*Checkpoint
	trail       *audit.Log
}

// New creates a MemoryLedger initialised with the canonical genesis
// transaction at id 0.
func New(trail *audit.Log) *MemoryLedger {
	l := &MemoryLedger{trail: trail}
	l.txs = append(l.txs, &Transaction{
		ID:        0,
		Timestamp: time.Now().UTC(),
		ActorID:   "cortex-system",
		Action:    "genesis",
		Status:    "confirmed",
		PrevHash:  GenesisHash,
		Signature: GenesisHash, // genesis is the well-known constant, not computed
	})
	return l
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, tenantID, actorID, actorRole, action, resource, status string) (*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.txs[len(l.txs)-1]
	tx := &Transaction{
		ID:        prev.ID + 1,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		TenantID:  tenantID,
		ActorID:   actorID,
		ActorRole: actorRole,
		Action:    action,
		Resource:  resource,
		Status:    status,
		PrevHash:  prev.Signature,
	}
	tx.Signature = signTransaction(tx)
	l.txs = append(l.txs, tx)

	l.record("tx.appended", tx)
	return tx, nil
}

// Get implements Ledger. The returned record is the stored one; callers must
// treat it as immutable.
func (l *MemoryLedger) Get(_ context.Context, id int64) (*Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id < 0 || id >= int64(len(l.txs)) {
		return nil, ErrNotFound
	}
	return l.txs[id], nil
}

// Transactions implements Ledger.
func (l *MemoryLedger) Transactions(_ context.Context, startID, endID int64) ([]*Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Transaction, 0)
	for _, tx := range l.txs {
		if tx.ID >= startID && tx.ID <= endID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// LastID implements Ledger.
func (l *MemoryLedger) LastID(_ context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.txs[len(l.txs)-1].ID, nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.txs[len(l.txs)-1].Signature, nil
}

// Checkpoint implements Ledger.
func (l *MemoryLedger) Checkpoint(_ context.Context, startID, endID int64) (*Checkpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, cp := range l.checkpoints {
		if startID <= cp.TxEndID && endID >= cp.TxStartID {
			return nil, ErrRangeCheckpointed
		}
	}

	var sigs []string
	for _, tx := range l.txs {
		if tx.ID >= startID && tx.ID <= endID && tx.ID != 0 {
			sigs = append(sigs, tx.Signature)
		}
	}
	if len(sigs) == 0 {
		return nil, ErrEmptyRange
	}

	root, err := checkpointRoot(sigs)
	if err != nil {
		return nil, err
	}

	cp := &Checkpoint{
		ID:        int64(len(l.checkpoints) + 1),
		RootHash:  root,
		TxStartID: startID,
		TxEndID:   endID,
		TxCount:   len(sigs),
		CreatedAt: time.Now().UTC(),
	}
	l.checkpoints = append(l.checkpoints, cp)

	if l.trail != nil {
		l.trail.Append(audit.Entry{
			Source: "ledger",
			Kind:   "checkpoint.created",
			RefID:  strconv.FormatInt(cp.ID, 10),
			Detail: cp.rangeString(),
		})
	}
	return cp, nil
}

// Checkpoints implements Ledger.
func (l *MemoryLedger) Checkpoints(_ context.Context) ([]*Checkpoint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Checkpoint, len(l.checkpoints))
	copy(out, l.checkpoints)
	return out, nil
}

// VerifyIntegrity implements Ledger. The scan runs against a snapshot of the
// committed records; it never blocks appends for longer than the copy.
func (l *MemoryLedger) VerifyIntegrity(_ context.Context) (*IntegrityReport, error) {
	l.mu.RLock()
	txs := make([]*Transaction, len(l.txs))
	copy(txs, l.txs)
	cps := make([]*Checkpoint, len(l.checkpoints))
	copy(cps, l.checkpoints)
	l.mu.RUnlock()

	return scan(txs, cps), nil
}

// record appends an audit entry for an appended transaction. Caller holds the
// write lock.
func (l *MemoryLedger) record(kind string, tx *Transaction) {
	if l.trail == nil {
		return
	}
	l.trail.Append(audit.Entry{
		Source: "ledger",
		Kind:   kind,
		RefID:  strconv.FormatInt(tx.ID, 10),
		Actor:  tx.ActorID,
		Detail: tx.Action + " " + tx.Resource,
	})
}
