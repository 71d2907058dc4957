// Package ledger implements the tamper-evident transaction ledger: an
// append-only hash chain over every stored mutation, periodically
// checkpointed into Merkle roots so an external auditor can re-derive the
// whole history without trusting the running process.
package ledger

import (
	"context"
	"errors"
)

// Ledger is the interface for the append-only hash-chained transaction log.
// Both MemoryLedger and PostgresLedger implement this interface.
type Ledger interface {
	// Append adds a new transaction chained to the previous one and returns
	// the persisted record. Appends are serialized; a persistence failure
	// leaves no partial chain state behind.
	Append(ctx context.Context, tenantID, actorID, actorRole, action, resource, status string) (*Transaction, error)

	// Get returns the transaction with the given id.
	Get(ctx context.Context, id int64) (*Transaction, error)

	// Transactions returns all transactions with id in [startID, endID],
	// ordered by id.
	Transactions(ctx context.Context, startID, endID int64) ([]*Transaction, error)

	// LastID returns the id of the chain tip, 0 for a genesis-only chain.
	LastID(ctx context.Context) (int64, error)

	// Root returns the chain tip's signature.
	Root(ctx context.Context) (string, error)

	// Checkpoint summarizes the transactions in [startID, endID] into a
	// Merkle root and persists it. A range overlapping an existing
	// checkpoint is rejected with ErrRangeCheckpointed.
	Checkpoint(ctx context.Context, startID, endID int64) (*Checkpoint, error)

	// Checkpoints returns all persisted checkpoints ordered by id.
	Checkpoints(ctx context.Context) ([]*Checkpoint, error)

	// VerifyIntegrity replays the full chain and recomputes every
	// checkpoint, enumerating all violations found. A corrupted ledger is
	// a result, not an error: the scan always completes.
	VerifyIntegrity(ctx context.Context) (*IntegrityReport, error)
}

var (
	// ErrRangeCheckpointed is returned by Checkpoint when the requested
	// range overlaps a range that already has a checkpoint.
	ErrRangeCheckpointed = errors.New("range overlaps an existing checkpoint")

	// ErrEmptyRange is returned by Checkpoint when the requested range
	// contains no transactions.
	ErrEmptyRange = errors.New("range contains no transactions")

	// ErrNotFound is returned by Get for an unknown transaction id.
	ErrNotFound = errors.New("transaction not found")
)
