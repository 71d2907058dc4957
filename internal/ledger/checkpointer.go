package ledger

import (
	"context"
	"fmt"
)

// CheckpointDue creates checkpoints for every complete batch of batchSize
// transactions that is not yet covered by one, returning the checkpoints it
// created. It is safe to call repeatedly; partial trailing batches are left
// for a later call. The daemon runs this on a timer, and the CLI exposes it
// on demand.
func CheckpointDue(ctx context.Context, l Ledger, batchSize int) ([]*Checkpoint, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	cps, err := l.Checkpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var covered int64
	for _, cp := range cps {
		if cp.TxEndID > covered {
			covered = cp.TxEndID
		}
	}

	tip, err := l.LastID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain tip: %w", err)
	}

	var created []*Checkpoint
	for tip-covered >= int64(batchSize) {
		start := covered + 1
		end := covered + int64(batchSize)
		cp, err := l.Checkpoint(ctx, start, end)
		if err != nil {
			return created, fmt.Errorf("checkpoint [%d,%d]: %w", start, end, err)
		}
		created = append(created, cp)
		covered = end
	}
	return created, nil
}
