package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cortexmem/cortex/internal/audit"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across every process writing the same chain.
const advisoryLockKey = int64(7_420_118_836)

// PostgresLedger persists the hash chain and its checkpoints to PostgreSQL.
// It implements the Ledger interface.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	trail  *audit.Log
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by the given connection
// pool. The genesis row is inserted by the schema migration.
func NewPostgresLedger(pool *pgxpool.Pool, trail *audit.Log, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, trail: trail, logger: logger}
}

const txColumns = "id, timestamp, tenant_id, actor_id, actor_role, action, resource, status, prev_hash, signature"

// Append implements Ledger.
// It acquires a PostgreSQL advisory lock, reads the chain tail, computes the
// new chain value, and inserts the row — all within one transaction, so a
// failure commits nothing and leaves no partial chain state.
func (l *PostgresLedger) Append(ctx context.Context, tenantID, actorID, actorRole, action, resource, status string) (*Transaction, error) {
	dbtx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbtx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent appends with a transaction-scoped advisory lock.
	// The lock is released when the transaction commits or rolls back.
	if _, err := dbtx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevID int64
	var prevSig string
	if err := dbtx.QueryRow(ctx,
		"SELECT id, signature FROM ledger_transactions ORDER BY id DESC LIMIT 1",
	).Scan(&prevID, &prevSig); err != nil {
		return nil, fmt.Errorf("read chain tail: %w", err)
	}

	tx := &Transaction{
		ID: prevID + 1,
		// Truncate to microseconds so the signature survives the round
		// trip through timestamptz.
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		TenantID:  tenantID,
		ActorID:   actorID,
		ActorRole: actorRole,
		Action:    action,
		Resource:  resource,
		Status:    status,
		PrevHash:  prevSig,
	}
	tx.Signature = signTransaction(tx)

	if _, err := dbtx.Exec(ctx,
		`INSERT INTO ledger_transactions (`+txColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tx.ID, tx.Timestamp, tx.TenantID, tx.ActorID, tx.ActorRole,
		tx.Action, tx.Resource, tx.Status, tx.PrevHash, tx.Signature,
	); err != nil {
		return nil, fmt.Errorf("insert ledger transaction: %w", err)
	}

	if err := dbtx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	if l.trail != nil {
		l.trail.Append(audit.Entry{
			Source: "ledger",
			Kind:   "tx.appended",
			RefID:  strconv.FormatInt(tx.ID, 10),
			Actor:  tx.ActorID,
			Detail: tx.Action + " " + tx.Resource,
		})
	}
	l.logger.Debug("ledger transaction appended",
		zap.Int64("id", tx.ID),
		zap.String("action", tx.Action),
		zap.String("tenant_id", tx.TenantID),
	)
	return tx, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, id int64) (*Transaction, error) {
	tx := &Transaction{}
	err := l.pool.QueryRow(ctx,
		"SELECT "+txColumns+" FROM ledger_transactions WHERE id = $1", id,
	).Scan(
		&tx.ID, &tx.Timestamp, &tx.TenantID, &tx.ActorID, &tx.ActorRole,
		&tx.Action, &tx.Resource, &tx.Status, &tx.PrevHash, &tx.Signature,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger transaction %d: %w", id, err)
	}
	return tx, nil
}

// Transactions implements Ledger.
func (l *PostgresLedger) Transactions(ctx context.Context, startID, endID int64) ([]*Transaction, error) {
	rows, err := l.pool.Query(ctx,
		"SELECT "+txColumns+" FROM ledger_transactions WHERE id BETWEEN $1 AND $2 ORDER BY id ASC",
		startID, endID,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// LastID implements Ledger.
func (l *PostgresLedger) LastID(ctx context.Context) (int64, error) {
	var id int64
	if err := l.pool.QueryRow(ctx,
		"SELECT id FROM ledger_transactions ORDER BY id DESC LIMIT 1",
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("read chain tail id: %w", err)
	}
	return id, nil
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var sig string
	if err := l.pool.QueryRow(ctx,
		"SELECT signature FROM ledger_transactions ORDER BY id DESC LIMIT 1",
	).Scan(&sig); err != nil {
		return "", fmt.Errorf("read chain root: %w", err)
	}
	return sig, nil
}

// Checkpoint implements Ledger. Range overlap is checked and the root row
// inserted inside one transaction so two racing checkpoints cannot cover the
// same range twice.
func (l *PostgresLedger) Checkpoint(ctx context.Context, startID, endID int64) (*Checkpoint, error) {
	dbtx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbtx.Rollback(ctx) //nolint:errcheck

	if _, err := dbtx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var overlap int
	if err := dbtx.QueryRow(ctx,
		"SELECT COUNT(*) FROM ledger_checkpoints WHERE tx_start_id <= $1 AND tx_end_id >= $2",
		endID, startID,
	).Scan(&overlap); err != nil {
		return nil, fmt.Errorf("check checkpoint overlap: %w", err)
	}
	if overlap > 0 {
		return nil, ErrRangeCheckpointed
	}

	rows, err := dbtx.Query(ctx,
		"SELECT signature FROM ledger_transactions WHERE id BETWEEN $1 AND $2 AND id <> 0 ORDER BY id ASC",
		startID, endID,
	)
	if err != nil {
		return nil, fmt.Errorf("query range signatures: %w", err)
	}
	var sigs []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		sigs = append(sigs, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate range signatures: %w", err)
	}
	if len(sigs) == 0 {
		return nil, ErrEmptyRange
	}

	root, err := checkpointRoot(sigs)
	if err != nil {
		return nil, err
	}

	cp := &Checkpoint{
		RootHash:  root,
		TxStartID: startID,
		TxEndID:   endID,
		TxCount:   len(sigs),
		CreatedAt: time.Now().UTC(),
	}
	if err := dbtx.QueryRow(ctx,
		`INSERT INTO ledger_checkpoints (root_hash, tx_start_id, tx_end_id, tx_count, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		cp.RootHash, cp.TxStartID, cp.TxEndID, cp.TxCount, cp.CreatedAt,
	).Scan(&cp.ID); err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}

	if err := dbtx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit checkpoint tx: %w", err)
	}

	if l.trail != nil {
		l.trail.Append(audit.Entry{
			Source: "ledger",
			Kind:   "checkpoint.created",
			RefID:  strconv.FormatInt(cp.ID, 10),
			Detail: cp.rangeString(),
		})
	}
	l.logger.Info("ledger checkpoint created",
		zap.Int64("id", cp.ID),
		zap.Int64("tx_start_id", cp.TxStartID),
		zap.Int64("tx_end_id", cp.TxEndID),
		zap.String("root", cp.RootHash),
	)
	return cp, nil
}

// Checkpoints implements Ledger.
func (l *PostgresLedger) Checkpoints(ctx context.Context) ([]*Checkpoint, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, root_hash, tx_start_id, tx_end_id, tx_count, created_at,
		        COALESCE(signature, ''), COALESCE(external_proof, '')
		 FROM ledger_checkpoints ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp := &Checkpoint{}
		if err := rows.Scan(
			&cp.ID, &cp.RootHash, &cp.TxStartID, &cp.TxEndID,
			&cp.TxCount, &cp.CreatedAt, &cp.Signature, &cp.ExternalProof,
		); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// VerifyIntegrity implements Ledger. It reads transactions and checkpoints in
// one repeatable-read transaction so the scan sees a consistent snapshot of
// committed rows without blocking the writer.
func (l *PostgresLedger) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	dbtx, err := l.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer dbtx.Rollback(ctx) //nolint:errcheck

	rows, err := dbtx.Query(ctx,
		"SELECT "+txColumns+" FROM ledger_transactions ORDER BY id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	txs, err := scanTransactions(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	cpRows, err := dbtx.Query(ctx,
		`SELECT id, root_hash, tx_start_id, tx_end_id, tx_count, created_at,
		        COALESCE(signature, ''), COALESCE(external_proof, '')
		 FROM ledger_checkpoints ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	var cps []*Checkpoint
	for cpRows.Next() {
		cp := &Checkpoint{}
		if err := cpRows.Scan(
			&cp.ID, &cp.RootHash, &cp.TxStartID, &cp.TxEndID,
			&cp.TxCount, &cp.CreatedAt, &cp.Signature, &cp.ExternalProof,
		); err != nil {
			cpRows.Close()
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cps = append(cps, cp)
	}
	cpRows.Close()
	if err := cpRows.Err(); err != nil {
		return nil, err
	}

	return scan(txs, cps), nil
}

// scanTransactions drains rows into transaction records.
func scanTransactions(rows pgx.Rows) ([]*Transaction, error) {
	var out []*Transaction
	for rows.Next() {
		tx := &Transaction{}
		if err := rows.Scan(
			&tx.ID, &tx.Timestamp, &tx.TenantID, &tx.ActorID, &tx.ActorRole,
			&tx.Action, &tx.Resource, &tx.Status, &tx.PrevHash, &tx.Signature,
		); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		// Postgres returns timestamptz in the session zone; the signature
		// was computed over UTC.
		tx.Timestamp = tx.Timestamp.UTC()
		out = append(out, tx)
	}
	return out, rows.Err()
}
