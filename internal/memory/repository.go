package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persistence boundary for facts.
type Repository interface {
	Insert(ctx context.Context, f *Fact) error
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*Fact, error)
	ListByTag(ctx context.Context, tenantID, tag string) ([]*Fact, error)
	UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status string, updatedAt time.Time) error
	Delete(ctx context.Context, tenantID string, id uuid.UUID) error
}

// ── In-memory implementation ─────────────────────────────────────────────────

// MemoryRepository is a thread-safe in-memory Repository, for tests and
// database-less runs.
type MemoryRepository struct {
	mu    sync.RWMutex
	facts map[uuid.UUID]*Fact
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{facts: make(map[uuid.UUID]*Fact)}
}

func (r *MemoryRepository) Insert(_ context.Context, f *Fact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *f
	r.facts[f.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, tenantID string, id uuid.UUID) (*Fact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.facts[id]
	if !ok || f.TenantID != tenantID {
		return nil, ErrFactNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *MemoryRepository) ListByTag(_ context.Context, tenantID, tag string) ([]*Fact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Fact, 0)
	for _, f := range r.facts {
		if f.TenantID == tenantID && slices.Contains(f.Tags, tag) {
			cp := *f
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *Fact) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, tenantID string, id uuid.UUID, status string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.facts[id]
	if !ok || f.TenantID != tenantID {
		return ErrFactNotFound
	}
	f.Status = status
	f.UpdatedAt = updatedAt
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, tenantID string, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.facts[id]
	if !ok || f.TenantID != tenantID {
		return ErrFactNotFound
	}
	delete(r.facts, id)
	return nil
}

// ── PostgreSQL implementation ────────────────────────────────────────────────

// PostgresRepository persists facts to PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository backed by the pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Insert(ctx context.Context, f *Fact) error {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO facts (id, tenant_id, content, tags, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.TenantID, f.Content, f.Tags, f.Status, f.CreatedAt, f.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Fact, error) {
	f := &Fact{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, tenant_id, content, tags, status, created_at, updated_at
		 FROM facts WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&f.ID, &f.TenantID, &f.Content, &f.Tags, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fact %s: %w", id, err)
	}
	return f, nil
}

func (r *PostgresRepository) ListByTag(ctx context.Context, tenantID, tag string) ([]*Fact, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, content, tags, status, created_at, updated_at
		 FROM facts WHERE tenant_id = $1 AND $2 = ANY(tags) ORDER BY created_at ASC`,
		tenantID, tag,
	)
	if err != nil {
		return nil, fmt.Errorf("list facts by tag: %w", err)
	}
	defer rows.Close()

	var out []*Fact
	for rows.Next() {
		f := &Fact{}
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Content, &f.Tags, &f.Status, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status string, updatedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE facts SET status = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4",
		status, updatedAt, id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("update fact status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFactNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		"DELETE FROM facts WHERE id = $1 AND tenant_id = $2", id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFactNotFound
	}
	return nil
}
