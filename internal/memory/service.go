package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cortexmem/cortex/internal/gate"
	"github.com/cortexmem/cortex/internal/ledger"
)

// Service routes fact operations through the trust core: every mutation is
// recorded in the ledger and purges only run through the gate.
type Service struct {
	repo   Repository
	cipher Cipher
	chain  ledger.Ledger
	guard  *gate.Gate
	logger *zap.Logger
}

// NewService wires a fact service.
func NewService(repo Repository, cipher Cipher, chain ledger.Ledger, guard *gate.Gate, logger *zap.Logger) *Service {
	return &Service{repo: repo, cipher: cipher, chain: chain, guard: guard, logger: logger}
}

// Store seals and persists a new fact, then records the mutation.
func (s *Service) Store(ctx context.Context, tenantID, actorID string, plaintext []byte, tags []string) (*Fact, error) {
	sealed, err := s.cipher.Seal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal fact content: %w", err)
	}

	now := time.Now().UTC()
	f := &Fact{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Content:   sealed,
		Tags:      tags,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, f); err != nil {
		return nil, err
	}

	if _, err := s.chain.Append(ctx, tenantID, actorID, "agent", "fact.store", f.ID.String(), "confirmed"); err != nil {
		// The fact is persisted but unrecorded; surface the failure so the
		// caller knows the chain is behind the store.
		return nil, fmt.Errorf("record fact.store: %w", err)
	}

	s.logger.Debug("fact stored",
		zap.String("fact_id", f.ID.String()),
		zap.String("tenant_id", tenantID))
	return f, nil
}

// Get returns a fact and its opened plaintext.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Fact, []byte, error) {
	f, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := s.cipher.Open(f.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("open fact content: %w", err)
	}
	return f, plaintext, nil
}

// ListByTag returns the tenant's facts carrying the tag.
func (s *Service) ListByTag(ctx context.Context, tenantID, tag string) ([]*Fact, error) {
	return s.repo.ListByTag(ctx, tenantID, tag)
}

// Deprecate marks a fact deprecated and records the mutation. Deprecation is
// reversible, so it is ledger-recorded but not gated.
func (s *Service) Deprecate(ctx context.Context, tenantID, actorID string, id uuid.UUID) error {
	if err := s.repo.UpdateStatus(ctx, tenantID, id, StatusDeprecated, time.Now().UTC()); err != nil {
		return err
	}
	if _, err := s.chain.Append(ctx, tenantID, actorID, "agent", "fact.deprecate", id.String(), "confirmed"); err != nil {
		return fmt.Errorf("record fact.deprecate: %w", err)
	}
	return nil
}

// RequestPurge registers the gated purge action and returns it with its
// challenge. The fact is untouched until the approval is presented and
// Purge is called.
func (s *Service) RequestPurge(ctx context.Context, tenantID string, id uuid.UUID) (*gate.Action, error) {
	if _, err := s.repo.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	a := s.guard.RequestApproval(gate.LevelMutate,
		fmt.Sprintf("purge fact %s (tenant %s)", id, tenantID),
		"", tenantID, "")
	return a, nil
}

// Purge permanently deletes a fact through the gate. actionID must identify
// an approved purge action; the delete and the ledger record run inside
// ExecuteGuarded so an unapproved or expired action performs nothing.
func (s *Service) Purge(ctx context.Context, actionID, tenantID, actorID string, id uuid.UUID) error {
	_, err := s.guard.ExecuteGuarded(ctx, actionID, func(ctx context.Context) (string, error) {
		if err := s.repo.Delete(ctx, tenantID, id); err != nil {
			return "", err
		}
		if _, err := s.chain.Append(ctx, tenantID, actorID, "operator", "fact.purge", id.String(), "confirmed"); err != nil {
			return "", fmt.Errorf("record fact.purge: %w", err)
		}
		return "purged " + id.String(), nil
	})
	return err
}
