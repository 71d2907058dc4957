// Package memory implements the fact store: tenant-scoped records whose
// content is sealed by an external encryption collaborator, whose every
// mutation lands in the ledger, and whose destructive operations only run
// through the gate.
package memory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Fact statuses.
const (
	StatusActive     = "active"
	StatusDeprecated = "deprecated"
)

// Fact is one stored memory record. Content is ciphertext; the store never
// sees plaintext at rest.
type Fact struct {
	ID        uuid.UUID `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Content   []byte    `json:"-"`
	Tags      []string  `json:"tags,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cipher is the envelope-encryption collaborator. Key management and the
// AES-GCM envelope live outside this module; facts only pass through it.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// PlainCipher stores content as-is. It stands in for the real envelope
// service in tests and in daemons run without a keystore.
type PlainCipher struct{}

func (PlainCipher) Seal(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (PlainCipher) Open(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

// ErrFactNotFound is returned for an unknown fact id within a tenant.
var ErrFactNotFound = errors.New("fact not found")
