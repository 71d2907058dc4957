package gate

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

// hkdfSalt binds derived keys to this gate version; changing it invalidates
// every outstanding challenge and operator token.
var hkdfSalt = []byte("cortex-gate-v1")

// KeySet holds the gate's derived key material. The challenge key signs HMAC
// challenges; the token key signs operator session tokens. Both are expanded
// from one configured root secret so the keystore only has to hold a single
// value.
type KeySet struct {
	ephemeral    bool
	challengeKey []byte
	tokenKey     []byte
}

// NewKeySet derives the gate's keys from secret. An empty secret is a
// distinct, loudly-reported operating mode: a random per-process secret is
// generated, every approval becomes unverifiable after restart, and the
// condition is surfaced in logs and the status API rather than hidden.
func NewKeySet(secret string, logger *zap.Logger) (*KeySet, error) {
	ks := &KeySet{}

	root := []byte(secret)
	if secret == "" {
		root = make([]byte, 32)
		if _, err := rand.Read(root); err != nil {
			return nil, fmt.Errorf("generate ephemeral gate secret: %w", err)
		}
		ks.ephemeral = true
		logger.Warn("gate secret not configured, using an ephemeral per-process secret; " +
			"signed approvals will NOT verify after a restart (set gate.secret for durable approvals)")
	}

	var err error
	ks.challengeKey, err = expand(root, "challenge-mac")
	if err != nil {
		return nil, err
	}
	ks.tokenKey, err = expand(root, "operator-token")
	if err != nil {
		return nil, err
	}
	return ks, nil
}

// expand derives one 32-byte purpose-bound key from the root secret.
func expand(root []byte, purpose string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, root, hkdfSalt, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return key, nil
}

// Ephemeral reports whether the gate is running on a per-process secret.
func (k *KeySet) Ephemeral() bool { return k.ephemeral }

// ChallengeKey returns the HMAC challenge key.
func (k *KeySet) ChallengeKey() []byte { return k.challengeKey }

// TokenKey returns the operator session token key.
func (k *KeySet) TokenKey() []byte { return k.tokenKey }
