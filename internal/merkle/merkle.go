// Package merkle implements the binary hash tree used for ledger checkpoints.
// Trees are built bottom-up over an ordered sequence of leaf hashes; levels of
// odd length duplicate their last node as its own sibling so the tree stays
// binary. Proofs generated here verify only against trees built with the same
// rule.
package merkle

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// HashSize is the size in bytes of every node hash.
const HashSize = sha256.Size

// Hash is a single node digest.
type Hash [HashSize]byte

// String returns the hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("parse hash: got %d bytes, want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// LeafHash computes the digest of raw leaf data.
func LeafHash(data []byte) Hash {
	return sha256.Sum256(data)
}

// ProofStep is one step of an inclusion proof. Sibling is the hash combined
// with the running value at this level; Left indicates the sibling is applied
// on the left during recombination.
type ProofStep struct {
	Sibling Hash `json:"sibling"`
	Left    bool `json:"left"`
}

// Proof is the ordered sibling path from a leaf to the root.
type Proof []ProofStep

// Tree is a binary hash tree over an ordered leaf sequence. The zero leaves
// case yields a tree with no root. Trees are immutable once built.
type Tree struct {
	levels [][]Hash // levels[0] are the leaves, last level holds the root
}

// New builds a tree over leaves. An empty sequence is legal and yields a tree
// whose Root reports absence.
func New(leaves []Hash) *Tree {
	t := &Tree{}
	if len(leaves) == 0 {
		return t
	}

	level := make([]Hash, len(leaves))
	copy(level, leaves)
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left // odd level: last node pairs with itself
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, combine(left, right))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Root returns the root hash, or ok=false for an empty tree.
func (t *Tree) Root() (Hash, bool) {
	if len(t.levels) == 0 {
		return Hash{}, false
	}
	top := t.levels[len(t.levels)-1]
	return top[0], true
}

// LeafCount returns the number of leaves the tree was built over.
func (t *Tree) LeafCount() int {
	if len(t.levels) == 0 {
		return 0
	}
	return len(t.levels[0])
}

// Prove returns the inclusion proof for the leaf at index. Out-of-range
// indices return an empty proof; membership questions are queries, not errors.
func (t *Tree) Prove(index int) Proof {
	if len(t.levels) == 0 || index < 0 || index >= len(t.levels[0]) {
		return Proof{}
	}

	proof := make(Proof, 0, len(t.levels)-1)
	pos := index
	for _, level := range t.levels[:len(t.levels)-1] {
		sib := pos ^ 1
		if sib >= len(level) {
			sib = pos // duplicated last node is its own sibling
		}
		proof = append(proof, ProofStep{
			Sibling: level[sib],
			Left:    sib < pos,
		})
		pos /= 2
	}
	return proof
}

// Verify recombines leaf with each proof step in order and compares the final
// value against claimedRoot in constant time. A wrong answer is false, never
// an error.
func Verify(leaf Hash, proof Proof, claimedRoot Hash) bool {
	current := leaf
	for _, step := range proof {
		if step.Left {
			current = combine(step.Sibling, current)
		} else {
			current = combine(current, step.Sibling)
		}
	}
	return subtle.ConstantTimeCompare(current[:], claimedRoot[:]) == 1
}

// combine hashes the concatenation of two child hashes.
func combine(left, right Hash) Hash {
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
