// Package gate implements the action-approval authority: every irreversible
// action is registered here, challenged with a keyed hash, and may only run
// through ExecuteGuarded once a matching approval has been presented.
package gate

import (
	"errors"
	"fmt"
	"time"
)

// Level classifies how consequential an action is. Levels are ordered;
// LevelExecute and above require gating.
type Level int

const (
	LevelRead Level = iota
	LevelPlan
	LevelExecute
	LevelMutate
)

var levelNames = [...]string{"read", "plan", "execute", "mutate"}

func (l Level) String() string {
	if l < LevelRead || l > LevelMutate {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// RequiresApproval reports whether actions at this level are gated at all.
func (l Level) RequiresApproval() bool {
	return l >= LevelExecute
}

// ParseLevel maps a level name to its Level.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if s == name {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown action level %q", s)
}

// Policy is the process-wide enforcement mode, fixed at construction.
type Policy int

const (
	// PolicyEnforce blocks gated actions until an operator approves.
	PolicyEnforce Policy = iota
	// PolicyAuditOnly never blocks but records every decision as if gated.
	PolicyAuditOnly
	// PolicyDisabled is a transparent passthrough, for tests.
	PolicyDisabled
)

var policyNames = [...]string{"enforce", "audit_only", "disabled"}

func (p Policy) String() string {
	if p < PolicyEnforce || p > PolicyDisabled {
		return fmt.Sprintf("policy(%d)", int(p))
	}
	return policyNames[p]
}

// ParsePolicy maps a policy name to its Policy.
func ParsePolicy(s string) (Policy, error) {
	for i, name := range policyNames {
		if s == name {
			return Policy(i), nil
		}
	}
	return 0, fmt.Errorf("unknown gate policy %q", s)
}

// Status is the lifecycle state of a pending action. The only transitions are
// PENDING → {APPROVED, DENIED, EXPIRED} and APPROVED → EXECUTED; terminal
// states are immutable.
type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusDenied
	StatusExpired
	StatusExecuted
)

var statusNames = [...]string{"pending", "approved", "denied", "expired", "executed"}

func (s Status) String() string {
	if s < StatusPending || s > StatusExecuted {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Outcome is the tagged result of an approval attempt. Policy outcomes are
// expected results of a security check, not errors; callers handle each
// variant explicitly.
type Outcome int

const (
	OutcomeApproved Outcome = iota
	OutcomeDenied
	OutcomeExpired
	OutcomeInvalidSignature
)

var outcomeNames = [...]string{"approved", "denied", "expired", "invalid_signature"}

func (o Outcome) String() string {
	if o < OutcomeApproved || o > OutcomeInvalidSignature {
		return fmt.Sprintf("outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

// Action is one gated request and its approval state. Owned exclusively by
// the gate's in-memory table; copies handed out are snapshots.
type Action struct {
	ID          string    `json:"id"`
	Level       Level     `json:"-"`
	Description string    `json:"description"`
	Command     string    `json:"command,omitempty"`
	Project     string    `json:"project,omitempty"`
	Context     string    `json:"context,omitempty"`
	Status      Status    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	ApprovedAt  time.Time `json:"approved_at,omitzero"`
	ExecutedAt  time.Time `json:"executed_at,omitzero"`
	Challenge   string    `json:"-"` // never serialized; knowing it is the approval
	Operator    string    `json:"operator,omitempty"`
	Result      string    `json:"result,omitempty"`
}

var (
	// ErrActionNotFound is returned for an unknown action id. Unlike policy
	// outcomes this is a structural error, never swallowed.
	ErrActionNotFound = errors.New("action not found")

	// ErrNotApproved is returned by ExecuteGuarded when the action is not in
	// the APPROVED state.
	ErrNotApproved = errors.New("action not approved")

	// ErrExpired is returned by ExecuteGuarded when the approval timed out
	// before execution.
	ErrExpired = errors.New("action expired")
)
