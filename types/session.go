package types

import (
	"errors"
	"fmt"
)

// SessionMeta carries session/query identity through logging and metrics,
// the same role the teacher's RunMeta plays for a scrape run: every log
// line and metric emitted while evaluating a Query is tagged with it.
type SessionMeta struct {
	// SessionID is the canonical session identifier. Must be globally
	// unique.
	SessionID string
	// QueryID is the logical identifier of the query running within the
	// session. May be empty if not yet assigned.
	QueryID string
	// Attempt is the attempt number for this query, starting at 1.
	Attempt int
}

// Validate enforces the same attempt/lineage invariant the teacher's
// RunMeta enforced for retried runs: attempt 1 has no predecessor context
// beyond the session, attempt > 1 means this query is a retry.
func (m *SessionMeta) Validate() error {
	if m.SessionID == "" {
		return errors.New("types: session_id must be non-empty")
	}
	if m.Attempt < 1 {
		return fmt.Errorf("types: attempt must be >= 1, got %d", m.Attempt)
	}
	return nil
}

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	SessionStateOpen    SessionState = "open"
	SessionStateClosing SessionState = "closing"
	SessionStateClosed  SessionState = "closed"
)

// QueryOutcomeStatus is the final status of one Query evaluation.
type QueryOutcomeStatus string

const (
	QueryOutcomeSuccess   QueryOutcomeStatus = "success"
	QueryOutcomeFailed    QueryOutcomeStatus = "failed"
	QueryOutcomeCancelled QueryOutcomeStatus = "cancelled"
)

// QueryOutcome is the terminal result of running a Query to completion.
type QueryOutcome struct {
	Status QueryOutcomeStatus
	Value  Value
	Err    error
}
