package ledger

import "fmt"

// ValidationError rejects a malformed event before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger validation: %s: %s", e.Field, e.Reason)
}

// IntegrityError reports a hash or chain mismatch. It is surfaced, never
// auto-corrected.
type IntegrityError struct {
	EventID string
	Reason  string
}

func (e *IntegrityError) Error() string {
	if e.EventID == "" {
		return "ledger integrity: " + e.Reason
	}
	return fmt.Sprintf("ledger integrity: event %s: %s", e.EventID, e.Reason)
}
