package scoring

import "fmt"

// NumericDomainError rejects out-of-range or non-finite input at the boundary
// of the estimator math.
type NumericDomainError struct {
	Value  float64
	Reason string
}

func (e *NumericDomainError) Error() string {
	return fmt.Sprintf("numeric domain: %s (got %v)", e.Reason, e.Value)
}
