package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFundNotFound is returned when an operation targets an uninitialized fund.
var ErrFundNotFound = errors.New("fund not initialized")

// ErrFundExists is returned when InitializeFund hits an existing fund.
var ErrFundExists = errors.New("fund already initialized")

// ErrManagerNotFound is returned when a removal targets a manager that has
// no allocation in the fund.
var ErrManagerNotFound = errors.New("manager not found")

// ValidationError is a user-correctable rejection. The reasons carry the
// offending values formatted to two decimals.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

func newValidationError(reasons ...string) *ValidationError {
	return &ValidationError{Reasons: reasons}
}

// IntegrityError reports a broken post-condition: the capital pools no
// longer reconcile, or the state changed underneath a serialized write.
// It should never occur and is treated as fatal, not retried.
type IntegrityError struct {
	FundType string
	Detail   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation on fund %s: %s", e.FundType, e.Detail)
}
