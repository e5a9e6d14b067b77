package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a resource missing or belonging to another tenant.
	// Cross-tenant lookups always surface as not-found.
	ErrNotFound = errors.New("not found")
)

// BusinessRuleError rejects an operation before any write happens.
type BusinessRuleError struct {
	Rule   string
	Detail string
}

func (e *BusinessRuleError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("business rule violation: %s", e.Rule)
	}
	return fmt.Sprintf("business rule violation: %s: %s", e.Rule, e.Detail)
}

// BusinessRule builds a BusinessRuleError with a formatted detail.
func BusinessRule(rule, format string, args ...any) error {
	return &BusinessRuleError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// IsBusinessRule reports whether err is a BusinessRuleError.
func IsBusinessRule(err error) bool {
	var bre *BusinessRuleError
	return errors.As(err, &bre)
}

// ExternalServiceError wraps a failure from an external collaborator.
// Callers retry these with backoff before downgrading to a safe default.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// ConsistencyError indicates monetary bookkeeping that does not balance.
// Always a hard failure, never silently corrected.
type ConsistencyError struct {
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation: %s", e.Detail)
}

// Consistency builds a ConsistencyError with a formatted detail.
func Consistency(format string, args ...any) error {
	return &ConsistencyError{Detail: fmt.Sprintf(format, args...)}
}
