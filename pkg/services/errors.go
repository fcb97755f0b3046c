package services

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/auth"
)

// Service errors
var (
	ErrConflictNotFound  = errors.New("conflict not found")
	ErrRuleNotFound      = errors.New("priority rule not found")
	ErrAlreadyResolved   = errors.New("conflict already resolved")
	ErrForbidden         = errors.New("insufficient permissions")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// ValidationError represents a validation failure. Validation errors are
// reported to the caller and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ForbiddenError provides authorization failure details, including the
// minimum role that would have been allowed.
type ForbiddenError struct {
	Action       string
	RequiredRole auth.Role
	Reason       string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s requires role %s - %s", e.Action, e.RequiredRole, e.Reason)
}

func (e ForbiddenError) Unwrap() error { return ErrForbidden }

// RateLimitError provides rate limit details
type RateLimitError struct {
	Key    string
	Limit  int
	Window time.Duration
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s (limit: %d per %s)", e.Key, e.Limit, e.Window)
}

func (e RateLimitError) Unwrap() error { return ErrRateLimitExceeded }
