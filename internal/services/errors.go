package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// ErrUnauthenticated means no valid session accompanied the request.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrInvalidCredentials is returned by Login for any unknown email, wrong
// password or inactive account alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ForbiddenError covers missing permissions and hierarchy violations. Rule
// names the check that fired.
type ForbiddenError struct {
	Rule    string
	Message string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden (%s): %s", e.Rule, e.Message)
}

func forbidden(rule, format string, args ...any) *ForbiddenError {
	return &ForbiddenError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// ValidationError carries field-level problems. A mutation that produced one
// has not been applied.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalidField(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError reports a uniqueness collision on Field.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return e.Field + " already exists"
}

// InternalError wraps persistence and crypto failures.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// storeError classifies a gorm error. Errors that already belong to the
// taxonomy pass through untouched.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		forbiddenErr  *ForbiddenError
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		conflictErr   *ConflictError
		internalErr   *InternalError
	)
	switch {
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrInvalidCredentials),
		errors.As(err, &forbiddenErr),
		errors.As(err, &validationErr),
		errors.As(err, &notFoundErr),
		errors.As(err, &conflictErr),
		errors.As(err, &internalErr):
		return err
	}

	return &InternalError{Op: op, Err: err}
}

// isUniqueViolation recognises duplicate keys from both supported dialects.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var errMissingAuditFields = errors.New("module and action are required")
