package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors matched with errors.Is against a *DatabaseError.
var (
	ErrUniqueViolation     = errors.New("unique constraint violated")
	ErrInvalidReference    = errors.New("invalid reference")
	ErrCheckViolation      = errors.New("check constraint violated")
	ErrDatabaseUnavailable = errors.New("database unavailable")
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// DatabaseError wraps a driver failure with its SQLSTATE code.
type DatabaseError struct {
	Op         string
	Code       string
	Constraint string
	Err        error
}

func (e *DatabaseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: [%s] %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

func (e *DatabaseError) Is(target error) bool {
	switch target {
	case ErrUniqueViolation:
		return e.Code == codeUniqueViolation
	case ErrInvalidReference:
		return e.Code == codeForeignKeyViolation
	case ErrCheckViolation:
		return e.Code == codeCheckViolation
	case ErrDatabaseUnavailable:
		return strings.HasPrefix(e.Code, "08") || e.Code == "57P03" || isConnectFailure(e.Err)
	}
	return false
}

// IsUniqueViolation reports whether err is a duplicate key error.
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// wrapError converts driver errors into *DatabaseError. Context errors and nil pass through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return err
	}

	wrapped := &DatabaseError{Op: op, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		wrapped.Code = pgErr.Code
		wrapped.Constraint = pgErr.ConstraintName
	}
	return wrapped
}

func isConnectFailure(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errAcquireTimeout) || pgconn.SafeToRetry(err)
}
