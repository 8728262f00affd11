// Package errs defines the tagged error returned by the workflows. The HTTP
// boundary switches on Kind; it never inspects message text.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindAlreadyVerified
	KindUnauthorized
	KindRateLimited
	KindEmailServiceUnavailable
	KindEmailConfig
	KindEmailAuth
	KindDelivery
	KindDatabase
	KindDatabaseUnavailable
)

var kindNames = map[Kind]string{
	KindInternal:                "internal",
	KindValidation:              "validation",
	KindConflict:                "conflict",
	KindNotFound:                "not_found",
	KindAlreadyVerified:         "already_verified",
	KindUnauthorized:            "unauthorized",
	KindRateLimited:             "rate_limited",
	KindEmailServiceUnavailable: "email_service_unavailable",
	KindEmailConfig:             "email_config",
	KindEmailAuth:               "email_auth",
	KindDelivery:                "delivery",
	KindDatabase:                "database",
	KindDatabaseUnavailable:     "database_unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries a Kind, a stable machine code and a user-facing (French) message.
// Fields holds per-field validation messages.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind and, when the target sets one, Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Validation builds a KindValidation error carrying field messages.
func Validation(code, message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message, Fields: fields}
}

// As extracts the tagged error from err. Untagged errors come back as KindInternal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: MsgInternal, Err: err}
}

// KindOf is shorthand for As(err).Kind.
func KindOf(err error) Kind {
	return As(err).Kind
}

// Stable response codes.
const (
	CodeValidation              = "VALIDATION_ERROR"
	CodeEmailAlreadyExists      = "EMAIL_ALREADY_EXISTS"
	CodeInvalidToken            = "INVALID_TOKEN"
	CodeTokenNotFound           = "TOKEN_NOT_FOUND"
	CodeEmailNotFound           = "EMAIL_NOT_FOUND"
	CodeAlreadyVerified         = "ALREADY_VERIFIED"
	CodeInvalidEmail            = "INVALID_EMAIL"
	CodeNotFoundOrUnsubscribed  = "NOT_FOUND_OR_UNSUBSCRIBED"
	CodeEmailServiceUnavailable = "EMAIL_SERVICE_UNAVAILABLE"
	CodeEmailConfigError        = "EMAIL_CONFIG_ERROR"
	CodeEmailAuthError          = "EMAIL_AUTH_ERROR"
	CodeContactError            = "CONTACT_ERROR"
	CodeEventRequired           = "EVENT_REQUIRED"
	CodeInvalidEventName        = "INVALID_EVENT_NAME"
	CodeAuthRequired            = "AUTH_REQUIRED"
	CodeInvalidMaintenanceToken = "INVALID_MAINTENANCE_TOKEN"
	CodeDuplicateEntry          = "DUPLICATE_ENTRY"
	CodeInvalidReference        = "INVALID_REFERENCE"
	CodeConstraintViolation     = "CONSTRAINT_VIOLATION"
	CodeDatabaseConnection      = "DATABASE_CONNECTION_ERROR"
	CodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	CodeInternal                = "INTERNAL_ERROR"
)

// Default messages shown to clients.
const (
	MsgValidation         = "Données invalides"
	MsgInternal           = "Erreur interne du serveur"
	MsgDuplicateEntry     = "Cette donnée existe déjà"
	MsgInvalidReference   = "Référence de données invalide"
	MsgConstraint         = "Violation de contrainte de données"
	MsgDatabaseConnection = "Service temporairement indisponible"
)
