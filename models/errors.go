package models

import (
	"github.com/pkg/errors"
)

// Validation errors.
var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrWeakPassword    = errors.New("password must be at least 8 characters long with at least one uppercase letter and one special character")
	ErrInvalidEmail    = errors.New("invalid email")
	ErrInvalidPhone    = errors.New("phone number must be exactly 10 digits")
	ErrEmptySkill      = errors.New("skill must not be empty")
	ErrEmptyMessage    = errors.New("message text required")
)

// State errors. Returning one of these guarantees nothing was mutated.
var (
	ErrUsernameTaken       = errors.New("username already exists")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrUnknownUser         = errors.New("user not found")
	ErrDuplicateSkill      = errors.New("skill already listed")
	ErrConflictingSkill    = errors.New("skill cannot be both offered and needed")
	ErrNoNeedsDefined      = errors.New("no skills to learn defined")
	ErrSelfConnection      = errors.New("cannot connect with yourself")
	ErrDuplicateRequest    = errors.New("connection request already pending")
	ErrInvalidNotification = errors.New("invalid notification")
	ErrNoSuchConnection    = errors.New("no such connection")
)

// PersistenceError reports a failed write. The in-memory change it
// accompanies has already been applied and is kept.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persist " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Persist wraps a non-nil repository error into a *PersistenceError.
func Persist(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidUsername, "invalid_username"},
	{ErrWeakPassword, "weak_password"},
	{ErrInvalidEmail, "invalid_email"},
	{ErrInvalidPhone, "invalid_phone"},
	{ErrEmptySkill, "empty_skill"},
	{ErrEmptyMessage, "empty_message"},
	{ErrUsernameTaken, "username_taken"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrNotAuthenticated, "not_authenticated"},
	{ErrUnknownUser, "unknown_user"},
	{ErrDuplicateSkill, "duplicate_skill"},
	{ErrConflictingSkill, "conflicting_skill"},
	{ErrNoNeedsDefined, "no_needs_defined"},
	{ErrSelfConnection, "self_connection"},
	{ErrDuplicateRequest, "duplicate_request"},
	{ErrInvalidNotification, "invalid_notification"},
	{ErrNoSuchConnection, "no_such_connection"},
}

// Code maps an error to the stable identifier sent to clients.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var perr *PersistenceError
	if errors.As(err, &perr) {
		return "persistence"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
