package users

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("users: conflict")
	// ErrInvalidCredentials covers unknown emails, password-less identities and wrong passwords alike.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrInvalidRegistration indicates registration input failed validation.
	ErrInvalidRegistration = errors.New("users: invalid registration")
	// ErrInvalidAssertion indicates a provider assertion lacks a provider, subject or email.
	ErrInvalidAssertion = errors.New("users: invalid provider assertion")
)

// ConflictField names the unique attribute a registration collided on.
type ConflictField string

const (
	ConflictEmail    ConflictField = "email"
	ConflictNickname ConflictField = "nickname"
)

// ConflictError reports a uniqueness violation on a single field.
type ConflictError struct {
	Field ConflictField
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("users: %s already in use", e.Field)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ServiceError wraps store and collaborator failures with an operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew        = "users.service.new"
	opRegisterLocal     = "users.register_local"
	opAuthenticateLocal = "users.authenticate_local"
	opResolveProvider   = "users.resolve_provider"
	opGetIdentity       = "users.get_identity"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
