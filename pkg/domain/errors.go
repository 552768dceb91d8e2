package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrUnauthenticated    = errors.New("could not validate credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrRoleNotAllowed     = errors.New("role not allowed for this sign-in method")
	ErrRoleMismatch       = errors.New("account role does not match requested role")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrPipelineStage      = errors.New("analysis stage failed")
	ErrInvalidInput       = errors.New("invalid input")
)

// ForbiddenError reports a role mismatch with both sides for diagnostics.
type ForbiddenError struct {
	Required Role
	Actual   Role
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("user with role %q is not authorized; required role %q", e.Actual, e.Required)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}

// StageError wraps the failure of one analysis stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

// Unwrap exposes both the stage failure kind and the underlying cause.
func (e *StageError) Unwrap() []error {
	return []error{ErrPipelineStage, e.Err}
}
