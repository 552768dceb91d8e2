package app

import (
	"fmt"

	"intellimed/pkg/domain"
)

var (
	ErrEmailAndPasswordRequired = fmt.Errorf("%w: email and password required", domain.ErrInvalidInput)
	ErrNameRequired             = fmt.Errorf("%w: name required", domain.ErrInvalidInput)
	ErrEmailAlreadyExists       = fmt.Errorf("%w: email already registered", domain.ErrConflict)

	// ErrRegistrationCodeInvalid is returned when a doctor signs up without the shared registration code.
	ErrRegistrationCodeInvalid = fmt.Errorf("%w: invalid doctor registration code", domain.ErrForbidden)

	// ErrAccessCodeInvalid covers unknown and already redeemed codes alike.
	ErrAccessCodeInvalid = fmt.Errorf("%w: invalid or already used access code", domain.ErrNotFound)

	ErrAccessCodeRequired = fmt.Errorf("%w: access code required", domain.ErrInvalidInput)
	ErrDocumentNotFound   = fmt.Errorf("%w: document not found", domain.ErrNotFound)
	ErrFileRequired       = fmt.Errorf("%w: file required", domain.ErrInvalidInput)
	ErrFileTooLarge       = fmt.Errorf("%w: file too large", domain.ErrInvalidInput)
	ErrFederatedDisabled  = fmt.Errorf("%w: federated sign-in not configured", domain.ErrRoleNotAllowed)
	ErrIDTokenRequired    = fmt.Errorf("%w: id token required", domain.ErrInvalidInput)
)
