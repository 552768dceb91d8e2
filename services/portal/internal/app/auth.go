package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"intellimed/internal/federated"
	"intellimed/pkg/auth"
	"intellimed/pkg/domain"
)

// Token is a signed bearer token handed to clients.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"-"`
}

// RegisterInput is the self-service sign-up request.
type RegisterInput struct {
	Email            string
	Password         string
	Name             string
	Role             string
	RegistrationCode string
}

const adminName = "Admin"

// IssueToken verifies email and password and signs a bearer token.
// Unknown emails and wrong passwords fail identically.
func (a *App) IssueToken(ctx context.Context, email, password string) (Token, domain.Principal, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Token{}, domain.Principal{}, domain.ErrInvalidCredentials
	}
	if a.isAdminEmail(email) {
		if subtle.ConstantTimeCompare([]byte(password), []byte(a.adminPassword)) != 1 {
			return Token{}, domain.Principal{}, domain.ErrInvalidCredentials
		}
		principal := a.adminPrincipal()
		token, err := a.sign(principal)
		if err != nil {
			return Token{}, domain.Principal{}, err
		}
		return token, principal, nil
	}

	user, ok, err := a.store.FindUserByEmail(ctx, email)
	if err != nil {
		return Token{}, domain.Principal{}, fmt.Errorf("find user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return Token{}, domain.Principal{}, domain.ErrInvalidCredentials
	}
	principal := user.Principal()
	token, err := a.sign(principal)
	if err != nil {
		return Token{}, domain.Principal{}, err
	}
	return token, principal, nil
}

// Resolve verifies a bearer token and returns the principal it names.
func (a *App) Resolve(ctx context.Context, token string) (domain.Principal, error) {
	session, err := a.sessions.ParseSession(token)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	email := normalizeEmail(session.Email)
	if session.Role == domain.RoleAdmin && a.isAdminEmail(email) {
		return a.adminPrincipal(), nil
	}
	user, ok, err := a.store.FindUserByEmail(ctx, email)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("find user: %w", err)
	}
	if !ok {
		return domain.Principal{}, fmt.Errorf("%w: subject no longer exists", domain.ErrUnauthenticated)
	}
	return user.Principal(), nil
}

// GoogleLogin verifies a Google ID token and signs a patient token for it.
func (a *App) GoogleLogin(ctx context.Context, idToken string, requestedRole string) (Token, domain.Principal, error) {
	role, err := externalRole(requestedRole)
	if err != nil {
		return Token{}, domain.Principal{}, err
	}
	if a.verifier == nil {
		return Token{}, domain.Principal{}, ErrFederatedDisabled
	}
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return Token{}, domain.Principal{}, ErrIDTokenRequired
	}
	identity, err := a.verifier.Verify(ctx, idToken)
	if err != nil {
		return Token{}, domain.Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	return a.IssueTokenForExternalIdentity(ctx, identity, role)
}

// IssueTokenForExternalIdentity signs a token for an identity verified upstream.
// Only patients may sign in this way; a missing account is created on first use.
func (a *App) IssueTokenForExternalIdentity(ctx context.Context, identity federated.Identity, requestedRole domain.Role) (Token, domain.Principal, error) {
	if _, err := externalRole(string(requestedRole)); err != nil {
		return Token{}, domain.Principal{}, err
	}
	email := normalizeEmail(identity.Email)
	subject := strings.TrimSpace(identity.Subject)
	if email == "" || subject == "" {
		return Token{}, domain.Principal{}, fmt.Errorf("%w: identity email and subject required", domain.ErrInvalidInput)
	}
	if a.isAdminEmail(email) {
		return Token{}, domain.Principal{}, fmt.Errorf("%w: account is %s", domain.ErrRoleMismatch, domain.RoleAdmin)
	}

	user, err := a.findOrCreateExternalUser(ctx, email, subject, identity.Name)
	if err != nil {
		return Token{}, domain.Principal{}, err
	}
	if user.Role != domain.RolePatient {
		return Token{}, domain.Principal{}, fmt.Errorf("%w: account is %s", domain.ErrRoleMismatch, user.Role)
	}
	principal := user.Principal()
	token, err := a.sign(principal)
	if err != nil {
		return Token{}, domain.Principal{}, err
	}
	return token, principal, nil
}

// Register creates a patient or doctor account.
func (a *App) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return domain.User{}, ErrEmailAndPasswordRequired
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.User{}, ErrNameRequired
	}
	role, ok := domain.ParseRole(in.Role)
	if !ok || role == domain.RoleAdmin {
		return domain.User{}, fmt.Errorf("%w: role must be patient or doctor", domain.ErrInvalidInput)
	}
	if a.isAdminEmail(email) {
		return domain.User{}, ErrEmailAlreadyExists
	}
	if role == domain.RoleDoctor && !a.validDoctorCode(in.RegistrationCode) {
		return domain.User{}, ErrRegistrationCodeInvalid
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := a.store.CreateUser(ctx, domain.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    a.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.User{}, ErrEmailAlreadyExists
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (a *App) findOrCreateExternalUser(ctx context.Context, email, subject, name string) (domain.User, error) {
	user, ok, err := a.store.FindUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("find user: %w", err)
	}
	if ok {
		return user, nil
	}
	// The subject hash keeps the account usable for password verification later.
	hash, err := auth.HashPassword(subject)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash subject: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email
		if at := strings.IndexByte(email, '@'); at > 0 {
			name = email[:at]
		}
	}
	user, err = a.store.CreateUser(ctx, domain.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         domain.RolePatient,
		CreatedAt:    a.now().UTC(),
	})
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	// Lost a race with a concurrent first sign-in.
	user, ok, err = a.store.FindUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("find user: %w", err)
	}
	if !ok {
		return domain.User{}, fmt.Errorf("create user: %w", domain.ErrConflict)
	}
	return user, nil
}

func (a *App) sign(p domain.Principal) (Token, error) {
	signed, expiresAt, err := a.sessions.NewSession(p.Email, p.Role)
	if err != nil {
		return Token{}, fmt.Errorf("issue token: %w", err)
	}
	return Token{AccessToken: signed, TokenType: "bearer", ExpiresAt: expiresAt}, nil
}

func (a *App) isAdminEmail(email string) bool {
	return a.adminEmail != "" && email == a.adminEmail
}

func (a *App) adminPrincipal() domain.Principal {
	return domain.Principal{
		ID:    domain.AdminPrincipalID,
		Email: a.adminEmail,
		Name:  adminName,
		Role:  domain.RoleAdmin,
	}
}

func (a *App) validDoctorCode(code string) bool {
	if a.doctorCode == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(code)), []byte(a.doctorCode)) == 1
}

// externalRole accepts only the patient role; an empty request means patient.
func externalRole(raw string) (domain.Role, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.RolePatient, nil
	}
	role, ok := domain.ParseRole(raw)
	if !ok || role != domain.RolePatient {
		return "", fmt.Errorf("%w: google sign-in is only available for patients", domain.ErrRoleNotAllowed)
	}
	return role, nil
}
