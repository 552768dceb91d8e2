package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"intellimed/pkg/access"
	"intellimed/pkg/domain"
)

const accessCodeBytes = 3

// GenerateCode issues a one-time access code a doctor can redeem to link to the patient.
func (a *App) GenerateCode(ctx context.Context, p domain.Principal) (string, error) {
	if _, err := access.Require(p, domain.RolePatient); err != nil {
		return "", err
	}
	// Admin passes Require but owns no patient record.
	if p.Role != domain.RolePatient {
		return "", &domain.ForbiddenError{Required: domain.RolePatient, Actual: p.Role}
	}
	code, err := a.newCode()
	if err != nil {
		return "", err
	}
	// A colliding code fails the call; the existing link is never touched.
	if _, err := a.store.CreateLink(ctx, domain.Link{
		PatientID:  p.ID,
		AccessCode: code,
		CreatedAt:  a.now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("create link: %w", err)
	}
	return code, nil
}

// RedeemCode binds the doctor to the patient that issued code.
// Unknown and already redeemed codes are indistinguishable.
func (a *App) RedeemCode(ctx context.Context, p domain.Principal, code string) (domain.Link, error) {
	if _, err := access.Require(p, domain.RoleDoctor); err != nil {
		return domain.Link{}, err
	}
	if p.Role != domain.RoleDoctor {
		return domain.Link{}, &domain.ForbiddenError{Required: domain.RoleDoctor, Actual: p.Role}
	}
	code = normalizeAccessCode(code)
	if code == "" {
		return domain.Link{}, ErrAccessCodeRequired
	}
	link, err := a.store.UpdateLinkDoctor(ctx, code, p.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Link{}, ErrAccessCodeInvalid
		}
		return domain.Link{}, fmt.Errorf("redeem access code: %w", err)
	}
	a.logger.InfoContext(ctx, "patient linked", "doctor_id", p.ID, "patient_id", link.PatientID)
	return link, nil
}

// ListLinkedPatients returns the patients a doctor may read; admin sees every patient.
func (a *App) ListLinkedPatients(ctx context.Context, p domain.Principal) ([]domain.User, error) {
	if _, err := access.Require(p, domain.RoleDoctor); err != nil {
		return nil, err
	}
	if p.Role == domain.RoleAdmin {
		patients, err := a.store.ListPatients(ctx)
		if err != nil {
			return nil, fmt.Errorf("list patients: %w", err)
		}
		return patients, nil
	}
	patients, err := a.store.ListLinkedPatients(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list linked patients: %w", err)
	}
	return patients, nil
}

func newAccessCode() (string, error) {
	buf := make([]byte, accessCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

func normalizeAccessCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
