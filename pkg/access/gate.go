package access

import (
	"context"
	"fmt"

	"intellimed/pkg/domain"
)

// LinkChecker answers whether a doctor holds a bound link to a patient.
type LinkChecker interface {
	HasBoundLink(ctx context.Context, doctorID, patientID int64) (bool, error)
}

// Gate decides document access by combining roles with ownership and links.
type Gate struct {
	links LinkChecker
}

// NewGate builds a gate backed by the given link lookup.
func NewGate(links LinkChecker) *Gate {
	return &Gate{links: links}
}

// CanReadDocuments reports whether p may read the documents of patientID.
func (g *Gate) CanReadDocuments(ctx context.Context, p domain.Principal, patientID int64) (bool, error) {
	switch p.Role {
	case domain.RoleAdmin:
		return true, nil
	case domain.RolePatient:
		return p.ID == patientID, nil
	case domain.RoleDoctor:
		ok, err := g.links.HasBoundLink(ctx, p.ID, patientID)
		if err != nil {
			return false, fmt.Errorf("check link: %w", err)
		}
		return ok, nil
	default:
		return false, nil
	}
}

// CanWriteDocument allows only the owning patient to add documents.
func CanWriteDocument(p domain.Principal, patientID int64) bool {
	return p.Role == domain.RolePatient && p.ID == patientID
}

// CanDeleteDocument allows only the owning patient to remove a document.
func CanDeleteDocument(p domain.Principal, doc domain.Document) bool {
	return p.Role == domain.RolePatient && p.ID == doc.PatientID
}
