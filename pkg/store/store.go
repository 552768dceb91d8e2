package store

import (
	"context"

	"intellimed/pkg/domain"
)

// Store defines persistence operations for users, links, and documents.
// Lookups return ok=false when nothing matches; writes report domain.ErrConflict
// on uniqueness violations and domain.ErrNotFound when the target row is absent.
type Store interface {
	// users
	FindUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	FindUserByID(ctx context.Context, id int64) (domain.User, bool, error)
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	ListPatients(ctx context.Context) ([]domain.User, error)

	// documents
	CreateDocument(ctx context.Context, d domain.Document) (domain.Document, error)
	FindDocumentsByPatient(ctx context.Context, patientID int64) ([]domain.Document, error)
	FindDocumentByID(ctx context.Context, id int64) (domain.Document, bool, error)
	DeleteDocument(ctx context.Context, id int64) error

	// links
	CreateLink(ctx context.Context, l domain.Link) (domain.Link, error)
	FindLinkByCode(ctx context.Context, code string) (domain.Link, bool, error)
	// UpdateLinkDoctor binds doctorID to the link only while it is unbound.
	// An unknown code and an already bound code both yield domain.ErrNotFound.
	UpdateLinkDoctor(ctx context.Context, code string, doctorID int64) (domain.Link, error)
	HasBoundLink(ctx context.Context, doctorID, patientID int64) (bool, error)
	ListLinkedPatients(ctx context.Context, doctorID int64) ([]domain.User, error)
}
