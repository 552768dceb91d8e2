package access

import (
	"context"
	"errors"
	"testing"

	"intellimed/pkg/domain"
)

type fakeLinks map[[2]int64]bool

func (f fakeLinks) HasBoundLink(_ context.Context, doctorID, patientID int64) (bool, error) {
	return f[[2]int64{doctorID, patientID}], nil
}

type failingLinks struct{}

func (failingLinks) HasBoundLink(context.Context, int64, int64) (bool, error) {
	return false, errors.New("db down")
}

func TestRequire(t *testing.T) {
	patient := domain.Principal{ID: 1, Role: domain.RolePatient}
	doctor := domain.Principal{ID: 2, Role: domain.RoleDoctor}
	admin := domain.Principal{ID: domain.AdminPrincipalID, Role: domain.RoleAdmin}

	if _, err := Require(patient, domain.RolePatient); err != nil {
		t.Fatalf("patient should satisfy patient: %v", err)
	}
	if _, err := Require(admin, domain.RoleDoctor); err != nil {
		t.Fatalf("admin should satisfy any role: %v", err)
	}
	_, err := Require(doctor, domain.RolePatient)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	var fe *domain.ForbiddenError
	if !errors.As(err, &fe) || fe.Required != domain.RolePatient || fe.Actual != domain.RoleDoctor {
		t.Fatalf("unexpected forbidden detail: %+v", fe)
	}
}

func TestCanReadDocuments(t *testing.T) {
	gate := NewGate(fakeLinks{{20, 10}: true})
	ctx := context.Background()

	tests := []struct {
		name      string
		principal domain.Principal
		patientID int64
		want      bool
	}{
		{"admin reads anyone", domain.Principal{Role: domain.RoleAdmin}, 10, true},
		{"patient reads own", domain.Principal{ID: 10, Role: domain.RolePatient}, 10, true},
		{"patient cannot read other", domain.Principal{ID: 11, Role: domain.RolePatient}, 10, false},
		{"linked doctor reads", domain.Principal{ID: 20, Role: domain.RoleDoctor}, 10, true},
		{"unlinked doctor denied", domain.Principal{ID: 21, Role: domain.RoleDoctor}, 10, false},
		{"doctor with same id as patient denied", domain.Principal{ID: 10, Role: domain.RoleDoctor}, 10, false},
		{"unknown role denied", domain.Principal{ID: 10, Role: "nurse"}, 10, false},
	}
	for _, tt := range tests {
		got, err := gate.CanReadDocuments(ctx, tt.principal, tt.patientID)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}

func TestCanReadDocumentsPropagatesLookupError(t *testing.T) {
	gate := NewGate(failingLinks{})
	if _, err := gate.CanReadDocuments(context.Background(), domain.Principal{ID: 1, Role: domain.RoleDoctor}, 2); err == nil {
		t.Fatalf("expected lookup error")
	}
}

func TestWriteAndDeleteOnlyByOwningPatient(t *testing.T) {
	owner := domain.Principal{ID: 5, Role: domain.RolePatient}
	other := domain.Principal{ID: 6, Role: domain.RolePatient}
	doctor := domain.Principal{ID: 5, Role: domain.RoleDoctor}
	admin := domain.Principal{Role: domain.RoleAdmin}
	doc := domain.Document{ID: 1, PatientID: 5}

	if !CanWriteDocument(owner, 5) || !CanDeleteDocument(owner, doc) {
		t.Fatalf("owner should write and delete")
	}
	for _, p := range []domain.Principal{other, doctor, admin} {
		if CanWriteDocument(p, 5) {
			t.Fatalf("%+v must not write", p)
		}
		if CanDeleteDocument(p, doc) {
			t.Fatalf("%+v must not delete", p)
		}
	}
}
