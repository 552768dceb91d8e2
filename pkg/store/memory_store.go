package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"intellimed/pkg/domain"
)

// MemoryStore implements Store in process memory for tests and local runs.
type MemoryStore struct {
	mu sync.Mutex

	nextUserID int64
	nextLinkID int64
	nextDocID  int64

	users     map[int64]domain.User
	byEmail   map[string]int64
	links     map[string]domain.Link
	documents map[int64]domain.Document
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]domain.User),
		byEmail:   make(map[string]int64),
		links:     make(map[string]domain.Link),
		documents: make(map[int64]domain.Document),
	}
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return domain.User{}, false, nil
	}
	return s.users[id], true, nil
}

func (s *MemoryStore) FindUserByID(_ context.Context, id int64) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[u.Email]; exists {
		return domain.User{}, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	}
	s.nextUserID++
	u.ID = s.nextUserID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return u, nil
}

func (s *MemoryStore) ListPatients(_ context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0)
	for _, u := range s.users {
		if u.Role == domain.RolePatient {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out, nil
}

func (s *MemoryStore) CreateDocument(_ context.Context, d domain.Document) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDocID++
	d.ID = s.nextDocID
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now().UTC()
	}
	s.documents[d.ID] = cloneDocument(d)
	return cloneDocument(d), nil
}

func (s *MemoryStore) FindDocumentsByPatient(_ context.Context, patientID int64) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Document, 0)
	for _, d := range s.documents {
		if d.PatientID == patientID {
			out = append(out, cloneDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadedAt.Before(out[j].UploadedAt)
	})
	return out, nil
}

func (s *MemoryStore) FindDocumentByID(_ context.Context, id int64) (domain.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return domain.Document{}, false, nil
	}
	return cloneDocument(d), true, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	delete(s.documents, id)
	return nil
}

func (s *MemoryStore) CreateLink(_ context.Context, l domain.Link) (domain.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.links[l.AccessCode]; exists {
		return domain.Link{}, fmt.Errorf("access code collision: %w", domain.ErrConflict)
	}
	s.nextLinkID++
	l.ID = s.nextLinkID
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	s.links[l.AccessCode] = l
	return l, nil
}

func (s *MemoryStore) FindLinkByCode(_ context.Context, code string) (domain.Link, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[code]
	return l, ok, nil
}

func (s *MemoryStore) UpdateLinkDoctor(_ context.Context, code string, doctorID int64) (domain.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[code]
	if !ok || l.Bound() {
		return domain.Link{}, fmt.Errorf("access code: %w", domain.ErrNotFound)
	}
	now := time.Now().UTC()
	id := doctorID
	l.DoctorID = &id
	l.LinkedAt = &now
	s.links[code] = l
	return l, nil
}

func (s *MemoryStore) HasBoundLink(_ context.Context, doctorID, patientID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.PatientID == patientID && l.DoctorID != nil && *l.DoctorID == doctorID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListLinkedPatients(_ context.Context, doctorID int64) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]struct{})
	out := make([]domain.User, 0)
	for _, l := range s.links {
		if l.DoctorID == nil || *l.DoctorID != doctorID {
			continue
		}
		if _, dup := seen[l.PatientID]; dup {
			continue
		}
		seen[l.PatientID] = struct{}{}
		if u, ok := s.users[l.PatientID]; ok && u.Role == domain.RolePatient {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out, nil
}

func sortUsers(users []domain.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}

func cloneDocument(d domain.Document) domain.Document {
	if d.Analysis != nil {
		a := *d.Analysis
		if d.Analysis.NLPEntities != nil {
			a.NLPEntities = make([]domain.Entity, len(d.Analysis.NLPEntities))
			copy(a.NLPEntities, d.Analysis.NLPEntities)
		}
		d.Analysis = &a
	}
	return d
}
