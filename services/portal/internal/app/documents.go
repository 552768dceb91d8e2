package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"intellimed/pkg/access"
	"intellimed/pkg/analysis"
	"intellimed/pkg/domain"
	"intellimed/pkg/storage"
)

// UploadInput describes one artifact uploaded by a patient.
type UploadInput struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Upload stores a patient's artifact, analyzes it and records the document.
// Nothing is persisted when a stage fails.
func (a *App) Upload(ctx context.Context, p domain.Principal, in UploadInput) (domain.Document, error) {
	if !access.CanWriteDocument(p, p.ID) {
		return domain.Document{}, &domain.ForbiddenError{Required: domain.RolePatient, Actual: p.Role}
	}
	if in.Body == nil {
		return domain.Document{}, ErrFileRequired
	}
	content, err := io.ReadAll(io.LimitReader(in.Body, a.maxUploadBytes+1))
	if err != nil {
		return domain.Document{}, fmt.Errorf("read upload: %w", err)
	}
	if len(content) == 0 {
		return domain.Document{}, ErrFileRequired
	}
	if int64(len(content)) > a.maxUploadBytes {
		return domain.Document{}, ErrFileTooLarge
	}
	filename := cleanFilename(in.Filename)
	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := storage.ArtifactKey(p.ID, filename)
	if err := a.artifacts.Put(ctx, key, bytes.NewReader(content), int64(len(content)), contentType); err != nil {
		return domain.Document{}, fmt.Errorf("store artifact: %w", err)
	}
	result, err := a.pipeline.Run(ctx, analysis.Artifact{
		Key:         key,
		Filename:    filename,
		ContentType: contentType,
		Content:     content,
	})
	if err != nil {
		a.discardArtifact(ctx, key)
		return domain.Document{}, err
	}
	doc, err := a.store.CreateDocument(ctx, domain.Document{
		PatientID:   p.ID,
		Filename:    filename,
		StorageKey:  key,
		ContentType: contentType,
		SizeBytes:   int64(len(content)),
		UploadedAt:  a.now().UTC(),
		Analysis:    &result,
	})
	if err != nil {
		a.discardArtifact(ctx, key)
		return domain.Document{}, fmt.Errorf("create document: %w", err)
	}
	a.logger.InfoContext(ctx, "document uploaded", "document_id", doc.ID, "patient_id", p.ID, "size", doc.SizeBytes)
	return doc, nil
}

// ListDocuments returns a patient's documents when the gate allows p to read them.
func (a *App) ListDocuments(ctx context.Context, p domain.Principal, patientID int64) ([]domain.Document, error) {
	ok, err := a.gate.CanReadDocuments(ctx, p, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no access to patient %d documents", domain.ErrForbidden, patientID)
	}
	docs, err := a.store.FindDocumentsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes one of the patient's own documents and its artifact.
// Documents owned by someone else look missing.
func (a *App) DeleteDocument(ctx context.Context, p domain.Principal, documentID int64) error {
	if p.Role != domain.RolePatient {
		return &domain.ForbiddenError{Required: domain.RolePatient, Actual: p.Role}
	}
	doc, ok, err := a.store.FindDocumentByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("find document: %w", err)
	}
	if !ok || !access.CanDeleteDocument(p, doc) {
		return ErrDocumentNotFound
	}
	if err := a.store.DeleteDocument(ctx, doc.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("delete document: %w", err)
	}
	if doc.StorageKey != "" {
		if err := a.artifacts.Delete(ctx, doc.StorageKey); err != nil {
			a.logger.ErrorContext(ctx, "delete artifact failed", "document_id", doc.ID, "key", doc.StorageKey, "err", err)
		}
	}
	return nil
}

func (a *App) discardArtifact(ctx context.Context, key string) {
	if err := a.artifacts.Delete(ctx, key); err != nil {
		a.logger.ErrorContext(ctx, "discard artifact failed", "key", key, "err", err)
	}
}

func cleanFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "." || name == ".." || name == "/" || name == "" {
		return "document"
	}
	return name
}
