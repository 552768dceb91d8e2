package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"intellimed/internal/federated"
	"intellimed/pkg/access"
	"intellimed/pkg/analysis"
	"intellimed/pkg/store"
	"intellimed/pkg/storage"
)

// IdentityVerifier validates a third-party ID token and returns the verified identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (federated.Identity, error)
}

// Config holds the collaborators and policy settings of the portal core.
type Config struct {
	Store     store.Store
	Sessions  *store.JWTSessionStore
	Artifacts storage.ArtifactStore
	Pipeline  *analysis.Pipeline
	Verifier  IdentityVerifier
	Logger    *slog.Logger

	AdminEmail             string
	AdminPassword          string
	DoctorRegistrationCode string
	MaxUploadBytes         int64
}

// App is the portal core: authentication, linking and document access.
type App struct {
	store     store.Store
	sessions  *store.JWTSessionStore
	artifacts storage.ArtifactStore
	pipeline  *analysis.Pipeline
	verifier  IdentityVerifier
	gate      *access.Gate
	logger    *slog.Logger

	adminEmail     string
	adminPassword  string
	doctorCode     string
	maxUploadBytes int64
	now            func() time.Time
	newCode        func() (string, error)
}

// New validates the collaborators and builds the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	if cfg.Artifacts == nil {
		return nil, errors.New("artifact store required")
	}
	pipeline := cfg.Pipeline
	if pipeline == nil {
		pipeline = analysis.NewDefaultPipeline()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	adminEmail := normalizeEmail(cfg.AdminEmail)
	if adminEmail != "" && cfg.AdminPassword == "" {
		return nil, fmt.Errorf("admin password required for %s", adminEmail)
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &App{
		store:          cfg.Store,
		sessions:       cfg.Sessions,
		artifacts:      cfg.Artifacts,
		pipeline:       pipeline,
		verifier:       cfg.Verifier,
		gate:           access.NewGate(cfg.Store),
		logger:         logger,
		adminEmail:     adminEmail,
		adminPassword:  cfg.AdminPassword,
		doctorCode:     strings.TrimSpace(cfg.DoctorRegistrationCode),
		maxUploadBytes: maxUpload,
		now:            time.Now,
		newCode:        newAccessCode,
	}, nil
}

// MaxUploadBytes is the largest artifact Upload accepts.
func (a *App) MaxUploadBytes() int64 {
	return a.maxUploadBytes
}

const defaultMaxUploadBytes int64 = 20 << 20

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
