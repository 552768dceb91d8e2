package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"intellimed/pkg/domain"
)

const migrateLockID int64 = 51845184

const pgUniqueViolation = "23505"

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &LinkModel{}, &DocumentModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB wraps an already opened connection without migrating.
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// FindUserByEmail looks up a user by normalised email.
func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// FindUserByID returns a user by ID.
func (s *GormStore) FindUserByID(ctx context.Context, id int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateUser inserts a user; a taken email yields domain.ErrConflict.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, fmt.Errorf("email already registered: %w", domain.ErrConflict)
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// ListPatients returns all patient accounts ordered by id.
func (s *GormStore) ListPatients(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Where("role = ?", string(domain.RolePatient)).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return usersFromModels(models), nil
}

// CreateDocument stores a document row with its analysis result.
func (s *GormStore) CreateDocument(ctx context.Context, d domain.Document) (domain.Document, error) {
	model, err := documentToModel(d)
	if err != nil {
		return domain.Document{}, err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Document{}, err
	}
	return documentFromModel(model), nil
}

// FindDocumentsByPatient returns a patient's documents oldest first.
func (s *GormStore) FindDocumentsByPatient(ctx context.Context, patientID int64) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).Where("patient_id = ?", patientID).Order("uploaded_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, documentFromModel(m))
	}
	return docs, nil
}

// FindDocumentByID returns one document.
func (s *GormStore) FindDocumentByID(ctx context.Context, id int64) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// DeleteDocument removes a document row.
func (s *GormStore) DeleteDocument(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&DocumentModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CreateLink inserts an unbound link; a colliding access code yields domain.ErrConflict.
func (s *GormStore) CreateLink(ctx context.Context, l domain.Link) (domain.Link, error) {
	model := linkToModel(l)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.Link{}, fmt.Errorf("access code collision: %w", domain.ErrConflict)
		}
		return domain.Link{}, err
	}
	return linkFromModel(model), nil
}

// FindLinkByCode returns the link for an access code.
func (s *GormStore) FindLinkByCode(ctx context.Context, code string) (domain.Link, bool, error) {
	var model LinkModel
	if err := s.db.WithContext(ctx).First(&model, "access_code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Link{}, false, nil
		}
		return domain.Link{}, false, err
	}
	return linkFromModel(model), true, nil
}

// UpdateLinkDoctor binds the doctor with a conditional update on doctor_id IS NULL,
// so concurrent redemptions of one code cannot both succeed.
func (s *GormStore) UpdateLinkDoctor(ctx context.Context, code string, doctorID int64) (domain.Link, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&LinkModel{}).
		Where("access_code = ? AND doctor_id IS NULL", code).
		Updates(map[string]any{
			"doctor_id": doctorID,
			"linked_at": now,
		})
	if res.Error != nil {
		return domain.Link{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Link{}, fmt.Errorf("access code: %w", domain.ErrNotFound)
	}
	link, ok, err := s.FindLinkByCode(ctx, code)
	if err != nil {
		return domain.Link{}, err
	}
	if !ok {
		return domain.Link{}, fmt.Errorf("access code: %w", domain.ErrNotFound)
	}
	return link, nil
}

// HasBoundLink reports whether doctorID has redeemed a code issued by patientID.
func (s *GormStore) HasBoundLink(ctx context.Context, doctorID, patientID int64) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&LinkModel{}).
		Where("doctor_id = ? AND patient_id = ?", doctorID, patientID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListLinkedPatients returns the patients bound to doctorID.
func (s *GormStore) ListLinkedPatients(ctx context.Context, doctorID int64) ([]domain.User, error) {
	linked := s.db.Model(&LinkModel{}).Select("patient_id").Where("doctor_id = ?", doctorID)
	var models []UserModel
	if err := s.db.WithContext(ctx).
		Where("id IN (?) AND role = ?", linked, string(domain.RolePatient)).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return usersFromModels(models), nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		PasswordHash: m.PasswordHash,
		Role:         domain.Role(m.Role),
		CreatedAt:    m.CreatedAt,
	}
}

func usersFromModels(models []UserModel) []domain.User {
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res
}

func linkToModel(l domain.Link) LinkModel {
	return LinkModel{
		ID:         l.ID,
		PatientID:  l.PatientID,
		DoctorID:   l.DoctorID,
		AccessCode: l.AccessCode,
		CreatedAt:  l.CreatedAt,
		LinkedAt:   l.LinkedAt,
	}
}

func linkFromModel(m LinkModel) domain.Link {
	return domain.Link{
		ID:         m.ID,
		PatientID:  m.PatientID,
		DoctorID:   m.DoctorID,
		AccessCode: m.AccessCode,
		CreatedAt:  m.CreatedAt,
		LinkedAt:   m.LinkedAt,
	}
}

func documentToModel(d domain.Document) (DocumentModel, error) {
	model := DocumentModel{
		ID:          d.ID,
		PatientID:   d.PatientID,
		Filename:    d.Filename,
		StorageKey:  d.StorageKey,
		ContentType: d.ContentType,
		SizeBytes:   d.SizeBytes,
		UploadedAt:  d.UploadedAt,
	}
	if d.Analysis != nil {
		raw, err := json.Marshal(d.Analysis)
		if err != nil {
			return DocumentModel{}, fmt.Errorf("marshal analysis: %w", err)
		}
		model.Analysis = raw
	}
	return model, nil
}

func documentFromModel(m DocumentModel) domain.Document {
	doc := domain.Document{
		ID:          m.ID,
		PatientID:   m.PatientID,
		Filename:    m.Filename,
		StorageKey:  m.StorageKey,
		ContentType: m.ContentType,
		SizeBytes:   m.SizeBytes,
		UploadedAt:  m.UploadedAt,
	}
	if len(m.Analysis) > 0 {
		var result domain.AnalysisResult
		if err := json.Unmarshal(m.Analysis, &result); err == nil {
			doc.Analysis = &result
		}
	}
	return doc
}
