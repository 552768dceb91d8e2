package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"intellimed/pkg/domain"
)

func newGormStoreWithMock(t *testing.T) (*GormStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	return NewGormStoreFromDB(db), mock, func() { _ = sqlDB.Close() }
}

func TestGormStoreUpdateLinkDoctorReturnsNotFoundWhenNoRowsAffected(t *testing.T) {
	s, mock, done := newGormStoreWithMock(t)
	defer done()

	mock.ExpectExec(`UPDATE "link_models" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.UpdateLinkDoctor(context.Background(), "ABC123", 5)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGormStoreUpdateLinkDoctorReturnsBoundLink(t *testing.T) {
	s, mock, done := newGormStoreWithMock(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE "link_models" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "link_models"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "patient_id", "doctor_id", "access_code", "created_at", "linked_at"}).
			AddRow(int64(1), int64(7), int64(5), "ABC123", now, now))

	link, err := s.UpdateLinkDoctor(context.Background(), "ABC123", 5)
	if err != nil {
		t.Fatalf("update link: %v", err)
	}
	if link.PatientID != 7 || link.DoctorID == nil || *link.DoctorID != 5 {
		t.Fatalf("unexpected link: %+v", link)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGormStoreCreateUserMapsUniqueViolationToConflict(t *testing.T) {
	s, mock, done := newGormStoreWithMock(t)
	defer done()

	mock.ExpectQuery(`INSERT INTO "user_models"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := s.CreateUser(context.Background(), domain.User{
		Email:        "dup@example.com",
		PasswordHash: "hash",
		Role:         domain.RolePatient,
		CreatedAt:    time.Now().UTC(),
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGormStoreFindUserByEmailMissing(t *testing.T) {
	s, mock, done := newGormStoreWithMock(t)
	defer done()

	mock.ExpectQuery(`SELECT \* FROM "user_models"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "role", "created_at"}))

	_, ok, err := s.FindUserByEmail(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if ok {
		t.Fatalf("expected no user")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGormStoreHasBoundLink(t *testing.T) {
	s, mock, done := newGormStoreWithMock(t)
	defer done()

	mock.ExpectQuery(`SELECT count\(\*\) FROM "link_models"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	ok, err := s.HasBoundLink(context.Background(), 5, 7)
	if err != nil {
		t.Fatalf("has bound link: %v", err)
	}
	if !ok {
		t.Fatalf("expected bound link")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDocumentModelRoundTripKeepsAnalysis(t *testing.T) {
	doc := domain.Document{
		PatientID: 3,
		Filename:  "report.pdf",
		Analysis: &domain.AnalysisResult{
			OCRText:          "Amoxicillin 500mg",
			NLPEntities:      []domain.Entity{{Text: "Amoxicillin", Label: "MEDICATION"}},
			CVClassification: "document",
			CVConfidence:     0.5,
		},
	}
	model, err := documentToModel(doc)
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	got := documentFromModel(model)
	if got.Analysis == nil || got.Analysis.OCRText != "Amoxicillin 500mg" || len(got.Analysis.NLPEntities) != 1 {
		t.Fatalf("unexpected analysis: %+v", got.Analysis)
	}
}
