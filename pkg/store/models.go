package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
}

type LinkModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	PatientID  int64     `gorm:"not null;index"`
	DoctorID   *int64    `gorm:"index"`
	AccessCode string    `gorm:"uniqueIndex;not null"`
	CreatedAt  time.Time `gorm:"not null"`
	LinkedAt   *time.Time
}

type DocumentModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	PatientID   int64  `gorm:"not null;index"`
	Filename    string `gorm:"not null"`
	StorageKey  string `gorm:"not null"`
	ContentType string
	SizeBytes   int64          `gorm:"not null"`
	UploadedAt  time.Time      `gorm:"not null;index"`
	Analysis    datatypes.JSON `gorm:"type:jsonb"`
}
