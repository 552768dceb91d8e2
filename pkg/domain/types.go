package domain

import (
	"strings"
	"time"
)

// Role is the closed set of principal roles.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// AdminPrincipalID is the id carried by the reserved admin identity, which has no stored record.
const AdminPrincipalID int64 = 0

// ParseRole maps a raw role string onto the closed role set.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RolePatient:
		return RolePatient, true
	case RoleDoctor:
		return RoleDoctor, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// User is a stored account record.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Principal returns the authenticated identity view of the user.
func (u User) Principal() Principal {
	return Principal{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// Principal is an authenticated identity with a role.
type Principal struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// Link binds a patient to a doctor once the access code is redeemed.
type Link struct {
	ID         int64      `json:"id"`
	PatientID  int64      `json:"patientId"`
	DoctorID   *int64     `json:"doctorId,omitempty"`
	AccessCode string     `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
	LinkedAt   *time.Time `json:"linkedAt,omitempty"`
}

// Bound reports whether a doctor has redeemed the link's code.
func (l Link) Bound() bool {
	return l.DoctorID != nil
}

// Document is an uploaded artifact owned by one patient.
type Document struct {
	ID          int64           `json:"id"`
	PatientID   int64           `json:"patientId"`
	Filename    string          `json:"filename"`
	StorageKey  string          `json:"-"`
	ContentType string          `json:"contentType"`
	SizeBytes   int64           `json:"sizeBytes"`
	UploadedAt  time.Time       `json:"uploadTimestamp"`
	Analysis    *AnalysisResult `json:"aiAnalysis"`
}

// Entity is a labelled span found by the NLP stage.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// AnalysisResult aggregates the OCR, NLP and CV stage outputs for one document.
type AnalysisResult struct {
	OCRText          string   `json:"ocrText"`
	NLPSummary       string   `json:"nlpSummary"`
	NLPEntities      []Entity `json:"nlpEntities"`
	CVClassification string   `json:"cvClassification"`
	CVConfidence     float64  `json:"cvConfidence"`
	CVHeatmapRef     string   `json:"cvHeatmapRef"`
}
