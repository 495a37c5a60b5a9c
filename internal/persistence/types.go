package persistence

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("record not found")

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleUser    Role = "user"
	RolePremium Role = "premium"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	APIToken  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Transcription is the durable result of a completed job. It belongs to
// exactly one user and at most one job, and outlives the in-memory job
// registry.
type Transcription struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	UserID         string    `json:"user_id"`
	FileName       string    `json:"file_name"`
	RawText        string    `json:"raw_text"`
	CorrectedText  string    `json:"corrected_text"`
	IdentifiedText string    `json:"identified_text"`
	Fingerprint    string    `json:"fingerprint"`
	Language       string    `json:"language"`
	CreatedAt      time.Time `json:"created_at"`
}

// TranscriptionPatch carries user edits. Nil fields are left untouched.
type TranscriptionPatch struct {
	RawText        *string
	CorrectedText  *string
	IdentifiedText *string
}

func (p TranscriptionPatch) Empty() bool {
	return p.RawText == nil && p.CorrectedText == nil && p.IdentifiedText == nil
}
