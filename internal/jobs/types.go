package jobs

import (
	"time"

	"github.com/openscribe/openscribe/internal/persistence"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions may occur.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Job is a tracked unit of transcription work. The ID is session-scoped;
// SessionID repeats the prefix for filtering without re-parsing.
type Job struct {
	ID          string                     `json:"id"`
	SessionID   string                     `json:"session_id"`
	FileName    string                     `json:"file_name"`
	Fingerprint string                     `json:"fingerprint"`
	Status      Status                     `json:"status"`
	Progress    int                        `json:"progress"`
	Result      *persistence.Transcription `json:"result,omitempty"`
	Error       string                     `json:"error,omitempty"`
	Warning     string                     `json:"warning,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// StatusUpdate carries the mutable fields of an UpdateStatus call. Nil
// pointers leave the current value in place.
type StatusUpdate struct {
	Progress *int
	Result   *persistence.Transcription
	Error    string
	Warning  string
}
