package async

import (
	"time"

	"github.com/google/uuid"
)

// Job is one document waiting for extraction.
type Job struct {
	DocumentID  uuid.UUID // uuid.Nil assigns a fresh ID
	Location    string    // local path or afs URL
	Method      string
	OCRMode     string
	SubmittedAt time.Time
}
