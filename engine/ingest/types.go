package ingest

import (
	"errors"
	"strings"
	"time"
)

// Job is one document ingestion request: text already extracted from an
// uploaded file, waiting to be chunked, embedded, and indexed under the
// user's collection.
type Job struct {
	Username   string    `json:"username"`
	Filename   string    `json:"filename"`
	Text       string    `json:"text"`
	UploadedAt time.Time `json:"uploaded_at"`
}

var (
	ErrNoUsername = errors.New("ingest: job has no username")
	ErrNoFilename = errors.New("ingest: job has no filename")
)

// Validate checks the job identifies a user and a source document. Empty
// text is not an error here: it ingests as zero chunks.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Username) == "" {
		return ErrNoUsername
	}
	if strings.TrimSpace(j.Filename) == "" {
		return ErrNoFilename
	}
	return nil
}

// chunkedJob is a Job split into embeddable chunks.
type chunkedJob struct {
	Job
	Chunks []string
}
