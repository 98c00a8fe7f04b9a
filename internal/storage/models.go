package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Source status values.
const (
	SourceIndexed = "indexed"
	SourceSkipped = "skipped"
)

// Source records the outcome of ingesting one corpus file.
type Source struct {
	File       string    `json:"file"`
	Pages      int       `json:"pages"`
	Chunks     int       `json:"chunks"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}
