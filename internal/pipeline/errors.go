package pipeline

import "errors"

// Error kinds surfaced to sessions and API callers. Underlying causes are
// wrapped, so both the kind and the cause match with errors.Is.
var (
	// ErrIndexUnavailable means the index could not be built. No query can
	// be served until the process restarts.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrIndexPending means the index is still being built.
	ErrIndexPending = errors.New("index is still being built")

	// ErrRetrieval means a similarity search failed for one query.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGeneration means the chat model failed for one query.
	ErrGeneration = errors.New("answer generation failed")

	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question is empty")
)
