package core

import "errors"

// Error kinds. Callers match them with errors.Is; the underlying cause stays
// wrapped alongside.
var (
	ErrEmbedding  = errors.New("embedding failure")
	ErrGeneration = errors.New("generation failure")
	ErrStoreWrite = errors.New("store write failure")
	ErrStoreRead  = errors.New("store read failure")
	ErrRetrieval  = errors.New("retrieval failure")

	ErrNotFound = errors.New("not found")
)
