package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrChunkUploadFailed matches every *ChunkError.
	ErrChunkUploadFailed = errors.New("upload: chunk upload failed")

	// ErrInvalidOptions is returned before any chunk is sent.
	ErrInvalidOptions = errors.New("upload: invalid options")
)

// ChunkError reports a chunk that exhausted its retry budget. Chunks before
// ChunkIndex were delivered and are not retracted.
type ChunkError struct {
	ChunkIndex int
	Attempts   int
	Err        error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("upload: chunk %d failed after %d attempts: %v", e.ChunkIndex, e.Attempts, e.Err)
}

// Is makes errors.Is(err, ErrChunkUploadFailed) true for any ChunkError.
func (e *ChunkError) Is(target error) bool {
	return target == ErrChunkUploadFailed
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
