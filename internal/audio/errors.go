package audio

import "errors"

// Sentinel errors for the audio pipeline.
var (
	// ErrChunkingFailed indicates FFmpeg failed during audio chunking.
	// Wrap with context: fmt.Errorf("chunking failed: %w", ErrChunkingFailed)
	ErrChunkingFailed = errors.New("audio chunking failed")

	// ErrTransformFailed indicates FFmpeg failed during the tempo transform.
	ErrTransformFailed = errors.New("audio transform failed")

	// ErrInvalidSpeedFactor indicates a speed factor outside (0, 3].
	ErrInvalidSpeedFactor = errors.New("invalid speed factor")

	// ErrFileNotFound indicates the specified input file does not exist.
	ErrFileNotFound = errors.New("file not found")
)
