package job

import (
	"os"
	"path/filepath"
)

// StatusInfo is the on-disk view of a job for the status endpoint.
type StatusInfo struct {
	Exists    bool `json:"exists"`
	Completed bool `json:"completed"`
}

// Store derives job state from the filesystem: a live temp directory means
// the job is processing, an output directory without one means it finished.
// There is no database; the directories are the source of truth.
type Store struct {
	tempRoot   string
	outputRoot string
}

// NewStore creates a filesystem-backed job status store.
func NewStore(tempRoot, outputRoot string) *Store {
	return &Store{tempRoot: tempRoot, outputRoot: outputRoot}
}

// Lookup reports whether a job exists and whether it has completed.
// Invalid ids simply do not exist.
func (s *Store) Lookup(id string) StatusInfo {
	if err := ValidateID(id); err != nil {
		return StatusInfo{}
	}

	if dirExists(filepath.Join(s.tempRoot, "job_"+id)) {
		return StatusInfo{Exists: true}
	}
	if dirExists(filepath.Join(s.outputRoot, id)) {
		return StatusInfo{Exists: true, Completed: true}
	}
	return StatusInfo{}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
