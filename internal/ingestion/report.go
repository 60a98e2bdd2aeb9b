package ingestion

import "fmt"

// ChunkFailure is one chunk that could not be embedded.
type ChunkFailure struct {
	ChunkID string `json:"chunkId"`
	Index   int    `json:"index"`
	Err     error  `json:"-"`
}

// Reason returns the failure text.
func (f ChunkFailure) Reason() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

// Report summarizes one ingestion run.
type Report struct {
	MaterialID string         `json:"materialId"`
	Attempted  int            `json:"attempted"`
	Stored     int            `json:"stored"`
	Failed     []ChunkFailure `json:"failed,omitempty"`
}

// Partial reports whether some but not all chunks were stored.
func (r *Report) Partial() bool {
	return r != nil && r.Stored > 0 && len(r.Failed) > 0
}

// Summary is a one-line description of the run's counts.
func (r *Report) Summary() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("stored %d of %d chunks, %d failed", r.Stored, r.Attempted, len(r.Failed))
}
