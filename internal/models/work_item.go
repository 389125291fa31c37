package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkStatus is the lifecycle state of a WorkItem
type WorkStatus string

const (
	WorkStatusQueued     WorkStatus = "queued"
	WorkStatusProcessing WorkStatus = "processing"
	WorkStatusCompleted  WorkStatus = "completed"
	WorkStatusFailed     WorkStatus = "failed"
)

// IsTerminal reports whether no further transitions are expected
func (s WorkStatus) IsTerminal() bool {
	return s == WorkStatusCompleted || s == WorkStatusFailed
}

// WorkItem is one accepted document travelling through the pipeline.
// Only the worker that dequeued it mutates it.
type WorkItem struct {
	ID               string     `json:"id" badgerhold:"key"`
	OwnerID          int64      `json:"owner_id" badgerhold:"index"`
	SourcePath       string     `json:"source_path"`
	OriginalFilename string     `json:"original_filename"`
	FileSize         int64      `json:"file_size"`
	LocalPageCount   int        `json:"local_page_count,omitempty"` // 0 when the file is not a readable PDF
	EnqueuedAt       time.Time  `json:"enqueued_at"`
	Status           WorkStatus `json:"status"`
	WorkerID         int        `json:"worker_id,omitempty"`
	StartedAt        time.Time  `json:"started_at,omitempty"`
	CompletedAt      time.Time  `json:"completed_at,omitempty"`
	FailedAt         time.Time  `json:"failed_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	ErrorKind        string     `json:"error_kind,omitempty"`
	Title            string     `json:"title,omitempty"` // title assigned by the platform, the retrieval join key
	SimilarityScore  string     `json:"similarity_score,omitempty"`
	AIScore          string     `json:"ai_score,omitempty"`
}

// NewWorkItem creates a queued WorkItem
func NewWorkItem(ownerID int64, sourcePath, originalFilename string, size int64, now time.Time) *WorkItem {
	return &WorkItem{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		SourcePath:       sourcePath,
		OriginalFilename: originalFilename,
		FileSize:         size,
		EnqueuedAt:       now,
		Status:           WorkStatusQueued,
	}
}

// MarkProcessing records that workerID picked the item up
func (w *WorkItem) MarkProcessing(workerID int, now time.Time) {
	w.Status = WorkStatusProcessing
	w.WorkerID = workerID
	w.StartedAt = now
}

// MarkCompleted records successful delivery
func (w *WorkItem) MarkCompleted(now time.Time) {
	w.Status = WorkStatusCompleted
	w.CompletedAt = now
	w.LastError = ""
	w.ErrorKind = ""
}

// MarkFailed records the failure and its kind
func (w *WorkItem) MarkFailed(err error, kind string, now time.Time) {
	w.Status = WorkStatusFailed
	w.FailedAt = now
	w.ErrorKind = kind
	if err != nil {
		w.LastError = err.Error()
	}
}

// ScratchName builds the namespaced scratch file name {owner}_{timestamp}_{suffix}
func ScratchName(ownerID int64, at time.Time, suffix string) string {
	return fmt.Sprintf("%d_%s_%s", ownerID, at.Format("20060102_150405"), suffix)
}

// SanitizeFilename strips directories and characters unsafe for scratch paths
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		case r < 0x20:
			return -1
		default:
			return r
		}
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "document"
	}
	return name
}
