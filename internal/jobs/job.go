// Package jobs defines the job model and the FIFO queue that admits,
// orders, and tracks transcoding jobs submitted through chat.
package jobs

import (
	"time"
)

// Status represents the current state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Stage identifies which pipeline stage a running job is currently in.
type Stage string

const (
	StagePrepare    Stage = "prepare"
	StageDownload   Stage = "download"
	StageTranscode  Stage = "transcode"
	StageArtifacts  Stage = "artifacts"
	StageUpload     Stage = "upload"
	StageReport     Stage = "report"
)

// Origin describes who submitted a job and where its progress should be
// reported in the chat transport.
type Origin struct {
	UserID        int64
	ChatID        int64
	StatusMsgID   int64 // message handle the Progress Reporter edits
}

// Payload is the discriminated union of how a job's source media was
// submitted. Exactly one of Upload or Link is non-nil.
type Payload struct {
	Upload *UploadSource
	Link   *LinkSource
}

// UploadSource is a job submitted as a chat attachment.
type UploadSource struct {
	Locator       string // transport-specific handle used to stream the file down
	SuggestedName string
	Size          int64
}

// LinkSource is a job submitted as an HTTP(S) URL.
type LinkSource struct {
	URL           string
	SuggestedName string
}

// DedupeKey returns the identity used to reject duplicate concurrent
// submissions: the attachment locator for uploads, the URL for links.
func (p Payload) DedupeKey() string {
	if p.Upload != nil {
		return "upload:" + p.Upload.Locator
	}
	if p.Link != nil {
		return "link:" + p.Link.URL
	}
	return ""
}

// Job is one unit of submitted work flowing through the pipeline.
type Job struct {
	ID         string `json:"id"` // opaque, generated on admission
	Seq        int64  `json:"seq"`
	DedupeKey  string `json:"dedupe_key"`
	PresetID   string `json:"preset_id"`
	Origin     Origin `json:"origin"`
	Payload    Payload `json:"payload"`

	Status Status `json:"status"`
	Stage  Stage  `json:"stage,omitempty"`
	Error  string `json:"error,omitempty"`

	InputPath  string `json:"input_path,omitempty"`
	OutputPath string `json:"output_path,omitempty"`

	Stats RunStats `json:"stats"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// RunStats captures the per-job timing and size numbers reported back to
// the user and recorded in run history.
type RunStats struct {
	OriginalBytes   int64  `json:"original_bytes"`
	CompressedBytes int64  `json:"compressed_bytes"`
	DownloadMS      int64  `json:"download_ms"`
	CompressMS      int64  `json:"compress_ms"`
	UploadMS        int64  `json:"upload_ms"`
	EngineLabel     string `json:"engine_label"`
}

// IsTerminal reports whether the job has left the queue for good.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Copy returns a deep-enough copy safe to hand to a subscriber without
// racing the owning queue's mutations (Job has no mutable pointer fields
// besides the two Payload variants, which are replaced wholesale, never
// mutated in place).
func (j *Job) Copy() *Job {
	c := *j
	return &c
}

// Event is broadcast to queue subscribers (e.g. the Progress Reporter)
// whenever a job's state changes.
type Event struct {
	Type string // "queued", "started", "progress", "complete", "failed", "cancelled"
	Job  *Job
}
