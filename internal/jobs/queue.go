package jobs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adittyamondal/vcompress/internal/logger"
)

// Queue is the FIFO job queue: insertion-ordered, capacity-bounded,
// deduplicated by Payload.DedupeKey, with at most one job Running at a
// time (the working flag). All operations are serialized under a single
// mutex; mutating operations also write the persisted queue file while
// holding it.
type Queue struct {
	mu          sync.Mutex
	jobs        map[string]*Job
	order       []string
	dedupe      map[string]string // dedupe key -> job ID, for live (non-terminal) jobs only
	working     bool
	maxSize     int
	filePath    string
	seqCounter  int64

	subsMu      sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewQueue constructs a queue, loading any previously persisted state from
// filePath (if non-empty and present).
func NewQueue(filePath string, maxSize int) (*Queue, error) {
	q := &Queue{
		jobs:        make(map[string]*Job),
		order:       make([]string, 0),
		dedupe:      make(map[string]string),
		maxSize:     maxSize,
		filePath:    filePath,
		subscribers: make(map[chan Event]struct{}),
	}
	if filePath != "" {
		if err := q.load(); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return q, nil
}

type persistedState struct {
	Jobs  []*Job `json:"jobs"`
	Order []string `json:"order"`
	Seq   int64  `json:"seq"`
}

func (q *Queue) load() error {
	data, err := os.ReadFile(q.filePath)
	if err != nil {
		return err
	}
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return err
	}
	q.jobs = make(map[string]*Job, len(ps.Jobs))
	q.dedupe = make(map[string]string, len(ps.Jobs))
	for _, j := range ps.Jobs {
		// A crash mid-transcode leaves no live worker; requeue it.
		if j.Status == StatusRunning {
			j.Status = StatusQueued
			j.Stage = ""
		}
		q.jobs[j.ID] = j
		if !j.IsTerminal() {
			q.dedupe[j.DedupeKey] = j.ID
		}
	}
	q.order = ps.Order
	q.seqCounter = ps.Seq
	return nil
}

func (q *Queue) saveLocked() {
	if q.filePath == "" {
		return
	}
	ordered := make([]*Job, 0, len(q.jobs))
	for _, id := range q.order {
		if j, ok := q.jobs[id]; ok {
			ordered = append(ordered, j)
		}
	}
	for _, j := range q.jobs {
		if j.IsTerminal() {
			ordered = append(ordered, j)
		}
	}
	ps := persistedState{Jobs: ordered, Order: q.order, Seq: q.seqCounter}
	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		logger.Error("marshal queue state", "error", err)
		return
	}
	dir := filepath.Dir(q.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("create queue dir", "error", err)
		return
	}
	tmp := q.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logger.Error("write queue state", "error", err)
		return
	}
	if err := os.Rename(tmp, q.filePath); err != nil {
		logger.Error("rename queue state", "error", err)
	}
}

// AdmitResult is returned by Enqueue.
type AdmitResult int

const (
	Admitted AdmitResult = iota
	RejectedDuplicate
	RejectedFull
)

// Enqueue admits a new job unless its dedupe key is already live or the
// queue is at capacity.
func (q *Queue) Enqueue(presetID string, origin Origin, payload Payload) (*Job, AdmitResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := payload.DedupeKey()
	if _, exists := q.dedupe[key]; exists {
		return nil, RejectedDuplicate
	}
	if q.maxSize > 0 && len(q.order) >= q.maxSize {
		return nil, RejectedFull
	}

	q.seqCounter++
	job := &Job{
		ID:        uuid.NewString(),
		Seq:       q.seqCounter,
		DedupeKey: key,
		PresetID:  presetID,
		Origin:    origin,
		Payload:   payload,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}

	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.dedupe[key] = job.ID
	q.saveLocked()
	q.broadcast(Event{Type: "queued", Job: job})
	return job, Admitted
}

// Size returns the number of jobs currently tracked (queued + running).
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Working reports whether a job is currently being driven by the worker.
func (q *Queue) Working() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.working
}

// TakeNext atomically returns the head queued job and sets the working
// flag, or returns nil if there is nothing to take or a job is already in
// flight. The job is not removed from the queue: it stays in the order (and
// counts toward Size and the capacity bound) until CompleteJob, FailJob, or
// CancelJob.
func (q *Queue) TakeNext() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.working {
		return nil
	}
	for _, id := range q.order {
		job, ok := q.jobs[id]
		if ok && job.Status == StatusQueued {
			q.working = true
			return job
		}
	}
	return nil
}

// Release clears the working flag once the worker has finished driving a
// job through the pipeline (success, failure, or cancel).
func (q *Queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.working = false
}

// Get returns a job by ID.
func (q *Queue) Get(id string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[id]
}

// StartJob transitions a job to Running.
func (q *Queue) StartJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	job.Status = StatusRunning
	job.StartedAt = time.Now()
	q.saveLocked()
	q.broadcast(Event{Type: "started", Job: job})
	return nil
}

// SetStage records which pipeline stage a running job is in. Cheap enough
// to call on every stage transition; not persisted (stage is runtime-only
// progress, not durable state).
func (q *Queue) SetStage(id string, stage Stage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusRunning {
		return
	}
	job.Stage = stage
	q.broadcast(Event{Type: "progress", Job: job})
}

// CompleteJob marks a job complete and removes it from dedupe tracking.
func (q *Queue) CompleteJob(id string, stats RunStats) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	job.Status = StatusComplete
	job.Stats = stats
	job.CompletedAt = time.Now()
	delete(q.dedupe, job.DedupeKey)
	q.removeFromOrderLocked(id)
	q.saveLocked()
	q.broadcast(Event{Type: "complete", Job: job})
	return nil
}

// FailJob marks a job failed.
func (q *Queue) FailJob(id string, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	job.Status = StatusFailed
	job.Error = errMsg
	job.CompletedAt = time.Now()
	delete(q.dedupe, job.DedupeKey)
	q.removeFromOrderLocked(id)
	q.saveLocked()
	q.broadcast(Event{Type: "failed", Job: job})
	return nil
}

// CancelJob marks a job cancelled. Only valid for non-terminal jobs.
func (q *Queue) CancelJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if job.IsTerminal() {
		return jobNotRunningError(id, job.Status)
	}
	job.Status = StatusCancelled
	job.CompletedAt = time.Now()
	delete(q.dedupe, job.DedupeKey)
	q.removeFromOrderLocked(id)
	q.saveLocked()
	q.broadcast(Event{Type: "cancelled", Job: job})
	return nil
}

func (q *Queue) removeFromOrderLocked(id string) {
	newOrder := make([]string, 0, len(q.order))
	for _, oid := range q.order {
		if oid != id {
			newOrder = append(newOrder, oid)
		}
	}
	q.order = newOrder
}

// Subscribe returns a channel receiving all queue events. The channel is
// buffered and drops events under backpressure rather than blocking the
// queue (see broadcast).
func (q *Queue) Subscribe() chan Event {
	ch := make(chan Event, 64)
	q.subsMu.Lock()
	q.subscribers[ch] = struct{}{}
	q.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (q *Queue) Unsubscribe(ch chan Event) {
	q.subsMu.Lock()
	delete(q.subscribers, ch)
	q.subsMu.Unlock()
	close(ch)
}

func (q *Queue) broadcast(e Event) {
	q.subsMu.RLock()
	defer q.subsMu.RUnlock()
	for ch := range q.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}
