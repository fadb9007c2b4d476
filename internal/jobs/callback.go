package jobs

import (
	"sync"

	"github.com/google/uuid"
)

// CallbackEntry is the triple an inline button payload resolves to:
// output path, input path, and the job's sequence number. The canonical
// on-the-wire form (grounded on the original bot's code(f"{out};{dl};{seq}"))
// is the semicolon-joined string; CallbackRegistry stores it structured and
// hands back a short opaque key instead of embedding the triple directly in
// the button payload, since chat platforms cap payload size.
type CallbackEntry struct {
	OutputPath string
	InputPath  string
	JobSeq     int64
}

// CallbackRegistry maps short opaque keys to CallbackEntry triples. Entries
// are bounded to the lifetime of their owning job: Forget is called by the
// Pipeline Controller when a job reaches a terminal state, so the registry
// never grows past the number of live jobs.
type CallbackRegistry struct {
	mu      sync.Mutex
	entries map[string]CallbackEntry
	byJob   map[int64]string
}

// NewCallbackRegistry returns an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{
		entries: make(map[string]CallbackEntry),
		byJob:   make(map[int64]string),
	}
}

// Register creates (or replaces) the callback key for a job and returns it.
func (r *CallbackRegistry) Register(e CallbackEntry) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := uuid.NewString()[:8]
	if old, ok := r.byJob[e.JobSeq]; ok {
		delete(r.entries, old)
	}
	r.entries[key] = e
	r.byJob[e.JobSeq] = key
	return key
}

// Resolve looks up a key's triple.
func (r *CallbackRegistry) Resolve(key string) (CallbackEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return e, ok
}

// Forget removes the entry for a job, if any. Called when a job reaches a
// terminal state so its buttons stop resolving.
func (r *CallbackRegistry) Forget(jobSeq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.byJob[jobSeq]; ok {
		delete(r.entries, key)
		delete(r.byJob, jobSeq)
	}
}
