package jobs

import "sync"

// TokenRegistry maps a running job's sequence number to the CancelToken
// the Pipeline Controller is observing for it, so an inline "skip<key>"
// callback — resolved to a job via CallbackRegistry — can reach the
// specific in-flight transcode it names instead of cancelling whichever
// job happens to be running.
type TokenRegistry struct {
	mu     sync.Mutex
	tokens map[int64]*CancelToken
}

// NewTokenRegistry returns an empty registry.
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{tokens: make(map[int64]*CancelToken)}
}

// Register associates token with jobSeq, replacing any prior entry.
func (r *TokenRegistry) Register(jobSeq int64, token *CancelToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[jobSeq] = token
}

// Get returns the token registered for jobSeq, if any.
func (r *TokenRegistry) Get(jobSeq int64) (*CancelToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[jobSeq]
	return t, ok
}

// Forget removes jobSeq's entry. Called once a job reaches a terminal
// state so skip<key> can no longer reach a token that no longer matters.
func (r *TokenRegistry) Forget(jobSeq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, jobSeq)
}
