// Package reporter implements the throttled progress-message editor: a
// 10-segment block bar plus transferred/total/speed/ETA, matching the
// original bot's progress() callback but generalized to any chat handle
// through the MessageEditor interface rather than a concrete transport.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/adittyamondal/vcompress/internal/logger"
)

// MessageEditor is the out-of-scope chat transport's contract for editing a
// status message in place. Implementations live in internal/chat.
type MessageEditor interface {
	EditMessage(ctx context.Context, handle string, text string) error
}

// RateLimitError is returned by a MessageEditor when the transport asks the
// caller to back off before retrying. RetryAfter is the requested delay.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ErrMessageUnchanged and ErrMessageInvalid are sentinel errors a
// MessageEditor may return; the reporter swallows both.
var (
	ErrMessageUnchanged = errors.New("message unchanged")
	ErrMessageInvalid   = errors.New("message id invalid")
)

// Reporter throttles progress edits to at most one per interval, per
// message handle, with a forced emit at completion.
type Reporter struct {
	editor   MessageEditor
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// New creates a Reporter that edits through editor, throttled to interval
// (the configured progress_update_interval).
func New(editor MessageEditor, interval time.Duration) *Reporter {
	return &Reporter{
		editor:   editor,
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// Report renders and (subject to throttling) sends a progress update for
// handle. label is the stage name shown above the bar (e.g. "Downloading",
// "Compressing"); filename is optional context shown alongside it.
func (r *Reporter) Report(ctx context.Context, current, total int64, handle string, start time.Time, label, filename, engineTag string) {
	forced := total > 0 && current >= total
	if !forced && !r.shouldEmit(handle) {
		return
	}
	r.mu.Lock()
	r.last[handle] = time.Now()
	r.mu.Unlock()

	text := render(current, total, start, label, filename, engineTag)
	r.send(ctx, handle, text)
}

func (r *Reporter) shouldEmit(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.last[handle]
	return !ok || time.Since(last) >= r.interval
}

func (r *Reporter) send(ctx context.Context, handle, text string) {
	err := r.editor.EditMessage(ctx, handle, text)
	if err == nil {
		return
	}
	if errors.Is(err, ErrMessageUnchanged) || errors.Is(err, ErrMessageInvalid) {
		return
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		logger.Warn("progress edit rate limited", "handle", handle, "retry_after", rl.RetryAfter)
		time.Sleep(rl.RetryAfter + time.Second)
		// One retry after the pad; a second rate-limit is logged and dropped
		// rather than looped on indefinitely.
		if err := r.editor.EditMessage(ctx, handle, text); err != nil && !errors.Is(err, ErrMessageUnchanged) && !errors.Is(err, ErrMessageInvalid) {
			logger.Error("progress edit failed after rate-limit retry", "handle", handle, "error", err)
		}
		return
	}
	logger.Error("progress edit failed", "handle", handle, "error", err)
}

func render(current, total int64, start time.Time, label, filename, engineTag string) string {
	elapsed := time.Since(start).Seconds()
	var percent, speed float64
	var eta time.Duration
	if total > 0 {
		percent = float64(current) * 100 / float64(total)
		if percent > 100 {
			percent = 100
		}
	}
	if elapsed > 0 {
		speed = float64(current) / elapsed
	}
	if speed > 0 && total > current {
		eta = time.Duration(float64(total-current)/speed) * time.Second
	}

	filled := int(math.Floor(percent / 10))
	if filled > 10 {
		filled = 10
	}
	bar := strings.Repeat("●", filled) + strings.Repeat("○", 10-filled)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", label)
	if filename != "" {
		fmt.Fprintf(&b, "File: %s\n", filename)
	}
	fmt.Fprintf(&b, "[%s] %.1f%%\n", bar, percent)
	fmt.Fprintf(&b, "%s of %s\n", humanize.Bytes(uint64(current)), humanize.Bytes(uint64(total)))
	fmt.Fprintf(&b, "Speed: %s/s\n", humanize.Bytes(uint64(speed)))
	fmt.Fprintf(&b, "ETA: %s\n", eta.Round(time.Second))
	if engineTag != "" {
		fmt.Fprintf(&b, "Engine: %s\n", engineTag)
	}
	return b.String()
}
