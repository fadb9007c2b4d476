package reporter

import (
	"context"
	"testing"
	"time"
)

type fakeEditor struct {
	edits []string
	err   error
}

func (f *fakeEditor) EditMessage(ctx context.Context, handle, text string) error {
	if f.err != nil {
		err := f.err
		f.err = nil
		return err
	}
	f.edits = append(f.edits, text)
	return nil
}

func TestReportThrottlesWithinInterval(t *testing.T) {
	editor := &fakeEditor{}
	r := New(editor, time.Hour)
	start := time.Now()

	r.Report(context.Background(), 10, 100, "msg1", start, "Downloading", "", "cpu")
	r.Report(context.Background(), 20, 100, "msg1", start, "Downloading", "", "cpu")

	if len(editor.edits) != 1 {
		t.Fatalf("expected 1 edit within the throttle window, got %d", len(editor.edits))
	}
}

func TestReportForcesEmitAtCompletion(t *testing.T) {
	editor := &fakeEditor{}
	r := New(editor, time.Hour)
	start := time.Now()

	r.Report(context.Background(), 10, 100, "msg1", start, "Downloading", "", "cpu")
	r.Report(context.Background(), 100, 100, "msg1", start, "Downloading", "", "cpu")

	if len(editor.edits) != 2 {
		t.Fatalf("expected a forced emit at completion, got %d edits", len(editor.edits))
	}
}

func TestReportSwallowsMessageUnchanged(t *testing.T) {
	editor := &fakeEditor{err: ErrMessageUnchanged}
	r := New(editor, 0)
	r.Report(context.Background(), 1, 1, "msg1", time.Now(), "Uploading", "", "")
	// no panic, no retained error state
}

func TestReportBacksOffOnRateLimit(t *testing.T) {
	editor := &fakeEditor{err: &RateLimitError{RetryAfter: 10 * time.Millisecond}}
	r := New(editor, 0)

	before := time.Now()
	r.Report(context.Background(), 1, 1, "msg1", time.Now(), "Uploading", "", "")
	if time.Since(before) < 10*time.Millisecond {
		t.Error("expected Report to sleep for the rate-limit retry-after duration")
	}
	if len(editor.edits) != 1 {
		t.Errorf("expected the retry to succeed and record one edit, got %d", len(editor.edits))
	}
}
