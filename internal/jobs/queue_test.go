package jobs_test

import (
	"path/filepath"
	"testing"

	"github.com/adittyamondal/vcompress/internal/jobs"
)

func linkPayload(url string) jobs.Payload {
	return jobs.Payload{Link: &jobs.LinkSource{URL: url, SuggestedName: "video.mp4"}}
}

func TestQueueEnqueueAndTakeNext(t *testing.T) {
	q, err := jobs.NewQueue("", 10)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	job, res := q.Enqueue("balanced", jobs.Origin{UserID: 1, ChatID: 1}, linkPayload("https://example.com/a.mp4"))
	if res != jobs.Admitted {
		t.Fatalf("expected Admitted, got %v", res)
	}
	if job.Status != jobs.StatusQueued {
		t.Errorf("expected queued status, got %s", job.Status)
	}

	next := q.TakeNext()
	if next == nil || next.ID != job.ID {
		t.Fatalf("expected to take back the enqueued job")
	}
	if !q.Working() {
		t.Error("expected working flag set after TakeNext")
	}

	if q.TakeNext() != nil {
		t.Error("expected nil TakeNext while working")
	}

	q.Release()
	if q.Working() {
		t.Error("expected working flag cleared after Release")
	}
}

func TestQueueRejectsDuplicate(t *testing.T) {
	q, _ := jobs.NewQueue("", 10)
	payload := linkPayload("https://example.com/dup.mp4")

	if _, res := q.Enqueue("balanced", jobs.Origin{}, payload); res != jobs.Admitted {
		t.Fatalf("first enqueue should be admitted, got %v", res)
	}
	if _, res := q.Enqueue("balanced", jobs.Origin{}, payload); res != jobs.RejectedDuplicate {
		t.Errorf("expected RejectedDuplicate, got %v", res)
	}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	q, _ := jobs.NewQueue("", 2)

	if _, res := q.Enqueue("balanced", jobs.Origin{}, linkPayload("https://example.com/1.mp4")); res != jobs.Admitted {
		t.Fatalf("enqueue 1: expected Admitted, got %v", res)
	}
	if _, res := q.Enqueue("balanced", jobs.Origin{}, linkPayload("https://example.com/2.mp4")); res != jobs.Admitted {
		t.Fatalf("enqueue 2: expected Admitted, got %v", res)
	}
	if _, res := q.Enqueue("balanced", jobs.Origin{}, linkPayload("https://example.com/3.mp4")); res != jobs.RejectedFull {
		t.Errorf("enqueue 3: expected RejectedFull, got %v", res)
	}
}

func TestQueueLifecycleAndPersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")

	q, err := jobs.NewQueue(path, 10)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	job, _ := q.Enqueue("balanced", jobs.Origin{}, linkPayload("https://example.com/a.mp4"))

	if err := q.StartJob(job.ID); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	q.SetStage(job.ID, jobs.StageTranscode)

	if err := q.CompleteJob(job.ID, jobs.RunStats{OriginalBytes: 100, CompressedBytes: 40}); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	got := q.Get(job.ID)
	if got.Status != jobs.StatusComplete {
		t.Errorf("expected complete, got %s", got.Status)
	}
	if got.Stats.CompressedBytes != 40 {
		t.Errorf("expected compressed bytes 40, got %d", got.Stats.CompressedBytes)
	}

	// Completed jobs drop out of the live order and free their dedupe key.
	if _, res := q.Enqueue("balanced", jobs.Origin{}, linkPayload("https://example.com/a.mp4")); res != jobs.Admitted {
		t.Errorf("expected re-submission of a completed dedupe key to be admitted, got %v", res)
	}

	// Persisted state should reload without error.
	q2, err := jobs.NewQueue(path, 10)
	if err != nil {
		t.Fatalf("reload NewQueue: %v", err)
	}
	if q2.Get(job.ID) == nil {
		t.Error("expected reloaded queue to contain the completed job")
	}
}

func TestQueueCancel(t *testing.T) {
	q, _ := jobs.NewQueue("", 10)
	job, _ := q.Enqueue("balanced", jobs.Origin{}, linkPayload("https://example.com/a.mp4"))

	if err := q.CancelJob(job.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if got := q.Get(job.ID); got.Status != jobs.StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}

	if err := q.CancelJob(job.ID); err == nil {
		t.Error("expected error cancelling an already-terminal job")
	}
}

func TestQueueSubscribe(t *testing.T) {
	q, _ := jobs.NewQueue("", 10)
	ch := q.Subscribe()
	defer q.Unsubscribe(ch)

	_, _ = q.Enqueue("balanced", jobs.Origin{}, linkPayload("https://example.com/a.mp4"))

	select {
	case ev := <-ch:
		if ev.Type != "queued" {
			t.Errorf("expected queued event, got %s", ev.Type)
		}
	default:
		t.Error("expected an event to be broadcast on enqueue")
	}
}
