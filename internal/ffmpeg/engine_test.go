package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func fakeBinary(t *testing.T, exitCode int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-ffmpeg.sh")
	script := "#!/bin/sh\nexit " + itoaForTest(exitCode) + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func itoaForTest(n int) string {
	if n == 0 {
		return "0"
	}
	return "1"
}

func TestDetectFallsBackToCPUWhenNVENCUnavailable(t *testing.T) {
	d := NewDetector(fakeBinary(t, 1))
	if got := d.Detect(context.Background()); got != EngineCPU {
		t.Errorf("expected EngineCPU when the NVENC test encode fails, got %s", got)
	}
}

func TestDetectReturnsNVIDIAWhenTestEncodeSucceeds(t *testing.T) {
	d := NewDetector(fakeBinary(t, 0))
	if got := d.Detect(context.Background()); got != EngineNVIDIA {
		t.Errorf("expected EngineNVIDIA when the test encode succeeds, got %s", got)
	}
}

func TestDetectCachesResult(t *testing.T) {
	path := fakeBinary(t, 1)
	d := NewDetector(path)
	first := d.Detect(context.Background())

	// Replace the binary with one that would report NVIDIA; cached result
	// must not change since Detect probes at most once per Detector.
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
		t.Fatalf("rewrite fake binary: %v", err)
	}
	second := d.Detect(context.Background())
	if second != first {
		t.Errorf("expected cached Detect result %s, got %s", first, second)
	}
}
