package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adittyamondal/vcompress/internal/jobs"
)

func TestBuildTempPath(t *testing.T) {
	tests := []struct {
		input    string
		tempDir  string
		expected string
	}{
		{
			"/media/movie.mkv",
			"/tmp",
			"/tmp/movie.vcompress.tmp.mp4",
		},
		{
			"/media/tv/show/episode.mp4",
			"/media/tv/show",
			"/media/tv/show/episode.vcompress.tmp.mp4",
		},
		{
			"/data/video.avi",
			"/data",
			"/data/video.vcompress.tmp.mp4",
		},
	}

	for _, tt := range tests {
		result := BuildTempPath(tt.input, tt.tempDir)
		if result != tt.expected {
			t.Errorf("BuildTempPath(%s, %s) = %s, expected %s",
				tt.input, tt.tempDir, result, tt.expected)
		}
	}
}

func TestDriverRunTranscode(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping transcode test in short mode")
	}

	testFile := filepath.Join(getTestdataPath(), "test_x264.mkv")
	if _, err := os.Stat(testFile); os.IsNotExist(err) {
		t.Skipf("test file not found: %s", testFile)
	}

	tmpDir := t.TempDir()
	outputPath := BuildTempPath(testFile, tmpDir)

	driver := NewDriver("ffmpeg")
	profile := EncodeProfile{
		Codec:       "libx265",
		SpeedPreset: "fast",
		QualityQP:   28,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := driver.Run(ctx, testFile, outputPath, profile, EngineCPU, Watermark{}, nil)
	if err != nil {
		t.Fatalf("transcode failed: %v", err)
	}

	if result.InputSize == 0 {
		t.Error("expected non-zero input size")
	}
	if result.OutputSize == 0 {
		t.Error("expected non-zero output size")
	}
	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		t.Error("output file was not created")
	}

	prober := NewProber("ffprobe")
	outputProbe, err := prober.Probe(ctx, outputPath)
	if err != nil {
		t.Fatalf("failed to probe output file: %v", err)
	}
	if outputProbe.VideoCodec != "hevc" {
		t.Errorf("expected output codec hevc, got %s", outputProbe.VideoCodec)
	}

	t.Logf("Transcode result: %d -> %d bytes (%.1f%% reduction) in %v",
		result.InputSize, result.OutputSize,
		float64(result.SpaceSaved)/float64(result.InputSize)*100,
		result.Duration)
}

func TestDriverRunCancelled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping transcode test in short mode")
	}

	testFile := filepath.Join(getTestdataPath(), "test_x264.mkv")
	if _, err := os.Stat(testFile); os.IsNotExist(err) {
		t.Skipf("test file not found: %s", testFile)
	}

	tmpDir := t.TempDir()
	outputPath := BuildTempPath(testFile, tmpDir)

	driver := NewDriver("ffmpeg")
	profile := EncodeProfile{Codec: "libx265", SpeedPreset: "veryslow", QualityQP: 18}

	token := jobs.NewCancelToken()
	go func() {
		time.Sleep(200 * time.Millisecond)
		token.Cancel()
	}()

	_, err := driver.Run(context.Background(), testFile, outputPath, profile, EngineCPU, Watermark{}, token)
	if !ErrCancelled(err) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Error("expected cancelled transcode to clean up its partial output")
	}
}

func TestFinalizeTranscodeReplace(t *testing.T) {
	tmpDir := t.TempDir()

	originalPath := filepath.Join(tmpDir, "video.mkv")
	if err := os.WriteFile(originalPath, []byte("original content"), 0644); err != nil {
		t.Fatalf("failed to create original: %v", err)
	}

	tempPath := filepath.Join(tmpDir, "video.vcompress.tmp.mp4")
	if err := os.WriteFile(tempPath, []byte("transcoded content"), 0644); err != nil {
		t.Fatalf("failed to create temp: %v", err)
	}

	finalPath, err := FinalizeTranscode(originalPath, tempPath, true)
	if err != nil {
		t.Fatalf("FinalizeTranscode failed: %v", err)
	}

	expectedFinal := filepath.Join(tmpDir, "video.compressed.mp4")
	if finalPath != expectedFinal {
		t.Errorf("expected final path %s, got %s", expectedFinal, finalPath)
	}
	if _, err := os.Stat(originalPath); !os.IsNotExist(err) {
		t.Error("original file still exists, should have been deleted in replace mode")
	}

	content, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("failed to read final file: %v", err)
	}
	if string(content) != "transcoded content" {
		t.Error("final file has wrong content - original content should have been replaced")
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Error("temp file still exists")
	}
}

func TestFinalizeTranscodeKeep(t *testing.T) {
	tmpDir := t.TempDir()

	originalPath := filepath.Join(tmpDir, "video.mp4")
	if err := os.WriteFile(originalPath, []byte("original content"), 0644); err != nil {
		t.Fatalf("failed to create original: %v", err)
	}

	tempPath := filepath.Join(tmpDir, "video.vcompress.tmp.mp4")
	if err := os.WriteFile(tempPath, []byte("transcoded content"), 0644); err != nil {
		t.Fatalf("failed to create temp: %v", err)
	}

	finalPath, err := FinalizeTranscode(originalPath, tempPath, false)
	if err != nil {
		t.Fatalf("FinalizeTranscode failed: %v", err)
	}

	oldPath := originalPath + ".old"
	content, err := os.ReadFile(oldPath)
	if err != nil {
		t.Fatalf("failed to read .old file: %v", err)
	}
	if string(content) != "original content" {
		t.Error(".old file has wrong content")
	}
	if _, err := os.Stat(originalPath); !os.IsNotExist(err) {
		t.Error("original file still exists at original path, should have been renamed to .old")
	}

	content, err = os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("failed to read final: %v", err)
	}
	if string(content) != "transcoded content" {
		t.Error("final file has wrong content")
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Error("temp file still exists")
	}
}
