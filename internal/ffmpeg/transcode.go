package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/adittyamondal/vcompress/internal/jobs"
	"github.com/adittyamondal/vcompress/internal/logger"
)

// TranscodeResult is the outcome of a completed transcode.
type TranscodeResult struct {
	InputPath  string
	OutputPath string
	InputSize  int64
	OutputSize int64
	SpaceSaved int64
	Duration   time.Duration
}

// Driver spawns and supervises the ffmpeg child process for a single job.
// Progress is not parsed from the child in this design — pipeline timing
// is wall-clock only (the status message is driven by the Progress Reporter
// observing stage transitions, not ffmpeg's own -progress stream).
type Driver struct {
	ffmpegPath string
}

// NewDriver creates a Driver for the given ffmpeg binary.
func NewDriver(ffmpegPath string) *Driver {
	return &Driver{ffmpegPath: ffmpegPath}
}

// errCancelled is returned when the job's CancelToken fires before the
// child process exits on its own.
var errCancelled = fmt.Errorf("transcode cancelled")

// ErrCancelled reports whether err is (or wraps) a cancellation.
func ErrCancelled(err error) bool {
	return errors.Is(err, errCancelled)
}

// Run builds the argv for profile/engine/wm, spawns ffmpeg in its own
// process group, and waits for it to exit or for cancel to fire. cancel may
// be nil, in which case the transcode is not cancellable.
func (d *Driver) Run(ctx context.Context, inputPath, outputPath string, profile EncodeProfile, engine Engine, wm Watermark, cancel *jobs.CancelToken) (*TranscodeResult, error) {
	start := time.Now()

	inputInfo, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("stat input file: %w", err)
	}
	inputSize := inputInfo.Size()

	args := BuildArgs(inputPath, outputPath, profile, engine, wm)
	logger.Debug("ffmpeg command", "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	cancelled := false
	if cancel != nil {
		cancel.Arm(func() {
			cancelled = true
			terminateProcessGroup(cmd.Process.Pid)
		})
	}

	waitErr := cmd.Wait()
	if cancel != nil {
		cancel.Arm(nil)
	}
	if cancelled {
		os.Remove(outputPath)
		return nil, errCancelled
	}
	if waitErr != nil {
		os.Remove(outputPath)
		if head := stderrHead(stderr.String(), 3500); head != "" {
			return nil, fmt.Errorf("ffmpeg failed: %w: %s", waitErr, head)
		}
		return nil, fmt.Errorf("ffmpeg failed: %w", waitErr)
	}

	outputInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg exited 0 but output is missing: %w", err)
	}
	if outputInfo.Size() == 0 {
		return nil, fmt.Errorf("ffmpeg exited 0 but produced an empty output file")
	}

	return &TranscodeResult{
		InputPath:  inputPath,
		OutputPath: outputPath,
		InputSize:  inputSize,
		OutputSize: outputInfo.Size(),
		SpaceSaved: inputSize - outputInfo.Size(),
		Duration:   time.Since(start),
	}, nil
}

// terminateProcessGroup sends SIGTERM to the process group rooted at pid,
// waits a short grace period, then SIGKILLs it. Cancellation must reach any
// grandchildren ffmpeg spawns, hence the group signal rather than the pid alone.
func terminateProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGTERM)
	time.Sleep(2 * time.Second)
	_ = unix.Kill(-pid, unix.SIGKILL)
}

func stderrHead(s string, maxBytes int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes]
}

// BuildTempPath generates a scratch output path for a transcode in progress.
func BuildTempPath(inputPath, tempDir string) string {
	base := filepath.Base(inputPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(tempDir, name+".vcompress.tmp.mp4")
}

// copyFile copies src to dst, working across filesystems unlike os.Rename.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}
	return dstFile.Close()
}

// FinalizeTranscode moves a completed temp output into place alongside the
// original. If replace is true the original is deleted; otherwise it is
// renamed to ".old". Uses copy-then-delete rather than rename for the temp
// file to support cross-filesystem moves.
func FinalizeTranscode(inputPath, tempPath string, replace bool) (finalPath string, err error) {
	dir := filepath.Dir(inputPath)
	base := filepath.Base(inputPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	finalPath = filepath.Join(dir, name+".compressed.mp4")

	inputInfo, err := os.Stat(inputPath)
	if err != nil {
		return "", fmt.Errorf("stat input file: %w", err)
	}
	originalModTime := inputInfo.ModTime()

	if replace {
		if err := os.Remove(inputPath); err != nil {
			return "", fmt.Errorf("remove original file: %w", err)
		}
		if err := copyFile(tempPath, finalPath); err != nil {
			return "", fmt.Errorf("copy temp to final location: %w", err)
		}
		_ = os.Chtimes(finalPath, originalModTime, originalModTime)
		os.Remove(tempPath)
		return finalPath, nil
	}

	oldPath := inputPath + ".old"
	if err := os.Rename(inputPath, oldPath); err != nil {
		return "", fmt.Errorf("rename original to .old: %w", err)
	}
	if err := copyFile(tempPath, finalPath); err != nil {
		_ = os.Rename(oldPath, inputPath)
		return "", fmt.Errorf("copy temp to final location: %w", err)
	}
	_ = os.Chtimes(finalPath, originalModTime, originalModTime)
	os.Remove(tempPath)
	return finalPath, nil
}
