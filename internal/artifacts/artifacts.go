// Package artifacts generates the post-transcode extras attached to a
// completed job: a thumbnail, a short preview reel, and a set of
// screenshots. Each is independently optional and independently
// best-effort — a failure here never fails the job that produced the
// video itself.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/semaphore"

	"github.com/adittyamondal/vcompress/internal/logger"
)

// concurrencyWeight bounds how many ffmpeg child processes the generator
// may run at once across thumbnail/preview/screenshot generation.
const concurrencyWeight = 2

// Settings controls which artifacts are produced and how.
type Settings struct {
	ThumbnailCustomURL  string
	ThumbnailAutoGen    bool
	ThumbnailTimestamp  time.Duration
	EnablePreview       bool
	PreviewDuration     time.Duration
	EnableScreenshots   bool
	ScreenshotCount     int
}

// Result collects whichever artifacts were successfully produced.
type Result struct {
	ThumbnailPath   string
	PreviewPath     string
	ScreenshotPaths []string
}

// Generator produces artifacts for a transcoded output file.
type Generator struct {
	ffmpegPath  string
	ffprobePath string
	httpClient  *retryablehttp.Client
	sem         *semaphore.Weighted
}

// New creates a Generator.
func New(ffmpegPath, ffprobePath string) *Generator {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	return &Generator{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		httpClient:  client,
		sem:         semaphore.NewWeighted(concurrencyWeight),
	}
}

// Generate runs all enabled artifact stages concurrently (bounded by the
// generator's semaphore) and returns whatever succeeded.
func (g *Generator) Generate(ctx context.Context, videoPath, workDir string, duration time.Duration, settings Settings) Result {
	var result Result
	done := make(chan struct{}, 3)

	run := func(fn func()) {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			done <- struct{}{}
			return
		}
		defer g.sem.Release(1)
		fn()
		done <- struct{}{}
	}

	pending := 0

	pending++
	go run(func() {
		path, err := g.thumbnail(ctx, videoPath, workDir, duration, settings)
		if err != nil {
			logger.Warn("thumbnail generation failed", "error", err)
			return
		}
		result.ThumbnailPath = path
	})

	if settings.EnablePreview {
		pending++
		go run(func() {
			path, err := g.previewReel(ctx, videoPath, workDir, duration, settings)
			if err != nil {
				logger.Warn("preview reel generation failed", "error", err)
				return
			}
			result.PreviewPath = path
		})
	}

	if settings.EnableScreenshots {
		pending++
		go run(func() {
			paths, err := g.screenshots(ctx, videoPath, workDir, duration, settings)
			if err != nil && len(paths) == 0 {
				logger.Warn("screenshot generation failed", "error", err)
			}
			result.ScreenshotPaths = paths
		})
	}

	for i := 0; i < pending; i++ {
		<-done
	}
	return result
}

func (g *Generator) thumbnail(ctx context.Context, videoPath, workDir string, duration time.Duration, settings Settings) (string, error) {
	out := filepath.Join(workDir, "thumb.jpg")

	if settings.ThumbnailCustomURL != "" {
		if err := g.downloadThumbnail(ctx, settings.ThumbnailCustomURL, out); err == nil {
			return out, nil
		}
		logger.Warn("custom thumbnail fetch failed, falling back to auto-generated frame", "url", settings.ThumbnailCustomURL)
	}

	if !settings.ThumbnailAutoGen && settings.ThumbnailCustomURL == "" {
		return "", fmt.Errorf("thumbnail generation disabled")
	}

	ts := settings.ThumbnailTimestamp
	if ts <= 0 {
		ts = duration / 10
	} else if ts > duration-time.Second {
		ts = duration - time.Second
	}

	args := []string{
		"-y", "-ss", formatTimestamp(ts), "-i", videoPath,
		"-frames:v", "1",
		"-vf", "scale='min(320,iw)':'min(320,ih)':force_original_aspect_ratio=decrease",
		out,
	}
	if err := g.runFFmpeg(ctx, args); err != nil {
		return "", err
	}
	return out, nil
}

func (g *Generator) downloadThumbnail(ctx context.Context, url, out string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("thumbnail fetch: unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

// previewDuration bounds: clip count clamp(floor(duration/120), 3, 8);
// skip first/last 5% of the source; clips distributed uniformly within
// the remaining 90% window.
func (g *Generator) previewReel(ctx context.Context, videoPath, workDir string, duration time.Duration, settings Settings) (string, error) {
	clipCount := int(duration / (120 * time.Second))
	if clipCount < 3 {
		clipCount = 3
	}
	if clipCount > 8 {
		clipCount = 8
	}

	previewTotal := settings.PreviewDuration
	if previewTotal <= 0 {
		previewTotal = 10 * time.Second
	}
	perClip := previewTotal / time.Duration(clipCount)

	skip := duration / 20 // 5%
	usable := duration - 2*skip
	if usable <= 0 {
		return "", fmt.Errorf("source too short for a preview reel")
	}

	clipDir, err := os.MkdirTemp(workDir, "preview-clips-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(clipDir)

	manifest := filepath.Join(clipDir, "concat.txt")
	manifestFile, err := os.Create(manifest)
	if err != nil {
		return "", err
	}

	for i := 0; i < clipCount; i++ {
		start := skip + usable*time.Duration(i)/time.Duration(clipCount)
		clipPath := filepath.Join(clipDir, fmt.Sprintf("clip_%02d.mp4", i))
		args := []string{
			"-y", "-ss", formatTimestamp(start), "-i", videoPath,
			"-t", formatTimestamp(perClip),
			"-vf", "scale=-2:720",
			"-c:v", "libx264", "-preset", "veryfast",
			"-c:a", "aac", "-b:a", "128k",
			clipPath,
		}
		if err := g.runFFmpeg(ctx, args); err != nil {
			manifestFile.Close()
			return "", fmt.Errorf("render preview clip %d: %w", i, err)
		}
		fmt.Fprintf(manifestFile, "file '%s'\n", clipPath)
	}
	manifestFile.Close()

	out := filepath.Join(workDir, "preview.mp4")
	concatArgs := []string{
		"-y", "-f", "concat", "-safe", "0", "-i", manifest,
		"-c", "copy", "-movflags", "+faststart", out,
	}
	if err := g.runFFmpeg(ctx, concatArgs); err != nil {
		return "", fmt.Errorf("concatenate preview clips: %w", err)
	}
	return out, nil
}

// screenshots distributes N timestamps across the middle 90% of duration:
// start + (i + 0.5) * interval, where interval = usable / N.
func (g *Generator) screenshots(ctx context.Context, videoPath, workDir string, duration time.Duration, settings Settings) ([]string, error) {
	n := settings.ScreenshotCount
	if n <= 0 {
		n = 5
	}

	margin := duration / 20 // 5%
	usable := duration - 2*margin
	if usable <= 0 {
		return nil, fmt.Errorf("source too short for screenshots")
	}
	interval := usable / time.Duration(n)

	var paths []string
	var firstErr error
	for i := 0; i < n; i++ {
		ts := margin + time.Duration((float64(i)+0.5)*float64(interval))
		out := filepath.Join(workDir, fmt.Sprintf("screenshot_%02d.jpg", i))
		args := []string{
			"-y", "-ss", formatTimestamp(ts), "-i", videoPath,
			"-frames:v", "1",
			"-vf", "scale='min(1280,iw)':'min(720,ih)':force_original_aspect_ratio=decrease",
			out,
		}
		if err := g.runFFmpeg(ctx, args); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		paths = append(paths, out)
	}
	if len(paths) == 0 {
		return nil, firstErr
	}
	return paths, nil
}

func (g *Generator) runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, g.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, truncate(string(out), 2000))
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

func formatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := d.Seconds()
	h := int(total) / 3600
	m := (int(total) % 3600) / 60
	s := total - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}
