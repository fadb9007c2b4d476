// Package pipeline drives a single Job through its seven stages —
// Prepare, Download, Transcode, Artifacts, Upload, Report, Cleanup —
// wiring together the Settings Store, Command Builder, Transcode Driver,
// Artifact Generator, Run History Store, and Path & Resource Guard behind
// one sequential Controller.Run call. Scheduling model is single-threaded
// cooperative: nothing here overlaps with another job (the Queue enforces
// at most one Running job at a time).
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adittyamondal/vcompress/internal/artifacts"
	"github.com/adittyamondal/vcompress/internal/chat"
	"github.com/adittyamondal/vcompress/internal/config"
	"github.com/adittyamondal/vcompress/internal/ffmpeg"
	"github.com/adittyamondal/vcompress/internal/guard"
	"github.com/adittyamondal/vcompress/internal/history"
	"github.com/adittyamondal/vcompress/internal/jobs"
	"github.com/adittyamondal/vcompress/internal/logger"
	"github.com/adittyamondal/vcompress/internal/reporter"
	"github.com/adittyamondal/vcompress/internal/settings"
)

// Kind classifies a stage failure for the error-handling policy in §7:
// which ones surface to the user and which are logged only.
type Kind string

const (
	KindPathInvalid     Kind = "path_invalid"
	KindSizeExceeded    Kind = "size_exceeded"
	KindDownloadFailed  Kind = "download_failed"
	KindTranscodeFailed Kind = "transcode_failed"
	KindCancelled       Kind = "cancelled"
	KindUploadFailed    Kind = "upload_failed"
	KindArtifactFailed  Kind = "artifact_failed"
	KindReportFailed    Kind = "report_failed"
)

// Error is the discriminated stage error threaded back up to the worker
// loop instead of relying on ambient exception propagation. Stage records
// which of the seven stages produced it.
type Error struct {
	Stage jobs.Stage
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Dirs are the working directories the guard validates deletions against
// and the pipeline stages read/write under.
type Dirs struct {
	Downloads string
	Encode    string
	Temp      string
	Thumb     string
}

// Controller drives one Job end to end.
type Controller struct {
	cfg       *config.Config
	dirs      Dirs
	queue     *jobs.Queue
	settings  *settings.Store
	detector  *ffmpeg.Detector
	prober    *ffmpeg.Prober
	transcode *ffmpeg.Driver
	artifacts *artifacts.Generator
	history   *history.Store
	guard     *guard.Guard
	reporter  *reporter.Reporter
	callbacks *jobs.CallbackRegistry
	tokens    *jobs.TokenRegistry

	downloader chat.Downloader
	uploader   chat.Uploader
	messenger  chat.Messenger
}

// New constructs a Controller. All dependencies are required except
// downloader/uploader/messenger, which may be nil in tests that only
// exercise stages not reaching the chat transport.
func New(
	cfg *config.Config,
	dirs Dirs,
	queue *jobs.Queue,
	settingsStore *settings.Store,
	detector *ffmpeg.Detector,
	prober *ffmpeg.Prober,
	transcodeDriver *ffmpeg.Driver,
	artifactsGen *artifacts.Generator,
	historyStore *history.Store,
	g *guard.Guard,
	rep *reporter.Reporter,
	callbacks *jobs.CallbackRegistry,
	tokens *jobs.TokenRegistry,
	downloader chat.Downloader,
	uploader chat.Uploader,
	messenger chat.Messenger,
) *Controller {
	return &Controller{
		cfg: cfg, dirs: dirs, queue: queue, settings: settingsStore,
		detector: detector, prober: prober, transcode: transcodeDriver,
		artifacts: artifactsGen, history: historyStore, guard: g, reporter: rep,
		callbacks: callbacks, tokens: tokens, downloader: downloader, uploader: uploader, messenger: messenger,
	}
}

// Run drives job through all seven stages. It never panics or returns an
// error that would leak past the worker loop's recover boundary — every
// outcome is reflected onto the Queue (CompleteJob/FailJob/CancelJob) and
// returned here only so the caller can log it.
func (c *Controller) Run(ctx context.Context, job *jobs.Job) error {
	cancel := jobs.NewCancelToken()
	handle := strconv.FormatInt(job.Origin.StatusMsgID, 10)

	if err := c.queue.StartJob(job.ID); err != nil {
		return err
	}
	if c.tokens != nil {
		c.tokens.Register(job.Seq, cancel)
	}

	inputPath, err := c.prepare(job)
	if err != nil {
		return c.fail(job, jobs.StagePrepare, KindPathInvalid, err)
	}
	job.InputPath = inputPath

	downloadStart := time.Now()
	c.queue.SetStage(job.ID, jobs.StageDownload)
	if err := c.download(ctx, job, inputPath, handle); err != nil {
		os.Remove(inputPath)
		if cancel.Cancelled() {
			return c.cancelled(job)
		}
		return c.fail(job, jobs.StageDownload, classifyDownloadErr(err), err)
	}
	downloadMS := time.Since(downloadStart).Milliseconds()

	probeResult, err := c.prober.Probe(ctx, inputPath)
	if err != nil {
		os.Remove(inputPath)
		return c.fail(job, jobs.StageDownload, KindDownloadFailed, fmt.Errorf("probe downloaded file: %w", err))
	}

	c.queue.SetStage(job.ID, jobs.StageTranscode)
	transcodeStart := time.Now()
	transcodeResult, engine, profile, err := c.transcodeStage(ctx, job, inputPath, cancel)
	compressMS := time.Since(transcodeStart).Milliseconds()
	if err != nil {
		if ffmpeg.ErrCancelled(err) || cancel.Cancelled() {
			os.Remove(inputPath)
			return c.cancelled(job)
		}
		return c.fail(job, jobs.StageTranscode, KindTranscodeFailed, err)
	}
	outCat := c.settings.GetCategory("output_settings", job.Origin.UserID)
	autoDelete := boolField(outCat, "auto_delete_original", false)

	finalPath, err := ffmpeg.FinalizeTranscode(inputPath, transcodeResult.OutputPath, autoDelete)
	if err != nil {
		return c.fail(job, jobs.StageTranscode, KindTranscodeFailed, fmt.Errorf("finalize transcode output: %w", err))
	}
	transcodeResult.OutputPath = finalPath
	job.OutputPath = finalPath

	key := c.callbacks.Register(jobs.CallbackEntry{
		OutputPath: finalPath,
		InputPath:  inputPath,
		JobSeq:     job.Seq,
	})
	if c.messenger != nil {
		_, _ = c.messenger.SendButtons(ctx, job.Origin.ChatID, job.Origin.StatusMsgID,
			"Transcode complete.", []chat.Button{
				{Label: "STATS", Payload: "stats" + key},
				{Label: "CANCEL", Payload: "skip" + key},
			})
	}

	c.queue.SetStage(job.ID, jobs.StageArtifacts)
	artifactResult := c.artifactsStage(ctx, job, finalPath, probeResult.Duration)

	c.queue.SetStage(job.ID, jobs.StageUpload)
	uploadStart := time.Now()
	if err := c.upload(ctx, job, transcodeResult, probeResult, artifactResult, profile, handle); err != nil {
		return c.fail(job, jobs.StageUpload, KindUploadFailed, err)
	}
	uploadMS := time.Since(uploadStart).Milliseconds()

	stats := jobs.RunStats{
		OriginalBytes:   transcodeResult.InputSize,
		CompressedBytes: transcodeResult.OutputSize,
		DownloadMS:      downloadMS,
		CompressMS:      compressMS,
		UploadMS:        uploadMS,
		EngineLabel:     string(engine),
	}

	c.report(job, stats)

	c.cleanup(transcodeResult.OutputPath, artifactResult)

	if err := c.queue.CompleteJob(job.ID, stats); err != nil {
		return err
	}
	c.forgetJob(job.Seq)
	return nil
}

// forgetJob releases everything keyed by a job's sequence number once it
// reaches a terminal state: its inline-button callback entry and its
// CancelToken registration.
func (c *Controller) forgetJob(jobSeq int64) {
	c.callbacks.Forget(jobSeq)
	if c.tokens != nil {
		c.tokens.Forget(jobSeq)
	}
}

// prepare sanitizes the target filename and confirms it resolves under the
// downloads directory, creating directories as needed.
func (c *Controller) prepare(job *jobs.Job) (string, error) {
	c.queue.SetStage(job.ID, jobs.StagePrepare)

	var suggested string
	if job.Payload.Upload != nil {
		suggested = job.Payload.Upload.SuggestedName
	} else if job.Payload.Link != nil {
		suggested = job.Payload.Link.SuggestedName
	}
	if suggested == "" {
		suggested = fmt.Sprintf("job-%d.mp4", job.Seq)
	}
	clean := guard.SanitizeFilename(suggested)

	if err := os.MkdirAll(c.dirs.Downloads, 0755); err != nil {
		return "", fmt.Errorf("create downloads directory: %w", err)
	}
	path := filepath.Join(c.dirs.Downloads, fmt.Sprintf("%d-%s", job.Seq, clean))
	if !c.guard.ValidatePath(path) {
		return "", fmt.Errorf("sanitized download path resolves outside the working directory: %s", path)
	}
	return path, nil
}

func (c *Controller) download(ctx context.Context, job *jobs.Job, inputPath, handle string) error {
	f, err := os.Create(inputPath)
	if err != nil {
		return fmt.Errorf("create download destination: %w", err)
	}
	defer f.Close()

	maxBytes := int64(c.cfg.MaxFileSizeMiB) * 1024 * 1024
	start := time.Now()
	progress := func(current, total int64) {
		if c.reporter != nil {
			c.reporter.Report(ctx, current, total, handle, start, "Downloading", filepath.Base(inputPath), "")
		}
	}

	if job.Payload.Upload != nil {
		if job.Payload.Upload.Size > maxBytes {
			return &Error{Stage: jobs.StageDownload, Kind: KindSizeExceeded, Err: fmt.Errorf("upload size %d exceeds max_file_size", job.Payload.Upload.Size)}
		}
		if c.downloader == nil {
			return fmt.Errorf("no downloader configured for upload source")
		}
		return c.downloader.DownloadUpload(ctx, job.Payload.Upload.Locator, f, progress)
	}

	if job.Payload.Link != nil {
		if c.downloader == nil {
			return fmt.Errorf("no downloader configured for link source")
		}
		_, err := c.downloader.DownloadLink(ctx, job.Payload.Link.URL, f, maxBytes, progress)
		return err
	}

	return fmt.Errorf("job has neither an upload nor a link source")
}

func classifyDownloadErr(err error) Kind {
	var sizeErr *Error
	if e, ok := err.(*Error); ok {
		sizeErr = e
	}
	if sizeErr != nil && sizeErr.Kind == KindSizeExceeded {
		return KindSizeExceeded
	}
	return KindDownloadFailed
}

func (c *Controller) transcodeStage(ctx context.Context, job *jobs.Job, inputPath string, cancel *jobs.CancelToken) (*ffmpeg.TranscodeResult, ffmpeg.Engine, ffmpeg.EncodeProfile, error) {
	profile, err := c.settings.ActiveProfile(job.Origin.UserID)
	if err != nil {
		return nil, "", profile, fmt.Errorf("resolve active encode profile: %w", err)
	}
	engine := c.detector.Detect(ctx)

	wm := resolveWatermark(c.settings.GetCategory("advanced_settings", job.Origin.UserID))

	if err := os.MkdirAll(c.dirs.Encode, 0755); err != nil {
		return nil, engine, profile, fmt.Errorf("create encode directory: %w", err)
	}
	outputPath := ffmpeg.BuildTempPath(inputPath, c.dirs.Encode)

	result, err := c.transcode.Run(ctx, inputPath, outputPath, profile, engine, wm, cancel)
	if err != nil {
		return nil, engine, profile, err
	}
	return result, engine, profile, nil
}

// resolveWatermark resolves an advanced_settings category map into a
// ffmpeg.Watermark, defaulting every field that is absent or the wrong type.
func resolveWatermark(cat map[string]any) ffmpeg.Watermark {
	wm := ffmpeg.Watermark{Position: ffmpeg.WatermarkBottomRight}
	if v, ok := cat["watermark_enabled"].(bool); ok {
		wm.Enabled = v
	}
	if v, ok := cat["watermark_text"].(string); ok {
		wm.Text = v
	}
	if v, ok := cat["watermark_position"].(string); ok {
		wm.Position = ffmpeg.WatermarkPosition(v)
	}
	return wm
}

func (c *Controller) artifactsStage(ctx context.Context, job *jobs.Job, outputPath string, duration time.Duration) artifacts.Result {
	previewCat := c.settings.GetCategory("preview_settings", job.Origin.UserID)
	thumbCat := c.settings.GetCategory("thumbnail_settings", job.Origin.UserID)

	workDir := filepath.Dir(outputPath)
	as := artifacts.Settings{
		ThumbnailCustomURL: stringField(thumbCat, "custom_url"),
		ThumbnailAutoGen:    boolField(thumbCat, "auto_generate", true),
		EnablePreview:       boolField(previewCat, "enable_video_preview", true),
		PreviewDuration:     time.Duration(intField(previewCat, "preview_duration", 10)) * time.Second,
		EnableScreenshots:   boolField(previewCat, "enable_screenshots", true),
		ScreenshotCount:     jobs.ClampScreenshotCount(intField(previewCat, "screenshot_count", 5)),
	}
	return c.artifacts.Generate(ctx, outputPath, workDir, duration, as)
}

func (c *Controller) upload(ctx context.Context, job *jobs.Job, result *ffmpeg.TranscodeResult, probe *ffmpeg.ProbeResult, artifactResult artifacts.Result, profile ffmpeg.EncodeProfile, handle string) error {
	if c.uploader == nil {
		return fmt.Errorf("no uploader configured")
	}

	outCat := c.settings.GetCategory("output_settings", job.Origin.UserID)
	mode := chat.UploadModeDocument
	if stringField(outCat, "default_upload_mode") == "file" {
		mode = chat.UploadModeFile
	}

	template := stringField(outCat, "filename_template")
	if template == "" {
		template = c.cfg.FilenameTemplate
	}
	originalName := strings.TrimSuffix(filepath.Base(job.InputPath), filepath.Ext(job.InputPath))
	displayName := renderFilenameTemplate(template, originalName, job.PresetID, profile.Codec, profile.ScaleHeight, time.Now())

	caption := fmt.Sprintf("%s\nDuration: %s", displayName, probe.Duration.Round(time.Second))
	start := time.Now()
	progress := func(current, total int64) {
		if c.reporter != nil {
			c.reporter.Report(ctx, current, total, handle, start, "Uploading", displayName, "")
		}
	}

	return c.uploader.UploadFile(ctx, job.Origin.ChatID, result.OutputPath, caption, mode, artifactResult.ThumbnailPath, progress)
}

func (c *Controller) report(job *jobs.Job, stats jobs.RunStats) {
	c.queue.SetStage(job.ID, jobs.StageReport)

	if c.messenger != nil {
		saved := stats.OriginalBytes - stats.CompressedBytes
		pct := 0.0
		if stats.OriginalBytes > 0 {
			pct = float64(saved) * 100 / float64(stats.OriginalBytes)
		}
		text := fmt.Sprintf("Done. Saved %.1f%% (%d -> %d bytes). Engine: %s",
			pct, stats.OriginalBytes, stats.CompressedBytes, stats.EngineLabel)
		if _, err := c.messenger.SendMessage(context.Background(), job.Origin.ChatID, text); err != nil {
			logger.Warn("failed to send completion report", "job_id", job.ID, "error", err)
		}
	}

	if c.history != nil {
		c.history.RecordSafely(history.RunHistoryRecord{
			JobSeq:     job.Seq,
			DedupeKey:  job.DedupeKey,
			UserID:     job.Origin.UserID,
			PresetID:   job.PresetID,
			Status:     jobs.StatusComplete,
			Stats:      stats,
			FinishedAt: time.Now(),
		})
	}
}

// cleanup always runs once the job reaches the Report stage: the delivered
// output and any artifact side-files are removed. Original-file disposal
// already happened inside FinalizeTranscode (replace vs keep-as-.old, per
// auto_delete_original) when the transcode was finalized. Every deletion is
// gated by the guard — nothing here ever touches a path outside the
// validated working directories.
func (c *Controller) cleanup(outputPath string, artifactResult artifacts.Result) {
	paths := []string{outputPath, artifactResult.ThumbnailPath, artifactResult.PreviewPath}
	paths = append(paths, artifactResult.ScreenshotPaths...)
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := c.guard.Remove(p); err != nil {
			logger.Warn("cleanup failed to remove file", "path", p, "error", err)
		}
	}
}

func (c *Controller) fail(job *jobs.Job, stage jobs.Stage, kind Kind, err error) error {
	pe := &Error{Stage: stage, Kind: kind, Err: err}
	logger.Error("pipeline stage failed", "job_id", job.ID, "stage", stage, "kind", kind, "error", err)
	if c.messenger != nil {
		_, _ = c.messenger.SendMessage(context.Background(), job.Origin.ChatID, fmt.Sprintf("Failed at %s: %v", stage, err))
	}
	_ = c.queue.FailJob(job.ID, err.Error())
	c.forgetJob(job.Seq)
	return pe
}

func (c *Controller) cancelled(job *jobs.Job) error {
	if c.messenger != nil {
		_, _ = c.messenger.SendMessage(context.Background(), job.Origin.ChatID, "Cancelled.")
	}
	err := c.queue.CancelJob(job.ID)
	c.forgetJob(job.Seq)
	return err
}

// renderFilenameTemplate substitutes {original_name}, {preset}, {resolution},
// {codec}, {date}, {time} placeholders.
func renderFilenameTemplate(template, originalName, preset, codec string, scaleHeight int, at time.Time) string {
	resolution := "source"
	if scaleHeight > 0 {
		resolution = strconv.Itoa(scaleHeight) + "p"
	}
	r := strings.NewReplacer(
		"{original_name}", originalName,
		"{preset}", preset,
		"{resolution}", resolution,
		"{codec}", codec,
		"{date}", at.Format("2006-01-02"),
		"{time}", at.Format("15-04-05"),
	)
	return r.Replace(template)
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolField(m map[string]any, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func intField(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
