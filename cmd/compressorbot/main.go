package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/adittyamondal/vcompress/internal/artifacts"
	"github.com/adittyamondal/vcompress/internal/chat"
	"github.com/adittyamondal/vcompress/internal/config"
	"github.com/adittyamondal/vcompress/internal/ffmpeg"
	"github.com/adittyamondal/vcompress/internal/guard"
	"github.com/adittyamondal/vcompress/internal/history"
	"github.com/adittyamondal/vcompress/internal/jobs"
	"github.com/adittyamondal/vcompress/internal/logger"
	"github.com/adittyamondal/vcompress/internal/pipeline"
	"github.com/adittyamondal/vcompress/internal/reporter"
	"github.com/adittyamondal/vcompress/internal/router"
	"github.com/adittyamondal/vcompress/internal/settings"
)

// inboundQueueSize bounds how many decoded chat events may sit waiting for
// the Router before a real transport would need to apply its own
// backpressure; this binary has no real transport yet (see NoopTransport),
// so nothing currently sends on this channel.
const inboundQueueSize = 64

// pollInterval is how often the worker loop checks the queue for the next
// job when it is idle. The scheduling model is single-threaded cooperative
// (§5): this sleep is the only thing separating one TakeNext poll from the
// next when nothing is queued.
const pollInterval = 3 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	logger.Init(cfg.LogLevel)
	logger.Info("starting compressorbot", "owners", len(cfg.Owners), "max_queue_size", cfg.MaxQueueSize)

	printBanner(cfg)

	dirs := pipeline.Dirs{
		Downloads: filepath.Join(cfg.MediaPath, "downloads"),
		Encode:    filepath.Join(cfg.MediaPath, "encode"),
		Temp:      orDefault(cfg.TempPath, filepath.Join(cfg.MediaPath, "temp")),
		Thumb:     filepath.Join(cfg.MediaPath, "thumb"),
	}
	for _, d := range []string{dirs.Downloads, dirs.Encode, dirs.Temp, dirs.Thumb} {
		if err := os.MkdirAll(d, 0755); err != nil {
			log.Fatalf("create working directory %s: %v", d, err)
		}
	}

	g, err := guard.New(cfg.MediaPath)
	if err != nil {
		log.Fatalf("initialize path guard: %v", err)
	}
	stopSweeper, err := g.StartSweeper([]string{dirs.Downloads, dirs.Encode, dirs.Temp}, time.Hour)
	if err != nil {
		log.Fatalf("start scratch-file sweeper: %v", err)
	}
	defer stopSweeper()

	detector := ffmpeg.NewDetector(cfg.FFmpegPath)
	engine := detector.Detect(context.Background())
	logger.Info("detected transcode engine", "engine", engine)

	settingsStore, err := settings.Open(
		filepath.Join(cfg.MediaPath, "bot_settings.json"),
		filepath.Join(cfg.MediaPath, "user_settings.json"),
		engine,
	)
	if err != nil {
		log.Fatalf("initialize settings store: %v", err)
	}

	historyStore, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		log.Fatalf("initialize run history store: %v", err)
	}
	defer historyStore.Close()

	queue, err := jobs.NewQueue(cfg.QueueFile, cfg.MaxQueueSize)
	if err != nil {
		log.Fatalf("initialize job queue: %v", err)
	}

	prober := ffmpeg.NewProber(cfg.FFprobePath)
	transcodeDriver := ffmpeg.NewDriver(cfg.FFmpegPath)
	artifactsGen := artifacts.New(cfg.FFmpegPath, cfg.FFprobePath)
	callbacks := jobs.NewCallbackRegistry()
	tokens := jobs.NewTokenRegistry()

	transport := chat.NoopTransport{}
	progressReporter := reporter.New(transport, time.Duration(cfg.ProgressUpdateInterval)*time.Second)

	controller := pipeline.New(
		cfg, dirs, queue, settingsStore, detector, prober, transcodeDriver,
		artifactsGen, historyStore, g, progressReporter, callbacks, tokens,
		transport, transport, transport,
	)

	rt := router.New(cfg, queue, settingsStore, historyStore, callbacks, tokens, transport)
	inbound := make(chan router.Event, inboundQueueSize)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go runWorkerLoop(ctx, queue, controller, done)
	go rt.Listen(ctx, inbound)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	<-done
	os.Exit(0)
}

// printBanner prints the startup summary, colorizing the title when stdout
// is attached to a terminal (checked via go-isatty rather than assuming a
// TTY, so output piped to a log file stays plain-text).
func printBanner(cfg *config.Config) {
	title := "compressorbot"
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		title = "\x1b[1;36mcompressorbot\x1b[0m"
	}
	fmt.Println(title)
	fmt.Printf("  media path:   %s\n", cfg.MediaPath)
	fmt.Printf("  ffmpeg:       %s\n", cfg.FFmpegPath)
	fmt.Printf("  ffprobe:      %s\n", cfg.FFprobePath)
	fmt.Printf("  history db:   %s\n", cfg.HistoryDBPath)
	fmt.Println()
}

// runWorkerLoop is the single cooperative worker described in §5: at most
// one job drives the pipeline at a time, taken in FIFO order from the
// queue. A panic recovered here always clears the working flag via
// queue.Release so the queue can never wedge on a crashed job.
func runWorkerLoop(ctx context.Context, queue *jobs.Queue, controller *pipeline.Controller, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job := queue.TakeNext()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		runJob(ctx, queue, controller, job)
	}
}

func runJob(ctx context.Context, queue *jobs.Queue, controller *pipeline.Controller, job *jobs.Job) {
	defer queue.Release()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker recovered from panic driving job", "job_id", job.ID, "panic", r)
			_ = queue.FailJob(job.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := controller.Run(ctx, job); err != nil {
		logger.Warn("job finished with error", "job_id", job.ID, "error", err)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
