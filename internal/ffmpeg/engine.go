package ffmpeg

import (
	"context"
	"os/exec"
	"sync"
	"time"
)

// Engine identifies the detected hardware execution target for the
// transcoder. This spec recognizes only the CPU and NVIDIA (NVENC) paths,
// matching the Python original's detect_gpu() distinction — no QSV/VAAPI/
// VideoToolbox matrix.
type Engine string

const (
	EngineCPU    Engine = "cpu"
	EngineNVIDIA Engine = "nvidia"
)

// Detector probes ffmpeg for a working NVENC encoder and caches the result.
type Detector struct {
	ffmpegPath string

	mu       sync.Mutex
	detected bool
	engine   Engine
}

// NewDetector creates a Detector for the given ffmpeg binary.
func NewDetector(ffmpegPath string) *Detector {
	return &Detector{ffmpegPath: ffmpegPath}
}

// Detect returns the engine to use, probing ffmpeg at most once per process
// lifetime. A single-frame lavfi test encode confirms the NVENC encoder
// actually works, not merely that ffmpeg was built with it.
func (d *Detector) Detect(ctx context.Context) Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detected {
		return d.engine
	}
	d.detected = true
	d.engine = EngineCPU
	if d.testNVENC(ctx) {
		d.engine = EngineNVIDIA
	}
	return d.engine
}

func (d *Detector) testNVENC(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	args := []string{
		"-hwaccel", "cuda",
		"-hwaccel_output_format", "cuda",
		"-f", "lavfi",
		"-i", "color=c=black:s=256x256:d=0.1",
		"-frames:v", "1",
		"-c:v", "h264_nvenc",
		"-f", "null",
		"-",
	}
	return exec.CommandContext(ctx, d.ffmpegPath, args...).Run() == nil
}
