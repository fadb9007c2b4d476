package ffmpeg

import (
	"strconv"
	"strings"
)

// EncodeProfile is the resolved set of transcode parameters for a job —
// either a named preset or the user's custom_compression, with overrides
// already merged by the settings store.
type EncodeProfile struct {
	Codec                string `json:"v_codec"`
	SpeedPreset          string `json:"v_preset"`
	Profile              string `json:"v_profile"`
	Level                string `json:"v_level"`
	QualityQP            int    `json:"v_qp"`
	ScaleHeight          int    `json:"v_scale"` // 0 or -1: no scaling
	FPS                  int    `json:"v_fps"`   // 0: keep source frame rate
	AudioBitrate         string `json:"a_bitrate"`
	HardwareAccelEnabled bool   `json:"enable_hardware_acceleration"`
}

// WatermarkPosition names where a text overlay is drawn.
type WatermarkPosition string

const (
	WatermarkTopLeft     WatermarkPosition = "top-left"
	WatermarkTopRight    WatermarkPosition = "top-right"
	WatermarkBottomLeft  WatermarkPosition = "bottom-left"
	WatermarkBottomRight WatermarkPosition = "bottom-right"
	WatermarkCenter      WatermarkPosition = "center"
)

// Watermark describes an optional draw-text overlay.
type Watermark struct {
	Enabled  bool
	Text     string
	Position WatermarkPosition
}

func isHardwareCodec(codec string) bool {
	return strings.HasSuffix(codec, "_nvenc")
}

func watermarkCoords(pos WatermarkPosition) (x, y string) {
	const margin = "10"
	switch pos {
	case WatermarkTopLeft:
		return margin, margin
	case WatermarkTopRight:
		return "w-text_w-" + margin, margin
	case WatermarkBottomLeft:
		return margin, "h-text_h-" + margin
	case WatermarkCenter:
		return "(w-text_w)/2", "(h-text_h)/2"
	case WatermarkBottomRight:
		fallthrough
	default:
		return "w-text_w-" + margin, "h-text_h-" + margin
	}
}

// escapeDrawtext escapes a watermark string for embedding in a drawtext
// filter argument. Backslashes, colons, and percents are backslash-escaped;
// single quotes are replaced with a visually similar Unicode quote since a
// literal quote would terminate drawtext's own quoting.
func escapeDrawtext(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `:`, `\:`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `'`, "’")
	return s
}

// BuildArgs constructs the ffmpeg argument vector for a transcode, given the
// resolved profile, the detected engine, and an optional watermark. The
// output is deterministic for identical inputs and never shells out through
// an interpreted string.
func BuildArgs(inputPath, outputPath string, profile EncodeProfile, engine Engine, wm Watermark) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}

	hwAccel := engine == EngineNVIDIA && profile.HardwareAccelEnabled && isHardwareCodec(profile.Codec)
	if hwAccel {
		args = append(args, "-hwaccel", "cuda", "-hwaccel_output_format", "cuda")
	}

	args = append(args, "-i", inputPath)

	var filters []string
	scaling := profile.ScaleHeight > 0
	if scaling {
		if hwAccel {
			filters = append(filters, "scale_cuda=-2:"+strconv.Itoa(profile.ScaleHeight))
		} else {
			filters = append(filters, "scale=-2:"+strconv.Itoa(profile.ScaleHeight)+":force_original_aspect_ratio=decrease")
		}
	}
	if wm.Enabled {
		x, y := watermarkCoords(wm.Position)
		drawtext := "drawtext=text='" + escapeDrawtext(wm.Text) + "':x=" + x + ":y=" + y +
			":fontsize=24:fontcolor=white:box=1:boxcolor=black@0.5"
		if hwAccel {
			filters = append(filters, "hwdownload", "format=nv12", drawtext, "hwupload_cuda")
		} else {
			filters = append(filters, drawtext)
		}
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	args = append(args, "-c:v", profile.Codec)
	if profile.SpeedPreset != "" {
		args = append(args, "-preset", profile.SpeedPreset)
	}
	if profile.Profile != "" {
		args = append(args, "-profile:v", profile.Profile)
	}
	if profile.Level != "" {
		args = append(args, "-level", profile.Level)
	}
	if isHardwareCodec(profile.Codec) {
		args = append(args, "-qp", strconv.Itoa(profile.QualityQP))
	} else {
		args = append(args, "-crf", strconv.Itoa(profile.QualityQP))
	}

	if profile.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(profile.FPS))
	}
	args = append(args, "-c:a", "aac")
	if profile.AudioBitrate != "" {
		args = append(args, "-b:a", profile.AudioBitrate)
	}

	args = append(args, "-movflags", "+faststart", outputPath)
	return args
}

