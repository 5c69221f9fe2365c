package media

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// Default encoding constants for the streaming output.
const (
	DefaultSegmentSeconds = 6
	hlsAudioBitrate       = "128k"
)

// Engine invokes ffmpeg and ffprobe. Binary paths default to the bare
// command names so PATH resolution applies; deployments with bundled
// binaries set them explicitly.
type Engine struct {
	FFmpegPath  string
	FFprobePath string
	Runner      Runner
	Logger      *slog.Logger
}

// NewEngine creates an Engine with the given binary paths. Empty paths fall
// back to "ffmpeg" and "ffprobe".
func NewEngine(ffmpegPath, ffprobePath string, logger *slog.Logger) *Engine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		Runner:      ExecRunner{},
		Logger:      logger,
	}
}

// Round3 rounds seconds to millisecond precision, matching how durations are
// reported throughout the pipeline.
func Round3(sec float64) float64 {
	return math.Round(sec*1000) / 1000
}

// Duration returns the playback length of an audio file in seconds. Probe
// failures degrade to zero with a warning rather than failing the caller;
// durations feed timeline metadata, not correctness.
func (e *Engine) Duration(ctx context.Context, path string) float64 {
	out, err := e.Runner.Run(ctx, e.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		e.Logger.Warn("ffprobe failed", "path", path, "error", err)
		return 0
	}
	sec, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || math.IsNaN(sec) || math.IsInf(sec, 0) {
		e.Logger.Warn("ffprobe returned no duration", "path", path)
		return 0
	}
	return sec
}

// ConcatResult reports the combined file and the per-clip durations,
// including the trailing silence attributed to each clip.
type ConcatResult struct {
	OutputPath string
	Durations  []float64
}

// Concat joins the ordered clips into one track, appending shortSilence
// after every clip except the last and longSilence after the last. The
// terminal pause is deliberately longer than the internal ones so the mixed
// track does not end abruptly.
func (e *Engine) Concat(ctx context.Context, clips []string, shortSilence, longSilence, outputPath string) (ConcatResult, error) {
	if len(clips) == 0 {
		return ConcatResult{}, fmt.Errorf("concat: no input clips")
	}

	args := []string{"-y"}
	for i, clip := range clips {
		args = append(args, "-i", clip)
		if i == len(clips)-1 {
			args = append(args, "-i", longSilence)
		} else {
			args = append(args, "-i", shortSilence)
		}
	}
	args = append(args,
		"-filter_complex", fmt.Sprintf("concat=n=%d:v=0:a=1[out]", len(clips)*2),
		"-map", "[out]",
		outputPath,
	)

	if _, err := e.Runner.Run(ctx, e.FFmpegPath, args...); err != nil {
		return ConcatResult{}, fmt.Errorf("concat: %w", err)
	}

	durations := make([]float64, len(clips))
	for i, clip := range clips {
		pause := 0.3
		if i == len(clips)-1 {
			pause = 0.8
		}
		durations[i] = Round3(e.Duration(ctx, clip) + pause)
	}

	e.Logger.Debug("clips combined", "count", len(clips), "output", outputPath)
	return ConcatResult{OutputPath: outputPath, Durations: durations}, nil
}

// MixResult reports the mixed file and its planned playback duration in
// seconds.
type MixResult struct {
	OutputPath string
	Duration   float64
}

// MixBGM lays the speech track over a background music bed: the speech is
// delayed by paddingMs and boosted, the music is attenuated, the mix is
// trimmed to speech length plus symmetric padding, and the tail fades out
// over the padding window.
func (e *Engine) MixBGM(ctx context.Context, speechPath, musicPath string, paddingMs int, outputPath string) (MixResult, error) {
	if paddingMs <= 0 {
		paddingMs = 4000
	}

	speechSec := e.Duration(ctx, speechPath)
	paddingSec := float64(paddingMs) / 1000
	totalSec := 2*paddingSec + math.Round(speechSec)

	filter := strings.Join([]string{
		fmt.Sprintf("[1:a]adelay=%d|%d,volume=4[a1]", paddingMs, paddingMs),
		"[0:a]volume=0.2[a0]",
		"[a0][a1]amix=inputs=2:duration=longest:dropout_transition=3[amixed]",
		fmt.Sprintf("[amixed]atrim=start=0:end=%s[trimmed]", formatSeconds(totalSec)),
		fmt.Sprintf("[trimmed]afade=t=out:st=%s:d=%s[final]",
			formatSeconds(totalSec-paddingSec), formatSeconds(paddingSec)),
	}, ";")

	args := []string{
		"-y",
		"-i", musicPath,
		"-i", speechPath,
		"-filter_complex", filter,
		"-map", "[final]",
		outputPath,
	}

	if _, err := e.Runner.Run(ctx, e.FFmpegPath, args...); err != nil {
		return MixResult{}, fmt.Errorf("mix bgm: %w", err)
	}

	planned := Round3(speechSec + 2*paddingSec)
	e.Logger.Debug("bgm mixed", "output", outputPath, "duration", planned)
	return MixResult{OutputPath: outputPath, Duration: planned}, nil
}

// SegmentHLS transcodes the input into fixed-length AAC segments plus a VOD
// manifest listing all of them, written under outputDir as
// {baseName}_%03d.ts and {baseName}.m3u8. It returns the manifest path.
func (e *Engine) SegmentHLS(ctx context.Context, inputPath, outputDir, baseName string, segmentSeconds int) (string, error) {
	if segmentSeconds <= 0 {
		segmentSeconds = DefaultSegmentSeconds
	}
	manifestPath := filepath.Join(outputDir, baseName+".m3u8")

	args := []string{
		"-y",
		"-i", inputPath,
		"-ac", "2",
		"-c:a", "aac",
		"-b:a", hlsAudioBitrate,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_list_size", "0",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", filepath.Join(outputDir, baseName+"_%03d.ts"),
		"-preset", "veryfast",
		"-movflags", "+faststart",
		manifestPath,
	}

	if _, err := e.Runner.Run(ctx, e.FFmpegPath, args...); err != nil {
		return "", fmt.Errorf("hls segment: %w", err)
	}

	e.Logger.Debug("hls generated", "manifest", manifestPath)
	return manifestPath, nil
}

// formatSeconds renders a duration without scientific notation or trailing
// zeros, the way ffmpeg filter arguments expect.
func formatSeconds(sec float64) string {
	return strconv.FormatFloat(Round3(sec), 'f', -1, 64)
}
