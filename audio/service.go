package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/podly-labs/podflow"
)

// Service renders scripts into streamable audio. The registry it receives
// must carry the TTS, media, and storage capabilities.
type Service struct {
	registry    *podflow.Registry
	scratchBase string
	assetDir    string
	events      podflow.EventHandler
	logger      *slog.Logger
}

// NewService creates a Service. scratchBase hosts per-job scratch
// directories; assetDir is the shared cache for music and silence assets
// and is never removed by jobs.
func NewService(registry *podflow.Registry, scratchBase, assetDir string, events podflow.EventHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry:    registry,
		scratchBase: scratchBase,
		assetDir:    assetDir,
		events:      events,
		logger:      logger,
	}
}

// Preview synthesizes every line, assembles the padded and mixed track,
// segments it for streaming, and uploads the result. Scratch directories
// created for the job are removed on every exit path; removal failures are
// logged and never mask a pipeline failure.
func (s *Service) Preview(ctx context.Context, in PreviewInput) (out *PreviewOutput, err error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	id := in.ScriptID
	if id == "" {
		id = uuid.NewString()
	}
	job := newRenderJob(s.scratchBase, s.assetDir, id, in)

	for _, dir := range []string{job.linesDir, job.mixDir, job.hlsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating scratch dir: %w", err)
		}
	}
	defer func() {
		if rmErr := os.RemoveAll(job.root); rmErr != nil {
			s.logger.Warn("scratch cleanup failed", "job", job.id, "error", rmErr)
		}
	}()

	sched, err := podflow.NewScheduler(renderGraph(job), s.registry, podflow.Options{
		Concurrency:  SynthesisConcurrency,
		EventHandler: s.events,
	})
	if err != nil {
		return nil, err
	}

	bag, err := sched.Run(ctx)
	if err != nil {
		return nil, renderError(err, sched.Errors())
	}

	uploads, _ := bag["upload"].([]any)
	audioURL := manifestURL(uploads)
	if audioURL == "" {
		return nil, fmt.Errorf("render job %s: no manifest in upload results", job.id)
	}

	out = &PreviewOutput{
		AudioURL:           audioURL,
		SeparatedAudioUrls: job.clipNames,
		ScriptID:           id,
	}
	if mix, ok := bag["mix"].(map[string]any); ok {
		out.Duration, _ = mix["duration"].(float64)
	}
	if combine, ok := bag["combine"].(map[string]any); ok {
		if durations, ok := combine["durations"].([]any); ok {
			for _, d := range durations {
				if f, ok := d.(float64); ok {
					out.LineDurations = append(out.LineDurations, f)
				}
			}
		}
	}

	s.logger.Info("audio preview rendered", "job", job.id, "duration", out.Duration, "lines", len(job.rows))
	return out, nil
}

// renderError surfaces a per-line TTSError when a synthesis instance was
// the root cause; other failures pass through.
func renderError(runErr error, nodeErrs []podflow.NodeError) error {
	for _, ne := range nodeErrs {
		rest, ok := strings.CutPrefix(ne.NodeID, "synthesize[")
		if !ok {
			continue
		}
		idxStr, _, ok := strings.Cut(rest, "]")
		if !ok {
			continue
		}
		if idx, err := strconv.Atoi(idxStr); err == nil {
			return &TTSError{Line: idx, Err: ne.Err}
		}
	}
	return runErr
}

func manifestURL(uploads []any) string {
	for _, u := range uploads {
		m, ok := u.(map[string]any)
		if !ok {
			continue
		}
		key, _ := m["key"].(string)
		if strings.HasSuffix(key, ".m3u8") {
			url, _ := m["url"].(string)
			return url
		}
	}
	return ""
}
