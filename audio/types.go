// Package audio composes the audio-assembly pipeline: per-line speech
// synthesis under a bounded fan-out, silence-padded concatenation,
// background-music mixing, streaming segmentation, and upload, with
// job-scoped scratch directories that are always removed.
package audio

import (
	"fmt"

	"github.com/podly-labs/podflow/script"
)

// Defaults applied when a preview request leaves fields unset.
const (
	DefaultBGMAsset      = "starsBeyondEx.mp3"
	DefaultPaddingMs     = 4000
	DefaultTTSModel      = "tts-1"
	SynthesisConcurrency = 8

	shortSilenceAsset = "silent300.mp3"
	longSilenceAsset  = "silent800.mp3"
)

var defaultVoices = []string{"shimmer", "echo"}

// PreviewInput is a request to render a script into streamable audio.
type PreviewInput struct {
	ScriptID  string        `json:"scriptId,omitempty"`
	Script    []script.Line `json:"script"`
	Speakers  []string      `json:"speakers,omitempty"`
	Voices    []string      `json:"voices,omitempty"`
	BGMID     string        `json:"bgmId,omitempty"`
	PaddingMs int           `json:"padding,omitempty"`

	// TTS names the speech backend for this job ("openai" or "polly");
	// empty uses the deployment default.
	TTS      string `json:"tts,omitempty"`
	TTSModel string `json:"ttsModel,omitempty"`
}

// PreviewOutput reports where the rendered episode lives.
type PreviewOutput struct {
	AudioURL           string    `json:"audioUrl"`
	SeparatedAudioUrls []string  `json:"separatedAudioUrls"`
	ScriptID           string    `json:"scriptId"`
	Duration           float64   `json:"duration"`
	LineDurations      []float64 `json:"lineDurations,omitempty"`
}

// TTSError reports a line whose synthesis produced no usable audio.
type TTSError struct {
	Line int
	Err  error
}

func (e *TTSError) Error() string {
	return fmt.Sprintf("tts failed for line %d: %v", e.Line, e.Err)
}

func (e *TTSError) Unwrap() error { return e.Err }

// Validate checks the request before any scratch state is created.
func (in *PreviewInput) Validate() error {
	if len(in.Script) == 0 {
		return fmt.Errorf("script must not be empty")
	}
	for i, line := range in.Script {
		if line.Text == "" {
			return fmt.Errorf("script line %d has no text", i)
		}
	}
	return nil
}

// voiceFor resolves a speaker to a voice: the explicit speaker→voice map
// entry when present, else the first configured voice.
func voiceFor(speaker string, speakers, voices []string) string {
	for i, s := range speakers {
		if s == speaker && i < len(voices) {
			return voices[i]
		}
	}
	if len(voices) > 0 {
		return voices[0]
	}
	return defaultVoices[0]
}
