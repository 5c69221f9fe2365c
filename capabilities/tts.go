package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/podly-labs/podflow"
)

const (
	defaultTTSTimeout = 60 * time.Second
	defaultTTSVoice   = "shimmer"
	defaultTTSModel   = "tts-1"
)

// Synthesizer converts text to encoded audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, model string) ([]byte, error)
}

// TTSSynthesize speaks a line of text. Inputs: text (string), voice
// (string, optional). Params: backend, model, voice, timeout. The backend
// param selects among the registered synthesizers per request; unset falls
// back to defaultBackend. The output is {buffer: audio bytes}; an empty
// synthesis result is an error, since a silent line would corrupt the
// assembled episode.
func TTSSynthesize(backends map[string]Synthesizer, defaultBackend string) podflow.Definition {
	if defaultBackend == "" {
		defaultBackend = "openai"
	}
	return podflow.Definition{
		Name:        "ttsSynthesize",
		Description: "text-to-speech synthesis",
		Category:    "voice",
		Fn: func(ctx context.Context, in podflow.Inputs, params podflow.Params) (any, error) {
			ctx, cancel := podflow.WithCapabilityTimeout(ctx, params, defaultTTSTimeout)
			defer cancel()

			backend := params.String("backend", defaultBackend)
			synth, ok := backends[backend]
			if !ok {
				return podflow.Suppressed(params, &podflow.CapabilityError{
					Kind: podflow.KindTTS, Capability: "ttsSynthesize",
					Err: fmt.Errorf("unknown tts backend %q", backend),
				})
			}

			voice := in.String("voice")
			if voice == "" {
				voice = params.String("voice", defaultTTSVoice)
			}
			model := params.String("model", defaultTTSModel)

			buf, err := synth.Synthesize(ctx, in.String("text"), voice, model)
			if err != nil {
				if ctx.Err() != nil {
					err = &podflow.TimeoutError{Capability: "ttsSynthesize", Timeout: params.Duration("timeout", defaultTTSTimeout), Err: err}
				} else {
					err = &podflow.CapabilityError{Kind: podflow.KindTTS, Capability: "ttsSynthesize", Err: err}
				}
				return podflow.Suppressed(params, err)
			}
			if len(buf) == 0 {
				return podflow.Suppressed(params, &podflow.CapabilityError{
					Kind: podflow.KindTTS, Capability: "ttsSynthesize",
					Err: fmt.Errorf("synthesis returned no audio"),
				})
			}
			return map[string]any{"buffer": buf}, nil
		},
	}
}

// OpenAISynthesizer calls the OpenAI speech endpoint.
type OpenAISynthesizer struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewOpenAISynthesizer creates a synthesizer against the public OpenAI API.
func NewOpenAISynthesizer(apiKey string, httpClient *http.Client) *OpenAISynthesizer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAISynthesizer{
		APIKey:     apiKey,
		BaseURL:    "https://api.openai.com/v1",
		HTTPClient: httpClient,
	}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text, voice, model string) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"model":           model,
		"voice":           voice,
		"input":           text,
		"response_format": "mp3",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("openai speech: status %d: %s", resp.StatusCode, msg)
	}
	return io.ReadAll(resp.Body)
}

// pollyAPI is the slice of the Polly client the synthesizer uses.
type pollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollySynthesizer speaks through Amazon Polly. The model argument selects
// the engine: "neural" (default) or "standard".
type PollySynthesizer struct {
	client pollyAPI
}

// NewPollySynthesizer builds a Polly-backed synthesizer using the default
// AWS credential chain.
func NewPollySynthesizer(ctx context.Context, region string) (*PollySynthesizer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &PollySynthesizer{client: polly.NewFromConfig(awsCfg)}, nil
}

func (s *PollySynthesizer) Synthesize(ctx context.Context, text, voice, model string) ([]byte, error) {
	engine := pollytypes.EngineNeural
	if strings.EqualFold(model, "standard") {
		engine = pollytypes.EngineStandard
	}

	out, err := s.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voice),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || out.AudioStream == nil {
		return nil, fmt.Errorf("polly returned no audio stream")
	}
	defer out.AudioStream.Close()
	return io.ReadAll(out.AudioStream)
}
