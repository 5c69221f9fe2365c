package audio

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/podly-labs/podflow"
)

// renderJob carries the per-run scratch layout and resolved line metadata.
// All paths under root are removed when the job finishes, success or not;
// assetDir is a shared cache and survives.
type renderJob struct {
	id        string
	baseName  string
	root      string
	linesDir  string
	mixDir    string
	hlsDir    string
	assetDir  string
	rows      []any
	clipPaths []string
	clipNames []string
	bgmAsset   string
	padding    int
	ttsModel   string
	ttsBackend string
}

func newRenderJob(scratchBase, assetDir, id string, in PreviewInput) *renderJob {
	baseName := strings.ReplaceAll(id, "-", "_")
	root := filepath.Join(scratchBase, id)

	voices := in.Voices
	if len(voices) == 0 {
		voices = defaultVoices
	}

	job := &renderJob{
		id:         id,
		baseName:   baseName,
		root:       root,
		linesDir:   filepath.Join(root, "lines"),
		mixDir:     filepath.Join(root, "mix"),
		hlsDir:     filepath.Join(root, "hls"),
		assetDir:   assetDir,
		bgmAsset:   DefaultBGMAsset,
		padding:    in.PaddingMs,
		ttsModel:   in.TTSModel,
		ttsBackend: in.TTS,
	}
	if in.BGMID != "" {
		job.bgmAsset = in.BGMID + ".mp3"
	}
	if job.padding <= 0 {
		job.padding = DefaultPaddingMs
	}
	if job.ttsModel == "" {
		job.ttsModel = DefaultTTSModel
	}

	for i, line := range in.Script {
		name := fmt.Sprintf("%s%d.mp3", baseName, i)
		path := filepath.Join(job.linesDir, name)
		job.clipNames = append(job.clipNames, name)
		job.clipPaths = append(job.clipPaths, path)
		job.rows = append(job.rows, map[string]any{
			"text":  line.Text,
			"voice": voiceFor(line.Speaker, in.Speakers, voices),
			"path":  path,
		})
	}
	return job
}

func (j *renderJob) remotePrefix() string {
	return "stream/" + j.id
}

// synthesisGraph is the per-line sub-graph the fan-out instantiates: speak
// the line, then persist the returned buffer to the line's scratch file. A
// missing buffer fails the line.
func synthesisGraph(ttsModel, ttsBackend string) podflow.GraphSpec {
	speakParams := map[string]any{"model": ttsModel}
	if ttsBackend != "" {
		speakParams["backend"] = ttsBackend
	}
	return podflow.GraphSpec{
		Name: "line-synthesis",
		Nodes: map[string]podflow.NodeSpec{
			"row": {Value: &podflow.ValueSpec{}},
			"speak": {
				Agent:  "ttsSynthesize",
				Params: speakParams,
				Inputs: map[string]podflow.InputBinding{
					"text":  podflow.Ref("row.text"),
					"voice": podflow.Ref("row.voice"),
				},
			},
			"persist": {
				Agent: "writeFile",
				Inputs: map[string]podflow.InputBinding{
					"buffer": podflow.Ref("speak.buffer"),
					"path":   podflow.Ref("row.path"),
				},
				IsResult: true,
			},
		},
	}
}

// renderGraph assembles the full pipeline for one job. Asset downloads run
// alongside synthesis; everything downstream is ordered by data
// dependencies, with the upload gated on segmentation output.
func renderGraph(job *renderJob) *podflow.GraphSpec {
	clips := make([]any, len(job.clipPaths))
	for i, p := range job.clipPaths {
		clips[i] = p
	}

	return &podflow.GraphSpec{
		Name:        "audio-assembly",
		Concurrency: SynthesisConcurrency,
		Nodes: map[string]podflow.NodeSpec{
			"rows": {Value: &podflow.ValueSpec{Default: job.rows}},

			"synthesize": {
				Map: &podflow.MapSpec{
					RowsInput:   "rows",
					RowVar:      "row",
					Concurrency: SynthesisConcurrency,
					Graph:       synthesisGraph(job.ttsModel, job.ttsBackend),
				},
				Inputs: map[string]podflow.InputBinding{
					"rows": podflow.Ref("rows"),
				},
			},

			"shortSilence": {
				Agent: "objectStoreDownloadAsset",
				Inputs: map[string]podflow.InputBinding{
					"assetName": podflow.Lit(shortSilenceAsset),
					"localDir":  podflow.Lit(job.assetDir),
				},
			},
			"longSilence": {
				Agent: "objectStoreDownloadAsset",
				Inputs: map[string]podflow.InputBinding{
					"assetName": podflow.Lit(longSilenceAsset),
					"localDir":  podflow.Lit(job.assetDir),
				},
			},
			"bgm": {
				Agent: "objectStoreDownloadAsset",
				Inputs: map[string]podflow.InputBinding{
					"assetName": podflow.Lit(job.bgmAsset),
					"localDir":  podflow.Lit(job.assetDir),
				},
			},

			"combine": {
				Agent: "audioConcat",
				Inputs: map[string]podflow.InputBinding{
					"clips":        podflow.Lit(clips),
					"shortSilence": podflow.Ref("shortSilence.path"),
					"longSilence":  podflow.Ref("longSilence.path"),
					"outputPath":   podflow.Lit(filepath.Join(job.mixDir, job.baseName+".mp3")),
					"synthesized":  podflow.Ref("synthesize"),
				},
				IsResult: true,
			},

			"mix": {
				Agent:  "audioMixBGM",
				Params: map[string]any{"padding": job.padding},
				Inputs: map[string]podflow.InputBinding{
					"speechPath": podflow.Ref("combine.outputPath"),
					"musicPath":  podflow.Ref("bgm.path"),
					"outputPath": podflow.Lit(filepath.Join(job.mixDir, job.baseName+"_bgm.mp3")),
				},
				IsResult: true,
			},

			"segment": {
				Agent: "audioSegment",
				Inputs: map[string]podflow.InputBinding{
					"inputPath": podflow.Ref("mix.outputPath"),
					"outputDir": podflow.Lit(job.hlsDir),
					"baseName":  podflow.Lit(job.baseName),
				},
				IsResult: true,
			},

			"upload": {
				Agent: "objectStoreUpload",
				Inputs: map[string]podflow.InputBinding{
					"localDir": podflow.Lit(job.hlsDir),
					"prefix":   podflow.Lit(job.remotePrefix()),
					"manifest": podflow.Ref("segment.manifestPath"),
				},
				IsResult: true,
			},
		},
	}
}
