package capabilities

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/podly-labs/podflow"
	"github.com/podly-labs/podflow/media"
	"github.com/podly-labs/podflow/store"
)

const defaultStoreTimeout = 120 * time.Second

// WriteFile persists an audio buffer to a scratch file. Inputs: buffer
// ([]byte), path (string). Parent directories are created as needed.
func WriteFile() podflow.Definition {
	return podflow.Definition{
		Name:        "writeFile",
		Description: "write an audio buffer to a scratch file",
		Category:    "media",
		Fn: func(_ context.Context, in podflow.Inputs, params podflow.Params) (any, error) {
			buf, ok := in["buffer"].([]byte)
			if !ok || len(buf) == 0 {
				return podflow.Suppressed(params, &podflow.CapabilityError{
					Kind: podflow.KindMedia, Capability: "writeFile",
					Err: fmt.Errorf("missing audio buffer"),
				})
			}
			path := in.String("path")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return podflow.Suppressed(params, mediaErr("writeFile", err))
			}
			if err := os.WriteFile(path, buf, 0o644); err != nil {
				return podflow.Suppressed(params, mediaErr("writeFile", err))
			}
			return map[string]any{"path": path}, nil
		},
	}
}

// AudioConcat joins ordered clips with asymmetric inter-line silences.
// Inputs: clips ([]string of paths), shortSilence, longSilence, outputPath.
// The output carries the combined path and per-clip durations including the
// trailing pause attributed to each clip.
func AudioConcat(engine *media.Engine) podflow.Definition {
	return podflow.Definition{
		Name:        "audioConcat",
		Description: "concatenate clips with trailing silences",
		Category:    "media",
		Fn: func(ctx context.Context, in podflow.Inputs, params podflow.Params) (any, error) {
			res, err := engine.Concat(ctx,
				in.Strings("clips"),
				in.String("shortSilence"),
				in.String("longSilence"),
				in.String("outputPath"),
			)
			if err != nil {
				return podflow.Suppressed(params, mediaErr("audioConcat", err))
			}
			durations := make([]any, len(res.Durations))
			for i, d := range res.Durations {
				durations[i] = d
			}
			return map[string]any{
				"outputPath": res.OutputPath,
				"durations":  durations,
			}, nil
		},
	}
}

// AudioMixBGM lays speech over a music bed with symmetric padding and a
// fade-out tail. Inputs: speechPath, musicPath, outputPath. Params: padding
// (milliseconds, default 4000).
func AudioMixBGM(engine *media.Engine) podflow.Definition {
	return podflow.Definition{
		Name:        "audioMixBGM",
		Description: "mix speech with background music",
		Category:    "media",
		Fn: func(ctx context.Context, in podflow.Inputs, params podflow.Params) (any, error) {
			res, err := engine.MixBGM(ctx,
				in.String("speechPath"),
				in.String("musicPath"),
				params.Int("padding", 4000),
				in.String("outputPath"),
			)
			if err != nil {
				return podflow.Suppressed(params, mediaErr("audioMixBGM", err))
			}
			return map[string]any{
				"outputPath": res.OutputPath,
				"duration":   res.Duration,
			}, nil
		},
	}
}

// AudioSegment transcodes a track into fixed-length streaming segments plus
// a manifest. Inputs: inputPath, outputDir, baseName. Params:
// segmentSeconds (default 6).
func AudioSegment(engine *media.Engine) podflow.Definition {
	return podflow.Definition{
		Name:        "audioSegment",
		Description: "segment a track for progressive playback",
		Category:    "media",
		Fn: func(ctx context.Context, in podflow.Inputs, params podflow.Params) (any, error) {
			manifestPath, err := engine.SegmentHLS(ctx,
				in.String("inputPath"),
				in.String("outputDir"),
				in.String("baseName"),
				params.Int("segmentSeconds", media.DefaultSegmentSeconds),
			)
			if err != nil {
				return podflow.Suppressed(params, mediaErr("audioSegment", err))
			}
			return map[string]any{
				"manifestPath":     manifestPath,
				"manifestFileName": filepath.Base(manifestPath),
			}, nil
		},
	}
}

// StoreUpload pushes every file in a local directory to durable storage
// under a remote prefix. Inputs: localDir, prefix. The output lists
// {key, url} per object.
func StoreUpload(objects store.ObjectStore) podflow.Definition {
	return podflow.Definition{
		Name:        "objectStoreUpload",
		Description: "upload a directory to durable storage",
		Category:    "storage",
		Fn: func(ctx context.Context, in podflow.Inputs, params podflow.Params) (any, error) {
			ctx, cancel := podflow.WithCapabilityTimeout(ctx, params, defaultStoreTimeout)
			defer cancel()

			results, err := objects.UploadDir(ctx, in.String("localDir"), in.String("prefix"))
			if err != nil {
				return podflow.Suppressed(params, storeErr("objectStoreUpload", ctx, params, err))
			}
			out := make([]any, len(results))
			for i, r := range results {
				out[i] = map[string]any{"key": r.Key, "url": r.URL}
			}
			return out, nil
		},
	}
}

// StoreDownloadAsset fetches a shared asset (music bed, silence clip) into
// a local cache directory. Inputs: assetName, localDir. Already-cached
// assets resolve without a network round trip.
func StoreDownloadAsset(objects store.ObjectStore) podflow.Definition {
	return podflow.Definition{
		Name:        "objectStoreDownloadAsset",
		Description: "fetch a shared asset into the local cache",
		Category:    "storage",
		Fn: func(ctx context.Context, in podflow.Inputs, params podflow.Params) (any, error) {
			ctx, cancel := podflow.WithCapabilityTimeout(ctx, params, defaultStoreTimeout)
			defer cancel()

			path, err := objects.DownloadAsset(ctx, in.String("assetName"), in.String("localDir"))
			if err != nil {
				return podflow.Suppressed(params, storeErr("objectStoreDownloadAsset", ctx, params, err))
			}
			return map[string]any{"path": path}, nil
		},
	}
}

func mediaErr(capability string, err error) error {
	return &podflow.CapabilityError{Kind: podflow.KindMedia, Capability: capability, Err: err}
}

func storeErr(capability string, ctx context.Context, params podflow.Params, err error) error {
	if ctx.Err() != nil {
		return &podflow.TimeoutError{Capability: capability, Timeout: params.Duration("timeout", defaultStoreTimeout), Err: err}
	}
	return &podflow.CapabilityError{Kind: podflow.KindStore, Capability: capability, Err: err}
}
