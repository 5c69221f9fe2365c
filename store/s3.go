package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"
)

// s3API is the slice of the S3 client the store uses; tests substitute it.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures an S3Store.
type S3Config struct {
	Region string

	// Bucket receives rendered audio output.
	Bucket string

	// AssetBucket holds shared assets (music beds, silence clips). Empty
	// means assets live in Bucket under AssetPrefix.
	AssetBucket string

	// AssetPrefix is the key prefix for shared assets, default "music".
	AssetPrefix string

	// UploadConcurrency caps concurrent PutObject calls per UploadDir,
	// default 8.
	UploadConcurrency int
}

// S3Store stores objects in S3. Asset downloads are cached on local disk
// with an atomic rename so overlapping requests never observe a partially
// written file.
type S3Store struct {
	client s3API
	cfg    S3Config
	logger *slog.Logger
}

// NewS3Store builds an S3Store using the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 store: bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return newS3Store(s3.NewFromConfig(awsCfg), cfg, logger), nil
}

func newS3Store(client s3API, cfg S3Config, logger *slog.Logger) *S3Store {
	if cfg.AssetPrefix == "" {
		cfg.AssetPrefix = "music"
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Store{client: client, cfg: cfg, logger: logger}
}

func (s *S3Store) UploadFile(ctx context.Context, localPath, key string) (UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	contentType := ContentType(localPath)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.cfg.Bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("uploading %s: %w", key, classify(err))
	}

	return UploadResult{Key: key, URL: s.ObjectURL(key)}, nil
}

func (s *S3Store) UploadDir(ctx context.Context, localDir, prefix string) ([]UploadResult, error) {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", localDir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}

	results := make([]UploadResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.UploadConcurrency)
	for i, name := range files {
		g.Go(func() error {
			res, err := s.UploadFile(gctx, filepath.Join(localDir, name), prefix+"/"+name)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug("directory uploaded", "dir", localDir, "prefix", prefix, "files", len(results))
	return results, nil
}

func (s *S3Store) DownloadAsset(ctx context.Context, assetName, localDir string) (string, error) {
	localPath := filepath.Join(localDir, assetName)
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return "", fmt.Errorf("creating asset dir: %w", err)
	}

	bucket := s.cfg.AssetBucket
	if bucket == "" {
		bucket = s.cfg.Bucket
	}
	key := s.cfg.AssetPrefix + "/" + assetName

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return "", fmt.Errorf("downloading asset %s: %w", key, classify(err))
	}
	defer out.Body.Close()

	// Write next to the destination and rename so a concurrent request
	// either sees the complete file or none at all.
	tmp, err := os.CreateTemp(localDir, "."+assetName+".*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.ReadFrom(out.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("writing asset %s: %w", assetName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("closing asset %s: %w", assetName, err)
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("installing asset %s: %w", assetName, err)
	}

	s.logger.Debug("asset cached", "asset", assetName, "path", localPath)
	return localPath, nil
}

// ObjectURL returns the public virtual-hosted URL for a key.
func (s *S3Store) ObjectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.cfg.Bucket, key)
}

// classify surfaces the service error code when the SDK returns one.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", apiErr.ErrorCode(), err)
	}
	return err
}
