package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore keeps objects under a directory on local disk. It exists for
// development and tests; the served URL shape mirrors the S3 layout so
// downstream consumers behave the same.
type LocalStore struct {
	Root    string
	BaseURL string // e.g. "http://localhost:9000", default "file://{Root}"

	// Assets is where DownloadAsset resolves shared assets from. Empty means
	// {Root}/music.
	Assets string
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{Root: dir}
}

func (l *LocalStore) UploadFile(_ context.Context, localPath, key string) (UploadResult, error) {
	dst := filepath.Join(l.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return UploadResult{}, err
	}
	if err := copyFile(localPath, dst); err != nil {
		return UploadResult{}, fmt.Errorf("storing %s: %w", key, err)
	}
	return UploadResult{Key: key, URL: l.objectURL(key)}, nil
}

func (l *LocalStore) UploadDir(ctx context.Context, localDir, prefix string) ([]UploadResult, error) {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", localDir, err)
	}
	var results []UploadResult
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		res, err := l.UploadFile(ctx, filepath.Join(localDir, e.Name()), prefix+"/"+e.Name())
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (l *LocalStore) DownloadAsset(_ context.Context, assetName, localDir string) (string, error) {
	localPath := filepath.Join(localDir, assetName)
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}

	assets := l.Assets
	if assets == "" {
		assets = filepath.Join(l.Root, "music")
	}
	src := filepath.Join(assets, assetName)
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("asset %s not found: %w", assetName, err)
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return "", err
	}
	if err := copyFile(src, localPath); err != nil {
		return "", fmt.Errorf("caching asset %s: %w", assetName, err)
	}
	return localPath, nil
}

func (l *LocalStore) objectURL(key string) string {
	if l.BaseURL != "" {
		return l.BaseURL + "/" + key
	}
	return "file://" + filepath.Join(l.Root, filepath.FromSlash(key))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
