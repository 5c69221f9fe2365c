// Package store abstracts durable object storage: uploading rendered audio
// under job-scoped prefixes and fetching shared assets (background music,
// silence clips) into a local cache.
package store

import (
	"context"
	"path/filepath"
	"strings"
)

// UploadResult identifies one stored object.
type UploadResult struct {
	Key string
	URL string
}

// ObjectStore is the storage boundary the audio pipeline depends on.
type ObjectStore interface {
	// UploadFile stores a single local file under key.
	UploadFile(ctx context.Context, localPath, key string) (UploadResult, error)

	// UploadDir stores every regular file directly under localDir with keys
	// prefix/{filename}. Uploads run concurrently; the first failure aborts.
	UploadDir(ctx context.Context, localDir, prefix string) ([]UploadResult, error)

	// DownloadAsset fetches the named shared asset into localDir and returns
	// its local path. Already-cached assets are not fetched again.
	DownloadAsset(ctx context.Context, assetName, localDir string) (string, error)
}

// ContentType maps a file extension to the MIME type stored alongside the
// object. Unknown extensions fall back to octet-stream.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m3u8":
		return "application/x-mpegURL"
	case ".ts":
		return "video/mp2t"
	case ".mp3":
		return "audio/mpeg"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
