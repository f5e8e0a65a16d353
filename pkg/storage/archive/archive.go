// Package archive stores rendered invoice documents.
//
// Two backends are provided: a local filesystem tree for single-node and
// development deployments, and S3 (or any S3-compatible store such as MinIO)
// for production. Both satisfy billing.DocumentArchive.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned when no document is stored under a key
var ErrNotFound = errors.New("document not found")

// Archive is a write-once document store keyed by slash-separated paths
type Archive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Exists(ctx context.Context, key string) (bool, error)
	HealthCheck(ctx context.Context) error
}

// Config selects and configures a backend
type Config struct {
	Type string // "filesystem", "s3" or "none"

	FilesystemRoot string

	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3Prefix       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// New builds the configured backend. A "none" type returns a nil Archive.
func New(ctx context.Context, config Config) (Archive, error) {
	switch config.Type {
	case "", "none":
		return nil, nil
	case "filesystem":
		fs, err := NewFileSystem(config.FilesystemRoot)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "s3":
		s3, err := NewS3(ctx, config)
		if err != nil {
			return nil, err
		}
		return s3, nil
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", config.Type)
	}
}

// cleanKey normalizes a key and rejects ones that escape the archive root
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("archive key is required")
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	return cleaned, nil
}
