package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const contentTypeSuffix = ".content-type"

// FileSystem keeps documents under a root directory
type FileSystem struct {
	rootDir string
}

// NewFileSystem creates the root directory if needed
func NewFileSystem(rootDir string) (*FileSystem, error) {
	if rootDir == "" {
		return nil, errors.New("filesystem archive root is required")
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystem{rootDir: rootDir}, nil
}

func (s *FileSystem) path(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.rootDir, filepath.FromSlash(cleaned)), nil
}

// Put writes the document through a temporary file so readers never see a
// partial write
func (s *FileSystem) Put(ctx context.Context, key string, data []byte, contentType string) error {
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	if contentType != "" {
		if err := os.WriteFile(target+contentTypeSuffix, []byte(contentType), 0644); err != nil {
			return fmt.Errorf("failed to write content type: %w", err)
		}
	}
	return nil
}

// Get reads a document and its content type
func (s *FileSystem) Get(ctx context.Context, key string) ([]byte, string, error) {
	target, err := s.path(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read document: %w", err)
	}

	contentType := "application/octet-stream"
	if ct, err := os.ReadFile(target + contentTypeSuffix); err == nil {
		contentType = string(ct)
	}
	return data, contentType, nil
}

// Exists reports whether a document is stored under key
func (s *FileSystem) Exists(ctx context.Context, key string) (bool, error) {
	target, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat document: %w", err)
	}
	return true, nil
}

// HealthCheck verifies the root directory is present
func (s *FileSystem) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.rootDir)
	if err != nil {
		return fmt.Errorf("archive root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive root %s is not a directory", s.rootDir)
	}
	return nil
}
