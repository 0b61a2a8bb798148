// Package storage_manager gives components a namespaced key/value file store
// backed by the local filesystem, S3 or a git repository.
package storage_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Read when the file does not exist, on every backend.
var ErrNotFound = errors.New("object not found")

// FileProvider is a flat file store addressed by slash-separated paths.
type FileProvider interface {
	Read(ctx context.Context, path string) ([]byte, error)
	// Write creates or replaces path.
	Write(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	// Delete removes path. Deleting a missing file is not an error.
	Delete(ctx context.Context, path string) error
	// List returns every file path under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// LocalFileProvider implements FileProvider for local filesystem.
type LocalFileProvider struct {
	baseDir string
}

// NewLocalFileProvider creates a new local file provider.
func NewLocalFileProvider(baseDir string) *LocalFileProvider {
	return &LocalFileProvider{baseDir: baseDir}
}

func (p *LocalFileProvider) fullPath(path string) string {
	return filepath.Join(p.baseDir, filepath.FromSlash(path))
}

// Read reads a file from the local filesystem.
func (p *LocalFileProvider) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(p.fullPath(path)) //nolint:gosec // G304: Path is constructed from trusted baseDir
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return data, err
}

// Write writes data to a local file.
func (p *LocalFileProvider) Write(_ context.Context, path string, data []byte) error {
	return writeFile(p.fullPath(path), data)
}

// Exists checks if a file exists on the local filesystem.
func (p *LocalFileProvider) Exists(_ context.Context, path string) (bool, error) {
	return fileExists(p.fullPath(path))
}

// Delete removes a file from the local filesystem.
func (p *LocalFileProvider) Delete(_ context.Context, path string) error {
	err := os.Remove(p.fullPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// List returns files matching a prefix in the local filesystem.
func (p *LocalFileProvider) List(_ context.Context, prefix string) ([]string, error) {
	return walkFiles(p.baseDir, prefix, nil)
}

func writeFile(fullPath string, data []byte) error {
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return os.WriteFile(fullPath, data, 0o600)
}

func fileExists(fullPath string) (bool, error) {
	_, err := os.Stat(fullPath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// walkFiles lists files below root/prefix as slash paths relative to root.
// Directories named in skip are not descended into.
func walkFiles(root, prefix string, skip map[string]bool) ([]string, error) {
	var result []string
	err := filepath.WalkDir(filepath.Join(root, filepath.FromSlash(prefix)), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if skip[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		result = append(result, filepath.ToSlash(rel))
		return nil
	})
	return result, err
}

// PrefixedFileProvider scopes another provider to a namespace directory.
type PrefixedFileProvider struct {
	provider FileProvider
	prefix   string
}

// NewPrefixedFileProvider creates a new prefixed file provider.
func NewPrefixedFileProvider(provider FileProvider, prefix string) *PrefixedFileProvider {
	return &PrefixedFileProvider{provider: provider, prefix: strings.Trim(prefix, "/")}
}

func (p *PrefixedFileProvider) prefixPath(path string) string {
	if p.prefix == "" {
		return path
	}
	return p.prefix + "/" + path
}

// Read reads a file with the prefix applied.
func (p *PrefixedFileProvider) Read(ctx context.Context, path string) ([]byte, error) {
	return p.provider.Read(ctx, p.prefixPath(path))
}

// Write writes data with the prefix applied.
func (p *PrefixedFileProvider) Write(ctx context.Context, path string, data []byte) error {
	return p.provider.Write(ctx, p.prefixPath(path), data)
}

// Exists checks if a file exists with the prefix applied.
func (p *PrefixedFileProvider) Exists(ctx context.Context, path string) (bool, error) {
	return p.provider.Exists(ctx, p.prefixPath(path))
}

// Delete removes a file with the prefix applied.
func (p *PrefixedFileProvider) Delete(ctx context.Context, path string) error {
	return p.provider.Delete(ctx, p.prefixPath(path))
}

// List returns paths under prefix, relative to the namespace.
func (p *PrefixedFileProvider) List(ctx context.Context, prefix string) ([]string, error) {
	files, err := p.provider.List(ctx, p.prefixPath(prefix))
	if err != nil {
		return nil, err
	}
	ns := p.prefixPath("")
	result := make([]string, 0, len(files))
	for _, f := range files {
		if rel, ok := strings.CutPrefix(f, ns); ok {
			result = append(result, rel)
		}
	}
	return result, nil
}
