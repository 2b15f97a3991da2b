package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chhayvoinvy/promptexify-sub001/settings"
)

type LocalStorage struct {
	basePath string
	bases    []string
	logger   *slog.Logger
}

func NewLocalStorage(cfg settings.StorageConfig, logger *slog.Logger) (*LocalStorage, error) {
	root := cfg.Local.Root
	if root == "" {
		root = settings.DefaultLocalRoot
	}
	for _, dir := range []string{PrefixImages, PrefixVideos, PrefixPreview} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create local storage directory %s: %w", dir, err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("using local file storage", "path", root)
	return &LocalStorage{
		basePath: root,
		bases:    []string{BaseURL(cfg), LocalURLPrefix},
		logger:   logger,
	}, nil
}

func (l *LocalStorage) Variant() settings.Variant { return settings.VariantLocal }

// Root is the directory relative paths are resolved against.
func (l *LocalStorage) Root() string { return l.basePath }

func (l *LocalStorage) fullPath(key string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(key))
}

// Upload writes the file and returns key unchanged; local storage has no origin of
// its own, so the public URL is resolved separately with PublicURL.
func (l *LocalStorage) Upload(ctx context.Context, data []byte, key, contentType string) (string, error) {
	p := l.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", &BackendError{Variant: settings.VariantLocal, Op: "upload", Key: key, Err: err}
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", &BackendError{Variant: settings.VariantLocal, Op: "upload", Key: key, Err: err}
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", &BackendError{Variant: settings.VariantLocal, Op: "upload", Key: key, Err: err}
	}
	return key, nil
}

func (l *LocalStorage) Delete(ctx context.Context, target string) error {
	key := KeyFromTarget(target, l.bases...)
	if err := CheckKey(key); err != nil {
		l.logger.Error("refusing to delete object outside media prefixes", "target", target, "key", key)
		return err
	}
	err := os.Remove(l.fullPath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &BackendError{Variant: settings.VariantLocal, Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (l *LocalStorage) Exists(ctx context.Context, key string) bool {
	_, err := os.Stat(l.fullPath(key))
	return err == nil
}
