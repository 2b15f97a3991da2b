package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/studio-b12/gowebdav"

	"github.com/chhayvoinvy/promptexify-sub001/settings"
)

// WebDAVStorage is the Cloud-B variant.
type WebDAVStorage struct {
	client *gowebdav.Client
	public string
	bases  []string
	logger *slog.Logger
}

func NewWebDAVStorage(ctx context.Context, cfg settings.StorageConfig, logger *slog.Logger) (*WebDAVStorage, error) {
	client := gowebdav.NewClient(cfg.WebDAV.URL, cfg.WebDAV.Username, cfg.WebDAV.Password)

	connect := func() error {
		err := client.Connect()
		if err != nil && strings.Contains(err.Error(), fmt.Sprintf("%d", http.StatusUnauthorized)) {
			return backoff.Permanent(&settings.ConfigError{Issues: []string{"WebDAV authentication failed (401): check username and password"}})
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 2), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		var cfgErr *settings.ConfigError
		if errors.As(err, &cfgErr) {
			return nil, cfgErr
		}
		return nil, &BackendError{Variant: settings.VariantWebDAV, Op: "connect", Key: cfg.WebDAV.URL, Err: err}
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("using WebDAV storage", "url", cfg.WebDAV.URL)

	direct := cfg
	direct.CDNURL = ""
	return &WebDAVStorage{
		client: client,
		public: BaseURL(cfg),
		bases:  []string{BaseURL(cfg), BaseURL(direct)},
		logger: logger,
	}, nil
}

func (w *WebDAVStorage) Variant() settings.Variant { return settings.VariantWebDAV }

// Upload writes the object. WebDAV has no per-object cache headers; caching is
// left to the CDN in front of it.
func (w *WebDAVStorage) Upload(ctx context.Context, data []byte, key, contentType string) (string, error) {
	if dir := path.Dir(key); dir != "." {
		if err := w.client.MkdirAll(dir, 0o755); err != nil {
			return "", &BackendError{Variant: settings.VariantWebDAV, Op: "mkdir", Key: key, Err: err}
		}
	}
	if err := w.client.Write(key, data, 0o644); err != nil {
		return "", &BackendError{Variant: settings.VariantWebDAV, Op: "upload", Key: key, Err: err}
	}
	return w.public + "/" + key, nil
}

func (w *WebDAVStorage) Delete(ctx context.Context, target string) error {
	key := KeyFromTarget(target, w.bases...)
	if err := CheckKey(key); err != nil {
		w.logger.Error("refusing to delete object outside media prefixes", "target", target, "key", key)
		return err
	}
	if err := w.client.Remove(key); err != nil {
		if errors.Is(err, fs.ErrNotExist) || gowebdav.IsErrNotFound(err) {
			return nil
		}
		return &BackendError{Variant: settings.VariantWebDAV, Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (w *WebDAVStorage) Exists(ctx context.Context, key string) bool {
	_, err := w.client.Stat(key)
	return err == nil
}
