// Package cleanup removes originals together with their derivatives and reaps
// media that was never attached to a post.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chhayvoinvy/promptexify-sub001/media"
	"github.com/chhayvoinvy/promptexify-sub001/records"
	"github.com/chhayvoinvy/promptexify-sub001/storage"
)

// ErrUnsupportedType is returned for records whose MIME type is neither image nor video.
var ErrUnsupportedType = errors.New("unsupported media type")

type DeleteResult struct {
	MainDeleted        bool     `json:"mainDeleted"`
	DerivativesDeleted []string `json:"derivativesDeleted"`
}

type BatchResult struct {
	SuccessCount int      `json:"successCount"`
	FailureCount int      `json:"failureCount"`
	Errors       []string `json:"errors,omitempty"`

	// Deleted holds the IDs of records whose original is gone.
	Deleted []string `json:"-"`
}

// Cascade deletes an original and, only once that succeeded, its derivatives.
type Cascade struct {
	config   media.ConfigSource
	adapters media.AdapterSource
	logger   *slog.Logger
}

func NewCascade(config media.ConfigSource, adapters media.AdapterSource, logger *slog.Logger) *Cascade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cascade{config: config, adapters: adapters, logger: logger}
}

// DeleteMedia removes the object at relativePath (or its public URL) and the
// derivatives the naming convention implies for it. Only a failed main delete
// is returned as an error.
func (c *Cascade) DeleteMedia(ctx context.Context, relativePath, mimeType string) (DeleteResult, error) {
	class, ok := media.ClassOf(mimeType)
	if !ok {
		return DeleteResult{}, fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}
	return c.delete(ctx, relativePath, func(key string) []string {
		return media.ConventionalDerivatives(key, class)
	})
}

// DeleteRecord prefers the derivative paths stored on rec and falls back to the
// naming convention for records written without them.
func (c *Cascade) DeleteRecord(ctx context.Context, rec records.MediaRecord) (DeleteResult, error) {
	class, ok := media.ClassOf(rec.MimeType)
	if !ok {
		return DeleteResult{}, fmt.Errorf("%w: %q", ErrUnsupportedType, rec.MimeType)
	}
	return c.delete(ctx, rec.RelativePath, func(key string) []string {
		if explicit := rec.DerivativePaths(); len(explicit) > 0 {
			return explicit
		}
		return media.ConventionalDerivatives(key, class)
	})
}

func (c *Cascade) delete(ctx context.Context, target string, derivatives func(key string) []string) (DeleteResult, error) {
	var res DeleteResult
	cfg := c.config.Get(ctx)
	adapter, err := c.adapters.Adapter(ctx, cfg)
	if err != nil {
		return res, err
	}

	key := storage.KeyFromTarget(target, storage.BaseURL(cfg), storage.LocalURLPrefix)
	if !storage.IsAbsoluteURL(target) {
		target = storage.PublicURL(key, cfg)
	}
	if err := adapter.Delete(ctx, target); err != nil {
		c.logger.Error("deleting media failed", "target", target, "error", err)
		return res, err
	}
	res.MainDeleted = true

	for _, d := range derivatives(key) {
		if err := adapter.Delete(ctx, d); err != nil {
			c.logger.Warn("deleting derivative failed", "original", key, "derivative", d, "error", err)
			continue
		}
		res.DerivativesDeleted = append(res.DerivativesDeleted, d)
	}
	c.logger.Info("media deleted", "key", key, "derivatives", len(res.DerivativesDeleted))
	return res, nil
}

// DeletePostMedia runs DeleteRecord for every record of a post.
func (c *Cascade) DeletePostMedia(ctx context.Context, recs []records.MediaRecord) BatchResult {
	var out BatchResult
	for _, rec := range recs {
		res, err := c.DeleteRecord(ctx, rec)
		if err == nil && res.MainDeleted {
			out.SuccessCount++
			out.Deleted = append(out.Deleted, rec.ID)
			continue
		}
		out.FailureCount++
		if err == nil {
			err = errors.New("main asset not deleted")
		}
		out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", rec.RelativePath, err))
	}
	return out
}
