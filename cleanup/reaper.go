package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chhayvoinvy/promptexify-sub001/media"
	"github.com/chhayvoinvy/promptexify-sub001/records"
	"github.com/chhayvoinvy/promptexify-sub001/settings"
	"github.com/chhayvoinvy/promptexify-sub001/storage"
)

const (
	DefaultRetention  = 24 * time.Hour
	DefaultBatchSize  = 5
	DefaultBatchDelay = 200 * time.Millisecond
)

// ErrPreviewScanUnsupported is returned by the preview scan for remote variants.
var ErrPreviewScanUnsupported = errors.New("preview file scan is only supported for local storage")

// OrphanStore is the slice of the record store the reaper needs.
type OrphanStore interface {
	FindOrphans(ctx context.Context, cutoff time.Time) ([]records.MediaRecord, error)
	ReferencedPaths(ctx context.Context) ([]records.MediaRecord, error)
	Delete(ctx context.Context, id string) error
}

type Candidate struct {
	ID           string    `json:"id"`
	RelativePath string    `json:"relativePath"`
	MimeType     string    `json:"mimeType"`
	CreatedAt    time.Time `json:"createdAt"`
}

type OrphanReport struct {
	DryRun     bool        `json:"dryRun"`
	Candidates []Candidate `json:"candidates"`
	Deleted    int         `json:"deleted"`
	Failed     int         `json:"failed"`
	Errors     []string    `json:"errors,omitempty"`
}

type PreviewReport struct {
	DryRun  bool     `json:"dryRun"`
	Scanned int      `json:"scanned"`
	Orphans []string `json:"orphans"`
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors,omitempty"`
}

// Reaper removes media records that were never attached to a post, and preview
// files no record references.
type Reaper struct {
	store    OrphanStore
	cascade  *Cascade
	config   media.ConfigSource
	adapters media.AdapterSource

	retention  time.Duration
	batchSize  int
	batchDelay time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

type ReaperOption func(*Reaper)

func WithRetention(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.retention = d
		}
	}
}

func WithBatchSize(n int) ReaperOption {
	return func(r *Reaper) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithBatchDelay(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.batchDelay = d }
}

func WithClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) { r.now = now }
}

func WithLogger(l *slog.Logger) ReaperOption {
	return func(r *Reaper) { r.logger = l }
}

func NewReaper(store OrphanStore, config media.ConfigSource, adapters media.AdapterSource, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		store:      store,
		config:     config,
		adapters:   adapters,
		retention:  DefaultRetention,
		batchSize:  DefaultBatchSize,
		batchDelay: DefaultBatchDelay,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cascade = NewCascade(config, adapters, r.logger)
	return r
}

// CleanupOrphanedMedia deletes unattached records older than the retention
// window. The backend object goes first; the row is removed only after that
// succeeded. A dry run only reports candidates.
func (r *Reaper) CleanupOrphanedMedia(ctx context.Context, dryRun bool) (OrphanReport, error) {
	report := OrphanReport{DryRun: dryRun}
	cutoff := r.now().Add(-r.retention)
	orphans, err := r.store.FindOrphans(ctx, cutoff)
	if err != nil {
		return report, err
	}
	for _, rec := range orphans {
		report.Candidates = append(report.Candidates, Candidate{
			ID:           rec.ID,
			RelativePath: rec.RelativePath,
			MimeType:     rec.MimeType,
			CreatedAt:    rec.CreatedAt,
		})
	}
	r.logger.Info("orphaned media scan", "candidates", len(orphans), "cutoff", cutoff, "dryRun", dryRun)
	if dryRun || len(orphans) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	fail := func(rec records.MediaRecord, err error) {
		mu.Lock()
		defer mu.Unlock()
		report.Failed++
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rec.RelativePath, err))
	}

	for start := 0; start < len(orphans); start += r.batchSize {
		if start > 0 && r.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(r.batchDelay):
			}
		}
		batch := orphans[start:min(start+r.batchSize, len(orphans))]

		var g errgroup.Group
		for _, rec := range batch {
			rec := rec
			g.Go(func() error {
				res, err := r.cascade.DeleteRecord(ctx, rec)
				if err != nil || !res.MainDeleted {
					if err == nil {
						err = errors.New("main asset not deleted")
					}
					fail(rec, err)
					return nil
				}
				if err := r.store.Delete(ctx, rec.ID); err != nil {
					r.logger.Error("backend object removed but record delete failed", "id", rec.ID, "path", rec.RelativePath, "error", err)
					fail(rec, err)
					return nil
				}
				mu.Lock()
				report.Deleted++
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	r.logger.Info("orphaned media cleanup finished", "deleted", report.Deleted, "failed", report.Failed)
	return report, nil
}

// CleanupOrphanedPreviewFiles walks the local preview directory and flags (or
// deletes) every file no record refers to.
func (r *Reaper) CleanupOrphanedPreviewFiles(ctx context.Context, dryRun bool) (PreviewReport, error) {
	report := PreviewReport{DryRun: dryRun}
	cfg := r.config.Get(ctx)
	if cfg.Variant != settings.VariantLocal {
		return report, ErrPreviewScanUnsupported
	}

	recs, err := r.store.ReferencedPaths(ctx)
	if err != nil {
		return report, err
	}
	referenced := make(map[string]struct{})
	for _, rec := range recs {
		for _, p := range rec.DerivativePaths() {
			referenced[p] = struct{}{}
		}
		if class, ok := media.ClassOf(rec.MimeType); ok {
			for _, p := range media.ConventionalDerivatives(rec.RelativePath, class) {
				referenced[p] = struct{}{}
			}
		}
	}

	root := cfg.Local.Root
	previewDir := filepath.Join(root, filepath.FromSlash(storage.PrefixPreview))
	err = filepath.WalkDir(previewDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		report.Scanned++
		key := filepath.ToSlash(rel)
		if _, ok := referenced[key]; !ok {
			report.Orphans = append(report.Orphans, key)
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("scan preview directory: %w", err)
	}
	r.logger.Info("preview file scan", "scanned", report.Scanned, "orphans", len(report.Orphans), "dryRun", dryRun)
	if dryRun || len(report.Orphans) == 0 {
		return report, nil
	}

	adapter, err := r.adapters.Adapter(ctx, cfg)
	if err != nil {
		return report, err
	}
	for _, key := range report.Orphans {
		if err := adapter.Delete(ctx, key); err != nil {
			r.logger.Warn("deleting orphaned preview failed", "key", key, "error", err)
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		report.Deleted++
	}
	return report, nil
}
