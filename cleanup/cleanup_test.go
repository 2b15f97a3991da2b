package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chhayvoinvy/promptexify-sub001/records"
	"github.com/chhayvoinvy/promptexify-sub001/settings"
	"github.com/chhayvoinvy/promptexify-sub001/storage"
)

type fixture struct {
	root     string
	cfg      settings.StorageConfig
	provider *settings.Provider
	local    *storage.LocalStorage
	store    *records.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := settings.StorageConfig{
		Variant: settings.VariantLocal,
		Local:   settings.LocalConfig{Root: root},
	}.WithDefaults()
	local, err := storage.NewLocalStorage(cfg, nil)
	require.NoError(t, err)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, records.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return &fixture{
		root:     root,
		cfg:      cfg,
		provider: settings.NewProvider(settings.StaticSource(cfg)),
		local:    local,
		store:    records.NewStore(db),
	}
}

func (f *fixture) put(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		_, err := f.local.Upload(context.Background(), []byte(k), k, "application/octet-stream")
		require.NoError(t, err)
	}
}

func (f *fixture) exists(key string) bool {
	_, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(key)))
	return err == nil
}

type fixedAdapter struct{ a storage.Adapter }

func (f fixedAdapter) Adapter(context.Context, settings.StorageConfig) (storage.Adapter, error) {
	return f.a, nil
}

// flaky fails deletes whose target matches.
type flaky struct {
	storage.Adapter
	fail func(target string) bool
}

func (f flaky) Delete(ctx context.Context, target string) error {
	if f.fail(target) {
		return &storage.BackendError{Variant: settings.VariantLocal, Op: "delete", Key: target, Err: errors.New("io error")}
	}
	return f.Adapter.Delete(ctx, target)
}

func TestDeleteMediaRemovesDerivatives(t *testing.T) {
	f := newFixture(t)
	f.put(t, "images/a.jpg", "preview/preview-a.jpg", "preview/blur-a.jpg", "preview/preview-other.jpg")
	c := NewCascade(f.provider, fixedAdapter{f.local}, nil)

	res, err := c.DeleteMedia(context.Background(), "images/a.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.True(t, res.MainDeleted)
	assert.ElementsMatch(t, []string{"preview/preview-a.jpg", "preview/blur-a.jpg"}, res.DerivativesDeleted)
	assert.False(t, f.exists("images/a.jpg"))
	assert.False(t, f.exists("preview/preview-a.jpg"))
	assert.True(t, f.exists("preview/preview-other.jpg"))

	res, err = c.DeleteMedia(context.Background(), "images/a.jpg", "image/jpeg")
	require.NoError(t, err, "second delete is still a success")
	assert.True(t, res.MainDeleted)
}

func TestDeleteMediaAcceptsPublicURL(t *testing.T) {
	f := newFixture(t)
	f.put(t, "videos/v.mp4", "preview/preview-v.mp4")
	c := NewCascade(f.provider, fixedAdapter{f.local}, nil)

	res, err := c.DeleteMedia(context.Background(), "/uploads/videos/v.mp4", "video/mp4")
	require.NoError(t, err)
	assert.True(t, res.MainDeleted)
	assert.Contains(t, res.DerivativesDeleted, "preview/preview-v.mp4")
	assert.False(t, f.exists("videos/v.mp4"))
	assert.False(t, f.exists("preview/preview-v.mp4"))
}

func TestDeleteMediaOnDerivativeSkipsDerivation(t *testing.T) {
	f := newFixture(t)
	f.put(t, "preview/preview-a.jpg", "preview/preview-preview-a.jpg")
	c := NewCascade(f.provider, fixedAdapter{f.local}, nil)

	res, err := c.DeleteMedia(context.Background(), "preview/preview-a.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.True(t, res.MainDeleted)
	assert.Empty(t, res.DerivativesDeleted)
	assert.True(t, f.exists("preview/preview-preview-a.jpg"))
}

func TestDeleteMediaTitleWithDerivativePrefix(t *testing.T) {
	f := newFixture(t)
	original := "images/preview-of-the-bay-abc1234538di9.jpg"
	f.put(t, original,
		"preview/preview-preview-of-the-bay-abc1234538di9.jpg",
		"preview/blur-preview-of-the-bay-abc1234538di9.jpg")
	c := NewCascade(f.provider, fixedAdapter{f.local}, nil)

	res, err := c.DeleteMedia(context.Background(), original, "image/jpeg")
	require.NoError(t, err)
	assert.True(t, res.MainDeleted)
	assert.Len(t, res.DerivativesDeleted, 2)
	assert.False(t, f.exists("preview/preview-preview-of-the-bay-abc1234538di9.jpg"))
	assert.False(t, f.exists("preview/blur-preview-of-the-bay-abc1234538di9.jpg"))
}

func TestDeleteMediaMainFailureLeavesDerivatives(t *testing.T) {
	f := newFixture(t)
	f.put(t, "images/a.jpg", "preview/preview-a.jpg")
	adapter := flaky{Adapter: f.local, fail: func(target string) bool { return strings.Contains(target, "images/") }}
	c := NewCascade(f.provider, fixedAdapter{adapter}, nil)

	res, err := c.DeleteMedia(context.Background(), "images/a.jpg", "image/jpeg")
	var be *storage.BackendError
	require.ErrorAs(t, err, &be)
	assert.False(t, res.MainDeleted)
	assert.True(t, f.exists("preview/preview-a.jpg"))
}

func TestDeleteMediaDerivativeFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.put(t, "images/a.jpg", "preview/preview-a.jpg", "preview/blur-a.jpg")
	adapter := flaky{Adapter: f.local, fail: func(target string) bool { return strings.Contains(target, "blur-") }}
	c := NewCascade(f.provider, fixedAdapter{adapter}, nil)

	res, err := c.DeleteMedia(context.Background(), "images/a.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.True(t, res.MainDeleted)
	assert.Equal(t, []string{"preview/preview-a.jpg"}, res.DerivativesDeleted)
}

func TestDeleteMediaGuard(t *testing.T) {
	f := newFixture(t)
	c := NewCascade(f.provider, fixedAdapter{f.local}, nil)

	res, err := c.DeleteMedia(context.Background(), "../secrets/a.jpg", "image/jpeg")
	require.ErrorIs(t, err, storage.ErrKeyNotAllowed)
	assert.False(t, res.MainDeleted)

	_, err = c.DeleteMedia(context.Background(), "images/a.pdf", "application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDeleteRecordPrefersExplicitPaths(t *testing.T) {
	f := newFixture(t)
	f.put(t, "images/a.jpg", "preview/custom-a.jpg", "preview/preview-a.jpg")
	c := NewCascade(f.provider, fixedAdapter{f.local}, nil)

	res, err := c.DeleteRecord(context.Background(), records.MediaRecord{
		RelativePath: "images/a.jpg",
		MimeType:     "image/jpeg",
		PreviewPath:  "preview/custom-a.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"preview/custom-a.jpg"}, res.DerivativesDeleted)
	assert.False(t, f.exists("preview/custom-a.jpg"))
	assert.True(t, f.exists("preview/preview-a.jpg"))
}

func TestDeletePostMedia(t *testing.T) {
	f := newFixture(t)
	f.put(t, "images/a.jpg", "videos/b.mp4", "preview/preview-b.mp4")
	c := NewCascade(f.provider, fixedAdapter{f.local}, nil)

	res := c.DeletePostMedia(context.Background(), []records.MediaRecord{
		{ID: "1", RelativePath: "images/a.jpg", MimeType: "image/jpeg"},
		{ID: "2", RelativePath: "videos/b.mp4", MimeType: "video/mp4"},
		{ID: "3", RelativePath: "images/c.pdf", MimeType: "application/pdf"},
	})
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "unsupported media type")
	assert.Equal(t, []string{"1", "2"}, res.Deleted)
	assert.False(t, f.exists("preview/preview-b.mp4"))
}

func seedOrphans(t *testing.T, f *fixture, n int, age time.Duration) []records.MediaRecord {
	t.Helper()
	var out []records.MediaRecord
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("images/orphan-%d.jpg", i)
		f.put(t, key)
		rec := &records.MediaRecord{RelativePath: key, MimeType: "image/jpeg", CreatedAt: time.Now().Add(-age)}
		require.NoError(t, f.store.Create(context.Background(), rec))
		out = append(out, *rec)
	}
	return out
}

func TestCleanupOrphanedMediaDryRun(t *testing.T) {
	f := newFixture(t)
	seeded := seedOrphans(t, f, 3, 48*time.Hour)
	r := NewReaper(f.store, f.provider, fixedAdapter{f.local})

	report, err := r.CleanupOrphanedMedia(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Len(t, report.Candidates, 3)
	assert.Zero(t, report.Deleted)

	for _, rec := range seeded {
		assert.True(t, f.exists(rec.RelativePath))
		_, err := f.store.FindByPath(context.Background(), rec.RelativePath)
		assert.NoError(t, err)
	}
}

func TestCleanupOrphanedMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := seedOrphans(t, f, 7, 48*time.Hour)

	f.put(t, "images/fresh.jpg", "images/attached.jpg")
	fresh := &records.MediaRecord{RelativePath: "images/fresh.jpg", MimeType: "image/jpeg"}
	require.NoError(t, f.store.Create(ctx, fresh))
	attached := &records.MediaRecord{RelativePath: "images/attached.jpg", MimeType: "image/jpeg", CreatedAt: time.Now().Add(-72 * time.Hour)}
	require.NoError(t, f.store.Create(ctx, attached))
	require.NoError(t, f.store.AttachToPost(ctx, "post-1", attached.ID))

	r := NewReaper(f.store, f.provider, fixedAdapter{f.local}, WithBatchDelay(0))
	report, err := r.CleanupOrphanedMedia(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Deleted)
	assert.Zero(t, report.Failed)

	for _, rec := range old {
		assert.False(t, f.exists(rec.RelativePath))
		_, err := f.store.FindByPath(ctx, rec.RelativePath)
		assert.ErrorIs(t, err, records.ErrNotFound)
	}
	for _, key := range []string{"images/fresh.jpg", "images/attached.jpg"} {
		assert.True(t, f.exists(key))
		_, err := f.store.FindByPath(ctx, key)
		assert.NoError(t, err)
	}
}

func TestCleanupOrphanedMediaKeepsRowWhenBackendFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seeded := seedOrphans(t, f, 2, 48*time.Hour)
	adapter := flaky{Adapter: f.local, fail: func(target string) bool { return strings.Contains(target, "orphan-0") }}

	r := NewReaper(f.store, f.provider, fixedAdapter{adapter}, WithBatchDelay(0))
	report, err := r.CleanupOrphanedMedia(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.Failed)

	_, err = f.store.FindByPath(ctx, seeded[0].RelativePath)
	assert.NoError(t, err, "row survives a failed backend delete")
	_, err = f.store.FindByPath(ctx, seeded[1].RelativePath)
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestCleanupOrphanedPreviewFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "images/kept.jpg", "preview/preview-kept.jpg", "preview/blur-kept.jpg",
		"preview/explicit-thumb.jpg", "preview/preview-gone.jpg", "preview/blur-gone.jpg")
	require.NoError(t, f.store.Create(ctx, &records.MediaRecord{RelativePath: "images/kept.jpg", MimeType: "image/jpeg"}))
	require.NoError(t, f.store.Create(ctx, &records.MediaRecord{RelativePath: "images/other.jpg", MimeType: "image/jpeg", PreviewPath: "preview/explicit-thumb.jpg"}))

	r := NewReaper(f.store, f.provider, fixedAdapter{f.local})

	report, err := r.CleanupOrphanedPreviewFiles(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.ElementsMatch(t, []string{"preview/preview-gone.jpg", "preview/blur-gone.jpg"}, report.Orphans)
	assert.True(t, f.exists("preview/preview-gone.jpg"), "dry run deletes nothing")

	report, err = r.CleanupOrphanedPreviewFiles(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Deleted)
	assert.False(t, f.exists("preview/preview-gone.jpg"))
	assert.True(t, f.exists("preview/preview-kept.jpg"))
	assert.True(t, f.exists("preview/explicit-thumb.jpg"))
}

func TestCleanupOrphanedPreviewFilesKeepsPrefixedTitles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "images/blur-study-abc12345x1y2z.jpg",
		"preview/preview-blur-study-abc12345x1y2z.jpg", "preview/blur-blur-study-abc12345x1y2z.jpg")
	require.NoError(t, f.store.Create(ctx, &records.MediaRecord{RelativePath: "images/blur-study-abc12345x1y2z.jpg", MimeType: "image/jpeg"}))

	r := NewReaper(f.store, f.provider, fixedAdapter{f.local})
	report, err := r.CleanupOrphanedPreviewFiles(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Empty(t, report.Orphans)
	assert.True(t, f.exists("preview/blur-blur-study-abc12345x1y2z.jpg"))
}

func TestCleanupOrphanedPreviewFilesRemoteUnsupported(t *testing.T) {
	f := newFixture(t)
	cfg := settings.StorageConfig{Variant: settings.VariantS3}
	r := NewReaper(f.store, settings.NewProvider(settings.StaticSource(cfg)), fixedAdapter{f.local})

	_, err := r.CleanupOrphanedPreviewFiles(context.Background(), true)
	assert.ErrorIs(t, err, ErrPreviewScanUnsupported)
}
