package records

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chhayvoinvy/promptexify-sub001/settings"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func TestStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newTestDB(t))

	rec := &MediaRecord{RelativePath: "images/a-abc12345xxxxx.jpg", MimeType: "image/jpeg", UploadedBy: "abc12345"}
	require.NoError(t, s.Create(ctx, rec))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.FindByPath(ctx, rec.RelativePath)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Nil(t, got.PostID)

	_, err = s.FindByPath(ctx, "images/missing.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FindOrphans(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newTestDB(t))
	now := time.Now()

	old := &MediaRecord{RelativePath: "images/old.jpg", MimeType: "image/jpeg", CreatedAt: now.Add(-48 * time.Hour)}
	fresh := &MediaRecord{RelativePath: "images/fresh.jpg", MimeType: "image/jpeg", CreatedAt: now.Add(-time.Hour)}
	attached := &MediaRecord{RelativePath: "images/attached.jpg", MimeType: "image/jpeg", CreatedAt: now.Add(-72 * time.Hour)}
	for _, r := range []*MediaRecord{old, fresh, attached} {
		require.NoError(t, s.Create(ctx, r))
	}
	require.NoError(t, s.AttachToPost(ctx, "post-1", attached.ID))

	orphans, err := s.FindOrphans(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, old.ID, orphans[0].ID)

	byPost, err := s.FindByPost(ctx, "post-1")
	require.NoError(t, err)
	require.Len(t, byPost, 1)
	assert.Equal(t, "images/attached.jpg", byPost[0].RelativePath)

	require.NoError(t, s.Delete(ctx, old.ID))
	orphans, err = s.FindOrphans(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestStore_ReferencedPaths(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newTestDB(t))
	require.NoError(t, s.Create(ctx, &MediaRecord{
		RelativePath: "videos/v.mp4",
		MimeType:     "video/mp4",
		PreviewPath:  "preview/preview-v.jpg",
		BlurPath:     "preview/blur-v.jpg",
	}))

	recs, err := s.ReferencedPaths(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"preview/preview-v.jpg", "preview/blur-v.jpg"}, recs[0].DerivativePaths())
}

func TestSettingsSource_SaveLoad(t *testing.T) {
	ctx := context.Background()
	src := NewSettingsSource(newTestDB(t))

	_, err := src.Load(ctx)
	assert.Error(t, err, "empty table must surface an error so the provider falls back")

	cfg := settings.StorageConfig{
		Variant:            settings.VariantWebDAV,
		WebDAV:             settings.WebDAVConfig{URL: "https://dav.example.com", Username: "u", Password: "p"},
		CDNURL:             "https://cdn.example.com",
		MaxImageSize:       123,
		MaxVideoSize:       456,
		EnableCompression:  true,
		CompressionQuality: 70,
	}
	require.NoError(t, src.Save(ctx, cfg))
	got, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	cfg.CDNURL = "https://cdn2.example.com"
	require.NoError(t, src.Save(ctx, cfg))
	got, err = src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn2.example.com", got.CDNURL)
}
