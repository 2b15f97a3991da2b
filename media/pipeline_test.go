package media

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chhayvoinvy/promptexify-sub001/records"
	"github.com/chhayvoinvy/promptexify-sub001/settings"
	"github.com/chhayvoinvy/promptexify-sub001/storage"
)

type memAdapter struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failKeys func(key string) bool
	deleted  []string
}

func newMemAdapter() *memAdapter {
	return &memAdapter{objects: map[string][]byte{}}
}

func (m *memAdapter) Variant() settings.Variant { return settings.VariantS3 }

func (m *memAdapter) Upload(_ context.Context, data []byte, key, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failKeys != nil && m.failKeys(key) {
		return "", &storage.BackendError{Variant: settings.VariantS3, Op: "upload", Key: key, Err: errors.New("boom")}
	}
	m.objects[key] = data
	return "https://cdn.example.com/" + key, nil
}

func (m *memAdapter) Delete(_ context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := storage.KeyFromTarget(target, "https://cdn.example.com")
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memAdapter) Exists(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memAdapter) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

type fixedAdapter struct{ a storage.Adapter }

func (f fixedAdapter) Adapter(context.Context, settings.StorageConfig) (storage.Adapter, error) {
	return f.a, nil
}

type recordSink struct {
	created []*records.MediaRecord
	err     error
}

func (r *recordSink) Create(_ context.Context, rec *records.MediaRecord) error {
	if r.err != nil {
		return r.err
	}
	rec.ID = "rec-1"
	r.created = append(r.created, rec)
	return nil
}

type fakeVideo struct {
	info    VideoInfo
	frame   image.Image
	clip    []byte
	clipErr error
}

func (f fakeVideo) Probe(context.Context, []byte) (VideoInfo, error)         { return f.info, nil }
func (f fakeVideo) PosterFrame(context.Context, []byte) (image.Image, error) { return f.frame, nil }
func (f fakeVideo) PreviewClip(context.Context, []byte) ([]byte, error)      { return f.clip, f.clipErr }

type fakeScanner struct{ status, detail string }

func (f fakeScanner) Scan(context.Context, []byte) (string, string) { return f.status, f.detail }

func cdnConfig() settings.StorageConfig {
	return settings.StorageConfig{
		Variant:            settings.VariantS3,
		S3:                 settings.S3Config{Region: "us-east-1", Bucket: "media", AccessKeyID: "k", SecretAccessKey: "s"},
		CDNURL:             "https://cdn.example.com",
		MaxImageSize:       settings.DefaultMaxImageSize,
		MaxVideoSize:       settings.DefaultMaxVideoSize,
		CompressionQuality: 80,
	}
}

func localConfig(root string) settings.StorageConfig {
	return settings.StorageConfig{
		Variant:            settings.VariantLocal,
		Local:              settings.LocalConfig{Root: root},
		MaxImageSize:       settings.DefaultMaxImageSize,
		MaxVideoSize:       settings.DefaultMaxVideoSize,
		EnableCompression:  true,
		CompressionQuality: 80,
	}
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return err
	})
	require.NoError(t, err)
	return n
}

func TestPipelineLocalEndToEnd(t *testing.T) {
	root := t.TempDir()
	cfg := localConfig(root)
	sink := &recordSink{}
	p := NewPipeline(settings.NewProvider(settings.StaticSource(cfg)), storage.DefaultSelector(nil), WithRecords(sink))

	res, err := p.Process(context.Background(), Upload{
		Data:         encodePNG(t, testImage(40, 30)),
		OriginalName: "sunset.png",
		MimeType:     "image/png",
		Title:        "Sunset Over the Bay",
		UploaderID:   "abc12345",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.RelativePath, "images/sunset-over-the-bay-abc12345"))
	assert.True(t, strings.HasSuffix(res.RelativePath, ".png"))
	assert.Equal(t, storage.PublicURL(res.RelativePath, cfg), res.URL)
	assert.Equal(t, "/uploads/"+res.RelativePath, res.URL)
	assert.Equal(t, settings.VariantLocal, res.StorageVariant)
	require.NotNil(t, res.Width)
	assert.Equal(t, 40, *res.Width)
	assert.Equal(t, 30, *res.Height)
	assert.True(t, strings.HasPrefix(res.BlurDataURL, "data:image/jpeg;base64,"))
	assert.Equal(t, PreviewPath(res.Filename), res.PreviewPath)
	assert.Empty(t, res.Warnings)

	for _, rel := range []string{res.RelativePath, PreviewPath(res.Filename), BlurPath(res.Filename)} {
		assert.FileExists(t, filepath.Join(root, filepath.FromSlash(rel)))
	}

	require.Len(t, sink.created, 1)
	rec := sink.created[0]
	assert.Equal(t, res.RelativePath, rec.RelativePath)
	assert.Equal(t, "abc12345", rec.UploadedBy)
	assert.Equal(t, PreviewPath(res.Filename), rec.PreviewPath)
	assert.Equal(t, BlurPath(res.Filename), rec.BlurPath)
	assert.Nil(t, rec.PostID)
	assert.Equal(t, "rec-1", res.RecordID)
}

func TestPipelineValidationWritesNothing(t *testing.T) {
	root := t.TempDir()
	cfg := localConfig(root)
	cfg.MaxImageSize = 10
	sink := &recordSink{}
	p := NewPipeline(settings.NewProvider(settings.StaticSource(cfg)), storage.DefaultSelector(nil), WithRecords(sink))

	_, err := p.Process(context.Background(), Upload{Data: encodePNG(t, testImage(20, 20)), MimeType: "image/png", Title: "x", UploaderID: "u"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = p.Process(context.Background(), Upload{Data: []byte("%PDF"), MimeType: "application/pdf", Title: "x", UploaderID: "u"})
	require.ErrorAs(t, err, &verr)

	assert.Zero(t, countFiles(t, root))
	assert.Empty(t, sink.created)
}

func TestPipelineRejectsOversizedImage(t *testing.T) {
	root := t.TempDir()
	sink := &recordSink{}
	p := NewPipeline(settings.NewProvider(settings.StaticSource(localConfig(root))), storage.DefaultSelector(nil), WithRecords(sink))

	_, err := p.Process(context.Background(), Upload{Data: hugePNG(t, 20000, 20000), MimeType: "image/png", Title: "huge", UploaderID: "u"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "pixel limit")
	assert.Zero(t, countFiles(t, root))
	assert.Empty(t, sink.created)
}

func TestPipelineVariantOnlyChangesURLPrefix(t *testing.T) {
	mem := newMemAdapter()
	cfg := cdnConfig()
	p := NewPipeline(settings.NewProvider(settings.StaticSource(cfg)), fixedAdapter{mem})

	res, err := p.Process(context.Background(), Upload{Data: encodePNG(t, testImage(8, 8)), MimeType: "image/png", Title: "Tiny", UploaderID: "u1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.RelativePath, "images/tiny-u1"))
	assert.Equal(t, "https://cdn.example.com/"+res.RelativePath, res.URL)
	assert.Equal(t, storage.PublicURL(res.RelativePath, cfg), res.URL)
}

func TestPipelineDerivativeFailureIsPartial(t *testing.T) {
	mem := newMemAdapter()
	mem.failKeys = func(key string) bool { return strings.HasPrefix(key, storage.PrefixPreview) }
	p := NewPipeline(settings.NewProvider(settings.StaticSource(cdnConfig())), fixedAdapter{mem})

	res, err := p.Process(context.Background(), Upload{Data: encodePNG(t, testImage(16, 16)), MimeType: "image/png", Title: "t", UploaderID: "u"})
	require.NoError(t, err)
	assert.Empty(t, res.PreviewPath)
	assert.NotEmpty(t, res.BlurDataURL, "inline placeholder survives a failed blur upload")

	var assets []string
	for _, w := range res.Warnings {
		assets = append(assets, w.Asset)
		var be *storage.BackendError
		assert.ErrorAs(t, w, &be)
	}
	assert.ElementsMatch(t, []string{"blur", "preview"}, assets)
	assert.True(t, mem.Exists(context.Background(), res.RelativePath))
}

func TestPipelineUndecodableImageStillUploads(t *testing.T) {
	mem := newMemAdapter()
	p := NewPipeline(settings.NewProvider(settings.StaticSource(cdnConfig())), fixedAdapter{mem})

	res, err := p.Process(context.Background(), Upload{Data: []byte("not really avif"), MimeType: "image/avif", Title: "t", UploaderID: "u"})
	require.NoError(t, err)
	assert.Nil(t, res.Width)
	assert.Empty(t, res.BlurDataURL)
	assert.Len(t, res.Warnings, 3)
	assert.Equal(t, []string{res.RelativePath}, mem.keys())
}

func TestPipelineOriginalFailureUnwindsDerivatives(t *testing.T) {
	mem := newMemAdapter()
	mem.failKeys = func(key string) bool { return strings.HasPrefix(key, storage.PrefixImages) }
	sink := &recordSink{}
	p := NewPipeline(settings.NewProvider(settings.StaticSource(cdnConfig())), fixedAdapter{mem}, WithRecords(sink))

	_, err := p.Process(context.Background(), Upload{Data: encodePNG(t, testImage(16, 16)), MimeType: "image/png", Title: "t", UploaderID: "u"})
	var be *storage.BackendError
	require.ErrorAs(t, err, &be)
	assert.Empty(t, mem.keys())
	assert.Len(t, mem.deleted, 2)
	assert.Empty(t, sink.created)
}

func TestPipelineRecordFailureRemovesOriginal(t *testing.T) {
	mem := newMemAdapter()
	sink := &recordSink{err: errors.New("db down")}
	p := NewPipeline(settings.NewProvider(settings.StaticSource(cdnConfig())), fixedAdapter{mem}, WithRecords(sink))

	_, err := p.Process(context.Background(), Upload{Data: encodePNG(t, testImage(16, 16)), MimeType: "image/png", Title: "t", UploaderID: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Empty(t, mem.keys())
}

func TestPipelineVideo(t *testing.T) {
	mem := newMemAdapter()
	video := fakeVideo{
		info:  VideoInfo{Width: 1920, Height: 1080, Duration: 12.5},
		frame: testImage(64, 36),
		clip:  []byte("mp4"),
	}
	sink := &recordSink{}
	p := NewPipeline(settings.NewProvider(settings.StaticSource(cdnConfig())), fixedAdapter{mem},
		WithVideoProcessor(video), WithRecords(sink))

	res, err := p.Process(context.Background(), Upload{Data: []byte("video bytes"), MimeType: "video/mp4", Title: "Clip", UploaderID: "u"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.RelativePath, "videos/clip-u"))
	assert.Equal(t, 1920, *res.Width)
	assert.InDelta(t, 12.5, *res.DurationSeconds, 0.001)
	assert.Equal(t, PreviewVideoPath(res.Filename), res.PreviewVideoPath)
	assert.Equal(t, PreviewPath(res.Filename), res.PreviewPath)
	assert.NotEmpty(t, res.BlurDataURL)
	assert.Empty(t, res.Warnings)
	assert.ElementsMatch(t, []string{res.RelativePath, res.PreviewPath, res.PreviewVideoPath, BlurPath(res.Filename)}, mem.keys())
	assert.Equal(t, res.PreviewVideoPath, sink.created[0].PreviewVideoPath)
}

func TestPipelineVideoOversizedFrameSkipsStills(t *testing.T) {
	mem := newMemAdapter()
	video := fakeVideo{
		info:  VideoInfo{Width: 20000, Height: 20000, Duration: 3},
		frame: testImage(64, 36),
		clip:  []byte("mp4"),
	}
	p := NewPipeline(settings.NewProvider(settings.StaticSource(cdnConfig())), fixedAdapter{mem}, WithVideoProcessor(video))

	res, err := p.Process(context.Background(), Upload{Data: []byte("video bytes"), MimeType: "video/mp4", Title: "Wide", UploaderID: "u"})
	require.NoError(t, err)
	assert.Equal(t, 20000, *res.Width)
	assert.Empty(t, res.PreviewPath)
	assert.Empty(t, res.BlurDataURL)
	var assets []string
	for _, w := range res.Warnings {
		assets = append(assets, w.Asset)
		assert.ErrorIs(t, w, ErrTooManyPixels)
	}
	assert.ElementsMatch(t, []string{"preview", "blur"}, assets)
	assert.ElementsMatch(t, []string{res.RelativePath, res.PreviewVideoPath}, mem.keys())
}

func TestPipelineVideoWithoutProcessor(t *testing.T) {
	mem := newMemAdapter()
	p := NewPipeline(settings.NewProvider(settings.StaticSource(cdnConfig())), fixedAdapter{mem})

	res, err := p.Process(context.Background(), Upload{Data: []byte("video"), MimeType: "video/webm", Title: "v", UploaderID: "u"})
	require.NoError(t, err)
	assert.Nil(t, res.DurationSeconds)
	assert.Empty(t, res.PreviewVideoPath)
	require.Len(t, res.Warnings, 1)
	assert.ErrorIs(t, res.Warnings[0], ErrFFmpegUnavailable)
}

func TestPipelineScanner(t *testing.T) {
	mem := newMemAdapter()
	data := encodePNG(t, testImage(8, 8))

	p := NewPipeline(settings.NewProvider(settings.StaticSource(cdnConfig())), fixedAdapter{mem},
		WithScanner(fakeScanner{status: ScanStatusInfected, detail: "Eicar-Test-Signature"}))
	_, err := p.Process(context.Background(), Upload{Data: data, MimeType: "image/png", Title: "t", UploaderID: "u"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "Eicar")
	assert.Empty(t, mem.keys())

	p = NewPipeline(settings.NewProvider(settings.StaticSource(cdnConfig())), fixedAdapter{mem},
		WithScanner(fakeScanner{status: ScanStatusError, detail: "clamd down"}))
	_, err = p.Process(context.Background(), Upload{Data: data, MimeType: "image/png", Title: "t", UploaderID: "u"})
	assert.NoError(t, err)
}

func TestPipelineInvalidConfig(t *testing.T) {
	cfg := cdnConfig()
	cfg.S3.Bucket = ""
	p := NewPipeline(settings.NewProvider(settings.StaticSource(cfg)), storage.DefaultSelector(nil))

	_, err := p.Process(context.Background(), Upload{Data: encodePNG(t, testImage(8, 8)), MimeType: "image/png", Title: "t", UploaderID: "u"})
	var cerr *settings.ConfigError
	require.ErrorAs(t, err, &cerr)
}
