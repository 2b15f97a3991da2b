package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/chhayvoinvy/promptexify-sub001/records"
	"github.com/chhayvoinvy/promptexify-sub001/settings"
	"github.com/chhayvoinvy/promptexify-sub001/storage"
)

// ConfigSource supplies the active storage configuration.
type ConfigSource interface {
	Get(ctx context.Context) settings.StorageConfig
}

// AdapterSource resolves the adapter for a configuration.
type AdapterSource interface {
	Adapter(ctx context.Context, cfg settings.StorageConfig) (storage.Adapter, error)
}

// RecordWriter persists the record of a completed upload.
type RecordWriter interface {
	Create(ctx context.Context, rec *records.MediaRecord) error
}

// Upload is one file handed to the pipeline.
type Upload struct {
	Data         []byte
	OriginalName string
	MimeType     string
	Title        string
	UploaderID   string
}

type UploadResult struct {
	RecordID         string           `json:"id,omitempty"`
	URL              string           `json:"url"`
	Filename         string           `json:"filename"`
	RelativePath     string           `json:"relativePath"`
	OriginalName     string           `json:"originalName"`
	MimeType         string           `json:"mimeType"`
	FileSizeBytes    int64            `json:"fileSizeBytes"`
	Width            *int             `json:"width,omitempty"`
	Height           *int             `json:"height,omitempty"`
	DurationSeconds  *float64         `json:"durationSeconds,omitempty"`
	StorageVariant   settings.Variant `json:"storageVariant"`
	BlurDataURL      string           `json:"blurDataUrl,omitempty"`
	PreviewPath      string           `json:"previewPath,omitempty"`
	PreviewVideoPath string           `json:"previewVideoPath,omitempty"`
	Warnings         []PartialFailure `json:"warnings,omitempty"`
}

// Pipeline turns an upload into a stored original plus best-effort derivatives.
type Pipeline struct {
	config   ConfigSource
	adapters AdapterSource
	records  RecordWriter
	scanner  Scanner
	video    VideoProcessor
	logger   *slog.Logger
}

type Option func(*Pipeline)

// WithRecords persists a MediaRecord for every completed upload.
func WithRecords(w RecordWriter) Option {
	return func(p *Pipeline) { p.records = w }
}

func WithScanner(s Scanner) Option {
	return func(p *Pipeline) { p.scanner = s }
}

func WithVideoProcessor(v VideoProcessor) Option {
	return func(p *Pipeline) { p.video = v }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func NewPipeline(config ConfigSource, adapters AdapterSource, opts ...Option) *Pipeline {
	p := &Pipeline{config: config, adapters: adapters, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// derivativeSet tracks what was written so a failed original can be unwound.
type derivativeSet struct {
	uploaded []string
	warnings []PartialFailure
}

func (d *derivativeSet) fail(asset string, err error) {
	d.warnings = append(d.warnings, PartialFailure{Asset: asset, Err: err})
}

// Process runs one upload to completion. Only validation, configuration, original
// upload and persistence failures are returned; derivative failures land in
// UploadResult.Warnings.
func (p *Pipeline) Process(ctx context.Context, up Upload) (*UploadResult, error) {
	cfg := p.config.Get(ctx)

	class, err := Validate(up.MimeType, int64(len(up.Data)), cfg)
	if err != nil {
		return nil, err
	}
	if class == ClassImage {
		if err := checkImagePixels(up.Data); err != nil {
			return nil, rejectf("%v", err)
		}
	}
	if err := p.scan(ctx, up); err != nil {
		return nil, err
	}

	adapter, err := p.adapters.Adapter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	filename, err := GenerateFilename(up.Title, up.UploaderID, Extension(up.MimeType))
	if err != nil {
		return nil, err
	}
	relPath := ClassDir(class) + filename
	mimeType := normalizeMIME(up.MimeType)
	log := p.logger.With("path", relPath, "mimeType", mimeType, "variant", adapter.Variant())

	data := up.Data
	if class == ClassImage && cfg.EnableCompression {
		out, err := recompress(data, mimeType, cfg.CompressionQuality)
		if err != nil {
			log.Warn("recompression skipped", "error", err)
		}
		data = out
	}

	res := &UploadResult{
		Filename:       filename,
		RelativePath:   relPath,
		OriginalName:   up.OriginalName,
		MimeType:       mimeType,
		FileSizeBytes:  int64(len(data)),
		StorageVariant: adapter.Variant(),
	}

	derived := &derivativeSet{}
	if class == ClassImage {
		p.imageDerivatives(ctx, adapter, cfg, data, res, derived)
	} else {
		p.videoDerivatives(ctx, adapter, cfg, data, res, derived)
	}
	for _, w := range derived.warnings {
		log.Warn("derivative asset failed", "asset", w.Asset, "error", w.Err)
	}
	res.Warnings = derived.warnings

	addr, err := adapter.Upload(ctx, data, relPath, mimeType)
	if err != nil {
		log.Error("original upload failed", "error", err)
		p.unwind(adapter, derived.uploaded, log)
		return nil, err
	}
	if !storage.IsAbsoluteURL(addr) {
		addr = storage.PublicURL(relPath, cfg)
	}
	res.URL = addr

	if p.records != nil {
		rec := &records.MediaRecord{
			RelativePath:     relPath,
			MimeType:         mimeType,
			UploadedBy:       up.UploaderID,
			StorageVariant:   string(adapter.Variant()),
			SizeBytes:        res.FileSizeBytes,
			PreviewPath:      res.PreviewPath,
			BlurPath:         blurPathIfStored(derived.uploaded, filename),
			PreviewVideoPath: res.PreviewVideoPath,
		}
		if err := p.records.Create(ctx, rec); err != nil {
			log.Error("persisting media record failed, removing stored files", "error", err)
			p.unwind(adapter, append(derived.uploaded, relPath), log)
			return nil, fmt.Errorf("persist media record: %w", err)
		}
		res.RecordID = rec.ID
	}

	log.Info("upload complete", "size", res.FileSizeBytes, "warnings", len(res.Warnings))
	return res, nil
}

func (p *Pipeline) scan(ctx context.Context, up Upload) error {
	if p.scanner == nil {
		return nil
	}
	status, detail := p.scanner.Scan(ctx, up.Data)
	switch status {
	case ScanStatusInfected:
		return rejectf("file rejected by malware scan: %s", detail)
	case ScanStatusError:
		p.logger.Warn("malware scan failed, continuing without it", "file", up.OriginalName, "details", detail)
	}
	return nil
}

func blurPathIfStored(uploaded []string, filename string) string {
	want := BlurPath(filename)
	for _, u := range uploaded {
		if u == want {
			return want
		}
	}
	return ""
}

func (p *Pipeline) imageDerivatives(ctx context.Context, adapter storage.Adapter, cfg settings.StorageConfig, data []byte, res *UploadResult, d *derivativeSet) {
	if w, h, err := imageSize(data); err == nil {
		res.Width, res.Height = &w, &h
	} else {
		d.fail("metadata", err)
	}

	img, err := decodeImage(data)
	if err != nil {
		d.fail("preview", err)
		d.fail("blur", err)
		return
	}
	p.stillDerivatives(ctx, adapter, cfg, img, res, d)
}

func (p *Pipeline) videoDerivatives(ctx context.Context, adapter storage.Adapter, cfg settings.StorageConfig, data []byte, res *UploadResult, d *derivativeSet) {
	if p.video == nil {
		d.fail("metadata", ErrFFmpegUnavailable)
		return
	}

	var frameErr error
	if info, err := p.video.Probe(ctx, data); err == nil {
		res.Width, res.Height = &info.Width, &info.Height
		if info.Duration > 0 {
			res.DurationSeconds = &info.Duration
		}
		frameErr = checkPixels(info.Width, info.Height)
	} else {
		d.fail("metadata", err)
	}

	if frameErr == nil {
		var frame image.Image
		if frame, frameErr = p.video.PosterFrame(ctx, data); frameErr == nil {
			frameErr = checkPixels(frame.Bounds().Dx(), frame.Bounds().Dy())
			if frameErr == nil {
				p.stillDerivatives(ctx, adapter, cfg, frame, res, d)
			}
		}
	}
	if frameErr != nil {
		d.fail("preview", frameErr)
		d.fail("blur", frameErr)
	}

	clip, err := p.video.PreviewClip(ctx, data)
	if err != nil {
		d.fail("previewVideo", err)
		return
	}
	key := PreviewVideoPath(res.Filename)
	if _, err := adapter.Upload(ctx, clip, key, "video/mp4"); err != nil {
		d.fail("previewVideo", err)
		return
	}
	d.uploaded = append(d.uploaded, key)
	res.PreviewVideoPath = key
}

// stillDerivatives writes the preview image and blur placeholder for a decoded frame.
func (p *Pipeline) stillDerivatives(ctx context.Context, adapter storage.Adapter, cfg settings.StorageConfig, img image.Image, res *UploadResult, d *derivativeSet) {
	if raw, dataURL, err := blurPlaceholder(img); err != nil {
		d.fail("blur", err)
	} else {
		res.BlurDataURL = dataURL
		key := BlurPath(res.Filename)
		if _, err := adapter.Upload(ctx, raw, key, "image/jpeg"); err != nil {
			d.fail("blur", err)
		} else {
			d.uploaded = append(d.uploaded, key)
		}
	}

	preview, err := previewJPEG(img, cfg.CompressionQuality)
	if err != nil {
		d.fail("preview", err)
		return
	}
	key := PreviewPath(res.Filename)
	if _, err := adapter.Upload(ctx, preview, key, "image/jpeg"); err != nil {
		d.fail("preview", err)
		return
	}
	d.uploaded = append(d.uploaded, key)
	res.PreviewPath = key
}

// unwind removes files written for an upload that did not complete. It ignores
// the request context so a cancelled request still cleans up.
func (p *Pipeline) unwind(adapter storage.Adapter, keys []string, log *slog.Logger) {
	ctx := context.Background()
	for _, key := range keys {
		if err := adapter.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrKeyNotAllowed) {
			log.Warn("cleanup of partial upload failed", "key", key, "error", err)
		}
	}
}
