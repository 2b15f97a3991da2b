package media

import (
	"strconv"
	"strings"

	"github.com/chhayvoinvy/promptexify-sub001/settings"
)

type Class string

const (
	ClassImage Class = "image"
	ClassVideo Class = "video"
)

var imageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/avif": "avif",
}

var videoTypes = map[string]string{
	"video/mp4":       "mp4",
	"video/webm":      "webm",
	"video/quicktime": "mov",
	"video/x-msvideo": "avi",
	"video/avi":       "avi",
}

// ClassOf returns the media class for an allow-listed MIME type.
func ClassOf(mimeType string) (Class, bool) {
	mt := normalizeMIME(mimeType)
	if _, ok := imageTypes[mt]; ok {
		return ClassImage, true
	}
	if _, ok := videoTypes[mt]; ok {
		return ClassVideo, true
	}
	return "", false
}

// Extension returns the file extension (without dot) stored for mimeType.
func Extension(mimeType string) string {
	mt := normalizeMIME(mimeType)
	if ext, ok := imageTypes[mt]; ok {
		return ext
	}
	return videoTypes[mt]
}

// Validate checks type and size against the configured limits.
func Validate(mimeType string, size int64, cfg settings.StorageConfig) (Class, error) {
	class, ok := ClassOf(mimeType)
	if !ok {
		return "", rejectf("file type %q is not supported", mimeType)
	}
	if size <= 0 {
		return "", rejectf("file is empty")
	}
	limit := cfg.MaxImageSize
	if class == ClassVideo {
		limit = cfg.MaxVideoSize
	}
	if size > limit {
		return "", rejectf("%s is %s, the limit is %s", class, humanSize(size), humanSize(limit))
	}
	return class, nil
}

func normalizeMIME(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func humanSize(n int64) string {
	const unit = 1024
	switch {
	case n >= unit*unit:
		return trimFloat(float64(n)/(unit*unit)) + "MB"
	case n >= unit:
		return trimFloat(float64(n)/unit) + "KB"
	default:
		return trimFloat(float64(n)) + "B"
	}
}

func trimFloat(f float64) string {
	return strings.TrimSuffix(strconv.FormatFloat(f, 'f', 1, 64), ".0")
}
