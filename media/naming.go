package media

import (
	"path"
	"strings"

	"github.com/chhayvoinvy/promptexify-sub001/storage"
)

const (
	previewPrefix = "preview-"
	blurPrefix    = "blur-"
)

// ClassDir is the relative directory originals of class are stored in.
func ClassDir(c Class) string {
	if c == ClassVideo {
		return storage.PrefixVideos
	}
	return storage.PrefixImages
}

func stem(filename string) string {
	base := path.Base(filename)
	return strings.TrimSuffix(base, path.Ext(base))
}

// PreviewPath is the preview image path derived from an original filename or path.
func PreviewPath(original string) string {
	return storage.PrefixPreview + previewPrefix + stem(original) + ".jpg"
}

// BlurPath is the stored blur placeholder path derived from an original.
func BlurPath(original string) string {
	return storage.PrefixPreview + blurPrefix + stem(original) + ".jpg"
}

// PreviewVideoPath shares the preview stem with a video extension.
func PreviewVideoPath(original string) string {
	return storage.PrefixPreview + previewPrefix + stem(original) + ".mp4"
}

// IsDerivative reports whether key lives in the derivative directory. Originals
// are only ever stored under images/ or videos/, whatever their file name.
func IsDerivative(key string) bool {
	return strings.HasPrefix(strings.TrimLeft(key, "/"), storage.PrefixPreview)
}

// ConventionalDerivatives lists the derivative paths the naming convention
// implies for an original of the given class. Derivatives have none.
func ConventionalDerivatives(original string, class Class) []string {
	if IsDerivative(original) {
		return nil
	}
	paths := []string{PreviewPath(original), BlurPath(original)}
	if class == ClassVideo {
		paths = append(paths, PreviewVideoPath(original))
	}
	return paths
}
