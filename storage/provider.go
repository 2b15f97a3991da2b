// Package storage writes and deletes media objects on the configured backing store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/chhayvoinvy/promptexify-sub001/settings"
)

// CacheControl is attached to every object the remote variants write.
const CacheControl = "public, max-age=31536000, immutable"

const (
	PrefixImages  = "images/"
	PrefixVideos  = "videos/"
	PrefixPreview = "preview/"
)

// AllowedPrefixes are the only key prefixes Delete will act on.
var AllowedPrefixes = []string{PrefixImages, PrefixVideos, PrefixPreview}

// ErrKeyNotAllowed is returned when a delete targets a key outside AllowedPrefixes.
var ErrKeyNotAllowed = errors.New("storage: key outside allowed prefixes")

// Adapter is the capability every backing store variant implements.
type Adapter interface {
	Variant() settings.Variant

	// Upload writes data under key and returns the object's address: a public URL
	// for remote variants, the relative path for the local variant.
	Upload(ctx context.Context, data []byte, key, contentType string) (string, error)

	// Delete removes the object addressed by target (URL or relative path).
	// A missing object is not an error.
	Delete(ctx context.Context, target string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) bool
}

// BackendError wraps a failure talking to a backing store.
type BackendError struct {
	Variant settings.Variant
	Op      string
	Key     string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s %q: %v", e.Variant, e.Op, e.Key, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// KeyFromTarget strips any of the given bases (public URL prefixes) from target and
// returns the object key. Unknown absolute URLs fall back to their path.
func KeyFromTarget(target string, bases ...string) string {
	target = strings.TrimSpace(target)
	for _, base := range bases {
		base = strings.TrimRight(base, "/")
		if base == "" {
			continue
		}
		if strings.HasPrefix(target, base+"/") {
			return strings.TrimPrefix(target, base+"/")
		}
	}
	if IsAbsoluteURL(target) {
		if u, err := url.Parse(target); err == nil {
			return strings.TrimLeft(u.Path, "/")
		}
	}
	return strings.TrimLeft(target, "/")
}

// CheckKey enforces the delete allow-list and rejects traversal.
func CheckKey(key string) error {
	if key == "" || strings.Contains(key, "..") || path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrKeyNotAllowed, key)
	}
	for _, prefix := range AllowedPrefixes {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrKeyNotAllowed, key)
}

// IsAbsoluteURL reports whether s carries a URL scheme.
func IsAbsoluteURL(s string) bool {
	i := strings.Index(s, ":")
	if i <= 0 {
		return false
	}
	for _, r := range s[:i] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return false
		}
	}
	return true
}
