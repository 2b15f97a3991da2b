package media

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	maxSlugLength = 30
	userPrefixLen = 8
	suffixLength  = 5
	suffixChars   = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Slugify lowercases title, collapses every run of non-alphanumerics into one dash
// and truncates to 30 characters. An empty result becomes "untitled".
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return "untitled"
	}
	return slug
}

func userPrefix(uploaderID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(uploaderID) {
		if b.Len() == userPrefixLen {
			break
		}
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = suffixChars[int(buf[i])%len(suffixChars)]
	}
	return string(buf), nil
}

// GenerateFilename returns "{slug}-{userPrefix}{random5}.{ext}".
func GenerateFilename(title, uploaderID, ext string) (string, error) {
	suffix, err := randomSuffix(suffixLength)
	if err != nil {
		return "", fmt.Errorf("generate filename suffix: %w", err)
	}
	return fmt.Sprintf("%s-%s%s.%s", Slugify(title), userPrefix(uploaderID), suffix, strings.TrimPrefix(ext, ".")), nil
}
