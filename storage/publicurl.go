package storage

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/chhayvoinvy/promptexify-sub001/settings"
)

// LocalURLPrefix is where the server exposes the local storage root when no
// public URL is configured.
const LocalURLPrefix = "/uploads"

// PublicURL maps a backend-independent relative path to its public address under cfg.
// It is pure: the same inputs always produce the same URL, and only the base in
// front of the path depends on the variant and CDN setting.
func PublicURL(relativePath string, cfg settings.StorageConfig) string {
	return BaseURL(cfg) + "/" + strings.TrimLeft(relativePath, "/")
}

// BaseURL returns the prefix PublicURL puts in front of relative paths.
func BaseURL(cfg settings.StorageConfig) string {
	switch cfg.Variant {
	case settings.VariantS3:
		if cfg.HasCDN() {
			return trimBase(cfg.CDNURL)
		}
		return s3DirectBase(cfg.S3)
	case settings.VariantWebDAV:
		if cfg.HasCDN() {
			return trimBase(cfg.CDNURL)
		}
		return trimBase(cfg.WebDAV.URL)
	default:
		if cfg.Local.PublicURL != "" {
			return trimBase(cfg.Local.PublicURL)
		}
		return LocalURLPrefix
	}
}

func s3DirectBase(c settings.S3Config) string {
	if c.Endpoint == "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", c.Bucket, c.Region)
	}
	endpoint := trimBase(c.Endpoint)
	if c.UsePathStyle {
		return endpoint + "/" + c.Bucket
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint + "/" + c.Bucket
	}
	return fmt.Sprintf("%s://%s.%s", u.Scheme, c.Bucket, u.Host)
}

func trimBase(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "/")
}
