package records

import (
	"time"

	"github.com/chhayvoinvy/promptexify-sub001/settings"
)

// MediaRecord tracks one uploaded original. Only the relative path is stored;
// public URLs are derived from the active configuration on read.
type MediaRecord struct {
	ID             string  `gorm:"primaryKey;size:36" json:"id"`
	RelativePath   string  `gorm:"uniqueIndex;size:255;not null" json:"relativePath"`
	MimeType       string  `gorm:"size:100;not null" json:"mimeType"`
	PostID         *string `gorm:"index;size:64" json:"postId"`
	UploadedBy     string  `gorm:"index;size:64" json:"uploadedBy"`
	StorageVariant string  `gorm:"size:16" json:"storageVariant"`
	SizeBytes      int64   `json:"sizeBytes"`

	// Explicit derivative references. Empty on rows written before they existed;
	// callers fall back to the naming convention for those.
	PreviewPath      string `gorm:"size:255" json:"previewPath,omitempty"`
	BlurPath         string `gorm:"size:255" json:"blurPath,omitempty"`
	PreviewVideoPath string `gorm:"size:255" json:"previewVideoPath,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// DerivativePaths returns the explicitly stored derivative paths.
func (r MediaRecord) DerivativePaths() []string {
	var out []string
	for _, p := range []string{r.PreviewPath, r.BlurPath, r.PreviewVideoPath} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// StorageSettings is the single admin-editable storage configuration row.
type StorageSettings struct {
	ID                 uint   `gorm:"primaryKey"`
	Variant            string `gorm:"size:16"`
	CDNURL             string `gorm:"size:255"`
	AllowDirectURLs    bool
	MaxImageSize       int64
	MaxVideoSize       int64
	EnableCompression  bool
	CompressionQuality int

	S3Endpoint        string `gorm:"size:255"`
	S3Region          string `gorm:"size:64"`
	S3Bucket          string `gorm:"size:128"`
	S3AccessKeyID     string `gorm:"size:128"`
	S3SecretAccessKey string `gorm:"size:256"`
	S3UsePathStyle    bool

	WebDAVURL      string `gorm:"size:255"`
	WebDAVUsername string `gorm:"size:128"`
	WebDAVPassword string `gorm:"size:256"`

	LocalRoot      string `gorm:"size:255"`
	LocalPublicURL string `gorm:"size:255"`

	UpdatedAt time.Time
}

func (s StorageSettings) Config() settings.StorageConfig {
	return settings.StorageConfig{
		Variant:            settings.Variant(s.Variant),
		CDNURL:             s.CDNURL,
		AllowDirectURLs:    s.AllowDirectURLs,
		MaxImageSize:       s.MaxImageSize,
		MaxVideoSize:       s.MaxVideoSize,
		EnableCompression:  s.EnableCompression,
		CompressionQuality: s.CompressionQuality,
		S3: settings.S3Config{
			Endpoint:        s.S3Endpoint,
			Region:          s.S3Region,
			Bucket:          s.S3Bucket,
			AccessKeyID:     s.S3AccessKeyID,
			SecretAccessKey: s.S3SecretAccessKey,
			UsePathStyle:    s.S3UsePathStyle,
		},
		WebDAV: settings.WebDAVConfig{
			URL:      s.WebDAVURL,
			Username: s.WebDAVUsername,
			Password: s.WebDAVPassword,
		},
		Local: settings.LocalConfig{
			Root:      s.LocalRoot,
			PublicURL: s.LocalPublicURL,
		},
	}
}

func settingsRow(c settings.StorageConfig) StorageSettings {
	return StorageSettings{
		ID:                 1,
		Variant:            string(c.Variant),
		CDNURL:             c.CDNURL,
		AllowDirectURLs:    c.AllowDirectURLs,
		MaxImageSize:       c.MaxImageSize,
		MaxVideoSize:       c.MaxVideoSize,
		EnableCompression:  c.EnableCompression,
		CompressionQuality: c.CompressionQuality,
		S3Endpoint:         c.S3.Endpoint,
		S3Region:           c.S3.Region,
		S3Bucket:           c.S3.Bucket,
		S3AccessKeyID:      c.S3.AccessKeyID,
		S3SecretAccessKey:  c.S3.SecretAccessKey,
		S3UsePathStyle:     c.S3.UsePathStyle,
		WebDAVURL:          c.WebDAV.URL,
		WebDAVUsername:     c.WebDAV.Username,
		WebDAVPassword:     c.WebDAV.Password,
		LocalRoot:          c.Local.Root,
		LocalPublicURL:     c.Local.PublicURL,
	}
}
