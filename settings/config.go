// Package settings resolves the active storage configuration.
package settings

import (
	"strings"

	"github.com/spf13/viper"
)

type Variant string

const (
	VariantS3     Variant = "s3"
	VariantWebDAV Variant = "webdav"
	VariantLocal  Variant = "local"
)

const (
	DefaultMaxImageSize       int64 = 2 * 1024 * 1024
	DefaultMaxVideoSize       int64 = 10 * 1024 * 1024
	DefaultCompressionQuality       = 80
	DefaultLocalRoot                = "data/media"
)

type S3Config struct {
	Endpoint        string `mapstructure:"Endpoint" json:"endpoint"`
	Region          string `mapstructure:"Region" json:"region" validate:"required"`
	Bucket          string `mapstructure:"Bucket" json:"bucket" validate:"required"`
	AccessKeyID     string `mapstructure:"AccessKeyID" json:"accessKeyId" validate:"required"`
	SecretAccessKey string `mapstructure:"SecretAccessKey" json:"secretAccessKey" validate:"required"`
	UsePathStyle    bool   `mapstructure:"UsePathStyle" json:"usePathStyle"`
}

type WebDAVConfig struct {
	URL      string `mapstructure:"URL" json:"url" validate:"required,url"`
	Username string `mapstructure:"Username" json:"username" validate:"required"`
	Password string `mapstructure:"Password" json:"password" validate:"required"`
}

type LocalConfig struct {
	Root      string `mapstructure:"Root" json:"root" validate:"required"`
	PublicURL string `mapstructure:"PublicURL" json:"publicUrl" validate:"omitempty,url"`
}

// StorageConfig is tagged by Variant; only the block matching Variant is read.
type StorageConfig struct {
	Variant            Variant      `mapstructure:"Variant" json:"variant"`
	S3                 S3Config     `mapstructure:"S3" json:"s3"`
	WebDAV             WebDAVConfig `mapstructure:"WebDAV" json:"webdav"`
	Local              LocalConfig  `mapstructure:"Local" json:"local"`
	CDNURL             string       `mapstructure:"CDNURL" json:"cdnUrl"`
	AllowDirectURLs    bool         `mapstructure:"AllowDirectURLs" json:"allowDirectUrls"`
	MaxImageSize       int64        `mapstructure:"MaxImageSize" json:"maxImageSize"`
	MaxVideoSize       int64        `mapstructure:"MaxVideoSize" json:"maxVideoSize"`
	EnableCompression  bool         `mapstructure:"EnableCompression" json:"enableCompression"`
	CompressionQuality int          `mapstructure:"CompressionQuality" json:"compressionQuality"`
}

// HasCDN reports whether a CDN origin is configured.
func (c StorageConfig) HasCDN() bool {
	return strings.TrimSpace(c.CDNURL) != ""
}

// WithDefaults fills zero limits and quality with the package defaults.
func (c StorageConfig) WithDefaults() StorageConfig {
	if c.Variant == "" {
		c.Variant = VariantS3
	}
	c.Variant = Variant(strings.ToLower(string(c.Variant)))
	if c.MaxImageSize <= 0 {
		c.MaxImageSize = DefaultMaxImageSize
	}
	if c.MaxVideoSize <= 0 {
		c.MaxVideoSize = DefaultMaxVideoSize
	}
	if c.CompressionQuality <= 0 {
		c.CompressionQuality = DefaultCompressionQuality
	}
	if c.Variant == VariantLocal && c.Local.Root == "" {
		c.Local.Root = DefaultLocalRoot
	}
	return c
}

// EnvDefaults builds the fallback configuration from MEDIASTORE_STORAGE_* variables.
// Without any environment it yields the Cloud-A variant with 2MB/10MB limits and
// compression on.
func EnvDefaults() StorageConfig {
	v := viper.New()
	v.SetEnvPrefix("MEDIASTORE_STORAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("VARIANT", string(VariantS3))
	v.SetDefault("MAXIMAGESIZE", DefaultMaxImageSize)
	v.SetDefault("MAXVIDEOSIZE", DefaultMaxVideoSize)
	v.SetDefault("ENABLECOMPRESSION", true)
	v.SetDefault("COMPRESSIONQUALITY", DefaultCompressionQuality)
	v.SetDefault("S3.REGION", "us-east-1")
	v.SetDefault("S3.USEPATHSTYLE", false)
	v.SetDefault("LOCAL.ROOT", DefaultLocalRoot)

	cfg := StorageConfig{
		Variant:            Variant(v.GetString("VARIANT")),
		CDNURL:             v.GetString("CDNURL"),
		AllowDirectURLs:    v.GetBool("ALLOWDIRECTURLS"),
		MaxImageSize:       v.GetInt64("MAXIMAGESIZE"),
		MaxVideoSize:       v.GetInt64("MAXVIDEOSIZE"),
		EnableCompression:  v.GetBool("ENABLECOMPRESSION"),
		CompressionQuality: v.GetInt("COMPRESSIONQUALITY"),
		S3: S3Config{
			Endpoint:        v.GetString("S3.ENDPOINT"),
			Region:          v.GetString("S3.REGION"),
			Bucket:          v.GetString("S3.BUCKET"),
			AccessKeyID:     v.GetString("S3.ACCESSKEYID"),
			SecretAccessKey: v.GetString("S3.SECRETACCESSKEY"),
			UsePathStyle:    v.GetBool("S3.USEPATHSTYLE"),
		},
		WebDAV: WebDAVConfig{
			URL:      v.GetString("WEBDAV.URL"),
			Username: v.GetString("WEBDAV.USERNAME"),
			Password: v.GetString("WEBDAV.PASSWORD"),
		},
		Local: LocalConfig{
			Root:      v.GetString("LOCAL.ROOT"),
			PublicURL: v.GetString("LOCAL.PUBLICURL"),
		},
	}
	return cfg.WithDefaults()
}
