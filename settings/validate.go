package settings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validation lists every problem found in a configuration.
type Validation struct {
	IsValid bool     `json:"isValid"`
	Issues  []string `json:"issues"`
}

// ConfigError reports a configuration the upload path cannot use.
type ConfigError struct {
	Issues []string
}

func (e *ConfigError) Error() string {
	return "storage misconfigured: " + strings.Join(e.Issues, "; ")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var fieldLabels = map[string]string{
	"S3Config.Region":          "S3 region",
	"S3Config.Bucket":          "S3 bucket name",
	"S3Config.AccessKeyID":     "S3 access key ID",
	"S3Config.SecretAccessKey": "S3 secret access key",
	"WebDAVConfig.URL":         "WebDAV server URL",
	"WebDAVConfig.Username":    "WebDAV username",
	"WebDAVConfig.Password":    "WebDAV password",
	"LocalConfig.Root":         "local storage root directory",
	"LocalConfig.PublicURL":    "local public URL",
}

// Validate checks the fields the configured variant requires. It never returns an
// error; problems are reported as human-readable issues.
func Validate(cfg StorageConfig) Validation {
	var issues []string

	var block any
	switch cfg.Variant {
	case VariantS3:
		block = cfg.S3
	case VariantWebDAV:
		block = cfg.WebDAV
	case VariantLocal:
		block = cfg.Local
	default:
		issues = append(issues, fmt.Sprintf("unsupported storage variant %q", cfg.Variant))
	}
	if block != nil {
		issues = append(issues, structIssues(block)...)
	}

	if (cfg.Variant == VariantS3 || cfg.Variant == VariantWebDAV) && !cfg.HasCDN() && !cfg.AllowDirectURLs {
		issues = append(issues, "CDN URL is required unless direct storage URLs are explicitly allowed")
	}
	if cfg.HasCDN() {
		if err := validate.Var(cfg.CDNURL, "url"); err != nil {
			issues = append(issues, "CDN URL must be an absolute URL")
		}
	}
	if cfg.CompressionQuality < 1 || cfg.CompressionQuality > 100 {
		issues = append(issues, "compression quality must be between 1 and 100")
	}
	if cfg.MaxImageSize <= 0 {
		issues = append(issues, "maximum image size must be positive")
	}
	if cfg.MaxVideoSize <= 0 {
		issues = append(issues, "maximum video size must be positive")
	}

	return Validation{IsValid: len(issues) == 0, Issues: issues}
}

func structIssues(block any) []string {
	err := validate.Struct(block)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	issues := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		label, ok := fieldLabels[fe.StructNamespace()]
		if !ok {
			label = fe.Field()
		}
		switch fe.Tag() {
		case "required":
			issues = append(issues, label+" is required")
		case "url":
			issues = append(issues, label+" must be an absolute URL")
		default:
			issues = append(issues, fmt.Sprintf("%s is invalid (%s)", label, fe.Tag()))
		}
	}
	return issues
}
