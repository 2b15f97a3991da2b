package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chhayvoinvy/promptexify-sub001/settings"
	"github.com/chhayvoinvy/promptexify-sub001/storage"
)

// secretMask replaces stored secrets in responses. A PUT carrying the mask
// keeps the stored value.
const secretMask = "********"

type AdminHandler struct {
	App *App
}

func redact(cfg settings.StorageConfig) settings.StorageConfig {
	if cfg.S3.SecretAccessKey != "" {
		cfg.S3.SecretAccessKey = secretMask
	}
	if cfg.WebDAV.Password != "" {
		cfg.WebDAV.Password = secretMask
	}
	return cfg
}

func keepSecrets(in, current settings.StorageConfig) settings.StorageConfig {
	if in.S3.SecretAccessKey == secretMask {
		in.S3.SecretAccessKey = current.S3.SecretAccessKey
	}
	if in.WebDAV.Password == secretMask {
		in.WebDAV.Password = current.WebDAV.Password
	}
	return in
}

func (h *AdminHandler) bindConfig(c *gin.Context) (settings.StorageConfig, bool) {
	var in settings.StorageConfig
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid configuration: " + err.Error()})
		return in, false
	}
	current := h.App.Provider.Get(c.Request.Context())
	return keepSecrets(in, current).WithDefaults(), true
}

// HandleGetStorage returns the active storage configuration with secrets masked.
func (h *AdminHandler) HandleGetStorage(c *gin.Context) {
	cfg := h.App.Provider.Get(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"config":     redact(cfg),
		"validation": settings.Validate(cfg),
	})
}

// HandlePutStorage persists a new configuration. Invalid configurations are
// rejected with every issue listed; nothing is written in that case.
func (h *AdminHandler) HandlePutStorage(c *gin.Context) {
	cfg, ok := h.bindConfig(c)
	if !ok {
		return
	}
	v := settings.Validate(cfg)
	if !v.IsValid {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "configuration rejected", "validation": v})
		return
	}
	if err := h.App.Settings.Save(c.Request.Context(), cfg); err != nil {
		h.App.Logger.Error("saving storage settings failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "could not save configuration"})
		return
	}
	h.App.Provider.Invalidate()
	h.App.Logger.Info("storage settings updated", "variant", cfg.Variant, "cdn", cfg.HasCDN())

	c.JSON(http.StatusOK, gin.H{"config": redact(cfg), "validation": v})
}

// HandleValidateStorage checks a candidate configuration and, when it passes,
// tries to build an adapter for it. The response carries the equivalent
// environment variables for the fallback path.
func (h *AdminHandler) HandleValidateStorage(c *gin.Context) {
	cfg, ok := h.bindConfig(c)
	if !ok {
		return
	}
	v := settings.Validate(cfg)
	if v.IsValid {
		if _, err := storage.New(c.Request.Context(), cfg, h.App.Logger); err != nil {
			h.App.Logger.Warn("storage validation: backend unreachable", "variant", cfg.Variant, "error", err)
			v.IsValid = false
			v.Issues = append(v.Issues, "backend unreachable: "+err.Error())
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"validation": v,
		"envVars":    generateEnvVars(cfg),
	})
}

func dryRunParam(c *gin.Context) (bool, error) {
	raw := c.Query("dryRun")
	if raw == "" {
		return true, nil
	}
	return strconv.ParseBool(raw)
}

// HandleCleanup runs the orphan reaper once. Without dryRun=false it only reports.
func (h *AdminHandler) HandleCleanup(c *gin.Context) {
	dryRun, err := dryRunParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "dryRun must be a boolean"})
		return
	}
	report, err := h.App.Reaper.CleanupOrphanedMedia(c.Request.Context(), dryRun)
	if err != nil {
		respondError(c, err)
		return
	}
	h.App.Metrics.recordOrphans(report)
	c.JSON(http.StatusOK, report)
}

func (h *AdminHandler) HandlePreviewCleanup(c *gin.Context) {
	dryRun, err := dryRunParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "dryRun must be a boolean"})
		return
	}
	report, err := h.App.Reaper.CleanupOrphanedPreviewFiles(c.Request.Context(), dryRun)
	if err != nil {
		respondError(c, err)
		return
	}
	h.App.Metrics.recordPreviews(report)
	c.JSON(http.StatusOK, report)
}

// generateEnvVars renders cfg as MEDIASTORE_STORAGE_* lines.
func generateEnvVars(cfg settings.StorageConfig) string {
	var b strings.Builder
	put := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, "MEDIASTORE_STORAGE_%s=%s\n", key, value)
		}
	}
	put("VARIANT", string(cfg.Variant))
	switch cfg.Variant {
	case settings.VariantS3:
		put("S3_ENDPOINT", cfg.S3.Endpoint)
		put("S3_REGION", cfg.S3.Region)
		put("S3_BUCKET", cfg.S3.Bucket)
		put("S3_ACCESSKEYID", cfg.S3.AccessKeyID)
		put("S3_SECRETACCESSKEY", cfg.S3.SecretAccessKey)
		put("S3_USEPATHSTYLE", strconv.FormatBool(cfg.S3.UsePathStyle))
	case settings.VariantWebDAV:
		put("WEBDAV_URL", cfg.WebDAV.URL)
		put("WEBDAV_USERNAME", cfg.WebDAV.Username)
		put("WEBDAV_PASSWORD", cfg.WebDAV.Password)
	case settings.VariantLocal:
		put("LOCAL_ROOT", cfg.Local.Root)
		put("LOCAL_PUBLICURL", cfg.Local.PublicURL)
	}
	put("CDNURL", cfg.CDNURL)
	put("ALLOWDIRECTURLS", strconv.FormatBool(cfg.AllowDirectURLs))
	put("MAXIMAGESIZE", strconv.FormatInt(cfg.MaxImageSize, 10))
	put("MAXVIDEOSIZE", strconv.FormatInt(cfg.MaxVideoSize, 10))
	put("ENABLECOMPRESSION", strconv.FormatBool(cfg.EnableCompression))
	put("COMPRESSIONQUALITY", strconv.Itoa(cfg.CompressionQuality))
	return b.String()
}

// printEnvGuide lists the environment variables the service reads.
func printEnvGuide(w io.Writer) {
	fmt.Fprintln(w, "--- mediastore environment ---")
	fmt.Fprintln(w, "Settings can live in a .env file next to the binary.")
	fmt.Fprintln(w, "-----------------------------------------------------------------")
	fmt.Fprintln(w, "# Service")
	fmt.Fprintln(w, "MEDIASTORE_SERVERPORT=8080")
	fmt.Fprintln(w, "MEDIASTORE_CORSALLOWEDORIGINS=https://your-frontend.com   # comma separated")
	fmt.Fprintln(w, "MEDIASTORE_MAXUPLOADSIZEMB=64")
	fmt.Fprintln(w, "MEDIASTORE_LOG_LEVEL=info")
	fmt.Fprintln(w, "MEDIASTORE_CLAMDSOCKET=unix:/var/run/clamav/clamd.ctl          # optional")
	fmt.Fprintln(w, "MEDIASTORE_FFMPEGPATH=ffmpeg")
	fmt.Fprintln(w, "MEDIASTORE_FFPROBEPATH=ffprobe")

	fmt.Fprintln(w, "\n# Database (sqlite, mysql or postgres)")
	fmt.Fprintln(w, "MEDIASTORE_DATABASE_TYPE=sqlite")
	fmt.Fprintln(w, "MEDIASTORE_DATABASE_DSN=data/mediastore.db")

	fmt.Fprintln(w, "\n# Orphan cleanup")
	fmt.Fprintln(w, "MEDIASTORE_CLEANUP_ENABLED=true")
	fmt.Fprintln(w, "MEDIASTORE_CLEANUP_SCHEDULE=@every 1h")
	fmt.Fprintln(w, "MEDIASTORE_CLEANUP_RETENTIONHOURS=24")

	fmt.Fprintln(w, "\n# Storage fallback, used until settings are saved through the admin API")
	fmt.Fprint(w, generateEnvVars(settings.StorageConfig{
		Variant: settings.VariantLocal,
		Local:   settings.LocalConfig{Root: settings.DefaultLocalRoot},
	}.WithDefaults()))
	fmt.Fprintln(w, "-----------------------------------------------------------------")
}
