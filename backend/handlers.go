package main

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chhayvoinvy/promptexify-sub001/cleanup"
	"github.com/chhayvoinvy/promptexify-sub001/media"
	"github.com/chhayvoinvy/promptexify-sub001/settings"
	"github.com/chhayvoinvy/promptexify-sub001/storage"
)

type MediaHandler struct {
	App            *App
	MaxUploadBytes int64
	MaxPaths       int
}

type deleteRequest struct {
	Path     string `json:"path" binding:"required"`
	MimeType string `json:"mimeType" binding:"required"`
}

type postCleanupRequest struct {
	PostID string `json:"postId" binding:"required"`
}

type resolveRequest struct {
	Paths []string `json:"paths" binding:"required"`
}

func errorStatus(err error) int {
	var verr *media.ValidationError
	var cerr *settings.ConfigError
	var berr *storage.BackendError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, cleanup.ErrUnsupportedType),
		errors.Is(err, storage.ErrKeyNotAllowed),
		errors.Is(err, cleanup.ErrPreviewScanUnsupported):
		return http.StatusBadRequest
	case errors.As(err, &cerr):
		return http.StatusInternalServerError
	case errors.As(err, &berr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	body := gin.H{"message": err.Error()}
	var cerr *settings.ConfigError
	if errors.As(err, &cerr) {
		body["issues"] = cerr.Issues
	}
	c.JSON(errorStatus(err), body)
}

// HandleUpload accepts a multipart form with file, title and uploaderId.
func (h *MediaHandler) HandleUpload(c *gin.Context) {
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "upload exceeds the request size limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": "missing file field"})
		return
	}
	uploaderID := strings.TrimSpace(c.PostForm("uploaderId"))
	if uploaderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "uploaderId is required"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.App.Logger.Error("cannot open uploaded file", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "cannot read upload"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "upload interrupted"})
		return
	}

	res, err := h.App.Pipeline.Process(c.Request.Context(), media.Upload{
		Data:         data,
		OriginalName: fh.Filename,
		MimeType:     fh.Header.Get("Content-Type"),
		Title:        c.PostForm("title"),
		UploaderID:   uploaderID,
	})
	h.App.Metrics.recordUpload(res, err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// HandleDelete removes one original and its derivatives, then its record.
func (h *MediaHandler) HandleDelete(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request: " + err.Error()})
		return
	}
	ctx := c.Request.Context()

	// A stored record knows its real derivative paths; the naming convention
	// is only a fallback for files without one.
	cfg := h.App.Provider.Get(ctx)
	key := storage.KeyFromTarget(req.Path, storage.BaseURL(cfg), storage.LocalURLPrefix)
	rec, findErr := h.App.Store.FindByPath(ctx, key)

	var res cleanup.DeleteResult
	var err error
	if findErr == nil {
		res, err = h.App.Cascade.DeleteRecord(ctx, *rec)
	} else {
		res, err = h.App.Cascade.DeleteMedia(ctx, req.Path, req.MimeType)
	}
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"mainDeleted": false, "message": err.Error()})
		return
	}

	if findErr == nil {
		if err := h.App.Store.Delete(ctx, rec.ID); err != nil {
			h.App.Logger.Error("media deleted but record removal failed", "id", rec.ID, "path", key, "error", err)
		}
	}
	c.JSON(http.StatusOK, res)
}

// HandlePostCleanup deletes every media item attached to a post.
func (h *MediaHandler) HandlePostCleanup(c *gin.Context) {
	var req postCleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request: " + err.Error()})
		return
	}
	ctx := c.Request.Context()

	recs, err := h.App.Store.FindByPost(ctx, req.PostID)
	if err != nil {
		respondError(c, err)
		return
	}
	out := h.App.Cascade.DeletePostMedia(ctx, recs)
	for _, id := range out.Deleted {
		if err := h.App.Store.Delete(ctx, id); err != nil {
			h.App.Logger.Error("post media deleted but record removal failed", "id", id, "error", err)
		}
	}
	c.JSON(http.StatusOK, out)
}

func resolvePath(p string, cfg settings.StorageConfig) string {
	p = strings.TrimSpace(p)
	if p == "" || storage.IsAbsoluteURL(p) {
		return p
	}
	return storage.PublicURL(p, cfg)
}

// HandleResolveBatch maps relative paths to public URLs, preserving order.
func (h *MediaHandler) HandleResolveBatch(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request: " + err.Error()})
		return
	}
	if h.MaxPaths > 0 && len(req.Paths) > h.MaxPaths {
		c.JSON(http.StatusBadRequest, gin.H{"message": "too many paths in one request"})
		return
	}
	cfg := h.App.Provider.Get(c.Request.Context())
	urls := make([]string, len(req.Paths))
	for i, p := range req.Paths {
		urls[i] = resolvePath(p, cfg)
	}
	c.JSON(http.StatusOK, gin.H{"urls": urls})
}

func (h *MediaHandler) HandleResolveOne(c *gin.Context) {
	p := c.Query("path")
	if strings.TrimSpace(p) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "path is required"})
		return
	}
	cfg := h.App.Provider.Get(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"url": resolvePath(p, cfg)})
}

// HandleLocalFile serves objects of the local variant under /uploads.
func (h *MediaHandler) HandleLocalFile(c *gin.Context) {
	cfg := h.App.Provider.Get(c.Request.Context())
	if cfg.Variant != settings.VariantLocal {
		c.Status(http.StatusNotFound)
		return
	}
	key := strings.TrimPrefix(c.Param("filepath"), "/")
	if err := storage.CheckKey(key); err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Cache-Control", storage.CacheControl)
	c.File(filepath.Join(cfg.Local.Root, filepath.FromSlash(key)))
}
