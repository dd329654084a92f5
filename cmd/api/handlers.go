package main

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/compressor/internal/encoding"
	"github.com/therealutkarshpriyadarshi/compressor/internal/logging"
	"github.com/therealutkarshpriyadarshi/compressor/internal/metrics"
	"github.com/therealutkarshpriyadarshi/compressor/internal/middleware"
	"github.com/therealutkarshpriyadarshi/compressor/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/compressor/internal/upload"
	"github.com/therealutkarshpriyadarshi/compressor/pkg/models"
)

const defaultUploadName = "video.mp4"

type pipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request) models.PipelineOutcome
}

type blobDecoder interface {
	Decode(blob models.TransportBlob, outputPath string) (models.MediaAsset, error)
}

type requestWorkspace interface {
	Create(requestID string) (string, error)
	Release(dir string)
	Reserve(ctx context.Context, size int64) error
	Status(ctx context.Context) (upload.DiskStatus, error)
}

// API serves the compressor endpoints
type API struct {
	runner        pipelineRunner
	decoder       blobDecoder
	workspace     requestWorkspace
	defaultCookie string
	maxUploadSize int64
	logger        *logging.Logger
}

// EncodedUploadRequest is the JSON body of the pre-encoded upload flow
type EncodedUploadRequest struct {
	File   string `json:"file" binding:"required"`
	Name   string `json:"name" binding:"required"`
	Key    string `json:"key"`
	Cookie string `json:"cookie"`
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	status, err := api.workspace.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "upload directory unavailable",
		})
		return
	}

	if !status.Healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "degraded",
			"storage": status,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"storage": status,
	})
}

// compress accepts a multipart upload and runs it through the pipeline
func (api *API) compress(c *gin.Context) {
	if api.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.maxUploadSize)
	}

	// Parsing the form spools the file to temp storage, so check the
	// declared length before reading any of it
	requestID := api.requestID(c)
	if c.Request.ContentLength > 0 && !api.reserve(c, requestID, c.Request.ContentLength) {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file provided"})
		return
	}
	if file.Size == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Video file is empty"})
		return
	}

	if !api.reserve(c, requestID, file.Size) {
		return
	}
	dir, err := api.workspace.Create(requestID)
	if err != nil {
		api.logger.WithRequestID(requestID).ErrorWithErr("Failed to create request directory", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	defer api.workspace.Release(dir)

	path := filepath.Join(dir, uploadName(file.Filename))
	if err := c.SaveUploadedFile(file, path); err != nil {
		api.logger.WithRequestID(requestID).ErrorWithErr("Failed to save upload", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	metrics.RecordUpload("multipart", file.Size)

	auth := models.AuthContext{
		Key:    c.PostForm("key"),
		Cookie: api.cookie(c.PostForm("cookie"), c.PostForm("name")),
	}
	api.run(c, requestID, models.MediaAsset{Path: path, Size: file.Size}, auth)
}

// compressEncoded accepts a base64 file in a JSON body
func (api *API) compressEncoded(c *gin.Context) {
	if api.maxUploadSize > 0 {
		// base64 inflates by 4/3
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.maxUploadSize/3*4+4096)
	}

	var req EncodedUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	requestID := api.requestID(c)
	if !api.reserve(c, requestID, int64(len(req.File))/4*3) {
		return
	}
	dir, err := api.workspace.Create(requestID)
	if err != nil {
		api.logger.WithRequestID(requestID).ErrorWithErr("Failed to create request directory", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	defer api.workspace.Release(dir)

	asset, err := api.decoder.Decode(models.TransportBlob(req.File), filepath.Join(dir, uploadName(req.Name)))
	if errors.Is(err, encoding.ErrMalformedBlob) {
		api.logger.WithRequestID(requestID).Warnf("Rejected encoded upload: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "File is not valid base64"})
		return
	}
	if err != nil {
		api.logger.WithRequestID(requestID).ErrorWithErr("Failed to store encoded upload", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if asset.Size == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Video file is empty"})
		return
	}
	metrics.RecordUpload("encoded", asset.Size)

	auth := models.AuthContext{
		Key:    req.Key,
		Cookie: api.cookie(req.Cookie),
	}
	api.run(c, requestID, asset, auth)
}

// run executes the pipeline detached from the client connection so a
// disconnect does not abort a running transcode
func (api *API) run(c *gin.Context, requestID string, asset models.MediaAsset, auth models.AuthContext) {
	outcome := api.runner.Run(context.WithoutCancel(c.Request.Context()), pipeline.Request{
		ID:    requestID,
		Asset: asset,
		Auth:  auth,
	})
	c.Status(outcome.HTTPStatus())
}

func (api *API) requestID(c *gin.Context) string {
	if id := middleware.GetRequestID(c); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Header(middleware.RequestIDHeader, id)
	return id
}

// reserve answers 507 when the upload would not fit on disk
func (api *API) reserve(c *gin.Context, requestID string, size int64) bool {
	if err := api.workspace.Reserve(c.Request.Context(), size); err != nil {
		api.logger.WithRequestID(requestID).Warnf("Rejected upload: %v", err)
		c.JSON(http.StatusInsufficientStorage, gin.H{"error": "Not enough storage for upload"})
		return false
	}
	return true
}

// cookie returns the first non-empty candidate, falling back to the configured token
func (api *API) cookie(candidates ...string) string {
	for _, candidate := range candidates {
		if candidate != "" {
			return candidate
		}
	}
	return api.defaultCookie
}

// uploadName keeps only the base name of a client-supplied filename
func uploadName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return defaultUploadName
	}
	return name
}
