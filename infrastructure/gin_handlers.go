// infrastructure/gin_handlers.go
package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vitovidale/video-ingest-service/domain"
	"github.com/vitovidale/video-ingest-service/usecase"
)

const (
	DefaultSignatureHeader = "X-Webhook-Signature"
	maxCallbackBody        = 1 << 20
)

type uploadInitiator interface {
	Execute(ctx context.Context, input usecase.UploadVideoInput) (*usecase.UploadVideoOutput, error)
}

type uploadConfirmer interface {
	Execute(ctx context.Context, input usecase.ConfirmUploadInput) (*usecase.ConfirmUploadOutput, error)
}

type videoUpdater interface {
	Execute(ctx context.Context, input usecase.UpdateVideoInput) (*domain.Video, error)
}

// Pinger is anything the health check can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

type VideoHandlers struct {
	UploadVideoUC   uploadInitiator
	ConfirmUploadUC uploadConfirmer
	UpdateVideoUC   videoUpdater
	Metrics         *Metrics
	Logger          *slog.Logger
	SignatureHeader string
	// Dependencies pinged by /health, by name.
	Checks map[string]Pinger
}

func NewVideoHandlers(uploadUC uploadInitiator, confirmUC uploadConfirmer, updateUC videoUpdater, metrics *Metrics, logger *slog.Logger) *VideoHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &VideoHandlers{
		UploadVideoUC:   uploadUC,
		ConfirmUploadUC: confirmUC,
		UpdateVideoUC:   updateUC,
		Metrics:         metrics,
		Logger:          logger,
		SignatureHeader: DefaultSignatureHeader,
		Checks:          map[string]Pinger{},
	}
}

type uploadResponse struct {
	URL       string            `json:"url"`
	Key       string            `json:"key"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Video     *domain.Video     `json:"video"`
}

func (h *VideoHandlers) UploadVideoHandler(c *gin.Context) {
	ownerID := c.GetString(OwnerIDKey)

	var fields map[string]json.RawMessage
	if err := c.ShouldBindJSON(&fields); err != nil {
		h.Metrics.UploadsInitiated.WithLabelValues("InvalidArgument").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object", "code": "InvalidArgument"})
		return
	}

	output, err := h.UploadVideoUC.Execute(c.Request.Context(), usecase.UploadVideoInput{OwnerID: ownerID, Fields: fields})
	if err != nil {
		h.Metrics.UploadsInitiated.WithLabelValues(domain.Kind(err)).Inc()
		h.writeError(c, err)
		return
	}
	h.Metrics.UploadsInitiated.WithLabelValues("ok").Inc()

	c.JSON(http.StatusCreated, uploadResponse{
		URL:       output.Credential.URL,
		Key:       output.Credential.Key,
		Method:    output.Credential.Method,
		Headers:   output.Credential.Headers,
		ExpiresAt: output.Credential.ExpiresAt,
		Video:     output.Video,
	})
}

// UpdateVideoHandler edits the caller's own video metadata.
func (h *VideoHandlers) UpdateVideoHandler(c *gin.Context) {
	var fields map[string]json.RawMessage
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object", "code": "InvalidArgument"})
		return
	}

	video, err := h.UpdateVideoUC.Execute(c.Request.Context(), usecase.UpdateVideoInput{
		OwnerID: c.GetString(OwnerIDKey),
		VideoID: c.Param("id"),
		Fields:  fields,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, video)
}

// UploadCallbackHandler receives the object store's upload-complete webhook.
// The signature covers the exact bytes read here, before any decoding.
func (h *VideoHandlers) UploadCallbackHandler(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody))
	if err != nil {
		h.Metrics.Callbacks.WithLabelValues("rejected").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable callback body", "code": "InvalidArgument"})
		return
	}

	output, err := h.ConfirmUploadUC.Execute(c.Request.Context(), usecase.ConfirmUploadInput{
		RawBody:   body,
		Signature: c.GetHeader(h.SignatureHeader),
	})
	if err != nil {
		h.Metrics.Callbacks.WithLabelValues(callbackOutcome(err)).Inc()
		h.writeError(c, err)
		return
	}
	h.Metrics.Callbacks.WithLabelValues(string(output.Outcome)).Inc()

	if output.Outcome == usecase.OutcomeDuplicate {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "videoId": output.VideoID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted", "videoId": output.VideoID, "partition": output.Ack.Partition})
}

func callbackOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrInvalidArgument):
		return "rejected"
	case errors.Is(err, domain.ErrNotFound):
		return "unknown"
	default:
		return "failed"
	}
}

func (h *VideoHandlers) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{}
	up := true
	for name, p := range h.Checks {
		if err := p.Ping(ctx); err != nil {
			body[name] = "error: " + err.Error()
			up = false
			continue
		}
		body[name] = "connected"
	}

	if !up {
		body["status"] = "DOWN"
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	body["status"] = "UP"
	c.JSON(http.StatusOK, body)
}

// StatusFor maps the error taxonomy onto HTTP.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEnqueueFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *VideoHandlers) writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", "path", c.FullPath(), "error", err)
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": domain.Kind(err)})
}

// NewRouter wires the HTTP surface. auth guards the upload initiation route.
func NewRouter(h *VideoHandlers, auth gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.Logger))

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Video Ingest Service is running!"})
	})

	api := router.Group("/api/videos")
	api.POST("/upload/callback", h.UploadCallbackHandler)

	authRoutes := api.Group("/")
	authRoutes.Use(auth)
	{
		authRoutes.POST("/upload", h.UploadVideoHandler)
		authRoutes.PATCH("/:id", h.UpdateVideoHandler)
	}
	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
