// Package server exposes the fetch engine over HTTP with gin.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/ytget/ytfetch/internal/batch"
	"github.com/ytget/ytfetch/internal/download"
	"github.com/ytget/ytfetch/internal/events"
	"github.com/ytget/ytfetch/internal/logging"
	"github.com/ytget/ytfetch/internal/model"
	"github.com/ytget/ytfetch/internal/platform"
	"github.com/ytget/ytfetch/internal/proxy"
)

// Describer resolves a URL into a listing or a single-video format list
type Describer interface {
	Describe(ctx context.Context, url string, tab model.Tab, page int) (any, error)
}

// Downloads starts download tasks
type Downloads interface {
	Submit(req download.Request) string
}

// Streams runs proxy tasks
type Streams interface {
	Open(req proxy.Request) string
	Stream(ctx context.Context, w http.ResponseWriter, id string, req proxy.Request) error
}

// Batches runs batch operations
type Batches interface {
	ProbeFormats(ctx context.Context, urls []string) []model.FormatSummary
	SubmitAll(ctx context.Context, urls []string, quality model.Quality, sessionID string) []batch.SubmitResult
}

// Playlists lists the videos of a playlist
type Playlists interface {
	Items(ctx context.Context, url string, limit int) ([]platform.PlaylistItem, error)
}

// Tasks is the registry surface used by the transport
type Tasks interface {
	Get(id string) (model.Task, bool)
	List() []model.Task
	MarkAbort(id string) bool
	OpenSession(sessionID string)
	CascadeAbort(sessionID string) []string
}

// Subscriber hands out progress subscriptions
type Subscriber interface {
	Subscribe(buffer int, taskIDs ...string) *events.Subscription
}

// Services groups everything the handlers call into
type Services struct {
	Describer   Describer
	Downloads   Downloads
	Streams     Streams
	Batches     Batches
	Playlists   Playlists
	Tasks       Tasks
	Events      Subscriber
	Metrics     http.Handler
	DownloadDir string
	CORSOrigin  string
	Log         logrus.FieldLogger
}

// Handler serves the HTTP API
type Handler struct {
	services  Services
	log       logrus.FieldLogger
	keepAlive time.Duration
	closing   chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a handler over services
func NewHandler(services Services) *Handler {
	return &Handler{
		services:  services,
		log:       logging.OrDiscard(services.Log),
		keepAlive: DefaultKeepAlive,
		closing:   make(chan struct{}),
	}
}

// Close ends every open session stream
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// InitRoutes builds the gin engine
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.accessLog(), cors(h.services.CORSOrigin))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.services.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.services.Metrics))
	}

	api := router.Group("/api")
	{
		api.POST("/info", h.info)
		api.POST("/playlist", h.playlist)
		api.POST("/download", h.download)
		api.POST("/batch_download", h.batchDownload)
		api.POST("/batch_formats", h.batchFormats)
		api.GET("/proxy", h.proxy)
		api.GET("/events", h.events)
		api.GET("/file/*name", h.serveFile)

		tasks := api.Group("/tasks")
		{
			tasks.GET("", h.listTasks)
			tasks.GET("/:id", h.taskStatus)
			tasks.POST("/:id/cancel", h.cancelTask)
		}
	}

	return router
}

type errorResponse struct {
	Error string `json:"error"`
}

func newErrorResponse(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, errorResponse{Error: message})
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := h.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
			"client":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Warn("request failed")
			return
		}
		entry.Debug("request handled")
	}
}

func cors(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin == "" {
			c.Next()
			return
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type,Range")
		c.Header("Access-Control-Expose-Headers", "X-Task-Id,Content-Disposition,Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
