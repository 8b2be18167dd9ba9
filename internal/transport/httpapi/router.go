package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/usecase"
)

// nextEditionCode in the path asks Publish to allocate the next free code for today.
const nextEditionCode = "next"

// Deps wires the operator API.
type Deps struct {
	Manager  *usecase.Manager
	Pipeline *usecase.Pipeline
	Digest   *usecase.Digest
	Repairs  func() []string
	Logger   *slog.Logger
}

type handler struct {
	manager  *usecase.Manager
	pipeline *usecase.Pipeline
	digest   *usecase.Digest
	repairs  func() []string
	logger   *slog.Logger
}

// NewRouter constructs a Gin engine with the article and edition routes.
func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		manager:  deps.Manager,
		pipeline: deps.Pipeline,
		digest:   deps.Digest,
		repairs:  deps.Repairs,
		logger:   logger.With("component", "httpapi"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog)

	r.GET("/health", h.health)
	r.GET("/stats", h.stats)

	articles := r.Group("/articles")
	articles.POST("", h.createArticle)
	articles.GET("", h.listArticles)
	articles.GET("/:id", h.getArticle)
	articles.POST("/:id/advance", h.advanceArticle)
	articles.POST("/:id/unpublish", h.unpublishArticle)

	editions := r.Group("/editions")
	editions.GET("", h.listEditions)
	editions.GET("/:code", h.getEdition)
	editions.POST("/:code/articles", h.publishArticle)
	editions.POST("/:code/release", h.releaseEdition)
	editions.DELETE("/:code", h.deleteEdition)

	jobs := r.Group("/jobs")
	jobs.POST("/ingest", h.runIngest)
	jobs.POST("/digest", h.sendDigest)

	return r
}

func (h *handler) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.logger.Debug("request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration_ms", time.Since(start).Milliseconds())
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *handler) stats(c *gin.Context) {
	counts := h.manager.Counts()
	byState := make(gin.H, len(domain.AllStates))
	total := 0
	for _, state := range domain.AllStates {
		byState[string(state)] = counts[state]
		total += counts[state]
	}
	resp := gin.H{"total": total, "states": byState}
	if h.repairs != nil {
		resp["pending_repairs"] = h.repairs()
	}
	c.JSON(http.StatusOK, resp)
}

// respondError maps domain sentinels to HTTP statuses.
func (h *handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrIncomplete):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPublishFailed):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func actorOf(c *gin.Context, fallback string) string {
	if actor := strings.TrimSpace(c.GetHeader("X-Actor")); actor != "" {
		return actor
	}
	return fallback
}
