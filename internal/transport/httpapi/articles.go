package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/usecase"
)

type createArticleRequest struct {
	URL         string     `json:"url" binding:"required"`
	Title       string     `json:"title"`
	Text        string     `json:"text"`
	Image       string     `json:"image"`
	Description string     `json:"description"`
	PublishedAt *time.Time `json:"published_at"`
	SourceID    string     `json:"source_id"`
}

type advanceRequest struct {
	State          string                 `json:"state" binding:"required"`
	Actor          string                 `json:"actor"`
	Analysis       *domain.Analysis       `json:"analysis"`
	Classification *domain.Classification `json:"classification"`
	Publication    *domain.Publication    `json:"publication"`
	Rejection      *domain.Rejection      `json:"rejection"`
}

func (h *handler) createArticle(c *gin.Context) {
	var req createArticleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	article, created, err := h.manager.Create(c.Request.Context(), req.URL, domain.OriginalData{
		Title:       req.Title,
		Text:        req.Text,
		Image:       req.Image,
		Description: req.Description,
		PublishedAt: req.PublishedAt,
		SourceID:    req.SourceID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"created": created, "article": article})
}

func (h *handler) listArticles(c *gin.Context) {
	raw := c.Query("state")
	if raw == "" {
		badRequest(c, "state query parameter is required")
		return
	}
	var articles []domain.Article
	for _, name := range strings.Split(raw, ",") {
		state, err := domain.ParseState(name)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		articles = append(articles, h.manager.FindByState(state)...)
	}
	if articles == nil {
		articles = []domain.Article{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(articles), "articles": articles})
}

func (h *handler) getArticle(c *gin.Context) {
	article, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, article)
}

func (h *handler) advanceArticle(c *gin.Context) {
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	to, err := domain.ParseState(req.State)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = actorOf(c, "operator")
	}

	article, err := h.manager.Advance(c.Request.Context(), c.Param("id"), to, actor, usecase.SectionData{
		Analysis:       req.Analysis,
		Classification: req.Classification,
		Publication:    req.Publication,
		Rejection:      req.Rejection,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, article)
}

func (h *handler) unpublishArticle(c *gin.Context) {
	article, err := h.manager.Unpublish(c.Request.Context(), c.Param("id"), actorOf(c, "operator"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, article)
}
