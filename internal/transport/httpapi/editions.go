package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type publishRequest struct {
	ArticleID   string `json:"article_id" binding:"required"`
	EditionName string `json:"edition_name"`
}

func (h *handler) listEditions(c *gin.Context) {
	editions, err := h.manager.Editions(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(editions), "editions": editions})
}

func (h *handler) getEdition(c *gin.Context) {
	edition, err := h.manager.Edition(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, edition)
}

func (h *handler) publishArticle(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	code := c.Param("code")
	if code == nextEditionCode {
		code = ""
	}
	edition, err := h.manager.Publish(c.Request.Context(), req.ArticleID, code, req.EditionName)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, edition)
}

func (h *handler) releaseEdition(c *gin.Context) {
	edition, err := h.manager.Release(c.Request.Context(), c.Param("code"))
	if err != nil && edition.Code == "" {
		h.respondError(c, err)
		return
	}
	resp := gin.H{"edition": edition}
	if err != nil {
		resp["error"] = err.Error()
		c.JSON(http.StatusMultiStatus, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) deleteEdition(c *gin.Context) {
	if err := h.manager.DeleteEdition(c.Request.Context(), c.Param("code")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) runIngest(c *gin.Context) {
	if h.pipeline == nil {
		h.respondError(c, errors.New("ingestion is not configured"))
		return
	}
	day := time.Now().UTC()
	if raw := c.Query("day"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			badRequest(c, "day must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	report, err := h.pipeline.ProcessDay(c.Request.Context(), day)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) sendDigest(c *gin.Context) {
	if h.digest == nil {
		h.respondError(c, errors.New("digest is not configured"))
		return
	}
	if err := h.digest.Send(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}
