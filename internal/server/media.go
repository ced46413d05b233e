package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ytget/ytfetch/internal/model"
	"github.com/ytget/ytfetch/internal/proxy"
)

// TaskIDHeader carries the proxy task id so the client can cancel it
const TaskIDHeader = "X-Task-Id"

type infoInput struct {
	URL  string `json:"url" binding:"required"`
	Page int    `json:"page"`
	Tab  string `json:"tab"`
}

func (h *Handler) info(c *gin.Context) {
	var input infoInput
	if err := c.ShouldBindJSON(&input); err != nil {
		newErrorResponse(c, http.StatusBadRequest, "URL is required")
		return
	}
	if input.Page < 1 {
		input.Page = 1
	}

	result, err := h.services.Describer.Describe(c.Request.Context(), input.URL, model.ParseTab(input.Tab), input.Page)
	if err != nil {
		h.log.WithError(err).WithField("url", input.URL).Warn("describe failed")
		newErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

type playlistInput struct {
	URL   string `json:"url" binding:"required"`
	Limit int    `json:"limit" binding:"min=0"`
}

func (h *Handler) playlist(c *gin.Context) {
	var input playlistInput
	if err := c.ShouldBindJSON(&input); err != nil {
		newErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.services.Playlists.Items(c.Request.Context(), input.URL, input.Limit)
	if err != nil {
		newErrorResponse(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": input.URL, "items": items, "count": len(items)})
}

func (h *Handler) proxy(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		newErrorResponse(c, http.StatusBadRequest, "URL is required")
		return
	}
	height, err := model.ParseHeightCap(c.Query("quality_cap"))
	if err != nil {
		newErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	req := proxy.Request{
		URL:       url,
		Quality:   model.ParseQuality(c.Query("format_id"), height),
		SessionID: c.Query("sid"),
		Range:     c.GetHeader("Range"),
	}
	id := h.services.Streams.Open(req)
	c.Header(TaskIDHeader, id)

	err = h.services.Streams.Stream(c.Request.Context(), c.Writer, id, req)
	if errors.Is(err, proxy.ErrUpstream) {
		newErrorResponse(c, http.StatusBadGateway, err.Error())
	}
}
