package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ytget/ytfetch/internal/batch"
	"github.com/ytget/ytfetch/internal/download"
	"github.com/ytget/ytfetch/internal/model"
)

// heightCap accepts 1080, "1080", "1080p" or null
type heightCap int

func (h *heightCap) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		*h = 0
		return nil
	}
	n, err := model.ParseHeightCap(s)
	if err != nil {
		return err
	}
	*h = heightCap(n)
	return nil
}

type downloadInput struct {
	URL        string    `json:"url" binding:"required"`
	FormatID   string    `json:"format_id"`
	QualityCap heightCap `json:"quality_cap"`
	SessionID  string    `json:"sid"`
}

func (h *Handler) download(c *gin.Context) {
	var input downloadInput
	if err := c.ShouldBindJSON(&input); err != nil {
		newErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	id := h.services.Downloads.Submit(download.Request{
		URL:       input.URL,
		Quality:   model.ParseQuality(input.FormatID, int(input.QualityCap)),
		SessionID: input.SessionID,
	})

	c.JSON(http.StatusOK, gin.H{"taskId": id, "status": "started"})
}

type batchInput struct {
	URLs       []string  `json:"urls"`
	QualityCap heightCap `json:"quality_cap"`
	SessionID  string    `json:"sid"`
}

func (b *batchInput) clean() {
	urls := b.URLs[:0]
	for _, u := range b.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	b.URLs = urls
}

func (h *Handler) bindBatch(c *gin.Context) (*batchInput, bool) {
	var input batchInput
	if err := c.ShouldBindJSON(&input); err != nil {
		newErrorResponse(c, http.StatusBadRequest, err.Error())
		return nil, false
	}
	input.clean()
	if len(input.URLs) == 0 {
		newErrorResponse(c, http.StatusBadRequest, "No URLs provided")
		return nil, false
	}
	return &input, true
}

func (h *Handler) batchDownload(c *gin.Context) {
	input, ok := h.bindBatch(c)
	if !ok {
		return
	}

	results := h.services.Batches.SubmitAll(c.Request.Context(), input.URLs,
		model.QualityCap(int(input.QualityCap)), input.SessionID)

	c.JSON(http.StatusOK, gin.H{
		"taskIds": batch.TaskIDs(results),
		"results": results,
		"status":  "batch_started",
	})
}

func (h *Handler) batchFormats(c *gin.Context) {
	input, ok := h.bindBatch(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"formats": h.services.Batches.ProbeFormats(c.Request.Context(), input.URLs),
	})
}

func (h *Handler) listTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.services.Tasks.List()})
}

func (h *Handler) taskStatus(c *gin.Context) {
	task, exists := h.services.Tasks.Get(c.Param("id"))
	if !exists {
		newErrorResponse(c, http.StatusNotFound, "Task not found")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) cancelTask(c *gin.Context) {
	id := c.Param("id")
	if _, exists := h.services.Tasks.Get(id); !exists {
		newErrorResponse(c, http.StatusNotFound, "Task not found")
		return
	}
	h.services.Tasks.MarkAbort(id)
	h.log.WithField("taskId", id).Info("task cancelled by client")
	c.JSON(http.StatusOK, gin.H{"taskId": id, "status": "aborting"})
}
