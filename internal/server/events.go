package server

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Session stream tuning
const (
	DefaultKeepAlive = 15 * time.Second
	EventBuffer      = 256
)

// events opens a session stream. The session lives exactly as long as the
// connection; closing it aborts every task the session still owns. Events
// are named progress, complete or error; a finished task is sent both as
// progress with status finished and as complete.
func (h *Handler) events(c *gin.Context) {
	sid := uuid.NewString()
	log := h.log.WithField("sid", sid)

	h.services.Tasks.OpenSession(sid)
	sub := h.services.Events.Subscribe(EventBuffer)
	defer func() {
		sub.Close()
		aborted := h.services.Tasks.CascadeAbort(sid)
		log.WithField("aborted", len(aborted)).Info("session closed")
	}()
	log.Info("session opened")

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("session", gin.H{"sid": sid})
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-h.closing:
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			for _, name := range ev.Names() {
				c.SSEvent(name, ev)
			}
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"time": time.Now().Unix()})
			return true
		}
	})
}
