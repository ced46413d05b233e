package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/ytget/ytfetch/internal/platform"
)

// FileChunkSize is the read size used when sending output files
const FileChunkSize = 256 * 1024

// serveFile sends a finished output file and deletes it once every byte
// has been written. A partial send leaves the file for the sweeper.
func (h *Handler) serveFile(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}

	path, err := platform.SafeJoin(h.services.DownloadDir, name)
	if err != nil {
		newErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			newErrorResponse(c, http.StatusNotFound, fmt.Sprintf("File not found: %s", name))
			return
		}
		newErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		newErrorResponse(c, http.StatusNotFound, fmt.Sprintf("File not found: %s", name))
		return
	}

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Header("Content-Length", strconv.FormatInt(info.Size(), 10))
	c.Status(http.StatusOK)

	log := h.log.WithFields(logrus.Fields{"file": name, "size": info.Size()})
	sent, err := sendChunks(c.Writer, f)
	if err != nil || sent != info.Size() {
		log.WithError(err).WithField("sent", sent).Warn("file send incomplete, keeping file")
		return
	}

	f.Close()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to delete served file")
		return
	}
	log.Info("file served and deleted")
}

func sendChunks(w gin.ResponseWriter, r io.Reader) (int64, error) {
	buf := make([]byte, FileChunkSize)
	var sent int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			written, werr := w.Write(buf[:n])
			sent += int64(written)
			if werr != nil {
				return sent, werr
			}
			w.Flush()
		}
		if err == io.EOF {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
	}
}
