package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"parking-checkin/internal/capture"
	"parking-checkin/internal/scanner"
)

var errNotPushSource = errors.New("session camera takes snapshots itself and does not accept pushed frames")

type createSessionRequest struct {
	CameraID  string `json:"camera_id" binding:"required"`
	AutoStart bool   `json:"auto_start"`
}

// newSource picks the configured snapshot camera for cameraID, falling back
// to a push source fed by the client.
func (h *Handler) newSource(cameraID string) capture.Source {
	if cam, ok := h.config.Camera(cameraID); ok {
		return capture.NewSnapshotSource(cam.ID, cam.SnapshotURL, cam.Timeout, h.config.HTTP.MaxFramePixels)
	}
	return capture.NewPushSource(cameraID, h.config.HTTP.MaxFramePixels)
}

func (h *Handler) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.sessions.List()))
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	s, err := h.sessions.Create(h.newSource(strings.TrimSpace(req.CameraID)))
	if err != nil {
		h.handleError(c, err)
		return
	}

	snap := s.Snapshot()
	if req.AutoStart {
		if snap, err = s.Start(); err != nil {
			h.handleError(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, successResponse(snap))
}

func (h *Handler) getSession(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(s.Snapshot()))
}

func (h *Handler) closeSession(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) startSession(c *gin.Context) {
	h.transition(c, (*scanner.Session).Start)
}

func (h *Handler) continueSession(c *gin.Context) {
	h.transition(c, (*scanner.Session).Continue)
}

func (h *Handler) stopSession(c *gin.Context) {
	h.transition(c, func(s *scanner.Session) (scanner.Snapshot, error) {
		return s.Stop(), nil
	})
}

func (h *Handler) transition(c *gin.Context, fn func(*scanner.Session) (scanner.Snapshot, error)) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	snap, err := fn(s)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(snap))
}

// pushFrame feeds one still to a session reading from a push source.
func (h *Handler) pushFrame(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	src, ok := s.Source().(*capture.PushSource)
	if !ok {
		c.JSON(http.StatusConflict, errorResponse(errNotPushSource.Error()))
		return
	}

	body, ok := h.openUpload(c)
	if !ok {
		return
	}
	defer body.Close()

	if err := src.PushEncoded(body); err != nil {
		h.uploadError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
