package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"parking-checkin/internal/capture"
	"parking-checkin/internal/domain/checkin"
)

type scanRequest struct {
	Plate    string `json:"plate" binding:"required"`
	CameraID string `json:"camera_id"`
}

func (h *Handler) scanPlate(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	res, err := h.checkinService.CheckPlate(c.Request.Context(), req.Plate, checkin.ScanSource{CameraID: req.CameraID})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(matchResponse(res))
}

// openUpload returns the image sent either as the multipart field "image" or
// as the raw request body. On failure it writes the response and returns false.
func (h *Handler) openUpload(c *gin.Context) (io.ReadCloser, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.HTTP.MaxUploadBytes)

	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return c.Request.Body, true
	}
	fh, err := c.FormFile("image")
	if err != nil {
		if tooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse("image too large"))
			return nil, false
		}
		c.JSON(http.StatusBadRequest, errorResponse("image file is required"))
		return nil, false
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("cannot read image file"))
		return nil, false
	}
	return f, true
}

func (h *Handler) uploadError(c *gin.Context, err error) {
	if tooLarge(err) {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse("image too large"))
		return
	}
	c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// scanImage runs one uploaded still through the pipeline.
func (h *Handler) scanImage(c *gin.Context) {
	body, ok := h.openUpload(c)
	if !ok {
		return
	}
	defer body.Close()

	cameraID := strings.TrimSpace(c.Query("camera_id"))
	if cameraID == "" && strings.HasPrefix(c.ContentType(), "multipart/") {
		cameraID = strings.TrimSpace(c.PostForm("camera_id"))
	}

	frame, err := capture.Decode(body, cameraID, h.config.HTTP.MaxFramePixels)
	if err != nil {
		h.uploadError(c, err)
		return
	}

	report, err := h.checkinService.ScanFrame(c.Request.Context(), frame, checkin.ScanSource{CameraID: cameraID})
	if err != nil {
		h.handleError(c, err)
		return
	}

	if report.Candidate == nil {
		c.JSON(http.StatusOK, gin.H{
			"status": "rejected",
			"error":  checkin.ErrRecognitionRejected.Error(),
			"width":  report.Width,
			"height": report.Height,
		})
		return
	}

	status, resp := matchResponse(*report.Result)
	resp["candidate"] = report.Candidate
	c.JSON(status, resp)
}

func (h *Handler) listScanEvents(c *gin.Context) {
	var plateQuery *string
	if plate := strings.TrimSpace(c.Query("plate")); plate != "" {
		plateQuery = &plate
	}

	var from, to *string
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}

	// unparsable paging falls back to the service defaults
	limit, _ := parseInt(c.DefaultQuery("limit", "0"))
	offset, _ := parseInt(c.DefaultQuery("offset", "0"))

	events, err := h.checkinService.FindScanEvents(c.Request.Context(), plateQuery, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(events))
}
