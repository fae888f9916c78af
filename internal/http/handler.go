package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parking-checkin/internal/config"
	"parking-checkin/internal/domain/checkin"
	"parking-checkin/internal/scanner"
	"parking-checkin/internal/service"
)

type Handler struct {
	checkinService *service.CheckinService
	bookingService *service.BookingService
	sessions       *scanner.Manager
	config         *config.Config
	log            zerolog.Logger
}

func NewHandler(
	checkinService *service.CheckinService,
	bookingService *service.BookingService,
	sessions *scanner.Manager,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		checkinService: checkinService,
		bookingService: bookingService,
		sessions:       sessions,
		config:         cfg,
		log:            log,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/scan", h.scanPlate)
		api.POST("/scan/image", h.scanImage)
		api.GET("/scan-events", h.listScanEvents)

		api.GET("/scanner/sessions", h.listSessions)
		api.POST("/scanner/sessions", h.createSession)
		api.GET("/scanner/sessions/:id", h.getSession)
		api.DELETE("/scanner/sessions/:id", h.closeSession)
		api.POST("/scanner/sessions/:id/start", h.startSession)
		api.POST("/scanner/sessions/:id/stop", h.stopSession)
		api.POST("/scanner/sessions/:id/continue", h.continueSession)
		api.POST("/scanner/sessions/:id/frames", h.pushFrame)
		api.GET("/scanner/sessions/:id/ws", h.sessionWebSocket)

		api.GET("/parking-lots", h.listParkingLots)
		api.GET("/parking-lots/:id", h.getParkingLot)
		api.GET("/bookings", h.listBookings)
		api.POST("/bookings", h.createBooking)
		api.GET("/stats", h.stats)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound), errors.Is(err, scanner.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNoSpots),
		errors.Is(err, scanner.ErrCameraBusy),
		errors.Is(err, scanner.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, scanner.ErrSessionClosed):
		c.JSON(http.StatusGone, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

// matchResponse renders a lookup result. A failed lookup is reported as
// 503 so the caller knows a retry may succeed; NotFound is a normal answer.
func matchResponse(res checkin.MatchResult) (int, gin.H) {
	switch res.Kind {
	case checkin.MatchFound:
		return http.StatusOK, gin.H{
			"status": checkin.MatchFound,
			"plate":  res.Plate,
			"data":   res.Reservation,
		}
	case checkin.MatchNotFound:
		return http.StatusOK, gin.H{
			"status": checkin.MatchNotFound,
			"plate":  res.Plate,
		}
	default:
		msg := "lookup failed"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		return http.StatusServiceUnavailable, gin.H{
			"status":    checkin.MatchError,
			"plate":     res.Plate,
			"error":     msg,
			"retryable": res.Retryable,
		}
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse("invalid "+name))
		return 0, false
	}
	return id, true
}
