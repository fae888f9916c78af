package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"parking-checkin/internal/domain/checkin"
)

func (h *Handler) listParkingLots(c *gin.Context) {
	lots, err := h.bookingService.ListParkingLots(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(lots))
}

func (h *Handler) getParkingLot(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	lot, err := h.bookingService.GetParkingLot(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(lot))
}

func (h *Handler) listBookings(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("user_id parameter is required"))
		return
	}

	bookings, err := h.bookingService.ListBookings(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(bookings))
}

func (h *Handler) createBooking(c *gin.Context) {
	var req checkin.BookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	booking, err := h.bookingService.CreateBooking(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "ok",
		"data":   booking,
	})
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.bookingService.Stats(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(stats))
}
