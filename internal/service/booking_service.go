package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"parking-checkin/internal/domain/checkin"
	"parking-checkin/internal/repository"
	"parking-checkin/internal/utils"
)

type BookingStore interface {
	ListParkingLots(ctx context.Context) ([]checkin.ParkingLot, error)
	GetParkingLot(ctx context.Context, id int64) (*checkin.ParkingLot, error)
	CreateBooking(ctx context.Context, req checkin.BookingRequest) (int64, error)
	GetReservation(ctx context.Context, id int64) (*checkin.Reservation, error)
	ListBookingsForUser(ctx context.Context, userID int64) ([]checkin.Reservation, error)
	Stats(ctx context.Context) (checkin.Stats, error)
}

type BookingService struct {
	store BookingStore
	log   zerolog.Logger
}

func NewBookingService(store BookingStore, log zerolog.Logger) *BookingService {
	return &BookingService{
		store: store,
		log:   log,
	}
}

func (s *BookingService) ListParkingLots(ctx context.Context) ([]checkin.ParkingLot, error) {
	lots, err := s.store.ListParkingLots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list parking lots: %w", err)
	}
	return lots, nil
}

func (s *BookingService) GetParkingLot(ctx context.Context, id int64) (*checkin.ParkingLot, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: invalid parking lot id", ErrInvalidInput)
	}
	lot, err := s.store.GetParkingLot(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: parking lot %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parking lot: %w", err)
	}
	return lot, nil
}

// CreateBooking books a spot in a lot. The booking starts out confirmed.
func (s *BookingService) CreateBooking(ctx context.Context, req checkin.BookingRequest) (*checkin.Reservation, error) {
	if req.UserID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if req.LotID <= 0 {
		return nil, fmt.Errorf("%w: lot_id is required", ErrInvalidInput)
	}
	if utils.NormalizePlate(req.VehicleNumber) == "" {
		return nil, fmt.Errorf("%w: vehicle_number cannot be empty after normalization", ErrInvalidInput)
	}
	if req.TotalCost < 0 {
		return nil, fmt.Errorf("%w: total_cost cannot be negative", ErrInvalidInput)
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && !req.EndTime.After(req.StartTime) {
		return nil, fmt.Errorf("%w: end_time must be after start_time", ErrInvalidInput)
	}

	id, err := s.store.CreateBooking(ctx, req)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%w: parking lot %d", ErrNotFound, req.LotID)
	case errors.Is(err, repository.ErrNoAvailableSpots):
		return nil, fmt.Errorf("%w: parking lot %d", ErrNoSpots, req.LotID)
	case err != nil:
		s.log.Error().
			Err(err).
			Int64("user_id", req.UserID).
			Int64("lot_id", req.LotID).
			Msg("failed to create booking")
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	s.log.Info().
		Int64("booking_id", id).
		Int64("user_id", req.UserID).
		Int64("lot_id", req.LotID).
		Str("plate", utils.NormalizePlate(req.VehicleNumber)).
		Msg("booking created")

	res, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	return res, nil
}

func (s *BookingService) ListBookings(ctx context.Context, userID int64) ([]checkin.Reservation, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	bookings, err := s.store.ListBookingsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

func (s *BookingService) Stats(ctx context.Context) (checkin.Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return checkin.Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}
