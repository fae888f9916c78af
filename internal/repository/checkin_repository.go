package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"parking-checkin/internal/domain/checkin"
)

type CheckinRepository struct {
	db *gorm.DB
}

func NewCheckinRepository(db *gorm.DB) *CheckinRepository {
	return &CheckinRepository{db: db}
}

const reservationColumns = `bookings.id, bookings.vehicle_number, bookings.status,
	bookings.parking_lot_id AS lot_id, parking_lots.name AS lot_name,
	bookings.user_id, app_users.full_name AS user_name, app_users.phone AS user_phone,
	bookings.total_cost, bookings.start_time, bookings.end_time, bookings.created_at`

func (r *CheckinRepository) reservations(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("bookings").
		Select(reservationColumns).
		Joins("JOIN parking_lots ON parking_lots.id = bookings.parking_lot_id").
		Joins("LEFT JOIN app_users ON app_users.id = bookings.user_id")
}

// FindByNormalizedPlate returns bookings whose normalized plate equals plate
// and whose status is one of statuses, most recently created first.
func (r *CheckinRepository) FindByNormalizedPlate(ctx context.Context, plate string, statuses []checkin.ReservationStatus) ([]checkin.Reservation, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	var rows []reservationRow
	err := r.reservations(ctx).
		Where("bookings.normalized_plate = ?", plate).
		Where("bookings.status IN ?", names).
		Order("bookings.created_at DESC").
		Order("bookings.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toReservations(rows), nil
}

func (r *CheckinRepository) ListBookingsForUser(ctx context.Context, userID int64) ([]checkin.Reservation, error) {
	var rows []reservationRow
	err := r.reservations(ctx).
		Where("bookings.user_id = ?", userID).
		Order("bookings.created_at DESC").
		Order("bookings.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toReservations(rows), nil
}

func (r *CheckinRepository) GetReservation(ctx context.Context, id int64) (*checkin.Reservation, error) {
	var rows []reservationRow
	err := r.reservations(ctx).
		Where("bookings.id = ?", id).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	res := toReservation(rows[0])
	return &res, nil
}

// CreateBooking takes a spot from the lot and inserts a confirmed booking in
// one transaction.
func (r *CheckinRepository) CreateBooking(ctx context.Context, req checkin.BookingRequest) (int64, error) {
	booking := Booking{
		UserID:        req.UserID,
		ParkingLotID:  req.LotID,
		VehicleNumber: req.VehicleNumber,
		Status:        string(checkin.StatusConfirmed),
		TotalCost:     req.TotalCost,
		CreatedAt:     time.Now().UTC(),
	}
	if !req.StartTime.IsZero() {
		booking.StartTime.SetValid(req.StartTime)
	}
	if !req.EndTime.IsZero() {
		booking.EndTime.SetValid(req.EndTime)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ParkingLot{}).
			Where("id = ? AND available_spots > 0", req.LotID).
			UpdateColumn("available_spots", gorm.Expr("available_spots - 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&ParkingLot{}).Where("id = ?", req.LotID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrNoAvailableSpots
		}
		return tx.Create(&booking).Error
	})
	if err != nil {
		return 0, err
	}
	return booking.ID, nil
}

func (r *CheckinRepository) ListParkingLots(ctx context.Context) ([]checkin.ParkingLot, error) {
	var lots []ParkingLot
	if err := r.db.WithContext(ctx).Order("id").Find(&lots).Error; err != nil {
		return nil, err
	}
	result := make([]checkin.ParkingLot, 0, len(lots))
	for _, l := range lots {
		result = append(result, toParkingLot(l))
	}
	return result, nil
}

func (r *CheckinRepository) GetParkingLot(ctx context.Context, id int64) (*checkin.ParkingLot, error) {
	var lot ParkingLot
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&lot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	res := toParkingLot(lot)
	return &res, nil
}

func (r *CheckinRepository) Stats(ctx context.Context) (checkin.Stats, error) {
	var stats checkin.Stats

	err := r.db.WithContext(ctx).Model(&Booking{}).
		Where("status <> ?", string(checkin.StatusCancelled)).
		Select("COALESCE(SUM(total_cost), 0)").
		Scan(&stats.Revenue).Error
	if err != nil {
		return stats, err
	}

	if err := r.db.WithContext(ctx).Model(&Booking{}).Count(&stats.Bookings).Error; err != nil {
		return stats, err
	}

	var spots struct {
		Available int64
		Total     int64
	}
	err = r.db.WithContext(ctx).Model(&ParkingLot{}).
		Select("COALESCE(SUM(available_spots), 0) AS available, COALESCE(SUM(total_spots), 0) AS total").
		Scan(&spots).Error
	if err != nil {
		return stats, err
	}
	total := spots.Total
	if total == 0 {
		total = 1
	}
	stats.Occupancy = float64(spots.Total-spots.Available) / float64(total) * 100
	return stats, nil
}

func (r *CheckinRepository) CreateScanEvent(ctx context.Context, event *ScanEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *CheckinRepository) FindScanEvents(ctx context.Context, normalizedPlate *string, from, to *time.Time, limit, offset int) ([]ScanEvent, error) {
	query := r.db.WithContext(ctx).Model(&ScanEvent{})

	if normalizedPlate != nil {
		query = query.Where("normalized_plate = ?", *normalizedPlate)
	}
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at <= ?", *to)
	}

	query = query.Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var events []ScanEvent
	err := query.Find(&events).Error
	return events, err
}

// DeleteOldScanEvents removes scan events older than the given number of days.
func (r *CheckinRepository) DeleteOldScanEvents(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&ScanEvent{})
	return res.RowsAffected, res.Error
}

func toReservations(rows []reservationRow) []checkin.Reservation {
	result := make([]checkin.Reservation, 0, len(rows))
	for _, row := range rows {
		result = append(result, toReservation(row))
	}
	return result
}

func toReservation(row reservationRow) checkin.Reservation {
	return checkin.Reservation{
		ID:            row.ID,
		VehicleNumber: row.VehicleNumber,
		Status:        checkin.ReservationStatus(row.Status),
		LotID:         row.LotID,
		LotName:       row.LotName,
		UserID:        row.UserID,
		UserName:      row.UserName.String,
		UserPhone:     row.UserPhone.String,
		TotalCost:     row.TotalCost,
		StartTime:     row.StartTime.Ptr(),
		EndTime:       row.EndTime.Ptr(),
		CreatedAt:     row.CreatedAt,
	}
}

func toParkingLot(l ParkingLot) checkin.ParkingLot {
	return checkin.ParkingLot{
		ID:             l.ID,
		Name:           l.Name,
		Address:        l.Address.String,
		PricePerHour:   l.PricePerHour,
		TotalSpots:     l.TotalSpots,
		AvailableSpots: l.AvailableSpots,
	}
}
