package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"parking-checkin/internal/utils"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrNoAvailableSpots = errors.New("no available spots")
)

type ParkingLot struct {
	ID             int64  `gorm:"primaryKey"`
	Name           string `gorm:"not null"`
	Address        null.String
	PricePerHour   float64 `gorm:"not null;default:0"`
	TotalSpots     int     `gorm:"not null;default:0"`
	AvailableSpots int     `gorm:"not null;default:0"`
	CreatedAt      time.Time
}

func (ParkingLot) TableName() string { return "parking_lots" }

type AppUser struct {
	ID        int64  `gorm:"primaryKey"`
	FullName  string `gorm:"not null"`
	Phone     null.String
	CreatedAt time.Time
}

func (AppUser) TableName() string { return "app_users" }

type Booking struct {
	ID              int64   `gorm:"primaryKey"`
	UserID          int64   `gorm:"not null"`
	ParkingLotID    int64   `gorm:"not null"`
	VehicleNumber   string  `gorm:"not null"`
	NormalizedPlate string  `gorm:"not null;index:idx_bookings_plate_status"`
	Status          string  `gorm:"not null;index:idx_bookings_plate_status"`
	TotalCost       float64 `gorm:"not null;default:0"`
	StartTime       null.Time
	EndTime         null.Time
	CreatedAt       time.Time
}

func (Booking) TableName() string { return "bookings" }

// BeforeSave keeps normalized_plate in step with vehicle_number for every
// write that goes through gorm.
func (b *Booking) BeforeSave(tx *gorm.DB) error {
	b.NormalizedPlate = utils.NormalizePlate(b.VehicleNumber)
	return nil
}

type ScanEvent struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	CameraID        *string
	SessionID       *string
	RawPlate        string `gorm:"not null"`
	NormalizedPlate string `gorm:"not null;index"`
	Confidence      *float64
	Outcome         string `gorm:"not null"`
	BookingID       *int64
	Error           *string
	Details         datatypes.JSONMap
	CreatedAt       time.Time `gorm:"index"`
}

func (ScanEvent) TableName() string { return "scan_events" }

// reservationRow is the joined booking/lot/user projection used for lookups.
type reservationRow struct {
	ID            int64
	VehicleNumber string
	Status        string
	LotID         int64
	LotName       string
	UserID        int64
	UserName      null.String
	UserPhone     null.String
	TotalCost     float64
	StartTime     null.Time
	EndTime       null.Time
	CreatedAt     time.Time
}
