package checkin

import (
	"image"
	"time"
)

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCancelled ReservationStatus = "cancelled"
	StatusCompleted ReservationStatus = "completed"
)

// ActiveStatuses are the statuses a scanned plate may check in against.
var ActiveStatuses = []ReservationStatus{StatusPending, StatusConfirmed}

func (s ReservationStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Frame is a single still captured from a camera. It is discarded once the
// scan cycle that captured it settles.
type Frame struct {
	Image      image.Image
	CameraID   string
	CapturedAt time.Time
}

func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// PlateCandidate is recognizer output that passed the acceptance policy.
// RawText is upper case and limited to [A-Z0-9-].
type PlateCandidate struct {
	RawText    string  `json:"raw_text"`
	Confidence float64 `json:"confidence"`
}

type Reservation struct {
	ID            int64             `json:"id"`
	VehicleNumber string            `json:"vehicle_number"`
	Status        ReservationStatus `json:"status"`
	LotID         int64             `json:"lot_id"`
	LotName       string            `json:"lot_name"`
	UserID        int64             `json:"user_id"`
	UserName      string            `json:"user_name"`
	UserPhone     string            `json:"user_phone,omitempty"`
	TotalCost     float64           `json:"total_cost"`
	StartTime     *time.Time        `json:"start_time,omitempty"`
	EndTime       *time.Time        `json:"end_time,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

type MatchKind string

const (
	MatchFound    MatchKind = "found"
	MatchNotFound MatchKind = "not_found"
	MatchError    MatchKind = "error"
)

// MatchResult is the outcome of a reservation lookup. NotFound is a valid
// result, not a failure.
type MatchResult struct {
	Kind        MatchKind
	Plate       string
	Reservation *Reservation
	Err         error
	Retryable   bool
}

func Found(plate string, r *Reservation) MatchResult {
	return MatchResult{Kind: MatchFound, Plate: plate, Reservation: r}
}

func NotFound(plate string) MatchResult {
	return MatchResult{Kind: MatchNotFound, Plate: plate}
}

func Failed(plate string, err error, retryable bool) MatchResult {
	return MatchResult{Kind: MatchError, Plate: plate, Err: err, Retryable: retryable}
}

type ParkingLot struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Address        string  `json:"address,omitempty"`
	PricePerHour   float64 `json:"price_per_hour"`
	TotalSpots     int     `json:"total_spots"`
	AvailableSpots int     `json:"available_spots"`
}

type BookingRequest struct {
	UserID        int64     `json:"user_id" binding:"required"`
	LotID         int64     `json:"lot_id" binding:"required"`
	VehicleNumber string    `json:"vehicle_number" binding:"required"`
	TotalCost     float64   `json:"total_cost"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

type Stats struct {
	Revenue   float64 `json:"revenue"`
	Bookings  int64   `json:"bookings"`
	Occupancy float64 `json:"occupancy"`
}

type ScanEvent struct {
	ID              string    `json:"id"`
	CameraID        string    `json:"camera_id,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	RawPlate        string    `json:"raw_plate"`
	NormalizedPlate string    `json:"normalized_plate"`
	Confidence      *float64  `json:"confidence,omitempty"`
	Outcome         MatchKind `json:"outcome"`
	BookingID       *int64    `json:"booking_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ScanSource identifies where a lookup came from, for auditing and gate control.
type ScanSource struct {
	CameraID  string
	SessionID string
}
