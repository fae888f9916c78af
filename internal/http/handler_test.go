package http

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-checkin/internal/config"
	"parking-checkin/internal/domain/checkin"
	"parking-checkin/internal/metrics"
	"parking-checkin/internal/repository"
	"parking-checkin/internal/scanner"
	"parking-checkin/internal/service"
	"parking-checkin/internal/utils"
	"parking-checkin/internal/vision"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type store struct {
	mu           sync.Mutex
	reservations []checkin.Reservation
	lookupErr    error
	events       []*repository.ScanEvent
	full         bool
}

func (s *store) FindByNormalizedPlate(_ context.Context, plate string, statuses []checkin.ReservationStatus) ([]checkin.Reservation, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	var out []checkin.Reservation
	for _, r := range s.reservations {
		if utils.NormalizePlate(r.VehicleNumber) == plate && r.Status.Active() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *store) CreateScanEvent(_ context.Context, e *repository.ScanEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *store) FindScanEvents(context.Context, *string, *time.Time, *time.Time, int, int) ([]repository.ScanEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.ScanEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e)
	}
	return out, nil
}

func (s *store) DeleteOldScanEvents(context.Context, int) (int64, error) { return 0, nil }

func (s *store) ListParkingLots(context.Context) ([]checkin.ParkingLot, error) {
	return []checkin.ParkingLot{{ID: 1, Name: "Central", TotalSpots: 10, AvailableSpots: 2}}, nil
}

func (s *store) GetParkingLot(_ context.Context, id int64) (*checkin.ParkingLot, error) {
	if id != 1 {
		return nil, repository.ErrNotFound
	}
	return &checkin.ParkingLot{ID: 1, Name: "Central"}, nil
}

func (s *store) CreateBooking(_ context.Context, req checkin.BookingRequest) (int64, error) {
	if s.full {
		return 0, repository.ErrNoAvailableSpots
	}
	s.reservations = append(s.reservations, checkin.Reservation{
		ID:            int64(100 + len(s.reservations)),
		VehicleNumber: req.VehicleNumber,
		Status:        checkin.StatusConfirmed,
		LotID:         req.LotID,
		UserID:        req.UserID,
		CreatedAt:     time.Now(),
	})
	return s.reservations[len(s.reservations)-1].ID, nil
}

func (s *store) GetReservation(_ context.Context, id int64) (*checkin.Reservation, error) {
	for _, r := range s.reservations {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *store) ListBookingsForUser(_ context.Context, userID int64) ([]checkin.Reservation, error) {
	var out []checkin.Reservation
	for _, r := range s.reservations {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *store) Stats(context.Context) (checkin.Stats, error) {
	return checkin.Stats{Revenue: 80, Bookings: int64(len(s.reservations)), Occupancy: 80}, nil
}

type engine struct {
	result vision.EngineResult
}

func (e engine) Recognize(context.Context, image.Image, vision.EngineOptions) (vision.EngineResult, error) {
	return e.result, nil
}

type fixture struct {
	router   *gin.Engine
	store    *store
	sessions *scanner.Manager
}

func newFixture(t *testing.T, ocr vision.EngineResult) *fixture {
	t.Helper()

	st := &store{reservations: []checkin.Reservation{
		{ID: 1, VehicleNumber: "29A-123.45", Status: checkin.StatusConfirmed, LotName: "Central", UserID: 7, CreatedAt: time.Now()},
	}}
	cfg := &config.Config{
		HTTP: config.HTTPConfig{MaxUploadBytes: 1 << 20, MaxFramePixels: 1_000_000, AllowedOrigins: []string{"*"}},
	}
	m := metrics.New()
	log := zerolog.Nop()

	recognizer := vision.NewRecognizer(engine{result: ocr}, vision.EngineOptions{SingleLine: true},
		vision.AcceptancePolicy{MinConfidence: 40, MinLength: 4}, m, log)
	pipeline := scanner.NewPipeline(vision.NewPreprocessor(0.9, 0.4), recognizer)

	checkinSvc := service.NewCheckinService(service.NewMatcher(st, time.Second, m, log), st, nil, pipeline, log)
	bookingSvc := service.NewBookingService(st, log)
	sessions := scanner.NewManager(pipeline, checkinSvc, 5*time.Millisecond, m, log)
	t.Cleanup(sessions.CloseAll)

	h := NewHandler(checkinSvc, bookingSvc, sessions, cfg, log)
	return &fixture{router: NewRouter(cfg, h, m, log), store: st, sessions: sessions}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if _, raw := body.([]byte); !raw && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 320, 240))))
	return buf.Bytes()
}

var plate55 = vision.EngineResult{Text: "29A-12.345", Confidence: 55}

// hugePNG is a few hundred bytes whose header claims 20000x20000 pixels.
func hugePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))))
	data := buf.Bytes()
	binary.BigEndian.PutUint32(data[16:], 20000)
	binary.BigEndian.PutUint32(data[20:], 20000)
	binary.BigEndian.PutUint32(data[29:], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func (f *fixture) upload(t *testing.T, path string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("image", "frame.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestScanPlate(t *testing.T) {
	f := newFixture(t, plate55)

	t.Run("found", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/scan", gin.H{"plate": "29a-12345"})
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "found", body["status"])
		assert.Equal(t, "29A12345", body["plate"])
		data := body["data"].(map[string]interface{})
		assert.Equal(t, float64(1), data["id"])
	})

	t.Run("not found", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/scan", gin.H{"plate": "99Z99999"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "not_found", decode(t, w)["status"])
	})

	t.Run("missing plate", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/scan", gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("punctuation only", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/scan", gin.H{"plate": "-.-"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("lookup failure", func(t *testing.T) {
		f.store.lookupErr = errors.New("db down")
		defer func() { f.store.lookupErr = nil }()

		w := f.do(t, http.MethodPost, "/api/v1/scan", gin.H{"plate": "29A12345"})
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decode(t, w)
		assert.Equal(t, "error", body["status"])
		assert.Equal(t, true, body["retryable"])
	})
}

func TestScanImage(t *testing.T) {
	t.Run("match", func(t *testing.T) {
		f := newFixture(t, plate55)
		w := f.do(t, http.MethodPost, "/api/v1/scan/image?camera_id=gate-1", pngBytes(t))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, "found", body["status"])
		candidate := body["candidate"].(map[string]interface{})
		assert.Equal(t, "29A-12345", candidate["raw_text"])

		events := f.do(t, http.MethodGet, "/api/v1/scan-events?limit=10", nil)
		require.Equal(t, http.StatusOK, events.Code)
		rows := decode(t, events)["data"].([]interface{})
		require.Len(t, rows, 1)
		assert.Equal(t, "gate-1", rows[0].(map[string]interface{})["camera_id"])
	})

	t.Run("rejected", func(t *testing.T) {
		f := newFixture(t, vision.EngineResult{Text: "29A12345", Confidence: 39})
		w := f.do(t, http.MethodPost, "/api/v1/scan/image", pngBytes(t))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "rejected", decode(t, w)["status"])
	})

	t.Run("not an image", func(t *testing.T) {
		f := newFixture(t, plate55)
		w := f.do(t, http.MethodPost, "/api/v1/scan/image", []byte("definitely not a png"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("multipart", func(t *testing.T) {
		f := newFixture(t, plate55)
		w := f.upload(t, "/api/v1/scan/image", pngBytes(t), map[string]string{"camera_id": "gate-2"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "found", decode(t, w)["status"])
		require.Len(t, f.store.events, 1)
		require.NotNil(t, f.store.events[0].CameraID)
		assert.Equal(t, "gate-2", *f.store.events[0].CameraID)
	})

	t.Run("too many pixels", func(t *testing.T) {
		f := newFixture(t, plate55)
		w := f.do(t, http.MethodPost, "/api/v1/scan/image", hugePNG(t))
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode(t, w)["error"], "20000x20000")
		assert.Empty(t, f.store.events)

		w = f.upload(t, "/api/v1/scan/image", hugePNG(t), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("body too large", func(t *testing.T) {
		f := newFixture(t, plate55)
		w := f.upload(t, "/api/v1/scan/image", make([]byte, 1<<20+1024), nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	})
}

func TestPushFrameLimits(t *testing.T) {
	f := newFixture(t, plate55)

	w := f.do(t, http.MethodPost, "/api/v1/scanner/sessions", gin.H{"camera_id": "browser-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["data"].(map[string]interface{})["id"].(string)
	path := "/api/v1/scanner/sessions/" + id + "/frames"

	w = f.do(t, http.MethodPost, path, hugePNG(t))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.upload(t, path, make([]byte, 1<<20+1024), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())

	w = f.upload(t, path, pngBytes(t), nil)
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

func TestScanEventsBadTime(t *testing.T) {
	f := newFixture(t, plate55)
	w := f.do(t, http.MethodGet, "/api/v1/scan-events?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, plate55)

	w := f.do(t, http.MethodPost, "/api/v1/scanner/sessions", gin.H{"camera_id": "gate-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	snap := decode(t, w)["data"].(map[string]interface{})
	id := snap["id"].(string)
	assert.Equal(t, "idle", snap["state"])

	w = f.do(t, http.MethodPost, "/api/v1/scanner/sessions", gin.H{"camera_id": "gate-1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/scanner/sessions/"+id+"/continue", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/scanner/sessions/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "scanning", decode(t, w)["data"].(map[string]interface{})["state"])

	w = f.do(t, http.MethodPost, "/api/v1/scanner/sessions/"+id+"/frames", pngBytes(t))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/api/v1/scanner/sessions/"+id, nil)
		return decode(t, w)["data"].(map[string]interface{})["state"] == "matched"
	}, 2*time.Second, 5*time.Millisecond)

	w = f.do(t, http.MethodGet, "/api/v1/scanner/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)

	w = f.do(t, http.MethodPost, "/api/v1/scanner/sessions/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decode(t, w)["data"].(map[string]interface{})["state"])

	w = f.do(t, http.MethodDelete, "/api/v1/scanner/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/scanner/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionWebSocket(t *testing.T) {
	f := newFixture(t, plate55)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	w := f.do(t, http.MethodPost, "/api/v1/scanner/sessions", gin.H{"camera_id": "kiosk"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["data"].(map[string]interface{})["id"].(string)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/scanner/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, scanner.StateIdle, msg.Session.State)

	require.NoError(t, conn.WriteJSON(wsCommand{Action: "start"}))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pngBytes(t)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		msg = wsMessage{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "snapshot" && msg.Session.State == scanner.StateMatched {
			break
		}
	}
	require.NotNil(t, msg.Session.Outcome)
	assert.Equal(t, int64(1), msg.Session.Outcome.Reservation.ID)

	require.NoError(t, conn.WriteJSON(wsCommand{Action: "dance"}))
	for {
		msg = wsMessage{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "error" {
			break
		}
	}
	assert.Contains(t, msg.Error, "unknown action")
}

func TestBookings(t *testing.T) {
	f := newFixture(t, plate55)

	w := f.do(t, http.MethodPost, "/api/v1/bookings", gin.H{
		"user_id": 9, "lot_id": 1, "vehicle_number": "30F-555.55", "total_cost": 20,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "confirmed", decode(t, w)["data"].(map[string]interface{})["status"])

	w = f.do(t, http.MethodGet, "/api/v1/bookings?user_id=9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)

	w = f.do(t, http.MethodGet, "/api/v1/bookings", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/bookings", gin.H{"user_id": 9, "lot_id": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.store.full = true
	w = f.do(t, http.MethodPost, "/api/v1/bookings", gin.H{
		"user_id": 9, "lot_id": 1, "vehicle_number": "30F55555",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// the new booking is immediately visible to check-in
	w = f.do(t, http.MethodPost, "/api/v1/scan", gin.H{"plate": "30F55555"})
	assert.Equal(t, "found", decode(t, w)["status"])
}

func TestParkingLotsAndStats(t *testing.T) {
	f := newFixture(t, plate55)

	w := f.do(t, http.MethodGet, "/api/v1/parking-lots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)

	w = f.do(t, http.MethodGet, "/api/v1/parking-lots/1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/parking-lots/2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/parking-lots/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(80), decode(t, w)["data"].(map[string]interface{})["occupancy"])
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, plate55)

	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	f.do(t, http.MethodPost, "/api/v1/scan", gin.H{"plate": "29A12345"})
	w = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
