package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/store/memstore"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/config"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

var (
	doctor  = types.Identity{ID: 7, Role: types.RoleDoctor}
	nurse   = types.Identity{ID: 40, Role: types.RoleNurse}
	admin   = types.Identity{ID: 90, Role: types.RoleAdmin}
	alice   = types.Identity{ID: 1, Role: types.RolePatient}
	bob     = types.Identity{ID: 2, Role: types.RolePatient}
	nobody  = types.Identity{}
	friday  = time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	fridayQ = "QUEUE-7-20250314"
)

type harness struct {
	t       *testing.T
	service *Service
}

func newHarness(t *testing.T, opts ...func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.Server.RateLimitPerMinute = 0
	for _, opt := range opts {
		opt(cfg)
	}

	dir := memstore.NewDirectory()
	doctorID := doctor.ID
	dir.AddDoctor(&types.Doctor{ID: doctorID, FullName: "Amal Haddad", Specialization: types.SpecializationCardiology})
	dir.AddPatient(&types.Patient{ID: alice.ID, FullName: "Alice Mansour", Email: "alice@example.com"})
	dir.AddPatient(&types.Patient{ID: bob.ID, FullName: "Bob Karam", Email: "bob@example.com"})
	dir.AddNurse(&types.Nurse{ID: nurse.ID, FullName: "Rana Aziz", AssignedDoctorID: &doctorID})

	svc := New(cfg, &Dependencies{
		Store:     memstore.New(),
		Directory: dir,
		Now:       func() time.Time { return friday },
	}, logger.NewNop())

	return &harness{t: t, service: svc}
}

func (h *harness) do(method, path string, id types.Identity, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if id.ID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(id.ID, 10))
		req.Header.Set("X-User-Role", string(id.Role))
	}

	rec := httptest.NewRecorder()
	h.service.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type errorBody struct {
	Code   string `json:"code"`
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func (h *harness) openFriday() {
	h.t.Helper()
	rec := h.do("PUT", "/api/v1/doctors/7/availability", doctor, map[string]interface{}{
		"windows": []map[string]interface{}{
			{"day_of_week": "FRIDAY", "start_time": "09:00", "end_time": "12:00", "slot_duration_minutes": 30},
		},
	})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
}

func (h *harness) book(id types.Identity, start string) *types.Appointment {
	h.t.Helper()
	rec := h.do("POST", "/api/v1/appointments", id, map[string]interface{}{
		"doctor_id": 7, "date": "2025-03-14", "start_time": start,
	})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*types.Appointment](h.t, rec)
}

func TestIdentityIsRequired(t *testing.T) {
	h := newHarness(t)

	rec := h.do("GET", "/api/v1/doctors/7/slots?date=2025-03-14", nobody, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do("GET", "/api/v1/doctors/7/slots?date=2025-03-14", types.Identity{ID: 1, Role: "JANITOR"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAvailabilityEndpoints(t *testing.T) {
	h := newHarness(t)

	rec := h.do("PUT", "/api/v1/doctors/7/availability", alice, map[string]interface{}{
		"windows": []map[string]interface{}{{"day_of_week": "FRIDAY", "start_time": "09:00", "end_time": "12:00"}},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do("PUT", "/api/v1/doctors/7/availability", doctor, map[string]interface{}{
		"windows": []map[string]interface{}{{"day_of_week": "FRIDAY", "start_time": "12:00", "end_time": "09:00"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	h.openFriday()

	rec = h.do("GET", "/api/v1/doctors/7/availability", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	schedule := decode[[]*types.Availability](t, rec)
	require.Len(t, schedule, 1)
	assert.Equal(t, types.Friday, schedule[0].DayOfWeek)

	rec = h.do("DELETE", "/api/v1/doctors/7/availability/FRIDAY", admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do("POST", "/api/v1/appointments", alice, map[string]interface{}{
		"doctor_id": 7, "date": "2025-03-14", "start_time": "09:00",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, types.ErrCodeDoctorUnavailable, decode[errorBody](t, rec).Code)
}

func TestBookingEndpoints(t *testing.T) {
	h := newHarness(t)
	h.openFriday()

	rec := h.do("GET", "/api/v1/doctors/7/slots?date=2025-03-14", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct{ Slots []string }](t, rec).Slots, 6)

	apt := h.book(alice, "09:00")
	assert.Equal(t, alice.ID, apt.PatientID)
	assert.Equal(t, types.StatusScheduled, apt.Status)
	assert.Equal(t, "09:30", apt.EndTime.String())

	tests := []struct {
		name   string
		id     types.Identity
		body   map[string]interface{}
		status int
		code   string
	}{
		{"slot taken", bob, map[string]interface{}{"doctor_id": 7, "date": "2025-03-14", "start_time": "09:00"}, http.StatusUnprocessableEntity, types.ErrCodeSlotTaken},
		{"off grid", bob, map[string]interface{}{"doctor_id": 7, "date": "2025-03-14", "start_time": "09:10"}, http.StatusUnprocessableEntity, types.ErrCodeInvalidTimeRange},
		{"past date", bob, map[string]interface{}{"doctor_id": 7, "date": "2025-03-07", "start_time": "09:00"}, http.StatusUnprocessableEntity, types.ErrCodePastDate},
		{"bad date", bob, map[string]interface{}{"doctor_id": 7, "date": "14/03/2025", "start_time": "09:00"}, http.StatusUnprocessableEntity, types.ErrCodeInvalidInput},
		{"bad time", bob, map[string]interface{}{"doctor_id": 7, "date": "2025-03-14", "start_time": "nine"}, http.StatusBadRequest, types.ErrCodeInvalidInput},
		{"unknown doctor", bob, map[string]interface{}{"doctor_id": 99, "date": "2025-03-14", "start_time": "09:00"}, http.StatusNotFound, types.ErrCodeUnknownDoctor},
		{"patient books admin variant", bob, map[string]interface{}{"doctor_id": 7, "date": "2025-03-14", "start_time": "10:00", "variant": "ADMIN"}, http.StatusForbidden, ""},
		{"nurse books scheduled", nurse, map[string]interface{}{"patient_id": 2, "doctor_id": 7, "date": "2025-03-14", "start_time": "10:00"}, http.StatusForbidden, ""},
		{"admin without patient", admin, map[string]interface{}{"doctor_id": 7, "date": "2025-03-14", "start_time": "10:00"}, http.StatusUnprocessableEntity, types.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do("POST", "/api/v1/appointments", tt.id, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[errorBody](t, rec).Code)
			}
		})
	}

	rec = h.do("POST", "/api/v1/appointments", nurse, map[string]interface{}{
		"patient_id": 2, "doctor_id": 7, "date": "2025-03-14", "start_time": "10:00", "variant": "WALK_IN",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	walkIn := decode[*types.Appointment](t, rec)
	assert.Equal(t, types.StatusCheckedIn, walkIn.Status)
	assert.Contains(t, walkIn.Notes, "Walk-in appointment.")

	rec = h.do("GET", "/api/v1/appointments", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]*types.Appointment](t, rec), 1)

	rec = h.do("GET", "/api/v1/appointments?status=CHECKED_IN&from=2025-03-14&to=2025-03-14", doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[[]*types.Appointment](t, rec)
	require.Len(t, listed, 1)
	assert.Equal(t, walkIn.ID, listed[0].ID)

	rec = h.do("GET", "/api/v1/appointments?from=yesterday", doctor, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModifyAndCancelEndpoints(t *testing.T) {
	h := newHarness(t)
	h.openFriday()
	apt := h.book(alice, "09:00")
	path := fmt.Sprintf("/api/v1/appointments/%d", apt.ID)

	rec := h.do("PUT", path, alice, map[string]interface{}{"start_time": "11:00", "notes": "Follow-up"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[*types.Appointment](t, rec)
	assert.Equal(t, "11:00", moved.StartTime.String())
	assert.Equal(t, "Follow-up", moved.Notes)

	rec = h.do("DELETE", path, bob, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "another patient's appointment is invisible")

	rec = h.do("DELETE", path, alice, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do("DELETE", path, alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	first := h.book(alice, "09:00")
	second := h.book(bob, "09:30")
	rec = h.do("POST", "/api/v1/appointments/cancel", alice, map[string]interface{}{
		"appointment_ids": []int64{first.ID, second.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode[map[string]interface{}](t, rec)["cancelled"])

	rec = h.do("POST", "/api/v1/appointments/cancel", alice, map[string]interface{}{"appointment_ids": []int64{}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTransitionEndpoint(t *testing.T) {
	h := newHarness(t)
	h.openFriday()
	apt := h.book(alice, "09:00")
	path := fmt.Sprintf("/api/v1/appointments/%d/status", apt.ID)

	rec := h.do("POST", path, alice, map[string]string{"status": "CHECKED_IN"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do("POST", path, nurse, map[string]string{"status": "COMPLETED"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, types.ErrCodeInvalidTransition, decode[errorBody](t, rec).Code)

	rec = h.do("POST", path, nurse, map[string]string{"status": "NO_SHOW"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.StatusNoShow, decode[*types.Appointment](t, rec).Status)
}

func TestCheckInAndQueueEndpoints(t *testing.T) {
	h := newHarness(t)
	h.openFriday()
	h.book(alice, "09:00")
	h.book(bob, "09:30")

	rec := h.do("POST", "/api/v1/checkin", alice, map[string]string{"code": fridayQ})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[types.CheckInResult](t, rec)
	require.True(t, result.Success, result.Message)
	assert.Equal(t, float64(1), result.Data["position"])
	aliceEntry := int64(result.Data["entry_id"].(float64))

	rec = h.do("POST", "/api/v1/checkin", bob, map[string]string{"code": "QUEUE-7"})
	require.Equal(t, http.StatusOK, rec.Code)
	result = decode[types.CheckInResult](t, rec)
	assert.False(t, result.Success)
	assert.Equal(t, types.ErrCodeInvalidCode, result.Code)

	rec = h.do("GET", "/api/v1/queues/mine", nurse, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	q := decode[*types.Queue](t, rec)
	assert.Equal(t, fridayQ, q.Code)
	base := fmt.Sprintf("/api/v1/queues/%d", q.ID)

	rec = h.do("POST", base+"/entries", nurse, map[string]int64{"patient_id": bob.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bobEntry := decode[*types.QueueEntry](t, rec)
	assert.Equal(t, 2, bobEntry.Position)

	rec = h.do("POST", base+"/entries", nurse, map[string]int64{"patient_id": bob.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do("POST", fmt.Sprintf("/api/v1/queue-entries/%d/emergency", bobEntry.ID), nurse, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[*types.QueueEntry](t, rec).Position)

	rec = h.do("POST", base+"/call-next", alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do("POST", base+"/call-next", doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	current := decode[*types.QueueEntry](t, rec)
	assert.Equal(t, bob.ID, current.PatientID)
	assert.Equal(t, types.EntryInProgress, current.Status)

	rec = h.do("POST", base+"/call-next", doctor, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do("GET", "/api/v1/queues/status", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decode[types.PatientQueueStatus](t, rec)
	assert.Equal(t, 0, status.PeopleAhead)
	assert.True(t, status.DoctorCheckedIn)

	rec = h.do("PUT", fmt.Sprintf("/api/v1/queue-entries/%d/position", current.ID), nurse, map[string]int{"position": 2})
	assert.Equal(t, http.StatusConflict, rec.Code, "an entry in consultation cannot move")

	rec = h.do("PUT", fmt.Sprintf("/api/v1/queue-entries/%d/position", aliceEntry), nurse, map[string]int{"position": 9})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, types.ErrCodeInvalidPosition, decode[errorBody](t, rec).Code)

	rec = h.do("POST", fmt.Sprintf("/api/v1/queue-entries/%d/end", current.ID), doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.EntryTerminated, decode[*types.QueueEntry](t, rec).Status)

	rec = h.do("GET", base+"/statistics", nurse, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[types.QueueStatistics](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Waiting)

	rec = h.do("GET", base+"/waiting", nurse, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]*types.QueueEntry](t, rec), 1)

	rec = h.do("GET", "/api/v1/queues/status", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do("GET", "/api/v1/queues/abc/entries", nurse, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitedAPI(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Server.RateLimitPerMinute = 60
		c.Server.RateLimitBurst = 2
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, h.do("GET", "/api/v1/appointments", alice, nil).Code)
	}
	rec := h.do("GET", "/api/v1/appointments", alice, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, h.do("GET", "/api/v1/appointments", bob, nil).Code)
	assert.Equal(t, http.StatusOK, h.do("GET", "/health", nobody, nil).Code, "health is not throttled")
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	rec := h.do("GET", "/health", nobody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]interface{}](t, rec)["status"])

	rec = h.do("GET", "/metrics", nobody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestBootstrapMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "memory"

	deps, err := Bootstrap(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	require.NotNil(t, deps.Store)
	require.NotNil(t, deps.Notifier)

	svc := New(cfg, deps, logger.NewNop())
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"memory"`)
	assert.Contains(t, rec.Body.String(), `"notifications":"log"`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, svc.Shutdown(ctx))
}

func TestBootstrapRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"

	deps, err := Bootstrap(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)
	assert.Nil(t, deps)
}
