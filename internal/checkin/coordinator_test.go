package checkin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/queue"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/store/memstore"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

const (
	doctorID = int64(7)
	code     = "QUEUE-7-20250314"
)

var day = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

func setupCoordinator(t *testing.T) (*Coordinator, *memstore.Store) {
	t.Helper()

	store := memstore.New()
	dir := memstore.NewDirectory()
	dir.AddDoctor(&types.Doctor{ID: doctorID, FullName: "Amal Haddad", Specialization: types.SpecializationCardiology})
	dir.AddDoctor(&types.Doctor{ID: 8, FullName: "Omar Saleh", Specialization: types.SpecializationNeurology})

	queues := queue.NewService(store, dir, queue.Config{
		WaitMinutesPerPosition: 15,
		Now:                    func() time.Time { return day.Add(8 * time.Hour) },
	}, logger.NewNop(), nil)

	return NewCoordinator(store, dir, queues, logger.NewNop(), nil), store
}

func schedule(t *testing.T, store *memstore.Store, patientID int64, hour int, status types.AppointmentStatus) *types.Appointment {
	t.Helper()
	apt := &types.Appointment{
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      day,
		StartTime: types.NewTimeOfDay(hour, 0),
		EndTime:   types.NewTimeOfDay(hour, 30),
		Status:    status,
	}
	require.NoError(t, store.Appointments().CreateAppointment(context.Background(), apt))
	return apt
}

func patient(id int64) types.Identity { return types.Identity{ID: id, Role: types.RolePatient} }

func TestProcessCheckIn_Patient(t *testing.T) {
	c, store := setupCoordinator(t)
	ctx := context.Background()
	first := schedule(t, store, 1, 9, types.StatusScheduled)
	schedule(t, store, 2, 10, types.StatusScheduled)

	res := c.ProcessCheckIn(ctx, patient(1), code)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.Data["position"])
	assert.Equal(t, 15, res.Data["estimated_wait_minutes"])
	assert.Equal(t, 1, res.Data["queue_size"])

	res = c.ProcessCheckIn(ctx, patient(2), code)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 2, res.Data["position"])
	assert.Equal(t, 2, res.Data["queue_size"])

	apt, err := store.Appointments().GetAppointmentByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCheckedIn, apt.Status)

	q, err := store.Queues().GetQueue(ctx, doctorID, day)
	require.NoError(t, err)
	assert.Equal(t, code, q.Code)
	entry, err := store.Queues().FindPatientEntry(ctx, q.ID, 1)
	require.NoError(t, err)
	assert.True(t, entry.CheckedInViaCode)
}

func TestProcessCheckIn_PatientTwice(t *testing.T) {
	c, store := setupCoordinator(t)
	schedule(t, store, 1, 9, types.StatusScheduled)

	require.True(t, c.ProcessCheckIn(context.Background(), patient(1), code).Success)

	res := c.ProcessCheckIn(context.Background(), patient(1), code)
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrCodeNoAppointment, res.Code, "the appointment is no longer scheduled")
}

func TestProcessCheckIn_PatientAlreadyQueued(t *testing.T) {
	c, store := setupCoordinator(t)
	ctx := context.Background()
	apt := schedule(t, store, 1, 9, types.StatusScheduled)

	q, err := store.Queues().GetOrCreateQueue(ctx, doctorID, day, code)
	require.NoError(t, err)
	require.NoError(t, store.Queues().CreateEntry(ctx, &types.QueueEntry{
		QueueID: q.ID, PatientID: 1, Position: 1, Status: types.EntryWaiting,
	}))

	res := c.ProcessCheckIn(ctx, patient(1), code)
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrCodeAlreadyCheckedIn, res.Code)

	stored, err := store.Appointments().GetAppointmentByID(ctx, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusScheduled, stored.Status)
}

func TestProcessCheckIn_QueueSizeCountsServedEntries(t *testing.T) {
	c, store := setupCoordinator(t)
	ctx := context.Background()
	schedule(t, store, 1, 9, types.StatusScheduled)
	schedule(t, store, 2, 10, types.StatusScheduled)

	require.True(t, c.ProcessCheckIn(ctx, patient(1), code).Success)

	q, err := store.Queues().GetQueue(ctx, doctorID, day)
	require.NoError(t, err)
	served, err := store.Queues().FindPatientEntry(ctx, q.ID, 1)
	require.NoError(t, err)
	served.Status = types.EntryTerminated
	require.NoError(t, store.Queues().UpdateEntry(ctx, served))

	res := c.ProcessCheckIn(ctx, patient(2), code)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 2, res.Data["queue_size"])
}

func TestProcessCheckIn_PatientWithoutAppointment(t *testing.T) {
	c, store := setupCoordinator(t)
	ctx := context.Background()
	schedule(t, store, 1, 9, types.StatusCancelled)

	res := c.ProcessCheckIn(ctx, patient(1), code)
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrCodeNoAppointment, res.Code)

	_, err := store.Queues().GetQueue(ctx, doctorID, day)
	assert.True(t, types.HasCode(err, types.ErrCodeNotFound), "a failed check-in leaves nothing behind")
}

func TestProcessCheckIn_Doctor(t *testing.T) {
	c, store := setupCoordinator(t)
	ctx := context.Background()
	schedule(t, store, 1, 9, types.StatusScheduled)
	schedule(t, store, 2, 10, types.StatusScheduled)
	cancelled := schedule(t, store, 3, 11, types.StatusCancelled)

	res := c.ProcessCheckIn(ctx, types.Identity{ID: doctorID, Role: types.RoleDoctor}, code)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, int64(2), res.Data["checked_in"])
	assert.Equal(t, 0, res.Data["queue_size"])

	n, err := store.Appointments().CountAppointments(ctx, &types.AppointmentFilters{
		DoctorID: doctorID, Date: day, Statuses: []types.AppointmentStatus{types.StatusCheckedIn},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	apt, err := store.Appointments().GetAppointmentByID(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, apt.Status)

	again := c.ProcessCheckIn(ctx, types.Identity{ID: doctorID, Role: types.RoleDoctor}, code)
	assert.Equal(t, types.ErrCodeNoConsultations, again.Code)
}

func TestProcessCheckIn_Failures(t *testing.T) {
	tests := []struct {
		name     string
		identity types.Identity
		code     string
		want     string
	}{
		{"garbage", patient(1), "BADCODE", types.ErrCodeInvalidCode},
		{"non numeric doctor", patient(1), "QUEUE-abc-20250314", types.ErrCodeInvalidCode},
		{"bad date", patient(1), "QUEUE-7-2025031", types.ErrCodeInvalidCode},
		{"wrong prefix", patient(1), "TICKET-7-20250314", types.ErrCodeInvalidCode},
		{"unknown doctor", patient(1), "QUEUE-99-20250314", types.ErrCodeUnknownDoctor},
		{"other doctor's code", types.Identity{ID: 8, Role: types.RoleDoctor}, code, types.ErrCodeWrongDoctor},
		{"nurse", types.Identity{ID: 40, Role: types.RoleNurse}, code, types.ErrCodeUnsupportedRole},
		{"doctor without bookings", types.Identity{ID: doctorID, Role: types.RoleDoctor}, code, types.ErrCodeNoConsultations},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := setupCoordinator(t)
			res := c.ProcessCheckIn(context.Background(), tt.identity, tt.code)
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Code)
			assert.NotEmpty(t, res.Message)
			assert.NotNil(t, res.Data)
		})
	}
}
