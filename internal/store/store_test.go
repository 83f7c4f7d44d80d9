package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/database"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/interfaces"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

func setupTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(database.Wrap(db, 0, logger.NewNop()), nil), mock
}

var testDate = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

func appointmentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "patient_id", "doctor_id", "appointment_date", "start_time", "end_time",
		"status", "notes", "created_at", "updated_at",
	})
}

func TestAppointmentRepo_GetAppointmentByID(t *testing.T) {
	s, mock := setupTestStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM "appointments" WHERE \("id" = \$1\)`).
		WithArgs(int64(42)).
		WillReturnRows(appointmentRows().AddRow(42, 3, 7, testDate, "09:00:00", "09:30:00", "SCHEDULED", "", now, now))

	apt, err := s.Appointments().GetAppointmentByID(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, int64(42), apt.ID)
	assert.Equal(t, types.NewTimeOfDay(9, 0), apt.StartTime)
	assert.Equal(t, types.NewTimeOfDay(9, 30), apt.EndTime)
	assert.Equal(t, types.StatusScheduled, apt.Status)
	assert.Equal(t, testDate, apt.Date)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepo_GetAppointmentByID_NotFound(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM "appointments"`).WillReturnRows(appointmentRows())

	_, err := s.Appointments().GetAppointmentByID(context.Background(), 1)
	assert.True(t, types.HasCode(err, types.ErrCodeNotFound))
}

func TestAppointmentRepo_CreateAppointment_SlotTaken(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectQuery(`INSERT INTO "appointments"`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: database.ConstraintAppointmentSlot})

	apt := &types.Appointment{PatientID: 3, DoctorID: 7, Date: testDate, StartTime: types.NewTimeOfDay(9, 0), EndTime: types.NewTimeOfDay(9, 30), Status: types.StatusScheduled}
	err := s.Appointments().CreateAppointment(context.Background(), apt)

	assert.True(t, types.HasCode(err, types.ErrCodeSlotTaken))
}

func TestAppointmentRepo_CreateAppointment(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectQuery(`INSERT INTO "appointments" (.+) RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	apt := &types.Appointment{PatientID: 3, DoctorID: 7, Date: testDate, StartTime: types.NewTimeOfDay(9, 0), EndTime: types.NewTimeOfDay(9, 30), Status: types.StatusScheduled}
	require.NoError(t, s.Appointments().CreateAppointment(context.Background(), apt))

	assert.Equal(t, int64(11), apt.ID)
	assert.False(t, apt.CreatedAt.IsZero())
}

func TestAppointmentRepo_CountAppointments(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "appointments" WHERE (.+)"doctor_id" = \$1(.+)"status" IN \(\$2, \$3\)(.+)"appointment_date" = \$4`).
		WithArgs(int64(7), "SCHEDULED", "CHECKED_IN", "2025-03-14").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(14))

	n, err := s.Appointments().CountAppointments(context.Background(), &types.AppointmentFilters{
		DoctorID: 7,
		Statuses: types.ActiveStatuses,
		Date:     testDate,
	})
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepo_FindAppointments_Descending(t *testing.T) {
	s, mock := setupTestStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM "appointments" WHERE \("patient_id" = \$1\) ORDER BY "appointment_date" DESC, "start_time" DESC`).
		WithArgs(int64(3)).
		WillReturnRows(appointmentRows().
			AddRow(2, 3, 7, testDate.AddDate(0, 0, 1), "10:00:00", "10:30:00", "SCHEDULED", "", now, now).
			AddRow(1, 3, 7, testDate, "09:00:00", "09:30:00", "CANCELLED", "", now, now))

	apts, err := s.Appointments().FindAppointments(context.Background(), &types.AppointmentFilters{PatientID: 3, Descending: true})
	require.NoError(t, err)
	require.Len(t, apts, 2)
	assert.Equal(t, int64(2), apts[0].ID)
}

func TestQueueRepo_GetOrCreateQueue(t *testing.T) {
	s, mock := setupTestStore(t)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO "queues" (.+) ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT (.+) FROM "queues" WHERE (.+)`).
		WithArgs(int64(7), "2025-03-14").
		WillReturnRows(sqlmock.NewRows([]string{"id", "doctor_id", "queue_date", "code", "created_at", "updated_at"}).
			AddRow(5, 7, testDate, "QUEUE-7-20250314", now, now))

	q, err := s.Queues().GetOrCreateQueue(context.Background(), 7, testDate, "QUEUE-7-20250314")
	require.NoError(t, err)
	assert.Equal(t, int64(5), q.ID)
	assert.Equal(t, "QUEUE-7-20250314", q.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepo_ShiftPositions(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectExec(`UPDATE "queue_entries" SET (.+)position \+ (.+) WHERE \(\("queue_id" = \$\d\) AND \("position" BETWEEN \$\d AND \$\d\)\)`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.Queues().ShiftPositions(context.Background(), 5, 1, 3, 1, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.Queues().ShiftPositions(context.Background(), 5, 4, 3, 1, 30)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepo_CreateEntry_AlreadyQueued(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectQuery(`INSERT INTO "queue_entries"`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: database.ConstraintQueuePatient})

	err := s.Queues().CreateEntry(context.Background(), &types.QueueEntry{QueueID: 5, PatientID: 3, Position: 1, Status: types.EntryWaiting})
	assert.True(t, types.HasCode(err, types.ErrCodeAlreadyQueued))
}

func TestQueueRepo_MaxPosition(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(MAX\("position"\), \$1\) FROM "queue_entries"`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(4))

	n, err := s.Queues().MaxPosition(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestAvailabilityRepo_GetActiveAvailability(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM "doctor_availability" WHERE (.+) LIMIT \$\d`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "doctor_id", "day_of_week", "start_time", "end_time", "slot_duration_minutes", "is_active"}).
			AddRow(1, 7, "FRIDAY", "09:00:00", "17:00:00", 30, true))

	a, err := s.Availability().GetActiveAvailability(context.Background(), 7, types.Friday)
	require.NoError(t, err)
	assert.Equal(t, types.Friday, a.DayOfWeek)
	assert.Equal(t, types.NewTimeOfDay(17, 0), a.EndTime)
}

func TestAvailabilityRepo_GetActiveAvailability_None(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM "doctor_availability"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Availability().GetActiveAvailability(context.Background(), 7, types.Sunday)
	assert.True(t, types.HasCode(err, types.ErrCodeNoAvailability))
}

func TestStore_Atomic(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("doctor:7:2025-03-14").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "appointments" SET`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	var updated int64
	err := s.Atomic(context.Background(), []types.LockKey{types.DoctorDayKey(7, testDate)}, func(r interfaces.Repositories) error {
		var err error
		updated, err = r.Appointments().UpdateAppointmentStatuses(context.Background(), 7, testDate, types.StatusScheduled, types.StatusCheckedIn)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Atomic_RollsBack(t *testing.T) {
	s, mock := setupTestStore(t)
	failure := errors.New("capacity")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), nil, func(r interfaces.Repositories) error {
		return failure
	})

	assert.ErrorIs(t, err, failure)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_AssignedDoctor_Unassigned(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectQuery(`SELECT "assigned_doctor_id" FROM "nurses"`).
		WillReturnRows(sqlmock.NewRows([]string{"assigned_doctor_id"}).AddRow(nil))

	_, err := NewDirectory(s).AssignedDoctor(context.Background(), 9)
	assert.True(t, types.HasCode(err, types.ErrCodeUnknownDoctor))
}
