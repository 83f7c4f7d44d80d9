package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueCode_RoundTrip(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	code := EncodeQueueCode(7, date)
	assert.Equal(t, "QUEUE-7-20250314", code)

	doctorID, decoded, err := DecodeQueueCode(" " + code + " ")
	require.NoError(t, err)
	assert.Equal(t, int64(7), doctorID)
	assert.True(t, decoded.Equal(date))
}

func TestDecodeQueueCode_Invalid(t *testing.T) {
	for _, code := range []string{
		"",
		"BADCODE",
		"QUEUE-7",
		"QUEUE-7-20250314-1",
		"TICKET-7-20250314",
		"QUEUE-abc-20250314",
		"QUEUE-0-20250314",
		"QUEUE--7-20250314",
		"QUEUE-7-2025031",
		"QUEUE-7-20251314",
	} {
		t.Run(code, func(t *testing.T) {
			_, _, err := DecodeQueueCode(code)
			require.Error(t, err)
			ce, ok := AsClinicError(err)
			require.True(t, ok)
			assert.Equal(t, ErrorTypeMalformed, ce.Type)
			assert.Equal(t, ErrCodeInvalidCode, ce.Code)
		})
	}
}

func TestTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	assert.Equal(t, NewTimeOfDay(9, 30), tod)
	assert.Equal(t, 9, tod.Hour())
	assert.Equal(t, 30, tod.Minute())
	assert.Equal(t, "10:00", tod.Add(30).String())

	withSeconds, err := ParseTimeOfDay("17:45:00")
	require.NoError(t, err)
	assert.Equal(t, NewTimeOfDay(17, 45), withSeconds)

	_, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)

	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC), tod.On(date))
}

func TestTimeOfDay_JSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		Start TimeOfDay `json:"start"`
	}{NewTimeOfDay(8, 5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"08:05"}`, string(raw))

	var decoded struct {
		Start TimeOfDay `json:"start"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"start":"14:15"}`), &decoded))
	assert.Equal(t, NewTimeOfDay(14, 15), decoded.Start)

	assert.Error(t, json.Unmarshal([]byte(`{"start":915}`), &decoded))
}

func TestTimeOfDay_Scan(t *testing.T) {
	tests := []struct {
		src  interface{}
		want TimeOfDay
	}{
		{"09:00:00", NewTimeOfDay(9, 0)},
		{[]byte("16:30:00"), NewTimeOfDay(16, 30)},
		{time.Date(0, 1, 1, 11, 15, 0, 0, time.UTC), NewTimeOfDay(11, 15)},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.src), func(t *testing.T) {
			var got TimeOfDay
			require.NoError(t, got.Scan(tt.src))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateHelpers(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	late := time.Date(2025, 3, 14, 23, 30, 0, 0, loc)

	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), DateOf(late))
	assert.Equal(t, Friday, WeekdayOf(late))
	assert.True(t, SameDate(late, time.Date(2025, 3, 14, 1, 0, 0, 0, loc)))

	parsed, err := ParseDate("2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, DateOf(late), parsed)

	_, err = ParseDate("14/03/2025")
	assert.Error(t, err)
}

func TestAvailability(t *testing.T) {
	a := &Availability{
		DayOfWeek:           Monday,
		StartTime:           NewTimeOfDay(9, 0),
		EndTime:             NewTimeOfDay(12, 0),
		SlotDurationMinutes: 30,
	}
	require.NoError(t, a.Validate())

	assert.True(t, a.Contains(NewTimeOfDay(9, 0)))
	assert.True(t, a.Contains(NewTimeOfDay(11, 30)))
	assert.False(t, a.Contains(NewTimeOfDay(11, 45)), "slot would end after the window")
	assert.False(t, a.Contains(NewTimeOfDay(8, 30)))

	inverted := *a
	inverted.EndTime = inverted.StartTime
	assert.True(t, HasCode(inverted.Validate(), ErrCodeInvalidTimeRange))

	badDay := *a
	badDay.DayOfWeek = "FUNDAY"
	assert.True(t, HasCode(badDay.Validate(), ErrCodeInvalidInput))
}

func TestAppointmentStatus_Transitions(t *testing.T) {
	allowed := map[AppointmentStatus][]AppointmentStatus{
		StatusScheduled:  {StatusCheckedIn, StatusCancelled, StatusNoShow},
		StatusCheckedIn:  {StatusInProgress, StatusNoShow},
		StatusInProgress: {StatusCompleted},
	}
	all := []AppointmentStatus{StatusScheduled, StatusCheckedIn, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				want = want || ok == to
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
		assert.Equal(t, len(allowed[from]) == 0, from.IsTerminal(), from)
	}

	assert.True(t, StatusCheckedIn.IsActive())
	assert.False(t, StatusInProgress.IsActive())
	assert.False(t, AppointmentStatus("LOST").Valid())
}

func TestClinicError(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("booking: %w", NewInternalError(ErrCodeInternalError, "Storage failure", cause))

	assert.Equal(t, ErrCodeInternalError, CodeOf(err))
	assert.True(t, errors.Is(err, cause))
	assert.Empty(t, CodeOf(cause))
	assert.False(t, HasCode(nil, ErrCodeNotFound))

	ce, ok := AsClinicError(ErrSlotTaken(7, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), NewTimeOfDay(9, 0)))
	require.True(t, ok)
	assert.Equal(t, ErrorTypeValidation, ce.Type)
	assert.Equal(t, ErrCodeSlotTaken, ce.Code)
}

func TestLockKeys(t *testing.T) {
	date := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	assert.NotEqual(t, DoctorDayKey(7, date), PatientDayKey(7, date))
	assert.Equal(t, DoctorDayKey(7, date), DoctorDayKey(7, DateOf(date)))
	assert.NotEqual(t, DoctorScheduleKey(7), DoctorScheduleKey(8))
}
