package types

import (
	"fmt"
	"strings"
	"time"
)

// Weekday names a day in a doctor's recurring weekly schedule
type Weekday string

const (
	Monday    Weekday = "MONDAY"
	Tuesday   Weekday = "TUESDAY"
	Wednesday Weekday = "WEDNESDAY"
	Thursday  Weekday = "THURSDAY"
	Friday    Weekday = "FRIDAY"
	Saturday  Weekday = "SATURDAY"
	Sunday    Weekday = "SUNDAY"
)

// Weekdays lists the days in schedule order
var Weekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// WeekdayOf resolves the schedule day for a calendar date
func WeekdayOf(date time.Time) Weekday {
	return Weekday(strings.ToUpper(date.Weekday().String()))
}

// Valid reports whether w is a known weekday name
func (w Weekday) Valid() bool {
	return w.Index() >= 0
}

// Index returns the position of w in Weekdays, or -1
func (w Weekday) Index() int {
	for i, d := range Weekdays {
		if d == w {
			return i
		}
	}
	return -1
}

// Availability is a doctor's recurring open-hours window for one weekday
type Availability struct {
	ID                  int64     `json:"id" db:"id"`
	DoctorID            int64     `json:"doctor_id" db:"doctor_id"`
	DayOfWeek           Weekday   `json:"day_of_week" db:"day_of_week"`
	StartTime           TimeOfDay `json:"start_time" db:"start_time"`
	EndTime             TimeOfDay `json:"end_time" db:"end_time"`
	SlotDurationMinutes int       `json:"slot_duration_minutes" db:"slot_duration_minutes"`
	Active              bool      `json:"active" db:"is_active"`
}

// Validate checks the window invariants
func (a *Availability) Validate() error {
	if !a.DayOfWeek.Valid() {
		return NewValidationError(ErrCodeInvalidInput, fmt.Sprintf("unknown day of week %q", a.DayOfWeek), nil)
	}
	if a.StartTime >= a.EndTime {
		return NewValidationError(ErrCodeInvalidTimeRange, "End time must be after start time", map[string]interface{}{
			"day_of_week": a.DayOfWeek,
			"start_time":  a.StartTime.String(),
			"end_time":    a.EndTime.String(),
		})
	}
	if a.SlotDurationMinutes <= 0 {
		return NewValidationError(ErrCodeInvalidInput, "Slot duration must be positive", nil)
	}
	return nil
}

// Contains reports whether a slot of the window's duration starting at t fits in the window
func (a *Availability) Contains(t TimeOfDay) bool {
	return t >= a.StartTime && t.Add(a.SlotDurationMinutes) <= a.EndTime
}

// AppointmentStatus represents appointment status values
type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "SCHEDULED"
	StatusCheckedIn  AppointmentStatus = "CHECKED_IN"
	StatusInProgress AppointmentStatus = "IN_PROGRESS"
	StatusCompleted  AppointmentStatus = "COMPLETED"
	StatusCancelled  AppointmentStatus = "CANCELLED"
	StatusNoShow     AppointmentStatus = "NO_SHOW"
)

// ActiveStatuses are the statuses that hold a slot and count towards daily capacity
var ActiveStatuses = []AppointmentStatus{StatusScheduled, StatusCheckedIn}

var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:  {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:  {StatusInProgress, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

// Valid reports whether s is a known status
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCheckedIn, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// IsActive reports whether the status holds a slot
func (s AppointmentStatus) IsActive() bool {
	return s == StatusScheduled || s == StatusCheckedIn
}

// IsTerminal reports whether no further transition is possible
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// CanTransitionTo reports whether the state machine allows s -> to
func (s AppointmentStatus) CanTransitionTo(to AppointmentStatus) bool {
	for _, next := range appointmentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Appointment represents a booked consultation with a doctor
type Appointment struct {
	ID        int64             `json:"id" db:"id"`
	PatientID int64             `json:"patient_id" db:"patient_id"`
	DoctorID  int64             `json:"doctor_id" db:"doctor_id"`
	Date      time.Time         `json:"date" db:"appointment_date"`
	StartTime TimeOfDay         `json:"start_time" db:"start_time"`
	EndTime   TimeOfDay         `json:"end_time" db:"end_time"`
	Status    AppointmentStatus `json:"status" db:"status"`
	Notes     string            `json:"notes" db:"notes"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// Clone returns a copy of the appointment
func (a *Appointment) Clone() *Appointment {
	c := *a
	return &c
}

// BookingVariant selects how a booking is created
type BookingVariant string

const (
	VariantScheduled BookingVariant = "SCHEDULED"
	VariantWalkIn    BookingVariant = "WALK_IN"
	VariantAdmin     BookingVariant = "ADMIN"
)

// BookingRequest carries the inputs of a booking
type BookingRequest struct {
	PatientID int64          `json:"patient_id" validate:"required,gt=0"`
	DoctorID  int64          `json:"doctor_id" validate:"required,gt=0"`
	Date      time.Time      `json:"date"`
	StartTime TimeOfDay      `json:"start_time"`
	Notes     string         `json:"notes" validate:"max=2000"`
	Variant   BookingVariant `json:"variant" validate:"omitempty,oneof=SCHEDULED WALK_IN ADMIN"`
}

// AppointmentChanges are the optional fields of a modification
type AppointmentChanges struct {
	Date      *time.Time `json:"date,omitempty"`
	StartTime *TimeOfDay `json:"start_time,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
}

// AppointmentFilters represents filters for appointment queries
type AppointmentFilters struct {
	PatientID int64               `json:"patient_id,omitempty"`
	DoctorID  int64               `json:"doctor_id,omitempty"`
	Statuses  []AppointmentStatus `json:"statuses,omitempty"`
	Date      time.Time           `json:"date,omitempty"`
	FromDate  time.Time           `json:"from_date,omitempty"`
	ToDate    time.Time           `json:"to_date,omitempty"`
	StartTime *TimeOfDay          `json:"start_time,omitempty"`
	ExcludeID int64               `json:"exclude_id,omitempty"`
	// Descending orders by date then start time, newest first
	Descending bool `json:"descending,omitempty"`
}

// DateRange bounds a listing inclusively; zero values are open ends
type DateRange struct {
	From time.Time
	To   time.Time
}

// LockKey names a serialization scope for a unit of work
type LockKey string

// DoctorDayKey serializes work on one doctor's calendar day
func DoctorDayKey(doctorID int64, date time.Time) LockKey {
	return LockKey(fmt.Sprintf("doctor:%d:%s", doctorID, date.Format(DateLayout)))
}

// PatientDayKey serializes a patient's bookings on one calendar day
func PatientDayKey(patientID int64, date time.Time) LockKey {
	return LockKey(fmt.Sprintf("patient:%d:%s", patientID, date.Format(DateLayout)))
}

// DoctorScheduleKey serializes edits to a doctor's weekly schedule
func DoctorScheduleKey(doctorID int64) LockKey {
	return LockKey(fmt.Sprintf("schedule:%d", doctorID))
}
