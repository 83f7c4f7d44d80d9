package interfaces

import (
	"context"
	"time"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

// AvailabilityRepository defines persistence for doctors' weekly windows
type AvailabilityRepository interface {
	// GetActiveAvailability returns the active window for the day, or a NOT_FOUND error
	GetActiveAvailability(ctx context.Context, doctorID int64, day types.Weekday) (*types.Availability, error)
	ListAvailability(ctx context.Context, doctorID int64) ([]*types.Availability, error)
	DeleteAvailability(ctx context.Context, doctorID int64, days []types.Weekday) error
	CreateAvailability(ctx context.Context, availability *types.Availability) error
	SetAvailabilityActive(ctx context.Context, doctorID int64, day types.Weekday, active bool) (int64, error)
}

// AppointmentRepository defines persistence for appointment records
type AppointmentRepository interface {
	CreateAppointment(ctx context.Context, apt *types.Appointment) error
	GetAppointmentByID(ctx context.Context, id int64) (*types.Appointment, error)
	UpdateAppointment(ctx context.Context, apt *types.Appointment) error
	FindAppointments(ctx context.Context, filters *types.AppointmentFilters) ([]*types.Appointment, error)
	CountAppointments(ctx context.Context, filters *types.AppointmentFilters) (int, error)
	// UpdateAppointmentStatuses moves every appointment of the doctor's day in status from to status to
	UpdateAppointmentStatuses(ctx context.Context, doctorID int64, date time.Time, from, to types.AppointmentStatus) (int64, error)
}

// QueueRepository defines persistence for queues and their entries
type QueueRepository interface {
	// GetOrCreateQueue is idempotent and safe under concurrent first touch
	GetOrCreateQueue(ctx context.Context, doctorID int64, date time.Time, code string) (*types.Queue, error)
	GetQueue(ctx context.Context, doctorID int64, date time.Time) (*types.Queue, error)
	GetQueueByID(ctx context.Context, id int64) (*types.Queue, error)
	ListEntries(ctx context.Context, queueID int64) ([]*types.QueueEntry, error)
	GetEntry(ctx context.Context, id int64) (*types.QueueEntry, error)
	FindPatientEntry(ctx context.Context, queueID, patientID int64) (*types.QueueEntry, error)
	MaxPosition(ctx context.Context, queueID int64) (int, error)
	CreateEntry(ctx context.Context, entry *types.QueueEntry) error
	UpdateEntry(ctx context.Context, entry *types.QueueEntry) error
	// ShiftPositions adds delta to every position in [from, to] and recomputes
	// the estimated wait of the shifted entries
	ShiftPositions(ctx context.Context, queueID int64, from, to, delta, minutesPerPosition int) (int64, error)
}

// Repositories groups the repositories that take part in one unit of work
type Repositories interface {
	Availability() AvailabilityRepository
	Appointments() AppointmentRepository
	Queues() QueueRepository
}

// UnitOfWork runs multi-step sequences atomically against the backing store
type UnitOfWork interface {
	Repositories
	// Atomic runs fn in one transaction, serialized against every other
	// unit of work holding any of the given keys. Either everything fn
	// wrote commits or nothing does.
	Atomic(ctx context.Context, keys []types.LockKey, fn func(repos Repositories) error) error
}

// Directory resolves opaque ids to profile records
type Directory interface {
	GetDoctor(ctx context.Context, id int64) (*types.Doctor, error)
	GetPatient(ctx context.Context, id int64) (*types.Patient, error)
	// AssignedDoctor returns the doctor whose queue the nurse works
	AssignedDoctor(ctx context.Context, nurseID int64) (*types.Doctor, error)
}

// NotificationKind names a notification template
type NotificationKind string

const (
	NotificationBookingConfirmation NotificationKind = "BOOKING_CONFIRMATION"
	NotificationNewAppointment      NotificationKind = "NEW_APPOINTMENT"
)

// Recipient is the addressee of a notification
type Recipient struct {
	UserID   int64  `json:"user_id"`
	Role     string `json:"role"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// NotificationSink is the fire-and-forget trigger towards the delivery transport
type NotificationSink interface {
	Notify(ctx context.Context, to Recipient, kind NotificationKind, payload map[string]string) error
}

// SlotSource answers which start times are bookable for a doctor's day
type SlotSource interface {
	Slots(ctx context.Context, doctorID int64, date time.Time) ([]types.TimeOfDay, error)
}

// SlotInvalidator drops cached slot answers after a ledger write
type SlotInvalidator interface {
	Invalidate(ctx context.Context, doctorID int64, dates ...time.Time)
}
