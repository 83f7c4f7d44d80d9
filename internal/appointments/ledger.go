// Package appointments owns the appointment ledger: booking, modification,
// cancellation and the appointment status machine.
package appointments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/interfaces"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/monitoring"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

// Notifier triggers a notification without reporting delivery failures
type Notifier interface {
	Notify(ctx context.Context, to interfaces.Recipient, kind interfaces.NotificationKind, payload map[string]string)
}

type discard struct{}

func (discard) Notify(context.Context, interfaces.Recipient, interfaces.NotificationKind, map[string]string) {}

// Config holds the ledger's scheduling rules
type Config struct {
	MaxDailyAppointments int
	// Location decides which calendar date "today" is
	Location *time.Location
	Now      func() time.Time
}

// Ledger is the appointment ledger
type Ledger struct {
	uow       interfaces.UnitOfWork
	directory interfaces.Directory
	slots     interfaces.SlotSource
	notifier  Notifier
	maxDaily  int
	location  *time.Location
	now       func() time.Time
	logger    *logger.Logger
	metrics   *monitoring.MetricsCollector
}

// NewLedger creates a Ledger. If slots also implements
// interfaces.SlotInvalidator, cached answers are dropped after every write.
func NewLedger(uow interfaces.UnitOfWork, directory interfaces.Directory, slots interfaces.SlotSource, notifier Notifier, cfg Config, log *logger.Logger, metrics *monitoring.MetricsCollector) *Ledger {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if notifier == nil {
		notifier = discard{}
	}
	return &Ledger{
		uow:       uow,
		directory: directory,
		slots:     slots,
		notifier:  notifier,
		maxDaily:  cfg.MaxDailyAppointments,
		location:  cfg.Location,
		now:       cfg.Now,
		logger:    log,
		metrics:   metrics,
	}
}

// Today returns the clinic's current calendar date
func (l *Ledger) Today() time.Time {
	return types.DateOf(l.now().In(l.location))
}

type variantPolicy struct {
	status types.AppointmentStatus
	notes  func(string) string
}

var variants = map[types.BookingVariant]variantPolicy{
	types.VariantScheduled: {status: types.StatusScheduled, notes: strings.TrimSpace},
	types.VariantWalkIn:    {status: types.StatusCheckedIn, notes: prefixed("Walk-in appointment.", "Walk-in appointment.")},
	types.VariantAdmin:     {status: types.StatusScheduled, notes: prefixed("[ADMIN]", "[ADMIN] Created by administrator.")},
}

func prefixed(prefix, fallback string) func(string) string {
	return func(notes string) string {
		notes = strings.TrimSpace(notes)
		if notes == "" {
			return fallback
		}
		return prefix + " " + notes
	}
}

// Book creates an appointment after checking every ledger rule inside one
// unit of work serialized on the doctor's and the patient's day
func (l *Ledger) Book(ctx context.Context, req *types.BookingRequest) (apt *types.Appointment, err error) {
	ctx, span := monitoring.StartSpan(ctx, "appointments", "book",
		attribute.Int64("doctor_id", req.DoctorID),
		attribute.String("variant", string(req.Variant)))
	defer func() {
		monitoring.EndSpan(span, err)
		l.metrics.RecordBooking("book", monitoring.Outcome(err, types.CodeOf))
	}()

	variant := req.Variant
	if variant == "" {
		variant = types.VariantScheduled
	}
	policy, ok := variants[variant]
	if !ok {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, fmt.Sprintf("Unknown booking variant %q", req.Variant), nil)
	}
	if req.PatientID <= 0 || req.DoctorID <= 0 || req.Date.IsZero() {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "Patient, doctor and date are required", nil)
	}

	doctor, err := l.directory.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	patient, err := l.directory.GetPatient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	date := types.DateOf(req.Date)
	apt = &types.Appointment{
		PatientID: patient.ID,
		DoctorID:  doctor.ID,
		Date:      date,
		StartTime: req.StartTime,
		Status:    policy.status,
		Notes:     policy.notes(req.Notes),
	}

	keys := []types.LockKey{types.DoctorDayKey(doctor.ID, date), types.PatientDayKey(patient.ID, date)}
	err = l.uow.Atomic(ctx, keys, func(repos interfaces.Repositories) error {
		apt.ID = 0
		if err := l.checkBooking(ctx, repos, doctor, apt); err != nil {
			return err
		}
		return repos.Appointments().CreateAppointment(ctx, apt)
	})

	l.logger.Audit(patient.ID, "book_appointment", "appointment", err == nil, map[string]interface{}{
		"doctor_id":  doctor.ID,
		"date":       date.Format(types.DateLayout),
		"start_time": req.StartTime.String(),
		"variant":    variant,
		"code":       types.CodeOf(err),
	})
	if err != nil {
		return nil, err
	}

	l.invalidate(ctx, doctor.ID, date)
	l.notifyBooked(ctx, doctor, patient, apt)
	return apt, nil
}

// checkBooking enforces the ledger rules for apt and sets its end time.
// apt.ID is excluded from every count so a modification never collides
// with the record it replaces.
func (l *Ledger) checkBooking(ctx context.Context, repos interfaces.Repositories, doctor *types.Doctor, apt *types.Appointment) error {
	if err := l.checkNotPast(apt); err != nil {
		return err
	}

	day := types.WeekdayOf(apt.Date)
	avail, err := repos.Availability().GetActiveAvailability(ctx, apt.DoctorID, day)
	if types.HasCode(err, types.ErrCodeNoAvailability) {
		return types.NewValidationError(types.ErrCodeDoctorUnavailable, fmt.Sprintf("Doctor has no availability on %s", day), map[string]interface{}{
			"doctor_id":   apt.DoctorID,
			"day_of_week": day,
		})
	}
	if err != nil {
		return err
	}

	if !onGrid(avail, apt.StartTime) {
		return types.NewValidationError(types.ErrCodeInvalidTimeRange, "Start time is outside the doctor's working hours", map[string]interface{}{
			"start_time":    apt.StartTime.String(),
			"window_start":  avail.StartTime.String(),
			"window_end":    avail.EndTime.String(),
			"slot_duration": avail.SlotDurationMinutes,
		})
	}
	apt.EndTime = apt.StartTime.Add(avail.SlotDurationMinutes)

	start := apt.StartTime
	taken, err := repos.Appointments().CountAppointments(ctx, &types.AppointmentFilters{
		DoctorID:  apt.DoctorID,
		Date:      apt.Date,
		StartTime: &start,
		Statuses:  types.ActiveStatuses,
		ExcludeID: apt.ID,
	})
	if err != nil {
		return err
	}
	if taken > 0 {
		return types.ErrSlotTaken(apt.DoctorID, apt.Date, apt.StartTime)
	}

	if err := l.checkSpecialization(ctx, repos, doctor, apt); err != nil {
		return err
	}

	booked, err := repos.Appointments().CountAppointments(ctx, &types.AppointmentFilters{
		DoctorID:  apt.DoctorID,
		Date:      apt.Date,
		Statuses:  types.ActiveStatuses,
		ExcludeID: apt.ID,
	})
	if err != nil {
		return err
	}
	if booked >= l.maxDaily {
		return types.NewValidationError(types.ErrCodeCapacityExceeded,
			fmt.Sprintf("Doctor has reached the maximum of %d appointments for this day", l.maxDaily),
			map[string]interface{}{"booked": booked, "max_daily": l.maxDaily})
	}
	return nil
}

func (l *Ledger) checkNotPast(apt *types.Appointment) error {
	if apt.Date.Before(l.Today()) {
		return types.NewValidationError(types.ErrCodePastDate, "Cannot book appointments in the past", map[string]interface{}{
			"date": apt.Date.Format(types.DateLayout),
		})
	}
	return nil
}

// checkSpecialization rejects a second active appointment of the patient on
// the same day with a doctor of the same specialization
func (l *Ledger) checkSpecialization(ctx context.Context, repos interfaces.Repositories, doctor *types.Doctor, apt *types.Appointment) error {
	others, err := repos.Appointments().FindAppointments(ctx, &types.AppointmentFilters{
		PatientID: apt.PatientID,
		Date:      apt.Date,
		Statuses:  types.ActiveStatuses,
		ExcludeID: apt.ID,
	})
	if err != nil {
		return err
	}

	for _, other := range others {
		specialization := doctor.Specialization
		if other.DoctorID != doctor.ID {
			d, err := l.directory.GetDoctor(ctx, other.DoctorID)
			if err != nil {
				return err
			}
			specialization = d.Specialization
		}
		if specialization == doctor.Specialization {
			return types.NewValidationError(types.ErrCodeSpecializationConflict,
				fmt.Sprintf("You already have a %s appointment on this day", strings.ToLower(doctor.Specialization)),
				map[string]interface{}{"appointment_id": other.ID, "specialization": doctor.Specialization})
		}
	}
	return nil
}

// onGrid reports whether t is a slot start of the window
func onGrid(avail *types.Availability, t types.TimeOfDay) bool {
	if !avail.Contains(t) {
		return false
	}
	return int(t-avail.StartTime)%avail.SlotDurationMinutes == 0
}

// Modify changes the date, time or notes of the patient's own scheduled
// appointment. A change of date or time re-runs every booking rule; any
// other change still requires the appointment date not to have passed.
func (l *Ledger) Modify(ctx context.Context, appointmentID, patientID int64, changes *types.AppointmentChanges) (apt *types.Appointment, err error) {
	ctx, span := monitoring.StartSpan(ctx, "appointments", "modify", attribute.Int64("appointment_id", appointmentID))
	defer func() {
		monitoring.EndSpan(span, err)
		l.metrics.RecordBooking("modify", monitoring.Outcome(err, types.CodeOf))
	}()

	current, err := l.ownedScheduled(ctx, appointmentID, patientID)
	if err != nil {
		return nil, err
	}
	doctor, err := l.directory.GetDoctor(ctx, current.DoctorID)
	if err != nil {
		return nil, err
	}

	newDate := current.Date
	if changes.Date != nil {
		newDate = types.DateOf(*changes.Date)
	}
	keys := []types.LockKey{
		types.DoctorDayKey(current.DoctorID, current.Date),
		types.PatientDayKey(patientID, current.Date),
		types.DoctorDayKey(current.DoctorID, newDate),
		types.PatientDayKey(patientID, newDate),
	}

	err = l.uow.Atomic(ctx, keys, func(repos interfaces.Repositories) error {
		apt, err = repos.Appointments().GetAppointmentByID(ctx, appointmentID)
		if err != nil || !ownedScheduled(apt, patientID) || !apt.Date.Equal(current.Date) {
			return types.ErrAppointmentNotFound()
		}

		rescheduled := false
		if changes.Date != nil && !newDate.Equal(apt.Date) {
			apt.Date = newDate
			rescheduled = true
		}
		if changes.StartTime != nil && *changes.StartTime != apt.StartTime {
			apt.StartTime = *changes.StartTime
			rescheduled = true
		}
		if changes.Notes != nil {
			apt.Notes = strings.TrimSpace(*changes.Notes)
		}

		if rescheduled {
			if err := l.checkBooking(ctx, repos, doctor, apt); err != nil {
				return err
			}
		} else if err := l.checkNotPast(apt); err != nil {
			return err
		}
		return repos.Appointments().UpdateAppointment(ctx, apt)
	})

	l.logger.Audit(patientID, "modify_appointment", "appointment", err == nil, map[string]interface{}{
		"appointment_id": appointmentID,
		"code":           types.CodeOf(err),
	})
	if err != nil {
		return nil, err
	}

	l.invalidate(ctx, apt.DoctorID, current.Date, apt.Date)
	if patient, perr := l.directory.GetPatient(ctx, patientID); perr == nil {
		l.notifier.Notify(ctx, patientRecipient(patient), interfaces.NotificationBookingConfirmation, bookingPayload(doctor, patient, apt))
	}
	return apt, nil
}

// Cancel cancels the patient's own scheduled appointment. Missing, foreign
// and no longer scheduled appointments all fail with the same not-found error.
func (l *Ledger) Cancel(ctx context.Context, appointmentID, patientID int64) (err error) {
	defer func() { l.metrics.RecordBooking("cancel", monitoring.Outcome(err, types.CodeOf)) }()

	current, err := l.ownedScheduled(ctx, appointmentID, patientID)
	if err != nil {
		return err
	}

	err = l.uow.Atomic(ctx, []types.LockKey{types.DoctorDayKey(current.DoctorID, current.Date)}, func(repos interfaces.Repositories) error {
		apt, err := repos.Appointments().GetAppointmentByID(ctx, appointmentID)
		if err != nil || !ownedScheduled(apt, patientID) {
			return types.ErrAppointmentNotFound()
		}
		apt.Status = types.StatusCancelled
		return repos.Appointments().UpdateAppointment(ctx, apt)
	})

	l.logger.Audit(patientID, "cancel_appointment", "appointment", err == nil, map[string]interface{}{
		"appointment_id": appointmentID,
	})
	if err != nil {
		return err
	}

	l.invalidate(ctx, current.DoctorID, current.Date)
	return nil
}

// CancelMany cancels every listed appointment that the patient owns and
// that is still scheduled, skipping the rest, and returns how many it
// cancelled
func (l *Ledger) CancelMany(ctx context.Context, appointmentIDs []int64, patientID int64) (cancelled int, err error) {
	defer func() { l.metrics.RecordBooking("cancel_many", monitoring.Outcome(err, types.CodeOf)) }()

	if len(appointmentIDs) == 0 {
		return 0, types.NewValidationError(types.ErrCodeInvalidInput, "No appointments selected", nil)
	}

	var keys []types.LockKey
	touched := make(map[int64][]time.Time)
	for _, id := range appointmentIDs {
		apt, err := l.ownedScheduled(ctx, id, patientID)
		if err != nil {
			continue
		}
		keys = append(keys, types.DoctorDayKey(apt.DoctorID, apt.Date))
		touched[apt.DoctorID] = append(touched[apt.DoctorID], apt.Date)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	err = l.uow.Atomic(ctx, keys, func(repos interfaces.Repositories) error {
		cancelled = 0
		for _, id := range appointmentIDs {
			apt, err := repos.Appointments().GetAppointmentByID(ctx, id)
			if err != nil || !ownedScheduled(apt, patientID) {
				continue
			}
			apt.Status = types.StatusCancelled
			if err := repos.Appointments().UpdateAppointment(ctx, apt); err != nil {
				return err
			}
			cancelled++
		}
		return nil
	})

	l.logger.Audit(patientID, "cancel_appointments", "appointment", err == nil, map[string]interface{}{
		"requested": len(appointmentIDs),
		"cancelled": cancelled,
	})
	if err != nil {
		return 0, err
	}

	for doctorID, dates := range touched {
		l.invalidate(ctx, doctorID, dates...)
	}
	return cancelled, nil
}

// Transition moves an appointment along the status machine on behalf of
// staff
func (l *Ledger) Transition(ctx context.Context, appointmentID int64, to types.AppointmentStatus) (apt *types.Appointment, err error) {
	defer func() { l.metrics.RecordBooking("transition", monitoring.Outcome(err, types.CodeOf)) }()

	if !to.Valid() {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, fmt.Sprintf("Unknown status %q", to), nil)
	}

	current, err := l.uow.Appointments().GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, types.ErrAppointmentNotFound()
	}

	err = l.uow.Atomic(ctx, []types.LockKey{types.DoctorDayKey(current.DoctorID, current.Date)}, func(repos interfaces.Repositories) error {
		apt, err = repos.Appointments().GetAppointmentByID(ctx, appointmentID)
		if err != nil {
			return types.ErrAppointmentNotFound()
		}
		return ApplyTransition(ctx, repos, apt, to)
	})
	if err != nil {
		return nil, err
	}

	l.invalidate(ctx, apt.DoctorID, apt.Date)
	return apt, nil
}

// ApplyTransition moves apt to status to within an open unit of work
func ApplyTransition(ctx context.Context, repos interfaces.Repositories, apt *types.Appointment, to types.AppointmentStatus) error {
	if !apt.Status.CanTransitionTo(to) {
		return types.NewConflictError(types.ErrCodeInvalidTransition,
			fmt.Sprintf("Cannot change appointment from %s to %s", apt.Status, to),
			map[string]interface{}{"appointment_id": apt.ID, "from": apt.Status, "to": to})
	}
	apt.Status = to
	return repos.Appointments().UpdateAppointment(ctx, apt)
}

// AppointmentsForDoctor lists the doctor's appointments in chronological
// order, optionally filtered by status and date range. Storage faults are
// logged and yield an empty list.
func (l *Ledger) AppointmentsForDoctor(ctx context.Context, doctorID int64, status types.AppointmentStatus, dates types.DateRange) []*types.Appointment {
	filters := &types.AppointmentFilters{DoctorID: doctorID, FromDate: dates.From, ToDate: dates.To}
	if status != "" {
		filters.Statuses = []types.AppointmentStatus{status}
	}
	return l.list(ctx, filters)
}

// AppointmentsForPatient lists the patient's appointments newest first
func (l *Ledger) AppointmentsForPatient(ctx context.Context, patientID int64, status types.AppointmentStatus) []*types.Appointment {
	filters := &types.AppointmentFilters{PatientID: patientID, Descending: true}
	if status != "" {
		filters.Statuses = []types.AppointmentStatus{status}
	}
	return l.list(ctx, filters)
}

func (l *Ledger) list(ctx context.Context, filters *types.AppointmentFilters) []*types.Appointment {
	apts, err := l.uow.Appointments().FindAppointments(ctx, filters)
	if err != nil {
		l.logger.WithContext(ctx).WithError(err).Error("Failed to list appointments")
		l.metrics.RecordSystemError("storage", "appointments")
		return []*types.Appointment{}
	}
	if apts == nil {
		apts = []*types.Appointment{}
	}
	return apts
}

// AvailableSlots returns the bookable start times of the doctor's day
func (l *Ledger) AvailableSlots(ctx context.Context, doctorID int64, date time.Time) ([]types.TimeOfDay, error) {
	date = types.DateOf(date)
	if date.Before(l.Today()) {
		return nil, types.NewValidationError(types.ErrCodePastDate, "Cannot view slots for past dates", nil)
	}
	if _, err := l.directory.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	slots, err := l.slots.Slots(ctx, doctorID, date)
	if err != nil {
		l.logger.WithContext(ctx).WithError(err).WithField("doctor_id", doctorID).Error("Failed to compute available slots")
		l.metrics.RecordSystemError("storage", "slots")
		return []types.TimeOfDay{}, nil
	}
	return slots, nil
}

func (l *Ledger) ownedScheduled(ctx context.Context, appointmentID, patientID int64) (*types.Appointment, error) {
	apt, err := l.uow.Appointments().GetAppointmentByID(ctx, appointmentID)
	if err != nil || !ownedScheduled(apt, patientID) {
		return nil, types.ErrAppointmentNotFound()
	}
	return apt, nil
}

func ownedScheduled(apt *types.Appointment, patientID int64) bool {
	return apt.PatientID == patientID && apt.Status == types.StatusScheduled
}

func (l *Ledger) invalidate(ctx context.Context, doctorID int64, dates ...time.Time) {
	if inv, ok := l.slots.(interfaces.SlotInvalidator); ok {
		inv.Invalidate(ctx, doctorID, dates...)
	}
}

func (l *Ledger) notifyBooked(ctx context.Context, doctor *types.Doctor, patient *types.Patient, apt *types.Appointment) {
	payload := bookingPayload(doctor, patient, apt)
	l.notifier.Notify(ctx, patientRecipient(patient), interfaces.NotificationBookingConfirmation, payload)
	l.notifier.Notify(ctx, interfaces.Recipient{
		UserID:   doctor.ID,
		Role:     string(types.RoleDoctor),
		FullName: doctor.FullName,
		Email:    doctor.Email,
	}, interfaces.NotificationNewAppointment, payload)
}

func patientRecipient(p *types.Patient) interfaces.Recipient {
	return interfaces.Recipient{UserID: p.ID, Role: string(types.RolePatient), FullName: p.FullName, Email: p.Email}
}

func bookingPayload(doctor *types.Doctor, patient *types.Patient, apt *types.Appointment) map[string]string {
	return map[string]string{
		"appointment_id": fmt.Sprintf("%d", apt.ID),
		"doctor_name":    doctor.DisplayName(),
		"patient_name":   patient.FullName,
		"specialization": doctor.Specialization,
		"date":           apt.Date.Format(types.DateLayout),
		"time":           apt.StartTime.String(),
		"status":         string(apt.Status),
	}
}
