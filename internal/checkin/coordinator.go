// Package checkin turns a scanned queue code into a patient or doctor
// check-in
package checkin

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/appointments"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/queue"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/interfaces"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/monitoring"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

// Coordinator processes check-in codes
type Coordinator struct {
	uow       interfaces.UnitOfWork
	directory interfaces.Directory
	queues    *queue.Service
	logger    *logger.Logger
	metrics   *monitoring.MetricsCollector
}

// NewCoordinator creates a Coordinator
func NewCoordinator(uow interfaces.UnitOfWork, directory interfaces.Directory, queues *queue.Service, log *logger.Logger, metrics *monitoring.MetricsCollector) *Coordinator {
	return &Coordinator{
		uow:       uow,
		directory: directory,
		queues:    queues,
		logger:    log,
		metrics:   metrics,
	}
}

// ProcessCheckIn checks the identity in against the queue named by code.
// Every outcome, failures included, is reported in the result.
func (c *Coordinator) ProcessCheckIn(ctx context.Context, identity types.Identity, code string) *types.CheckInResult {
	ctx, span := monitoring.StartSpan(ctx, "checkin", "process",
		attribute.String("role", string(identity.Role)),
		attribute.Int64("user_id", identity.ID))

	result, err := c.process(ctx, identity, code)

	monitoring.EndSpan(span, err)
	c.metrics.RecordCheckIn(string(identity.Role), monitoring.Outcome(err, types.CodeOf))
	c.logger.Audit(identity.ID, "check_in", "queue", err == nil, map[string]interface{}{
		"role": identity.Role,
		"code": types.CodeOf(err),
	})

	if err != nil {
		return failure(err)
	}
	return result
}

func (c *Coordinator) process(ctx context.Context, identity types.Identity, code string) (*types.CheckInResult, error) {
	doctorID, date, err := types.DecodeQueueCode(code)
	if err != nil {
		return nil, err
	}

	doctor, err := c.directory.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	switch identity.Role {
	case types.RolePatient:
		return c.patientCheckIn(ctx, identity.ID, doctor, date)
	case types.RoleDoctor:
		return c.doctorCheckIn(ctx, identity.ID, doctor, date)
	default:
		return nil, types.NewValidationError(types.ErrCodeUnsupportedRole,
			fmt.Sprintf("Check-in is not available for role %s", identity.Role), nil)
	}
}

// patientCheckIn queues the patient and moves their scheduled appointment
// to CHECKED_IN in one unit of work
func (c *Coordinator) patientCheckIn(ctx context.Context, patientID int64, doctor *types.Doctor, date time.Time) (*types.CheckInResult, error) {
	var entry *types.QueueEntry
	var size int

	keys := []types.LockKey{types.DoctorDayKey(doctor.ID, date), types.PatientDayKey(patientID, date)}
	err := c.uow.Atomic(ctx, keys, func(repos interfaces.Repositories) error {
		q, err := c.queues.GetOrCreateWith(ctx, repos, doctor.ID, date)
		if err != nil {
			return err
		}

		apts, err := repos.Appointments().FindAppointments(ctx, &types.AppointmentFilters{
			PatientID: patientID,
			DoctorID:  doctor.ID,
			Date:      date,
			Statuses:  []types.AppointmentStatus{types.StatusScheduled},
		})
		if err != nil {
			return err
		}
		if len(apts) == 0 {
			return types.NewNotFoundError(types.ErrCodeNoAppointment,
				fmt.Sprintf("No scheduled appointment with %s on this date", doctor.DisplayName()))
		}

		if _, err := repos.Queues().FindPatientEntry(ctx, q.ID, patientID); err == nil {
			return types.NewConflictError(types.ErrCodeAlreadyCheckedIn, "You are already checked in to this queue", nil)
		} else if !types.HasCode(err, types.ErrCodeNotFound) {
			return err
		}

		entry, err = c.queues.EnqueueWith(ctx, repos, q, patientID, true)
		if err != nil {
			return err
		}
		if err := appointments.ApplyTransition(ctx, repos, apts[0], types.StatusCheckedIn); err != nil {
			return err
		}

		size, err = queueSize(ctx, repos, q.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &types.CheckInResult{
		Success: true,
		Message: fmt.Sprintf("Checked in for %s. Your position in the queue is %d.", doctor.DisplayName(), entry.Position),
		Data: map[string]interface{}{
			"queue_id":               entry.QueueID,
			"entry_id":               entry.ID,
			"position":               entry.Position,
			"estimated_wait_minutes": entry.EstimatedWaitMinutes,
			"queue_size":             size,
			"doctor_name":            doctor.DisplayName(),
		},
	}, nil
}

// doctorCheckIn opens the doctor's day: every scheduled appointment of the
// day moves to CHECKED_IN
func (c *Coordinator) doctorCheckIn(ctx context.Context, userID int64, doctor *types.Doctor, date time.Time) (*types.CheckInResult, error) {
	if userID != doctor.ID {
		return nil, types.NewValidationError(types.ErrCodeWrongDoctor, "This QR code belongs to another doctor", nil)
	}

	var q *types.Queue
	var updated int64
	var size int

	err := c.uow.Atomic(ctx, []types.LockKey{types.DoctorDayKey(doctor.ID, date)}, func(repos interfaces.Repositories) error {
		var err error
		q, err = c.queues.GetOrCreateWith(ctx, repos, doctor.ID, date)
		if err != nil {
			return err
		}

		scheduled, err := repos.Appointments().CountAppointments(ctx, &types.AppointmentFilters{
			DoctorID: doctor.ID,
			Date:     date,
			Statuses: []types.AppointmentStatus{types.StatusScheduled},
		})
		if err != nil {
			return err
		}
		if scheduled == 0 {
			return types.NewNotFoundError(types.ErrCodeNoConsultations, "No scheduled consultations for this date")
		}

		updated, err = repos.Appointments().UpdateAppointmentStatuses(ctx, doctor.ID, date, types.StatusScheduled, types.StatusCheckedIn)
		if err != nil {
			return err
		}

		size, err = queueSize(ctx, repos, q.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &types.CheckInResult{
		Success: true,
		Message: fmt.Sprintf("Checked in %d appointment(s) for %s", updated, date.Format(types.DateLayout)),
		Data: map[string]interface{}{
			"queue_id":   q.ID,
			"checked_in": updated,
			"queue_size": size,
		},
	}, nil
}

// queueSize counts every entry of the queue, served ones included
func queueSize(ctx context.Context, repos interfaces.Repositories, queueID int64) (int, error) {
	entries, err := repos.Queues().ListEntries(ctx, queueID)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func failure(err error) *types.CheckInResult {
	ce, ok := types.AsClinicError(err)
	if !ok {
		return &types.CheckInResult{
			Code:    types.ErrCodeInternalError,
			Message: "Check-in failed, please try again",
			Data:    map[string]interface{}{},
		}
	}
	data := map[string]interface{}{}
	for k, v := range ce.Details {
		data[k] = v
	}
	return &types.CheckInResult{Code: ce.Code, Message: ce.Message, Data: data}
}
