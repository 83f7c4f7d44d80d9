// Package queue runs the per-doctor, per-day patient queue. Positions are
// dense: the entries of a queue always hold positions 1..N with no gaps or
// duplicates, whatever their status.
package queue

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/appointments"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/interfaces"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/monitoring"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

// Config holds queue tuning. Slots, when set, is told whenever a queue
// operation takes an appointment out of the active set.
type Config struct {
	WaitMinutesPerPosition int
	Location               *time.Location
	Now                    func() time.Time
	Slots                  interfaces.SlotInvalidator
}

// ops that move an appointment out of SCHEDULED/CHECKED_IN
var releasesSlot = map[string]bool{
	"call_next":          true,
	"start_consultation": true,
	"no_show":            true,
}

// Service manages queues and their entries
type Service struct {
	uow       interfaces.UnitOfWork
	directory interfaces.Directory
	wait      int
	location  *time.Location
	now       func() time.Time
	slots     interfaces.SlotInvalidator
	logger    *logger.Logger
	metrics   *monitoring.MetricsCollector
}

// NewService creates a queue service
func NewService(uow interfaces.UnitOfWork, directory interfaces.Directory, cfg Config, log *logger.Logger, metrics *monitoring.MetricsCollector) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		uow:       uow,
		directory: directory,
		wait:      cfg.WaitMinutesPerPosition,
		location:  cfg.Location,
		now:       cfg.Now,
		slots:     cfg.Slots,
		logger:    log,
		metrics:   metrics,
	}
}

// Today returns the clinic's current calendar date
func (s *Service) Today() time.Time {
	return types.DateOf(s.now().In(s.location))
}

// Now returns the current instant
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// GetOrCreate returns the doctor's queue for date, creating it on first use
func (s *Service) GetOrCreate(ctx context.Context, doctorID int64, date time.Time) (*types.Queue, error) {
	date = types.DateOf(date)
	return s.uow.Queues().GetOrCreateQueue(ctx, doctorID, date, types.EncodeQueueCode(doctorID, date))
}

// GetOrCreateWith is GetOrCreate inside an open unit of work
func (s *Service) GetOrCreateWith(ctx context.Context, repos interfaces.Repositories, doctorID int64, date time.Time) (*types.Queue, error) {
	date = types.DateOf(date)
	return repos.Queues().GetOrCreateQueue(ctx, doctorID, date, types.EncodeQueueCode(doctorID, date))
}

// ForNurse returns today's queue of the doctor the nurse is assigned to
func (s *Service) ForNurse(ctx context.Context, nurseID int64) (*types.Queue, error) {
	doctor, err := s.directory.AssignedDoctor(ctx, nurseID)
	if err != nil {
		return nil, err
	}
	return s.GetOrCreate(ctx, doctor.ID, s.Today())
}

// Queue returns a queue by id
func (s *Service) Queue(ctx context.Context, queueID int64) (*types.Queue, error) {
	return s.uow.Queues().GetQueueByID(ctx, queueID)
}

// Enqueue appends the patient to the end of the queue
func (s *Service) Enqueue(ctx context.Context, queueID, patientID int64) (entry *types.QueueEntry, err error) {
	defer func() { s.metrics.RecordQueueOperation("enqueue", monitoring.Outcome(err, types.CodeOf)) }()

	if _, err = s.directory.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}

	err = s.mutate(ctx, queueID, "enqueue", func(repos interfaces.Repositories, q *types.Queue) error {
		entry, err = s.EnqueueWith(ctx, repos, q, patientID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// EnqueueWith appends the patient inside an open unit of work that holds
// the queue's doctor-day key
func (s *Service) EnqueueWith(ctx context.Context, repos interfaces.Repositories, q *types.Queue, patientID int64, viaCode bool) (*types.QueueEntry, error) {
	if _, err := repos.Queues().FindPatientEntry(ctx, q.ID, patientID); err == nil {
		return nil, types.ErrAlreadyQueued(q.ID, patientID)
	} else if !types.HasCode(err, types.ErrCodeNotFound) {
		return nil, err
	}

	last, err := repos.Queues().MaxPosition(ctx, q.ID)
	if err != nil {
		return nil, err
	}

	entry := &types.QueueEntry{
		QueueID:              q.ID,
		PatientID:            patientID,
		Position:             last + 1,
		Status:               types.EntryWaiting,
		CheckInTime:          s.Now(),
		CheckedInViaCode:     viaCode,
		EstimatedWaitMinutes: (last + 1) * s.wait,
	}
	if err := repos.Queues().CreateEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// CallNext starts the consultation of the first waiting entry. Only one
// consultation per queue may be in progress.
func (s *Service) CallNext(ctx context.Context, queueID int64) (entry *types.QueueEntry, err error) {
	defer func() { s.metrics.RecordQueueOperation("call_next", monitoring.Outcome(err, types.CodeOf)) }()

	err = s.mutate(ctx, queueID, "call_next", func(repos interfaces.Repositories, q *types.Queue) error {
		entries, err := repos.Queues().ListEntries(ctx, q.ID)
		if err != nil {
			return err
		}
		if current := inProgress(entries); current != nil {
			return consultationInProgress(current)
		}
		for _, e := range entries {
			if e.Status.IsWaiting() {
				entry = e
				return s.start(ctx, repos, q, entry)
			}
		}
		return types.NewConflictError(types.ErrCodeQueueEmpty, "No patients waiting in queue", nil)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// StartConsultation starts the consultation of a specific waiting entry
func (s *Service) StartConsultation(ctx context.Context, entryID int64) (entry *types.QueueEntry, err error) {
	defer func() { s.metrics.RecordQueueOperation("start_consultation", monitoring.Outcome(err, types.CodeOf)) }()

	err = s.mutateEntry(ctx, entryID, "start_consultation", func(repos interfaces.Repositories, q *types.Queue, e *types.QueueEntry) error {
		if !e.Status.IsWaiting() {
			return invalidState(e, "start a consultation for")
		}
		entries, err := repos.Queues().ListEntries(ctx, q.ID)
		if err != nil {
			return err
		}
		if current := inProgress(entries); current != nil {
			return consultationInProgress(current)
		}
		entry = e
		return s.start(ctx, repos, q, e)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) start(ctx context.Context, repos interfaces.Repositories, q *types.Queue, e *types.QueueEntry) error {
	now := s.Now()
	e.Status = types.EntryInProgress
	e.ConsultationStartTime = &now
	if err := repos.Queues().UpdateEntry(ctx, e); err != nil {
		return err
	}
	return s.followAppointment(ctx, repos, q, e.PatientID, types.StatusCheckedIn, types.StatusInProgress)
}

// EndConsultation closes the entry's consultation and completes the
// matching appointment
func (s *Service) EndConsultation(ctx context.Context, entryID int64) (entry *types.QueueEntry, err error) {
	defer func() { s.metrics.RecordQueueOperation("end_consultation", monitoring.Outcome(err, types.CodeOf)) }()

	err = s.mutateEntry(ctx, entryID, "end_consultation", func(repos interfaces.Repositories, q *types.Queue, e *types.QueueEntry) error {
		if e.Status != types.EntryInProgress {
			return invalidState(e, "end the consultation of")
		}
		now := s.Now()
		e.Status = types.EntryTerminated
		e.ConsultationEndTime = &now
		if err := repos.Queues().UpdateEntry(ctx, e); err != nil {
			return err
		}
		entry = e
		return s.followAppointment(ctx, repos, q, e.PatientID, types.StatusInProgress, types.StatusCompleted)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// MarkNoShow marks a waiting entry and the patient's active appointment as
// no-show
func (s *Service) MarkNoShow(ctx context.Context, entryID int64) (entry *types.QueueEntry, err error) {
	defer func() { s.metrics.RecordQueueOperation("no_show", monitoring.Outcome(err, types.CodeOf)) }()

	err = s.mutateEntry(ctx, entryID, "no_show", func(repos interfaces.Repositories, q *types.Queue, e *types.QueueEntry) error {
		if !e.Status.IsWaiting() {
			return invalidState(e, "mark as no-show")
		}
		e.Status = types.EntryNoShow
		if err := repos.Queues().UpdateEntry(ctx, e); err != nil {
			return err
		}
		entry = e

		apts, err := repos.Appointments().FindAppointments(ctx, &types.AppointmentFilters{
			PatientID: e.PatientID,
			DoctorID:  q.DoctorID,
			Date:      q.Date,
			Statuses:  types.ActiveStatuses,
		})
		if err != nil {
			return err
		}
		for _, apt := range apts {
			if err := appointments.ApplyTransition(ctx, repos, apt, types.StatusNoShow); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PromoteToEmergency moves a waiting entry to position 1 and shifts the
// entries that were ahead of it back by one
func (s *Service) PromoteToEmergency(ctx context.Context, entryID int64) (entry *types.QueueEntry, err error) {
	defer func() { s.metrics.RecordQueueOperation("promote", monitoring.Outcome(err, types.CodeOf)) }()

	err = s.mutateEntry(ctx, entryID, "promote", func(repos interfaces.Repositories, q *types.Queue, e *types.QueueEntry) error {
		if !e.Status.IsWaiting() {
			return invalidState(e, "promote")
		}
		if _, err := repos.Queues().ShiftPositions(ctx, q.ID, 1, e.Position-1, 1, s.wait); err != nil {
			return err
		}
		e.Position = 1
		e.Status = types.EntryEmergency
		e.IsEmergency = true
		e.EstimatedWaitMinutes = s.wait
		entry = e
		return repos.Queues().UpdateEntry(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Reposition moves a waiting entry to newPosition, shifting the entries in
// between by one towards the vacated position
func (s *Service) Reposition(ctx context.Context, entryID int64, newPosition int) (entry *types.QueueEntry, err error) {
	defer func() { s.metrics.RecordQueueOperation("reposition", monitoring.Outcome(err, types.CodeOf)) }()

	err = s.mutateEntry(ctx, entryID, "reposition", func(repos interfaces.Repositories, q *types.Queue, e *types.QueueEntry) error {
		if !e.Status.IsWaiting() {
			return invalidState(e, "reposition")
		}
		size, err := repos.Queues().MaxPosition(ctx, q.ID)
		if err != nil {
			return err
		}
		if newPosition < 1 || newPosition > size {
			return types.NewValidationError(types.ErrCodeInvalidPosition,
				fmt.Sprintf("Position must be between 1 and %d", size),
				map[string]interface{}{"position": newPosition, "size": size})
		}

		old := e.Position
		switch {
		case newPosition < old:
			_, err = repos.Queues().ShiftPositions(ctx, q.ID, newPosition, old-1, 1, s.wait)
		case newPosition > old:
			_, err = repos.Queues().ShiftPositions(ctx, q.ID, old+1, newPosition, -1, s.wait)
		}
		if err != nil {
			return err
		}

		e.Position = newPosition
		e.EstimatedWaitMinutes = newPosition * s.wait
		entry = e
		return repos.Queues().UpdateEntry(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AllEntries lists every entry of the queue by position
func (s *Service) AllEntries(ctx context.Context, queueID int64) []*types.QueueEntry {
	entries, err := s.uow.Queues().ListEntries(ctx, queueID)
	if err != nil {
		s.readFailed(ctx, err, queueID)
		return []*types.QueueEntry{}
	}
	if entries == nil {
		entries = []*types.QueueEntry{}
	}
	return entries
}

// WaitingEntries lists the entries still waiting to be seen, by position.
// EMERGENCY entries are waiting too and are included alongside WAITING.
func (s *Service) WaitingEntries(ctx context.Context, queueID int64) []*types.QueueEntry {
	waiting := []*types.QueueEntry{}
	for _, e := range s.AllEntries(ctx, queueID) {
		if e.Status.IsWaiting() {
			waiting = append(waiting, e)
		}
	}
	return waiting
}

// CurrentEntry returns the entry in consultation, or nil
func (s *Service) CurrentEntry(ctx context.Context, queueID int64) *types.QueueEntry {
	return inProgress(s.AllEntries(ctx, queueID))
}

// Statistics counts the queue's entries by status
func (s *Service) Statistics(ctx context.Context, queueID int64) *types.QueueStatistics {
	stats := &types.QueueStatistics{}
	for _, e := range s.AllEntries(ctx, queueID) {
		stats.Total++
		switch e.Status {
		case types.EntryWaiting:
			stats.Waiting++
		case types.EntryEmergency:
			stats.Emergency++
		case types.EntryInProgress:
			stats.InProgress++
		case types.EntryTerminated:
			stats.Completed++
		case types.EntryNoShow:
			stats.NoShow++
		}
	}
	return stats
}

// PatientStatus finds the patient's entry in today's queues. It returns a
// NOT_FOUND error when the patient is not queued today.
func (s *Service) PatientStatus(ctx context.Context, patientID int64) (*types.PatientQueueStatus, error) {
	today := s.Today()
	apts, err := s.uow.Appointments().FindAppointments(ctx, &types.AppointmentFilters{PatientID: patientID, Date: today})
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	for _, apt := range apts {
		if seen[apt.DoctorID] {
			continue
		}
		seen[apt.DoctorID] = true

		q, err := s.uow.Queues().GetQueue(ctx, apt.DoctorID, today)
		if types.HasCode(err, types.ErrCodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entry, err := s.uow.Queues().FindPatientEntry(ctx, q.ID, patientID)
		if types.HasCode(err, types.ErrCodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.statusOf(ctx, q, entry)
	}
	return nil, types.ErrEntryNotFound()
}

func (s *Service) statusOf(ctx context.Context, q *types.Queue, entry *types.QueueEntry) (*types.PatientQueueStatus, error) {
	status := &types.PatientQueueStatus{Entry: entry, Queue: q}

	if entry.Status.IsWaiting() {
		for _, e := range s.AllEntries(ctx, q.ID) {
			if e.Status.IsWaiting() && e.Position < entry.Position {
				status.PeopleAhead++
			}
		}
	}

	seen, err := s.uow.Appointments().CountAppointments(ctx, &types.AppointmentFilters{
		DoctorID: q.DoctorID,
		Date:     q.Date,
		Statuses: []types.AppointmentStatus{types.StatusCheckedIn, types.StatusInProgress, types.StatusCompleted},
	})
	if err != nil {
		return nil, err
	}
	status.DoctorCheckedIn = seen > 0
	return status, nil
}

// mutate runs fn in a unit of work serialized on the queue's doctor-day
func (s *Service) mutate(ctx context.Context, queueID int64, op string, fn func(interfaces.Repositories, *types.Queue) error) (err error) {
	ctx, span := monitoring.StartSpan(ctx, "queue", op, attribute.Int64("queue_id", queueID))
	defer func() { monitoring.EndSpan(span, err) }()

	q, err := s.uow.Queues().GetQueueByID(ctx, queueID)
	if err != nil {
		return err
	}
	err = s.uow.Atomic(ctx, []types.LockKey{types.DoctorDayKey(q.DoctorID, q.Date)}, func(repos interfaces.Repositories) error {
		return fn(repos, q)
	})
	if err == nil && releasesSlot[op] && s.slots != nil {
		s.slots.Invalidate(ctx, q.DoctorID, q.Date)
	}
	return err
}

// mutateEntry is mutate for an operation on one entry; the entry is re-read
// inside the unit of work
func (s *Service) mutateEntry(ctx context.Context, entryID int64, op string, fn func(interfaces.Repositories, *types.Queue, *types.QueueEntry) error) error {
	e, err := s.uow.Queues().GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	return s.mutate(ctx, e.QueueID, op, func(repos interfaces.Repositories, q *types.Queue) error {
		e, err := repos.Queues().GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		return fn(repos, q, e)
	})
}

// followAppointment moves the patient's appointment of the queue's day from
// one status to the next, if there is one in the expected status
func (s *Service) followAppointment(ctx context.Context, repos interfaces.Repositories, q *types.Queue, patientID int64, from, to types.AppointmentStatus) error {
	apts, err := repos.Appointments().FindAppointments(ctx, &types.AppointmentFilters{
		PatientID: patientID,
		DoctorID:  q.DoctorID,
		Date:      q.Date,
		Statuses:  []types.AppointmentStatus{from},
	})
	if err != nil || len(apts) == 0 {
		return err
	}
	return appointments.ApplyTransition(ctx, repos, apts[0], to)
}

func (s *Service) readFailed(ctx context.Context, err error, queueID int64) {
	s.logger.WithContext(ctx).WithError(err).WithField("queue_id", queueID).Error("Failed to read queue")
	s.metrics.RecordSystemError("storage", "queue")
}

func inProgress(entries []*types.QueueEntry) *types.QueueEntry {
	for _, e := range entries {
		if e.Status == types.EntryInProgress {
			return e
		}
	}
	return nil
}

func consultationInProgress(current *types.QueueEntry) error {
	return types.NewConflictError(types.ErrCodeConsultationInProgress,
		"Please end the current consultation before calling the next patient",
		map[string]interface{}{"entry_id": current.ID, "patient_id": current.PatientID})
}

func invalidState(e *types.QueueEntry, action string) error {
	return types.NewConflictError(types.ErrCodeInvalidState,
		fmt.Sprintf("Cannot %s an entry that is %s", action, e.Status),
		map[string]interface{}{"entry_id": e.ID, "status": e.Status})
}
