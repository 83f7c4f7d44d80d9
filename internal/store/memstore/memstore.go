// Package memstore keeps the scheduling state in process memory. Atomic
// units of work run one at a time against a private copy of the state that
// replaces the live state only when the unit succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/interfaces"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

type state struct {
	nextID       int64
	availability map[int64]*types.Availability
	appointments map[int64]*types.Appointment
	queues       map[int64]*types.Queue
	entries      map[int64]*types.QueueEntry
}

func newState() *state {
	return &state{
		availability: make(map[int64]*types.Availability),
		appointments: make(map[int64]*types.Appointment),
		queues:       make(map[int64]*types.Queue),
		entries:      make(map[int64]*types.QueueEntry),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for id, a := range s.availability {
		v := *a
		c.availability[id] = &v
	}
	for id, a := range s.appointments {
		c.appointments[id] = a.Clone()
	}
	for id, q := range s.queues {
		v := *q
		c.queues[id] = &v
	}
	for id, e := range s.entries {
		c.entries[id] = e.Clone()
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store is an in-memory interfaces.UnitOfWork
type Store struct {
	mu sync.Mutex
	st *state
	repos
}

// New creates an empty store
func New() *Store {
	s := &Store{st: newState()}
	s.repos = repos{store: s}
	return s
}

// Atomic implements interfaces.UnitOfWork
func (s *Store) Atomic(ctx context.Context, _ []types.LockKey, fn func(interfaces.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(repos{store: s, tx: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type repos struct {
	store *Store
	// tx is set inside Atomic; the store mutex is already held
	tx *state
}

func (r repos) with(fn func(st *state) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.st)
}

func (r repos) Availability() interfaces.AvailabilityRepository { return availabilityRepo{r} }
func (r repos) Appointments() interfaces.AppointmentRepository  { return appointmentRepo{r} }
func (r repos) Queues() interfaces.QueueRepository              { return queueRepo{r} }

type availabilityRepo struct{ repos }

func (r availabilityRepo) GetActiveAvailability(_ context.Context, doctorID int64, day types.Weekday) (*types.Availability, error) {
	var out *types.Availability
	err := r.with(func(st *state) error {
		for _, a := range st.availability {
			if a.DoctorID == doctorID && a.DayOfWeek == day && a.Active {
				v := *a
				out = &v
				return nil
			}
		}
		return types.NewNotFoundError(types.ErrCodeNoAvailability, "No availability on "+string(day))
	})
	return out, err
}

func (r availabilityRepo) ListAvailability(_ context.Context, doctorID int64) ([]*types.Availability, error) {
	var out []*types.Availability
	err := r.with(func(st *state) error {
		for _, a := range st.availability {
			if a.DoctorID == doctorID {
				v := *a
				out = append(out, &v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r availabilityRepo) DeleteAvailability(_ context.Context, doctorID int64, days []types.Weekday) error {
	return r.with(func(st *state) error {
		for id, a := range st.availability {
			if a.DoctorID != doctorID {
				continue
			}
			for _, d := range days {
				if a.DayOfWeek == d {
					delete(st.availability, id)
					break
				}
			}
		}
		return nil
	})
}

func (r availabilityRepo) CreateAvailability(_ context.Context, a *types.Availability) error {
	return r.with(func(st *state) error {
		if a.Active {
			for _, other := range st.availability {
				if other.DoctorID == a.DoctorID && other.DayOfWeek == a.DayOfWeek && other.Active {
					return types.NewConflictError(types.ErrCodeInvalidInput, "Doctor already has an active window on "+string(a.DayOfWeek), nil)
				}
			}
		}
		a.ID = st.id()
		v := *a
		st.availability[a.ID] = &v
		return nil
	})
}

func (r availabilityRepo) SetAvailabilityActive(_ context.Context, doctorID int64, day types.Weekday, active bool) (int64, error) {
	var n int64
	err := r.with(func(st *state) error {
		for _, a := range st.availability {
			if a.DoctorID == doctorID && a.DayOfWeek == day {
				a.Active = active
				n++
			}
		}
		return nil
	})
	return n, err
}

type appointmentRepo struct{ repos }

func slotHeld(st *state, a *types.Appointment) bool {
	if !a.Status.IsActive() {
		return false
	}
	for _, other := range st.appointments {
		if other.ID != a.ID && other.Status.IsActive() && other.DoctorID == a.DoctorID &&
			other.Date.Equal(a.Date) && other.StartTime == a.StartTime {
			return true
		}
	}
	return false
}

func (r appointmentRepo) CreateAppointment(_ context.Context, a *types.Appointment) error {
	return r.with(func(st *state) error {
		a.Date = types.DateOf(a.Date)
		if slotHeld(st, a) {
			return types.ErrSlotTaken(a.DoctorID, a.Date, a.StartTime)
		}
		now := time.Now().UTC()
		a.ID = st.id()
		a.CreatedAt, a.UpdatedAt = now, now
		st.appointments[a.ID] = a.Clone()
		return nil
	})
}

func (r appointmentRepo) GetAppointmentByID(_ context.Context, id int64) (*types.Appointment, error) {
	var out *types.Appointment
	err := r.with(func(st *state) error {
		a, ok := st.appointments[id]
		if !ok {
			return types.ErrAppointmentNotFound()
		}
		out = a.Clone()
		return nil
	})
	return out, err
}

func (r appointmentRepo) UpdateAppointment(_ context.Context, a *types.Appointment) error {
	return r.with(func(st *state) error {
		if _, ok := st.appointments[a.ID]; !ok {
			return types.ErrAppointmentNotFound()
		}
		a.Date = types.DateOf(a.Date)
		if slotHeld(st, a) {
			return types.ErrSlotTaken(a.DoctorID, a.Date, a.StartTime)
		}
		a.UpdatedAt = time.Now().UTC()
		st.appointments[a.ID] = a.Clone()
		return nil
	})
}

func matches(a *types.Appointment, f *types.AppointmentFilters) bool {
	if f.PatientID != 0 && a.PatientID != f.PatientID {
		return false
	}
	if f.DoctorID != 0 && a.DoctorID != f.DoctorID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Date.IsZero() && !types.SameDate(a.Date, f.Date) {
		return false
	}
	if !f.FromDate.IsZero() && a.Date.Before(types.DateOf(f.FromDate)) {
		return false
	}
	if !f.ToDate.IsZero() && a.Date.After(types.DateOf(f.ToDate)) {
		return false
	}
	if f.StartTime != nil && a.StartTime != *f.StartTime {
		return false
	}
	if f.ExcludeID != 0 && a.ID == f.ExcludeID {
		return false
	}
	return true
}

func chronological(a, b *types.Appointment) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if a.StartTime != b.StartTime {
		return a.StartTime < b.StartTime
	}
	return a.ID < b.ID
}

func (r appointmentRepo) FindAppointments(_ context.Context, f *types.AppointmentFilters) ([]*types.Appointment, error) {
	var out []*types.Appointment
	err := r.with(func(st *state) error {
		for _, a := range st.appointments {
			if matches(a, f) {
				out = append(out, a.Clone())
			}
		}
		return nil
	})

	sort.Slice(out, func(i, j int) bool {
		if f.Descending {
			return chronological(out[j], out[i])
		}
		return chronological(out[i], out[j])
	})
	return out, err
}

func (r appointmentRepo) CountAppointments(_ context.Context, f *types.AppointmentFilters) (int, error) {
	n := 0
	err := r.with(func(st *state) error {
		for _, a := range st.appointments {
			if matches(a, f) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r appointmentRepo) UpdateAppointmentStatuses(_ context.Context, doctorID int64, date time.Time, from, to types.AppointmentStatus) (int64, error) {
	var n int64
	err := r.with(func(st *state) error {
		now := time.Now().UTC()
		for _, a := range st.appointments {
			if a.DoctorID == doctorID && types.SameDate(a.Date, date) && a.Status == from {
				a.Status = to
				a.UpdatedAt = now
				n++
			}
		}
		return nil
	})
	return n, err
}

type queueRepo struct{ repos }

func (r queueRepo) GetOrCreateQueue(_ context.Context, doctorID int64, date time.Time, code string) (*types.Queue, error) {
	var out *types.Queue
	err := r.with(func(st *state) error {
		date = types.DateOf(date)
		for _, q := range st.queues {
			if q.DoctorID == doctorID && q.Date.Equal(date) {
				v := *q
				out = &v
				return nil
			}
		}
		now := time.Now().UTC()
		q := &types.Queue{ID: st.id(), DoctorID: doctorID, Date: date, Code: code, CreatedAt: now, UpdatedAt: now}
		st.queues[q.ID] = q
		v := *q
		out = &v
		return nil
	})
	return out, err
}

func (r queueRepo) GetQueue(_ context.Context, doctorID int64, date time.Time) (*types.Queue, error) {
	var out *types.Queue
	err := r.with(func(st *state) error {
		for _, q := range st.queues {
			if q.DoctorID == doctorID && types.SameDate(q.Date, date) {
				v := *q
				out = &v
				return nil
			}
		}
		return types.NewNotFoundError(types.ErrCodeNotFound, "Queue not found")
	})
	return out, err
}

func (r queueRepo) GetQueueByID(_ context.Context, id int64) (*types.Queue, error) {
	var out *types.Queue
	err := r.with(func(st *state) error {
		q, ok := st.queues[id]
		if !ok {
			return types.NewNotFoundError(types.ErrCodeNotFound, "Queue not found")
		}
		v := *q
		out = &v
		return nil
	})
	return out, err
}

func (r queueRepo) ListEntries(_ context.Context, queueID int64) ([]*types.QueueEntry, error) {
	var out []*types.QueueEntry
	err := r.with(func(st *state) error {
		for _, e := range st.entries {
			if e.QueueID == queueID {
				out = append(out, e.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, err
}

func (r queueRepo) GetEntry(_ context.Context, id int64) (*types.QueueEntry, error) {
	var out *types.QueueEntry
	err := r.with(func(st *state) error {
		e, ok := st.entries[id]
		if !ok {
			return types.ErrEntryNotFound()
		}
		out = e.Clone()
		return nil
	})
	return out, err
}

func (r queueRepo) FindPatientEntry(_ context.Context, queueID, patientID int64) (*types.QueueEntry, error) {
	var out *types.QueueEntry
	err := r.with(func(st *state) error {
		for _, e := range st.entries {
			if e.QueueID == queueID && e.PatientID == patientID {
				out = e.Clone()
				return nil
			}
		}
		return types.ErrEntryNotFound()
	})
	return out, err
}

func (r queueRepo) MaxPosition(_ context.Context, queueID int64) (int, error) {
	max := 0
	err := r.with(func(st *state) error {
		for _, e := range st.entries {
			if e.QueueID == queueID && e.Position > max {
				max = e.Position
			}
		}
		return nil
	})
	return max, err
}

func (r queueRepo) CreateEntry(_ context.Context, e *types.QueueEntry) error {
	return r.with(func(st *state) error {
		for _, other := range st.entries {
			if other.QueueID == e.QueueID && other.PatientID == e.PatientID {
				return types.ErrAlreadyQueued(e.QueueID, e.PatientID)
			}
		}
		e.ID = st.id()
		st.entries[e.ID] = e.Clone()
		return nil
	})
}

func (r queueRepo) UpdateEntry(_ context.Context, e *types.QueueEntry) error {
	return r.with(func(st *state) error {
		if _, ok := st.entries[e.ID]; !ok {
			return types.ErrEntryNotFound()
		}
		st.entries[e.ID] = e.Clone()
		return nil
	})
}

func (r queueRepo) ShiftPositions(_ context.Context, queueID int64, from, to, delta, minutesPerPosition int) (int64, error) {
	var n int64
	err := r.with(func(st *state) error {
		for _, e := range st.entries {
			if e.QueueID == queueID && e.Position >= from && e.Position <= to {
				e.Position += delta
				e.EstimatedWaitMinutes = e.Position * minutesPerPosition
				n++
			}
		}
		return nil
	})
	return n, err
}
