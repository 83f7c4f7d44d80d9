package availability

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/interfaces"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/monitoring"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

// Window is one weekday of a submitted schedule
type Window struct {
	DayOfWeek           types.Weekday   `json:"day_of_week" validate:"required,oneof=MONDAY TUESDAY WEDNESDAY THURSDAY FRIDAY SATURDAY SUNDAY"`
	StartTime           types.TimeOfDay `json:"start_time"`
	EndTime             types.TimeOfDay `json:"end_time"`
	SlotDurationMinutes int             `json:"slot_duration_minutes" validate:"gte=0,lte=480"`
}

// Service manages doctors' recurring weekly availability
type Service struct {
	uow             interfaces.UnitOfWork
	directory       interfaces.Directory
	defaultDuration int
	validate        *validator.Validate
	logger          *logger.Logger
	metrics         *monitoring.MetricsCollector
}

// NewService creates an availability service. Windows submitted without a
// slot duration get defaultDuration.
func NewService(uow interfaces.UnitOfWork, directory interfaces.Directory, defaultDuration int, log *logger.Logger, metrics *monitoring.MetricsCollector) *Service {
	return &Service{
		uow:             uow,
		directory:       directory,
		defaultDuration: defaultDuration,
		validate:        validator.New(),
		logger:          log,
		metrics:         metrics,
	}
}

// ReplaceSchedule replaces the doctor's windows for exactly the submitted
// days. Days not mentioned keep their current window. Either every window
// is stored or none is.
func (s *Service) ReplaceSchedule(ctx context.Context, doctorID int64, windows []Window) ([]*types.Availability, error) {
	ctx, span := monitoring.StartSpan(ctx, "availability", "replace_schedule")
	var err error
	defer func() { monitoring.EndSpan(span, err) }()

	if _, err = s.directory.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	var records []*types.Availability
	records, err = s.buildRecords(doctorID, windows)
	if err != nil {
		return nil, err
	}

	days := make([]types.Weekday, len(records))
	for i, r := range records {
		days[i] = r.DayOfWeek
	}

	err = s.uow.Atomic(ctx, []types.LockKey{types.DoctorScheduleKey(doctorID)}, func(repos interfaces.Repositories) error {
		if err := repos.Availability().DeleteAvailability(ctx, doctorID, days); err != nil {
			return err
		}
		for _, r := range records {
			r.ID = 0
			if err := repos.Availability().CreateAvailability(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})

	s.logger.Audit(doctorID, "replace_schedule", "availability", err == nil, map[string]interface{}{
		"days": days,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replace schedule: %w", err)
	}
	return records, nil
}

func (s *Service) buildRecords(doctorID int64, windows []Window) ([]*types.Availability, error) {
	if len(windows) == 0 {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "At least one availability window is required", nil)
	}

	seen := make(map[types.Weekday]bool, len(windows))
	records := make([]*types.Availability, 0, len(windows))
	for i := range windows {
		w := windows[i]
		if err := s.validate.Struct(w); err != nil {
			return nil, types.NewValidationError(types.ErrCodeInvalidInput, "Invalid availability window", map[string]interface{}{
				"index": i,
				"error": err.Error(),
			})
		}
		if seen[w.DayOfWeek] {
			return nil, types.NewValidationError(types.ErrCodeInvalidInput, fmt.Sprintf("Duplicate window for %s", w.DayOfWeek), nil)
		}
		seen[w.DayOfWeek] = true

		if w.SlotDurationMinutes == 0 {
			w.SlotDurationMinutes = s.defaultDuration
		}
		a := &types.Availability{
			DoctorID:            doctorID,
			DayOfWeek:           w.DayOfWeek,
			StartTime:           w.StartTime,
			EndTime:             w.EndTime,
			SlotDurationMinutes: w.SlotDurationMinutes,
			Active:              true,
		}
		if err := a.Validate(); err != nil {
			return nil, err
		}
		records = append(records, a)
	}

	sortByWeekday(records)
	return records, nil
}

// Schedule lists the doctor's windows ordered Monday to Sunday. Storage
// faults are logged and yield an empty list.
func (s *Service) Schedule(ctx context.Context, doctorID int64) []*types.Availability {
	records, err := s.uow.Availability().ListAvailability(ctx, doctorID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("doctor_id", doctorID).Error("Failed to load schedule")
		s.metrics.RecordSystemError("storage", "availability")
		return []*types.Availability{}
	}
	sortByWeekday(records)
	return records
}

// Deactivate switches off the doctor's window for one weekday without
// deleting it
func (s *Service) Deactivate(ctx context.Context, doctorID int64, day types.Weekday) error {
	if !day.Valid() {
		return types.NewValidationError(types.ErrCodeInvalidInput, fmt.Sprintf("unknown day of week %q", day), nil)
	}

	var changed int64
	err := s.uow.Atomic(ctx, []types.LockKey{types.DoctorScheduleKey(doctorID)}, func(repos interfaces.Repositories) error {
		var err error
		changed, err = repos.Availability().SetAvailabilityActive(ctx, doctorID, day, false)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to deactivate availability: %w", err)
	}
	if changed == 0 {
		return types.NewNotFoundError(types.ErrCodeNoAvailability, fmt.Sprintf("No availability on %s", day))
	}

	s.logger.Audit(doctorID, "deactivate_availability", "availability", true, map[string]interface{}{"day": day})
	return nil
}

func sortByWeekday(records []*types.Availability) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].DayOfWeek.Index() < records[j].DayOfWeek.Index()
	})
}
