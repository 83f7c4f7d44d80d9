// Package slots derives bookable appointment start times from a doctor's
// weekly availability, existing bookings and the daily capacity cap.
package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/interfaces"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

// Generate lists the free start times of one availability window.
// booked holds start times already taken; active is the number of active
// appointments that day. The result never exceeds maxDaily-active entries.
func Generate(avail *types.Availability, booked []types.TimeOfDay, active, maxDaily int) []types.TimeOfDay {
	remaining := maxDaily - active
	if avail == nil || avail.SlotDurationMinutes <= 0 || remaining <= 0 {
		return []types.TimeOfDay{}
	}

	taken := make(map[types.TimeOfDay]struct{}, len(booked))
	for _, t := range booked {
		taken[t] = struct{}{}
	}

	out := make([]types.TimeOfDay, 0, remaining)
	for t := avail.StartTime; t.Add(avail.SlotDurationMinutes) <= avail.EndTime; t = t.Add(avail.SlotDurationMinutes) {
		if _, ok := taken[t]; ok {
			continue
		}
		out = append(out, t)
		if len(out) == remaining {
			break
		}
	}
	return out
}

// Generator answers slot queries from the repositories
type Generator struct {
	repos    interfaces.Repositories
	maxDaily int
}

// NewGenerator creates a Generator with the configured daily capacity
func NewGenerator(repos interfaces.Repositories, maxDaily int) *Generator {
	return &Generator{repos: repos, maxDaily: maxDaily}
}

// Slots returns the bookable start times for the doctor on date in
// chronological order. A day without active availability yields an empty
// list and no error.
func (g *Generator) Slots(ctx context.Context, doctorID int64, date time.Time) ([]types.TimeOfDay, error) {
	date = types.DateOf(date)

	avail, err := g.repos.Availability().GetActiveAvailability(ctx, doctorID, types.WeekdayOf(date))
	if types.HasCode(err, types.ErrCodeNoAvailability) {
		return []types.TimeOfDay{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load availability: %w", err)
	}

	active, err := g.repos.Appointments().FindAppointments(ctx, &types.AppointmentFilters{
		DoctorID: doctorID,
		Date:     date,
		Statuses: types.ActiveStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load bookings: %w", err)
	}

	booked := make([]types.TimeOfDay, len(active))
	for i, a := range active {
		booked[i] = a.StartTime
	}
	return Generate(avail, booked, len(active), g.maxDaily), nil
}
