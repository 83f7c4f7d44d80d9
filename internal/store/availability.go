package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

const availabilityTable = "doctor_availability"

var availabilityColumns = []interface{}{
	"id", "doctor_id", "day_of_week", "start_time", "end_time", "slot_duration_minutes", "is_active",
}

type availabilityRepo struct {
	q querier
}

func scanAvailability(row interface{ Scan(...interface{}) error }) (*types.Availability, error) {
	a := &types.Availability{}
	err := row.Scan(&a.ID, &a.DoctorID, &a.DayOfWeek, &a.StartTime, &a.EndTime, &a.SlotDurationMinutes, &a.Active)
	return a, err
}

func (r *availabilityRepo) GetActiveAvailability(ctx context.Context, doctorID int64, day types.Weekday) (*types.Availability, error) {
	row, err := queryRow(ctx, r.q, dialect.From(availabilityTable).Prepared(true).
		Select(availabilityColumns...).
		Where(goqu.Ex{"doctor_id": doctorID, "day_of_week": string(day), "is_active": true}).
		Limit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build availability query: %w", err)
	}

	a, err := scanAvailability(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFoundError(types.ErrCodeNoAvailability, fmt.Sprintf("No availability on %s", day))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get availability: %w", err)
	}
	return a, nil
}

func (r *availabilityRepo) ListAvailability(ctx context.Context, doctorID int64) ([]*types.Availability, error) {
	rows, err := query(ctx, r.q, dialect.From(availabilityTable).Prepared(true).
		Select(availabilityColumns...).
		Where(goqu.Ex{"doctor_id": doctorID}).
		Order(goqu.C("id").Asc()))
	if err != nil {
		return nil, fmt.Errorf("failed to list availability: %w", err)
	}
	defer rows.Close()

	var out []*types.Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan availability: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *availabilityRepo) DeleteAvailability(ctx context.Context, doctorID int64, days []types.Weekday) error {
	if len(days) == 0 {
		return nil
	}
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = string(d)
	}

	_, err := exec(ctx, r.q, dialect.Delete(availabilityTable).Prepared(true).
		Where(goqu.Ex{"doctor_id": doctorID, "day_of_week": names}))
	if err != nil {
		return fmt.Errorf("failed to delete availability: %w", err)
	}
	return nil
}

func (r *availabilityRepo) CreateAvailability(ctx context.Context, a *types.Availability) error {
	row, err := queryRow(ctx, r.q, dialect.Insert(availabilityTable).Prepared(true).
		Rows(goqu.Record{
			"doctor_id":             a.DoctorID,
			"day_of_week":           string(a.DayOfWeek),
			"start_time":            a.StartTime,
			"end_time":              a.EndTime,
			"slot_duration_minutes": a.SlotDurationMinutes,
			"is_active":             a.Active,
		}).
		Returning("id"))
	if err != nil {
		return fmt.Errorf("failed to build availability insert: %w", err)
	}
	if err := row.Scan(&a.ID); err != nil {
		return fmt.Errorf("failed to create availability: %w", err)
	}
	return nil
}

func (r *availabilityRepo) SetAvailabilityActive(ctx context.Context, doctorID int64, day types.Weekday, active bool) (int64, error) {
	res, err := exec(ctx, r.q, dialect.Update(availabilityTable).Prepared(true).
		Set(goqu.Record{"is_active": active}).
		Where(goqu.Ex{"doctor_id": doctorID, "day_of_week": string(day)}))
	if err != nil {
		return 0, fmt.Errorf("failed to update availability: %w", err)
	}
	return res.RowsAffected()
}
