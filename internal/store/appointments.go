package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/database"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

const appointmentsTable = "appointments"

var appointmentColumns = []interface{}{
	"id", "patient_id", "doctor_id", "appointment_date", "start_time", "end_time",
	"status", "notes", "created_at", "updated_at",
}

type appointmentRepo struct {
	q querier
}

func scanAppointment(row interface{ Scan(...interface{}) error }) (*types.Appointment, error) {
	a := &types.Appointment{}
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &a.StartTime, &a.EndTime,
		&a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Date = types.DateOf(a.Date)
	return a, nil
}

func appointmentRecord(a *types.Appointment) goqu.Record {
	return goqu.Record{
		"patient_id":       a.PatientID,
		"doctor_id":        a.DoctorID,
		"appointment_date": dateParam(a.Date),
		"start_time":       a.StartTime,
		"end_time":         a.EndTime,
		"status":           string(a.Status),
		"notes":            a.Notes,
		"updated_at":       a.UpdatedAt,
	}
}

// slotConflict maps the active slot unique index back to the domain error
func slotConflict(err error, a *types.Appointment) error {
	if constraint, ok := database.UniqueViolation(err); ok && constraint == database.ConstraintAppointmentSlot {
		return types.ErrSlotTaken(a.DoctorID, a.Date, a.StartTime)
	}
	return err
}

func (r *appointmentRepo) CreateAppointment(ctx context.Context, a *types.Appointment) error {
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	rec := appointmentRecord(a)
	rec["created_at"] = a.CreatedAt

	row, err := queryRow(ctx, r.q, dialect.Insert(appointmentsTable).Prepared(true).
		Rows(rec).
		Returning("id"))
	if err != nil {
		return fmt.Errorf("failed to build appointment insert: %w", err)
	}
	if err := row.Scan(&a.ID); err != nil {
		if mapped := slotConflict(err, a); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepo) GetAppointmentByID(ctx context.Context, id int64) (*types.Appointment, error) {
	row, err := queryRow(ctx, r.q, dialect.From(appointmentsTable).Prepared(true).
		Select(appointmentColumns...).
		Where(goqu.Ex{"id": id}))
	if err != nil {
		return nil, fmt.Errorf("failed to build appointment query: %w", err)
	}

	a, err := scanAppointment(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrAppointmentNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return a, nil
}

func (r *appointmentRepo) UpdateAppointment(ctx context.Context, a *types.Appointment) error {
	a.UpdatedAt = time.Now().UTC()

	res, err := exec(ctx, r.q, dialect.Update(appointmentsTable).Prepared(true).
		Set(appointmentRecord(a)).
		Where(goqu.Ex{"id": a.ID}))
	if err != nil {
		if mapped := slotConflict(err, a); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to update appointment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return types.ErrAppointmentNotFound()
	}
	return nil
}

func appointmentWhere(f *types.AppointmentFilters) []exp.Expression {
	var where []exp.Expression
	if f.PatientID != 0 {
		where = append(where, goqu.C("patient_id").Eq(f.PatientID))
	}
	if f.DoctorID != 0 {
		where = append(where, goqu.C("doctor_id").Eq(f.DoctorID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, goqu.C("status").In(statuses))
	}
	if !f.Date.IsZero() {
		where = append(where, goqu.C("appointment_date").Eq(dateParam(f.Date)))
	}
	if !f.FromDate.IsZero() {
		where = append(where, goqu.C("appointment_date").Gte(dateParam(f.FromDate)))
	}
	if !f.ToDate.IsZero() {
		where = append(where, goqu.C("appointment_date").Lte(dateParam(f.ToDate)))
	}
	if f.StartTime != nil {
		where = append(where, goqu.C("start_time").Eq(*f.StartTime))
	}
	if f.ExcludeID != 0 {
		where = append(where, goqu.C("id").Neq(f.ExcludeID))
	}
	return where
}

func (r *appointmentRepo) FindAppointments(ctx context.Context, f *types.AppointmentFilters) ([]*types.Appointment, error) {
	ds := dialect.From(appointmentsTable).Prepared(true).
		Select(appointmentColumns...).
		Where(appointmentWhere(f)...)

	if f.Descending {
		ds = ds.Order(goqu.C("appointment_date").Desc(), goqu.C("start_time").Desc(), goqu.C("id").Desc())
	} else {
		ds = ds.Order(goqu.C("appointment_date").Asc(), goqu.C("start_time").Asc(), goqu.C("id").Asc())
	}

	rows, err := query(ctx, r.q, ds)
	if err != nil {
		return nil, fmt.Errorf("failed to find appointments: %w", err)
	}
	defer rows.Close()

	var out []*types.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *appointmentRepo) CountAppointments(ctx context.Context, f *types.AppointmentFilters) (int, error) {
	row, err := queryRow(ctx, r.q, dialect.From(appointmentsTable).Prepared(true).
		Select(goqu.COUNT("*")).
		Where(appointmentWhere(f)...))
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count appointments: %w", err)
	}
	return n, nil
}

func (r *appointmentRepo) UpdateAppointmentStatuses(ctx context.Context, doctorID int64, date time.Time, from, to types.AppointmentStatus) (int64, error) {
	res, err := exec(ctx, r.q, dialect.Update(appointmentsTable).Prepared(true).
		Set(goqu.Record{"status": string(to), "updated_at": time.Now().UTC()}).
		Where(goqu.Ex{
			"doctor_id":        doctorID,
			"appointment_date": dateParam(date),
			"status":           string(from),
		}))
	if err != nil {
		return 0, fmt.Errorf("failed to update appointment statuses: %w", err)
	}
	return res.RowsAffected()
}
