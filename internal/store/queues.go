package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/database"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

const (
	queuesTable  = "queues"
	entriesTable = "queue_entries"
)

var queueColumns = []interface{}{"id", "doctor_id", "queue_date", "code", "created_at", "updated_at"}

var entryColumns = []interface{}{
	"id", "queue_id", "patient_id", "position", "status", "check_in_time", "is_emergency",
	"checked_in_via_code", "consultation_start_time", "consultation_end_time", "estimated_wait_minutes",
}

type queueRepo struct {
	q querier
}

func scanQueue(row interface{ Scan(...interface{}) error }) (*types.Queue, error) {
	q := &types.Queue{}
	if err := row.Scan(&q.ID, &q.DoctorID, &q.Date, &q.Code, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	q.Date = types.DateOf(q.Date)
	return q, nil
}

func scanEntry(row interface{ Scan(...interface{}) error }) (*types.QueueEntry, error) {
	e := &types.QueueEntry{}
	var start, end sql.NullTime
	err := row.Scan(&e.ID, &e.QueueID, &e.PatientID, &e.Position, &e.Status, &e.CheckInTime,
		&e.IsEmergency, &e.CheckedInViaCode, &start, &end, &e.EstimatedWaitMinutes)
	if err != nil {
		return nil, err
	}
	e.ConsultationStartTime = timePtr(start)
	e.ConsultationEndTime = timePtr(end)
	return e, nil
}

func (r *queueRepo) GetOrCreateQueue(ctx context.Context, doctorID int64, date time.Time, code string) (*types.Queue, error) {
	now := time.Now().UTC()
	_, err := exec(ctx, r.q, dialect.Insert(queuesTable).Prepared(true).
		Rows(goqu.Record{
			"doctor_id":  doctorID,
			"queue_date": dateParam(date),
			"code":       code,
			"created_at": now,
			"updated_at": now,
		}).
		OnConflict(goqu.DoNothing()))
	if err != nil {
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}
	return r.GetQueue(ctx, doctorID, date)
}

func (r *queueRepo) GetQueue(ctx context.Context, doctorID int64, date time.Time) (*types.Queue, error) {
	return r.getQueue(ctx, goqu.Ex{"doctor_id": doctorID, "queue_date": dateParam(date)})
}

func (r *queueRepo) GetQueueByID(ctx context.Context, id int64) (*types.Queue, error) {
	return r.getQueue(ctx, goqu.Ex{"id": id})
}

func (r *queueRepo) getQueue(ctx context.Context, where goqu.Ex) (*types.Queue, error) {
	row, err := queryRow(ctx, r.q, dialect.From(queuesTable).Prepared(true).
		Select(queueColumns...).
		Where(where))
	if err != nil {
		return nil, fmt.Errorf("failed to build queue query: %w", err)
	}

	q, err := scanQueue(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "Queue not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}
	return q, nil
}

func (r *queueRepo) ListEntries(ctx context.Context, queueID int64) ([]*types.QueueEntry, error) {
	rows, err := query(ctx, r.q, dialect.From(entriesTable).Prepared(true).
		Select(entryColumns...).
		Where(goqu.Ex{"queue_id": queueID}).
		Order(goqu.C("position").Asc()))
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()

	var out []*types.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *queueRepo) GetEntry(ctx context.Context, id int64) (*types.QueueEntry, error) {
	return r.getEntry(ctx, goqu.Ex{"id": id})
}

func (r *queueRepo) FindPatientEntry(ctx context.Context, queueID, patientID int64) (*types.QueueEntry, error) {
	return r.getEntry(ctx, goqu.Ex{"queue_id": queueID, "patient_id": patientID})
}

func (r *queueRepo) getEntry(ctx context.Context, where goqu.Ex) (*types.QueueEntry, error) {
	row, err := queryRow(ctx, r.q, dialect.From(entriesTable).Prepared(true).
		Select(entryColumns...).
		Where(where))
	if err != nil {
		return nil, fmt.Errorf("failed to build queue entry query: %w", err)
	}

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrEntryNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return e, nil
}

func (r *queueRepo) MaxPosition(ctx context.Context, queueID int64) (int, error) {
	row, err := queryRow(ctx, r.q, dialect.From(entriesTable).Prepared(true).
		Select(goqu.COALESCE(goqu.MAX("position"), 0)).
		Where(goqu.Ex{"queue_id": queueID}))
	if err != nil {
		return 0, fmt.Errorf("failed to build max position query: %w", err)
	}

	var max int
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to get max position: %w", err)
	}
	return max, nil
}

func entryRecord(e *types.QueueEntry) goqu.Record {
	return goqu.Record{
		"queue_id":                e.QueueID,
		"patient_id":              e.PatientID,
		"position":                e.Position,
		"status":                  string(e.Status),
		"check_in_time":           e.CheckInTime,
		"is_emergency":            e.IsEmergency,
		"checked_in_via_code":     e.CheckedInViaCode,
		"consultation_start_time": nullTime(e.ConsultationStartTime),
		"consultation_end_time":   nullTime(e.ConsultationEndTime),
		"estimated_wait_minutes":  e.EstimatedWaitMinutes,
	}
}

func (r *queueRepo) CreateEntry(ctx context.Context, e *types.QueueEntry) error {
	row, err := queryRow(ctx, r.q, dialect.Insert(entriesTable).Prepared(true).
		Rows(entryRecord(e)).
		Returning("id"))
	if err != nil {
		return fmt.Errorf("failed to build queue entry insert: %w", err)
	}
	if err := row.Scan(&e.ID); err != nil {
		if constraint, ok := database.UniqueViolation(err); ok && constraint == database.ConstraintQueuePatient {
			return types.ErrAlreadyQueued(e.QueueID, e.PatientID)
		}
		return fmt.Errorf("failed to create queue entry: %w", err)
	}
	return nil
}

func (r *queueRepo) UpdateEntry(ctx context.Context, e *types.QueueEntry) error {
	res, err := exec(ctx, r.q, dialect.Update(entriesTable).Prepared(true).
		Set(entryRecord(e)).
		Where(goqu.Ex{"id": e.ID}))
	if err != nil {
		return fmt.Errorf("failed to update queue entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return types.ErrEntryNotFound()
	}
	return nil
}

func (r *queueRepo) ShiftPositions(ctx context.Context, queueID int64, from, to, delta, minutesPerPosition int) (int64, error) {
	if from > to {
		return 0, nil
	}

	res, err := exec(ctx, r.q, dialect.Update(entriesTable).Prepared(true).
		Set(goqu.Record{
			"position":               goqu.L("position + ?", delta),
			"estimated_wait_minutes": goqu.L("(position + ?) * ?", delta, minutesPerPosition),
		}).
		Where(
			goqu.C("queue_id").Eq(queueID),
			goqu.C("position").Between(goqu.Range(from, to)),
		))
	if err != nil {
		return 0, fmt.Errorf("failed to shift queue positions: %w", err)
	}
	return res.RowsAffected()
}
