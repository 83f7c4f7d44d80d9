package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

// Directory resolves doctor, patient and nurse profiles from the same database
type Directory struct {
	q querier
}

// NewDirectory creates a Directory over the store's pool
func NewDirectory(s *Store) *Directory {
	return &Directory{q: s.db.DB}
}

func (d *Directory) GetDoctor(ctx context.Context, id int64) (*types.Doctor, error) {
	row, err := queryRow(ctx, d.q, dialect.From("doctors").Prepared(true).
		Select("id", "full_name", "email", "specialization", "license_number", "created_at").
		Where(goqu.Ex{"id": id}))
	if err != nil {
		return nil, fmt.Errorf("failed to build doctor query: %w", err)
	}

	doc := &types.Doctor{}
	err = row.Scan(&doc.ID, &doc.FullName, &doc.Email, &doc.Specialization, &doc.LicenseNumber, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFoundError(types.ErrCodeUnknownDoctor, "Doctor not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get doctor: %w", err)
	}
	return doc, nil
}

func (d *Directory) GetPatient(ctx context.Context, id int64) (*types.Patient, error) {
	row, err := queryRow(ctx, d.q, dialect.From("patients").Prepared(true).
		Select("id", "full_name", "email", goqu.COALESCE(goqu.C("phone"), ""), "created_at").
		Where(goqu.Ex{"id": id}))
	if err != nil {
		return nil, fmt.Errorf("failed to build patient query: %w", err)
	}

	p := &types.Patient{}
	err = row.Scan(&p.ID, &p.FullName, &p.Email, &p.Phone, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFoundError(types.ErrCodeUnknownPatient, "Patient not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return p, nil
}

func (d *Directory) AssignedDoctor(ctx context.Context, nurseID int64) (*types.Doctor, error) {
	row, err := queryRow(ctx, d.q, dialect.From("nurses").Prepared(true).
		Select("assigned_doctor_id").
		Where(goqu.Ex{"id": nurseID}))
	if err != nil {
		return nil, fmt.Errorf("failed to build nurse query: %w", err)
	}

	var doctorID sql.NullInt64
	err = row.Scan(&doctorID)
	if err == sql.ErrNoRows || (err == nil && !doctorID.Valid) {
		return nil, types.NewNotFoundError(types.ErrCodeUnknownDoctor, "No doctor assigned to this nurse")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get nurse: %w", err)
	}
	return d.GetDoctor(ctx, doctorID.Int64)
}
