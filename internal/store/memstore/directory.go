package memstore

import (
	"context"
	"sync"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

// Directory is an in-memory profile directory
type Directory struct {
	mu       sync.RWMutex
	doctors  map[int64]*types.Doctor
	patients map[int64]*types.Patient
	nurses   map[int64]*types.Nurse
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		doctors:  make(map[int64]*types.Doctor),
		patients: make(map[int64]*types.Patient),
		nurses:   make(map[int64]*types.Nurse),
	}
}

func (d *Directory) AddDoctor(doc *types.Doctor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := *doc
	d.doctors[doc.ID] = &v
}

func (d *Directory) AddPatient(p *types.Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := *p
	d.patients[p.ID] = &v
}

func (d *Directory) AddNurse(n *types.Nurse) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := *n
	d.nurses[n.ID] = &v
}

func (d *Directory) GetDoctor(_ context.Context, id int64) (*types.Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.doctors[id]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeUnknownDoctor, "Doctor not found")
	}
	v := *doc
	return &v, nil
}

func (d *Directory) GetPatient(_ context.Context, id int64) (*types.Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[id]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeUnknownPatient, "Patient not found")
	}
	v := *p
	return &v, nil
}

func (d *Directory) AssignedDoctor(ctx context.Context, nurseID int64) (*types.Doctor, error) {
	d.mu.RLock()
	n, ok := d.nurses[nurseID]
	d.mu.RUnlock()
	if !ok || n.AssignedDoctorID == nil {
		return nil, types.NewNotFoundError(types.ErrCodeUnknownDoctor, "No doctor assigned to this nurse")
	}
	return d.GetDoctor(ctx, *n.AssignedDoctorID)
}
