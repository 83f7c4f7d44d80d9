package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the clinic scheduling tables and indexes
func (db *DB) CreateSchema(ctx context.Context) error {
	log := db.logger.WithComponent("database")
	log.Info("Creating database schema...")

	tables := []string{
		createDoctorsTable,
		createPatientsTable,
		createNursesTable,
		createAvailabilityTable,
		createAppointmentsTable,
		createQueuesTable,
		createQueueEntriesTable,
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		createAvailabilityIndexes,
		createAppointmentsIndexes,
		createQueueEntriesIndexes,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	log.Info("Database schema created successfully")
	return nil
}

// Constraint names the store maps back to domain errors
const (
	ConstraintAppointmentSlot = "appointments_active_slot_key"
	ConstraintQueuePatient    = "queue_entries_queue_patient_key"
	ConstraintQueuePosition   = "queue_entries_queue_position_key"
	ConstraintAvailabilityDay = "doctor_availability_active_day_key"
)

// SQL DDL statements for table creation
const (
	createDoctorsTable = `
		CREATE TABLE IF NOT EXISTS doctors (
			id BIGSERIAL PRIMARY KEY,
			full_name VARCHAR(200) NOT NULL,
			email VARCHAR(255) UNIQUE NOT NULL,
			specialization VARCHAR(50) NOT NULL,
			license_number VARCHAR(50) UNIQUE NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createPatientsTable = `
		CREATE TABLE IF NOT EXISTS patients (
			id BIGSERIAL PRIMARY KEY,
			full_name VARCHAR(200) NOT NULL,
			email VARCHAR(255) UNIQUE NOT NULL,
			phone VARCHAR(20),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createNursesTable = `
		CREATE TABLE IF NOT EXISTS nurses (
			id BIGSERIAL PRIMARY KEY,
			full_name VARCHAR(200) NOT NULL,
			assigned_doctor_id BIGINT REFERENCES doctors(id) ON DELETE SET NULL
		);`

	createAvailabilityTable = `
		CREATE TABLE IF NOT EXISTS doctor_availability (
			id BIGSERIAL PRIMARY KEY,
			doctor_id BIGINT NOT NULL REFERENCES doctors(id) ON DELETE CASCADE,
			day_of_week VARCHAR(10) NOT NULL CHECK (day_of_week IN ('MONDAY', 'TUESDAY', 'WEDNESDAY', 'THURSDAY', 'FRIDAY', 'SATURDAY', 'SUNDAY')),
			start_time TIME NOT NULL,
			end_time TIME NOT NULL,
			slot_duration_minutes INTEGER NOT NULL DEFAULT 30 CHECK (slot_duration_minutes > 0),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			CHECK (start_time < end_time)
		);`

	createAppointmentsTable = `
		CREATE TABLE IF NOT EXISTS appointments (
			id BIGSERIAL PRIMARY KEY,
			patient_id BIGINT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
			doctor_id BIGINT NOT NULL REFERENCES doctors(id) ON DELETE CASCADE,
			appointment_date DATE NOT NULL,
			start_time TIME NOT NULL,
			end_time TIME NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'SCHEDULED' CHECK (status IN ('SCHEDULED', 'CHECKED_IN', 'IN_PROGRESS', 'COMPLETED', 'CANCELLED', 'NO_SHOW')),
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createQueuesTable = `
		CREATE TABLE IF NOT EXISTS queues (
			id BIGSERIAL PRIMARY KEY,
			doctor_id BIGINT NOT NULL REFERENCES doctors(id) ON DELETE CASCADE,
			queue_date DATE NOT NULL,
			code VARCHAR(64) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			CONSTRAINT queues_doctor_date_key UNIQUE (doctor_id, queue_date)
		);`

	createQueueEntriesTable = `
		CREATE TABLE IF NOT EXISTS queue_entries (
			id BIGSERIAL PRIMARY KEY,
			queue_id BIGINT NOT NULL REFERENCES queues(id) ON DELETE CASCADE,
			patient_id BIGINT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
			position INTEGER NOT NULL CHECK (position > 0),
			status VARCHAR(20) NOT NULL DEFAULT 'WAITING' CHECK (status IN ('WAITING', 'IN_PROGRESS', 'TERMINATED', 'EMERGENCY', 'NO_SHOW')),
			check_in_time TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			is_emergency BOOLEAN NOT NULL DEFAULT FALSE,
			checked_in_via_code BOOLEAN NOT NULL DEFAULT FALSE,
			consultation_start_time TIMESTAMP WITH TIME ZONE,
			consultation_end_time TIMESTAMP WITH TIME ZONE,
			estimated_wait_minutes INTEGER NOT NULL DEFAULT 0,
			CONSTRAINT queue_entries_queue_patient_key UNIQUE (queue_id, patient_id),
			CONSTRAINT queue_entries_queue_position_key UNIQUE (queue_id, position) DEFERRABLE INITIALLY DEFERRED
		);`
)

// SQL DDL statements for index creation
const (
	createAvailabilityIndexes = `
		CREATE UNIQUE INDEX IF NOT EXISTS doctor_availability_active_day_key ON doctor_availability(doctor_id, day_of_week) WHERE is_active;
		CREATE INDEX IF NOT EXISTS idx_doctor_availability_doctor ON doctor_availability(doctor_id);`

	createAppointmentsIndexes = `
		CREATE UNIQUE INDEX IF NOT EXISTS appointments_active_slot_key ON appointments(doctor_id, appointment_date, start_time) WHERE status IN ('SCHEDULED', 'CHECKED_IN');
		CREATE INDEX IF NOT EXISTS idx_appointments_doctor_date ON appointments(doctor_id, appointment_date);
		CREATE INDEX IF NOT EXISTS idx_appointments_patient_date ON appointments(patient_id, appointment_date);
		CREATE INDEX IF NOT EXISTS idx_appointments_status ON appointments(status);`

	createQueueEntriesIndexes = `
		CREATE INDEX IF NOT EXISTS idx_queue_entries_queue_status ON queue_entries(queue_id, status);`
)
