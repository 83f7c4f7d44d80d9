package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeMalformed  ErrorType = "malformed"
	ErrorTypeInternal   ErrorType = "internal"
)

// ClinicError represents a structured error raised by the scheduling core
type ClinicError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *ClinicError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *ClinicError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string, details map[string]interface{}) *ClinicError {
	return &ClinicError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *ClinicError {
	return &ClinicError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewConflictError creates a new state conflict error
func NewConflictError(code, message string, details map[string]interface{}) *ClinicError {
	return &ClinicError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewMalformedError creates a new malformed input error
func NewMalformedError(code, message string, cause error) *ClinicError {
	return &ClinicError{
		Type:    ErrorTypeMalformed,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *ClinicError {
	return &ClinicError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// AsClinicError finds the first ClinicError in err's chain
func AsClinicError(err error) (*ClinicError, bool) {
	var ce *ClinicError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// CodeOf returns the code of the first ClinicError in err's chain, or ""
func CodeOf(err error) string {
	if ce, ok := AsClinicError(err); ok {
		return ce.Code
	}
	return ""
}

// HasCode reports whether err carries the given code
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// Common error codes
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeInvalidCode    = "INVALID_CODE"
	ErrCodeUnknownDoctor  = "UNKNOWN_DOCTOR"
	ErrCodeUnknownPatient = "UNKNOWN_PATIENT"

	// Booking validation
	ErrCodeNoAvailability         = "NO_AVAILABILITY"
	ErrCodeDoctorUnavailable      = "DOCTOR_UNAVAILABLE"
	ErrCodePastDate               = "PAST_DATE"
	ErrCodeInvalidTimeRange       = "INVALID_TIME_RANGE"
	ErrCodeSlotTaken              = "SLOT_TAKEN"
	ErrCodeSpecializationConflict = "SPECIALIZATION_CONFLICT"
	ErrCodeCapacityExceeded       = "CAPACITY_EXCEEDED"

	// State conflicts
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeAlreadyQueued          = "ALREADY_QUEUED"
	ErrCodeConsultationInProgress = "CONSULTATION_IN_PROGRESS"
	ErrCodeQueueEmpty             = "QUEUE_EMPTY"
	ErrCodeInvalidState           = "INVALID_STATE"
	ErrCodeInvalidPosition        = "INVALID_POSITION"

	// Check-in outcomes
	ErrCodeNoAppointment    = "NO_APPOINTMENT"
	ErrCodeAlreadyCheckedIn = "ALREADY_CHECKED_IN"
	ErrCodeWrongDoctor      = "WRONG_DOCTOR"
	ErrCodeNoConsultations  = "NO_CONSULTATIONS"
	ErrCodeUnsupportedRole  = "UNSUPPORTED_ROLE"
)

// ErrAppointmentNotFound is shared by every lookup that must not reveal
// whether a record exists or belongs to somebody else.
func ErrAppointmentNotFound() *ClinicError {
	return NewNotFoundError(ErrCodeNotFound, "Appointment not found or cannot be changed")
}

// ErrEntryNotFound is returned for missing queue entries
func ErrEntryNotFound() *ClinicError {
	return NewNotFoundError(ErrCodeNotFound, "Patient queue entry not found")
}

// ErrSlotTaken is returned when another active appointment holds the slot
func ErrSlotTaken(doctorID int64, date time.Time, start TimeOfDay) *ClinicError {
	return NewValidationError(ErrCodeSlotTaken, "This time slot is already booked", map[string]interface{}{
		"doctor_id":  doctorID,
		"date":       date.Format(DateLayout),
		"start_time": start.String(),
	})
}

// ErrAlreadyQueued is returned when the patient already holds an entry in the queue
func ErrAlreadyQueued(queueID, patientID int64) *ClinicError {
	return NewConflictError(ErrCodeAlreadyQueued, "Patient is already in this queue", map[string]interface{}{
		"queue_id":   queueID,
		"patient_id": patientID,
	})
}
