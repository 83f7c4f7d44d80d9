package types

import "time"

// Queue is the ordered set of patients waiting for one doctor on one date
type Queue struct {
	ID        int64     `json:"id" db:"id"`
	DoctorID  int64     `json:"doctor_id" db:"doctor_id"`
	Date      time.Time `json:"date" db:"queue_date"`
	Code      string    `json:"code" db:"code"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EntryStatus represents the state of a patient's place in a queue
type EntryStatus string

const (
	EntryWaiting    EntryStatus = "WAITING"
	EntryInProgress EntryStatus = "IN_PROGRESS"
	EntryTerminated EntryStatus = "TERMINATED"
	EntryEmergency  EntryStatus = "EMERGENCY"
	EntryNoShow     EntryStatus = "NO_SHOW"
)

// IsWaiting reports whether the entry is still waiting to be seen.
// Emergency entries are waiting entries that were moved to the front.
func (s EntryStatus) IsWaiting() bool {
	return s == EntryWaiting || s == EntryEmergency
}

// IsTerminal reports whether the entry no longer takes part in the queue
func (s EntryStatus) IsTerminal() bool {
	return s == EntryTerminated || s == EntryNoShow
}

// QueueEntry is a single patient's place within a Queue
type QueueEntry struct {
	ID                    int64       `json:"id" db:"id"`
	QueueID               int64       `json:"queue_id" db:"queue_id"`
	PatientID             int64       `json:"patient_id" db:"patient_id"`
	Position              int         `json:"position" db:"position"`
	Status                EntryStatus `json:"status" db:"status"`
	CheckInTime           time.Time   `json:"check_in_time" db:"check_in_time"`
	IsEmergency           bool        `json:"is_emergency" db:"is_emergency"`
	CheckedInViaCode      bool        `json:"checked_in_via_code" db:"checked_in_via_code"`
	ConsultationStartTime *time.Time  `json:"consultation_start_time,omitempty" db:"consultation_start_time"`
	ConsultationEndTime   *time.Time  `json:"consultation_end_time,omitempty" db:"consultation_end_time"`
	EstimatedWaitMinutes  int         `json:"estimated_wait_minutes" db:"estimated_wait_minutes"`
}

// Clone returns a deep copy of the entry
func (e *QueueEntry) Clone() *QueueEntry {
	c := *e
	if e.ConsultationStartTime != nil {
		t := *e.ConsultationStartTime
		c.ConsultationStartTime = &t
	}
	if e.ConsultationEndTime != nil {
		t := *e.ConsultationEndTime
		c.ConsultationEndTime = &t
	}
	return &c
}

// ConsultationMinutes returns the consultation length, or 0 when it has not ended
func (e *QueueEntry) ConsultationMinutes() int {
	if e.ConsultationStartTime == nil || e.ConsultationEndTime == nil {
		return 0
	}
	return int(e.ConsultationEndTime.Sub(*e.ConsultationStartTime).Minutes())
}

// QueueStatistics counts entries by status
type QueueStatistics struct {
	Total      int `json:"total"`
	Waiting    int `json:"waiting"`
	Emergency  int `json:"emergency"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	NoShow     int `json:"no_show"`
}

// PatientQueueStatus is what a patient sees about their place in today's queue
type PatientQueueStatus struct {
	Entry           *QueueEntry `json:"entry"`
	Queue           *Queue      `json:"queue"`
	PeopleAhead     int         `json:"people_ahead"`
	DoctorCheckedIn bool        `json:"doctor_checked_in"`
}

// CheckInResult is the structured outcome of processing a check-in code
type CheckInResult struct {
	Success bool                   `json:"success"`
	Code    string                 `json:"code,omitempty"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
}
