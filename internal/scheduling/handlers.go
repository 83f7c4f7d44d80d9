package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/availability"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

// setupRoutes configures HTTP routes for the scheduling service
func (s *Service) setupRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	if rpm := s.config.Server.RateLimitPerMinute; rpm > 0 {
		api.Use(NewRateLimiter(rpm, s.config.Server.RateLimitBurst).Middleware)
	}

	// Doctor schedule and slots
	api.HandleFunc("/doctors/{doctorId}/slots", s.getAvailableSlotsHandler).Methods("GET")
	api.HandleFunc("/doctors/{doctorId}/availability", s.getScheduleHandler).Methods("GET")
	api.HandleFunc("/doctors/{doctorId}/availability", s.replaceScheduleHandler).Methods("PUT")
	api.HandleFunc("/doctors/{doctorId}/availability/{day}", s.deactivateAvailabilityHandler).Methods("DELETE")

	// Appointment routes
	api.HandleFunc("/appointments", s.bookAppointmentHandler).Methods("POST")
	api.HandleFunc("/appointments", s.listAppointmentsHandler).Methods("GET")
	api.HandleFunc("/appointments/cancel", s.cancelAppointmentsHandler).Methods("POST")
	api.HandleFunc("/appointments/{id}", s.modifyAppointmentHandler).Methods("PUT")
	api.HandleFunc("/appointments/{id}", s.cancelAppointmentHandler).Methods("DELETE")
	api.HandleFunc("/appointments/{id}/status", s.transitionAppointmentHandler).Methods("POST")

	// Queue routes
	api.HandleFunc("/queues/mine", s.myQueueHandler).Methods("GET")
	api.HandleFunc("/queues/status", s.patientQueueStatusHandler).Methods("GET")
	api.HandleFunc("/queues/{queueId}/entries", s.queueEntriesHandler).Methods("GET")
	api.HandleFunc("/queues/{queueId}/entries", s.enqueueHandler).Methods("POST")
	api.HandleFunc("/queues/{queueId}/waiting", s.waitingEntriesHandler).Methods("GET")
	api.HandleFunc("/queues/{queueId}/current", s.currentEntryHandler).Methods("GET")
	api.HandleFunc("/queues/{queueId}/statistics", s.queueStatisticsHandler).Methods("GET")
	api.HandleFunc("/queues/{queueId}/call-next", s.callNextHandler).Methods("POST")
	api.HandleFunc("/queue-entries/{entryId}/start", s.startConsultationHandler).Methods("POST")
	api.HandleFunc("/queue-entries/{entryId}/end", s.endConsultationHandler).Methods("POST")
	api.HandleFunc("/queue-entries/{entryId}/no-show", s.noShowHandler).Methods("POST")
	api.HandleFunc("/queue-entries/{entryId}/emergency", s.emergencyHandler).Methods("POST")
	api.HandleFunc("/queue-entries/{entryId}/position", s.repositionHandler).Methods("PUT")

	// Check-in
	api.HandleFunc("/checkin", s.checkInHandler).Methods("POST")

	router.HandleFunc(s.config.Monitoring.HealthPath, s.health.HTTPHandler()).Methods("GET")
	router.Handle(s.config.Monitoring.MetricsPath, s.metrics.Handler()).Methods("GET")

	s.logger.Info("Scheduling service routes configured")
}

type bookingBody struct {
	PatientID int64  `json:"patient_id" validate:"omitempty,gt=0"`
	DoctorID  int64  `json:"doctor_id" validate:"required,gt=0"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required"`
	Notes     string `json:"notes" validate:"max=2000"`
	Variant   string `json:"variant" validate:"omitempty,oneof=SCHEDULED WALK_IN ADMIN"`
}

type modifyBody struct {
	Date      *string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	StartTime *string `json:"start_time,omitempty"`
	Notes     *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

type cancelManyBody struct {
	IDs []int64 `json:"appointment_ids" validate:"required,min=1,dive,gt=0"`
}

type transitionBody struct {
	Status string `json:"status" validate:"required,oneof=SCHEDULED CHECKED_IN IN_PROGRESS COMPLETED CANCELLED NO_SHOW"`
}

type scheduleBody struct {
	Windows []availability.Window `json:"windows" validate:"required,min=1,max=7,dive"`
}

type enqueueBody struct {
	PatientID int64 `json:"patient_id" validate:"required,gt=0"`
}

type repositionBody struct {
	Position int `json:"position"`
}

type checkInBody struct {
	Code string `json:"code" validate:"required,max=64"`
}

// getAvailableSlotsHandler lists bookable start times for ?date=YYYY-MM-DD
func (s *Service) getAvailableSlotsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	doctorID, ok := s.pathID(w, r, "doctorId")
	if !ok {
		return
	}
	date, err := types.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, r, malformed("date", err))
		return
	}

	slots, err := s.ledger.AvailableSlots(r.Context(), doctorID, date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"doctor_id": doctorID,
		"date":      date.Format(types.DateLayout),
		"slots":     slots,
	})
}

func (s *Service) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	doctorID, ok := s.pathID(w, r, "doctorId")
	if !ok {
		return
	}
	s.writeJSONResponse(w, http.StatusOK, s.schedules.Schedule(r.Context(), doctorID))
}

func (s *Service) replaceScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	doctorID, ok := s.pathID(w, r, "doctorId")
	if !ok || !s.requireSelfOrAdmin(w, r, id, types.RoleDoctor, doctorID) {
		return
	}

	var body scheduleBody
	if !s.decode(w, r, &body) {
		return
	}

	records, err := s.schedules.ReplaceSchedule(r.Context(), doctorID, body.Windows)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, records)
}

func (s *Service) deactivateAvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	doctorID, ok := s.pathID(w, r, "doctorId")
	if !ok || !s.requireSelfOrAdmin(w, r, id, types.RoleDoctor, doctorID) {
		return
	}

	if err := s.schedules.Deactivate(r.Context(), doctorID, types.Weekday(mux.Vars(r)["day"])); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bookAppointmentHandler books for the calling patient, or for any patient
// when staff book a walk-in or an administrator books on someone's behalf
func (s *Service) bookAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}

	var body bookingBody
	if !s.decode(w, r, &body) {
		return
	}

	req, err := body.toRequest()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch id.Role {
	case types.RolePatient:
		if req.Variant != "" && req.Variant != types.VariantScheduled {
			s.writeError(w, r, forbidden())
			return
		}
		req.PatientID = id.ID
	case types.RoleNurse, types.RoleDoctor:
		if req.Variant != types.VariantWalkIn {
			s.writeError(w, r, forbidden())
			return
		}
	case types.RoleAdmin:
		if req.Variant == "" {
			req.Variant = types.VariantAdmin
		}
	}
	if req.PatientID == 0 {
		s.writeError(w, r, types.NewValidationError(types.ErrCodeInvalidInput, "patient_id is required", nil))
		return
	}

	apt, err := s.ledger.Book(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, apt)
}

func (b *bookingBody) toRequest() (*types.BookingRequest, error) {
	date, err := types.ParseDate(b.Date)
	if err != nil {
		return nil, malformed("date", err)
	}
	start, err := types.ParseTimeOfDay(b.StartTime)
	if err != nil {
		return nil, malformed("start_time", err)
	}
	return &types.BookingRequest{
		PatientID: b.PatientID,
		DoctorID:  b.DoctorID,
		Date:      date,
		StartTime: start,
		Notes:     b.Notes,
		Variant:   types.BookingVariant(b.Variant),
	}, nil
}

func (s *Service) modifyAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identifyAs(w, r, types.RolePatient)
	if !ok {
		return
	}
	aptID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}

	var body modifyBody
	if !s.decode(w, r, &body) {
		return
	}

	changes := &types.AppointmentChanges{Notes: body.Notes}
	if body.Date != nil {
		date, err := types.ParseDate(*body.Date)
		if err != nil {
			s.writeError(w, r, malformed("date", err))
			return
		}
		changes.Date = &date
	}
	if body.StartTime != nil {
		start, err := types.ParseTimeOfDay(*body.StartTime)
		if err != nil {
			s.writeError(w, r, malformed("start_time", err))
			return
		}
		changes.StartTime = &start
	}

	apt, err := s.ledger.Modify(r.Context(), aptID, id.ID, changes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, apt)
}

func (s *Service) cancelAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identifyAs(w, r, types.RolePatient)
	if !ok {
		return
	}
	aptID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}

	if err := s.ledger.Cancel(r.Context(), aptID, id.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Appointment cancelled successfully"})
}

func (s *Service) cancelAppointmentsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identifyAs(w, r, types.RolePatient)
	if !ok {
		return
	}

	var body cancelManyBody
	if !s.decode(w, r, &body) {
		return
	}

	n, err := s.ledger.CancelMany(r.Context(), body.IDs, id.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"cancelled": n})
}

func (s *Service) transitionAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identifyAs(w, r, types.RoleDoctor, types.RoleNurse, types.RoleAdmin); !ok {
		return
	}
	aptID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}

	var body transitionBody
	if !s.decode(w, r, &body) {
		return
	}

	apt, err := s.ledger.Transition(r.Context(), aptID, types.AppointmentStatus(body.Status))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, apt)
}

// listAppointmentsHandler lists the caller's appointments. Doctors may
// narrow by ?status=, ?from= and ?to=; patients by ?status=.
func (s *Service) listAppointmentsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identifyAs(w, r, types.RolePatient, types.RoleDoctor)
	if !ok {
		return
	}
	query := r.URL.Query()
	status := types.AppointmentStatus(query.Get("status"))

	if id.Role == types.RolePatient {
		s.writeJSONResponse(w, http.StatusOK, s.ledger.AppointmentsForPatient(r.Context(), id.ID, status))
		return
	}

	var dates types.DateRange
	for param, dst := range map[string]*time.Time{"from": &dates.From, "to": &dates.To} {
		if v := query.Get(param); v != "" {
			d, err := types.ParseDate(v)
			if err != nil {
				s.writeError(w, r, malformed(param, err))
				return
			}
			*dst = d
		}
	}
	s.writeJSONResponse(w, http.StatusOK, s.ledger.AppointmentsForDoctor(r.Context(), id.ID, status, dates))
}

// myQueueHandler returns today's queue of the calling doctor, or of the
// doctor the calling nurse is assigned to
func (s *Service) myQueueHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identifyAs(w, r, types.RoleDoctor, types.RoleNurse)
	if !ok {
		return
	}

	var q *types.Queue
	var err error
	if id.Role == types.RoleNurse {
		q, err = s.queues.ForNurse(r.Context(), id.ID)
	} else {
		q, err = s.queues.GetOrCreate(r.Context(), id.ID, s.queues.Today())
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, q)
}

func (s *Service) patientQueueStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identifyAs(w, r, types.RolePatient)
	if !ok {
		return
	}

	status, err := s.queues.PatientStatus(r.Context(), id.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, status)
}

func (s *Service) queueEntriesHandler(w http.ResponseWriter, r *http.Request) {
	if queueID, ok := s.staffQueue(w, r); ok {
		s.writeJSONResponse(w, http.StatusOK, s.queues.AllEntries(r.Context(), queueID))
	}
}

func (s *Service) waitingEntriesHandler(w http.ResponseWriter, r *http.Request) {
	if queueID, ok := s.staffQueue(w, r); ok {
		s.writeJSONResponse(w, http.StatusOK, s.queues.WaitingEntries(r.Context(), queueID))
	}
}

func (s *Service) currentEntryHandler(w http.ResponseWriter, r *http.Request) {
	if queueID, ok := s.staffQueue(w, r); ok {
		s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"current": s.queues.CurrentEntry(r.Context(), queueID)})
	}
}

func (s *Service) queueStatisticsHandler(w http.ResponseWriter, r *http.Request) {
	if queueID, ok := s.staffQueue(w, r); ok {
		s.writeJSONResponse(w, http.StatusOK, s.queues.Statistics(r.Context(), queueID))
	}
}

func (s *Service) enqueueHandler(w http.ResponseWriter, r *http.Request) {
	queueID, ok := s.staffQueue(w, r)
	if !ok {
		return
	}

	var body enqueueBody
	if !s.decode(w, r, &body) {
		return
	}

	entry, err := s.queues.Enqueue(r.Context(), queueID, body.PatientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, entry)
}

func (s *Service) callNextHandler(w http.ResponseWriter, r *http.Request) {
	queueID, ok := s.staffQueue(w, r)
	if !ok {
		return
	}
	s.writeEntry(w, r, func() (*types.QueueEntry, error) { return s.queues.CallNext(r.Context(), queueID) })
}

func (s *Service) startConsultationHandler(w http.ResponseWriter, r *http.Request) {
	if entryID, ok := s.staffEntry(w, r); ok {
		s.writeEntry(w, r, func() (*types.QueueEntry, error) { return s.queues.StartConsultation(r.Context(), entryID) })
	}
}

func (s *Service) endConsultationHandler(w http.ResponseWriter, r *http.Request) {
	if entryID, ok := s.staffEntry(w, r); ok {
		s.writeEntry(w, r, func() (*types.QueueEntry, error) { return s.queues.EndConsultation(r.Context(), entryID) })
	}
}

func (s *Service) noShowHandler(w http.ResponseWriter, r *http.Request) {
	if entryID, ok := s.staffEntry(w, r); ok {
		s.writeEntry(w, r, func() (*types.QueueEntry, error) { return s.queues.MarkNoShow(r.Context(), entryID) })
	}
}

func (s *Service) emergencyHandler(w http.ResponseWriter, r *http.Request) {
	if entryID, ok := s.staffEntry(w, r); ok {
		s.writeEntry(w, r, func() (*types.QueueEntry, error) { return s.queues.PromoteToEmergency(r.Context(), entryID) })
	}
}

func (s *Service) repositionHandler(w http.ResponseWriter, r *http.Request) {
	entryID, ok := s.staffEntry(w, r)
	if !ok {
		return
	}

	var body repositionBody
	if !s.decode(w, r, &body) {
		return
	}
	s.writeEntry(w, r, func() (*types.QueueEntry, error) { return s.queues.Reposition(r.Context(), entryID, body.Position) })
}

// checkInHandler always answers 200 with a structured result; the result's
// code tells the client what went wrong
func (s *Service) checkInHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}

	var body checkInBody
	if !s.decode(w, r, &body) {
		return
	}
	s.writeJSONResponse(w, http.StatusOK, s.checkin.ProcessCheckIn(r.Context(), id, body.Code))
}

// Helper methods

func (s *Service) staffQueue(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if _, ok := s.identifyAs(w, r, types.RoleDoctor, types.RoleNurse, types.RoleAdmin); !ok {
		return 0, false
	}
	return s.pathID(w, r, "queueId")
}

func (s *Service) staffEntry(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if _, ok := s.identifyAs(w, r, types.RoleDoctor, types.RoleNurse, types.RoleAdmin); !ok {
		return 0, false
	}
	return s.pathID(w, r, "entryId")
}

func (s *Service) writeEntry(w http.ResponseWriter, r *http.Request, op func() (*types.QueueEntry, error)) {
	entry, err := op()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, entry)
}

// identify reads the caller identity set by the gateway
func (s *Service) identify(w http.ResponseWriter, r *http.Request) (types.Identity, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	role := types.UserRole(r.Header.Get("X-User-Role"))
	if err != nil || id <= 0 || !role.Valid() {
		s.writeErrorResponse(w, http.StatusUnauthorized, "Missing or invalid identity", nil)
		return types.Identity{}, false
	}
	return types.Identity{ID: id, Role: role}, true
}

func (s *Service) identifyAs(w http.ResponseWriter, r *http.Request, roles ...types.UserRole) (types.Identity, bool) {
	id, ok := s.identify(w, r)
	if !ok {
		return id, false
	}
	for _, role := range roles {
		if id.Role == role {
			return id, true
		}
	}
	s.writeError(w, r, forbidden())
	return id, false
}

func (s *Service) requireSelfOrAdmin(w http.ResponseWriter, r *http.Request, id types.Identity, role types.UserRole, ownerID int64) bool {
	if id.Role == types.RoleAdmin || (id.Role == role && id.ID == ownerID) {
		return true
	}
	s.writeError(w, r, forbidden())
	return false
}

func (s *Service) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, malformed(name, err))
		return 0, false
	}
	return id, true
}

// decode parses and validates a JSON body, answering the request on failure
func (s *Service) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, r, types.NewMalformedError(types.ErrCodeInvalidInput, "Invalid request body", err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, r, types.NewValidationError(types.ErrCodeInvalidInput, "Invalid request", map[string]interface{}{
			"error": err.Error(),
		}))
		return false
	}
	return true
}

func malformed(field string, cause error) error {
	return types.NewMalformedError(types.ErrCodeInvalidInput, fmt.Sprintf("Invalid %s", field), cause)
}

var errForbidden = errors.New("forbidden")

func forbidden() error { return errForbidden }

var statusByType = map[types.ErrorType]int{
	types.ErrorTypeValidation: http.StatusUnprocessableEntity,
	types.ErrorTypeNotFound:   http.StatusNotFound,
	types.ErrorTypeConflict:   http.StatusConflict,
	types.ErrorTypeMalformed:  http.StatusBadRequest,
	types.ErrorTypeInternal:   http.StatusInternalServerError,
}

// writeError maps a ClinicError to its HTTP status. Anything else is an
// internal fault and its text is not shown to the client.
func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errForbidden) {
		s.writeErrorResponse(w, http.StatusForbidden, "Operation not permitted for this role", nil)
		return
	}

	var ce *types.ClinicError
	if !errors.As(err, &ce) {
		s.logger.WithContext(r.Context()).WithError(err).Error("Request failed")
		s.metrics.RecordSystemError("internal", "http")
		s.writeErrorResponse(w, http.StatusInternalServerError, "Internal server error", nil)
		return
	}

	status, ok := statusByType[ce.Type]
	if !ok {
		status = http.StatusInternalServerError
	}
	s.writeJSONResponse(w, status, map[string]interface{}{
		"error":   ce.Message,
		"code":    ce.Code,
		"type":    ce.Type,
		"details": ce.Details,
		"status":  status,
	})
}

// writeJSONResponse writes a JSON response
func (s *Service) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("Failed to encode JSON response: %v", err)
	}
}

// writeErrorResponse writes an error response
func (s *Service) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": statusCode,
	}

	if err != nil {
		response["details"] = err.Error()
	}

	s.writeJSONResponse(w, statusCode, response)
}
