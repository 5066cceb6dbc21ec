package scheduling

import (
	"strings"
	"time"

	"github.com/clinicbook/booking-api/internal/platform/validation"
)

// transitions is the intended status graph. Completed and cancelled are
// terminal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether to is reachable from from in one step.
// Staying in the same status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// UpdateRequest is the admin update payload. Nil fields are left unchanged.
type UpdateRequest struct {
	Status            *string      `json:"status,omitempty"`
	Notes             *string      `json:"notes,omitempty"`
	PatientName       *string      `json:"patientName,omitempty"`
	PhoneNumber       *string      `json:"phoneNumber,omitempty"`
	AppointmentDate   *string      `json:"appointmentDate,omitempty"`
	AppointmentTime   *string      `json:"appointmentTime,omitempty"`
	Diagnosis         *string      `json:"diagnosis,omitempty"`
	Prescription      *string      `json:"prescription,omitempty"`
	DoctorSuggestions *string      `json:"doctorSuggestions,omitempty"`
	TestResults       []TestResult `json:"testResults,omitempty"`
	FollowUpDate      *string      `json:"followUpDate,omitempty"`
}

// Lifecycle applies admin changes to an appointment. By default any known
// status is accepted as a target, matching how staff correct records by
// hand; Strict enforces the transition graph. Timestamps in date fields
// are read in Location, or in their own offset when it is nil.
type Lifecycle struct {
	Strict   bool
	Location *time.Location
}

// Apply validates req and writes it onto a. It reports whether the change
// moves the appointment into completed. a is untouched when an error is
// returned.
func (l Lifecycle) Apply(a *Appointment, req UpdateRequest) (bool, error) {
	next := *a
	fields := map[string]string{}

	if req.Status != nil {
		to := Status(strings.TrimSpace(*req.Status))
		switch {
		case !to.Valid():
			fields["status"] = "must be one of: pending confirmed completed cancelled"
		case l.Strict && !CanTransition(a.Status, to):
			return false, &InvalidTransitionError{From: a.Status, To: to}
		default:
			next.Status = to
		}
	}
	if req.AppointmentDate != nil {
		d, err := ParseDateIn(strings.TrimSpace(*req.AppointmentDate), l.Location)
		if err != nil {
			fields["appointmentDate"] = "must be a date in YYYY-MM-DD format"
		} else {
			next.AppointmentDate = d
		}
	}
	if req.AppointmentTime != nil {
		t := strings.TrimSpace(*req.AppointmentTime)
		if !validation.TimeOfDayPattern.MatchString(t) {
			fields["appointmentTime"] = "must be a time in HH:MM (24-hour) format"
		} else {
			next.AppointmentTime = t
		}
	}
	if req.PatientName != nil {
		if name := strings.TrimSpace(*req.PatientName); name == "" {
			fields["patientName"] = "cannot be empty"
		} else {
			next.PatientName = name
		}
	}
	if req.PhoneNumber != nil {
		if phone := strings.TrimSpace(*req.PhoneNumber); phone == "" {
			fields["phoneNumber"] = "cannot be empty"
		} else {
			next.PhoneNumber = phone
		}
	}
	if req.FollowUpDate != nil {
		if strings.TrimSpace(*req.FollowUpDate) == "" {
			next.FollowUpDate = nil
		} else if d, err := ParseDateIn(strings.TrimSpace(*req.FollowUpDate), l.Location); err != nil {
			fields["followUpDate"] = "must be a date in YYYY-MM-DD format"
		} else {
			next.FollowUpDate = &d
		}
	}
	if len(fields) > 0 {
		return false, &ValidationError{Fields: fields}
	}

	if (req.AppointmentDate != nil || req.AppointmentTime != nil) && next.SlotKey() != a.SlotKey() {
		if !IsBusinessDay(next.AppointmentDate) {
			return false, ErrWeekend
		}
	}

	if req.Notes != nil {
		next.Notes = strPtr(*req.Notes)
	}
	if req.Diagnosis != nil {
		next.Diagnosis = strPtr(*req.Diagnosis)
	}
	if req.Prescription != nil {
		next.Prescription = strPtr(*req.Prescription)
	}
	if req.DoctorSuggestions != nil {
		next.DoctorSuggestions = strPtr(*req.DoctorSuggestions)
	}
	if req.TestResults != nil {
		next.TestResults = req.TestResults
	}

	completing := next.Status == StatusCompleted && a.Status != StatusCompleted
	*a = next
	return completing, nil
}

// MergeCompletion folds the clinical payload of a completed appointment
// into the patient's record. Test results are appended to the history.
func MergeCompletion(rec *MedicalRecord, a *Appointment) {
	if d := strVal(a.Diagnosis); d != "" {
		rec.Diagnosis = d
	}
	if s := strVal(a.DoctorSuggestions); s != "" {
		rec.DoctorSuggestions = s
	}
	for _, tr := range a.TestResults {
		if tr.Date == nil {
			d := a.AppointmentDate
			tr.Date = &d
		}
		rec.TestResults = append(rec.TestResults, tr)
	}
	visit := a.AppointmentDate
	rec.LastDoctorVisit = &visit
	tested := a.AppointmentDate
	rec.LastTestDate = &tested
}
