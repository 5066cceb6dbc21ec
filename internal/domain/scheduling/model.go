package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// DefaultGender is assigned to patients created implicitly by a booking.
const DefaultGender = "unknown"

var validStatuses = map[Status]bool{
	StatusPending: true, StatusConfirmed: true,
	StatusCompleted: true, StatusCancelled: true,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool { return validStatuses[s] }

// Active reports whether an appointment in this status holds its slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal reports whether no further transition is expected from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// TestResult is a single clinical test outcome attached to an appointment
// and, once the appointment is completed, to the patient's history.
type TestResult struct {
	Name   string `json:"name"`
	Result string `json:"result"`
	Date   *Date  `json:"date,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// Appointment maps to the appointments table.
type Appointment struct {
	ID                uuid.UUID    `json:"id"`
	AppointmentNumber string       `json:"appointmentNumber,omitempty"`
	PatientID         uuid.UUID    `json:"patientId"`
	PatientName       string       `json:"patientName"`
	PhoneNumber       string       `json:"phoneNumber"`
	AppointmentDate   Date         `json:"appointmentDate"`
	AppointmentTime   string       `json:"appointmentTime"`
	Status            Status       `json:"status"`
	Notes             *string      `json:"notes,omitempty"`
	Diagnosis         *string      `json:"diagnosis,omitempty"`
	Prescription      *string      `json:"prescription,omitempty"`
	DoctorSuggestions *string      `json:"doctorSuggestions,omitempty"`
	TestResults       []TestResult `json:"testResults"`
	FollowUpDate      *Date        `json:"followUpDate,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// SlotKey identifies the slot the appointment occupies.
func (a *Appointment) SlotKey() string {
	return a.AppointmentDate.String() + " " + a.AppointmentTime
}

// MedicalRecord is the clinical history kept on the patient. It is only
// written when an appointment is completed.
type MedicalRecord struct {
	Diagnosis         string       `json:"diagnosis,omitempty"`
	DoctorSuggestions string       `json:"doctorSuggestions,omitempty"`
	TestResults       []TestResult `json:"testResults"`
	LastDoctorVisit   *Date        `json:"lastDoctorVisit,omitempty"`
	LastTestDate      *Date        `json:"lastTestDate,omitempty"`
}

// Patient maps to the patients table. AppointmentCount and LastVisit are a
// denormalized aggregate over the patient's appointments and are only ever
// written by AggregateSync.
type Patient struct {
	ID               uuid.UUID     `json:"id"`
	Name             string        `json:"name"`
	PhoneNumber      string        `json:"phoneNumber"`
	Gender           string        `json:"gender"`
	AppointmentCount int           `json:"appointmentCount"`
	LastVisit        *Date         `json:"lastVisit"`
	MedicalRecord    MedicalRecord `json:"medicalRecord"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// AppointmentFilter narrows the admin appointment listing.
type AppointmentFilter struct {
	Status    *Status
	Date      *Date
	PatientID *uuid.UUID
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
