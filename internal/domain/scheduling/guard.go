package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clinicbook/booking-api/internal/platform/validation"
)

// BookingRequest is the public booking payload.
type BookingRequest struct {
	PatientName     string `json:"patientName" validate:"required,max=200"`
	PhoneNumber     string `json:"phoneNumber" validate:"required,max=32"`
	AppointmentDate string `json:"appointmentDate" validate:"required"`
	AppointmentTime string `json:"appointmentTime" validate:"required,hhmm"`
	Notes           string `json:"notes,omitempty"`
}

// Guard validates booking requests against the clinic rules and admits
// them without ever leaving two active appointments on one slot.
type Guard struct {
	calendar     *Calendar
	validator    *validation.Validator
	appointments AppointmentRepository
	patients     PatientRepository
	tx           TxRunner
	sync         *AggregateSync
}

// Validate checks presence and format of the request fields, then the date
// rules. It returns the parsed appointment date.
func (g *Guard) Validate(req *BookingRequest) (Date, error) {
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.AppointmentDate = strings.TrimSpace(req.AppointmentDate)
	req.AppointmentTime = strings.TrimSpace(req.AppointmentTime)

	fields := validation.FieldErrors(g.validator.Validate(req))
	var date Date
	if req.AppointmentDate != "" {
		d, err := g.calendar.ParseDate(req.AppointmentDate)
		if err != nil {
			if fields == nil {
				fields = map[string]string{}
			}
			fields["appointmentDate"] = "must be a date in YYYY-MM-DD format"
		}
		date = d
	}
	if len(fields) > 0 {
		return Date{}, &ValidationError{Fields: fields}
	}
	if err := g.checkDate(date); err != nil {
		return Date{}, err
	}
	return date, nil
}

// checkDate applies the past-date and business-day rules.
func (g *Guard) checkDate(d Date) error {
	if d.Before(g.calendar.Today()) {
		return ErrPastDate
	}
	if !IsBusinessDay(d) {
		return ErrWeekend
	}
	return nil
}

// CheckConflict fails with ErrSlotTaken when an active appointment already
// holds (d, timeOfDay). It is an early, friendlier rejection only: the
// store's slot constraint is what makes admission safe under concurrency.
func (g *Guard) CheckConflict(ctx context.Context, d Date, timeOfDay string) error {
	taken, err := g.appointments.ExistsActive(ctx, d, timeOfDay)
	if err != nil {
		return fmt.Errorf("check slot conflict: %w", err)
	}
	if taken {
		return ErrSlotTaken
	}
	return nil
}

// Admit validates the request and, in one transaction, finds or creates
// the patient by phone number, inserts a pending appointment and resyncs
// the patient aggregate.
func (g *Guard) Admit(ctx context.Context, req BookingRequest) (*Appointment, error) {
	date, err := g.Validate(&req)
	if err != nil {
		return nil, err
	}
	if err := g.CheckConflict(ctx, date, req.AppointmentTime); err != nil {
		return nil, err
	}

	var created *Appointment
	err = g.tx.WithinTx(ctx, func(ctx context.Context) error {
		patient, _, err := g.patients.FindOrCreateByPhone(ctx, &Patient{
			Name:        req.PatientName,
			PhoneNumber: req.PhoneNumber,
			Gender:      DefaultGender,
		})
		if err != nil {
			return fmt.Errorf("find or create patient: %w", err)
		}

		a := &Appointment{
			PatientID:       patient.ID,
			PatientName:     req.PatientName,
			PhoneNumber:     req.PhoneNumber,
			AppointmentDate: date,
			AppointmentTime: req.AppointmentTime,
			Status:          StatusPending,
			Notes:           strPtr(strings.TrimSpace(req.Notes)),
			TestResults:     []TestResult{},
		}
		if err := g.appointments.Create(ctx, a); err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return err
			}
			return fmt.Errorf("create appointment: %w", err)
		}
		if _, _, err := g.sync.Resync(ctx, patient.ID); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
