package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicbook/booking-api/internal/platform/validation"
)

// Event types published after a committed write.
const (
	EventAppointmentBooked  = "appointment.booked"
	EventAppointmentUpdated = "appointment.updated"
	EventAppointmentDeleted = "appointment.deleted"
)

// AppointmentEvent is the payload published for every appointment write.
type AppointmentEvent struct {
	Type            string    `json:"type"`
	AppointmentID   uuid.UUID `json:"appointmentId"`
	PatientID       uuid.UUID `json:"patientId"`
	PhoneNumber     string    `json:"phoneNumber"`
	AppointmentDate Date      `json:"appointmentDate"`
	AppointmentTime string    `json:"appointmentTime"`
	Status          Status    `json:"status"`
	PreviousStatus  Status    `json:"previousStatus,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// Options configures a Service. Zero values select no cache, no event
// delivery, the default horizon and permissive status changes.
type Options struct {
	Calendar          *Calendar
	Cache             Cache
	CacheTTL          time.Duration
	Events            EventPublisher
	HorizonDays       int
	StrictTransitions bool
	Logger            zerolog.Logger
}

type Service struct {
	appointments AppointmentRepository
	patients     PatientRepository
	tx           TxRunner
	calendar     *Calendar
	availability *Availability
	guard        *Guard
	lifecycle    Lifecycle
	sync         *AggregateSync
	events       EventPublisher
	logger       zerolog.Logger
}

func NewService(appts AppointmentRepository, patients PatientRepository, tx TxRunner, opts Options) *Service {
	if opts.Calendar == nil {
		opts.Calendar = NewCalendar(time.UTC)
	}
	if opts.Cache == nil {
		opts.Cache = nopCache{}
	}
	if opts.Events == nil {
		opts.Events = nopPublisher{}
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = DefaultHorizonDays
	}
	sync := &AggregateSync{appointments: appts, patients: patients, tx: tx, logger: opts.Logger}
	return &Service{
		appointments: appts,
		patients:     patients,
		tx:           tx,
		calendar:     opts.Calendar,
		availability: newAvailability(opts.Calendar, appts, opts.Cache, opts.CacheTTL, opts.HorizonDays, opts.Logger),
		guard: &Guard{
			calendar:     opts.Calendar,
			validator:    validation.New(),
			appointments: appts,
			patients:     patients,
			tx:           tx,
			sync:         sync,
		},
		lifecycle: Lifecycle{Strict: opts.StrictTransitions, Location: opts.Calendar.Location()},
		sync:      sync,
		events:    opts.Events,
		logger:    opts.Logger,
	}
}

// Calendar exposes the clinic calendar used by the service.
func (s *Service) Calendar() *Calendar { return s.calendar }

// -- Availability --

func (s *Service) AvailableDates(ctx context.Context) ([]DayAvailability, error) {
	return s.availability.AvailableDates(ctx)
}

func (s *Service) AvailabilityForDate(ctx context.Context, d Date) (DayAvailability, error) {
	return s.availability.ForDate(ctx, d)
}

func (s *Service) OpenSlots(ctx context.Context, d Date) ([]string, string, error) {
	return s.availability.OpenSlots(ctx, d)
}

func (s *Service) IsSlotAvailable(ctx context.Context, d Date, timeOfDay string) (bool, error) {
	return s.availability.IsSlotAvailable(ctx, d, timeOfDay)
}

// -- Booking --

// Book admits a public booking request.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	a, err := s.guard.Admit(ctx, req)
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			s.logger.Info().
				Str("date", req.AppointmentDate).
				Str("time", req.AppointmentTime).
				Msg("booking rejected: slot taken")
		}
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("patient_id", a.PatientID.String()).
		Str("slot", a.SlotKey()).
		Msg("appointment booked")
	s.afterWrite(ctx, EventAppointmentBooked, a, "", a.AppointmentDate)
	return a, nil
}

// -- Admin --

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) SearchAppointments(ctx context.Context, filter AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.Search(ctx, filter, limit, offset)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// UpdateAppointment applies an admin change. Entering completed merges the
// clinical payload into the patient record; every update resyncs the
// patient aggregate in the same transaction.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Appointment, error) {
	var updated *Appointment
	var prev Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		prev = *a

		completing, err := s.lifecycle.Apply(a, req)
		if err != nil {
			return err
		}
		if err := s.appointments.Update(ctx, a); err != nil {
			if errors.Is(err, ErrSlotTaken) || errors.Is(err, ErrNotFound) {
				return err
			}
			return fmt.Errorf("update appointment: %w", err)
		}

		if completing {
			if err := s.patients.LockForUpdate(ctx, a.PatientID); err != nil {
				return fmt.Errorf("lock patient %s: %w", a.PatientID, err)
			}
			patient, err := s.patients.GetByID(ctx, a.PatientID)
			if err != nil {
				return fmt.Errorf("load patient %s: %w", a.PatientID, err)
			}
			rec := patient.MedicalRecord
			MergeCompletion(&rec, a)
			if err := s.patients.UpdateMedicalRecord(ctx, a.PatientID, rec); err != nil {
				return fmt.Errorf("update medical record: %w", err)
			}
		}

		if _, _, err := s.sync.Resync(ctx, a.PatientID); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", updated.ID.String()).
		Str("from", string(prev.Status)).
		Str("to", string(updated.Status)).
		Msg("appointment updated")
	s.afterWrite(ctx, EventAppointmentUpdated, updated, prev.Status, prev.AppointmentDate, updated.AppointmentDate)
	return updated, nil
}

// DeleteAppointment hard-deletes an appointment and recomputes the
// patient aggregate from the remaining rows.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	var deleted *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.appointments.Delete(ctx, id); err != nil {
			return err
		}
		if _, _, err := s.sync.Resync(ctx, a.PatientID); err != nil {
			return err
		}
		deleted = a
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("appointment_id", deleted.ID.String()).
		Str("patient_id", deleted.PatientID.String()).
		Msg("appointment deleted")
	s.afterWrite(ctx, EventAppointmentDeleted, deleted, deleted.Status, deleted.AppointmentDate)
	return nil
}

// ResyncPatient recomputes one patient's aggregate on demand.
func (s *Service) ResyncPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.patients.GetByID(ctx, id); err != nil {
			return err
		}
		_, _, err := s.sync.Resync(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.patients.GetByID(ctx, id)
}

// ReconcileAggregates resyncs every patient.
func (s *Service) ReconcileAggregates(ctx context.Context) (int, error) {
	return s.sync.ReconcileAll(ctx)
}

// afterWrite runs the post-commit side effects. Failures are logged and
// never undo the committed write.
func (s *Service) afterWrite(ctx context.Context, eventType string, a *Appointment, prevStatus Status, dates ...Date) {
	s.availability.Invalidate(ctx, dates...)

	evt := AppointmentEvent{
		Type:            eventType,
		AppointmentID:   a.ID,
		PatientID:       a.PatientID,
		PhoneNumber:     a.PhoneNumber,
		AppointmentDate: a.AppointmentDate,
		AppointmentTime: a.AppointmentTime,
		Status:          a.Status,
		PreviousStatus:  prevStatus,
		OccurredAt:      time.Now().UTC(),
	}
	if err := s.events.Publish(ctx, a.ID.String(), evt); err != nil {
		s.logger.Warn().Err(err).
			Str("event", eventType).
			Str("appointment_id", a.ID.String()).
			Msg("publish appointment event failed")
	}
}
