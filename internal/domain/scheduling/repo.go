package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentRepository persists appointments. Implementations must reject
// a Create or Update that would leave two active appointments on the same
// (date, time) with ErrSlotTaken, atomically with the write itself.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	ExistsActive(ctx context.Context, date Date, timeOfDay string) (bool, error)
	ActiveTimesOn(ctx context.Context, date Date) ([]string, error)
	// CountActiveByDate returns active appointment counts keyed by
	// YYYY-MM-DD for dates in [from, to].
	CountActiveByDate(ctx context.Context, from, to Date) (map[string]int, error)
	// StatsByPatient returns how many appointments reference the patient
	// (any status) and the latest appointment date, nil when there are none.
	StatsByPatient(ctx context.Context, patientID uuid.UUID) (int, *Date, error)
	Search(ctx context.Context, filter AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
}

// PatientRepository persists patients.
type PatientRepository interface {
	// FindOrCreateByPhone returns the patient holding p.PhoneNumber, creating
	// it from p when none exists. The bool reports whether it was created.
	// A concurrent creator of the same phone number is resolved by fetching
	// its row, never by returning an error.
	FindOrCreateByPhone(ctx context.Context, p *Patient) (*Patient, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// LockForUpdate holds the patient row until the surrounding transaction
	// ends, so concurrent writers of the aggregate or medical record run one
	// after another. Returns ErrNotFound for an unknown id.
	LockForUpdate(ctx context.Context, id uuid.UUID) error
	SetAggregate(ctx context.Context, id uuid.UUID, count int, lastVisit *Date) error
	UpdateMedicalRecord(ctx context.Context, id uuid.UUID, rec MedicalRecord) error
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

// TxRunner runs fn so that every repository call made with the context it
// receives commits or rolls back together.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Cache is the read-through store for availability listings.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// EventPublisher delivers appointment events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

type nopCache struct{}

func (nopCache) GetJSON(context.Context, string, any) (bool, error) { return false, nil }
func (nopCache) SetJSON(context.Context, string, any, time.Duration) error { return nil }
func (nopCache) Delete(context.Context, ...string) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }
