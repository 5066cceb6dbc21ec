package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicbook/booking-api/internal/domain/scheduling"
)

// saturday is 2025-03-01.
var saturday = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newService(store *scheduling.MemoryStore, now time.Time) *scheduling.Service {
	return scheduling.NewService(store.Appointments(), store.Patients(), store, scheduling.Options{
		Calendar: scheduling.NewCalendar(time.UTC).WithClock(func() time.Time { return now }),
		Logger:   zerolog.Nop(),
	})
}

func TestDataGenerator_Deterministic(t *testing.T) {
	days := []scheduling.Date{scheduling.NewDate(2025, 3, 2), scheduling.NewDate(2025, 3, 3)}
	a := NewDataGenerator(42, 5)
	b := NewDataGenerator(42, 5)
	for i := 0; i < 10; i++ {
		ra, rb := a.Booking(days), b.Booking(days)
		if ra != rb {
			t.Fatalf("booking %d differs: %+v vs %+v", i, ra, rb)
		}
	}
}

func TestDataGenerator_Booking(t *testing.T) {
	days := []scheduling.Date{scheduling.NewDate(2025, 3, 2)}
	gen := NewDataGenerator(7, 3)
	if len(gen.patients) != 3 {
		t.Fatalf("expected 3 patients, got %d", len(gen.patients))
	}
	for i := 0; i < 20; i++ {
		req := gen.Booking(days)
		if req.AppointmentDate != "2025-03-02" {
			t.Errorf("unexpected date %s", req.AppointmentDate)
		}
		if len(req.PhoneNumber) != 10 || req.PhoneNumber[:2] != "05" {
			t.Errorf("unexpected phone %s", req.PhoneNumber)
		}
		if req.PatientName == "" {
			t.Error("expected a name")
		}
	}
}

func TestSeeder_Run(t *testing.T) {
	store := scheduling.NewMemoryStore()
	svc := newService(store, saturday)

	result, err := NewSeeder(SeedConfig{Patients: 10, Bookings: 40, HorizonDays: 14, Seed: 1}).Run(context.Background(), svc)
	if err != nil {
		t.Fatal(err)
	}
	if result.Booked+result.Skipped != 40 {
		t.Errorf("expected 40 attempts, got %+v", result)
	}
	if result.Booked == 0 || result.Patients == 0 || result.Patients > 10 {
		t.Errorf("unexpected result %+v", result)
	}

	items, total, _ := svc.SearchAppointments(context.Background(), scheduling.AppointmentFilter{}, 0, 0)
	if total != result.Booked {
		t.Errorf("expected %d stored appointments, got %d", result.Booked, total)
	}
	for _, a := range items {
		if !scheduling.IsBusinessDay(a.AppointmentDate) || !a.AppointmentDate.After(scheduling.NewDate(2025, 3, 1)) {
			t.Errorf("seeded appointment on %s", a.AppointmentDate)
		}
	}
}

func TestSeeder_RunSaturatesWithoutDoubleBooking(t *testing.T) {
	store := scheduling.NewMemoryStore()
	// From Wednesday 2025-03-05 a one-day horizon holds only Thursday, as
	// Friday is closed.
	svc := newService(store, saturday.AddDate(0, 0, 4))

	result, err := NewSeeder(SeedConfig{Patients: 5, Bookings: 200, HorizonDays: 1, Seed: 3}).Run(context.Background(), svc)
	if err != nil {
		t.Fatal(err)
	}
	if result.Booked != scheduling.TotalSlots {
		t.Errorf("expected the day to fill exactly, got %d booked", result.Booked)
	}
	if result.Skipped != 200-scheduling.TotalSlots {
		t.Errorf("expected %d skipped, got %d", 200-scheduling.TotalSlots, result.Skipped)
	}
}

type failingBooker struct{ *scheduling.Service }

func (failingBooker) Book(context.Context, scheduling.BookingRequest) (*scheduling.Appointment, error) {
	return nil, errors.New("store unavailable")
}

func TestSeeder_RunStopsOnError(t *testing.T) {
	svc := newService(scheduling.NewMemoryStore(), saturday)
	_, err := NewSeeder(SeedConfig{Bookings: 5, Seed: 1}).Run(context.Background(), failingBooker{svc})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNewSeeder_Defaults(t *testing.T) {
	s := NewSeeder(SeedConfig{Bookings: -1})
	def := DefaultSeedConfig()
	if s.config.Patients != def.Patients || s.config.HorizonDays != def.HorizonDays || s.config.Bookings != 0 {
		t.Errorf("unexpected config %+v", s.config)
	}
}
