// Package sandbox generates reproducible demo bookings for development and
// demo environments. Bookings go through the scheduling service, so they
// obey the same calendar and slot rules as real ones.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/clinicbook/booking-api/internal/domain/scheduling"
)

// SeedConfig controls the volume of generated data.
type SeedConfig struct {
	Patients    int   `json:"patients"`
	Bookings    int   `json:"bookings"`
	HorizonDays int   `json:"horizonDays"`
	Seed        int64 `json:"seed"`
}

// DefaultSeedConfig returns a config sized for a usable demo calendar.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		Patients:    25,
		Bookings:    60,
		HorizonDays: 21,
	}
}

// SeedResult summarizes a seed run.
type SeedResult struct {
	Patients int           `json:"patients"`
	Booked   int           `json:"booked"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Booker is the part of the scheduling service the seeder drives.
type Booker interface {
	Book(ctx context.Context, req scheduling.BookingRequest) (*scheduling.Appointment, error)
	Calendar() *scheduling.Calendar
}

var (
	firstNames = []string{
		"Sara", "Omar", "Layla", "Khalid", "Noura", "Faisal", "Huda",
		"Yousef", "Reem", "Abdullah", "Mona", "Tariq", "Dana", "Saad",
		"Aisha", "Hamad", "Lina", "Majed", "Ruba", "Nasser",
	}
	lastNames = []string{
		"Ali", "Hadi", "Saleh", "Qahtani", "Otaibi", "Harbi", "Zahrani",
		"Shehri", "Ghamdi", "Dosari", "Mutairi", "Anazi", "Subaie", "Malki",
	}
	notes = []string{
		"", "", "", "first visit", "follow-up on previous scan",
		"referred by GP", "bring previous reports", "prefers morning",
	}
)

type demoPatient struct {
	name  string
	phone string
}

// DataGenerator produces deterministic booking requests.
type DataGenerator struct {
	rng      *rand.Rand
	patients []demoPatient
}

// NewDataGenerator returns a generator with a pool of n patients. If seed
// is 0 a time-based seed is chosen.
func NewDataGenerator(seed int64, n int) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if n <= 0 {
		n = 1
	}
	g := &DataGenerator{rng: rand.New(rand.NewSource(seed))}
	seen := make(map[string]bool, n)
	for len(g.patients) < n {
		phone := g.randomPhone()
		if seen[phone] {
			continue
		}
		seen[phone] = true
		g.patients = append(g.patients, demoPatient{
			name:  g.pick(firstNames) + " " + g.pick(lastNames),
			phone: phone,
		})
	}
	return g
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

// randomPhone returns a local mobile number, 05XXXXXXXX.
func (g *DataGenerator) randomPhone() string {
	return fmt.Sprintf("05%08d", g.rng.Intn(100000000))
}

// Booking returns a request for a random patient on a random day and grid
// slot.
func (g *DataGenerator) Booking(days []scheduling.Date) scheduling.BookingRequest {
	p := g.patients[g.rng.Intn(len(g.patients))]
	grid := scheduling.DailySlotGrid()
	return scheduling.BookingRequest{
		PatientName:     p.name,
		PhoneNumber:     p.phone,
		AppointmentDate: days[g.rng.Intn(len(days))].String(),
		AppointmentTime: grid[g.rng.Intn(len(grid))],
		Notes:           g.pick(notes),
	}
}

// Seeder books generated requests through a Booker.
type Seeder struct {
	config SeedConfig
}

func NewSeeder(config SeedConfig) *Seeder {
	def := DefaultSeedConfig()
	if config.Patients <= 0 {
		config.Patients = def.Patients
	}
	if config.Bookings < 0 {
		config.Bookings = 0
	}
	if config.HorizonDays <= 0 {
		config.HorizonDays = def.HorizonDays
	}
	return &Seeder{config: config}
}

// Run books up to config.Bookings appointments on the business days from
// tomorrow through the horizon. Requests that land on a held slot are
// skipped; any other rejection stops the run.
func (s *Seeder) Run(ctx context.Context, b Booker) (*SeedResult, error) {
	start := time.Now()
	days := slices.Collect(scheduling.BusinessDaysInRange(b.Calendar().Today().AddDays(1), s.config.HorizonDays))
	if len(days) == 0 {
		return nil, errors.New("no business days in the seed horizon")
	}

	gen := NewDataGenerator(s.config.Seed, s.config.Patients)
	result := &SeedResult{}
	phones := make(map[string]bool)
	for i := 0; i < s.config.Bookings; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		req := gen.Booking(days)
		if _, err := b.Book(ctx, req); err != nil {
			if errors.Is(err, scheduling.ErrSlotTaken) {
				result.Skipped++
				continue
			}
			return result, fmt.Errorf("seed booking %d: %w", i, err)
		}
		result.Booked++
		phones[req.PhoneNumber] = true
	}
	result.Patients = len(phones)
	result.Duration = time.Since(start)
	return result, nil
}
