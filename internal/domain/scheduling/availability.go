package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	OpeningHour = 8
	// ClosingHour is the start hour of the last slot. The grid is inclusive
	// of it, which yields an 18:00 appointment.
	ClosingHour = 18
	// TotalSlots is the length of the daily grid. Capacity is one
	// appointment per slot.
	TotalSlots = ClosingHour - OpeningHour + 1
)

// ClosedDayMessage accompanies the empty slot list of a closed day.
const ClosedDayMessage = "the clinic is closed on Friday and Saturday"

const (
	datesCacheKeyPrefix = "availability:dates:"
	slotsCacheKeyPrefix = "availability:slots:"
)

// DayAvailability is the capacity summary of one business day.
type DayAvailability struct {
	Date           Date `json:"date"`
	Available      bool `json:"available"`
	AvailableSlots int  `json:"availableSlots"`
	TotalSlots     int  `json:"totalSlots"`
	BookedSlots    int  `json:"bookedSlots"`
}

// DailySlotGrid returns the slot start times of every business day, HH:00
// from OpeningHour through ClosingHour.
func DailySlotGrid() []string {
	grid := make([]string, 0, TotalSlots)
	for h := OpeningHour; h <= ClosingHour; h++ {
		grid = append(grid, fmt.Sprintf("%02d:00", h))
	}
	return grid
}

func newDayAvailability(d Date, booked int) DayAvailability {
	available := TotalSlots - booked
	if available < 0 {
		available = 0
	}
	return DayAvailability{
		Date:           d,
		Available:      available > 0,
		AvailableSlots: available,
		TotalSlots:     TotalSlots,
		BookedSlots:    booked,
	}
}

// Availability computes per-day and per-slot capacity from the active
// appointments. Listings may be cached; admission never reads the cache.
//
// gen counts invalidations made by this process. A listing remembers gen
// before reading the store and is only cached if no invalidation happened
// meanwhile, so a read racing a booking cannot repopulate the cache with
// pre-booking counts. Invalidations made by other instances sharing the
// cache are not seen; such an entry stays stale for at most cacheTTL.
type Availability struct {
	calendar     *Calendar
	appointments AppointmentRepository
	cache        Cache
	cacheTTL     time.Duration
	horizonDays  int
	logger       zerolog.Logger

	mu  sync.RWMutex
	gen uint64
}

func newAvailability(cal *Calendar, appts AppointmentRepository, cache Cache, ttl time.Duration, horizon int, logger zerolog.Logger) *Availability {
	return &Availability{
		calendar:     cal,
		appointments: appts,
		cache:        cache,
		cacheTTL:     ttl,
		horizonDays:  horizon,
		logger:       logger,
	}
}

// ForDate summarizes capacity on d from the live store.
func (a *Availability) ForDate(ctx context.Context, d Date) (DayAvailability, error) {
	counts, err := a.appointments.CountActiveByDate(ctx, d, d)
	if err != nil {
		return DayAvailability{}, fmt.Errorf("count active appointments: %w", err)
	}
	return newDayAvailability(d, counts[d.String()]), nil
}

// AvailableDates lists every business day of the booking horizon starting
// today, with its capacity. Closed days are omitted.
func (a *Availability) AvailableDates(ctx context.Context) ([]DayAvailability, error) {
	today := a.calendar.Today()
	key := datesCacheKeyPrefix + today.String()
	gen := a.generation()

	var cached []DayAvailability
	if ok := a.cacheGet(ctx, key, &cached); ok {
		return cached, nil
	}

	counts, err := a.appointments.CountActiveByDate(ctx, today, today.AddDays(a.horizonDays))
	if err != nil {
		return nil, fmt.Errorf("count active appointments: %w", err)
	}
	days := make([]DayAvailability, 0, a.horizonDays)
	for d := range BusinessDaysInRange(today, a.horizonDays) {
		days = append(days, newDayAvailability(d, counts[d.String()]))
	}

	a.cacheSet(ctx, gen, key, days)
	return days, nil
}

// OpenSlots returns the grid times on d that no active appointment holds,
// in grid order. A closed day yields an empty list and ClosedDayMessage.
func (a *Availability) OpenSlots(ctx context.Context, d Date) ([]string, string, error) {
	if !IsBusinessDay(d) {
		return []string{}, ClosedDayMessage, nil
	}

	key := slotsCacheKeyPrefix + d.String()
	gen := a.generation()
	var cached []string
	if ok := a.cacheGet(ctx, key, &cached); ok {
		return cached, "", nil
	}

	taken, err := a.appointments.ActiveTimesOn(ctx, d)
	if err != nil {
		return nil, "", fmt.Errorf("list booked times: %w", err)
	}
	booked := make(map[string]bool, len(taken))
	for _, t := range taken {
		booked[t] = true
	}
	open := make([]string, 0, TotalSlots)
	for _, t := range DailySlotGrid() {
		if !booked[t] {
			open = append(open, t)
		}
	}

	a.cacheSet(ctx, gen, key, open)
	return open, "", nil
}

// IsSlotAvailable reports whether (d, timeOfDay) can currently be booked.
// Closed days are never available.
func (a *Availability) IsSlotAvailable(ctx context.Context, d Date, timeOfDay string) (bool, error) {
	if !IsBusinessDay(d) {
		return false, nil
	}
	taken, err := a.appointments.ExistsActive(ctx, d, timeOfDay)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return !taken, nil
}

// Invalidate drops cached listings affected by writes on the given dates.
func (a *Availability) Invalidate(ctx context.Context, dates ...Date) {
	keys := []string{datesCacheKeyPrefix + a.calendar.Today().String()}
	for _, d := range dates {
		if !d.IsZero() {
			keys = append(keys, slotsCacheKeyPrefix+d.String())
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	if err := a.cache.Delete(ctx, keys...); err != nil {
		a.logger.Warn().Err(err).Strs("keys", keys).Msg("availability cache invalidation failed")
	}
}

func (a *Availability) cacheGet(ctx context.Context, key string, dst any) bool {
	ok, err := a.cache.GetJSON(ctx, key, dst)
	if err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("availability cache read failed")
		return false
	}
	return ok
}

func (a *Availability) generation() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gen
}

// cacheSet stores v unless an invalidation happened after gen was read.
func (a *Availability) cacheSet(ctx context.Context, gen uint64, key string, v any) {
	if a.cacheTTL <= 0 {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.gen != gen {
		return
	}
	if err := a.cache.SetJSON(ctx, key, v, a.cacheTTL); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("availability cache write failed")
	}
}
