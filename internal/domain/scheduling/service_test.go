package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var clinicZone = time.FixedZone("AST", 3*60*60)

// testToday is Saturday 2025-03-01 in the clinic's zone.
var testToday = time.Date(2025, 3, 1, 10, 0, 0, 0, clinicZone)

// monday is the first business day after testToday with a full grid.
var monday = NewDate(2025, 3, 10)

// -- Fakes --

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *memCache) SetJSON(_ context.Context, key string, v any, _ time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = b
	return nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []AppointmentEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if evt, ok := payload.(AppointmentEvent); ok {
		p.events = append(p.events, evt)
	}
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type testEnv struct {
	svc    *Service
	store  *MemoryStore
	cache  *memCache
	events *recordingPublisher
}

func newTestEnv(t *testing.T, strict bool) *testEnv {
	t.Helper()
	store := NewMemoryStore()
	env := &testEnv{store: store, cache: newMemCache(), events: &recordingPublisher{}}
	env.svc = NewService(store.Appointments(), store.Patients(), store, Options{
		Calendar:          NewCalendar(clinicZone).WithClock(func() time.Time { return testToday }),
		Cache:             env.cache,
		CacheTTL:          time.Minute,
		Events:            env.events,
		HorizonDays:       14,
		StrictTransitions: strict,
		Logger:            zerolog.Nop(),
	})
	return env
}

func bookingFor(name, phone string, d Date, timeOfDay string) BookingRequest {
	return BookingRequest{
		PatientName:     name,
		PhoneNumber:     phone,
		AppointmentDate: d.String(),
		AppointmentTime: timeOfDay,
	}
}

func (env *testEnv) book(t *testing.T, req BookingRequest) *Appointment {
	t.Helper()
	a, err := env.svc.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("Book(%+v): %v", req, err)
	}
	return a
}

func (env *testEnv) countAppointments(t *testing.T) int {
	t.Helper()
	_, total, err := env.svc.SearchAppointments(context.Background(), AppointmentFilter{}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	return total
}

func strp(s string) *string { return &s }

// -- Booking --

func TestService_Book(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:00"))

	if a.ID == uuid.Nil || a.PatientID == uuid.Nil {
		t.Fatalf("expected IDs to be assigned, got %+v", a)
	}
	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
	if a.AppointmentNumber != "APT-000001" {
		t.Errorf("expected APT-000001, got %s", a.AppointmentNumber)
	}
	if !a.AppointmentDate.Equal(monday) || a.AppointmentTime != "09:00" {
		t.Errorf("unexpected slot %s", a.SlotKey())
	}
	if got := env.events.types(); len(got) != 1 || got[0] != EventAppointmentBooked {
		t.Errorf("expected one booked event, got %v", got)
	}
}

func TestService_Book_ValidationCreatesNothing(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.svc.Book(context.Background(), BookingRequest{
		PhoneNumber:     "0551112222",
		AppointmentDate: "10-03-2025",
		AppointmentTime: "9am",
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, f := range []string{"patientName", "appointmentDate", "appointmentTime"} {
		if _, ok := ve.Fields[f]; !ok {
			t.Errorf("expected a message for %s, got %v", f, ve.Fields)
		}
	}
	if n := env.countAppointments(t); n != 0 {
		t.Errorf("expected no appointments, got %d", n)
	}
	ids, _ := env.store.Patients().ListIDs(context.Background())
	if len(ids) != 0 {
		t.Errorf("expected no patients, got %d", len(ids))
	}
}

func TestService_Book_DateRules(t *testing.T) {
	tests := []struct {
		name string
		date Date
		want error
	}{
		{"friday", NewDate(2025, 3, 7), ErrWeekend},
		{"saturday", NewDate(2025, 3, 8), ErrWeekend},
		{"yesterday", NewDate(2025, 2, 28), ErrPastDate},
		{"past weekday", NewDate(2025, 2, 24), ErrPastDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			_, err := env.svc.Book(context.Background(), bookingFor("Sara Ali", "0551112222", tt.date, "09:00"))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if n := env.countAppointments(t); n != 0 {
				t.Errorf("expected no appointments, got %d", n)
			}
		})
	}
}

func TestService_Book_TimestampReadInClinicZone(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	// 22:00 UTC on Thursday 2025-03-13 is 01:00 on Friday in the clinic.
	req := bookingFor("Sara Ali", "0551112222", monday, "09:00")
	req.AppointmentDate = "2025-03-13T22:00:00Z"
	if _, err := env.svc.Book(ctx, req); !errors.Is(err, ErrWeekend) {
		t.Fatalf("expected ErrWeekend, got %v", err)
	}

	// 20:00 UTC is still Thursday in the clinic.
	req.AppointmentDate = "2025-03-13T20:00:00Z"
	a, err := env.svc.Book(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if a.AppointmentDate.String() != "2025-03-13" {
		t.Errorf("expected 2025-03-13, got %s", a.AppointmentDate)
	}

	moved, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{AppointmentDate: strp("2025-03-15T21:30:00Z")})
	if err != nil {
		t.Fatal(err)
	}
	if moved.AppointmentDate.String() != "2025-03-16" {
		t.Errorf("expected the move to land on 2025-03-16 in the clinic zone, got %s", moved.AppointmentDate)
	}
}

func TestService_Book_TodayIsAllowed(t *testing.T) {
	env := newTestEnv(t, false)
	// 2025-03-02 is a Sunday.
	env.svc.calendar = env.svc.calendar.WithClock(func() time.Time {
		return time.Date(2025, 3, 2, 7, 0, 0, 0, clinicZone)
	})
	env.svc.guard.calendar = env.svc.calendar

	if _, err := env.svc.Book(context.Background(), bookingFor("Sara Ali", "0551112222", NewDate(2025, 3, 2), "17:00")); err != nil {
		t.Fatalf("expected booking for today to succeed, got %v", err)
	}
}

func TestService_Book_SequentialConflict(t *testing.T) {
	env := newTestEnv(t, false)
	env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:00"))

	_, err := env.svc.Book(context.Background(), bookingFor("Omar Hadi", "0553334444", monday, "09:00"))
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	if ErrorCode(err) != "SLOT_TAKEN" {
		t.Errorf("expected SLOT_TAKEN code, got %q", ErrorCode(err))
	}
	if n := env.countAppointments(t); n != 1 {
		t.Errorf("expected 1 appointment, got %d", n)
	}
	ids, _ := env.store.Patients().ListIDs(context.Background())
	if len(ids) != 1 {
		t.Errorf("rejected booking must not leave a patient behind, got %d patients", len(ids))
	}
}

func TestService_Book_ConcurrentSameSlot(t *testing.T) {
	env := newTestEnv(t, false)
	const n = 20

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		taken   int
		unknown []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			phone := "05500000" + string(rune('A'+i))
			_, err := env.svc.Book(context.Background(), bookingFor("Patient", phone, monday, "10:00"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrSlotTaken):
				taken++
			default:
				unknown = append(unknown, err)
			}
		}(i)
	}
	wg.Wait()

	if len(unknown) > 0 {
		t.Fatalf("unexpected errors: %v", unknown)
	}
	if ok != 1 || taken != n-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", n-1, ok, taken)
	}
	times, _ := env.store.Appointments().ActiveTimesOn(context.Background(), monday)
	if len(times) != 1 {
		t.Errorf("expected exactly one active appointment, got %v", times)
	}
}

func TestService_Book_ConcurrentDifferentSlots(t *testing.T) {
	env := newTestEnv(t, false)
	grid := DailySlotGrid()

	var wg sync.WaitGroup
	errs := make(chan error, len(grid))
	for _, slot := range grid {
		wg.Add(1)
		go func(slot string) {
			defer wg.Done()
			_, err := env.svc.Book(context.Background(), bookingFor("Sara Ali", "0551112222", monday, slot))
			errs <- err
		}(slot)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}

	ids, _ := env.store.Patients().ListIDs(context.Background())
	if len(ids) != 1 {
		t.Fatalf("expected one patient for one phone number, got %d", len(ids))
	}
	p, _ := env.svc.GetPatient(context.Background(), ids[0])
	if p.AppointmentCount != len(grid) {
		t.Errorf("expected count %d, got %d", len(grid), p.AppointmentCount)
	}
}

func TestService_Book_OffGridTimeAccepted(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:30"))
	if a.AppointmentTime != "09:30" {
		t.Errorf("expected 09:30, got %s", a.AppointmentTime)
	}

	ok, err := env.svc.IsSlotAvailable(context.Background(), monday, "09:30")
	if err != nil || ok {
		t.Errorf("expected 09:30 to be taken, got %v, %v", ok, err)
	}
	slots, _, _ := env.svc.OpenSlots(context.Background(), monday)
	if len(slots) != TotalSlots {
		t.Errorf("off-grid booking must not remove a grid slot, got %d open", len(slots))
	}
}

func TestService_Book_PublishFailureKeepsBooking(t *testing.T) {
	env := newTestEnv(t, false)
	env.events.err = errors.New("broker down")

	if _, err := env.svc.Book(context.Background(), bookingFor("Sara Ali", "0551112222", monday, "09:00")); err != nil {
		t.Fatalf("expected booking to succeed, got %v", err)
	}
	if n := env.countAppointments(t); n != 1 {
		t.Errorf("expected 1 appointment, got %d", n)
	}
}

// -- Aggregates --

func TestService_PatientAggregate(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	a := env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:00"))

	p, err := env.svc.GetPatient(ctx, a.PatientID)
	if err != nil {
		t.Fatal(err)
	}
	if p.AppointmentCount != 1 || p.LastVisit == nil || !p.LastVisit.Equal(monday) {
		t.Fatalf("expected count 1 and lastVisit %s, got %d and %v", monday, p.AppointmentCount, p.LastVisit)
	}
	if p.Gender != DefaultGender || p.Name != "Sara Ali" {
		t.Errorf("unexpected patient %+v", p)
	}

	later := monday.AddDays(1)
	env.book(t, bookingFor("Sara A.", "0551112222", later, "11:00"))
	p, _ = env.svc.GetPatient(ctx, a.PatientID)
	if p.AppointmentCount != 2 || !p.LastVisit.Equal(later) {
		t.Fatalf("expected count 2 and lastVisit %s, got %d and %v", later, p.AppointmentCount, p.LastVisit)
	}
	if p.Name != "Sara Ali" {
		t.Errorf("existing patient name must be kept, got %s", p.Name)
	}
}

func TestService_DeleteRecomputesAggregate(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	a := env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:00"))

	if err := env.svc.DeleteAppointment(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	p, _ := env.svc.GetPatient(ctx, a.PatientID)
	if p.AppointmentCount != 0 || p.LastVisit != nil {
		t.Fatalf("expected count 0 and no lastVisit, got %d and %v", p.AppointmentCount, p.LastVisit)
	}
	if ok, _ := env.svc.IsSlotAvailable(ctx, monday, "09:00"); !ok {
		t.Error("deleted appointment must free its slot")
	}
	if err := env.svc.DeleteAppointment(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestService_ResyncIsIdempotent(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	a := env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:00"))

	for i := 0; i < 3; i++ {
		p, err := env.svc.ResyncPatient(ctx, a.PatientID)
		if err != nil {
			t.Fatal(err)
		}
		if p.AppointmentCount != 1 || !p.LastVisit.Equal(monday) {
			t.Fatalf("resync %d: got count %d lastVisit %v", i, p.AppointmentCount, p.LastVisit)
		}
	}
	if _, err := env.svc.ResyncPatient(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown patient, got %v", err)
	}
}

func TestService_ReconcileAggregatesRepairsDrift(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	a := env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:00"))
	env.book(t, bookingFor("Omar Hadi", "0553334444", monday, "10:00"))

	if err := env.store.Patients().SetAggregate(ctx, a.PatientID, 42, nil); err != nil {
		t.Fatal(err)
	}
	n, err := env.svc.ReconcileAggregates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 patients reconciled, got %d", n)
	}
	p, _ := env.svc.GetPatient(ctx, a.PatientID)
	if p.AppointmentCount != 1 || p.LastVisit == nil {
		t.Errorf("expected drift repaired, got %d and %v", p.AppointmentCount, p.LastVisit)
	}
}

// -- Updates --

func TestService_UpdateStatus(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	a := env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:00"))

	updated, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{Status: strp("confirmed")})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", updated.Status)
	}
	if ok, _ := env.svc.IsSlotAvailable(ctx, monday, "09:00"); ok {
		t.Error("confirmed appointment must keep its slot")
	}

	if _, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{Status: strp("cancelled")}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := env.svc.IsSlotAvailable(ctx, monday, "09:00"); !ok {
		t.Error("cancelled appointment must free its slot")
	}
	env.book(t, bookingFor("Omar Hadi", "0553334444", monday, "09:00"))

	got := env.events.types()
	want := []string{EventAppointmentBooked, EventAppointmentUpdated, EventAppointmentUpdated, EventAppointmentBooked}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestService_UpdateReactivateIntoTakenSlot(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	a := env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:00"))
	if _, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{Status: strp("cancelled")}); err != nil {
		t.Fatal(err)
	}
	env.book(t, bookingFor("Omar Hadi", "0553334444", monday, "09:00"))

	_, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{Status: strp("pending")})
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	got, _ := env.svc.GetAppointment(ctx, a.ID)
	if got.Status != StatusCancelled {
		t.Errorf("failed update must leave the appointment cancelled, got %s", got.Status)
	}
}

func TestService_UpdateMoveSlot(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	a := env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:00"))
	env.book(t, bookingFor("Omar Hadi", "0553334444", monday, "10:00"))

	if _, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{AppointmentTime: strp("10:00")}); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken moving onto a held slot, got %v", err)
	}
	friday := NewDate(2025, 3, 14)
	if _, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{AppointmentDate: strp(friday.String())}); !errors.Is(err, ErrWeekend) {
		t.Fatalf("expected ErrWeekend moving onto a Friday, got %v", err)
	}

	tuesday := monday.AddDays(1)
	moved, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{AppointmentDate: strp(tuesday.String()), AppointmentTime: strp("14:00")})
	if err != nil {
		t.Fatal(err)
	}
	if moved.SlotKey() != tuesday.String()+" 14:00" {
		t.Errorf("unexpected slot %s", moved.SlotKey())
	}
	if ok, _ := env.svc.IsSlotAvailable(ctx, monday, "09:00"); !ok {
		t.Error("old slot must be released")
	}
	p, _ := env.svc.GetPatient(ctx, a.PatientID)
	if !p.LastVisit.Equal(tuesday) {
		t.Errorf("expected lastVisit %s after move, got %v", tuesday, p.LastVisit)
	}
}

func TestService_UpdateStrictTransitions(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	a := env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:00"))

	if _, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{Status: strp("completed")}); err == nil {
		t.Fatal("expected pending -> completed to be rejected in strict mode")
	}
	for _, s := range []string{"confirmed", "completed"} {
		if _, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{Status: strp(s)}); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	_, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{Status: strp("pending")})
	var te *InvalidTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if te.From != StatusCompleted || te.To != StatusPending {
		t.Errorf("unexpected transition error %+v", te)
	}
}

func TestService_UpdatePermissiveTransitions(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	a := env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:00"))

	for _, s := range []string{"completed", "pending"} {
		if _, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{Status: strp(s)}); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if _, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{Status: strp("archived")}); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
}

func TestService_CompletionMergesMedicalRecord(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	a := env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:00"))

	_, err := env.svc.UpdateAppointment(ctx, a.ID, UpdateRequest{
		Status:            strp("completed"),
		Diagnosis:         strp("Seasonal allergy"),
		DoctorSuggestions: strp("Antihistamine for two weeks"),
		TestResults:       []TestResult{{Name: "CBC", Result: "normal"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	p, _ := env.svc.GetPatient(ctx, a.PatientID)
	rec := p.MedicalRecord
	if rec.Diagnosis != "Seasonal allergy" || rec.DoctorSuggestions != "Antihistamine for two weeks" {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(rec.TestResults) != 1 || rec.TestResults[0].Name != "CBC" {
		t.Fatalf("expected CBC in history, got %+v", rec.TestResults)
	}
	if rec.TestResults[0].Date == nil || !rec.TestResults[0].Date.Equal(monday) {
		t.Errorf("expected test date to default to the appointment date, got %v", rec.TestResults[0].Date)
	}
	if rec.LastDoctorVisit == nil || !rec.LastDoctorVisit.Equal(monday) {
		t.Errorf("expected lastDoctorVisit %s, got %v", monday, rec.LastDoctorVisit)
	}

	// A second completion appends rather than replaces.
	b := env.book(t, bookingFor("Sara Ali", "0551112222", monday.AddDays(1), "09:00"))
	_, err = env.svc.UpdateAppointment(ctx, b.ID, UpdateRequest{
		Status:      strp("completed"),
		TestResults: []TestResult{{Name: "HbA1c", Result: "5.4%"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	p, _ = env.svc.GetPatient(ctx, a.PatientID)
	if len(p.MedicalRecord.TestResults) != 2 {
		t.Fatalf("expected 2 test results, got %+v", p.MedicalRecord.TestResults)
	}
	if p.MedicalRecord.Diagnosis != "Seasonal allergy" {
		t.Errorf("empty diagnosis must not clear the record, got %q", p.MedicalRecord.Diagnosis)
	}
}

func TestService_UpdateNotFound(t *testing.T) {
	env := newTestEnv(t, false)
	_, err := env.svc.UpdateAppointment(context.Background(), uuid.New(), UpdateRequest{Status: strp("confirmed")})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_SearchAppointments(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	a := env.book(t, bookingFor("Sara Ali", "0551112222", monday, "09:00"))
	env.book(t, bookingFor("Sara Ali", "0551112222", monday.AddDays(1), "09:00"))
	env.book(t, bookingFor("Omar Hadi", "0553334444", monday, "10:00"))

	items, total, err := env.svc.SearchAppointments(ctx, AppointmentFilter{PatientID: &a.PatientID}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 appointments for patient, got %d/%d", len(items), total)
	}
	if !items[0].AppointmentDate.After(items[1].AppointmentDate) {
		t.Error("expected newest appointment first")
	}

	d := monday
	items, total, _ = env.svc.SearchAppointments(ctx, AppointmentFilter{Date: &d}, 1, 0)
	if total != 2 || len(items) != 1 {
		t.Fatalf("expected page of 1 out of 2, got %d/%d", len(items), total)
	}
	if items[0].AppointmentTime != "10:00" {
		t.Errorf("expected later time first on the same day, got %s", items[0].AppointmentTime)
	}
}
