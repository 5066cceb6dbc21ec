package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of both repositories and of
// TxRunner. It enforces the same constraints as the Postgres schema: one
// active appointment per slot and unique patient phone numbers. Transactions
// are serialized and roll back by restoring a snapshot.
type MemoryStore struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*Appointment
	patients     map[uuid.UUID]*Patient
	byPhone      map[string]uuid.UUID // phone number -> patient ID
	activeSlots  map[string]uuid.UUID // slot key -> appointment ID
	seq          int

	txMu sync.Mutex
}

type memTxKey struct{}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appointments: make(map[uuid.UUID]*Appointment),
		patients:     make(map[uuid.UUID]*Patient),
		byPhone:      make(map[string]uuid.UUID),
		activeSlots:  make(map[string]uuid.UUID),
	}
}

// Appointments returns the store as an AppointmentRepository.
func (s *MemoryStore) Appointments() AppointmentRepository { return memAppointments{s} }

// Patients returns the store as a PatientRepository.
func (s *MemoryStore) Patients() PatientRepository { return memPatients{s} }

// WithinTx implements TxRunner. Nested calls join the outer transaction.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	appointments map[uuid.UUID]*Appointment
	patients     map[uuid.UUID]*Patient
	byPhone      map[string]uuid.UUID
	activeSlots  map[string]uuid.UUID
	seq          int
}

func (s *MemoryStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		appointments: make(map[uuid.UUID]*Appointment, len(s.appointments)),
		patients:     make(map[uuid.UUID]*Patient, len(s.patients)),
		byPhone:      make(map[string]uuid.UUID, len(s.byPhone)),
		activeSlots:  make(map[string]uuid.UUID, len(s.activeSlots)),
		seq:          s.seq,
	}
	for k, v := range s.appointments {
		snap.appointments[k] = copyAppointment(v)
	}
	for k, v := range s.patients {
		snap.patients[k] = copyPatient(v)
	}
	for k, v := range s.byPhone {
		snap.byPhone[k] = v
	}
	for k, v := range s.activeSlots {
		snap.activeSlots[k] = v
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments = snap.appointments
	s.patients = snap.patients
	s.byPhone = snap.byPhone
	s.activeSlots = snap.activeSlots
	s.seq = snap.seq
}

func copyAppointment(a *Appointment) *Appointment {
	cp := *a
	cp.TestResults = append([]TestResult(nil), a.TestResults...)
	return &cp
}

func copyPatient(p *Patient) *Patient {
	cp := *p
	cp.MedicalRecord.TestResults = append([]TestResult(nil), p.MedicalRecord.TestResults...)
	return &cp
}

// -- appointments --

type memAppointments struct{ s *MemoryStore }

func (r memAppointments) Create(_ context.Context, a *Appointment) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patients[a.PatientID]; !ok {
		return fmt.Errorf("patient %s does not exist", a.PatientID)
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if a.Status.Active() {
		if _, taken := s.activeSlots[a.SlotKey()]; taken {
			return ErrSlotTaken
		}
	}

	a.ID = uuid.New()
	s.seq++
	a.AppointmentNumber = fmt.Sprintf("APT-%06d", s.seq)
	if a.TestResults == nil {
		a.TestResults = []TestResult{}
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	s.appointments[a.ID] = copyAppointment(a)
	if a.Status.Active() {
		s.activeSlots[a.SlotKey()] = a.ID
	}
	return nil
}

func (r memAppointments) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAppointment(a), nil
}

func (r memAppointments) Update(_ context.Context, a *Appointment) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.appointments[a.ID]
	if !ok {
		return ErrNotFound
	}
	if a.Status.Active() {
		if holder, taken := s.activeSlots[a.SlotKey()]; taken && holder != a.ID {
			return ErrSlotTaken
		}
	}
	if old.Status.Active() && s.activeSlots[old.SlotKey()] == a.ID {
		delete(s.activeSlots, old.SlotKey())
	}
	if a.Status.Active() {
		s.activeSlots[a.SlotKey()] = a.ID
	}
	if a.TestResults == nil {
		a.TestResults = []TestResult{}
	}
	a.AppointmentNumber = old.AppointmentNumber
	a.CreatedAt = old.CreatedAt
	a.UpdatedAt = time.Now()
	s.appointments[a.ID] = copyAppointment(a)
	return nil
}

func (r memAppointments) Delete(_ context.Context, id uuid.UUID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status.Active() && s.activeSlots[a.SlotKey()] == id {
		delete(s.activeSlots, a.SlotKey())
	}
	delete(s.appointments, id)
	return nil
}

func (r memAppointments) ExistsActive(_ context.Context, d Date, timeOfDay string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, taken := r.s.activeSlots[d.String()+" "+timeOfDay]
	return taken, nil
}

func (r memAppointments) ActiveTimesOn(_ context.Context, d Date) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var times []string
	for _, a := range r.s.appointments {
		if a.Status.Active() && a.AppointmentDate.Equal(d) {
			times = append(times, a.AppointmentTime)
		}
	}
	sort.Strings(times)
	return times, nil
}

func (r memAppointments) CountActiveByDate(_ context.Context, from, to Date) (map[string]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := make(map[string]int)
	for _, a := range r.s.appointments {
		d := a.AppointmentDate
		if !a.Status.Active() || d.Before(from) || d.After(to) {
			continue
		}
		counts[d.String()]++
	}
	return counts, nil
}

func (r memAppointments) StatsByPatient(_ context.Context, patientID uuid.UUID) (int, *Date, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	var last *Date
	for _, a := range r.s.appointments {
		if a.PatientID != patientID {
			continue
		}
		count++
		if last == nil || a.AppointmentDate.After(*last) {
			d := a.AppointmentDate
			last = &d
		}
	}
	return count, last, nil
}

func (r memAppointments) Search(_ context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*Appointment
	for _, a := range r.s.appointments {
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Date != nil && !a.AppointmentDate.Equal(*f.Date) {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		result = append(result, copyAppointment(a))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].AppointmentDate.Equal(result[j].AppointmentDate) {
			return result[i].AppointmentDate.After(result[j].AppointmentDate)
		}
		return result[i].AppointmentTime > result[j].AppointmentTime
	})
	total := len(result)
	if offset >= total {
		return []*Appointment{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return result[offset:end], total, nil
}

// -- patients --

type memPatients struct{ s *MemoryStore }

func (r memPatients) FindOrCreateByPhone(_ context.Context, p *Patient) (*Patient, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPhone[p.PhoneNumber]; ok {
		return copyPatient(s.patients[id]), false, nil
	}
	created := copyPatient(p)
	created.ID = uuid.New()
	if created.Gender == "" {
		created.Gender = DefaultGender
	}
	if created.MedicalRecord.TestResults == nil {
		created.MedicalRecord.TestResults = []TestResult{}
	}
	now := time.Now()
	created.CreatedAt = now
	created.UpdatedAt = now
	s.patients[created.ID] = created
	s.byPhone[created.PhoneNumber] = created.ID
	return copyPatient(created), true, nil
}

func (r memPatients) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPatient(p), nil
}

// LockForUpdate only checks existence: transactions on the memory store
// already run one at a time.
func (r memPatients) LockForUpdate(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.patients[id]; !ok {
		return ErrNotFound
	}
	return nil
}

func (r memPatients) SetAggregate(_ context.Context, id uuid.UUID, count int, lastVisit *Date) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok {
		return ErrNotFound
	}
	p.AppointmentCount = count
	p.LastVisit = nil
	if lastVisit != nil {
		d := *lastVisit
		p.LastVisit = &d
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (r memPatients) UpdateMedicalRecord(_ context.Context, id uuid.UUID, rec MedicalRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok {
		return ErrNotFound
	}
	rec.TestResults = append([]TestResult{}, rec.TestResults...)
	p.MedicalRecord = rec
	p.UpdatedAt = time.Now()
	return nil
}

func (r memPatients) ListIDs(_ context.Context) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.s.patients))
	for id := range r.s.patients {
		ids = append(ids, id)
	}
	return ids, nil
}
