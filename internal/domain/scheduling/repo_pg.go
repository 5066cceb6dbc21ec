package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicbook/booking-api/internal/platform/db"
)

// Constraint and index names from migrations/001_scheduling.sql.
const (
	activeSlotIndex        = "uq_appointments_active_slot"
	patientPhoneConstraint = "uq_patients_phone"
)

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, appointment_number, patient_id, patient_name, phone_number,
	appointment_date, appointment_time, status, notes, diagnosis, prescription,
	doctor_suggestions, test_results, follow_up_date, created_at, updated_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var followUp *time.Time
	var results []byte
	err := row.Scan(&a.ID, &a.AppointmentNumber, &a.PatientID, &a.PatientName, &a.PhoneNumber,
		&date, &a.AppointmentTime, &a.Status, &a.Notes, &a.Diagnosis, &a.Prescription,
		&a.DoctorSuggestions, &results, &followUp, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.AppointmentDate = DateOf(date)
	a.FollowUpDate = datePtr(followUp)
	if a.TestResults, err = decodeTestResults(results); err != nil {
		return nil, fmt.Errorf("decode test results of %s: %w", a.ID, err)
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusPending
	}
	results, err := encodeTestResults(a.TestResults)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, patient_name, phone_number,
			appointment_date, appointment_time, status, notes, diagnosis, prescription,
			doctor_suggestions, test_results, follow_up_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING appointment_number, created_at, updated_at`,
		a.ID, a.PatientID, a.PatientName, a.PhoneNumber,
		a.AppointmentDate.Time(), a.AppointmentTime, a.Status, a.Notes, a.Diagnosis, a.Prescription,
		a.DoctorSuggestions, results, dateArg(a.FollowUpDate),
	).Scan(&a.AppointmentNumber, &a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, activeSlotIndex) {
		return ErrSlotTaken
	}
	if a.TestResults == nil {
		a.TestResults = []TestResult{}
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	results, err := encodeTestResults(a.TestResults)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET patient_name=$2, phone_number=$3, appointment_date=$4,
			appointment_time=$5, status=$6, notes=$7, diagnosis=$8, prescription=$9,
			doctor_suggestions=$10, test_results=$11, follow_up_date=$12, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.PatientName, a.PhoneNumber, a.AppointmentDate.Time(),
		a.AppointmentTime, a.Status, a.Notes, a.Diagnosis, a.Prescription,
		a.DoctorSuggestions, results, dateArg(a.FollowUpDate),
	).Scan(&a.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case db.IsUniqueViolation(err, activeSlotIndex):
		return ErrSlotTaken
	}
	return err
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) ExistsActive(ctx context.Context, d Date, timeOfDay string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE appointment_date = $1 AND appointment_time = $2
			  AND status IN ('pending', 'confirmed'))`,
		d.Time(), timeOfDay).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) ActiveTimesOn(ctx context.Context, d Date) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT appointment_time FROM appointments
		WHERE appointment_date = $1 AND status IN ('pending', 'confirmed')
		ORDER BY appointment_time`, d.Time())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *appointmentRepoPG) CountActiveByDate(ctx context.Context, from, to Date) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT appointment_date, COUNT(*) FROM appointments
		WHERE appointment_date BETWEEN $1 AND $2 AND status IN ('pending', 'confirmed')
		GROUP BY appointment_date`, from.Time(), to.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var day time.Time
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		counts[DateOf(day).String()] = n
	}
	return counts, rows.Err()
}

func (r *appointmentRepoPG) StatsByPatient(ctx context.Context, patientID uuid.UUID) (int, *Date, error) {
	var count int
	var last *time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), MAX(appointment_date) FROM appointments WHERE patient_id = $1`,
		patientID).Scan(&count, &last)
	if err != nil {
		return 0, nil, err
	}
	return count, datePtr(last), nil
}

func (r *appointmentRepoPG) Search(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []any
	idx := 1

	if f.Status != nil {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, *f.Status)
		idx++
	}
	if f.Date != nil {
		where += fmt.Sprintf(` AND appointment_date = $%d`, idx)
		args = append(args, f.Date.Time())
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointments` + where +
		fmt.Sprintf(` ORDER BY appointment_date DESC, appointment_time DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*Appointment{}
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, name, phone_number, gender, appointment_count, last_visit,
	medical_record, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var lastVisit *time.Time
	var record []byte
	err := row.Scan(&p.ID, &p.Name, &p.PhoneNumber, &p.Gender, &p.AppointmentCount, &lastVisit,
		&record, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.LastVisit = datePtr(lastVisit)
	if len(record) > 0 {
		if err := json.Unmarshal(record, &p.MedicalRecord); err != nil {
			return nil, fmt.Errorf("decode medical record of %s: %w", p.ID, err)
		}
	}
	if p.MedicalRecord.TestResults == nil {
		p.MedicalRecord.TestResults = []TestResult{}
	}
	return &p, nil
}

// FindOrCreateByPhone inserts the patient unless the phone number is taken.
// When another transaction holds the number the insert returns no row and
// the existing patient is read back instead.
func (r *patientRepoPG) FindOrCreateByPhone(ctx context.Context, p *Patient) (*Patient, bool, error) {
	gender := p.Gender
	if gender == "" {
		gender = DefaultGender
	}
	record, err := encodeMedicalRecord(p.MedicalRecord)
	if err != nil {
		return nil, false, err
	}

	created, err := r.scanPatient(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, name, phone_number, gender, medical_record)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT ON CONSTRAINT `+patientPhoneConstraint+` DO NOTHING
		RETURNING `+patientCols,
		uuid.New(), p.Name, p.PhoneNumber, gender, record))
	switch {
	case err == nil:
		return created, true, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	existing, err := r.scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE phone_number = $1`, p.PhoneNumber))
	if err != nil {
		return nil, false, fmt.Errorf("load patient by phone: %w", err)
	}
	return existing, false, nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

// LockForUpdate uses FOR NO KEY UPDATE: appointment inserts hold a KEY
// SHARE lock on the patient through the foreign key, and FOR UPDATE would
// deadlock two bookings of the same patient.
func (r *patientRepoPG) LockForUpdate(ctx context.Context, id uuid.UUID) error {
	var one int
	err := r.conn(ctx).QueryRow(ctx, `SELECT 1 FROM patients WHERE id = $1 FOR NO KEY UPDATE`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *patientRepoPG) SetAggregate(ctx context.Context, id uuid.UUID, count int, lastVisit *Date) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET appointment_count=$2, last_visit=$3, updated_at=NOW()
		WHERE id = $1`, id, count, dateArg(lastVisit))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) UpdateMedicalRecord(ctx context.Context, id uuid.UUID, rec MedicalRecord) error {
	record, err := encodeMedicalRecord(rec)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET medical_record=$2, updated_at=NOW() WHERE id = $1`, id, record)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id FROM patients ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// -- JSONB helpers --

func encodeTestResults(results []TestResult) (string, error) {
	if results == nil {
		results = []TestResult{}
	}
	b, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("encode test results: %w", err)
	}
	return string(b), nil
}

func decodeTestResults(raw []byte) ([]TestResult, error) {
	results := []TestResult{}
	if len(raw) == 0 {
		return results, nil
	}
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, err
	}
	if results == nil {
		results = []TestResult{}
	}
	return results, nil
}

func encodeMedicalRecord(rec MedicalRecord) (string, error) {
	if rec.TestResults == nil {
		rec.TestResults = []TestResult{}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode medical record: %w", err)
	}
	return string(b), nil
}
