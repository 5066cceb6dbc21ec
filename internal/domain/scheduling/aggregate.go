package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AggregateSync keeps Patient.AppointmentCount and Patient.LastVisit equal
// to what the appointment rows say. Values are always recomputed from the
// rows, never incremented, so calling Resync again is harmless.
type AggregateSync struct {
	appointments AppointmentRepository
	patients     PatientRepository
	tx           TxRunner
	logger       zerolog.Logger
}

// Resync recomputes and stores the aggregate of one patient. It must run
// inside a transaction: the patient row is locked before counting, so the
// count sees every appointment committed by an earlier holder of the lock.
func (s *AggregateSync) Resync(ctx context.Context, patientID uuid.UUID) (int, *Date, error) {
	if err := s.patients.LockForUpdate(ctx, patientID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("lock patient: %w", err)
	}
	count, last, err := s.appointments.StatsByPatient(ctx, patientID)
	if err != nil {
		return 0, nil, fmt.Errorf("compute patient aggregate: %w", err)
	}
	if err := s.patients.SetAggregate(ctx, patientID, count, last); err != nil {
		return 0, nil, fmt.Errorf("store patient aggregate: %w", err)
	}
	return count, last, nil
}

// ReconcileAll resyncs every patient, each in its own transaction, and
// returns how many were processed. A patient deleted while the pass runs is
// skipped.
func (s *AggregateSync) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := s.patients.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list patients: %w", err)
	}
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			_, _, err := s.Resync(ctx, id)
			return err
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return n, fmt.Errorf("resync patient %s: %w", id, err)
		}
		n++
	}
	s.logger.Info().Int("patients", n).Msg("patient aggregates reconciled")
	return n, nil
}
