package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicbook/booking-api/internal/domain/scheduling"
	"github.com/clinicbook/booking-api/internal/platform/db"
	"github.com/clinicbook/booking-api/migrations"
)

// connStr is the server every test creates its own schema on, set once in
// TestMain.
var connStr string

func TestMain(m *testing.M) {
	ctx := context.Background()

	cleanup := func() {}
	connStr = os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping integration tests: set TEST_DATABASE_URL or install docker (%v)\n", err)
			os.Exit(0)
		}
	}

	code := m.Run()
	cleanup()
	os.Exit(code)
}

// newSchemaPool creates an isolated schema, applies the embedded migrations
// to it and returns a pool whose connections use it. Both are removed when
// the test ends.
func newSchemaPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	schema := "it_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")

	admin, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema %s: %v", schema, err)
	}
	t.Cleanup(func() {
		if _, err := admin.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.MaxConns = 30
	cfg.ConnConfig.RuntimeParams["search_path"] = schema + ", public"
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		t.Fatalf("migrate %s: %v", schema, err)
	}
	return pool
}

// newService builds the scheduling service on Postgres with a clock fixed
// to Saturday 2025-03-01 in the clinic's zone.
func newService(pool *pgxpool.Pool, strict bool) *scheduling.Service {
	zone := time.FixedZone("AST", 3*60*60)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, zone)
	return scheduling.NewService(
		scheduling.NewAppointmentRepoPG(pool),
		scheduling.NewPatientRepoPG(pool),
		db.NewTxRunner(pool),
		scheduling.Options{
			Calendar:          scheduling.NewCalendar(zone).WithClock(func() time.Time { return now }),
			HorizonDays:       14,
			StrictTransitions: strict,
			Logger:            zerolog.Nop(),
		},
	)
}

func booking(name, phone, date, timeOfDay string) scheduling.BookingRequest {
	return scheduling.BookingRequest{
		PatientName:     name,
		PhoneNumber:     phone,
		AppointmentDate: date,
		AppointmentTime: timeOfDay,
	}
}

func ptrStr(s string) *string { return &s }
