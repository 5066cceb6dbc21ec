package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicbook/booking-api/internal/config"
	"github.com/clinicbook/booking-api/internal/domain/scheduling"
	"github.com/clinicbook/booking-api/internal/platform/auth"
	"github.com/clinicbook/booking-api/internal/platform/cache"
	"github.com/clinicbook/booking-api/internal/platform/db"
	"github.com/clinicbook/booking-api/internal/platform/events"
	"github.com/clinicbook/booking-api/internal/platform/jobs"
	"github.com/clinicbook/booking-api/internal/platform/middleware"
	"github.com/clinicbook/booking-api/internal/platform/sandbox"
	"github.com/clinicbook/booking-api/migrations"
	"github.com/clinicbook/booking-api/pkg/response"
)

const version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "booking-server",
		Short:         "Clinic appointment booking API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration. apply runs before
// validation so that flags can override the environment.
func loadConfig(apply func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if apply != nil {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "booking-api").Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
		return logger.Level(zerolog.DebugLevel)
	}
	return logger.Level(zerolog.InfoLevel)
}

func serveCmd() *cobra.Command {
	var inMemory, demo bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(func(c *config.Config) {
				if inMemory {
					c.InMemory = true
				}
			})
			if err != nil {
				return err
			}
			return runServer(cfg, demo)
		},
	}
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "Use the in-memory store instead of Postgres (development only)")
	cmd.Flags().BoolVar(&demo, "demo", false, "Seed demo bookings before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute appointment count and last visit of every patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			if cfg.InMemory {
				return errors.New("reconcile needs a database; unset IN_MEMORY")
			}
			logger := newLogger(cfg)
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.ReconcileAggregates(ctx)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			fmt.Printf("Reconciled %d patient(s).\n", n)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	cfg := sandbox.DefaultSeedConfig()
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Book reproducible demo appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			if appCfg.IsProduction() {
				return errors.New("refusing to seed demo data in production")
			}
			if appCfg.InMemory {
				return errors.New("seed needs a database; use serve --in-memory --demo instead")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, appCfg, newLogger(appCfg))
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := sandbox.NewSeeder(cfg).Run(ctx, a.svc)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			fmt.Printf("Booked %d appointment(s) for %d patient(s), skipped %d held slot(s) in %s.\n",
				res.Booked, res.Patients, res.Skipped, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().IntVar(&cfg.Bookings, "bookings", cfg.Bookings, "Number of booking attempts")
	cmd.Flags().IntVar(&cfg.Patients, "patients", cfg.Patients, "Number of distinct demo patients")
	cmd.Flags().IntVar(&cfg.HorizonDays, "horizon", cfg.HorizonDays, "Days ahead to spread bookings over")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 0, "Random seed; 0 picks one")
	return cmd
}

func withPool(ctx context.Context, fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool)
}

// app holds the service and the connections it was built on. Optional
// backends are nil when not configured.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	svc    *scheduling.Service
	pool   *pgxpool.Pool
	redis  *redis.Client
	cache  *cache.Redis
	kafka  *events.KafkaPublisher
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	var (
		appts    scheduling.AppointmentRepository
		patients scheduling.PatientRepository
		tx       scheduling.TxRunner
	)
	if cfg.InMemory {
		store := scheduling.NewMemoryStore()
		appts, patients, tx = store.Appointments(), store.Patients(), store
		logger.Warn().Msg("using the in-memory store; data is lost on restart")
	} else {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		appts, patients, tx = scheduling.NewAppointmentRepoPG(pool), scheduling.NewPatientRepoPG(pool), db.NewTxRunner(pool)
		logger.Info().Msg("connected to database")
	}

	opts := scheduling.Options{
		Calendar:          scheduling.NewCalendar(loc),
		CacheTTL:          cfg.AvailabilityCacheTTL,
		HorizonDays:       cfg.BookingHorizonDays,
		StrictTransitions: cfg.StrictStatusTransitions,
		Logger:            logger.With().Str("component", "scheduling").Logger(),
	}

	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		a.cache = cache.NewRedis(client, "booking:")
		opts.Cache = a.cache
		logger.Info().Dur("ttl", cfg.AvailabilityCacheTTL).Msg("availability cache enabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		a.kafka = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		opts.Events = a.kafka
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing appointment events")
	} else {
		opts.Events = events.NewLogPublisher(logger.With().Str("component", "events").Logger())
	}

	a.svc = scheduling.NewService(appts, patients, tx, opts)
	return a, nil
}

func (a *app) Close() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close kafka writer")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// newServer wires middleware and routes.
func newServer(a *app) *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger, cfg.IsProduction())

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.BodyLimit("64K"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.AdminSecretHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return response.OK(c, map[string]string{"status": "ok", "version": version})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}
	if a.cache != nil {
		e.GET("/health/cache", func(c echo.Context) error {
			if err := a.cache.Ping(c.Request().Context()); err != nil {
				return response.Fail(c, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "cache unreachable")
			}
			return response.OK(c, map[string]string{"status": "ok"})
		})
	}

	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}

	gate := auth.NewAdminGate(cfg.AdminSecret, cfg.AdminTokenTTL)
	if !gate.Enabled() {
		logger.Warn().Msg("ADMIN_SECRET is not set; admin endpoints will reject every request")
	}

	api := e.Group("/api")
	api.POST("/admin/login", gate.LoginHandler, middleware.RateLimit(rl))
	admin := api.Group("/admin", gate.Middleware())

	scheduling.NewHandler(a.svc).RegisterRoutes(api, admin, middleware.RateLimit(rl))
	return e
}

func runServer(cfg *config.Config, demo bool) error {
	logger := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if demo {
		res, err := sandbox.NewSeeder(sandbox.DefaultSeedConfig()).Run(ctx, a.svc)
		if err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
		logger.Info().Int("booked", res.Booked).Int("patients", res.Patients).Msg("demo bookings seeded")
	}

	loc, _ := cfg.Location()
	scheduler := jobs.NewScheduler(loc, logger.With().Str("component", "jobs").Logger())
	err = scheduler.Add("reconcile-aggregates", cfg.ReconcileSchedule, func(ctx context.Context) error {
		_, err := a.svc.ReconcileAggregates(ctx)
		return err
	})
	if err != nil {
		return err
	}
	scheduler.Start()

	e := newServer(a)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	scheduler.Stop(shutdownCtx)
	logger.Info().Msg("server stopped")
	return nil
}
