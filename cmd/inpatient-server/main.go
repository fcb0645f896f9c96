package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/inpatient/internal/config"
	"github.com/ehr/inpatient/internal/domain/encounter"
	"github.com/ehr/inpatient/internal/domain/inpatient"
	"github.com/ehr/inpatient/internal/domain/nursing"
	"github.com/ehr/inpatient/internal/domain/orders"
	"github.com/ehr/inpatient/internal/domain/patient"
	"github.com/ehr/inpatient/internal/platform/auth"
	"github.com/ehr/inpatient/internal/platform/db"
	"github.com/ehr/inpatient/internal/platform/kv"
	"github.com/ehr/inpatient/internal/platform/middleware"
	"github.com/ehr/inpatient/internal/platform/pricing"
	"github.com/ehr/inpatient/internal/platform/telemetry"
	"github.com/ehr/inpatient/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "inpatient-server",
		Short: "Inpatient stay lifecycle and billing API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(reconcileUnitsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool    *pgxpool.Pool
	redis   *redis.Client
	metrics *telemetry.Metrics

	patients   *patient.Service
	encounters *encounter.Service
	nursing    *nursing.Service
	orders     *orders.Service
	repo       inpatient.Repository
	inpatient  *inpatient.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, pool: pool, metrics: telemetry.New()}

	if cfg.RedisURL != "" {
		if a.redis, err = kv.NewClient(ctx, cfg.RedisURL); err != nil {
			pool.Close()
			return nil, err
		}
	}

	a.patients = patient.NewService(patient.NewRepo(pool))
	a.encounters = encounter.NewService(encounter.NewRepo(pool))
	a.nursing = nursing.NewService(nursing.NewTemplateRepo(pool), nursing.NewTaskRepo(pool), nursing.Settings{
		ValidateChecklists:        cfg.ValidateNursingChecklists,
		DefaultMedicationActivity: cfg.DefaultMedicationActivity,
	})
	a.orders = orders.NewService(orders.NewServiceRequestRepo(pool), orders.NewMedicationRequestRepo(pool))
	a.repo = inpatient.NewRepoPG(pool)
	a.inpatient = inpatient.NewService(inpatient.Deps{
		Repo:        a.repo,
		Patients:    a.patients,
		Encounters:  a.encounters,
		Nursing:     a.nursing,
		Orders:      a.orders,
		Pricing:     a.priceResolver(),
		Ledger:      inpatient.NewLedgerPG(pool),
		Counselling: inpatient.NewCounsellingPG(pool),
		Policy:      policyFromConfig(cfg),
		Logger:      logger.With().Str("component", "inpatient").Logger(),
	})
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.pool.Close()
}

func policyFromConfig(cfg *config.Config) inpatient.Policy {
	return inpatient.Policy{
		AllowDischargeDespiteUnbilled:   cfg.AllowDischargeDespiteUnbilled,
		AutoGenerateBillable:            cfg.AutoGenerateBillable,
		ProcessServiceRequestOnlyIfPaid: cfg.ProcessServiceRequestOnlyIfPaid,
		DefaultPriceList:                cfg.DefaultPriceList,
		DefaultCurrency:                 cfg.DefaultCurrency,
	}
}

// priceResolver prefers the external price service, cached in Redis when
// available, and falls back to the tenant's item_price table.
func (a *app) priceResolver() pricing.Resolver {
	if a.cfg.PricingURL == "" {
		return pricing.NewPriceListPG(a.pool)
	}
	var resolver pricing.Resolver = pricing.NewClient(a.cfg.PricingURL, a.cfg.PricingTimeout, a.logger)
	if a.redis != nil {
		resolver = pricing.NewCached(resolver, kv.NewRedisStore(a.redis), a.cfg.PricingCacheTTL, a.logger)
	}
	return resolver
}

// lockerFor scopes sweep leases to one tenant.
func (a *app) lockerFor(tenant string) kv.Locker {
	if a.redis == nil {
		return kv.LocalLocker{}
	}
	return kv.NewRedisLocker(a.redis, "lease:"+tenant+":")
}

func (a *app) sweeper(tenant string) *inpatient.Sweeper {
	return inpatient.NewSweeper(a.inpatient.Billing(), a.repo, a.lockerFor(tenant), a.cfg.SweepLeaseTTL,
		policyFromConfig(a.cfg), a.logger.With().Str("tenant_id", tenant).Logger())
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, newLogger(cfg))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.SchemaFor("default"), "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-32s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				fmt.Println(formatStatus(s))
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.SchemaFor("default"), "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func formatStatus(s db.MigrationStatus) string {
	status, appliedAt := "pending", ""
	if s.Applied {
		status = "applied"
		if s.Modified {
			status = "modified"
		}
		if s.AppliedAt != nil {
			appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
		}
	}
	return fmt.Sprintf("%-10d %-32s %-10s %s", s.Version, s.Name, status, appliedAt)
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage hospital tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaFor(name))
			count, err := db.CreateTenantSchema(ctx, pool, name, migrations.FS)
			if err != nil {
				return err
			}
			fmt.Printf("Tenant created, %d migration(s) applied.\n", count)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric and underscore)")
	cmd.AddCommand(createCmd)
	return cmd
}

// tenantsFlag returns --tenant when given, else the configured job tenants.
func tenantsFlag(cmd *cobra.Command, cfg *config.Config) []string {
	if t, _ := cmd.Flags().GetString("tenant"); t != "" {
		return []string{t}
	}
	return cfg.JobTenants
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Recompute occupancy billing for every admitted stay once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			for _, tenant := range tenantsFlag(cmd, a.cfg) {
				sweeper := a.sweeper(tenant)
				err := db.WithTenant(ctx, a.pool, tenant, func(ctx context.Context) error {
					report, err := sweeper.Run(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("%s: swept=%d updated=%d closed=%d transient=%d structural=%d skipped=%t\n",
						tenant, report.Swept, report.Updated, report.Closed, report.Transient, report.Structural, report.Skipped)
					return nil
				})
				if err != nil {
					return fmt.Errorf("sweep %s: %w", tenant, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "Sweep only this tenant")
	return cmd
}

func reconcileUnitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile-units",
		Short: "Rewrite service unit occupancy status from live occupancy entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			for _, tenant := range tenantsFlag(cmd, a.cfg) {
				err := db.WithTenant(ctx, a.pool, tenant, func(ctx context.Context) error {
					report, err := a.inpatient.ReconcileUnits(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("%s: checked=%d fixed=%d\n", tenant, report.Checked, report.Fixed)
					return nil
				})
				if err != nil {
					return fmt.Errorf("reconcile %s: %w", tenant, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "Reconcile only this tenant")
	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise dependencies")
	}
	defer a.close()
	logger.Info().Bool("redis", a.redis != nil).Msg("connected to database")

	e := a.newEcho()

	var jobs sync.WaitGroup
	a.startJobs(ctx, &jobs)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting inpatient server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	jobs.Wait()
	return nil
}

func (a *app) newEcho() *echo.Echo {
	cfg := a.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("2M"))
	e.Use(echomw.ContextTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	var deps []db.Dependency
	if a.redis != nil {
		rdb := a.redis
		deps = append(deps, db.Dependency{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	e.GET("/health/db", db.HealthHandler(a.pool, deps...))
	e.GET("/metrics", a.metrics.Handler())

	var limiter middleware.Limiter = middleware.NewLocalLimiter()
	if a.redis != nil {
		limiter = middleware.NewRedisLimiter(a.redis, "ratelimit:")
	}
	apiV1 := e.Group("/api/v1",
		middleware.RateLimit(middleware.RateLimitConfig{RequestsPerMinute: cfg.RateLimitRPM}, limiter),
		db.TenantMiddleware(a.pool, cfg.DefaultTenant),
		middleware.Audit(a.logger, nil),
	)

	patient.NewHandler(a.patients).RegisterRoutes(apiV1)
	encounter.NewHandler(a.encounters).RegisterRoutes(apiV1)
	nursing.NewHandler(a.nursing).RegisterRoutes(apiV1)
	orders.NewHandler(a.orders).RegisterRoutes(apiV1)
	inpatient.NewHandler(a.inpatient).RegisterRoutes(apiV1)

	return e
}

// startJobs runs the billing sweep, unit reconciliation and medication task
// refresh for every job tenant until ctx is cancelled.
func (a *app) startJobs(ctx context.Context, wg *sync.WaitGroup) {
	for _, tenant := range a.cfg.JobTenants {
		tenant := tenant
		log := a.logger.With().Str("tenant_id", tenant).Logger()
		sweeper := a.sweeper(tenant)

		every(ctx, wg, a.cfg.SweepInterval, func(ctx context.Context) {
			err := db.WithTenant(ctx, a.pool, tenant, func(ctx context.Context) error {
				report, err := sweeper.Run(ctx)
				if err != nil {
					return err
				}
				a.recordSweep(tenant, report)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				a.metrics.JobOutcome("sweep", tenant, "failed", 1)
				log.Error().Err(err).Msg("billing sweep")
			}
		})

		every(ctx, wg, a.cfg.ReconcileInterval, func(ctx context.Context) {
			err := db.WithTenant(ctx, a.pool, tenant, func(ctx context.Context) error {
				report, err := a.inpatient.ReconcileUnits(ctx)
				if err != nil {
					return err
				}
				a.metrics.JobOutcome("reconcile_units", tenant, "fixed", report.Fixed)
				if report.Fixed > 0 {
					log.Warn().Int("fixed", report.Fixed).Msg("service unit occupancy drift repaired")
				}
				created, err := a.inpatient.RefreshMedicationTasks(ctx)
				if err != nil {
					return err
				}
				a.metrics.JobOutcome("medication_tasks", tenant, "created", created)
				if created > 0 {
					log.Info().Int("created", created).Msg("medication tasks refreshed")
				}
				return nil
			})
			if err != nil && ctx.Err() == nil {
				a.metrics.JobOutcome("reconcile_units", tenant, "failed", 1)
				log.Error().Err(err).Msg("unit reconcile")
			}
		})
	}
}

func (a *app) recordSweep(tenant string, r *inpatient.SweepReport) {
	if r.Skipped {
		a.metrics.JobOutcome("sweep", tenant, "skipped", 1)
		return
	}
	a.metrics.JobOutcome("sweep", tenant, "updated", r.Updated)
	a.metrics.JobOutcome("sweep", tenant, "closed", r.Closed)
	a.metrics.JobOutcome("sweep", tenant, "transient", r.Transient)
	a.metrics.JobOutcome("sweep", tenant, "structural", r.Structural)
}

// every calls fn each interval until ctx is done. A non-positive interval
// disables the job.
func every(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}
