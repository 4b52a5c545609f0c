package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"incident-api/internal/auth"
	"incident-api/internal/config"
	"incident-api/internal/db"
	"incident-api/internal/incident"
	"incident-api/internal/maintenance"
	"incident-api/internal/notify"
	"incident-api/internal/observability"
)

type Options struct {
	LoadDotEnv bool
	// RunMigrations overrides the RUN_MIGRATIONS setting when set.
	RunMigrations *bool
	// StartSweeper runs the periodic cleanup in-process.
	StartSweeper bool
}

type Runtime struct {
	Handler http.Handler
	Config  config.Config
	Logger  *observability.Logger
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if options.RunMigrations != nil {
		cfg.RunMigrations = *options.RunMigrations
	}

	logger := observability.NewLogger(cfg.AppEnv)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		observability.FlushSentry()
		_ = logger.Sync()
		return errors.Join(errs...)
	}
	fail := func(err error) (*Runtime, error) {
		_ = closeAll()
		return nil, err
	}

	var database *sql.DB
	var stores auth.Stores
	var incidentStore incident.Store
	var hitCounter auth.HitCounter
	var staleLimits maintenance.StaleRemover

	switch cfg.StoreDriver {
	case config.DriverMemory:
		stores = auth.NewMemoryStores()
		incidentStore = incident.NewMemoryStore()
		hitCounter = auth.NewMemoryHitCounter()
		logger.Info("store_driver_memory", map[string]any{"warning": "data is not persisted"})
	default:
		database, err = openDatabase(cfg)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, database.Close)

		if cfg.RunMigrations {
			migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 60*time.Second)
			err = db.RunMigrations(migrateCtx, database, logger)
			cancelMigrate()
			if err != nil {
				return fail(fmt.Errorf("run migrations: %w", err))
			}
		}

		stores = auth.NewPostgresStores(database)
		incidentStore = incident.NewRepository(database)
		pgCounter := auth.NewPostgresHitCounter(database)
		hitCounter = pgCounter
		staleLimits = pgCounter
	}

	var redisClient *redis.Client
	if cfg.BlacklistBackend == config.BlacklistRedis {
		redisClient, err = openRedis(cfg.RedisURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, redisClient.Close)
		stores.Blacklist = auth.NewRedisBlacklist(redisClient)
	}

	var sender notify.Sender = notify.NewLogSender(logger)
	if cfg.AMQPURL != "" {
		amqpSender := notify.NewAMQPSender(cfg.AMQPURL, cfg.EmailQueue, logger)
		closers = append(closers, amqpSender.Close)
		sender = amqpSender
	}

	codec, err := auth.NewTokenCodec(auth.TokenCodecConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		AccessTTL: cfg.AccessTokenTTL,
	})
	if err != nil {
		return fail(err)
	}

	authService := auth.NewService(stores, codec, auth.NewBcryptHasher(cfg.BcryptCost), auth.Config{
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
		ResetTTL:   cfg.PasswordResetTTL,
		Lockout: auth.LockoutPolicy{
			MaxAttempts:     cfg.LoginMaxAttempts,
			Duration:        cfg.LoginLockDuration,
			ExtendOnAttempt: cfg.LockoutExtend,
		},
		AllowMultipleDevices: cfg.AllowMultipleDevices,
	})
	authService.WithLogger(logger)
	authService.WithNotifier(notify.NewMailer(sender, cfg.PasswordResetURL))
	closers = append(closers, func() error {
		authService.Wait()
		return nil
	})

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 10*time.Second)
	err = authService.BootstrapAdmin(bootstrapCtx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword)
	cancelBootstrap()
	if err != nil {
		return fail(fmt.Errorf("bootstrap admin: %w", err))
	}

	cleanupJob := maintenance.NewJob(authService, staleLimits, 24*time.Hour, logger)
	if options.StartSweeper {
		sweepCtx, stopSweep := context.WithCancel(context.Background())
		go cleanupJob.Sweep(sweepCtx, cfg.CleanupInterval)
		closers = append(closers, func() error {
			stopSweep()
			return nil
		})
	}

	authHandler := auth.NewHandler(authService, logger)
	incidentHandler := incident.NewHandler(incident.NewService(incidentStore, authService.UserActive))
	cleanupHandler := maintenance.NewCleanupHandler(cleanupJob, logger, cfg.CronSecret)
	loginLimiter := auth.NewLoginRateLimiter(hitCounter, cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observability.RecoverMiddleware(logger))
	r.Use(observability.RequestLoggingMiddleware(logger))
	r.Use(observability.SecurityHeaders)
	// an empty origin list would make cors allow everyone
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health", healthHandler(database))
	r.Get("/internal/maintenance/cleanup", cleanupHandler.Handle)
	r.Post("/internal/maintenance/cleanup", cleanupHandler.Handle)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.With(loginLimiter.Middleware).Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/password/forgot", authHandler.ForgotPassword)
		r.Post("/password/reset", authHandler.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate(authService, logger))
			r.Use(observability.AuditMiddleware(logger, auth.UserIDFromRequest))
			r.Post("/logout", authHandler.Logout)
			r.Post("/logout-all", authHandler.LogoutAll)
			r.Post("/revoke", authHandler.Revoke)
			r.With(loginLimiter.Middleware).Post("/password/change", authHandler.ChangePassword)
			r.Get("/me", authHandler.GetProfile)
			r.Put("/me", authHandler.UpdateProfile)
			r.Delete("/me", authHandler.DeleteAccount)
			r.Get("/sessions", authHandler.ListSessions)
			r.Delete("/sessions/{id}", authHandler.RevokeSession)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(authService, logger))
		r.Use(observability.AuditMiddleware(logger, auth.UserIDFromRequest))
		incidentHandler.Routes(r)
	})

	return &Runtime{
		Handler: r,
		Config:  cfg,
		Logger:  logger,
		Close:   closeAll,
	}, nil
}

func openDatabase(cfg config.Config) (*sql.DB, error) {
	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLife)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdle)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return database, nil
}

func openRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// healthHandler pings the database when there is one.
func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}

		if database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := database.PingContext(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
