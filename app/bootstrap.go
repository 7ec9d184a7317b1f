package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"gatekeeper-api/internal/account"
	"gatekeeper-api/internal/admission"
	"gatekeeper-api/internal/db"
	"gatekeeper-api/internal/observability"
	"gatekeeper-api/internal/vault"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

// Build wires the full request pipeline from environment configuration.
// Failure to obtain the signing secret or the vault key aborts startup; no
// request can be safely admitted without them.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	secret, err := signingSecret()
	if err != nil {
		return nil, err
	}

	tokens, err := admission.NewTokenService(secret, envHoursOrDefault("TOKEN_TTL_HOURS", 24))
	if err != nil {
		return nil, fmt.Errorf("init token service: %w", err)
	}

	accounts, database, err := accountSource(logger, options.RunMigrations)
	if err != nil {
		return nil, err
	}

	policy := admission.NewPolicy(tokens, accounts, admission.Config{
		AttemptLimit:  envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		AttemptWindow: envMinutesOrDefault("LOGIN_ATTEMPT_WINDOW_MINUTES", 60),
		BlockDuration: envMinutesOrDefault("LOGIN_BLOCK_MINUTES", 30),
	})
	authHandler := admission.NewHandler(policy)

	vaultKey, err := vault.NewKey()
	if err != nil {
		closeDatabase(database)
		return nil, err
	}
	cipher, err := vault.NewCipher(vaultKey)
	if err != nil {
		closeDatabase(database)
		return nil, fmt.Errorf("init vault cipher: %w", err)
	}
	records := vault.NewStore(cipher)
	if err := vault.SeedDemo(records); err != nil {
		closeDatabase(database)
		return nil, fmt.Errorf("seed vault records: %w", err)
	}
	vaultHandler := vault.NewHandler(records)

	limiter := observability.NewIPRateLimiter(
		envIntOrDefault("API_RATE_LIMIT_MAX", 100),
		envMinutesOrDefault("API_RATE_LIMIT_WINDOW_MINUTES", 15),
	)
	limiter.Start()

	protected := func(handler http.HandlerFunc) http.Handler {
		return admission.Middleware(policy, handler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /api/auth/change-password", authHandler.ChangePassword)
	mux.Handle("GET /api/protected/profile", protected(vaultHandler.Profile))
	mux.Handle("GET /api/protected/records", protected(vaultHandler.ListRecords))
	mux.Handle("GET /api/protected/records/{id}", protected(vaultHandler.GetRecord))
	mux.Handle("POST /api/protected/operations", protected(vaultHandler.RunOperation))
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.HandleFunc("GET /{$}", rootHandler)
	mux.HandleFunc("/", notFoundHandler)

	handler := observability.RecoverMiddleware(logger,
		observability.RequestIDMiddleware(
			observability.SecurityHeadersMiddleware(
				observability.CORSMiddleware(allowedOrigins(),
					limiter.Middleware(logger,
						observability.RequestLoggingMiddleware(logger, mux))))))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			limiter.Shutdown()
			observability.FlushSentry()
			return closeDatabase(database)
		},
	}, nil
}

// signingSecret prefers an operator-supplied secret and otherwise generates a
// random one, which invalidates all outstanding tokens on restart.
func signingSecret() ([]byte, error) {
	if value := strings.TrimSpace(os.Getenv("JWT_SECRET")); value != "" {
		return []byte(value), nil
	}

	secret := make([]byte, 64)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}

	return secret, nil
}

// accountSource picks the durable Postgres store when DATABASE_URL is set and
// falls back to the in-memory demo store otherwise. The returned *sql.DB is
// nil in the in-memory case.
func accountSource(logger *observability.Logger, runMigrations bool) (account.Source, *sql.DB, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		adminUsername := strings.TrimSpace(strings.ToLower(os.Getenv("ADMIN_USERNAME")))
		adminPassword := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD"))
		if adminUsername != "" && adminPassword != "" {
			store := account.NewMemoryStore()
			if err := store.Seed("admin", adminUsername, adminPassword, "admin"); err != nil {
				return nil, nil, fmt.Errorf("seed admin account: %w", err)
			}
			return store, nil, nil
		}

		logger.Info("using_demo_accounts", map[string]any{"username": account.DemoUsername})
		store, err := account.DemoStore()
		if err != nil {
			return nil, nil, fmt.Errorf("seed demo account: %w", err)
		}
		return store, nil, nil
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	if runMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	store := account.NewPostgresStore(database)

	adminUsername := strings.TrimSpace(strings.ToLower(os.Getenv("ADMIN_USERNAME")))
	adminPassword := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD"))
	if adminUsername != "" && adminPassword != "" {
		if err := store.UpsertAdmin(context.Background(), adminUsername, adminPassword); err != nil {
			_ = database.Close()
			return nil, nil, fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	return store, database, nil
}

func allowedOrigins() []string {
	raw := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if raw == "" {
		return []string{"http://localhost:5000"}
	}

	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}

	return origins
}

func closeDatabase(database *sql.DB) error {
	if database == nil {
		return nil
	}
	return database.Close()
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}

		if database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := database.PingContext(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
			}
		}

		writeJSON(w, status, body)
	}
}

func rootHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusForbidden, map[string]string{
		"error": "direct API access is not permitted",
	})
}

func notFoundHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "resource not found"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}
