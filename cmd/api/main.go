package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vakt.org/internal/audit"
	"vakt.org/internal/auth"
	"vakt.org/internal/devauth"
	"vakt.org/internal/httpapi"
	"vakt.org/internal/obs"
	"vakt.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("VAKT_JWT_SECRET")
	if secret == "" {
		log.Fatal("VAKT_JWT_SECRET is required")
	}

	// Database is optional: without a DSN the audit trail lives in memory,
	// which is only acceptable for development.
	var db *sql.DB
	if dsn := os.Getenv("VAKT_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	var store audit.Store
	if db != nil {
		store = audit.NewPGStore(db)
	} else {
		log.Println("VAKT_PG_DSN not set, audit events are held in memory")
		store = audit.NewMemStore()
	}

	pipeline, err := audit.NewPipeline(audit.Config{
		GDPREnabled:      true,
		AuditLogging:     os.Getenv("VAKT_AUDIT_DISABLED") != "1",
		EncryptionKey:    os.Getenv("VAKT_AUDIT_ENCRYPTION_KEY"),
		DataMinimization: true,
		RetentionPeriod:  envOr("VAKT_AUDIT_RETENTION", "P5Y"),
	}, store)
	if err != nil {
		log.Fatalf("audit pipeline: %v", err)
	}

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:          secret,
		Algorithm:       envOr("VAKT_JWT_ALG", "HS256"),
		Issuer:          envOr("VAKT_JWT_ISSUER", "vakt"),
		Audience:        os.Getenv("VAKT_JWT_AUDIENCE"),
		AccessTokenTTL:  envOr("VAKT_ACCESS_TTL", "15m"),
		RefreshTokenTTL: envOr("VAKT_REFRESH_TTL", "7d"),
	})
	if err != nil {
		log.Fatalf("token manager: %v", err)
	}

	resolver, err := auth.NewResolver(auth.RBACConfig{})
	if err != nil {
		log.Fatalf("permission resolver: %v", err)
	}

	notifications := stream.New()
	opts := []auth.ServiceOption{
		auth.WithResolver(resolver),
		auth.WithPipeline(pipeline),
		auth.WithStream(notifications),
	}

	if os.Getenv("VAKT_DEV_LOGIN") == "1" {
		dev, err := devauth.New(devauth.Config{Users: []devauth.User{
			{ID: "kari", Name: "Kari Nordmann", Email: "kari@example.no", Roles: []string{"admin"}},
			{ID: "ola", Name: "Ola Nordmann", Email: "ola@example.no", Roles: []string{"citizen"}},
		}})
		if err != nil {
			log.Fatalf("dev provider: %v", err)
		}
		opts = append(opts, auth.WithProvider(auth.ProviderDev, dev))
		log.Println("development login enabled")
	}

	svc, err := auth.NewService(tokens, opts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(svc, notifications, httpapi.ReadyProbe{DB: db}, version)
	handler := httpapi.RateLimit(api.Handler(), 50, 25)

	srv := &http.Server{
		Addr:              envOr("VAKT_ADDR", ":8080"),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting vakt-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
