package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plantguard/api/internal/app"
	"plantguard/api/internal/authpw"
	"plantguard/api/internal/config"
	"plantguard/api/internal/email"
	"plantguard/api/internal/search"
	"plantguard/api/internal/session"
	"plantguard/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := store.Open(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	err = store.ApplyMigrations(migrateCtx, db)
	cancel()
	if err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	// Token revocation lives in Redis when configured, Postgres otherwise.
	var revoker tokenRevoker = &pgRevoker{store: dataStore}
	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("connect to redis: %v", err)
		}
		defer redisStore.Close()
		revoker = redisStore
		log.Println("token revocation registry: redis")
	} else {
		log.Println("token revocation registry: postgres")
	}

	emailSvc := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !emailSvc.IsConfigured() {
		log.Println("smtp not configured, transactional email disabled")
	}

	var searchSvc *search.Service
	pglike := search.NewPgLike(db)
	if cfg.MeiliURL != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meili.Close()
		searchSvc = search.NewService(meili, pglike, dataStore)

		reindexCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		searchSvc.ReindexAllFromPG(reindexCtx)
		cancel()
		log.Println("plant search: meilisearch with sql fallback")
	} else {
		searchSvc = search.NewService(nil, pglike, dataStore)
		log.Println("plant search: sql only")
	}

	authSvc := authpw.NewService(dataStore)
	service := app.New(cfg, dataStore, revoker, authSvc, emailSvc, searchSvc)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

type tokenRevoker interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// pgRevoker adapts the Postgres denylist to the revoker interface.
type pgRevoker struct {
	store *store.PostgresStore
}

func (r *pgRevoker) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	return r.store.RevokeAccessToken(ctx, jti, expiresAt)
}

func (r *pgRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return r.store.IsAccessTokenRevoked(ctx, jti)
}
