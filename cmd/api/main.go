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

	"arbor/api/internal/app"
	"arbor/api/internal/authpw"
	"arbor/api/internal/config"
	"arbor/api/internal/contentrepo"
	"arbor/api/internal/search"
	"arbor/api/internal/session"
	"arbor/api/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	archive := contentrepo.New(cfg.ReposDir)

	meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	if meili != nil {
		defer meili.Close()
	}
	searchSvc := search.NewService(meili, search.NewPgFTS(db))

	service := app.New(cfg, dataStore, archive).
		WithSearch(searchSvc).
		WithPasswordAuth(authpw.NewService(dataStore))

	// Refresh tokens go to Redis when it is reachable; otherwise they live
	// in Postgres.
	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("redis unavailable, refresh sessions fall back to postgres: %v", err)
		} else {
			defer redisStore.Close()
			service.WithSessions(redisStore)
		}
	}

	go searchSvc.ReindexAllFromPG(ctx)
	go runSweeper(ctx, service, cfg.SweepInterval)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// runSweeper settles expired investments, times out stale proposals and
// closes overdue election rounds on a fixed interval.
func runSweeper(ctx context.Context, service *app.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if ids, err := service.SettleExpiredInvestments(sweepCtx); err != nil {
				log.Printf("sweep investments: %v", err)
			} else if len(ids) > 0 {
				log.Printf("sweep: expired %d investments", len(ids))
			}
			if swept, err := service.RejectExpiredProposals(sweepCtx); err != nil {
				log.Printf("sweep proposals: %v", err)
			} else if len(swept) > 0 {
				log.Printf("sweep: rejected %d stale proposals", len(swept))
			}
			if ids, err := service.CloseOverdueRounds(sweepCtx); err != nil {
				log.Printf("sweep rounds: %v", err)
			} else if len(ids) > 0 {
				log.Printf("sweep: closed %d election rounds", len(ids))
			}
			cancel()
		}
	}
}
