package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatekit.org/internal/access"
	"gatekit.org/internal/audit"
	"gatekit.org/internal/config"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	tokens, err := access.NewTokenIssuer(cfg.TokenSecret,
		access.WithTokenIssuerName(cfg.TokenIssuer))
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	svc, err := access.NewService(store, tokens,
		access.WithCacheTTL(cfg.CacheTTL),
		access.WithCacheSize(cfg.CacheSize),
		access.WithAuditSink(audit.LogEvent),
		access.WithSessionOptions(
			access.WithAccessTTL(cfg.AccessTTL),
			access.WithRefreshTTL(cfg.RefreshTTL),
			access.WithInactivityTimeout(cfg.InactivityTimeout),
			access.WithSessionCap(cfg.SessionCap),
		),
		access.WithAnomalyOptions(
			access.WithAnomalyWindow(cfg.AnomalyWindow),
			access.WithAnomalyThreshold(cfg.AnomalyThreshold),
		),
	)
	if err != nil {
		log.Fatalf("access service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("ensure builtin permissions: %v", err)
	}

	// Session hygiene; expiry is still enforced lazily on access.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepCtx, sweepCancel := context.WithTimeout(ctx, 30*time.Second)
				n, err := svc.Sessions().SweepExpired(sweepCtx)
				sweepCancel()
				if err != nil {
					obs.Log(map[string]any{"level": "error", "msg": "session sweep failed", "err": err.Error()})
					continue
				}
				if n > 0 {
					obs.Log(map[string]any{"level": "info", "msg": "session sweep", "deactivated": n})
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, pingCancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer pingCancel()
		if err := store.DB().PingContext(pingCtx); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting authd %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = store.Close()
	log.Println("Stopped")
}
