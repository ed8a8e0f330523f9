package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ricfalco/pdfmate/internal/artifact"
	"github.com/ricfalco/pdfmate/internal/config"
	"github.com/ricfalco/pdfmate/internal/engine"
	"github.com/ricfalco/pdfmate/internal/httpapi"
	"github.com/ricfalco/pdfmate/internal/observability"
	"github.com/ricfalco/pdfmate/internal/pdf"
	"github.com/ricfalco/pdfmate/internal/session"
	"github.com/ricfalco/pdfmate/internal/transport/devws"
	"github.com/ricfalco/pdfmate/internal/transport/telegram"
)

// dispatchProxy breaks the construction cycle between the engine and
// the transports: transports are built against the proxy, the engine is
// built against the transport, then the proxy is pointed at the engine.
type dispatchProxy struct {
	engine *engine.Engine
}

func (p *dispatchProxy) Dispatch(ev engine.Event) {
	if p.engine != nil {
		p.engine.Dispatch(ev)
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv load: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace, prometheus.DefaultRegisterer)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	var (
		sessions session.Store
		ready    httpapi.ReadyCheck
	)
	if cfg.DatabaseURL != "" {
		pg, err := session.NewPostgresStore(runCtx, cfg.DatabaseURL, cfg.SessionTTL)
		if err != nil {
			log.Fatalf("postgres session store init failed: %v", err)
		}
		defer pg.Close()
		sessions = pg
		ready = pg.Ping
		log.Printf("session store: postgres")
	} else {
		sessions = session.NewMemoryStore(cfg.SessionTTL)
		log.Printf("session store: in-memory (ttl %s)", cfg.SessionTTL)
	}

	artifacts, err := artifact.NewStore(cfg.WorkDir)
	if err != nil {
		log.Fatalf("artifact store init failed: %v", err)
	}
	if cfg.WorkDir == "" {
		// Temp-dir mode owns its directory; a user-supplied work dir
		// survives restarts.
		defer artifacts.Close()
	}
	artifacts.SetChangeHook(func(u artifact.Usage) {
		metrics.ArtifactBytes.Set(float64(u.TotalBytes))
		metrics.ArtifactFiles.Set(float64(u.FileCount))
	})
	log.Printf("artifact store: %s", artifacts.Dir())

	limits := engine.Limits{
		MaxFileSize:      cfg.MaxFileSize,
		MaxWatermarkText: cfg.MaxWatermarkText,
		MaxStorageBytes:  cfg.MaxStorageBytes,
		MaxStorageFiles:  cfg.MaxStorageFiles,
	}

	mode := cfg.Transport
	if mode == "auto" {
		if cfg.TelegramToken != "" {
			mode = "telegram"
		} else {
			mode = "ws"
		}
	}

	proxy := &dispatchProxy{}
	var (
		out     engine.Messenger
		webhook http.HandlerFunc
		wsEntry http.HandlerFunc
		bot     *telegram.Bot
	)
	switch mode {
	case "telegram":
		bot, err = telegram.New(cfg.TelegramToken, proxy, cfg.MaxFileSize)
		if err != nil {
			log.Fatalf("telegram transport init failed: %v", err)
		}
		out = bot
		if cfg.PublicURL != "" {
			url := strings.TrimRight(cfg.PublicURL, "/") + "/webhook"
			if err := bot.SetWebhook(url); err != nil {
				log.Fatalf("telegram webhook setup failed: %v", err)
			}
			webhook = bot.HandleWebhook
			log.Printf("telegram transport: webhook %s as @%s", url, bot.Username())
		}
	case "ws":
		hub := devws.NewHub(proxy, cfg.MaxFileSize, cfg.AllowAnyOrigin)
		out = hub
		wsEntry = hub.HandleWS
		log.Printf("dev websocket transport on /ws")
	}

	eng := engine.New(runCtx, limits, sessions, artifacts, pdf.NewProcessor(), out, metrics)
	proxy.engine = eng

	artifacts.StartJanitor(runCtx, cfg.SweepInterval, cfg.SweepMaxAge, cfg.MaxStorageBytes, cfg.MaxStorageFiles)
	go sweepSessions(runCtx, sessions, cfg.SweepInterval)

	if bot != nil && webhook == nil {
		go bot.Run(runCtx)
	}

	api := httpapi.New(cfg, ready, webhook, wsEntry)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

func sweepSessions(ctx context.Context, sessions session.Store, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := sessions.SweepExpired(ctx)
			if err != nil {
				log.Printf("session sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("session sweep removed %d expired sessions", n)
			}
		}
	}
}
