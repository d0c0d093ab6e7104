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

	"github.com/joho/godotenv"

	"github.com/lingolab/pairchat/backend/internal/config"
	"github.com/lingolab/pairchat/backend/internal/handler"
	"github.com/lingolab/pairchat/backend/internal/handler/ws"
	"github.com/lingolab/pairchat/backend/internal/service/match"
	"github.com/lingolab/pairchat/backend/internal/service/notify"
	"github.com/lingolab/pairchat/backend/internal/service/registry"
	"github.com/lingolab/pairchat/backend/internal/service/session"
	"github.com/lingolab/pairchat/backend/internal/service/store"
	"github.com/lingolab/pairchat/backend/internal/service/translate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	log.Printf("store ready at %s", cfg.Store.Path)

	// The translator degrades to a pass-through when Ark credentials are
	// absent, which keeps local development possible without a key.
	var translator session.Translator
	modelLabel := "identity"
	if cfg.AI.Enabled() {
		svc, err := translate.New(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize translator: %v", err)
			log.Println("continuing with identity translation - check the Ark environment variables")
			translator = translate.NewIdentity()
		} else {
			log.Printf("translator initialized with model %s", svc.Model())
			translator = svc
			modelLabel = svc.Model()
		}
	} else {
		log.Println("Ark credentials not configured, messages relay untranslated")
		translator = translate.NewIdentity()
	}

	reg := registry.New()
	sessions := session.NewManager(ctx, cfg.Session, st, translator, reg)
	notifier := notify.New(cfg.Notify.WebhookURL)
	matcher := match.New(cfg.Match, st, sessions, notifier, modelLabel)
	go matcher.Run(ctx)

	wsHandler := ws.New(reg, matcher)
	router := handler.NewRouter(cfg.CORS, wsHandler, matcher, sessions)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Pairchat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
