package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tracyhatemice/inboxsync/internal/api"
	"github.com/tracyhatemice/inboxsync/internal/classifier"
	"github.com/tracyhatemice/inboxsync/internal/config"
	"github.com/tracyhatemice/inboxsync/internal/cursor"
	"github.com/tracyhatemice/inboxsync/internal/docstore"
	"github.com/tracyhatemice/inboxsync/internal/ingest"
	"github.com/tracyhatemice/inboxsync/internal/model"
	"github.com/tracyhatemice/inboxsync/internal/notify"
	"github.com/tracyhatemice/inboxsync/internal/parser"
	"github.com/tracyhatemice/inboxsync/internal/receiver"
	"github.com/tracyhatemice/inboxsync/internal/reply"
	"github.com/tracyhatemice/inboxsync/internal/sender"
	"github.com/tracyhatemice/inboxsync/internal/service"
	"github.com/tracyhatemice/inboxsync/internal/sweeper"
	"github.com/tracyhatemice/inboxsync/internal/syncer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	dataDir := flag.String("data-dir", "data", "directory for persistent data (cursors, document store)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("inboxsync starting", "mailboxes", len(cfg.Mailboxes))

	if err := run(cfg, *dataDir, logger); err != nil {
		logger.Error("inboxsync failed", "error", err)
		os.Exit(1)
	}
	logger.Info("inboxsync stopped")
}

func run(cfg *config.Config, dataDir string, logger *slog.Logger) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "documents.db")
	}
	store, err := docstore.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	cursors, err := cursor.NewFileStore(filepath.Join(dataDir, "cursors"), store, logger)
	if err != nil {
		return err
	}

	var sinks notify.Multi
	if cfg.Notify.SlackWebhook != "" || cfg.Notify.ExternalWebhook != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.Notify.SlackWebhook, cfg.Notify.ExternalWebhook))
	}
	if cfg.Notify.NATSURL != "" {
		js, err := notify.NewJetStream(cfg.Notify.NATSURL)
		if err != nil {
			logger.Warn("NATS unavailable, continuing without it", "error", err)
		} else {
			defer js.Close()
			sinks = append(sinks, js)
		}
	}
	var sink notify.Sink
	if len(sinks) > 0 {
		sink = sinks
	}

	var (
		cls     classifier.Classifier = classifier.Unconfigured{}
		replier service.Replier
		mailer  service.Mailer
	)
	if cfg.Classifier.APIKey != "" || cfg.Classifier.BaseURL != "" {
		client := classifier.New(
			cfg.Classifier.BaseURL,
			cfg.Classifier.APIKey,
			cfg.Classifier.Model,
			cfg.Classifier.Timeout(),
			logger,
		)
		cls = client
		replier = reply.New(client, reply.NewStatic(nil), logger)
	} else {
		logger.Warn("no classifier configured, every message will be labeled Unknown")
	}
	if len(cfg.Identities) > 0 {
		mailer = sender.New(sender.SMTP{
			Host:     cfg.Sender.Host,
			Port:     cfg.Sender.Port,
			Username: cfg.Sender.Username,
			Password: cfg.Sender.Password,
			UseTLS:   cfg.Sender.UseTLS,
		}, identities(cfg.Identities), logger)
	}

	pipeline := ingest.New(store, parser.New(logger), cls, sink, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sup := syncer.NewSupervisor(ctx, receiver.NewDialer(logger), cursors, pipeline, syncer.Options{
		RetryDelay:  cfg.RetryDelay(),
		IdleTimeout: cfg.IdleTimeout(),
	}, logger)

	mailboxes := make([]model.Mailbox, 0, len(cfg.Mailboxes))
	for _, m := range cfg.Mailboxes {
		mailboxes = append(mailboxes, m.Model())
	}
	svc := service.New(service.Deps{
		Mailboxes:  mailboxes,
		Store:      store,
		Supervisor: sup,
		Sweeper:    sweeper.New(store, pipeline, logger),
		Replier:    replier,
		Mailer:     mailer,
		Logger:     logger,
	})
	svc.StartAll()

	// Finish anything a previous run stored but never classified.
	go func() {
		if _, err := svc.Sweep(ctx, ""); err != nil && ctx.Err() == nil {
			logger.Warn("startup sweep failed", "error", err)
		}
	}()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.API.GetAddr(),
		Handler:           api.NewRouter(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Error("http api failed", "error", err)
		cancel()
	}
	logger.Info("shutting down, waiting for mailbox sessions to close...")

	// Force exit on second signal.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Warn("forced shutdown")
		os.Exit(1)
	}()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	sup.StopAll()
	return nil
}

func identities(in []config.Identity) []sender.Identity {
	out := make([]sender.Identity, 0, len(in))
	for _, id := range in {
		out = append(out, sender.Identity{
			Address: id.Address,
			Name:    id.Name,
			Match:   id.Match,
			Default: id.Default,
		})
	}
	return out
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
