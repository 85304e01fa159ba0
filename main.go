package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"

	"strava-ingest/internal/auth"
	"strava-ingest/internal/config"
	"strava-ingest/internal/ingest"
	"strava-ingest/internal/remote"
	"strava-ingest/internal/store"
	"strava-ingest/internal/strava"
	"strava-ingest/internal/webhook"
)

const usage = `Usage: strava-ingest [command]

Commands:
  serve                 run the webhook receiver (default)
  subscribe             register BASE_URL/webhook with Strava
  subscriptions         list the application's push subscriptions
  unsubscribe <id>      delete a push subscription
  events [limit]        show recent ingest outcomes
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
		return serve(cfg)
	case "subscribe", "subscriptions", "unsubscribe":
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
		return subscriptionCommand(context.Background(), cfg, cmd, args, os.Stdout)
	case "events":
		return eventsCommand(context.Background(), cfg, args, os.Stdout)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// App holds the long-running pieces of the service
type App struct {
	db         *store.DB
	creds      *auth.CredentialStore
	dispatcher *ingest.Dispatcher
	service    *remote.ServiceAccount
	cron       *cron.Cron
	server     *http.Server
}

func newApp(cfg *config.Config) (*App, error) {
	db, err := store.Open(cfg.Ingest.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Printf("Using %s store", db.Dialect())

	timeout := cfg.Ingest.HTTPTimeout
	stravaOAuth := auth.NewOAuthConfig(auth.Config{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		RedirectURL:  orDefault(cfg.Strava.RedirectURL, cfg.Server.BaseURL+"/callback"),
		TokenURL:     cfg.Strava.TokenURL,
	})
	creds := auth.NewCredentialStore(db, stravaOAuth, timeout)
	client := strava.NewClient(strava.Options{
		BaseURL:      cfg.Strava.APIBase,
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		Timeout:      timeout,
	})

	// Drive clients are built once here and shared by every job
	var driveOAuth *oauth2.Config
	if cfg.Drive.ClientID != "" {
		driveOAuth = remote.NewDelegatedConfig(cfg.Drive.ClientID, cfg.Drive.ClientSecret,
			orDefault(cfg.Drive.RedirectURL, cfg.Server.BaseURL+"/drive/callback"))
	}
	delegated := remote.NewDelegated(driveOAuth, db, cfg.Drive.FolderID, timeout)
	serviceAccount := remote.NewServiceAccount([]byte(cfg.Drive.ServiceAccountJSON), cfg.Drive.ServiceAccountFile, cfg.Drive.FolderID, timeout)
	chain := remote.NewChain(delegated, serviceAccount)

	pipeline := ingest.NewPipeline(creds, client, ingest.NewSink(cfg.StreamsDir(), chain), db)
	dispatcher := ingest.NewDispatcher(pipeline, cfg.Ingest.Workers, cfg.Ingest.QueueSize, cfg.Ingest.JobTimeout)

	handler, err := webhook.NewHandler(cfg.Strava.VerifyToken, dispatcher, cfg.Server.AckBudget)
	if err != nil {
		dispatcher.Close()
		db.Close()
		return nil, err
	}

	var saver auth.TokenSaver
	if driveOAuth != nil {
		saver = delegated
	}

	mux := http.NewServeMux()
	handler.Register(mux)
	auth.NewFlow(stravaOAuth, creds, driveOAuth, saver, timeout).Register(mux)

	return &App{
		db:         db,
		creds:      creds,
		dispatcher: dispatcher,
		service:    serviceAccount,
		cron:       cron.New(),
		server: &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func serve(cfg *config.Config) error {
	app, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.start(ctx, cfg); err != nil {
		app.stop()
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s (webhook callback %s)", cfg.Server.ListenAddr, cfg.WebhookCallbackURL())
		if err := app.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		log.Printf("[ERROR] Server error: %v", err)
	}

	app.stop()
	return err
}

func (app *App) start(ctx context.Context, cfg *config.Config) error {
	if spec := cfg.Ingest.SweepSchedule; spec != "" {
		window := cfg.Ingest.SweepWindow
		_, err := app.cron.AddFunc(spec, func() {
			n, err := app.creds.RefreshExpiring(ctx, window)
			if err != nil {
				log.Printf("[AUTH] Credential sweep: %d refreshed, errors: %v", n, err)
				return
			}
			if n > 0 {
				log.Printf("[AUTH] Credential sweep refreshed %d tokens", n)
			}
		})
		if err != nil {
			return fmt.Errorf("scheduling credential sweep %q: %w", spec, err)
		}
	}
	app.cron.Start()

	if app.service.KeyFile() != "" {
		go func() {
			if err := remote.WatchKeyFile(ctx, app.service); err != nil {
				log.Printf("[DRIVE] Key file watcher stopped: %v", err)
			}
		}()
	}
	return nil
}

func (app *App) stop() {
	log.Println("Shutting down...")

	<-app.cron.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Queued jobs finish before the store goes away
	app.dispatcher.Close()
	app.db.Close()

	log.Println("Shutdown complete")
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
