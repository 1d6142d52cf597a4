package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/nhle/mailsync/internal/api"
	"github.com/nhle/mailsync/internal/auth"
	"github.com/nhle/mailsync/internal/classify"
	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/logging"
	"github.com/nhle/mailsync/internal/mailbox"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
	"github.com/nhle/mailsync/internal/sync"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	once := flag.Bool("once", false, "run a single sync cycle, print the summary and exit")
	setSecret := flag.String("set-secret", "", "store a secret read from stdin under this keyring key and exit")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", *envFile, err)
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	vault, err := credential.Open(credential.Options{
		Backend:      cfg.Keyring.Backend,
		FileDir:      cfg.Keyring.FileDir,
		FilePassword: os.Getenv("MAILSYNC_KEYRING_PASSWORD"),
	})
	if err != nil {
		return err
	}

	if *setSecret != "" {
		return storeSecret(vault, *setSecret, logger)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := seedAccounts(ctx, st, cfg); err != nil {
		return err
	}

	engine := sync.New(
		st,
		mailbox.NewIMAPDialer(cfg.IMAP.AuthTimeout, mailbox.WithLogger(logger)),
		newCredentials(cfg, vault, logger),
		newClassifier(cfg, vault, logger),
		sync.Config{
			Interval:       cfg.Sync.Interval,
			Window:         cfg.Sync.Window(),
			MaxConcurrency: cfg.Sync.MaxConcurrency,
			AccountTimeout: cfg.Sync.AccountTimeout,
			Debounce:       cfg.Sync.Debounce,
			Reconcile:      cfg.Sync.Reconcile,
			Idle:           cfg.Sync.Idle,
		},
		logger,
	)

	if *once {
		report := engine.RunCycle(ctx)
		fmt.Println(report.Summary())
		if report.Error != "" {
			return errors.New(report.Error)
		}
		return nil
	}

	logger.Info("mailsync starting",
		"interval", cfg.Sync.Interval,
		"window_days", cfg.Sync.WindowDays,
		"idle", cfg.Sync.Idle,
	)
	engine.Start(ctx)

	var srv *http.Server
	serveErr := make(chan error, 1)
	if cfg.HTTP.Addr != "" {
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.NewRouter(engine, st, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
		logger.Error("http server failed", "err", err)
	}

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("http shutdown", "err", serr)
		}
	}
	engine.Stop()
	logger.Info("mailsync stopped")
	return err
}

// seedAccounts upserts the users and accounts declared in the config.
func seedAccounts(ctx context.Context, st store.Store, cfg *model.AppConfig) error {
	users, accounts := cfg.Accounts()
	for _, u := range users {
		if err := st.UpsertUser(ctx, u); err != nil {
			return err
		}
	}
	for _, a := range accounts {
		if err := st.UpsertAccount(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func newCredentials(cfg *model.AppConfig, vault *credential.Vault, logger *log.Logger) *sync.Credentials {
	if cfg.OAuth.ClientID == "" {
		logger.Warn("oauth client not configured; xoauth2 accounts will fail")
		return sync.NewCredentials(vault, nil, logger)
	}
	tokens := auth.NewTokenProvider(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.TokenURL, nil)
	return sync.NewCredentials(vault, tokens, logger)
}

func newClassifier(cfg *model.AppConfig, vault *credential.Vault, logger *log.Logger) *classify.Classifier {
	key := cfg.Classifier.APIKey
	if key == "" && cfg.Classifier.APIKeyRef != "" {
		stored, err := vault.Get(cfg.Classifier.APIKeyRef)
		switch {
		case errors.Is(err, credential.ErrNotFound):
		case err != nil:
			logger.Warn("reading classifier key", "err", err)
		default:
			key = stored
		}
	}
	if key == "" {
		logger.Info("classifier disabled; messages are labeled Inbox")
		return classify.Disabled()
	}
	return classify.New(classify.Config{
		Endpoint:  cfg.Classifier.Endpoint,
		Model:     cfg.Classifier.Model,
		APIKey:    key,
		MaxTokens: cfg.Classifier.MaxTokens,
		Timeout:   cfg.Classifier.Timeout,
	}, nil, logger)
}

func storeSecret(vault *credential.Vault, key string, logger *log.Logger) error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading secret from stdin: %w", err)
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return errors.New("empty secret")
	}
	if err := vault.Set(key, secret); err != nil {
		return err
	}
	logger.Info("secret stored", "key", key)
	return nil
}
