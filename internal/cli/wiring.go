package cli

import (
	"fmt"

	"github.com/notifyer/notifyer/internal/config"
	"github.com/notifyer/notifyer/internal/logging"
	"github.com/notifyer/notifyer/internal/metrics"
	"github.com/notifyer/notifyer/internal/notify"
	"github.com/notifyer/notifyer/internal/runner"
	"github.com/notifyer/notifyer/internal/store"
)

// app holds the wired components shared by the run, serve and login
// commands.
type app struct {
	cfg     *config.Config
	loader  *config.Loader
	store   *store.SQLiteStore
	sender  *notify.Sender
	metrics *metrics.Metrics
	runner  *runner.Runner
	logger  *logging.Logger
}

// buildApp loads configuration and wires the component graph.
func buildApp() (*app, error) {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(cfg)

	dbPath := globalFlags.DBPath
	if dbPath == "" {
		dbPath = cfg.Store.Path
	}
	st, err := store.NewSQLiteStore(dbPath, cfg.Auth.User, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	sender, err := notify.NewSender(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create telegram sender: %w", err)
	}

	m := metrics.NewMetrics("notifyer")
	// The runner reads config through the loader so a file reload is
	// picked up by the next invocation.
	r := runner.New(loader, st, sender, m, logger)

	return &app{
		cfg:     cfg,
		loader:  loader,
		store:   st,
		sender:  sender,
		metrics: m,
		runner:  r,
		logger:  logger,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close failed", "error", err.Error())
	}
}

func newLogger(cfg *config.Config) *logging.Logger {
	level := logging.LogLevel(cfg.Server.LogLevel)
	if level == "" {
		level = logging.LevelInfo
	}
	if globalFlags.Verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(logging.WithLevel(level))
}
