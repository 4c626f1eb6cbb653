package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/internal/config"
	"github.com/rustyeddy/livedesk/internal/logging"
	"github.com/rustyeddy/livedesk/journal"
	"github.com/rustyeddy/livedesk/postgres"
)

var rootCmd = &cobra.Command{
	Use:   "livedesk",
	Short: "Live per-user trading position rollups for mentors and admins",
	Long: `Livedesk keeps a live, per-user rollup of trading positions.

It provides tools for:
  - Serving live collections over HTTP and websocket
  - Printing or watching a viewer's collection from the terminal
  - Replaying recorded snapshots and change logs offline
  - Managing the local SQLite positions journal

Viewers are scoped by role: a user sees their own positions, a mentor sees
their mentees' and an admin sees everyone's.`,
	SilenceUsage: true,
}

var (
	cfgFile    string
	viewerID   string
	viewerRole string
	logLevel   string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults plus LIVEDESK_* env when empty")
	rootCmd.PersistentFlags().StringVar(&viewerID, "viewer", "", "viewer id, overrides viewer.id")
	rootCmd.PersistentFlags().StringVar(&viewerRole, "role", "", "viewer role (user, mentor, admin), overrides viewer.role")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides logging.level")
}

// loadConfig reads the config and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if viewerID != "" {
		cfg.Viewer.ID = viewerID
	}
	if viewerRole != "" {
		cfg.Viewer.Role = viewerRole
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.Logging).With().Str("app", "livedesk").Logger()
}

// openSource opens the configured source. The returned func releases it.
func openSource(ctx context.Context, cfg *config.Config, log zerolog.Logger) (changefeed.Source, func(), error) {
	switch cfg.Source.Type {
	case config.SourcePostgres:
		store, err := postgres.New(ctx, cfg.Source.Postgres, log)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		j, err := openJournal(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return j, func() { _ = j.Close() }, nil
	}
}

func openJournal(cfg *config.Config, log zerolog.Logger) (*journal.SQLite, error) {
	poll, err := cfg.Source.SQLite.PollDuration()
	if err != nil {
		return nil, err
	}
	j, err := journal.NewSQLite(cfg.Source.SQLite.Path, journal.WithPollInterval(poll), journal.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return j, nil
}
