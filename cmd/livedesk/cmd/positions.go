package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/livedesk/internal/config"
	"github.com/rustyeddy/livedesk/journal"
	"github.com/rustyeddy/livedesk/position"
	"github.com/rustyeddy/livedesk/postgres"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Manage the SQLite positions journal",
	Long: `Write and inspect the local positions journal. Every write is recorded in
the change log that live views tail.

Subcommands:
  import   - Upsert positions from a CSV file
  export   - Write the viewer's positions as CSV
  upsert   - Insert or replace one position given as JSON
  delete   - Delete a position, or all of a user's positions
  changes  - Write the change log as JSONL
  prune    - Drop old change log entries
  install  - Install the NOTIFY trigger on the Postgres table

Examples:
  livedesk positions import positions.csv
  livedesk positions upsert '{"user_id":"U1","security_id":"S1","realized_profit":"12.5"}'
  livedesk positions delete U1 S1
  livedesk positions changes --after 120 > changes.jsonl`,
}

var positionsImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Upsert positions from a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE:  runPositionsImport,
}

var positionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the viewer's positions as CSV",
	Args:  cobra.NoArgs,
	RunE:  runPositionsExport,
}

var positionsUpsertCmd = &cobra.Command{
	Use:   "upsert <json>",
	Short: "Insert or replace one position",
	Long:  `Insert or replace one position. The argument is a JSON object of column values, or "-" to read it from stdin.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPositionsUpsert,
}

var positionsDeleteCmd = &cobra.Command{
	Use:   "delete <user-id> [security-id]",
	Short: "Delete a position, or all of a user's positions",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runPositionsDelete,
}

var positionsChangesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Write the change log as JSONL",
	Args:  cobra.NoArgs,
	RunE:  runPositionsChanges,
}

var positionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop change log entries older than --older-than",
	Args:  cobra.NoArgs,
	RunE:  runPositionsPrune,
}

var positionsInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the NOTIFY trigger on the Postgres table",
	Long: `Create or replace the trigger function that publishes every change to the
positions table on the configured LISTEN channel. With --print the SQL is
printed instead of executed.`,
	Args: cobra.NoArgs,
	RunE: runPositionsInstall,
}

var (
	positionsDB        string
	positionsOut       string
	positionsAfter     int64
	positionsOlderThan time.Duration
	positionsPrint     bool
)

func init() {
	rootCmd.AddCommand(positionsCmd)
	positionsCmd.AddCommand(positionsImportCmd)
	positionsCmd.AddCommand(positionsExportCmd)
	positionsCmd.AddCommand(positionsUpsertCmd)
	positionsCmd.AddCommand(positionsDeleteCmd)
	positionsCmd.AddCommand(positionsChangesCmd)
	positionsCmd.AddCommand(positionsPruneCmd)
	positionsCmd.AddCommand(positionsInstallCmd)

	positionsCmd.PersistentFlags().StringVarP(&positionsDB, "db", "d", "", "SQLite journal path, overrides source.sqlite.path")
	positionsExportCmd.Flags().StringVarP(&positionsOut, "output", "o", "", "output file (default stdout)")
	positionsChangesCmd.Flags().Int64Var(&positionsAfter, "after", 0, "only entries after this sequence number")
	positionsPruneCmd.Flags().DurationVar(&positionsOlderThan, "older-than", 7*24*time.Hour, "age of entries to drop")
	positionsInstallCmd.Flags().BoolVar(&positionsPrint, "print", false, "print the SQL instead of running it")
}

// withJournal loads the config, opens the journal and runs fn.
func withJournal(fn func(j *journal.SQLite, cfg *config.Config, log zerolog.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if positionsDB != "" {
		cfg.Source.SQLite.Path = positionsDB
	}
	log := newLogger(cfg)

	j, err := openJournal(cfg, log)
	if err != nil {
		return err
	}
	defer j.Close()
	return fn(j, cfg, log)
}

func runPositionsImport(cmd *cobra.Command, args []string) error {
	return withJournal(func(j *journal.SQLite, _ *config.Config, log zerolog.Logger) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := j.ImportCSV(cmd.Context(), f)
		if err != nil {
			return fmt.Errorf("import %s: %w", args[0], err)
		}
		log.Info().Int("rows", n).Str("file", args[0]).Msg("imported")
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d positions\n", n)
		return nil
	})
}

func runPositionsExport(cmd *cobra.Command, args []string) error {
	return withJournal(func(j *journal.SQLite, cfg *config.Config, _ zerolog.Logger) error {
		w := cmd.OutOrStdout()
		if positionsOut != "" {
			f, err := os.Create(positionsOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		_, err := j.ExportCSV(cmd.Context(), w, cfg.Viewer.Viewer().Filter())
		return err
	})
}

func runPositionsUpsert(cmd *cobra.Command, args []string) error {
	data := []byte(args[0])
	if args[0] == "-" {
		var err error
		if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return err
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var row position.Row
	if err := dec.Decode(&row); err != nil {
		return fmt.Errorf("decode position: %w", err)
	}

	return withJournal(func(j *journal.SQLite, _ *config.Config, _ zerolog.Logger) error {
		if err := j.Upsert(cmd.Context(), row); err != nil {
			return err
		}
		user, sec, _ := row.Identity()
		fmt.Fprintf(cmd.OutOrStdout(), "upserted %s/%s\n", user, sec)
		return nil
	})
}

func runPositionsDelete(cmd *cobra.Command, args []string) error {
	return withJournal(func(j *journal.SQLite, _ *config.Config, _ zerolog.Logger) error {
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			n, err := j.DeleteUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted %d positions of %s\n", n, args[0])
			return nil
		}

		ok, err := j.Delete(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no position %s/%s", args[0], args[1])
		}
		fmt.Fprintf(out, "deleted %s/%s\n", args[0], args[1])
		return nil
	})
}

func runPositionsChanges(cmd *cobra.Command, args []string) error {
	return withJournal(func(j *journal.SQLite, _ *config.Config, log zerolog.Logger) error {
		n, err := j.ExportChanges(cmd.Context(), cmd.OutOrStdout(), positionsAfter)
		if err != nil {
			return err
		}
		log.Debug().Int("events", n).Int64("after", positionsAfter).Msg("changes written")
		return nil
	})
}

func runPositionsPrune(cmd *cobra.Command, args []string) error {
	return withJournal(func(j *journal.SQLite, _ *config.Config, _ zerolog.Logger) error {
		n, err := j.Prune(cmd.Context(), time.Now().Add(-positionsOlderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d change log entries\n", n)
		return nil
	})
}

func runPositionsInstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	channel := cfg.Source.Postgres.Channel
	if channel == "" {
		channel = postgres.DefaultChannel
	}
	if positionsPrint {
		fmt.Fprintln(cmd.OutOrStdout(), postgres.InstallSQL(cfg.Source.Table, channel))
		return nil
	}
	if cfg.Source.Type != config.SourcePostgres {
		return fmt.Errorf("install needs source.type postgres, have %s", cfg.Source.Type)
	}

	store, err := postgres.New(cmd.Context(), cfg.Source.Postgres, newLogger(cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Install(cmd.Context(), cfg.Source.Table); err != nil {
		return fmt.Errorf("install trigger: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "installed trigger on %s, channel %s\n", cfg.Source.Table, channel)
	return nil
}
