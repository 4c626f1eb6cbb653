package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/livedesk/aggregate"
	"github.com/rustyeddy/livedesk/position"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [user-id]",
	Short: "Print the viewer's collection once",
	Long: `Fetch the viewer's scoped snapshot, build the collection and print it.
With a user id only that user is printed, with positions.

Examples:
  livedesk snapshot --role admin
  livedesk snapshot --role mentor --viewer m1 --format org
  livedesk snapshot U42 --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSnapshot,
}

var (
	snapshotFormat    string
	snapshotPositions bool
)

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().StringVar(&snapshotFormat, "format", formatTable, "output format: table, json or org")
	snapshotCmd.Flags().BoolVarP(&snapshotPositions, "positions", "p", false, "include positions")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	ctx := cmd.Context()

	src, release, err := openSource(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer release()

	viewer := cfg.Viewer.Viewer()
	rows, err := src.Snapshot(ctx, cfg.Source.Table, viewer.Filter())
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	withPositions := snapshotPositions
	if len(args) == 1 {
		rows = onlyUser(rows, args[0])
		withPositions = true
	}
	c := aggregate.BuildLenient(rows, func(i int, _ position.Row, err error) {
		log.Warn().Err(err).Int("row", i).Msg("skipping malformed row")
	})
	if len(args) == 1 && c.Len() == 0 {
		return fmt.Errorf("user %s not in view", args[0])
	}
	return printCollection(cmd.OutOrStdout(), c, snapshotFormat, withPositions)
}

func onlyUser(rows []position.Row, userID string) []position.Row {
	var out []position.Row
	for _, r := range rows {
		if r.Text(position.ColUserID) == userID {
			out = append(out, r)
		}
	}
	return out
}
