package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/livedesk/live"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the viewer's collection as changes arrive",
	Long: `Start a live view and print a line for every published collection,
or the full table with --table. Stops on Ctrl-C.

Example:
  livedesk watch --role mentor --viewer m1`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var watchTable bool

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchTable, "table", false, "print the whole collection on every change")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, release, err := openSource(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer release()

	opts := []live.Option{live.WithTable(cfg.Source.Table)}
	if cfg.Resync != "" {
		opts = append(opts, live.WithResync(cfg.Resync))
	}
	v := live.NewView(cfg.Viewer.Viewer(), src, log, opts...)
	if err := v.Start(ctx); err != nil {
		return err
	}
	defer v.Close()

	updates, unwatch := v.Watch()
	defer unwatch()

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-updates:
			if !ok {
				return v.Err()
			}
			if watchTable {
				if err := printTable(out, c, false); err != nil {
					return err
				}
				fmt.Fprintln(out)
				continue
			}
			st := v.Stats()
			fmt.Fprintf(out, "%s users=%d positions=%d applied=%d dropped=%d\n",
				time.Now().Format(time.TimeOnly), c.Len(), c.PositionCount(), st.Applied, st.Dropped)
		}
	}
}
