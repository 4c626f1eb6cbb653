package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/livedesk/internal/trace"
	"github.com/rustyeddy/livedesk/live"
	"github.com/rustyeddy/livedesk/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve live collections over HTTP and websocket",
	Long: `Start the HTTP server. Each viewer gets one live view: a scoped snapshot
kept current from the source's change stream.

Routes:
  GET /api/health
  GET /api/live                   collection (?positions=1 includes positions)
  GET /api/live/users/{userID}    one user with positions
  GET /api/live/stream            websocket, one message per change

Example:
  livedesk serve -c livedesk.yaml --role mentor --viewer m1`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr     string
	serveViewIdle time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides server.addr")
	serveCmd.Flags().DurationVar(&serveViewIdle, "view-idle", live.DefaultIdleTimeout, "close a viewer's view after it has been unused this long")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	log := newLogger(cfg)

	if err := trace.Init(cfg.Trace, version); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := trace.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("trace shutdown")
		}
	}()

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
	hub := live.NewHub(src, log, live.WithViewOptions(opts...), live.WithIdleTimeout(serveViewIdle))
	defer hub.Close()

	// start the default view now so a bad source fails here, not on the
	// first request
	viewer := cfg.Viewer.Viewer()
	if viewer.ID != "" || viewer.Role == live.RoleAdmin {
		v, release, err := hub.View(ctx, viewer)
		if err != nil {
			return err
		}
		defer release()
		log.Info().
			Str("viewer", viewer.ID).
			Str("role", string(viewer.Role)).
			Int("users", v.Collection().Len()).
			Msg("default view ready")
	}

	srv := server.New(server.Config{
		Log:               log,
		Addr:              cfg.Server.Addr,
		Version:           version,
		Viewer:            viewer,
		ViewerFromRequest: cfg.Server.ViewerFromRequest,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
	}, hub)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("source", cfg.Source.Type).Msg("server listening")
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
