package main

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
	"go.uber.org/zap"

	"github.com/and161185/safe-comments/internal/widget"
)

func newServeCmd(g *globals) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve [topic]",
		Short: "Serve the comment widget of a topic over HTTP",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, _, err := topicArg(args)
			if err != nil {
				return err
			}
			if err := g.requireUser(); err != nil {
				return err
			}
			cfg, err := g.bootstrapConfig()
			if err != nil {
				return err
			}
			nw, err := g.network(cmd)
			if err != nil {
				return err
			}

			hub := widget.NewHub(g.log, nil)
			defer hub.Close()
			ctl := widget.NewController(nw, cfg, g.log, hub.Broadcast)
			defer ctl.Close()

			actx, cancel := g.context()
			err = ctl.Authorise(actx, topic)
			cancel()
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              listen,
				Handler:           widget.NewServer(ctl, hub, g.log).Router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			fmt.Fprintf(cmd.OutOrStdout(), "serving %q on %s\n", topic, listen)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			g.log.Info("shutting down")
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := srv.Shutdown(sctx); err != nil {
				g.log.Warn("shutdown", zap.Error(err))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8080", "HTTP listen address")
	return cmd
}
