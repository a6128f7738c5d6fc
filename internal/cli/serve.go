package cli

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

	"github.com/c0deZ3R0/go-crdt-kit/logging"
	wstransport "github.com/c0deZ3R0/go-crdt-kit/transport/websocket"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
	Path string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host a WebSocket relay for sync peers",
		Long: `Host the relay server that sync peers dial to exchange operations.
Peers connect to ws://<addr><path>?node_id=<id>.

Example:
  crdtsync serve --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.Path, "path", "/sync", "websocket endpoint path")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	relay := wstransport.NewServer()
	defer relay.Close()

	mux := http.NewServeMux()
	mux.Handle(opts.Path, relay.Handler())

	server := &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Relay listening")
		fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on %s%s\n", opts.Addr, opts.Path)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		fmt.Fprintf(cmd.OutOrStdout(), "Received %s, shutting down\n", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
