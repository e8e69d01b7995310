package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/hygiene/internal/metrics"
	"github.com/roach88/hygiene/internal/pipeline"
	"github.com/roach88/hygiene/internal/server"
	"github.com/roach88/hygiene/internal/status"
	"github.com/roach88/hygiene/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr            string
	Database        string
	Redis           string
	StatusTTL       time.Duration
	MaxBody         int64
	ShutdownTimeout time.Duration

	// Listener overrides Addr (for testing).
	Listener net.Listener
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP",
		Long: `Accept flowsheet submissions over HTTP, run them in the background
and serve their status, history and Prometheus metrics.

Run status is kept in memory unless --redis is given. Finished runs are
kept in memory unless --db is given.

Examples:
  hygiene serve --addr :8080
  hygiene serve --addr :8080 --db ./runs.db --redis localhost:6379`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record finished runs in this SQLite database")
	cmd.Flags().StringVar(&opts.Redis, "redis", "", "keep run status in the Redis server at this address")
	cmd.Flags().DurationVar(&opts.StatusTTL, "status-ttl", 24*time.Hour, "expiry of Redis status keys (0 keeps them)")
	cmd.Flags().Int64Var(&opts.MaxBody, "max-body", server.DefaultMaxBody, "maximum size of a submitted flowsheet in bytes")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for active runs to stop")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var statusStore status.Store = status.NewMemory()
	if opts.Redis != "" {
		rs := status.NewRedis(opts.Redis, "", 0, status.WithTTL(opts.StatusTTL))
		defer rs.Close()
		statusStore = rs
	}

	srvOpts := []server.Option{
		server.WithMetrics(m),
		server.WithLogger(logger),
		server.WithMaxBody(opts.MaxBody),
	}
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		srvOpts = append(srvOpts, server.WithStore(st))
	}

	pipe := pipeline.New(
		pipeline.WithLogger(logger),
		pipeline.WithStatusStore(statusStore),
		pipeline.WithMetrics(m),
	)
	srv := server.New(pipe, srvOpts...)

	ln := opts.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", opts.Addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- httpSrv.Serve(ln)
	}()
	logger.Info("serving", "addr", ln.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := srv.Close(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "active runs did not stop", err)
	}
	logger.Info("stopped")
	return nil
}
