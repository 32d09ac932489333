// Package serve implements the serve subcommand: run the classification
// engine behind an HTTP API with an optional Prometheus endpoint.
package serve

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/insectid/insectid-go/internal/api"
	"github.com/insectid/insectid-go/internal/conf"
	"github.com/insectid/insectid-go/internal/engine"
	"github.com/insectid/insectid-go/internal/model"
	"github.com/insectid/insectid-go/internal/observability"
)

const shutdownTimeout = 10 * time.Second

// Command creates the serve command.
func Command(ctx *conf.Context) *cobra.Command {
	var (
		listen        string
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the classification cascade over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), ctx.Settings, listen, metricsListen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":8080", "API listen address")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Prometheus listen address (empty disables)")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, listen, metricsListen string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	factory := &model.TFLiteFactory{Policy: settings.BackendPolicy()}
	eng := engine.New(settings, factory, metrics.Cascade)

	// Warm the registry up front so a broken manifest fails the command
	// instead of the first request.
	if _, err := eng.Registry(); err != nil {
		return err
	}

	if metricsListen != "" {
		observability.NewEndpoint(metricsListen, metrics).Start(ctx)
	}

	controller := api.New(eng)
	log := api.GetLogger()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("api server starting", "address", listen)
		serveErr <- controller.Echo.Start(listen)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return controller.Echo.Shutdown(shutdownCtx)
}
