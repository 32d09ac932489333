package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/insectid/insectid-go/internal/logging"
)

var (
	serviceLogger *slog.Logger
	initOnce      sync.Once
)

func getLogger() *slog.Logger {
	initOnce.Do(func() {
		serviceLogger = logging.ForModule("observability")
	})
	return serviceLogger
}

// shutdownTimeout bounds the graceful shutdown of the telemetry server.
const shutdownTimeout = 5 * time.Second

// Endpoint serves the Prometheus scrape endpoint on its own listener.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
}

// NewEndpoint creates a telemetry endpoint for the given listen address.
func NewEndpoint(listenAddress string, metrics *Metrics) *Endpoint {
	return &Endpoint{
		listenAddress: listenAddress,
		metrics:       metrics,
	}
}

// Start runs the HTTP server in a background goroutine and shuts it down
// when ctx is cancelled.
func (e *Endpoint) Start(ctx context.Context) {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	e.server = &http.Server{
		Addr:    e.listenAddress,
		Handler: mux,
	}

	go func() {
		getLogger().Info("telemetry endpoint starting", "address", e.listenAddress)
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			getLogger().Error("telemetry server error", "error", err)
		}
	}()

	go e.gracefulShutdown(ctx)
}

func (e *Endpoint) gracefulShutdown(ctx context.Context) {
	<-ctx.Done()
	getLogger().Info("stopping telemetry server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		getLogger().Error("telemetry server shutdown error", "error", err)
	}
}
