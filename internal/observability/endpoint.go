package observability

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
	metricspkg "github.com/c43892/storyteller/internal/observability/metrics"
)

// Endpoint serves /metrics over HTTP.
type Endpoint struct {
	listenAddress string
	metrics       *Metrics

	mu       sync.Mutex
	listener net.Listener
}

// NewEndpoint creates an endpoint for m listening on listenAddress.
func NewEndpoint(listenAddress string, m *Metrics) (*Endpoint, error) {
	if m == nil {
		return nil, errors.Newf("metrics endpoint needs metrics").
			Component("observability").
			Category(errors.CategoryInvalidArgument).
			Build()
	}
	if listenAddress == "" {
		return nil, errors.Newf("metrics endpoint needs a listen address").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Endpoint{listenAddress: listenAddress, metrics: m}, nil
}

// Run serves until ctx is done, then shuts the server down gracefully.
func (e *Endpoint) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return errors.New(err).
			Component("observability").
			Category(errors.CategoryNetwork).
			Context("address", e.listenAddress).
			Build()
	}
	e.mu.Lock()
	e.listener = ln
	e.mu.Unlock()

	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		GetLogger().Info("metrics endpoint starting", logger.String("address", ln.Addr().String()))
		serveErr <- server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		return errors.New(err).
			Component("observability").
			Category(errors.CategoryNetwork).
			Context("address", e.listenAddress).
			Build()
	case <-ctx.Done():
	}

	GetLogger().Info("stopping metrics endpoint")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		GetLogger().Error("metrics endpoint shutdown error", logger.Error(err))
		return err
	}
	<-serveErr
	return nil
}

// Addr returns the bound address once Run has started listening.
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
