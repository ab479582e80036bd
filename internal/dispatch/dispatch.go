// Package dispatch routes canonical operations to service handlers.
// The dispatcher owns no business logic and no persistent state; it is
// safe to call from any number of concurrent provider adapters.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloudemu/internal/logging"
	"cloudemu/internal/metric"
	"cloudemu/pkg/api"
)

// HandlerFunc handles one canonical operation.
type HandlerFunc func(ctx context.Context, op api.Operation) api.Result

type routeKey struct {
	provider api.Provider
	service  api.Service
	name     string
}

// Dispatcher maps (provider, service, operation name) to a handler.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[routeKey]HandlerFunc
	metrics  *metric.Metrics // optional
	logger   *slog.Logger
}

// New creates an empty dispatcher. metrics may be nil.
func New(metrics *metric.Metrics) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[routeKey]HandlerFunc),
		metrics:  metrics,
		logger:   logging.For("dispatch"),
	}
}

// Register installs a handler for one route. Registering the same route
// twice is Conflict: it would silently shadow a service.
func (d *Dispatcher) Register(provider api.Provider, service api.Service, name string, h HandlerFunc) error {
	if name == "" {
		return api.InvalidArgumentf("operation name must not be empty")
	}
	if h == nil {
		return api.InvalidArgumentf("handler for %s/%s/%s must not be nil", provider, service, name)
	}
	key := routeKey{provider: provider, service: service, name: name}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.handlers[key]; dup {
		return api.Conflictf("route %s/%s/%s already registered", provider, service, name)
	}
	d.handlers[key] = h
	return nil
}

// Dispatch routes op to its handler. Unknown routes yield NotImplemented
// carrying the provider and operation for diagnostics. A panicking
// handler is contained and reported as an IO-kind error; no fault leaves
// the core untyped.
func (d *Dispatcher) Dispatch(ctx context.Context, op api.Operation) (res api.Result) {
	start := time.Now()
	if d.metrics != nil {
		d.metrics.OperationsInFlight.Inc()
		defer d.metrics.OperationsInFlight.Dec()
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				"provider", op.Provider, "service", op.Service, "operation", op.Name, "panic", r)
			res = api.Fail(api.IOErrorf(fmt.Errorf("%v", r), "internal fault in %s/%s", op.Service, op.Name))
		}
		d.observe(op, res, time.Since(start))
	}()

	d.mu.RLock()
	h, ok := d.handlers[routeKey{provider: op.Provider, service: op.Service, name: op.Name}]
	d.mu.RUnlock()
	if !ok {
		return api.Fail(api.NotImplementedf(
			"operation %q on service %q is not implemented for provider %q",
			op.Name, op.Service, op.Provider))
	}
	return h(ctx, op)
}

func (d *Dispatcher) observe(op api.Operation, res api.Result, took time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.OperationsTotal.WithLabelValues(string(op.Provider), string(op.Service), op.Name).Inc()
	d.metrics.OperationDuration.WithLabelValues(string(op.Service), op.Name).Observe(took.Seconds())
	if !res.Status.OK {
		d.metrics.ErrorsTotal.WithLabelValues(string(op.Service), res.Status.Kind.String()).Inc()
	}
}
