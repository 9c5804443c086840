package telemetry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"reflect"

	"github.com/gorilla/mux"
	prometheus2 "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/exporters/prometheus"
	metric2 "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

const defaultEndpoint = "/metrics"

// MockAppMetrics mocks the AppMetrics interface
type MockAppMetrics struct {
	GetMeterFunc       func() metric2.Meter
	CloseFunc          func() error
	ExposeFunc         func(ctx context.Context, port int, endpoint string) error
	HTTPMiddlewareFunc func() *HTTPMiddleware
	StoreMetricsFunc   func() *StoreMetrics
	UpdateMetricsFunc  func() *UpdateMetrics
}

// GetMeter mocks the GetMeter function of the AppMetrics interface
func (mock *MockAppMetrics) GetMeter() metric2.Meter {
	if mock.GetMeterFunc != nil {
		return mock.GetMeterFunc()
	}
	return nil
}

// Close mocks the Close function of the AppMetrics interface
func (mock *MockAppMetrics) Close() error {
	if mock.CloseFunc != nil {
		return mock.CloseFunc()
	}
	return fmt.Errorf("unimplemented")
}

// Expose mocks the Expose function of the AppMetrics interface
func (mock *MockAppMetrics) Expose(ctx context.Context, port int, endpoint string) error {
	if mock.ExposeFunc != nil {
		return mock.ExposeFunc(ctx, port, endpoint)
	}
	return fmt.Errorf("unimplemented")
}

// HTTPMiddleware mocks the HTTPMiddleware function of the AppMetrics interface
func (mock *MockAppMetrics) HTTPMiddleware() *HTTPMiddleware {
	if mock.HTTPMiddlewareFunc != nil {
		return mock.HTTPMiddlewareFunc()
	}
	return nil
}

// StoreMetrics mocks the StoreMetrics function of the AppMetrics interface
func (mock *MockAppMetrics) StoreMetrics() *StoreMetrics {
	if mock.StoreMetricsFunc != nil {
		return mock.StoreMetricsFunc()
	}
	return nil
}

// UpdateMetrics mocks the UpdateMetrics function of the AppMetrics interface
func (mock *MockAppMetrics) UpdateMetrics() *UpdateMetrics {
	if mock.UpdateMetricsFunc != nil {
		return mock.UpdateMetricsFunc()
	}
	return nil
}

// AppMetrics is metrics interface
type AppMetrics interface {
	GetMeter() metric2.Meter
	Close() error
	Expose(ctx context.Context, port int, endpoint string) error
	HTTPMiddleware() *HTTPMiddleware
	StoreMetrics() *StoreMetrics
	UpdateMetrics() *UpdateMetrics
}

// defaultAppMetrics are core application metrics based on OpenTelemetry https://opentelemetry.io/
type defaultAppMetrics struct {
	// Meter can be used by different application parts to create counters and measure things
	Meter             metric2.Meter
	listener          net.Listener
	ctx               context.Context
	externallyManaged bool
	httpMiddleware    *HTTPMiddleware
	storeMetrics      *StoreMetrics
	updateMetrics     *UpdateMetrics
}

// HTTPMiddleware returns metrics for the http api package
func (appMetrics *defaultAppMetrics) HTTPMiddleware() *HTTPMiddleware {
	return appMetrics.httpMiddleware
}

// StoreMetrics returns metrics for the store
func (appMetrics *defaultAppMetrics) StoreMetrics() *StoreMetrics {
	return appMetrics.storeMetrics
}

// UpdateMetrics returns metrics for update decisions, rollouts and telemetry ingestion
func (appMetrics *defaultAppMetrics) UpdateMetrics() *UpdateMetrics {
	return appMetrics.updateMetrics
}

// Close stop application metrics HTTP handler and closes listener.
func (appMetrics *defaultAppMetrics) Close() error {
	if appMetrics.listener == nil {
		return nil
	}
	return appMetrics.listener.Close()
}

// Expose metrics on a given port and endpoint. If endpoint is empty a defaultEndpoint one will be used.
// Exposes metrics in the Prometheus format https://prometheus.io/
func (appMetrics *defaultAppMetrics) Expose(ctx context.Context, port int, endpoint string) error {
	if appMetrics.externallyManaged {
		return nil
	}
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	rootRouter := mux.NewRouter()
	rootRouter.Handle(endpoint, promhttp.HandlerFor(
		prometheus2.DefaultGatherer,
		promhttp.HandlerOpts{EnableOpenMetrics: true}))
	listener, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	appMetrics.listener = listener
	go func() {
		if err := http.Serve(listener, rootRouter); err != nil && err != http.ErrServerClosed {
			log.WithContext(ctx).Errorf("metrics server error: %v", err)
		}
		log.WithContext(ctx).Info("metrics server stopped")
	}()

	log.WithContext(ctx).Infof("enabled application metrics and exposing on http://%s", listener.Addr().String())

	return nil
}

// GetMeter returns metrics meter that can be used to add various counters
func (appMetrics *defaultAppMetrics) GetMeter() metric2.Meter {
	return appMetrics.Meter
}

// NewDefaultAppMetrics and expose them via defaultEndpoint on a given HTTP port
func NewDefaultAppMetrics(ctx context.Context) (AppMetrics, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	pkg := reflect.TypeOf(defaultEndpoint).PkgPath()
	meter := provider.Meter(pkg)

	appMetrics, err := newAppMetrics(ctx, meter)
	if err != nil {
		return nil, err
	}
	return appMetrics, nil
}

// NewAppMetricsWithMeter creates AppMetrics using an externally provided meter.
// The caller is responsible for exposing metrics via HTTP. Expose() and Close() are no-ops.
func NewAppMetricsWithMeter(ctx context.Context, meter metric2.Meter) (AppMetrics, error) {
	appMetrics, err := newAppMetrics(ctx, meter)
	if err != nil {
		return nil, err
	}
	appMetrics.externallyManaged = true
	return appMetrics, nil
}

func newAppMetrics(ctx context.Context, meter metric2.Meter) (*defaultAppMetrics, error) {
	middleware, err := NewMetricsMiddleware(ctx, meter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize HTTP middleware metrics: %w", err)
	}

	storeMetrics, err := NewStoreMetrics(ctx, meter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store metrics: %w", err)
	}

	updateMetrics, err := NewUpdateMetrics(ctx, meter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize update metrics: %w", err)
	}

	return &defaultAppMetrics{
		Meter:          meter,
		ctx:            ctx,
		httpMiddleware: middleware,
		storeMetrics:   storeMetrics,
		updateMetrics:  updateMetrics,
	}, nil
}
