// Package telemetry counts platform calls and written rows with
// OpenTelemetry instruments.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const scope = "github.com/anatolykoptev/go-glass"

// Instrument names.
const (
	MetricAPICalls    = "glass.api.calls"
	MetricRateLimited = "glass.api.rate_limited"
	MetricRows        = "glass.rows.emitted"
)

// Recorder owns a meter provider whose totals can be read back at the end
// of a run.
type Recorder struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider

	apiCalls    metric.Int64Counter
	rateLimited metric.Int64Counter
	rows        metric.Int64Counter
}

// New returns a recorder with its own provider. Extra readers, such as an
// exporter's periodic reader, receive the same measurements.
func New(readers ...sdkmetric.Reader) (*Recorder, error) {
	reader := sdkmetric.NewManualReader()
	opts := []sdkmetric.Option{sdkmetric.WithReader(reader)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	provider := sdkmetric.NewMeterProvider(opts...)
	meter := provider.Meter(scope)

	r := &Recorder{reader: reader, provider: provider}
	var err error
	if r.apiCalls, err = meter.Int64Counter(MetricAPICalls,
		metric.WithDescription("Platform API requests by endpoint and outcome.")); err != nil {
		return nil, fmt.Errorf("counter %s: %w", MetricAPICalls, err)
	}
	if r.rateLimited, err = meter.Int64Counter(MetricRateLimited,
		metric.WithDescription("Platform API requests refused for quota.")); err != nil {
		return nil, fmt.Errorf("counter %s: %w", MetricRateLimited, err)
	}
	if r.rows, err = meter.Int64Counter(MetricRows,
		metric.WithDescription("New rows written by kind.")); err != nil {
		return nil, fmt.Errorf("counter %s: %w", MetricRows, err)
	}
	return r, nil
}

// APICall has the signature of gql.Config.MetricsHook.
func (r *Recorder) APICall(endpoint string, success, rateLimited bool) {
	ctx := context.Background()
	ep := attribute.String("endpoint", endpoint)
	r.apiCalls.Add(ctx, 1, metric.WithAttributes(ep, attribute.Bool("success", success)))
	if rateLimited {
		r.rateLimited.Add(ctx, 1, metric.WithAttributes(ep))
	}
}

// RowEmitted counts one new row of kind.
func (r *Recorder) RowEmitted(kind string) {
	r.rows.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Totals returns the running sum of every counter, across attributes.
func (r *Recorder) Totals(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals, nil
}

// Shutdown flushes and stops the provider.
func (r *Recorder) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}
