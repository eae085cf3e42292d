// Package telemetry publishes OpenTelemetry counters for the fleet
// actions the daemon performs.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry holds the daemon's instruments. A nil *Telemetry is a valid
// no-op receiver so callers never branch on telemetry being enabled.
type Telemetry struct {
	provider *sdkmetric.MeterProvider

	nodeActions  metric.Int64Counter
	batchActions metric.Int64Counter
	scrapeErrors metric.Int64Counter
}

// New sets up a metrics provider exporting to stdout on the given
// interval. interval <= 0 disables telemetry and returns nil.
func New(interval time.Duration) (*Telemetry, error) {
	if interval <= 0 {
		return nil, nil
	}
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval))),
	)
	meter := provider.Meter("formicaiod")

	t := &Telemetry{provider: provider}
	if t.nodeActions, err = meter.Int64Counter("formicaio.node.actions",
		metric.WithDescription("Node lifecycle actions performed")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if t.batchActions, err = meter.Int64Counter("formicaio.batch.actions",
		metric.WithDescription("Batch operations scheduled or cancelled")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if t.scrapeErrors, err = meter.Int64Counter("formicaio.metrics.scrape_errors",
		metric.WithDescription("Failed node metrics scrapes")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	return t, nil
}

// CountNodeAction records one lifecycle action with its outcome.
func (t *Telemetry) CountNodeAction(ctx context.Context, action string, failed bool) {
	if t == nil {
		return
	}
	t.nodeActions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.Bool("failed", failed),
		))
}

// CountBatchAction records a batch being scheduled or cancelled.
func (t *Telemetry) CountBatchAction(ctx context.Context, action string) {
	if t == nil {
		return
	}
	t.batchActions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// CountScrapeError records one failed metrics scrape.
func (t *Telemetry) CountScrapeError(ctx context.Context) {
	if t == nil {
		return
	}
	t.scrapeErrors.Add(ctx, 1)
}

// Shutdown flushes pending metrics.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
