package config

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry holds the installed metric provider so the command can shut
// it down on exit.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
}

// SetupTelemetry installs a metric provider exporting to stdout. Metrics
// registered via the global meter provider (see utils/broadcast) are
// collected once it is in place.
func SetupTelemetry(ctx context.Context) (*Telemetry, error) {
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(15*time.Second))))
	otel.SetMeterProvider(provider)
	return &Telemetry{provider: provider}, nil
}

func (t *Telemetry) Shutdown() {
	//nolint:errcheck // by design
	t.provider.Shutdown(context.Background())
}
