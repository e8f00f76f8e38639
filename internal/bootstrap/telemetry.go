package bootstrap

import (
	"context"

	"walletd/internal/config"
	"walletd/pkg/telemetry"
)

// InitTelemetry installs the providers the config asks for. Tracing also
// exports logs and implies metrics. Returns nil when everything is off.
func InitTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	tc := cfg.Telemetry
	if !tc.EnableTracing && !tc.EnableMetrics {
		return nil, nil
	}
	return telemetry.Setup(ctx, telemetry.Options{
		ServiceName: tc.ServiceName,
		Metrics:     true,
		Traces:      tc.EnableTracing,
		Logs:        tc.EnableTracing,
	})
}
