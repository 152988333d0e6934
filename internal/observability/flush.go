package observability

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FlushTelemetry flushes telemetry buffers before process exit. For
// pull-based Prometheus the metrics are already exposed; this mainly flushes
// logs. Call right before the orchestrator exits.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	if logger != nil {
		if err := logger.Sync(); err != nil {
			return fmt.Errorf("flush logs: %w", err)
		}
	}
	return nil
}
