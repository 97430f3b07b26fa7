package config

import (
	"github.com/marmos91/dittofs-ntfs/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// FileMetrics is the collector for file record maintenance (never nil, uses noop if disabled)
	FileMetrics metrics.FileMetrics

	// DeviceMetrics is the collector for the cluster device (never nil, uses noop if disabled)
	DeviceMetrics metrics.DeviceMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns no-op metrics implementations (zero overhead)
//
// Parameters:
//   - cfg: The complete configuration
//
// Returns:
//   - MetricsResult containing all metrics components
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			FileMetrics:   metrics.NoopFileMetrics(),
			DeviceMetrics: metrics.NoopDeviceMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		FileMetrics:   metrics.NewFileMetrics(),
		DeviceMetrics: metrics.NewDeviceMetrics(cfg.Device.Type),
	}
}
