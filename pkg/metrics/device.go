package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DeviceMetrics provides observability for block device backends.
//
// This implementation collects metrics about backend requests including:
//   - Request counts by operation and status
//   - Request latency
//   - Bytes transferred
type DeviceMetrics interface {
	// RecordOperation records one backend request.
	//
	// Parameters:
	//   - operation: Request name (e.g., "GetObject", "PutObject")
	//   - duration: Time taken, including rate limiter waits
	//   - bytes: Payload bytes transferred
	//   - err: Error if the request failed, nil if successful
	RecordOperation(operation string, duration time.Duration, bytes int, err error)
}

// deviceMetrics is the Prometheus implementation of DeviceMetrics.
type deviceMetrics struct {
	deviceType        string
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewDeviceMetrics creates a new Prometheus-backed DeviceMetrics instance.
//
// Parameters:
//   - deviceType: Type of device (e.g., "s3", "file")
//     Used as a label to distinguish metrics from different backends.
//
// Returns a no-op implementation if metrics are not enabled.
func NewDeviceMetrics(deviceType string) DeviceMetrics {
	if !IsEnabled() {
		return NoopDeviceMetrics()
	}

	reg := GetRegistry()

	return &deviceMetrics{
		deviceType: deviceType,
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ntfs_device_operations_total",
				Help: "Total number of device backend requests by device type, operation, and status",
			},
			[]string{"device_type", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ntfs_device_operation_duration_seconds",
				Help: "Duration of device backend requests in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
				},
			},
			[]string{"device_type", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ntfs_device_bytes_transferred_total",
				Help: "Total bytes transferred by device backend requests",
			},
			[]string{"device_type", "operation"},
		),
	}
}

func (m *deviceMetrics) RecordOperation(operation string, duration time.Duration, bytes int, err error) {
	m.operationsTotal.WithLabelValues(m.deviceType, operation, status(err)).Inc()
	m.operationDuration.WithLabelValues(m.deviceType, operation).Observe(duration.Seconds())
	if err == nil && bytes > 0 {
		m.bytesTransferred.WithLabelValues(m.deviceType, operation).Add(float64(bytes))
	}
}

// NoopDeviceMetrics returns a DeviceMetrics that records nothing.
func NoopDeviceMetrics() DeviceMetrics {
	return noopDeviceMetrics{}
}

type noopDeviceMetrics struct{}

func (noopDeviceMetrics) RecordOperation(operation string, duration time.Duration, bytes int, err error) {
}
