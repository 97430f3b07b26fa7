package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/common/expfmt"
)

// WriteText writes every metric family in the global registry to w in the
// Prometheus text exposition format.
//
// Short-lived processes use this instead of an HTTP endpoint: the collectors
// are dumped once the work is done.
//
// Returns an error if metrics are not enabled or gathering fails.
func WriteText(w io.Writer) error {
	reg := GetRegistry()
	if reg == nil {
		return fmt.Errorf("metrics collection is disabled")
	}

	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
