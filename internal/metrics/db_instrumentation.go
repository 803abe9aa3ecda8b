package metrics

import "time"

// MeasureDBQuery times a DLQ backend operation. m may be nil.
//
//	defer metrics.MeasureDBQuery(m, "save_failed_webhook", "postgres")()
func MeasureDBQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, backend, time.Since(start))
	}
}
