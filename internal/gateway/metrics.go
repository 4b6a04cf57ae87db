package gateway

import "sync/atomic"

// Metrics counts admin API actions using atomic operations for lock-free
// concurrency. Tool call metrics live in the telemetry Prometheus sink.
type Metrics struct {
	confirmations atomic.Int64
	cancellations atomic.Int64
	cancelledCall atomic.Int64
	settingWrites atomic.Int64
	errors        atomic.Int64
}

// RecordConfirmation records a decision submitted for an invocation.
func (m *Metrics) RecordConfirmation() {
	m.confirmations.Add(1)
}

// RecordCancellation records a request cancellation and how many tool
// calls it stopped.
func (m *Metrics) RecordCancellation(calls int) {
	m.cancellations.Add(1)
	m.cancelledCall.Add(int64(calls))
}

// RecordSettingWrite records a settings update.
func (m *Metrics) RecordSettingWrite() {
	m.settingWrites.Add(1)
}

// RecordError records a failed API request.
func (m *Metrics) RecordError() {
	m.errors.Add(1)
}

// Snapshot returns a point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Confirmations:  m.confirmations.Load(),
		Cancellations:  m.cancellations.Load(),
		CancelledCalls: m.cancelledCall.Load(),
		SettingWrites:  m.settingWrites.Load(),
		Errors:         m.errors.Load(),
	}
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Confirmations  int64 `json:"confirmations"`
	Cancellations  int64 `json:"cancellations"`
	CancelledCalls int64 `json:"cancelled_calls"`
	SettingWrites  int64 `json:"setting_writes"`
	Errors         int64 `json:"errors"`
}
