package gateway

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMetrics_Snapshot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		record func(*Metrics)
		want   MetricsSnapshot
	}{
		{name: "untouched", record: func(*Metrics) {}},
		{
			name: "cancellation counts calls",
			record: func(m *Metrics) {
				m.RecordCancellation(3)
				m.RecordCancellation(0)
			},
			want: MetricsSnapshot{Cancellations: 2, CancelledCalls: 3},
		},
		{
			name: "mixed",
			record: func(m *Metrics) {
				m.RecordConfirmation()
				m.RecordConfirmation()
				m.RecordSettingWrite()
				m.RecordError()
			},
			want: MetricsSnapshot{Confirmations: 2, SettingWrites: 1, Errors: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &Metrics{}
			tt.record(m)
			if diff := cmp.Diff(tt.want, m.Snapshot()); diff != "" {
				t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	t.Parallel()

	m := &Metrics{}
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(m.RecordConfirmation)
		wg.Go(func() { m.RecordCancellation(2) })
		wg.Go(m.RecordSettingWrite)
	}
	wg.Wait()

	want := MetricsSnapshot{Confirmations: 50, Cancellations: 50, CancelledCalls: 100, SettingWrites: 50}
	if diff := cmp.Diff(want, m.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}
