package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	req := require.New(t)
	m := New(prometheus.NewRegistry())

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	req.Equal(1.0, testutil.ToFloat64(m.connections))

	m.SetPresence(3, 2)
	req.Equal(3.0, testutil.ToFloat64(m.participants))
	req.Equal(2.0, testutil.ToFloat64(m.rooms))

	m.Event("join", OutcomeHandled)
	m.Event("join", OutcomeHandled)
	m.Event("join", OutcomeDropped)
	req.Equal(2.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("join", OutcomeHandled)))
	req.Equal(1.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("join", OutcomeDropped)))

	m.Delivered("code-change", 4)
	m.Delivered("code-change", 0)
	m.DeliveryFailed("code-change")
	req.Equal(4.0, testutil.ToFloat64(m.deliveries.WithLabelValues("code-change")))
	req.Equal(1.0, testutil.ToFloat64(m.deliveryFailures.WithLabelValues("code-change")))

	m.Execution("python", "ok", 200*time.Millisecond)
	req.Equal(1.0, testutil.ToFloat64(m.executionsTotal.WithLabelValues("python", "ok")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.SetPresence(1, 1)
		m.Event("join", OutcomeHandled)
		m.Delivered("joined", 1)
		m.DeliveryFailed("joined")
		m.Execution("c", "error", time.Second)
	})
}
