package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	a := NewMetrics(prometheus.NewRegistry(), "clinic")
	b := NewMetrics(prometheus.NewRegistry(), "clinic")

	a.SlotReservations.WithLabelValues("success").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.SlotReservations.WithLabelValues("success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.SlotReservations.WithLabelValues("success")))
}
