package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/hitobot/internal/milestone"
	"github.com/rahul/hitobot/internal/notify"
)

func TestCollectorCountsEngineOutcomes(t *testing.T) {
	c := NewCollector()
	cat := milestone.DefaultCatalog()
	decision, _ := cat.Lookup("decision")

	c.ObserveCompletion(milestone.Completion{Completed: decision})
	c.ObserveReplan(milestone.Replan{Kind: decision, Adjustments: make([]milestone.Adjustment, 2)})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.completions.WithLabelValues("decision")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.replans.WithLabelValues("decision")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cascaded))
}

func TestCollectorSweepUpdatesStatus(t *testing.T) {
	c := NewCollector()
	d := notify.Digest{
		Target: milestone.MustParseDate("2025-01-04"),
		Groups: []notify.Group{{Responsible: "A", Items: make([]notify.DueItem, 3)}},
	}
	c.ObserveSweep(d, notify.Report{Sent: 2, Failed: 1}, nil, time.Second)
	c.ObserveDelivery("telegram", errors.New("blocked"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sweeps.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.sweepMatches))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("telegram", "error")))

	st := GetStatus()
	assert.Equal(t, "2025-01-04", st.LastTarget)
	assert.Equal(t, 3, st.LastMatches)
	assert.Equal(t, 2, st.LastSent)
	assert.Empty(t, st.LastError)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "json")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}
