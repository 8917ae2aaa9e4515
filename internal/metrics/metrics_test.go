package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("/reservations", "201")
		ObserveLockWait("memory", 3*time.Millisecond)
		IncSyncTask("notify", "completed")
	})

	before := testutil.ToFloat64(transitions.WithLabelValues("approved"))
	IncTransition("approved")
	assert.Equal(t, before+1, testutil.ToFloat64(transitions.WithLabelValues("approved")))

	beforeConflicts := testutil.ToFloat64(conflicts)
	IncConflict()
	assert.Equal(t, beforeConflicts+1, testutil.ToFloat64(conflicts))

	beforeDrift := testutil.ToFloat64(inventoryDrift)
	IncDrift()
	assert.Equal(t, beforeDrift+1, testutil.ToFloat64(inventoryDrift))
}
