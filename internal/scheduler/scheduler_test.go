package scheduler

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"equipres/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	overdue atomic.Int32
	names   chan string
}

func (f *fakeJobs) Run(name string, job func(ctx context.Context) (int, error)) {
	_, _ = job(context.Background())
	select {
	case f.names <- name:
	default:
	}
}

func (f *fakeJobs) OverdueScan(context.Context) (int, error) {
	f.overdue.Add(1)
	return 0, nil
}
func (f *fakeJobs) PickupReminder(context.Context) (int, error) { return 0, nil }
func (f *fakeJobs) Reconcile(context.Context) (int, error)      { return 0, nil }
func (f *fakeJobs) Backup(context.Context) (int, error)         { return 0, nil }

var testLogger = zerolog.New(io.Discard)

func TestNewRegistersConfiguredJobs(t *testing.T) {
	jobs := &fakeJobs{names: make(chan string, 8)}
	s, err := New(config.SchedulerConfig{
		OverdueScan: "0 */15 * * * *",
		Reconcile:   "0 30 2 * * *",
	}, jobs, &testLogger)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Entries())
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New(config.SchedulerConfig{OverdueScan: "every minute"}, &fakeJobs{}, &testLogger)
	assert.Error(t, err)
}

func TestSchedulerRunsJobs(t *testing.T) {
	jobs := &fakeJobs{names: make(chan string, 8)}
	s, err := New(config.SchedulerConfig{OverdueScan: "* * * * * *"}, jobs, &testLogger)
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	select {
	case name := <-jobs.names:
		assert.Equal(t, "overdue_scan", name)
		assert.GreaterOrEqual(t, jobs.overdue.Load(), int32(1))
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}
