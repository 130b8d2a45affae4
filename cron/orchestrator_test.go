package cron_test

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/cron"
	"github.com/quarters-hq/quarters/errors"
	"github.com/quarters-hq/quarters/queue"
	"github.com/quarters-hq/quarters/queue/sqliteq"
	qtest "github.com/quarters-hq/quarters/internal/testing"
)

type staticProvider struct {
	jobs []cron.Job
}

func (p *staticProvider) CronJobs() []cron.Job { return p.jobs }

func newTestOrchestrator(t *testing.T) (*cron.Orchestrator, *sqliteq.Backend) {
	t.Helper()
	backend, err := sqliteq.NewBackend(qtest.CreateTestDB(t))
	require.NoError(t, err)
	return cron.NewOrchestrator(backend, cron.Options{}, zap.NewNop().Sugar()), backend
}

func TestRegisterSchedulesEnabledJobs(t *testing.T) {
	ctx := context.Background()
	orch, q := newTestOrchestrator(t)

	err := orch.Register(ctx, &staticProvider{jobs: []cron.Job{
		{
			Name:     "lease-expiry-check",
			Schedule: "0 0 * * *",
			Handler:  "checkExpiringLeases",
			Service:  "leases",
			Enabled:  true,
		},
		{
			Name:     "tracked-job-report",
			Schedule: "*/30 * * * *",
			Handler:  "reportTrackedJobs",
			Service:  "track",
			Enabled:  false,
		},
	}})
	require.NoError(t, err)

	repeatables, err := q.ListRepeatable(ctx)
	require.NoError(t, err)
	require.Len(t, repeatables, 1)
	assert.Equal(t, "cron:lease-expiry-check", repeatables[0].ID)
	assert.Equal(t, "0 0 * * *", repeatables[0].Cron)
	assert.True(t, repeatables[0].Next.After(time.Now()))
}

func TestRegisterRejectsMalformedDeclarations(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		desc string
		job  cron.Job
	}{
		{"missing name", cron.Job{Schedule: "0 0 * * *", Handler: "h"}},
		{"missing schedule", cron.Job{Name: "a", Handler: "h"}},
		{"missing handler", cron.Job{Name: "a", Schedule: "0 0 * * *"}},
		{"bad schedule", cron.Job{Name: "a", Schedule: "ten past never", Handler: "h"}},
		{"bad timezone", cron.Job{Name: "a", Schedule: "0 0 * * *", Handler: "h", Timezone: "Mars/Olympus"}},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			orch, q := newTestOrchestrator(t)
			err := orch.Register(ctx, &staticProvider{jobs: []cron.Job{tc.job}})
			require.Error(t, err)

			repeatables, err := q.ListRepeatable(ctx)
			require.NoError(t, err)
			assert.Empty(t, repeatables)
		})
	}
}

func TestRegisterFirstWinsOnDuplicateName(t *testing.T) {
	ctx := context.Background()
	orch, q := newTestOrchestrator(t)

	err := orch.Register(ctx, &staticProvider{jobs: []cron.Job{
		{Name: "media-temp-cleanup", Schedule: "0 3 * * *", Handler: "cleanupTempMedia", Enabled: true},
		{Name: "media-temp-cleanup", Schedule: "0 4 * * *", Handler: "other", Enabled: true},
	}})
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))

	repeatables, err := q.ListRepeatable(ctx)
	require.NoError(t, err)
	require.Len(t, repeatables, 1)
	assert.Equal(t, "0 3 * * *", repeatables[0].Cron)
}

func TestRegisterIsolatesProviderErrors(t *testing.T) {
	ctx := context.Background()
	orch, q := newTestOrchestrator(t)

	err := orch.Register(ctx,
		&staticProvider{jobs: []cron.Job{
			{Name: "broken", Schedule: "nope", Handler: "h", Enabled: true},
		}},
		&staticProvider{jobs: []cron.Job{
			{Name: "healthy", Schedule: "*/5 * * * *", Handler: "h", Enabled: true},
		}},
	)
	require.Error(t, err)

	// The healthy provider's job still got scheduled.
	repeatables, err := q.ListRepeatable(ctx)
	require.NoError(t, err)
	require.Len(t, repeatables, 1)
	assert.Equal(t, "cron:healthy", repeatables[0].ID)
}

func TestDisableEnableRoundTrip(t *testing.T) {
	ctx := context.Background()
	orch, q := newTestOrchestrator(t)

	require.NoError(t, orch.Register(ctx, &staticProvider{jobs: []cron.Job{
		{
			Name:     "lease-expiry-check",
			Schedule: "0 0 * * *",
			Timezone: "America/New_York",
			Handler:  "checkExpiringLeases",
			Enabled:  true,
		},
	}}))

	require.NoError(t, orch.Disable(ctx, "lease-expiry-check"))

	repeatables, err := q.ListRepeatable(ctx)
	require.NoError(t, err)
	assert.Empty(t, repeatables)

	// Second disable warns but does not fail.
	require.NoError(t, orch.Disable(ctx, "lease-expiry-check"))

	require.NoError(t, orch.Enable(ctx, "lease-expiry-check"))

	repeatables, err = q.ListRepeatable(ctx)
	require.NoError(t, err)
	require.Len(t, repeatables, 1)
	assert.Equal(t, "cron:lease-expiry-check", repeatables[0].ID)
	assert.Equal(t, "0 0 * * *", repeatables[0].Cron)

	// The driver drops the location name on the timestamp round trip, so
	// compare the instant and the stored timezone column instead.
	want, err := sqliteq.NextRun("0 0 * * *", "America/New_York", time.Now())
	require.NoError(t, err)
	assert.True(t, repeatables[0].Next.Equal(want))

	rows, err := q.Store().ListRepeatable()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "America/New_York", rows[0].Timezone)
}

func TestEnableDisableUnknownJob(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	err := orch.Enable(ctx, "no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	err = orch.Disable(ctx, "no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestNextExecutions(t *testing.T) {
	ctx := context.Background()
	orch, q := newTestOrchestrator(t)

	require.NoError(t, orch.Register(ctx, &staticProvider{jobs: []cron.Job{
		{Name: "annual-rent-review", Schedule: "0 0 1 1 *", Handler: "h", Enabled: true},
		{Name: "tracked-job-report", Schedule: "*/30 * * * *", Handler: "h", Enabled: true},
	}}))

	// A registration owned by another subsystem must not show up.
	_, err := q.Enqueue(ctx, "tracked-job-report", nil, queue.EnqueueOptions{
		JobID:  "other:tracked-job-report",
		Repeat: &queue.Repeat{Cron: "0 12 * * *"},
	})
	require.NoError(t, err)

	executions, err := orch.NextExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, executions, 2)

	// Soonest first: the half-hourly report fires long before New Year.
	assert.Equal(t, "tracked-job-report", executions[0].Job.Name)
	assert.Equal(t, "annual-rent-review", executions[1].Job.Name)
	assert.True(t, executions[0].NextRun.Before(executions[1].NextRun))
}
