package cron

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/jobrouter/pkg/logger"
	"github.com/angelmondragon/jobrouter/pkg/metrics"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

type fakeLock struct {
	acquireFn func() (bool, error)
	releases  int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) { return f.acquireFn() }

func (f *fakeLock) Release(context.Context) error {
	f.releases++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func newTestService(t *testing.T, lock Lock, reg prometheus.Registerer, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)
	return svc
}

func TestNewServiceValidation(t *testing.T) {
	registry, err := NewRegistry()
	require.NoError(t, err)
	_, err = NewService(ServiceParams{Registry: registry, Lock: &LocalLock{}})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Logger: testLogger(), Registry: registry})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Logger: testLogger(), Lock: &LocalLock{}})
	require.Error(t, err)
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &testJob{name: "ok"}
	bad := &testJob{name: "bad", err: errors.New("boom")}
	lock := &fakeLock{acquireFn: func() (bool, error) { return true, nil }}
	reg := prometheus.NewRegistry()
	svc := newTestService(t, lock, reg, bad, ok)

	err := svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, bad.runs)
	assert.Equal(t, 1, lock.releases)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["jobrouter_cron_job_success_total"])
	assert.True(t, names["jobrouter_cron_job_failure_total"])
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "job"}
	lock := &fakeLock{acquireFn: func() (bool, error) { return false, nil }}
	svc := newTestService(t, lock, nil, job)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
	assert.Zero(t, lock.releases)
}

func TestRunOnceLockError(t *testing.T) {
	lock := &fakeLock{acquireFn: func() (bool, error) { return false, errors.New("redis down") }}
	svc := newTestService(t, lock, nil, &testJob{name: "job"})
	require.Error(t, svc.RunOnce(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "job"}
	svc := newTestService(t, &LocalLock{}, nil, job)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, job.runs)
}
