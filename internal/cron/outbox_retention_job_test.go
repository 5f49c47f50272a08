package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/pkg/clock"
)

type fakeOutboxRetentionRepo struct {
	deleteFn func(cutoff time.Time, minAttempts int) (int64, error)
}

func (f fakeOutboxRetentionRepo) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttempts int) (int64, error) {
	return f.deleteFn(cutoff, minAttempts)
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func TestOutboxRetentionJobDeletesOldRows(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	var gotCutoff time.Time
	var gotAttempts int
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: testLogger(),
		DB:     passthroughTx{},
		Repository: fakeOutboxRetentionRepo{deleteFn: func(cutoff time.Time, minAttempts int) (int64, error) {
			gotCutoff, gotAttempts = cutoff, minAttempts
			return 7, nil
		}},
		Clock: clock.NewFixed(now, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "outbox-retention", job.Name())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.AddDate(0, 0, -outboxRetentionDays), gotCutoff)
	assert.Equal(t, outboxMinAttempts, gotAttempts)
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: testLogger(),
		DB:     passthroughTx{},
		Repository: fakeOutboxRetentionRepo{deleteFn: func(time.Time, int) (int64, error) {
			return 0, errors.New("boom")
		}},
		Clock:     clock.NewSystem(nil),
		Retention: 3,
	})
	require.NoError(t, err)
	require.Error(t, job.Run(context.Background()))
}

func TestOutboxRetentionJobValidation(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger(), DB: passthroughTx{}})
	require.Error(t, err)
}
