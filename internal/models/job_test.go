package models_test

import (
	"errors"
	"testing"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJob_ResolveGuard verifies that resolve is only legal from FAILED and
// that any other status yields a DomainStateError naming the current status.
func TestJob_ResolveGuard(t *testing.T) {
	failed := models.Job{Status: models.JobFailed}
	assert.NoError(t, failed.EnsureResolvable())

	for _, status := range []string{
		models.JobNew, models.JobSubmitted, models.JobRunning,
		models.JobDone, models.JobResolved,
	} {
		job := models.Job{Status: status}
		err := job.EnsureResolvable()
		require.Error(t, err, "resolve must be rejected from %s", status)

		var stateErr *models.DomainStateError
		require.True(t, errors.As(err, &stateErr))
		assert.Equal(t, status, stateErr.Current)
	}
}

// TestJob_RestartGuard verifies the same FAILED-only guard for restart.
func TestJob_RestartGuard(t *testing.T) {
	failed := models.Job{Status: models.JobFailed}
	assert.NoError(t, failed.EnsureRestartable())

	done := models.Job{Status: models.JobDone}
	err := done.EnsureRestartable()
	require.Error(t, err)

	var stateErr *models.DomainStateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, models.JobDone, stateErr.Current)
}

// TestAllowedReportedStatus verifies which status moves a PC report may make.
// Replays of the current status are idempotent and always accepted.
func TestAllowedReportedStatus(t *testing.T) {
	cases := []struct {
		current, next string
		want          bool
	}{
		{models.JobSubmitted, models.JobRunning, true},
		{models.JobSubmitted, models.JobDone, true},
		{models.JobSubmitted, models.JobFailed, true},
		{models.JobRunning, models.JobDone, true},
		{models.JobRunning, models.JobFailed, true},
		{models.JobRunning, models.JobRunning, true}, // replay
		{models.JobDone, models.JobDone, true},       // replay
		{models.JobDone, models.JobRunning, false},
		{models.JobFailed, models.JobDone, false},
		{models.JobResolved, models.JobRunning, false},
		{models.JobNew, models.JobRunning, false}, // must be SUBMITTED first
	}

	for _, tc := range cases {
		got := models.AllowedReportedStatus(tc.current, tc.next)
		assert.Equal(t, tc.want, got, "%s -> %s", tc.current, tc.next)
	}
}
