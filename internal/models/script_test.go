package models_test

import (
	"errors"
	"testing"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidateInputValues verifies mandatory-parameter enforcement against
// the script's ordered input declarations.
func TestValidateInputValues(t *testing.T) {
	inputs := []models.Input{
		{Position: 0, Name: "url", ValueType: models.InputTypeString, Mandatory: true},
		{Position: 1, Name: "timeout", ValueType: models.InputTypeInt, Mandatory: false},
		{Position: 2, Name: "mode", ValueType: models.InputTypeString, Mandatory: true},
	}

	assert.NoError(t, models.ValidateInputValues(inputs, []string{"https://x", "30", "kiosk"}))
	assert.NoError(t, models.ValidateInputValues(inputs, []string{"https://x", "", "kiosk"}),
		"optional input may be empty")

	err := models.ValidateInputValues(inputs, []string{"https://x", "30"})
	require.Error(t, err, "missing trailing mandatory input")
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "mode", verr.Field, "error names the missing parameter")

	err = models.ValidateInputValues(inputs, []string{"", "30", "kiosk"})
	require.Error(t, err, "empty mandatory input")

	err = models.ValidateInputValues(inputs, []string{"a", "b", "c", "d"})
	require.Error(t, err, "more values than declared inputs")
}

// TestPC_IsOnline pins the five minute online window.
func TestPC_IsOnline(t *testing.T) {
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	base := models.PC{}
	assert.False(t, base.IsOnline(now), "never-seen PC is offline")

	seen := now.Add(-4 * time.Minute)
	online := models.PC{LastSeen: &seen}
	assert.True(t, online.IsOnline(now))

	stale := now.Add(-6 * time.Minute)
	offline := models.PC{LastSeen: &stale}
	assert.False(t, offline.IsOnline(now))
}
