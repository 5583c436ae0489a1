package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffForFollowsSchedule(t *testing.T) {
	policy := DefaultDunningPolicy()

	assert.Equal(t, time.Hour, policy.BackoffFor(1))
	assert.Equal(t, 6*time.Hour, policy.BackoffFor(2))
	assert.Equal(t, 24*time.Hour, policy.BackoffFor(3))
	assert.Equal(t, 72*time.Hour, policy.BackoffFor(4))
}

func TestBackoffForCapsAtLastEntry(t *testing.T) {
	policy := DefaultDunningPolicy()
	assert.Equal(t, policy.BackoffFor(4), policy.BackoffFor(9))
}

func TestBackoffForNonPositiveAttempt(t *testing.T) {
	policy := DefaultDunningPolicy()
	assert.Equal(t, time.Duration(0), policy.BackoffFor(0))
	assert.Equal(t, time.Duration(0), policy.BackoffFor(-1))
}

func TestBackoffForEmptyScheduleFallsBackToLinearHours(t *testing.T) {
	policy := DunningPolicy{MaxAttempts: 4}
	assert.Equal(t, 2*time.Hour, policy.BackoffFor(2))
}

func TestHolderNilSafety(t *testing.T) {
	var holder *DunningPolicyHolder
	assert.Equal(t, DefaultDunningPolicy(), holder.Current())
}
