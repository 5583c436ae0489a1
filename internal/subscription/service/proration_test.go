package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProrateChargesRemainingShare(t *testing.T) {
	// Upgrade of 700.00 with 20 of 30 days left: 70000 * 20 / 30.
	assert.Equal(t, int64(46667), prorate(70000, 20, 30))
}

func TestProrateDowngradeIsNegative(t *testing.T) {
	assert.Equal(t, int64(-46667), prorate(-70000, 20, 30))
}

func TestProrateFullAndEmptyWindows(t *testing.T) {
	assert.Equal(t, int64(70000), prorate(70000, 30, 30))
	assert.Equal(t, int64(0), prorate(70000, 0, 30))
	assert.Equal(t, int64(0), prorate(70000, 20, 0))
}

func TestProrateClampsRemainingToTotal(t *testing.T) {
	assert.Equal(t, int64(70000), prorate(70000, 45, 30))
}

func TestProrateRoundsHalfEven(t *testing.T) {
	// 7 * 1 / 2 = 3.5 rounds to 4, 5 * 1 / 2 = 2.5 rounds to 2.
	assert.Equal(t, int64(4), prorate(7, 1, 2))
	assert.Equal(t, int64(2), prorate(5, 1, 2))
}

func TestProrateSymmetricRounding(t *testing.T) {
	// The same magnitude rounds identically in both directions, so an
	// upgrade immediately reversed nets to zero.
	up := prorate(12345, 7, 31)
	down := prorate(-12345, 7, 31)
	assert.Equal(t, up, -down)
}
