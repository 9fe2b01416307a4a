package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampAlignmentScore(t *testing.T) {
	assert.Equal(t, 0.6, ClampAlignmentScore(0.0))
	assert.Equal(t, 0.6, ClampAlignmentScore(0.59))
	assert.Equal(t, 0.6, ClampAlignmentScore(-1))
	assert.Equal(t, 0.75, ClampAlignmentScore(0.75))
	assert.Equal(t, 0.9, ClampAlignmentScore(0.9))
	assert.Equal(t, 0.9, ClampAlignmentScore(0.95))
	assert.Equal(t, 0.9, ClampAlignmentScore(7))
}

func TestClampUnitScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampUnitScore(-0.5))
	assert.Equal(t, 0.0, ClampUnitScore(0))
	assert.Equal(t, 0.42, ClampUnitScore(0.42))
	assert.Equal(t, 1.0, ClampUnitScore(1))
	assert.Equal(t, 1.0, ClampUnitScore(3.2))
}
