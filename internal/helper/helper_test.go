package helper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundDownToStep(t *testing.T) {
	assert.InDelta(t, 0.5, RoundDownToStep(0.5, 0.001), 1e-12)
	assert.InDelta(t, 0.123, RoundDownToStep(0.1239, 0.001), 1e-12)
	assert.InDelta(t, 0.0, RoundDownToStep(0.0004, 0.001), 1e-12)
	// Zero step passes the value through.
	assert.InDelta(t, 0.1239, RoundDownToStep(0.1239, 0), 1e-12)
	// Values already on a step boundary survive float noise.
	assert.InDelta(t, 0.3, RoundDownToStep(0.1+0.2, 0.1), 1e-12)
}

func TestRoundUpToStep(t *testing.T) {
	assert.InDelta(t, 0.124, RoundUpToStep(0.1231, 0.001), 1e-12)
	assert.InDelta(t, 0.5, RoundUpToStep(0.5, 0.001), 1e-12)
}

func TestFormatQty(t *testing.T) {
	assert.Equal(t, "0.500", FormatQty(0.5, 0.001))
	assert.Equal(t, "2", FormatQty(2, 1))
	assert.Equal(t, "0.1", FormatQty(0.1, 0.1))
	assert.Equal(t, "12.35", FormatQty(12.345678, 0.01)[:5])
}
