package backoff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayDoubles(t *testing.T) {
	p := Policy{BaseDelayMS: 100, MaxDelayMS: 1_800_000}
	cases := []struct {
		attempt int
		want    int64
	}{
		{1, 100},
		{2, 200},
		{3, 400},
		{4, 800},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, p.Delay(c.attempt))
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	p := Policy{BaseDelayMS: 5000, MaxDelayMS: 1_800_000}
	assert.Equal(t, int64(1_800_000), p.Delay(20))
}

func TestDelayMonotonicUpToCap(t *testing.T) {
	p := Default()
	prev := int64(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Delay(attempt)
		require.GreaterOrEqual(t, d, prev)
		require.LessOrEqual(t, d, p.MaxDelayMS)
		prev = d
	}
}

func TestDelayClampsAbsurdAttempts(t *testing.T) {
	p := Default()
	assert.Equal(t, p.MaxDelayMS, p.Delay(1_000_000))
	assert.Equal(t, p.BaseDelayMS, p.Delay(-5))
}
