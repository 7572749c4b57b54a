package verify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration_EmptyYieldsDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDuration("")
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, d)
}

func TestParseDuration_Units(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"2m":  2 * time.Minute,
		"1h":  time.Hour,
	}

	for in, want := range cases {
		d, err := ParseDuration(in)
		require.NoError(t, err)
		assert.Equal(t, want, d)
	}
}

func TestParseDuration_RejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"m", "5", "5x", "-5m", "5.5m"} {
		_, err := ParseDuration(in)
		assert.ErrorIs(t, err, ErrBadDuration, "input %q", in)
	}
}
