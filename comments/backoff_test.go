package comments

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestBackoffSequence(t *testing.T) {
	backoff := NewBackoff(2*time.Second, 30*time.Second)

	assert.Equal(t, 2*time.Second, backoff.Delay())
	delays := []time.Duration{}
	for range 6 {
		delays = append(delays, backoff.Next())
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, delays)

	// resets after a successful open
	backoff.Reset()
	assert.Equal(t, 2*time.Second, backoff.Next())
	assert.Equal(t, 4*time.Second, backoff.Next())
}
