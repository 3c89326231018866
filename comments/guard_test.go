package comments

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testGuard(now time.Time) *Guard {
	guard := NewGuardWithDefaults()
	guard.now = func() time.Time {
		return now
	}
	return guard
}

func TestGuardCooldown(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	guard := testGuard(now)

	// never submitted
	result := guard.Check("hello there", time.Time{})
	assert.Equal(t, true, result.Allowed())

	result = guard.Check("hello there", now.Add(-5*time.Second))
	assert.Equal(t, false, result.Allowed())
	assert.Equal(t, ReasonCooldown, result.Rejection.Reason)
	assert.Equal(t, 10*time.Second, result.Rejection.RemainingWait)

	result = guard.Check("hello there", now.Add(-15*time.Second))
	assert.Equal(t, true, result.Allowed())

	// cooldown is checked before content
	result = guard.Check("see http://example.com", now.Add(-time.Second))
	assert.Equal(t, ReasonCooldown, result.Rejection.Reason)
}

func TestGuardLinks(t *testing.T) {
	guard := testGuard(time.Now())

	for _, content := range []string{
		"see http://example.com",
		"HTTPS://EXAMPLE.COM/a?b=c",
		"ftp://files.local/x",
		"go to www.example",
		"buy at example.com today",
		"mail me at shop.example.org/path",
	} {
		result := guard.Check(content, time.Time{})
		assert.Equal(t, false, result.Allowed())
		assert.Equal(t, ReasonLinksForbidden, result.Rejection.Reason)
	}

	for _, content := range []string{
		"hello world",
		"version 1.5 is out",
		"e.g. this one",
		"great post!",
	} {
		result := guard.Check(content, time.Time{})
		assert.Equal(t, true, result.Allowed())
	}
}

func TestGuardContentLength(t *testing.T) {
	guard := testGuard(time.Now())

	result := guard.Check("   ", time.Time{})
	assert.Equal(t, ReasonEmpty, result.Rejection.Reason)

	result = guard.Check(strings.Repeat("ab ", 200), time.Time{})
	assert.Equal(t, ReasonTooLong, result.Rejection.Reason)

	// runes, not bytes
	result = guard.Check(strings.Repeat("é", 500), time.Time{})
	assert.Equal(t, true, result.Allowed())

	var validationErr *ValidationError
	assert.Equal(t, true, errors.As(error(guard.Check("", time.Time{}).Rejection), &validationErr))
}

func TestGuardRepetitionWarning(t *testing.T) {
	guard := testGuard(time.Now())

	result := guard.Check("soooooo good", time.Time{})
	assert.Equal(t, true, result.Allowed())
	assert.Equal(t, 0, len(result.Warnings))

	result = guard.Check("sooooooo good", time.Time{})
	assert.Equal(t, true, result.Allowed())
	assert.Equal(t, 1, len(result.Warnings))

	assert.Equal(t, 8, longestRun("aaaaaaaab"))
	assert.Equal(t, 0, longestRun(""))
}

func TestSubmitClockCooldown(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	guard := NewGuardWithDefaults()
	guard.now = func() time.Time {
		return now
	}
	submitClock := NewSubmitClock()
	begin := func() error {
		return nil
	}
	submit := func(content string) GuardResult {
		result, err := submitClock.submit(guard, content, begin)
		assert.Equal(t, nil, err)
		return result
	}

	assert.Equal(t, true, submit("first").Allowed())
	assert.Equal(t, now, submitClock.LastSubmit())

	now = now.Add(14 * time.Second)
	result := submit("second")
	assert.Equal(t, ReasonCooldown, result.Rejection.Reason)
	assert.Equal(t, time.Second, result.Rejection.RemainingWait)

	// a rejected attempt does not restart the cooldown
	now = now.Add(time.Second)
	assert.Equal(t, true, submit("third").Allowed())

	// neither does a guard rejection of the content
	now = now.Add(15 * time.Second)
	assert.Equal(t, ReasonLinksForbidden, submit("www.spam").Rejection.Reason)
	assert.Equal(t, true, submit("fourth").Allowed())
}

func TestSubmitClockFailedBegin(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	guard := NewGuardWithDefaults()
	guard.now = func() time.Time {
		return now
	}
	submitClock := NewSubmitClock()

	began := false
	result, err := submitClock.submit(guard, "www.spam", func() error {
		began = true
		return nil
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, false, result.Allowed())
	// a guard rejection never begins
	assert.Equal(t, false, began)

	// a submission that could not begin is not recorded
	_, err = submitClock.submit(guard, "hello", func() error {
		return ErrClosed
	})
	assert.Equal(t, ErrClosed, err)
	assert.Equal(t, time.Time{}, submitClock.LastSubmit())

	now = now.Add(time.Second)
	result, err = submitClock.submit(guard, "hello", func() error {
		return nil
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, true, result.Allowed())
	assert.Equal(t, now, submitClock.LastSubmit())
}
