package comments

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// client-side first line of defense against spam.
// the server stays authoritative and may reject independently.

type GuardSettings struct {
	Cooldown         time.Duration
	MaxContentLength int
	// a single character repeated this many times in a row raises a warning
	RepeatWarnCount int
}

func DefaultGuardSettings() *GuardSettings {
	return &GuardSettings{
		Cooldown:         15 * time.Second,
		MaxContentLength: MaxContentLength,
		RepeatWarnCount:  7,
	}
}

var (
	schemeLinkPattern = regexp.MustCompile(`(?i)\b[a-z][a-z0-9+.\-]*://\S`)
	wwwLinkPattern    = regexp.MustCompile(`(?i)(^|[^a-z0-9])www\.\S`)
	domainLinkPattern = regexp.MustCompile(`(?i)\b[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?)*\.[a-z]{2,24}(?:[/:?#]|\b)`)
)

func containsLink(content string) bool {
	return schemeLinkPattern.MatchString(content) ||
		wwwLinkPattern.MatchString(content) ||
		domainLinkPattern.MatchString(content)
}

func longestRun(content string) int {
	longest := 0
	run := 0
	var last rune
	for i, r := range content {
		if 0 < i && r == last {
			run += 1
		} else {
			run = 1
			last = r
		}
		if longest < run {
			longest = run
		}
	}
	return longest
}

type GuardResult struct {
	// nil when the submission may proceed
	Rejection *ValidationError
	// soft warnings surfaced to the ui. these never block.
	Warnings []string
}

func (self GuardResult) Allowed() bool {
	return self.Rejection == nil
}

type Guard struct {
	settings *GuardSettings
	now      func() time.Time
}

func NewGuardWithDefaults() *Guard {
	return NewGuard(DefaultGuardSettings())
}

func NewGuard(settings *GuardSettings) *Guard {
	return &Guard{
		settings: settings,
		now:      time.Now,
	}
}

// `lastSubmit` is the zero time when the user has not submitted yet
func (self *Guard) Check(content string, lastSubmit time.Time) GuardResult {
	result := self.check(content, lastSubmit)
	if result.Rejection != nil {
		guardRejections.WithLabelValues(result.Rejection.Reason).Inc()
	}
	return result
}

func (self *Guard) check(content string, lastSubmit time.Time) GuardResult {
	if !lastSubmit.IsZero() {
		if elapsed := self.now().Sub(lastSubmit); elapsed < self.settings.Cooldown {
			remaining := self.settings.Cooldown - elapsed
			return GuardResult{
				Rejection: &ValidationError{
					Reason:        ReasonCooldown,
					Detail:        fmt.Sprintf("wait %s", remaining.Round(time.Second)),
					RemainingWait: remaining,
				},
			}
		}
	}

	if containsLink(content) {
		return GuardResult{
			Rejection: &ValidationError{
				Reason: ReasonLinksForbidden,
			},
		}
	}

	if strings.TrimSpace(content) == "" {
		return GuardResult{
			Rejection: &ValidationError{
				Reason: ReasonEmpty,
			},
		}
	}
	if n := utf8.RuneCountInString(content); self.settings.MaxContentLength < n {
		return GuardResult{
			Rejection: &ValidationError{
				Reason: ReasonTooLong,
				Detail: fmt.Sprintf("%d > %d characters", n, self.settings.MaxContentLength),
			},
		}
	}

	result := GuardResult{}
	if run := longestRun(content); self.settings.RepeatWarnCount <= run {
		result.Warnings = append(result.Warnings, fmt.Sprintf("a character is repeated %d times", run))
	}
	return result
}

// the last allowed submission of one user, shared by all of the user's posts
type SubmitClock struct {
	mutex      sync.Mutex
	lastSubmit time.Time
}

func NewSubmitClock() *SubmitClock {
	return &SubmitClock{}
}

func (self *SubmitClock) LastSubmit() time.Time {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.lastSubmit
}

// runs the guard and then `begin` under one lock. the submission is recorded only
// when the guard allows it and `begin` succeeds.
// the cooldown counts started submissions, not confirmed creates.
func (self *SubmitClock) submit(guard *Guard, content string, begin func() error) (GuardResult, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	result := guard.Check(content, self.lastSubmit)
	if !result.Allowed() {
		return result, nil
	}
	if err := begin(); err != nil {
		return result, err
	}
	self.lastSubmit = guard.now()
	return result, nil
}
