package cron

import (
	"fmt"
	"time"
)

// maxLookahead bounds how far into the future NextRun will search before
// giving up.
const maxLookahead = 366 * 24 * time.Hour

// errNoMatchFmt formats the error NextRun returns when no instant within
// the lookahead window satisfies the expression.
var errNoMatchFmt = "cron: no match for %q within lookahead window"

// NextRun returns the first instant strictly after `after` that satisfies
// the expression. The search starts at (after, truncated to the minute)
// plus one minute, so the result is always strictly greater than `after`.
func (e *Expression) NextRun(after time.Time) (time.Time, error) {
	start := after.Truncate(time.Minute).Add(time.Minute)
	deadline := after.Add(maxLookahead)

	for t := start; !t.After(deadline); t = t.Add(time.Minute) {
		if e.matchesInstant(t) {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf(errNoMatchFmt, e.raw)
}

// Matches reports whether the given instant (at minute resolution)
// satisfies the expression.
func (e *Expression) Matches(t time.Time) bool {
	return e.matchesInstant(t)
}

// matchesInstant applies the field predicates, including the standard cron
// OR-semantics for day-of-month/day-of-week: when neither field is a
// wildcard, an instant matches if it satisfies EITHER restricted field;
// when at least one of them is a wildcard, both must individually match
// (which degenerates to "the non-wildcard one must match", since a
// wildcard field matches everything).
func (e *Expression) matchesInstant(t time.Time) bool {
	if !e.matches(fieldMonth, int(t.Month())) {
		return false
	}
	if !e.matches(fieldHour, t.Hour()) {
		return false
	}
	if !e.matches(fieldMinute, t.Minute()) {
		return false
	}

	domMatch := e.matches(fieldDOM, t.Day())
	dowMatch := e.matches(fieldDOW, int(t.Weekday()))

	if !e.isWildcard[fieldDOM] && !e.isWildcard[fieldDOW] {
		return domMatch || dowMatch
	}
	return domMatch && dowMatch
}
