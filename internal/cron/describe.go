package cron

import (
	"fmt"
	"sort"
	"strings"
)

var dowNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

var monthNames = [13]string{
	"", "January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// Describe produces a human-readable phrase for the expression. It is
// informational only, not behavior-defining. A field written as "*" is
// described differently from the same values written as an explicit range
// (e.g. "*" and "0-59" for minute), since wildcard fields are phrased
// separately.
func (e *Expression) Describe() string {
	var sb strings.Builder

	sb.WriteString(describeTimeOfDay(e))

	if !e.isWildcard[fieldMonth] {
		sb.WriteString(", in ")
		sb.WriteString(describeNamed(e.values[fieldMonth], monthNames[:]))
	}

	domRestricted := !e.isWildcard[fieldDOM]
	dowRestricted := !e.isWildcard[fieldDOW]

	switch {
	case domRestricted && dowRestricted:
		sb.WriteString(", on day ")
		sb.WriteString(describeInts(e.values[fieldDOM]))
		sb.WriteString(" of the month or on ")
		sb.WriteString(describeNamed(e.values[fieldDOW], dowNames[:]))
	case domRestricted:
		sb.WriteString(", on day ")
		sb.WriteString(describeInts(e.values[fieldDOM]))
		sb.WriteString(" of the month")
	case dowRestricted:
		sb.WriteString(", ")
		sb.WriteString(describeNamed(e.values[fieldDOW], dowNames[:]))
	}

	return sb.String()
}

func describeTimeOfDay(e *Expression) string {
	if e.isWildcard[fieldHour] && e.isWildcard[fieldMinute] {
		return "every minute"
	}
	if e.isWildcard[fieldHour] {
		return "at minute " + describeInts(e.values[fieldMinute]) + " of every hour"
	}
	if len(e.values[fieldHour]) == 1 && len(e.values[fieldMinute]) == 1 {
		h := onlyInt(e.values[fieldHour])
		m := onlyInt(e.values[fieldMinute])
		return fmt.Sprintf("At %02d:%02d", h, m)
	}
	return "at " + describeInts(e.values[fieldMinute]) + " minutes past hour " + describeInts(e.values[fieldHour])
}

func onlyInt(set map[int]bool) int {
	for v := range set {
		return v
	}
	return 0
}

func describeInts(set map[int]bool) string {
	vals := sortedKeys(set)
	return joinConsecutiveRuns(vals, func(n int) string { return fmt.Sprintf("%d", n) })
}

func describeNamed(set map[int]bool, names []string) string {
	vals := sortedKeys(set)
	return joinConsecutiveRuns(vals, func(n int) string { return names[n] })
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// joinConsecutiveRuns collapses runs of consecutive integers into
// "X through Y" phrases, joining disjoint runs and singletons with commas.
func joinConsecutiveRuns(vals []int, name func(int) string) string {
	if len(vals) == 0 {
		return ""
	}

	var runs []string
	i := 0
	for i < len(vals) {
		j := i
		for j+1 < len(vals) && vals[j+1] == vals[j]+1 {
			j++
		}
		if j > i {
			runs = append(runs, name(vals[i])+" through "+name(vals[j]))
		} else {
			runs = append(runs, name(vals[i]))
		}
		i = j + 1
	}

	return strings.Join(runs, ", ")
}
