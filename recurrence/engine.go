// Package recurrence expands recurring records for time-range queries.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/cyp0633/kolabdav/cache"
)

// Engine provides unified recurrence expansion and validation logic
type Engine struct {
	cache  cache.Cache
	config Config
}

// NewEngine creates an engine with the default configuration and no cache
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultConfig, nil)
}

// HasOccurrenceInRange checks if a recurring series has any occurrence
// overlapping [rangeStart, rangeEnd]. It stops at the first match instead of
// expanding the whole range.
func (e *Engine) HasOccurrenceInRange(
	masterStart, masterEnd time.Time,
	recurrence Info,
	rangeStart, rangeEnd time.Time,
) (bool, error) {
	key := cacheKey("has", masterStart, masterEnd, recurrence, rangeStart, rangeEnd)
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			return v.(bool), nil
		}
	}

	found, err := e.hasOccurrence(masterStart, masterEnd, recurrence, rangeStart, rangeEnd)
	if err != nil {
		return false, err
	}
	if e.cache != nil {
		e.cache.Set(key, found)
	}
	return found, nil
}

func (e *Engine) hasOccurrence(masterStart, masterEnd time.Time, recurrence Info, rangeStart, rangeEnd time.Time) (bool, error) {
	// Overlap: start <= rangeEnd AND end >= rangeStart
	if overlaps(masterStart, masterEnd, rangeStart, rangeEnd) && !isExcluded(masterStart, recurrence.EXDATE) {
		return true, nil
	}

	duration := masterEnd.Sub(masterStart)
	if recurrence.RRULE != "" {
		limitedEnd := rangeEnd
		if rangeEnd.Sub(rangeStart) > e.config.LargeRangeThreshold {
			limitedEnd = rangeStart.Add(e.config.LargeRangeLimit)
		}

		occurrences, err := expandRRule(masterStart, recurrence.RRULE, rangeStart.Add(-duration), limitedEnd)
		if err != nil {
			return false, fmt.Errorf("failed to check RRULE occurrences: %w", err)
		}
		for _, o := range occurrences {
			if !isExcluded(o, recurrence.EXDATE) {
				return true, nil
			}
		}

		// A limited window that saw only exceptions is retried over the full
		// range, checking a bounded number of occurrences.
		if limitedEnd.Before(rangeEnd) && len(occurrences) > 0 {
			all, err := expandRRule(masterStart, recurrence.RRULE, rangeStart.Add(-duration), rangeEnd)
			if err != nil {
				return false, fmt.Errorf("failed to check RRULE occurrences: %w", err)
			}
			limit := min(len(all), e.config.MaxExpansionOccurrences)
			for _, o := range all[:limit] {
				if !isExcluded(o, recurrence.EXDATE) {
					return true, nil
				}
			}
		}
	}

	for _, rdate := range recurrence.RDATE {
		if overlaps(rdate, rdate.Add(duration), rangeStart, rangeEnd) && !isExcluded(rdate, recurrence.EXDATE) {
			return true, nil
		}
	}

	return false, nil
}

// Expand lists the occurrences of a series that overlap the range, ordered by
// start time.
func (e *Engine) Expand(masterStart, masterEnd time.Time, recurrence Info, rangeStart, rangeEnd time.Time, opts ExpansionOptions) ([]Occurrence, error) {
	duration := masterEnd.Sub(masterStart)
	starts := []time.Time{masterStart}
	if recurrence.RRULE != "" {
		expanded, err := expandRRule(masterStart, recurrence.RRULE, rangeStart.Add(-duration), rangeEnd)
		if err != nil {
			return nil, err
		}
		starts = append(starts, expanded...)
	}
	starts = append(starts, recurrence.RDATE...)

	seen := make(map[int64]bool, len(starts))
	var out []Occurrence
	for _, s := range sortedTimes(starts) {
		if seen[s.UnixNano()] || isExcluded(s, recurrence.EXDATE) {
			continue
		}
		seen[s.UnixNano()] = true
		if !overlaps(s, s.Add(duration), rangeStart, rangeEnd) {
			continue
		}
		out = append(out, Occurrence{Start: s, End: s.Add(duration)})
		if opts.MaxOccurrences > 0 && len(out) >= opts.MaxOccurrences {
			break
		}
	}
	return out, nil
}

// expandRRule expands an RRULE within the given time range. The rule is
// anchored at masterStart in its own location so wall-clock times survive
// daylight saving transitions.
func expandRRule(masterStart time.Time, rruleStr string, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	opt, err := rrule.StrToROption(rruleStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE '%s': %w", rruleStr, err)
	}
	opt.Dtstart = masterStart

	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build RRULE '%s': %w", rruleStr, err)
	}
	return rule.Between(rangeStart, rangeEnd, true), nil
}

func overlaps(start, end, rangeStart, rangeEnd time.Time) bool {
	return !start.After(rangeEnd) && !end.Before(rangeStart)
}

// isExcluded checks if a given time is in the EXDATE list
func isExcluded(t time.Time, exdates []time.Time) bool {
	for _, exdate := range exdates {
		if t.Equal(exdate) {
			return true
		}

		// Date-only exceptions are stored as midnight UTC and exclude every
		// occurrence on that day.
		if exdate.Hour() == 0 && exdate.Minute() == 0 && exdate.Second() == 0 && exdate.Location() == time.UTC {
			y, m, d := t.Date()
			if time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Equal(exdate) {
				return true
			}
		}
	}
	return false
}

func cacheKey(operation string, masterStart, masterEnd time.Time, info Info, rangeStart, rangeEnd time.Time) string {
	parts := []string{
		operation,
		masterStart.Format(time.RFC3339Nano),
		masterEnd.Format(time.RFC3339Nano),
		rangeStart.Format(time.RFC3339Nano),
		rangeEnd.Format(time.RFC3339Nano),
		info.RRULE,
	}
	for _, t := range info.RDATE {
		parts = append(parts, "R"+t.Format(time.RFC3339Nano))
	}
	for _, t := range info.EXDATE {
		parts = append(parts, "X"+t.Format(time.RFC3339Nano))
	}
	return cache.Key(parts...)
}
