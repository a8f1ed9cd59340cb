package history

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const dateOnly = "2006-01-02"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var (
	errBadTime    = errors.New("expected RFC3339, 2006-01-02T15:04:05, 2006-01-02 15:04:05, 2006-01-02 or epoch seconds")
	errOutOfRange = errors.New("outside the supported time range (1678-2262)")
)

// Stores keep nanosecond epochs, so bounds must fit in an int64 of them.
var (
	minBound = time.Unix(0, math.MinInt64)
	maxBound = time.Unix(0, math.MaxInt64)
)

var epochRe = regexp.MustCompile(`^(-?)(\d+)(?:\.(\d+))?$`)

func inRange(t time.Time) bool {
	return !t.Before(minBound) && !t.After(maxBound)
}

// parseEpoch reads decimal epoch seconds exactly, down to the nanosecond.
// Digits past the ninth decimal are dropped.
func parseEpoch(raw string) (time.Time, error) {
	m := epochRe.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, errBadTime
	}
	sec, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return time.Time{}, errOutOfRange
	}
	var nsec int64
	if frac := m[3]; frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		if nsec, err = strconv.ParseInt(frac, 10, 64); err != nil {
			return time.Time{}, errBadTime
		}
	}
	if m[1] == "-" {
		sec, nsec = -sec, -nsec
	}
	t := time.Unix(sec, nsec)
	if !inRange(t) {
		return time.Time{}, errOutOfRange
	}
	return t, nil
}

// parseTime accepts the formats listed in errBadTime. Layouts without a
// zone are read in loc. A bare date used as an end bound covers the whole
// day.
func parseTime(raw string, loc *time.Location, endBound bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	t, err := parseCalendar(raw, loc, endBound)
	if err != nil {
		t, err = parseEpoch(raw)
		if err != nil {
			return time.Time{}, err
		}
		t = t.In(loc)
	}
	if !inRange(t) {
		return time.Time{}, errOutOfRange
	}
	return t, nil
}

func parseCalendar(raw string, loc *time.Location, endBound bool) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	t, err := time.ParseInLocation(dateOnly, raw, loc)
	if err != nil {
		return time.Time{}, errBadTime
	}
	if endBound {
		return t.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return t, nil
}

// resolveWindow turns optional raw bounds into an inclusive [start, end].
// With no bounds the window is [now-w, now]. With one bound the other is
// placed w away from it.
func resolveWindow(startRaw, endRaw string, w time.Duration, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	var (
		start, end       time.Time
		hasStart, hasEnd bool
		err              error
	)
	if strings.TrimSpace(startRaw) != "" {
		if start, err = parseTime(startRaw, loc, false); err != nil {
			return start, end, &InputError{Param: "start_date", Value: startRaw, Err: err}
		}
		hasStart = true
	}
	if strings.TrimSpace(endRaw) != "" {
		if end, err = parseTime(endRaw, loc, true); err != nil {
			return start, end, &InputError{Param: "end_date", Value: endRaw, Err: err}
		}
		hasEnd = true
	}

	switch {
	case !hasStart && !hasEnd:
		end = now
		start = now.Add(-w)
	case !hasStart:
		start = end.Add(-w)
	case !hasEnd:
		end = start.Add(w)
	}
	if !inRange(start) {
		return start, end, &InputError{Param: "start_date", Value: startRaw, Err: errOutOfRange}
	}
	if !inRange(end) {
		return start, end, &InputError{Param: "end_date", Value: endRaw, Err: errOutOfRange}
	}
	if start.After(end) {
		return start, end, &InputError{Param: "start_date", Value: startRaw, Err: errors.New("start is after end")}
	}
	return start, end, nil
}
