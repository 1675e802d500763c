package quota

import (
	"fmt"
	"time"
)

// Granularity identifies one of the three counted windows.
type Granularity string

const (
	Minute Granularity = "minute"
	Hour   Granularity = "hour"
	Day    Granularity = "day"
)

// Granularities lists all windows in precedence order: when several windows
// are exhausted at once, the shortest one is reported first because its wait
// time is the most actionable for the user.
var Granularities = []Granularity{Minute, Hour, Day}

// Window reset policy. The minute window is rolling: it expires a full
// minute after its own windowStart, independent of wall-clock boundaries.
// The hour and day windows are anchored: they expire at the top of the hour
// and at midnight UTC. Short windows roll to smooth bursts; long windows
// anchor so users get a predictable calendar-aligned reset point.

// ResetBefore returns the cutoff for g at the given instant; Expired decides
// how a windowStart compares against it. The same cutoff is used by the
// consume transaction and by read-only queries so the two paths cannot
// disagree.
func ResetBefore(g Granularity, now time.Time) time.Time {
	switch g {
	case Minute:
		return now.Add(-time.Minute)
	case Hour:
		return hourStart(now)
	case Day:
		return dayStart(now)
	}
	return now
}

// Expired reports whether a window started at windowStart has expired at now.
// The rolling minute window closes exactly sixty seconds after it opened, so
// a windowStart equal to the cutoff is already expired. Anchored windows
// compare strictly: a window starting exactly at the hour or day boundary is
// the current one.
func Expired(g Granularity, windowStart, now time.Time) bool {
	cutoff := ResetBefore(g, now)
	if g == Minute {
		return !windowStart.After(cutoff)
	}
	return windowStart.Before(cutoff)
}

// NextReset returns when the window that started at windowStart resets.
func NextReset(g Granularity, windowStart, now time.Time) time.Time {
	switch g {
	case Minute:
		return windowStart.Add(time.Minute)
	case Hour:
		return hourStart(now).Add(time.Hour)
	case Day:
		return dayStart(now).Add(24 * time.Hour)
	}
	return now
}

// TimeUntilReset returns the remaining wait before the window resets,
// clamped at zero.
func TimeUntilReset(g Granularity, windowStart, now time.Time) time.Duration {
	d := NextReset(g, windowStart, now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func hourStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDuration renders a wait time for end-user display.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "now"
	}

	total := int(d.Round(time.Second).Seconds())
	switch {
	case total < 60:
		return fmt.Sprintf("%ds", total)
	case total < 3600:
		m, s := total/60, total%60
		if s > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%dm", m)
	case total < 86400:
		h, m := total/3600, (total%3600)/60
		if m > 0 {
			return fmt.Sprintf("%dh %dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	default:
		days, h := total/86400, (total%86400)/3600
		return fmt.Sprintf("%dd %dh", days, h)
	}
}
