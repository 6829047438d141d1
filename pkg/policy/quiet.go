package policy

import "time"

// QuietWindow is a daily time window in minutes-from-midnight. Start > End
// means the window wraps midnight.
type QuietWindow struct {
	Start int
	End   int
}

// Contains reports whether the minute-of-day t falls inside the window.
// Wrapping windows cover [Start,24:00) plus [00:00,End].
func (w QuietWindow) Contains(t int) bool {
	if w.Start <= w.End {
		return w.Start <= t && t <= w.End
	}
	return !(w.End < t && t < w.Start)
}

// inQuietHours reports whether now falls on a scheduled day inside the
// quiet window.
func inQuietHours(now time.Time, days map[string]bool, window QuietWindow) bool {
	if len(days) == 0 {
		return false
	}
	if !days[now.Weekday().String()[:3]] {
		return false
	}
	return window.Contains(now.Hour()*60 + now.Minute())
}
