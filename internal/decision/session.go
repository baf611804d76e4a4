package decision

import (
	"time"

	"main/internal/schema"
)

// minuteOfDay returns minutes after midnight UTC.
func minuteOfDay(t time.Time) int {
	t = t.UTC()
	return t.Hour()*60 + t.Minute()
}

// inSession reports whether t falls inside the tradable window.
func (s SessionSpec) inSession(t time.Time) bool {
	m := minuteOfDay(t)
	return m >= s.OpenMinute && m < s.CloseMinute
}

// inBlackout reports whether t falls inside a configured blackout.
func (s SessionSpec) inBlackout(t time.Time) bool {
	m := minuteOfDay(t) - s.OpenMinute
	for _, b := range s.Blackouts {
		if m >= b.StartMinute && m < b.EndMinute {
			return true
		}
	}
	return false
}

// inExitWindow reports whether t is within the forced-flatten window
// before session close.
func (s SessionSpec) inExitWindow(t time.Time) bool {
	m := minuteOfDay(t)
	return m >= s.CloseMinute-s.ExitWindowMin && m < s.CloseMinute
}

// timeBucket splits the session into thirds.
func (s SessionSpec) timeBucket(t time.Time) schema.TimeBucket {
	m := minuteOfDay(t)
	length := s.CloseMinute - s.OpenMinute
	if length <= 0 {
		return schema.BucketMid
	}
	offset := m - s.OpenMinute
	switch {
	case offset < length/3:
		return schema.BucketOpen
	case offset < 2*length/3:
		return schema.BucketMid
	default:
		return schema.BucketClose
	}
}
