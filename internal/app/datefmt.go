package app

import (
	"fmt"
	"time"
)

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// FormatTime renders a message timestamp: today shows only the clock time,
// yesterday is prefixed, anything older includes the date.
func FormatTime(ts, now time.Time) string {
	ts = ts.Local()
	now = now.Local()
	clock := ts.Format("15:04")
	if sameDay(ts, now) {
		return clock
	}
	if sameDay(ts, now.AddDate(0, 0, -1)) {
		return "昨天 " + clock
	}
	return fmt.Sprintf("%02d月%02d日 %s", int(ts.Month()), ts.Day(), clock)
}

// DateLabel is the bucket key for recommendation grouping.
func DateLabel(ts, now time.Time) string {
	ts = ts.Local()
	now = now.Local()
	if sameDay(ts, now) {
		return "今天"
	}
	if sameDay(ts, now.AddDate(0, 0, -1)) {
		return "昨天"
	}
	return fmt.Sprintf("%d年%02d月%02d日", ts.Year(), int(ts.Month()), ts.Day())
}
