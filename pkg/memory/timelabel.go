package memory

import (
	"fmt"
	"time"
)

// dayPart returns the label for the hour-of-day bucket used throughout the
// relative-time table below.
func dayPart(hour int) string {
	switch {
	case hour >= 6 && hour < 13:
		return "in the morning"
	case hour >= 13 && hour < 20:
		return "in the afternoon"
	case hour >= 1 && hour < 6:
		return "in the early morning"
	default:
		return "at night"
	}
}

// relativeTimeLabel renders a human relative-time phrase for `ts` as seen
// from `now`, followed by the exact calendar date, e.g. "yesterday in the
// afternoon — 4 Mar".
func relativeTimeLabel(ts, now time.Time) string {
	label := relativeLabelOnly(ts, now)
	return label + " — " + calendarDate(ts, now)
}

func calendarDate(ts, now time.Time) string {
	if ts.Year() == now.Year() {
		return ts.Format("2 Jan")
	}
	return ts.Format("2 Jan 2006")
}

func relativeLabelOnly(ts, now time.Time) string {
	d := now.Sub(ts)
	if d < 0 {
		d = 0
	}

	switch {
	case d < 60*time.Second:
		return "just a moment ago"
	case d < time.Minute*2:
		return "a minute ago"
	case d < time.Minute*5:
		return "a few minutes ago"
	case d < time.Hour:
		mins := int(d / time.Minute)
		return fmt.Sprintf("about %d minutes ago", mins)
	case d < 24*time.Hour:
		hours := int(d / time.Hour)
		switch {
		case hours < 1:
			return "almost 1h ago"
		case hours < 3:
			return fmt.Sprintf("less than %dh ago", hours+1)
		case hours < 6:
			return "a few hours ago"
		default:
			return "this " + dayPartSuffix(ts.Hour())
		}
	}

	days := int(d / (24 * time.Hour))
	switch {
	case days == 1:
		return "yesterday " + dayPartSuffix(ts.Hour())
	case days == 2:
		return "the day before yesterday " + dayPartSuffix(ts.Hour())
	case days >= 3 && days <= 6:
		return fmt.Sprintf("%d days ago %s", days, dayPartSuffix(ts.Hour()))
	case days >= 7 && days <= 13:
		return "last week"
	case days >= 14 && days <= 29:
		weeks := days / 7
		return fmt.Sprintf("%d weeks ago", weeks)
	}

	months := monthsBetween(ts, now)
	switch {
	case months >= 1 && months <= 10:
		if months == 1 {
			return "a month ago"
		}
		return fmt.Sprintf("%d months ago", months)
	case months == 11:
		return "almost a year ago"
	case months >= 12 && months <= 14:
		return "a year and a few months ago"
	case months >= 15 && months <= 23:
		return "almost 2 years ago"
	}

	years := months / 12
	switch {
	case years >= 2 && years <= 4:
		return fmt.Sprintf("%d years ago or so", years)
	default:
		return fmt.Sprintf("about %d years ago", years)
	}
}

// dayPartSuffix is dayPart without the "in"/"at" leading word duplication
// guard; it is identical to dayPart but named separately at call sites that
// already read naturally with "yesterday <part>".
func dayPartSuffix(hour int) string {
	return dayPart(hour)
}

func monthsBetween(ts, now time.Time) int {
	years := now.Year() - ts.Year()
	months := years*12 + int(now.Month()) - int(ts.Month())
	if now.Day() < ts.Day() {
		months--
	}
	if months < 0 {
		months = 0
	}
	return months
}
