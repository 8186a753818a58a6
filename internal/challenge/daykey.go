package challenge

import "time"

const dayKeyLayout = "2006-01-02"

// DayKey returns the calendar date of t in loc as YYYY-MM-DD. A nil loc
// means time.Local. Two instants share a day key exactly when they fall on
// the same local date.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(dayKeyLayout)
}

// ParseLocation resolves an IANA zone name. An empty name yields fallback.
func ParseLocation(name string, fallback *time.Location) (*time.Location, error) {
	if name == "" {
		if fallback == nil {
			return time.Local, nil
		}
		return fallback, nil
	}
	return time.LoadLocation(name)
}
