package reservation

import (
	"fmt"
	"strings"
	"time"
)

// Precision is the resolution of every stored timestamp. It matches the
// coarsest supported backend (postgres timestamptz).
const Precision = time.Microsecond

// Interval is a half-open time range [Start, End) in UTC.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval validates start/end and returns them as a UTC interval at
// Precision. The interval is rounded outward (start down, end up) so it still
// covers every requested instant. Zero timestamps and start >= end fail with
// ErrInvalidTime.
func NewInterval(start, end time.Time) (Interval, error) {
	if start.IsZero() || end.IsZero() {
		return Interval{}, fmt.Errorf("%w: start and end are required", ErrInvalidTime)
	}
	if !start.Before(end) {
		return Interval{}, fmt.Errorf("%w: start %s must be before end %s",
			ErrInvalidTime, start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	}
	return Interval{Start: floor(start), End: ceil(end)}, nil
}

func floor(t time.Time) time.Time { return t.UTC().Truncate(Precision) }

func ceil(t time.Time) time.Time {
	f := floor(t)
	if f.Before(t) {
		return f.Add(Precision)
	}
	return f
}

// ParseInterval parses two RFC3339 timestamps.
func ParseInterval(start, end string) (Interval, error) {
	s, err := parseTimestamp("start", start)
	if err != nil {
		return Interval{}, err
	}
	e, err := parseTimestamp("end", end)
	if err != nil {
		return Interval{}, err
	}
	return NewInterval(s, e)
}

func parseTimestamp(name, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrInvalidTime, name)
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidTime, name, err)
	}
	return t, nil
}

// Overlaps reports whether a and b share any instant. Intervals that only
// touch at a boundary (a.End == b.Start) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func (i Interval) String() string {
	return "[" + i.Start.Format(time.RFC3339) + ", " + i.End.Format(time.RFC3339) + ")"
}
