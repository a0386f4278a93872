package parsing

import "time"

// Window is a time interval. Row-selection semantics are half-open
// [Start, End); lifecycle windows use Contains (inclusive end).
type Window struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether neither bound is set.
func (w Window) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

// ContainsHalfOpen reports membership in [Start, End). Unset bounds are
// treated as unbounded.
func (w Window) ContainsHalfOpen(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// Contains reports membership in [Start, End] inclusive.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// ParseWindow parses optional start/end strings into a Window. Empty
// strings leave the corresponding bound open. Start after end is
// rejected.
func ParseWindow(startStr, endStr string) (Window, error) {
	start, err := OptionalTimestamp(startStr, "start_time")
	if err != nil {
		return Window{}, err
	}
	end, err := OptionalTimestamp(endStr, "end_time")
	if err != nil {
		return Window{}, err
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return Window{}, NewParsingError("start_time must be less than or equal to end_time")
	}
	return Window{Start: start, End: end}, nil
}

// PrePost splits the interval around a pivot into the regression-analysis
// window pair: pre = [pivot-delta, pivot), post = [pivot, pivot+delta].
func PrePost(pivot time.Time, delta time.Duration) (pre, post Window) {
	pre = Window{Start: pivot.Add(-delta), End: pivot}
	post = Window{Start: pivot, End: pivot.Add(delta)}
	return pre, post
}
