// Package timemodel does shift and lunch window arithmetic. All inputs are
// seconds since midnight; all outputs are clamped to zero or above.
package timemodel

// Overlap returns the length of the intersection of [aStart, aEnd) and
// [bStart, bEnd), never negative.
func Overlap(aStart, aEnd, bStart, bEnd int) int {
	low := aStart
	if bStart > low {
		low = bStart
	}
	high := aEnd
	if bEnd < high {
		high = bEnd
	}
	if high <= low {
		return 0
	}
	return high - low
}

// Window is a half-open interval in seconds since midnight.
type Window struct {
	Start int
	End   int
}

func (w Window) length() int {
	if w.End <= w.Start {
		return 0
	}
	return w.End - w.Start
}

// Snapshot is the derived view of a shift at one instant.
type Snapshot struct {
	NowSeconds            int `json:"nowSeconds"`
	RemainingShiftSeconds int `json:"remainingShiftSeconds"`
	TotalWorkSeconds      int `json:"totalWorkSeconds"`
	ElapsedWorkSeconds    int `json:"elapsedWorkSeconds"`
	RemainingWorkSeconds  int `json:"remainingWorkSeconds"`
}

// Compute derives the snapshot for a shift window and an optional lunch
// window. The lunch window is clipped to the shift bounds so it is never
// double-subtracted and never drives any output negative. nowSeconds is
// wrapped into a single day to tolerate simulated clocks.
func Compute(nowSeconds, shiftStart, shiftEnd int, lunch *Window) Snapshot {
	now := ((nowSeconds % (24 * 3600)) + 24*3600) % (24 * 3600)

	shift := Window{Start: shiftStart, End: shiftEnd}
	lunchInShift := 0
	if lunch != nil {
		lunchInShift = Overlap(shift.Start, shift.End, lunch.Start, lunch.End)
	}

	snapshot := Snapshot{
		NowSeconds:       now,
		TotalWorkSeconds: clamp(shift.length() - lunchInShift),
	}

	switch {
	case now >= shift.End:
		snapshot.RemainingShiftSeconds = 0
	case now < shift.Start:
		snapshot.RemainingShiftSeconds = shift.length()
	default:
		snapshot.RemainingShiftSeconds = shift.End - now
	}

	clampedNow := now
	if clampedNow < shift.Start {
		clampedNow = shift.Start
	}
	if clampedNow > shift.End {
		clampedNow = shift.End
	}

	elapsed := clampedNow - shift.Start
	remaining := shift.End - clampedNow
	if lunch != nil {
		elapsed -= Overlap(shift.Start, clampedNow, lunch.Start, lunch.End)
		remaining -= Overlap(clampedNow, shift.End, lunch.Start, lunch.End)
	}
	snapshot.ElapsedWorkSeconds = clamp(elapsed)
	snapshot.RemainingWorkSeconds = clamp(remaining)

	return snapshot
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
