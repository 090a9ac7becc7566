package core

// Crank tooth capture: turns raw edge timestamps into classified tooth gaps.
// Runs in the edge interrupt and never allocates.

const (
	// GapHistorySize is fixed so the ring index is a free-running uint8
	GapHistorySize = 256

	// AverageWindow is the number of recent gaps a new gap is compared against
	AverageWindow = 4

	// minClassifyGaps is the history needed before a gap can be a landmark
	minClassifyGaps = 2
)

// GapHistory is a ring of the most recent tooth gaps, newest overwriting oldest
type GapHistory struct {
	gaps  [GapHistorySize]uint32
	head  uint8  // Next write position
	count uint16 // Valid entries, saturates at GapHistorySize
}

// Push records a gap
func (h *GapHistory) Push(gap uint32) {
	h.gaps[h.head] = gap
	h.head++ // wraps at 256
	if h.count < GapHistorySize {
		h.count++
	}
}

// Len returns the number of valid entries
func (h *GapHistory) Len() int {
	return int(h.count)
}

// At returns the gap pushed n entries ago (0 = newest)
func (h *GapHistory) At(n int) uint32 {
	return h.gaps[h.head-1-uint8(n)]
}

// Average returns the mean of the newest n gaps; ok is false when fewer than
// minClassifyGaps are recorded.
func (h *GapHistory) Average(n int) (uint32, bool) {
	if int(h.count) < minClassifyGaps {
		return 0, false
	}
	if n > int(h.count) {
		n = int(h.count)
	}
	var sum uint64
	for i := 0; i < n; i++ {
		sum += uint64(h.At(i))
	}
	return uint32(sum / uint64(n)), true
}

// Reset forgets every recorded gap
func (h *GapHistory) Reset() {
	h.head = 0
	h.count = 0
}

// ToothEvent is what the capture hands to the synchronizer for each accepted edge
type ToothEvent struct {
	Timestamp          uint32
	Gap                uint32
	Average            uint32 // Mean of the gaps before this one (0 if unknown)
	Index              uint32 // Tooth index after this edge (0 at the landmark)
	TeethSinceLandmark uint32 // Edges counted since the previous landmark, valid on Landmark
	Landmark           bool
	Anchored           bool // A landmark had been seen before this edge
	Overrun            bool // More edges than the wheel has without a landmark
	ShortGap           bool // Gap implausibly short against the recent average
}

// ToothCapture tracks edges on the crank wheel
type ToothCapture struct {
	wheel *WheelConfig

	History   GapHistory
	Index     uint32
	LastEdge  uint32
	PrevEdge  uint32
	Gap       uint32
	primed    bool // LastEdge holds a real edge
	anchored  bool // Index is counted from a landmark
	expected  uint32
	lastEvent ToothEvent
}

// NewToothCapture creates a capture for the given wheel
func NewToothCapture(wheel *WheelConfig) *ToothCapture {
	c := &ToothCapture{}
	c.init(wheel)
	return c
}

func (c *ToothCapture) init(wheel *WheelConfig) {
	c.wheel = wheel
	c.expected = wheel.ExpectedTeeth()
}

// OnEdge processes one physical tooth edge. It returns false when the edge
// produced no gap (the first edge after boot or reset) or was rejected as
// noise; a rejected edge changes nothing.
func (c *ToothCapture) OnEdge(timestamp uint32) (ToothEvent, bool) {
	if !c.primed {
		c.LastEdge = timestamp
		c.primed = true
		return ToothEvent{}, false
	}

	gap := timestamp - c.LastEdge
	if gap < c.wheel.MinGapUS {
		return ToothEvent{}, false
	}

	avg, classify := c.History.Average(AverageWindow)
	c.History.Push(gap)
	c.PrevEdge = c.LastEdge
	c.LastEdge = timestamp
	c.Gap = gap

	ev := ToothEvent{
		Timestamp: timestamp,
		Gap:       gap,
		Average:   avg,
		Anchored:  c.anchored,
	}

	if classify && uint64(gap)*100 > uint64(c.wheel.LandmarkRatioPct)*uint64(avg) {
		ev.Landmark = true
		ev.TeethSinceLandmark = c.Index + 1
		c.Index = 0
		c.anchored = true
	} else {
		if classify && c.wheel.ShortGapPct != 0 &&
			uint64(gap)*100 < uint64(c.wheel.ShortGapPct)*uint64(avg) {
			ev.ShortGap = true
		}
		c.Index++
		if c.Index >= c.expected {
			c.Index = 0
			if c.anchored {
				ev.Overrun = true
				c.anchored = false
			}
		}
	}

	ev.Index = c.Index
	c.lastEvent = ev
	return ev, true
}

// Unanchor drops the landmark reference so the next landmark starts counting afresh
func (c *ToothCapture) Unanchor() {
	c.anchored = false
}

// Reset returns the capture to its boot state. Used after signal loss so the
// long gap across the stall is never classified.
func (c *ToothCapture) Reset() {
	c.History.Reset()
	c.Index = 0
	c.Gap = 0
	c.primed = false
	c.anchored = false
	c.lastEvent = ToothEvent{}
}

// Primed reports whether an edge has been seen since the last reset
func (c *ToothCapture) Primed() bool {
	return c.primed
}

// LastEvent returns the most recent accepted tooth event
func (c *ToothCapture) LastEvent() ToothEvent {
	return c.lastEvent
}
