package core

import "sync/atomic"

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// DiagKind identifies a diagnostic notification
type DiagKind uint8

const (
	DiagSyncAcquired DiagKind = iota + 1
	DiagSyncLost
	DiagCoilFault      // Coil forced off while charging
	DiagSchedulingMiss // Dwell start already passed when the coil was armed
	DiagArmRejected    // Arm attempted without engine sync
)

func (k DiagKind) String() string {
	switch k {
	case DiagSyncAcquired:
		return "SYNC_ACQUIRED"
	case DiagSyncLost:
		return "SYNC_LOST"
	case DiagCoilFault:
		return "COIL_FAULT"
	case DiagSchedulingMiss:
		return "SCHED_MISS"
	case DiagArmRejected:
		return "ARM_REJECTED"
	default:
		return "UNKNOWN"
	}
}

// DiagEvent is a best-effort notification for the diagnostic log
type DiagEvent struct {
	Kind   DiagKind
	Reason DesyncReason
	Coil   uint8
	Clock  uint32
	Value  uint32 // Kind-dependent: rpm at sync change, remaining us on a miss
}

func (e DiagEvent) String() string {
	s := "[DIAG] " + e.Kind.String() + " clock=" + utoa(e.Clock)
	switch e.Kind {
	case DiagSyncAcquired:
		s += " rpm=" + utoa(e.Value)
	case DiagSyncLost:
		s += " reason=" + e.Reason.String() + " rpm=" + utoa(e.Value)
	case DiagCoilFault, DiagArmRejected:
		s += " coil=" + itoa(int(e.Coil)) + " reason=" + e.Reason.String()
	case DiagSchedulingMiss:
		s += " coil=" + itoa(int(e.Coil)) + " remaining=" + utoa(e.Value)
	}
	return s
}

// DiagnosticSink receives notifications from interrupt context. Notify must
// return immediately; a slow or missing listener must not change timing.
type DiagnosticSink interface {
	Notify(ev DiagEvent)
}

// NullSink discards every notification
type NullSink struct{}

func (NullSink) Notify(DiagEvent) {}

// AsyncSink queues notifications on a buffered channel and drops them when
// the consumer falls behind
type AsyncSink struct {
	events  chan DiagEvent
	dropped atomic.Uint32
}

// NewAsyncSink creates a sink holding up to depth undelivered events
func NewAsyncSink(depth int) *AsyncSink {
	return &AsyncSink{events: make(chan DiagEvent, depth)}
}

// Notify queues ev without blocking
func (s *AsyncSink) Notify(ev DiagEvent) {
	select {
	case s.events <- ev:
	default:
		// Channel full, drop message (non-blocking)
		s.dropped.Add(1)
	}
}

// Events returns the delivery channel
func (s *AsyncSink) Events() <-chan DiagEvent {
	return s.events
}

// Dropped returns how many notifications were discarded
func (s *AsyncSink) Dropped() uint32 {
	return s.dropped.Load()
}

// Run drains the sink into w until the channel is closed. Start it as a
// goroutine from the main context.
func (s *AsyncSink) Run(w DebugWriter) {
	for ev := range s.events {
		if w != nil {
			w(ev.String())
		}
	}
}

// Close stops Run
func (s *AsyncSink) Close() {
	close(s.events)
}

// TimingEvent captures a timing-critical event for post-mortem analysis
type TimingEvent struct {
	EventType uint8  // Event type code
	Coil      uint8  // Coil index, if any
	Clock     uint32 // System clock at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtLandmark    = 1 // Landmark gap: v1=gap v2=teeth since previous
	EvtChargeArm   = 2 // Charge compare armed: v1=wake time v2=dwell start angle
	EvtCharge      = 3 // Coil energized: v1=commanded time v2=spark angle
	EvtSpark       = 4 // Coil discharged: v1=commanded time v2=dwell us
	EvtMiss        = 5 // Scheduling miss: v1=us left to spark v2=1 if charged late
	EvtDesync      = 6 // Sync lost: v1=reason
	EvtForcedOff   = 7 // Coil discharged by fail-safe: v1=reason
	EvtSyncAcquire = 8 // Sync acquired: v1=rpm
)

const (
	TimingRingSize = 32 // Keep last 32 events for post-mortem
)

// TimingRing is a fixed, overwrite-oldest record of scheduler events.
// Written from interrupt context; read it with interrupts disabled.
type TimingRing struct {
	events [TimingRingSize]TimingEvent
	head   uint8 // Next write position
}

// Record captures a timing event. Non-blocking and allocation-free.
func (r *TimingRing) Record(eventType, coil uint8, clock, value1, value2 uint32) {
	idx := r.head
	r.events[idx] = TimingEvent{
		EventType: eventType,
		Coil:      coil,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	r.head = (idx + 1) % TimingRingSize
}

// Events returns the recorded events, oldest first
func (r *TimingRing) Events() []TimingEvent {
	out := make([]TimingEvent, 0, TimingRingSize)
	for i := uint8(0); i < TimingRingSize; i++ {
		evt := r.events[(r.head+i)%TimingRingSize]
		if evt.EventType == 0 {
			continue // Empty slot
		}
		out = append(out, evt)
	}
	return out
}

// Clear empties the ring
func (r *TimingRing) Clear() {
	for i := range r.events {
		r.events[i] = TimingEvent{}
	}
	r.head = 0
}

// TimingEventName returns the label used in timing dumps
func TimingEventName(eventType uint8) string {
	switch eventType {
	case EvtLandmark:
		return "LANDMARK"
	case EvtChargeArm:
		return "CHARGE_ARM"
	case EvtCharge:
		return "CHARGE"
	case EvtSpark:
		return "SPARK"
	case EvtMiss:
		return "MISS!"
	case EvtDesync:
		return "DESYNC"
	case EvtForcedOff:
		return "FORCED_OFF!"
	case EvtSyncAcquire:
		return "SYNC"
	default:
		return "UNKNOWN"
	}
}

// DumpTimingEvents writes events in the [TIMING] format
func DumpTimingEvents(events []TimingEvent, w DebugWriter) {
	if w == nil {
		return
	}
	w("[TIMING] === Timing Ring Dump ===")
	for _, evt := range events {
		w("[TIMING] " + TimingEventName(evt.EventType) +
			" coil=" + itoa(int(evt.Coil)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	w("[TIMING] === End Dump ===")
}
