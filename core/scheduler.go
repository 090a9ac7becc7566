package core

// Timer represents a scheduled compare event
type Timer struct {
	WakeTime uint32
	Handler  func(t *Timer, now uint32) uint8
	Next     *Timer
	armed    bool
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// Armed reports whether the timer is currently queued
func (t *Timer) Armed() bool {
	return t.armed
}

// TimerList is the software compare queue: timers sorted by WakeTime.
// Callers must be in interrupt context (interrupts disabled); the list does
// no locking of its own so it can be driven from inside other handlers.
type TimerList struct {
	head *Timer
}

// Schedule arms t. A timer that is already armed is moved rather than
// inserted twice, so one Timer can never be pending in two places.
func (l *TimerList) Schedule(t *Timer) {
	if t.armed {
		l.Cancel(t)
	}
	l.insert(t)
}

// insert links t in sorted order by WakeTime
func (l *TimerList) insert(t *Timer) {
	t.armed = true
	if l.head == nil || timeBefore(t.WakeTime, l.head.WakeTime) {
		t.Next = l.head
		l.head = t
		return
	}

	current := l.head
	for current.Next != nil && !timeBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// Cancel removes t from the list if it is armed
func (l *TimerList) Cancel(t *Timer) {
	if !t.armed {
		return
	}
	if l.head == t {
		l.head = t.Next
	} else {
		for current := l.head; current != nil; current = current.Next {
			if current.Next == t {
				current.Next = t.Next
				break
			}
		}
	}
	t.Next = nil
	t.armed = false
}

// NextWake returns the earliest armed wake time
func (l *TimerList) NextWake() (uint32, bool) {
	if l.head == nil {
		return 0, false
	}
	return l.head.WakeTime, true
}

// Dispatch runs every timer whose WakeTime is at or before now
func (l *TimerList) Dispatch(now uint32) {
	for l.head != nil && !timeBefore(now, l.head.WakeTime) {
		timer := l.head
		l.head = timer.Next
		timer.Next = nil // Clear Next pointer to avoid circular references
		timer.armed = false

		if timer.Handler(timer, now) == SF_RESCHEDULE {
			l.insert(timer)
		}
	}
}
