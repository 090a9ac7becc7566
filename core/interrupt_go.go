//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// interruptLock stands in for the interrupt mask on regular Go. Simulated
// interrupt handlers (edges, timer compares) and main-context snapshots both
// take it, so host tests and the simulator see the same exclusion the MCU
// gets from masking interrupts. It is not reentrant: entry points take it
// once and internal helpers assume it is held.
var interruptLock sync.Mutex

// disableInterrupts enters the simulated interrupt context
func disableInterrupts() State {
	interruptLock.Lock()
	return 0
}

// restoreInterrupts leaves the simulated interrupt context
func restoreInterrupts(state State) {
	interruptLock.Unlock()
}
