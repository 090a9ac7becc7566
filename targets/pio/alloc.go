//go:build rp2040 || rp2350

package pio

import rp2pio "github.com/tinygo-org/pio/rp2-pio"

const (
	pioBlocks        = 2
	machinesPerBlock = 4
)

// inUse tracks state machines handed out by this package
var inUse [pioBlocks][machinesPerBlock]bool

func pioBlock(pioNum uint8) *rp2pio.PIO {
	if pioNum == 0 {
		return rp2pio.PIO0
	}
	return rp2pio.PIO1
}

// claimStateMachine returns the first free state machine. PIO0 fills up
// before PIO1 so the coils share one copy of the program.
func claimStateMachine() (uint8, rp2pio.StateMachine, bool) {
	for pioNum := uint8(0); pioNum < pioBlocks; pioNum++ {
		block := pioBlock(pioNum)
		for smNum := uint8(0); smNum < machinesPerBlock; smNum++ {
			if inUse[pioNum][smNum] {
				continue
			}
			sm := block.StateMachine(smNum)
			// Claimed elsewhere, e.g. by a USB or display driver
			if !sm.TryClaim() {
				continue
			}
			inUse[pioNum][smNum] = true
			return pioNum, sm, true
		}
	}
	return 0, rp2pio.StateMachine{}, false
}
