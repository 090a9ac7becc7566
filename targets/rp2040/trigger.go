//go:build rp2040 || rp2350

package main

import (
	"machine"

	"emucore/core"
)

// initTriggerInputs routes the crank and cam edges into the engine. The
// capture time is read first thing in the interrupt.
func initTriggerInputs(e *core.Engine, camSync bool) error {
	crankPin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	err := crankPin.SetInterrupt(machine.PinFalling, func(machine.Pin) {
		e.OnCrankEdge(GetHardwareTime())
		serviceAlarm()
	})
	if err != nil {
		return err
	}

	if !camSync {
		return nil
	}
	camPin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return camPin.SetInterrupt(machine.PinFalling, func(machine.Pin) {
		e.OnCamEdge(GetHardwareTime())
		serviceAlarm()
	})
}
