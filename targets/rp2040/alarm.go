//go:build rp2040 || rp2350

package main

import (
	"runtime/interrupt"

	"emucore/core"
)

// Coil compares run from hardware alarm 1. The TinyGo runtime sleeps on
// alarm 0.
const alarmBit = 1 << 1

var alarmEngine *core.Engine

// initAlarm routes the timer alarm interrupt to the engine's timer list
func initAlarm(e *core.Engine) {
	alarmEngine = e
	alarmRaw.Set(alarmBit)
	alarmEnable.SetBits(alarmBit)
	irq := newAlarmInterrupt()
	irq.SetPriority(0x40)
	irq.Enable()
}

func alarmHandler(interrupt.Interrupt) {
	alarmRaw.Set(alarmBit)
	serviceAlarm()
}

// serviceAlarm runs every due compare and points the alarm at the next one.
// Call it after anything that may arm a compare.
func serviceAlarm() {
	state := interrupt.Disable()
	defer interrupt.Restore(state)

	for {
		alarmEngine.DispatchTimers(UpdateSystemTime())
		wake, ok := alarmEngine.NextWake()
		if !ok {
			alarmArmed.Set(alarmBit)
			return
		}
		alarmTarget.Set(wake)
		// The alarm only matches on equality: a target already behind the
		// counter would wait a full wrap
		if int32(wake-GetHardwareTime()) > 0 {
			return
		}
	}
}
