//go:build rp2350

package main

import (
	"device/rp"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"emucore/core"
)

// RP2350 TIMER0 sits at a different address than the RP2040 timer.
// timeRawH @ 0x24 and timeRawL @ 0x28 read without latching.
const (
	timerBase     = 0x400B0000
	timerTimeRawH = timerBase + 0x24
	timerTimeRawL = timerBase + 0x28
	timerAlarm1   = timerBase + 0x14
	timerArmed    = timerBase + 0x20
	timerIntr     = timerBase + 0x3C // Write 1 to clear
	timerInte     = timerBase + 0x40
)

var (
	timerRawH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTimeRawH)))
	timerRawL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTimeRawL)))

	alarmTarget = (*volatile.Register32)(unsafe.Pointer(uintptr(timerAlarm1)))
	alarmArmed  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerArmed)))
	alarmRaw    = (*volatile.Register32)(unsafe.Pointer(uintptr(timerIntr)))
	alarmEnable = (*volatile.Register32)(unsafe.Pointer(uintptr(timerInte)))
)

func newAlarmInterrupt() interrupt.Interrupt {
	return interrupt.New(rp.IRQ_TIMER0_IRQ_1, alarmHandler)
}

const mcuName = "rp2350"

// InitClock waits for the timer to settle after the runtime's tick setup
func InitClock() {
	_ = timerRawL.Get()
	_ = timerRawL.Get()
	_ = timerRawL.Get()
}

// GetHardwareTime returns the low 32 bits of the microsecond counter
func GetHardwareTime() uint32 {
	return timerRawL.Get()
}

// GetHardwareUptime reads the full 64-bit timer
func GetHardwareUptime() uint64 {
	for {
		high1 := timerRawH.Get()
		low := timerRawL.Get()
		high2 := timerRawH.Get()
		if high1 == high2 {
			return (uint64(high1) << 32) | uint64(low)
		}
	}
}

// UpdateSystemTime publishes the hardware time to core
func UpdateSystemTime() uint32 {
	now := GetHardwareTime()
	core.SetTime(now)
	return now
}
