//go:build rp2040

package main

import (
	"device/rp"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"emucore/core"
)

// RP2040 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x24 // Raw timer high word
	timerTIMERAWL = timerBase + 0x28 // Raw timer low word
	timerALARM1   = timerBase + 0x14
	timerARMED    = timerBase + 0x20
	timerINTR     = timerBase + 0x34 // Write 1 to clear
	timerINTE     = timerBase + 0x38
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

	alarmTarget = (*volatile.Register32)(unsafe.Pointer(uintptr(timerALARM1)))
	alarmArmed  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerARMED)))
	alarmRaw    = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTR)))
	alarmEnable = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTE)))
)

func newAlarmInterrupt() interrupt.Interrupt {
	return interrupt.New(rp.IRQ_TIMER_IRQ_1, alarmHandler)
}

const mcuName = "rp2040"

// InitClock primes the 1MHz hardware timer
func InitClock() {
	_ = timerRAWL.Get()
}

// GetHardwareTime returns the low 32 bits of the microsecond counter
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// GetHardwareUptime reads the full 64-bit timer
func GetHardwareUptime() uint64 {
	// High, low, high again to detect a carry between the reads
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
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
