//go:build rp2040 || rp2350

package main

import "machine"

var (
	debugUART    *machine.UART
	debugEnabled bool
)

// InitDebugUART brings up UART1 on GPIO4 (TX) / GPIO5 (RX) at 115200 for
// the diagnostic log; USB carries the host protocol
func InitDebugUART() {
	debugUART = machine.UART1
	err := debugUART.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO4,
		RX:       machine.GPIO5,
	})
	if err != nil {
		debugEnabled = false
		return
	}
	debugEnabled = true
	DebugPrintln("=== EMU " + mcuName + " debug UART ===")
}

// DebugPrintln writes a line to the debug UART. It matches core.DebugWriter.
func DebugPrintln(s string) {
	if !debugEnabled || debugUART == nil {
		return
	}
	debugUART.Write([]byte(s))
	debugUART.Write([]byte("\r\n"))
}
