//go:build rp2040 || rp2350

package main

import (
	"machine"
)

// InitUSB configures the USB CDC-ACM port the host link runs on.
// machine.Serial is USB CDC on both chips; TinyGo's runtime owns the
// descriptors.
func InitUSB() {
	machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes available to read from USB
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte from USB
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWriteBytes writes a frame batch to USB
func USBWriteBytes(data []byte) (int, error) {
	return machine.Serial.Write(data)
}
