//go:build rp2040 || rp2350

package main

import "machine"

// Board wiring. The crank and cam sensors feed conditioned open-collector
// signals, so the inputs use pull-ups and trigger on the falling edge.
const (
	crankPin = machine.GPIO2
	camPin   = machine.GPIO3

	// Coil drivers are active high; set for inverting igniters
	coilsInverted = false

	// PIO drives the coil pins; false falls back to plain GPIO writes
	usePIOCoils = true

	pollIntervalUS = 1000
)

var coilPins = []machine.Pin{machine.GPIO10, machine.GPIO11}
