//go:build rp2040 || rp2350

package pio

// Coil outputs on PIO state machines. Each coil owns one state machine
// running a two instruction program that latches the level word the CPU
// pushes into its TX FIFO, so Energize and Discharge are a single FIFO
// write from the timer interrupt.

import (
	"errors"
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"emucore/core"
)

var ErrNoStateMachine = errors.New("no free PIO state machine")

// buildCoilProgram returns the level latch program
func buildCoilProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),          // 0: pull block
		asm.Out(rp2pio.OutDestPins, 1).Encode(), // 1: out pins, 1
		// .wrap
	}
}

// coilOutput is one coil's state machine and pin
type coilOutput struct {
	pio *rp2pio.PIO
	sm  rp2pio.StateMachine
	pin machine.Pin
}

// PIOCoilDriver implements core.CoilDriver with one state machine per coil
type PIOCoilDriver struct {
	Pins     [core.MaxCoils]machine.Pin
	Inverted bool // Outputs are active low

	outputs [core.MaxCoils]coilOutput
	offsets [2]int16 // Program offset per PIO block, -1 until loaded
	coils   uint8
}

// NewPIOCoilDriver creates a driver for the given coil pins
func NewPIOCoilDriver(inverted bool, pins ...machine.Pin) *PIOCoilDriver {
	d := &PIOCoilDriver{Inverted: inverted, offsets: [2]int16{-1, -1}}
	copy(d.Pins[:], pins)
	return d
}

func (d *PIOCoilDriver) Init(coils uint8) error {
	if coils > core.MaxCoils {
		return core.ErrTooManyCoils
	}
	program := buildCoilProgram()

	for i := uint8(0); i < coils; i++ {
		pioNum, sm, ok := claimStateMachine()
		if !ok {
			return ErrNoStateMachine
		}
		out := &d.outputs[i]
		out.pio = pioBlock(pioNum)
		out.sm = sm
		out.pin = d.Pins[i]

		// One copy of the program per PIO block
		if d.offsets[pioNum] < 0 {
			offset, err := out.pio.AddProgram(program, -1)
			if err != nil {
				return err
			}
			d.offsets[pioNum] = int16(offset)
		}
		offset := uint8(d.offsets[pioNum])

		out.pin.Configure(machine.PinConfig{Mode: out.pio.PinMode()})

		cfg := rp2pio.DefaultStateMachineConfig()
		cfg.SetOutPins(out.pin, 1)
		cfg.SetOutShift(true, false, 32)
		cfg.SetWrap(offset+uint8(len(program))-1, offset)
		out.sm.Init(offset, cfg)

		// Pin direction and the idle level must be set after Init
		out.sm.SetPindirsConsecutive(out.pin, 1, true)
		out.sm.SetPinsConsecutive(out.pin, 1, d.Inverted)
		out.sm.SetEnabled(true)
	}
	d.coils = coils
	return nil
}

func (d *PIOCoilDriver) level(on bool) uint32 {
	if on != d.Inverted {
		return 1
	}
	return 0
}

// Energize queues the charge level. The FIFO holds four words and the
// program drains one per two cycles, so the write never waits in practice.
func (d *PIOCoilDriver) Energize(coil uint8) {
	d.put(coil, d.level(true))
}

func (d *PIOCoilDriver) Discharge(coil uint8) {
	d.put(coil, d.level(false))
}

func (d *PIOCoilDriver) put(coil uint8, word uint32) {
	sm := d.outputs[coil].sm
	for sm.IsTxFIFOFull() {
	}
	sm.TxPut(word)
}

// Stop discharges every coil and halts the state machines
func (d *PIOCoilDriver) Stop() {
	for i := uint8(0); i < d.coils; i++ {
		out := &d.outputs[i]
		out.sm.SetEnabled(false)
		out.sm.ClearFIFOs()
		out.sm.SetPinsConsecutive(out.pin, 1, d.Inverted)
	}
}

func (d *PIOCoilDriver) GetName() string {
	return "pio"
}
