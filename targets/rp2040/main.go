//go:build rp2040 || rp2350

package main

import (
	"machine"
	"time"

	"emucore/core"
	"emucore/protocol"
	"emucore/targets/pio"
)

var (
	// Buffers for communication
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	engine   *core.Engine
	commands *core.EngineCommands
	diag     *core.AsyncSink
	coils    core.CoilDriver

	msgerrors                uint32
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Clear a watchdog left running across a reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	InitClock()
	InitDebugUART()
	UpdateSystemTime()

	core.SetGPIODriver(NewRPGPIODriver())

	cfg := core.DefaultEngineConfig()
	diag = core.NewAsyncSink(32)
	var err error
	coils = newCoilDriver()
	engine, err = core.NewEngine(cfg, coils, diag)
	if err != nil {
		fatal("engine: " + err.Error())
	}

	registry := core.NewCommandRegistry()
	commands = core.RegisterEngineCommands(registry, engine, sendMessage)
	commands.Dictionary().AddConstant("MCU", mcuName)

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()
	transport = protocol.NewTransport(outputBuffer, commands.Dispatch)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
	})
	// ACKs go out as soon as they are encoded
	transport.SetFlushCallback(writeUSB)

	initAlarm(engine)
	if err := initTriggerInputs(engine, cfg.CamSync); err != nil {
		fatal("trigger inputs: " + err.Error())
	}

	go usbReaderLoop()

	nextPoll := GetHardwareTime() + pollIntervalUS
	for {
		now := UpdateSystemTime()
		if int32(now-nextPoll) >= 0 {
			engine.Poll(now)
			serviceAlarm()
			nextPoll = now + pollIntervalUS
		}

		processInput()
		forwardDiagnostics()
		if outputBuffer.CurPosition() > 0 {
			writeUSB()
		}
		time.Sleep(50 * time.Microsecond)
	}
}

func newCoilDriver() core.CoilDriver {
	if usePIOCoils {
		return pio.NewPIOCoilDriver(coilsInverted, coilPins...)
	}
	pins := make([]core.GPIOPin, len(coilPins))
	for i, p := range coilPins {
		pins[i] = core.GPIOPin(p)
	}
	return core.NewGPIOCoilDriver(coilsInverted, pins...)
}

// processInput feeds buffered USB bytes to the transport
func processInput() {
	if inputBuffer.Available() == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			inputBuffer.Reset()
			outputBuffer.Reset()
		}
	}()
	transport.Receive(inputBuffer)
}

// forwardDiagnostics sends queued notifications to the host and the debug
// UART. A lost sync also dumps the timing ring for the post-mortem.
func forwardDiagnostics() {
	for {
		select {
		case ev := <-diag.Events():
			commands.SendDiagEvent(ev)
			DebugPrintln(ev.String())
			if ev.Kind == core.DiagSyncLost {
				engine.DumpTimingRing(DebugPrintln)
			}
		default:
			return
		}
	}
}

// sendMessage encodes one firmware message and flushes it so long replies
// never overrun the scratch buffer
func sendMessage(msgID uint16, args func(output protocol.OutputBuffer)) {
	transport.SendCommand(msgID, args)
	writeUSB()
}

// usbReaderLoop moves USB bytes into the input FIFO
func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			data, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(time.Millisecond)
				continue
			}

			// A host coming back after a disconnect starts a fresh session
			if usbWasDisconnected {
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				transport.Reset()
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{data}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// writeUSB drains the output buffer to USB
func writeUSB() {
	result := outputBuffer.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			// Probably unplugged: drop stale data after repeated failures
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}

// fatal reports msg on the debug UART and blinks the LED forever. Trigger
// interrupts may not be attached yet, so the coils have never charged; PIO
// outputs are still halted at their idle level.
func fatal(msg string) {
	DebugPrintln("FATAL " + msg)
	if s, ok := coils.(interface{ Stop() }); ok {
		s.Stop()
	}
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.High()
		time.Sleep(100 * time.Millisecond)
		led.Low()
		time.Sleep(100 * time.Millisecond)
	}
}
