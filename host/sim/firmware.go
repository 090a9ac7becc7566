package sim

import (
	"context"
	"io"
	"sync"
	"time"

	"emucore/core"
	"emucore/protocol"
)

// Firmware is a simulated EMU speaking the wire protocol: a Simulator plus
// the same command set and transport the target firmware runs
type Firmware struct {
	mu  sync.Mutex
	sim *Simulator

	sink      *core.AsyncSink
	commands  *core.EngineCommands
	transport *protocol.Transport
	out       *protocol.ScratchOutput
	conn      io.Writer
}

// NewFirmware builds the simulated EMU
func NewFirmware(cfg core.EngineConfig, opts Options) (*Firmware, error) {
	f := &Firmware{
		sink: core.NewAsyncSink(32),
		out:  protocol.NewScratchOutput(),
	}
	s, err := New(cfg, opts, f.sink)
	if err != nil {
		return nil, err
	}
	f.sim = s

	registry := core.NewCommandRegistry()
	f.commands = core.RegisterEngineCommands(registry, s.Engine(), f.send)
	f.transport = protocol.NewTransport(f.out, f.commands.Dispatch)
	f.transport.SetFlushCallback(f.flush)
	return f, nil
}

// send transmits one message and flushes it, so long replies such as
// dump_timing never overrun the scratch buffer
func (f *Firmware) send(msgID uint16, args func(protocol.OutputBuffer)) {
	f.transport.SendCommand(msgID, args)
	f.flush()
}

func (f *Firmware) flush() {
	if f.conn != nil && f.out.CurPosition() > 0 {
		f.conn.Write(f.out.Result())
	}
	f.out.Reset()
}

// Serve answers commands arriving on conn until it fails or ctx ends.
// Diagnostics are forwarded as diag_event messages.
func (f *Firmware) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go f.forwardDiag(ctx)

	fifo := protocol.NewFifoBuffer(1024)
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			f.mu.Lock()
			fifo.Write(buf[:n])
			f.transport.Receive(fifo)
			f.mu.Unlock()
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (f *Firmware) forwardDiag(ctx context.Context) {
	for {
		select {
		case ev := <-f.sink.Events():
			f.mu.Lock()
			f.commands.SendDiagEvent(ev)
			f.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// Do runs fn with exclusive access to the simulator
func (f *Firmware) Do(fn func(s *Simulator)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.sim)
}

// AdvanceBy runs the simulation for us microseconds of virtual time
func (f *Firmware) AdvanceBy(us uint32) {
	f.Do(func(s *Simulator) { s.AdvanceBy(us) })
}

// Run advances virtual time alongside the wall clock, scaled by speed,
// until ctx ends
func (f *Firmware) Run(ctx context.Context, tick time.Duration, speed float64) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	step := uint32(float64(tick.Microseconds()) * speed)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.AdvanceBy(step)
		}
	}
}

// DroppedDiagnostics returns the diag events lost to a full queue
func (f *Firmware) DroppedDiagnostics() uint32 {
	return f.sink.Dropped()
}
