// Package sim spins a virtual trigger wheel into a real core.Engine on a
// virtual clock. The core clock is process-global on hosted builds, so only
// one Simulator may run at a time.
package sim

import (
	"errors"

	"emucore/core"
)

var ErrNotRunning = errors.New("engine is not turning")

// Options tunes the simulation
type Options struct {
	RPM            uint32 // Initial speed, 0 for a stopped engine
	PollIntervalUS uint32 // Main loop period calling Engine.Poll
	TimerLatencyUS uint32 // Delay between a compare's wake time and its handler
	NoCam          bool   // Suppress the cam signal
	Start          uint32 // Initial clock
}

// DefaultOptions idles the engine at 900 rpm with a 1ms main loop
func DefaultOptions() Options {
	return Options{
		RPM:            900,
		PollIntervalUS: 1000,
		Start:          1000,
	}
}

// Simulator drives an Engine from a modelled crank wheel
type Simulator struct {
	cfg    core.EngineConfig
	opts   Options
	engine *core.Engine
	coils  *CoilRecorder

	now      uint32
	nextPoll uint32

	// Wheel position: the next edge is tooth pos of revolution rev
	pos, rev  uint32
	lastEdge  uint32 // Clock of the previous tooth position
	lastAngle uint32 // True angle at lastEdge
	nextEdge  uint32
	running   bool

	rpm       uint32
	targetRPM uint32
	rampStep  uint32 // rpm change per revolution
	skip      uint32 // Edges to swallow
	edges     uint32
}

// New creates a simulator for cfg. diag may be nil.
func New(cfg core.EngineConfig, opts Options, diag core.DiagnosticSink) (*Simulator, error) {
	if opts.PollIntervalUS == 0 {
		opts.PollIntervalUS = 1000
	}
	s := &Simulator{
		cfg:   cfg,
		opts:  opts,
		coils: &CoilRecorder{},
		now:   opts.Start,
	}
	s.coils.angleAt = s.AngleAt

	core.SetTime(s.now)
	engine, err := core.NewEngine(cfg, s.coils, diag)
	if err != nil {
		return nil, err
	}
	s.engine = engine
	s.nextPoll = s.now + opts.PollIntervalUS
	s.lastEdge = s.now
	// The wheel starts on the last tooth before the gap
	s.lastAngle = cfg.Wheel.TotalAngle - cfg.Wheel.LandmarkDegrees()
	s.SetRPM(opts.RPM)
	return s, nil
}

// Engine returns the engine under simulation
func (s *Simulator) Engine() *core.Engine {
	return s.engine
}

// Now returns the virtual clock
func (s *Simulator) Now() uint32 {
	return s.now
}

// RPM returns the modelled crank speed
func (s *Simulator) RPM() uint32 {
	return s.rpm
}

// Edges returns how many crank edges were delivered
func (s *Simulator) Edges() uint32 {
	return s.edges
}

// Sparks returns the recorded sparks
func (s *Simulator) Sparks() []Spark {
	return append([]Spark(nil), s.coils.sparks...)
}

// ClearSparks forgets the recorded sparks
func (s *Simulator) ClearSparks() {
	s.coils.sparks = s.coils.sparks[:0]
}

// Energized reports whether coil is charging
func (s *Simulator) Energized(coil uint8) bool {
	return s.coils.Energized(coil)
}

// toothGap is the time between two tooth positions at rpm
func (s *Simulator) toothGap() uint32 {
	return 60000000 / (s.rpm * s.cfg.Wheel.ToothCount)
}

// degreesToNext is the angle from the current position to the next edge
func (s *Simulator) degreesToNext() uint32 {
	w := &s.cfg.Wheel
	if s.pos == 0 {
		// The edge after the gap: the previous position was the last tooth
		return w.LandmarkDegrees()
	}
	return w.DegreesPerTooth
}

// SetRPM changes speed immediately. 0 stops the wheel.
func (s *Simulator) SetRPM(rpm uint32) {
	s.targetRPM = rpm
	s.rampStep = 0
	s.applyRPM(rpm)
}

func (s *Simulator) applyRPM(rpm uint32) {
	s.rpm = rpm
	if rpm == 0 {
		s.running = false
		return
	}
	// Re-time the pending edge from the last one at the new speed
	gap := s.toothGap() * s.degreesToNext() / s.cfg.Wheel.DegreesPerTooth
	if !s.running {
		s.running = true
		s.lastEdge = s.now
	}
	s.nextEdge = s.lastEdge + gap
	if int32(s.nextEdge-s.now) < 0 {
		s.nextEdge = s.now
	}
}

// RampTo moves speed toward rpm by step every revolution
func (s *Simulator) RampTo(rpm, step uint32) {
	if step == 0 {
		s.SetRPM(rpm)
		return
	}
	s.targetRPM = rpm
	s.rampStep = step
}

// SetCam enables or suppresses the cam signal
func (s *Simulator) SetCam(enabled bool) {
	s.opts.NoCam = !enabled
}

// SkipTeeth swallows the next n crank edges, as a sensor dropout would
func (s *Simulator) SkipTeeth(n uint32) {
	s.skip += n
}

// Stall holds the wheel still for us microseconds
func (s *Simulator) Stall(us uint32) error {
	if !s.running {
		return ErrNotRunning
	}
	s.lastEdge += us
	s.nextEdge += us
	return nil
}

// AngleAt returns the true crank angle at clock, interpolated between
// tooth positions
func (s *Simulator) AngleAt(clock uint32) uint32 {
	w := &s.cfg.Wheel
	if !s.running || int32(clock-s.lastEdge) <= 0 {
		return s.lastAngle
	}
	span := s.nextEdge - s.lastEdge
	if span == 0 {
		return s.lastAngle
	}
	elapsed := clock - s.lastEdge
	if elapsed > span {
		elapsed = span
	}
	deg := uint64(elapsed) * uint64(s.degreesToNext()) / uint64(span)
	return (s.lastAngle + uint32(deg)) % w.TotalAngle
}

// Advance runs the simulation until the virtual clock reaches until
func (s *Simulator) Advance(until uint32) {
	for {
		at, kind := s.nextEvent()
		if kind == eventNone || int32(at-until) > 0 {
			break
		}
		s.now = at
		core.SetTime(at)
		switch kind {
		case eventTimer:
			s.engine.DispatchTimers(at)
		case eventEdge:
			s.edge()
		case eventPoll:
			s.engine.Poll(at)
			s.nextPoll += s.opts.PollIntervalUS
		}
	}
	s.now = until
	core.SetTime(until)
}

// AdvanceBy runs the simulation for us microseconds
func (s *Simulator) AdvanceBy(us uint32) {
	s.Advance(s.now + us)
}

// Revolutions runs n full wheel turns at the current speed
func (s *Simulator) Revolutions(n uint32) error {
	if !s.running {
		return ErrNotRunning
	}
	target := s.edges + n*s.cfg.Wheel.ExpectedTeeth()
	for s.edges < target && s.running {
		s.Advance(s.nextEdge)
	}
	return nil
}

type eventKind uint8

const (
	eventNone eventKind = iota
	eventTimer
	eventEdge
	eventPoll
)

// nextEvent picks the earliest pending event. Compares due at the same
// clock as an edge run first.
func (s *Simulator) nextEvent() (uint32, eventKind) {
	at, kind := s.nextPoll, eventPoll
	if s.running && int32(s.nextEdge-at) <= 0 {
		at, kind = s.nextEdge, eventEdge
	}
	if wake, ok := s.engine.NextWake(); ok {
		wake += s.opts.TimerLatencyUS
		if int32(wake-s.now) < 0 {
			wake = s.now
		}
		if int32(wake-at) <= 0 {
			at, kind = wake, eventTimer
		}
	}
	return at, kind
}

// edge delivers the edge at the current wheel position and moves on
func (s *Simulator) edge() {
	w := &s.cfg.Wheel
	at := s.nextEdge
	s.lastAngle = (s.rev*w.RevolutionAngle() + s.pos*w.DegreesPerTooth) % w.TotalAngle
	s.lastEdge = at

	if s.skip > 0 {
		s.skip--
	} else {
		s.edges++
		s.engine.OnCrankEdge(at)
		if s.cfg.CamSync && !s.opts.NoCam && s.pos == s.cfg.CamTooth && s.rev == s.cfg.CamRevolution {
			s.engine.OnCamEdge(at)
		}
	}

	if s.pos == w.ExpectedTeeth()-1 {
		s.pos = 0
		s.rev = (s.rev + 1) % w.Revolutions()
		s.ramp()
	} else {
		s.pos++
	}
	if s.running {
		s.nextEdge = at + s.toothGap()*s.degreesToNext()/w.DegreesPerTooth
	}
}

func (s *Simulator) ramp() {
	if s.rampStep == 0 || s.rpm == s.targetRPM {
		return
	}
	rpm := s.rpm
	if rpm < s.targetRPM {
		rpm += s.rampStep
		if rpm > s.targetRPM {
			rpm = s.targetRPM
		}
	} else {
		if rpm < s.targetRPM+s.rampStep {
			rpm = s.targetRPM
		} else {
			rpm -= s.rampStep
		}
	}
	s.rpm = rpm
	if rpm == 0 {
		s.running = false
	}
}
