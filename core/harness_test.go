package core

import "testing"

// recordingDriver is a CoilDriver that remembers what it was told
type recordingDriver struct {
	coils     uint8
	energized [MaxCoils]bool
	charges   [MaxCoils][]uint32 // GetTime at each Energize
	sparks    [MaxCoils][]uint32 // GetTime at each Discharge of an energized coil
}

func (d *recordingDriver) Init(coils uint8) error {
	d.coils = coils
	return nil
}

func (d *recordingDriver) Energize(coil uint8) {
	d.energized[coil] = true
	d.charges[coil] = append(d.charges[coil], GetTime())
}

func (d *recordingDriver) Discharge(coil uint8) {
	if d.energized[coil] {
		d.sparks[coil] = append(d.sparks[coil], GetTime())
	}
	d.energized[coil] = false
}

func (d *recordingDriver) GetName() string {
	return "recorder"
}

func (d *recordingDriver) anyEnergized() bool {
	for _, on := range d.energized {
		if on {
			return true
		}
	}
	return false
}

// recordingSink keeps every diagnostic
type recordingSink struct {
	events []DiagEvent
}

func (s *recordingSink) Notify(ev DiagEvent) {
	s.events = append(s.events, ev)
}

func (s *recordingSink) count(kind DiagKind) int {
	n := 0
	for _, ev := range s.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// wheelHarness spins a virtual trigger wheel at constant speed into an Engine
type wheelHarness struct {
	t      *testing.T
	cfg    EngineConfig
	e      *Engine
	driver *recordingDriver
	sink   *recordingSink

	now     uint32 // Time of the next edge
	pos     uint32 // Physical tooth position of the next edge
	rev     uint32 // Physical revolution of the next edge
	gap     uint32 // Microseconds per tooth position
	start   uint32 // Time of position 0, revolution 0
	noCam   bool
	landmks int // Landmark edges emitted
}

func toothGapUS(cfg *EngineConfig, rpm uint32) uint32 {
	return 60000000 / (rpm * cfg.Wheel.ToothCount)
}

func newWheelHarness(t *testing.T, cfg EngineConfig, rpm uint32) *wheelHarness {
	t.Helper()
	driver := &recordingDriver{}
	sink := &recordingSink{}
	e, err := NewEngine(cfg, driver, sink)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	h := &wheelHarness{
		t:      t,
		cfg:    cfg,
		e:      e,
		driver: driver,
		sink:   sink,
		now:    100000,
		start:  100000,
		gap:    toothGapUS(&cfg, rpm),
	}
	SetTime(h.now)
	return h
}

// runUntil dispatches every compare due before t, then moves the clock to t
func (h *wheelHarness) runUntil(t uint32) {
	for {
		wake, ok := h.e.NextWake()
		if !ok || timeBefore(t, wake) {
			break
		}
		if timeBefore(wake, h.now) {
			wake = h.now
		}
		SetTime(wake)
		h.e.DispatchTimers(wake)
	}
	h.now = t
	SetTime(t)
}

// step emits the edge at the current position and runs up to the next one
func (h *wheelHarness) step() {
	w := &h.cfg.Wheel
	if h.pos == 0 && h.now != h.start {
		h.landmks++
	}
	h.e.OnCrankEdge(h.now)
	if h.cfg.CamSync && !h.noCam && h.pos == h.cfg.CamTooth && h.rev == h.cfg.CamRevolution {
		h.e.OnCamEdge(h.now)
	}

	gap := h.gap
	if h.pos == w.ExpectedTeeth()-1 {
		gap *= w.MissingTeeth + 1
		h.pos = 0
		h.rev = (h.rev + 1) % w.Revolutions()
	} else {
		h.pos++
	}
	h.runUntil(h.now + gap)
}

// steps emits n edges
func (h *wheelHarness) steps(n int) {
	for i := 0; i < n; i++ {
		h.step()
	}
}

// untilSynced steps until engine sync, failing after limit edges
func (h *wheelHarness) untilSynced(limit int) {
	h.t.Helper()
	for i := 0; i < limit; i++ {
		h.step()
		if h.e.Snapshot().Crank.EngineSynced {
			return
		}
	}
	h.t.Fatalf("Expected engine sync within %d edges", limit)
}

// physicalAngle is the true crank angle at time t
func (h *wheelHarness) physicalAngle(t uint32) uint32 {
	w := &h.cfg.Wheel
	return (t - h.start) * w.DegreesPerTooth / h.gap % w.TotalAngle
}

// angleDistance is the shortest distance between two angles on the cycle
func angleDistance(a, b, total uint32) uint32 {
	d := wrapAngle(int32(a)-int32(b), total)
	if total-d < d {
		return total - d
	}
	return d
}

// wheel360Config is a 60-2 wheel on a 360 degree cycle with no cam
func wheel360Config() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.Wheel.ExtraAngle = 0
	cfg.Wheel.TotalAngle = 360
	cfg.CamSync = false
	cfg.Cylinders = []CylinderConfig{
		{TDCAngle: 0, Coil: 0},
		{TDCAngle: 180, Coil: 1},
	}
	return cfg
}
