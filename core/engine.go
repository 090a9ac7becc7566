package core

import "errors"

var ErrAdvanceRange = errors.New("advance outside the coil period")

// Engine wires capture, synchronizer, scheduler and state store together.
//
// OnCrankEdge, OnCamEdge and DispatchTimers are the interrupt-context entry
// points. Poll, SetTuning, Snapshot and the accessors run in main context.
type Engine struct {
	cfg EngineConfig

	capture  ToothCapture
	sync     AngleSynchronizer
	timers   TimerList
	ignition IgnitionScheduler
	store    EngineStateStore
	ring     TimingRing

	driver CoilDriver
	diag   DiagnosticSink
}

// NewEngine validates cfg, initializes the coil outputs and returns an
// unsynchronized engine. diag may be nil.
func NewEngine(cfg EngineConfig, driver CoilDriver, diag DiagnosticSink) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DefaultDwellUS < cfg.MinDwellUS {
		return nil, ErrDwellRange
	}
	if err := driver.Init(cfg.Coils); err != nil {
		return nil, err
	}
	if diag == nil {
		diag = NullSink{}
	}

	e := &Engine{
		cfg:    cfg,
		driver: driver,
		diag:   diag,
	}
	e.cfg.Cylinders = append([]CylinderConfig(nil), cfg.Cylinders...)

	e.capture.init(&e.cfg.Wheel)
	e.sync.init(&e.cfg)
	e.store.init(e.cfg.Coils)
	e.store.SetTuning(cfg.DefaultAdvance, cfg.DefaultDwellUS)
	e.ignition.init(&e.cfg, &e.sync.Crank, &e.timers, driver, &e.store, diag, &e.ring)

	for i := uint8(0); i < e.cfg.Coils; i++ {
		e.store.publishCoil(i, &e.ignition.coils[i].CoilStatus)
	}
	e.store.publishCrank(&e.sync.Crank)
	return e, nil
}

// Config returns the active configuration
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// OnCrankEdge handles a crank tooth edge captured at timestamp
func (e *Engine) OnCrankEdge(timestamp uint32) {
	state := disableInterrupts()
	e.onCrankEdge(timestamp)
	restoreInterrupts(state)
}

func (e *Engine) onCrankEdge(timestamp uint32) {
	ev, ok := e.capture.OnEdge(timestamp)
	if !ok {
		return
	}
	if ev.Landmark {
		e.ring.Record(EvtLandmark, 0, timestamp, ev.Gap, ev.TeethSinceLandmark)
	}

	wasWheelSynced := e.sync.Crank.WheelSynced
	acquired, lost := e.sync.OnToothEvent(ev)
	if lost != DesyncNone {
		if lost != DesyncLandmarkMismatch {
			e.capture.Unanchor()
		}
		e.desync(timestamp, lost, wasWheelSynced)
	}
	if acquired {
		e.syncAcquired(timestamp)
	}

	e.store.publishCrank(&e.sync.Crank)
	e.ignition.OnTooth(timestamp)
}

// OnCamEdge handles the cylinder #1 cam edge captured at timestamp
func (e *Engine) OnCamEdge(timestamp uint32) {
	state := disableInterrupts()
	wasSynced := e.sync.Crank.WheelSynced
	acquired, lost := e.sync.OnCamEdge(timestamp)
	if lost != DesyncNone {
		e.capture.Unanchor()
		e.desync(timestamp, lost, wasSynced)
	}
	if acquired {
		e.syncAcquired(timestamp)
	}
	e.store.publishCrank(&e.sync.Crank)
	restoreInterrupts(state)
}

// DispatchTimers runs every compare due at now
func (e *Engine) DispatchTimers(now uint32) {
	state := disableInterrupts()
	e.timers.Dispatch(now)
	restoreInterrupts(state)
}

// NextWake returns the time of the earliest armed compare
func (e *Engine) NextWake() (uint32, bool) {
	state := disableInterrupts()
	wake, ok := e.timers.NextWake()
	restoreInterrupts(state)
	return wake, ok
}

// Poll runs the staleness checks. Call it from the main loop at least as
// often as the stale timeout.
func (e *Engine) Poll(now uint32) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if e.capture.Primed() {
		last := e.capture.LastEdge
		if !timeBefore(now, last) && now-last > e.cfg.StaleTimeout() {
			e.signalLost(now)
		}
	}

	c := &e.sync.Crank
	if c.RPM != 0 && !timeBefore(now, c.RPMLastUpdate) && now-c.RPMLastUpdate > e.cfg.RPMTimeout() {
		e.sync.ClearRPM()
		e.store.publishCrank(c)
	}
}

// signalLost handles a stalled or disconnected crank signal
func (e *Engine) signalLost(now uint32) {
	c := &e.sync.Crank
	wasSynced := c.WheelSynced || c.CylinderSynced
	e.sync.Desync()
	e.capture.Reset()
	e.desync(now, DesyncSignalLoss, wasSynced)
	e.store.publishCrank(c)
}

// desync stops every coil. Notifies only when something was synced.
func (e *Engine) desync(now uint32, reason DesyncReason, notify bool) {
	e.ignition.ForceAllPending(now, reason)
	e.ring.Record(EvtDesync, 0, now, uint32(reason), e.sync.Crank.RPM)
	e.store.publishDesync(reason)
	if notify {
		e.diag.Notify(DiagEvent{Kind: DiagSyncLost, Reason: reason, Clock: now, Value: e.sync.Crank.RPM})
	}
}

func (e *Engine) syncAcquired(now uint32) {
	e.ring.Record(EvtSyncAcquire, 0, now, e.sync.Crank.RPM, e.sync.Crank.Angle)
	e.diag.Notify(DiagEvent{Kind: DiagSyncAcquired, Clock: now, Value: e.sync.Crank.RPM})
}

// SetTuning publishes new advance and dwell. Takes effect at each coil's
// next Pending to Preparing transition.
func (e *Engine) SetTuning(advance int32, dwellUS uint32) error {
	if dwellUS < e.cfg.MinDwellUS || dwellUS > e.cfg.MaxDwellUS {
		return ErrDwellRange
	}
	for i := uint8(0); i < e.cfg.Coils; i++ {
		p := int32(e.ignition.coils[i].Period)
		if advance <= -p || advance >= p {
			return ErrAdvanceRange
		}
	}
	e.store.SetTuning(advance, dwellUS)
	return nil
}

// Snapshot returns a consistent copy of the published state
func (e *Engine) Snapshot() Snapshot {
	return e.store.Snapshot()
}

// TimingEvents returns the timing ring, oldest first
func (e *Engine) TimingEvents() []TimingEvent {
	state := disableInterrupts()
	events := e.ring.Events()
	restoreInterrupts(state)
	return events
}

// DumpTimingRing writes the timing ring through w
func (e *Engine) DumpTimingRing(w DebugWriter) {
	DumpTimingEvents(e.TimingEvents(), w)
}

// Shutdown discharges every coil and drops sync. The engine resynchronizes
// from the next edges.
func (e *Engine) Shutdown(now uint32) {
	state := disableInterrupts()
	e.signalLost(now)
	restoreInterrupts(state)
}
