package core

// Ignition coil scheduling. Each coil walks Pending -> Preparing ->
// Charging -> Discharged once per firing period. Tooth edges re-plan the
// charge and spark compares; the compares themselves run from the timer list.

// CoilState is the position of a coil in its firing cycle
type CoilState uint8

const (
	CoilPending    CoilState = iota // Waiting for sync and a fresh cycle
	CoilPreparing                   // Spark angle latched, waiting for dwell start
	CoilCharging                    // Energized, spark compare armed
	CoilDischarged                  // Fired this cycle
)

func (s CoilState) String() string {
	switch s {
	case CoilPending:
		return "pending"
	case CoilPreparing:
		return "preparing"
	case CoilCharging:
		return "charging"
	case CoilDischarged:
		return "discharged"
	default:
		return "unknown"
	}
}

// SparkAngle returns the firing angle for a cylinder at tdc, folded into a
// coil period. A coil firing twice per cycle gets the same angle for both
// of its cylinders.
func SparkAngle(tdc uint32, advance int32, period uint32) uint32 {
	return wrapAngle(int32(tdc)-advance, period)
}

// DwellDegrees converts a dwell time into crank degrees at the given speed
func DwellDegrees(dwellUS, timePerDegree uint32) uint32 {
	if timePerDegree == 0 {
		return 0
	}
	return dwellUS / timePerDegree
}

// dwellDegreesFixed is DwellDegrees for a speed in 1/256 us per degree
func dwellDegreesFixed(dwellUS, tpdFixed uint32) uint32 {
	if tpdFixed == 0 {
		return 0
	}
	return uint32(uint64(dwellUS) << tpdShift / uint64(tpdFixed))
}

// degreesToTime converts crank travel into microseconds, rounded
func degreesToTime(deg, tpdFixed uint32) uint32 {
	return uint32((uint64(deg)*uint64(tpdFixed) + 1<<(tpdShift-1)) >> tpdShift)
}

// DwellStartAngle returns the angle at which charging has to begin
func DwellStartAngle(sparkAngle, dwellDeg, period uint32) uint32 {
	return wrapAngle(int32(sparkAngle)-int32(dwellDeg), period)
}

// Coil is one physical coil output and its scheduling state
type Coil struct {
	CoilStatus

	Index  uint8
	Period uint32 // Firing period in degrees

	cylinders [MaxCylinders]uint8
	numCyl    uint8
	dwellDeg  uint32
	skip      bool // Missed this cycle, wait for the next one

	sched       *IgnitionScheduler
	chargeTimer Timer
	sparkTimer  Timer
}

// IgnitionScheduler drives every coil from tooth events and timer compares.
// All methods run in interrupt context.
type IgnitionScheduler struct {
	cfg    *EngineConfig
	crank  *CrankState
	timers *TimerList
	driver CoilDriver
	store  *EngineStateStore
	diag   DiagnosticSink
	ring   *TimingRing

	coils [MaxCoils]Coil
	count uint8
}

func (s *IgnitionScheduler) init(cfg *EngineConfig, crank *CrankState, timers *TimerList,
	driver CoilDriver, store *EngineStateStore, diag DiagnosticSink, ring *TimingRing) {
	s.cfg = cfg
	s.crank = crank
	s.timers = timers
	s.driver = driver
	s.store = store
	s.diag = diag
	s.ring = ring
	s.count = cfg.Coils

	for i := uint8(0); i < s.count; i++ {
		c := &s.coils[i]
		c.Index = i
		c.Period = cfg.CoilPeriod(i)
		c.sched = s
		c.chargeTimer.Handler = c.chargeEvent
		c.sparkTimer.Handler = c.sparkEvent
		for ci, cyl := range cfg.Cylinders {
			if cyl.Coil == i {
				c.cylinders[c.numCyl] = uint8(ci)
				c.numCyl++
			}
		}
	}
}

// Coil returns coil i
func (s *IgnitionScheduler) Coil(i uint8) *Coil {
	return &s.coils[i]
}

// OnTooth advances every coil after the synchronizer has processed the edge
// at now
func (s *IgnitionScheduler) OnTooth(now uint32) {
	if !s.crank.EngineSynced {
		s.rejectArmed(now)
		return
	}
	for i := uint8(0); i < s.count; i++ {
		c := &s.coils[i]
		switch c.State {
		case CoilDischarged:
			c.State = CoilPending
			fallthrough
		case CoilPending:
			s.prepare(c)
			s.planCharge(c, now)
		case CoilPreparing:
			s.planCharge(c, now)
		case CoilCharging:
			s.retargetSpark(c, now)
		}
		s.store.publishCoil(i, &c.CoilStatus)
	}
}

// prepare latches tuning for the coming cycle
func (s *IgnitionScheduler) prepare(c *Coil) {
	advance, dwell := s.store.Tuning()
	if dwell > s.cfg.MaxDwellUS {
		dwell = s.cfg.MaxDwellUS
	}
	c.Advance = advance
	c.DwellUS = dwell
	c.SparkAngle = SparkAngle(s.cfg.Cylinders[c.cylinders[0]].TDCAngle, advance, c.Period)
	c.skip = false
	c.State = CoilPreparing
}

// degreesToSpark is the crank travel left before the coil's spark angle
func (s *IgnitionScheduler) degreesToSpark(c *Coil) uint32 {
	return wrapAngle(int32(c.SparkAngle)-int32(s.crank.Angle), c.Period)
}

// nextToothDegrees is the angle until the next expected edge
func (s *IgnitionScheduler) nextToothDegrees() uint32 {
	w := &s.cfg.Wheel
	if s.crank.ToothIndex+1 >= w.ExpectedTeeth() {
		return w.LandmarkDegrees()
	}
	return w.DegreesPerTooth
}

// firingCylinder finds the cylinder whose spark lies toSpark degrees ahead
func (s *IgnitionScheduler) firingCylinder(c *Coil, toSpark uint32) uint8 {
	total := s.cfg.Wheel.TotalAngle
	at := (s.crank.Angle + toSpark) % total
	for k := uint8(0); k < c.numCyl; k++ {
		idx := c.cylinders[k]
		if SparkAngle(s.cfg.Cylinders[idx].TDCAngle, c.Advance, total) == at {
			return idx
		}
	}
	return c.cylinders[0]
}

// planCharge decides at a tooth edge whether the dwell start falls before
// the next edge and arms the charge compare if so
func (s *IgnitionScheduler) planCharge(c *Coil, now uint32) {
	tpd := s.crank.TPDFixed
	if tpd == 0 {
		return
	}

	dwellDeg := dwellDegreesFixed(c.DwellUS, tpd)
	if dwellDeg >= c.Period {
		dwellDeg = c.Period - 1
	}
	c.dwellDeg = dwellDeg
	c.DwellStartAngle = DwellStartAngle(c.SparkAngle, dwellDeg, c.Period)

	toSpark := s.degreesToSpark(c)
	c.Cylinder = s.firingCylinder(c, toSpark)

	if toSpark <= dwellDeg {
		s.lateStart(c, now, toSpark, tpd)
		return
	}
	c.skip = false

	toStart := toSpark - dwellDeg
	if toStart > s.nextToothDegrees() {
		// A later edge will get a fresher speed estimate
		if c.chargeTimer.Armed() {
			s.timers.Cancel(&c.chargeTimer)
		}
		return
	}

	c.ChargeAt = now + degreesToTime(toStart, tpd)
	c.SparkAt = now + degreesToTime(toSpark, tpd)
	c.chargeTimer.WakeTime = c.ChargeAt
	s.timers.Schedule(&c.chargeTimer)
	s.ring.Record(EvtChargeArm, c.Index, now, c.ChargeAt, c.DwellStartAngle)
}

// lateStart handles an edge that finds the dwell start already behind us
func (s *IgnitionScheduler) lateStart(c *Coil, now, toSpark, tpd uint32) {
	if c.skip {
		return
	}
	remaining := degreesToTime(toSpark, tpd)

	if c.chargeTimer.Armed() && toSpark > 0 {
		// Planned on the previous edge; the new speed estimate says now
		c.ChargeAt = now
		c.SparkAt = now + remaining
		c.chargeTimer.WakeTime = now
		s.timers.Schedule(&c.chargeTimer)
		return
	}

	c.Misses++
	s.diag.Notify(DiagEvent{Kind: DiagSchedulingMiss, Coil: c.Index, Clock: now, Value: remaining})

	if toSpark > 0 && remaining >= s.cfg.MinDwellUS {
		s.ring.Record(EvtMiss, c.Index, now, remaining, 1)
		c.ChargeAt = now
		c.SparkAt = now + remaining
		c.chargeTimer.WakeTime = now
		s.timers.Schedule(&c.chargeTimer)
		return
	}

	s.ring.Record(EvtMiss, c.Index, now, remaining, 0)
	s.timers.Cancel(&c.chargeTimer)
	c.skip = true
}

// retargetSpark sets the spark compare of a charging coil from the last
// edge before the spark angle
func (s *IgnitionScheduler) retargetSpark(c *Coil, now uint32) {
	tpd := s.crank.TPDFixed
	if tpd == 0 {
		return
	}
	toSpark := s.degreesToSpark(c)
	at := now + degreesToTime(toSpark, tpd)
	if toSpark > s.nextToothDegrees() {
		if c.Period-toSpark > s.cfg.Wheel.LandmarkDegrees() {
			return
		}
		// The crank is already past the spark angle
		at = now
	}

	if limit := c.LastCharge + s.cfg.MaxDwellUS; timeBefore(limit, at) {
		at = limit
	}
	c.SparkAt = at
	c.sparkTimer.WakeTime = at
	s.timers.Schedule(&c.sparkTimer)
}

// chargeEvent is the dwell start compare
func (c *Coil) chargeEvent(t *Timer, now uint32) uint8 {
	s := c.sched
	if !s.crank.EngineSynced || c.State != CoilPreparing {
		s.diag.Notify(DiagEvent{Kind: DiagArmRejected, Coil: c.Index, Clock: now})
		s.forcePending(c, now, DesyncNone)
		s.store.publishCoil(c.Index, &c.CoilStatus)
		return SF_DONE
	}

	s.driver.Energize(c.Index)
	c.State = CoilCharging
	c.LastCharge = now
	c.LastService = now
	c.Jitter = int32(now - t.WakeTime)

	sparkAt := c.SparkAt
	if !timeBefore(now, sparkAt) {
		sparkAt = now + s.cfg.MinDwellUS
	}
	limit := now + s.cfg.MaxDwellUS
	if timeBefore(limit, sparkAt) {
		sparkAt = limit
	}
	c.SparkAt = sparkAt
	// An edge due before the spark re-times it with a fresh speed estimate.
	// Until then only the dwell cap is armed.
	nextEdge := s.crank.LastEdge + degreesToTime(s.nextToothDegrees(), s.crank.TPDFixed)
	if timeBefore(nextEdge, sparkAt) {
		sparkAt = limit
	}
	c.sparkTimer.WakeTime = sparkAt
	s.timers.Schedule(&c.sparkTimer)

	s.ring.Record(EvtCharge, c.Index, now, t.WakeTime, c.SparkAngle)
	s.store.publishCoil(c.Index, &c.CoilStatus)
	return SF_DONE
}

// sparkEvent is the discharge compare
func (c *Coil) sparkEvent(t *Timer, now uint32) uint8 {
	s := c.sched
	if c.State != CoilCharging {
		return SF_DONE
	}

	s.driver.Discharge(c.Index)
	c.State = CoilDischarged
	c.LastDischarge = now
	c.LastService = now
	c.Jitter = int32(now - t.WakeTime)
	c.Sparks++

	s.ring.Record(EvtSpark, c.Index, now, t.WakeTime, now-c.LastCharge)
	s.store.publishCoil(c.Index, &c.CoilStatus)
	return SF_DONE
}

// rejectArmed returns coils left outside Pending without sync to Pending
func (s *IgnitionScheduler) rejectArmed(now uint32) {
	for i := uint8(0); i < s.count; i++ {
		c := &s.coils[i]
		if c.State == CoilPending {
			continue
		}
		s.diag.Notify(DiagEvent{Kind: DiagArmRejected, Coil: i, Clock: now})
		s.forcePending(c, now, DesyncNone)
		s.store.publishCoil(i, &c.CoilStatus)
	}
}

// ForceAllPending cancels every compare and returns all coils to Pending.
// A charging coil is discharged on the spot and counted as a fault.
func (s *IgnitionScheduler) ForceAllPending(now uint32, reason DesyncReason) {
	for i := uint8(0); i < s.count; i++ {
		c := &s.coils[i]
		s.forcePending(c, now, reason)
		s.store.publishCoil(i, &c.CoilStatus)
	}
}

func (s *IgnitionScheduler) forcePending(c *Coil, now uint32, reason DesyncReason) {
	s.timers.Cancel(&c.chargeTimer)
	s.timers.Cancel(&c.sparkTimer)

	if c.State == CoilCharging {
		s.driver.Discharge(c.Index)
		c.LastDischarge = now
		c.Faults++
		s.ring.Record(EvtForcedOff, c.Index, now, uint32(reason), now-c.LastCharge)
		s.diag.Notify(DiagEvent{Kind: DiagCoilFault, Reason: reason, Coil: c.Index, Clock: now})
	}
	// A forced discharge is a fault, not a spark: straight back to Pending
	c.State = CoilPending
	c.skip = false
}
