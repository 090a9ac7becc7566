package core

// DesyncReason says why synchronization was dropped
type DesyncReason uint8

const (
	DesyncNone DesyncReason = iota
	DesyncSignalLoss
	DesyncLandmarkMismatch
	DesyncToothOverrun
	DesyncShortGap
	DesyncCamMismatch
)

func (r DesyncReason) String() string {
	switch r {
	case DesyncNone:
		return "none"
	case DesyncSignalLoss:
		return "signal_loss"
	case DesyncLandmarkMismatch:
		return "landmark_mismatch"
	case DesyncToothOverrun:
		return "tooth_overrun"
	case DesyncShortGap:
		return "short_gap"
	case DesyncCamMismatch:
		return "cam_mismatch"
	default:
		return "unknown"
	}
}

// CrankState is the synchronized crank-angle clock.
// Written only from interrupt context by the AngleSynchronizer.
type CrankState struct {
	Angle          uint32 // Degrees in [0, TotalAngle)
	TimePerDegree  uint32 // Microseconds per degree from the last accepted gap, truncated
	TPDFixed       uint32 // Same in 1/256 us, used for scheduling
	RPM            uint32
	RPMLastUpdate  uint32
	LastEdge       uint32
	LastCamEdge    uint32
	ToothIndex     uint32
	Revolution     uint32 // Wheel turn within the decoder cycle
	TDCCylinder    uint8  // Cylinder most recently past TDC, valid when EngineSynced
	WheelSynced    bool
	CylinderSynced bool
	EngineSynced   bool
}

// AngleSynchronizer maps tooth events onto crank angle and tracks sync
type AngleSynchronizer struct {
	cfg   *EngineConfig
	wheel *WheelConfig

	Crank CrankState

	anchored   bool   // A landmark has been seen and teeth are counted from it
	goodCycles uint32 // Consecutive landmark-to-landmark cycles with the right count
	revAngle   uint32
	expected   uint32
}

// NewAngleSynchronizer creates a synchronizer in the unsynced state
func NewAngleSynchronizer(cfg *EngineConfig) *AngleSynchronizer {
	s := &AngleSynchronizer{}
	s.init(cfg)
	return s
}

func (s *AngleSynchronizer) init(cfg *EngineConfig) {
	s.cfg = cfg
	s.wheel = &cfg.Wheel
	s.revAngle = cfg.Wheel.RevolutionAngle()
	s.expected = cfg.Wheel.ExpectedTeeth()
}

// OnToothEvent applies one accepted tooth edge. It reports acquired when
// engine sync was gained by this edge, and a reason other than DesyncNone
// when sync was lost; the caller must then stop every coil.
func (s *AngleSynchronizer) OnToothEvent(ev ToothEvent) (acquired bool, lost DesyncReason) {
	c := &s.Crank
	wasSynced := c.EngineSynced
	c.LastEdge = ev.Timestamp
	c.ToothIndex = ev.Index
	s.updateSpeed(ev)

	switch {
	case ev.Overrun:
		lost = s.implausible(DesyncToothOverrun)
		s.anchored = false
	case ev.ShortGap && c.WheelSynced:
		lost = s.implausible(DesyncShortGap)
		s.anchored = false
	case ev.Landmark:
		lost = s.onLandmark(ev)
	}

	if c.WheelSynced {
		c.Angle = c.Revolution*s.revAngle + ev.Index*s.wheel.DegreesPerTooth
		if c.Angle >= s.wheel.TotalAngle {
			c.Angle -= s.wheel.TotalAngle
		}
	}
	if !s.cfg.CamSync {
		c.CylinderSynced = c.WheelSynced
	}
	c.EngineSynced = c.WheelSynced && c.CylinderSynced
	if c.EngineSynced {
		c.TDCCylinder = s.tdcCylinder(c.Angle)
	}
	return c.EngineSynced && !wasSynced, lost
}

func (s *AngleSynchronizer) onLandmark(ev ToothEvent) DesyncReason {
	c := &s.Crank
	lost := DesyncNone

	if c.WheelSynced && s.landmarkTooLong(ev) {
		// The landmark edge itself was lost: this edge is a tooth late and
		// cannot anchor the count
		s.anchored = false
		return s.implausible(DesyncLandmarkMismatch)
	}

	if !s.anchored || !ev.Anchored {
		s.anchored = true
		s.goodCycles = 0
	} else if ev.TeethSinceLandmark != s.expected {
		// Never re-anchor silently under a running sync: drop everything
		// and count two clean cycles from this landmark.
		lost = s.implausible(DesyncLandmarkMismatch)
		s.anchored = true
	} else if s.goodCycles < 2 {
		s.goodCycles++
	}

	// Cycle boundary: the next revolution starts here. ExtraAngle is the
	// offset of the second revolution, applied once by this toggle.
	if s.wheel.ExtraAngle != 0 {
		c.Revolution ^= 1
	} else {
		c.Revolution = 0
	}

	if !c.WheelSynced && s.goodCycles >= 2 {
		c.WheelSynced = true
	}
	return lost
}

// landmarkTooLong reports a landmark gap spanning more than the missing
// teeth plus half a tooth
func (s *AngleSynchronizer) landmarkTooLong(ev ToothEvent) bool {
	if ev.Average == 0 {
		return false
	}
	pitches := uint64(s.wheel.MissingTeeth + 1)
	return uint64(ev.Gap)*100 > (pitches*100+50)*uint64(ev.Average)
}

// OnCamEdge applies the cylinder #1 cam signal. Returns acquired/lost like
// OnToothEvent.
func (s *AngleSynchronizer) OnCamEdge(timestamp uint32) (acquired bool, lost DesyncReason) {
	c := &s.Crank
	if !s.cfg.CamSync {
		return false, DesyncNone
	}
	c.LastCamEdge = timestamp
	if !c.WheelSynced {
		return false, DesyncNone
	}
	wasSynced := c.EngineSynced

	if !s.camToothMatches(c.ToothIndex) {
		return false, s.implausible(DesyncCamMismatch)
	}
	if c.CylinderSynced && c.Revolution != s.cfg.CamRevolution {
		return false, s.implausible(DesyncCamMismatch)
	}

	c.Revolution = s.cfg.CamRevolution
	c.CylinderSynced = true
	c.Angle = c.Revolution*s.revAngle + c.ToothIndex*s.wheel.DegreesPerTooth
	c.EngineSynced = c.WheelSynced && c.CylinderSynced
	if c.EngineSynced {
		c.TDCCylinder = s.tdcCylinder(c.Angle)
	}
	return c.EngineSynced && !wasSynced, DesyncNone
}

func (s *AngleSynchronizer) camToothMatches(index uint32) bool {
	want := s.cfg.CamTooth
	window := s.cfg.CamWindowTeeth
	var diff uint32
	if index > want {
		diff = index - want
	} else {
		diff = want - index
	}
	// Distance around the wheel, so tooth 57 is next to tooth 0
	if alt := s.expected - diff; alt < diff {
		diff = alt
	}
	return diff <= window
}

// updateSpeed derives time-per-degree and rpm from the gap. The landmark gap
// spans the missing teeth as well.
func (s *AngleSynchronizer) updateSpeed(ev ToothEvent) {
	degrees := s.wheel.DegreesPerTooth
	if ev.Landmark {
		degrees = s.wheel.LandmarkDegrees()
	}
	if ev.Gap == 0 {
		return
	}
	c := &s.Crank
	c.TimePerDegree = ev.Gap / degrees
	c.TPDFixed = uint32(uint64(ev.Gap) << tpdShift / uint64(degrees))
	// rpm = 60e6 us/min * degrees / (gap us * 360 deg/rev)
	c.RPM = uint32(uint64(60000000) * uint64(degrees) / (uint64(ev.Gap) * 360))
	c.RPMLastUpdate = ev.Timestamp
}

// tdcCylinder returns the cylinder whose TDC was passed most recently
func (s *AngleSynchronizer) tdcCylinder(angle uint32) uint8 {
	best := uint8(0)
	bestDist := s.wheel.TotalAngle
	for i, cyl := range s.cfg.Cylinders {
		d := wrapAngle(int32(angle)-int32(cyl.TDCAngle), s.wheel.TotalAngle)
		if d < bestDist {
			bestDist = d
			best = uint8(i)
		}
	}
	return best
}

// implausible clears every sync flag. Re-synchronization starts from scratch.
// tpdShift is the fraction width of CrankState.TPDFixed
const tpdShift = 8

func (s *AngleSynchronizer) implausible(reason DesyncReason) DesyncReason {
	s.clearSync()
	return reason
}

func (s *AngleSynchronizer) clearSync() {
	c := &s.Crank
	c.WheelSynced = false
	c.CylinderSynced = false
	c.EngineSynced = false
	s.goodCycles = 0
}

// Desync drops all synchronization after signal loss. The tooth count is no
// longer trusted either.
func (s *AngleSynchronizer) Desync() {
	s.clearSync()
	s.anchored = false
	s.Crank.Angle = 0
}

// ClearRPM zeroes the speed after the rpm liveness timeout
func (s *AngleSynchronizer) ClearRPM() {
	s.Crank.RPM = 0
	s.Crank.TimePerDegree = 0
	s.Crank.TPDFixed = 0
}

// Synced reports engine sync
func (s *AngleSynchronizer) Synced() bool {
	return s.Crank.EngineSynced
}

// wrapAngle folds a signed angle into [0, period)
func wrapAngle(angle int32, period uint32) uint32 {
	p := int32(period)
	a := angle % p
	if a < 0 {
		a += p
	}
	return uint32(a)
}
