package sim

import "emucore/core"

// Spark is one completed coil cycle seen by the recorder
type Spark struct {
	Coil   uint8
	Charge uint32 // Clock when the coil was energized
	Fire   uint32 // Clock at discharge
	Angle  uint32 // True crank angle at discharge
}

// Dwell is the time the coil was energized
func (s Spark) Dwell() uint32 {
	return s.Fire - s.Charge
}

// CoilRecorder is a core.CoilDriver that logs every spark against the
// simulated crank position
type CoilRecorder struct {
	coils     uint8
	energized [core.MaxCoils]bool
	chargedAt [core.MaxCoils]uint32
	sparks    []Spark
	angleAt   func(clock uint32) uint32
}

func (r *CoilRecorder) Init(coils uint8) error {
	if coils > core.MaxCoils {
		return core.ErrTooManyCoils
	}
	r.coils = coils
	return nil
}

func (r *CoilRecorder) Energize(coil uint8) {
	r.energized[coil] = true
	r.chargedAt[coil] = core.GetTime()
}

func (r *CoilRecorder) Discharge(coil uint8) {
	if !r.energized[coil] {
		return
	}
	r.energized[coil] = false
	now := core.GetTime()
	s := Spark{Coil: coil, Charge: r.chargedAt[coil], Fire: now}
	if r.angleAt != nil {
		s.Angle = r.angleAt(now)
	}
	r.sparks = append(r.sparks, s)
}

func (r *CoilRecorder) GetName() string {
	return "sim"
}

// Energized reports whether coil is currently charging
func (r *CoilRecorder) Energized(coil uint8) bool {
	return r.energized[coil]
}
