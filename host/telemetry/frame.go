// Package telemetry fans engine state out to dashboards: a WebSocket hub
// for browsers and a NATS publisher for the rest of the vehicle network.
package telemetry

import (
	"time"

	"emucore/core"
	"emucore/host/link"
	"emucore/protocol"
)

// CoilFrame is one coil in a state frame
type CoilFrame struct {
	Coil       uint8  `json:"coil"`
	State      string `json:"state"`
	Cylinder   uint8  `json:"cylinder"`
	SparkAngle uint32 `json:"spark_angle"`
	Sparks     uint32 `json:"sparks"`
	Misses     uint32 `json:"misses"`
	Faults     uint32 `json:"faults"`
	Jitter     int32  `json:"jitter_us"`
}

// Frame is the JSON message sent to every sink. Type is "state" or "diag".
type Frame struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`

	Clock          uint32      `json:"clock"`
	Angle          uint32      `json:"angle,omitempty"`
	RPM            uint32      `json:"rpm,omitempty"`
	WheelSynced    bool        `json:"wheel_synced,omitempty"`
	CylinderSynced bool        `json:"cylinder_synced,omitempty"`
	EngineSynced   bool        `json:"engine_synced,omitempty"`
	Advance        int32       `json:"advance,omitempty"`
	DwellUS        uint32      `json:"dwell_us,omitempty"`
	Desyncs        uint32      `json:"desyncs,omitempty"`
	LastDesync     string      `json:"last_desync,omitempty"`
	Coils          []CoilFrame `json:"coils,omitempty"`

	// Diagnostic frames
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
	Coil   *uint8 `json:"coil,omitempty"`
	Value  uint32 `json:"value,omitempty"`
}

// StateFrame converts a queried state
func StateFrame(s *link.State, at time.Time) Frame {
	e := &s.Engine
	f := Frame{
		Type:           "state",
		Time:           at,
		Clock:          e.Clock,
		Angle:          e.Angle,
		RPM:            e.RPM,
		WheelSynced:    e.Flags&protocol.FlagWheelSynced != 0,
		CylinderSynced: e.Flags&protocol.FlagCylinderSynced != 0,
		EngineSynced:   e.EngineSynced(),
		Advance:        e.Advance,
		DwellUS:        e.DwellUS,
		Desyncs:        e.Desyncs,
		LastDesync:     core.DesyncReason(e.LastDesync).String(),
		Coils:          make([]CoilFrame, len(s.Coils)),
	}
	for i, c := range s.Coils {
		f.Coils[i] = CoilFrame{
			Coil:       c.Coil,
			State:      core.CoilState(c.State).String(),
			Cylinder:   c.Cylinder,
			SparkAngle: c.SparkAngle,
			Sparks:     c.Sparks,
			Misses:     c.Misses,
			Faults:     c.Faults,
			Jitter:     c.Jitter,
		}
	}
	return f
}

// DiagFrame converts a diag_event message
func DiagFrame(ev protocol.DiagEvent, at time.Time) Frame {
	f := Frame{
		Type:  "diag",
		Time:  at,
		Clock: ev.Clock,
		Kind:  core.DiagKind(ev.Kind).String(),
		Value: ev.Value,
	}
	switch core.DiagKind(ev.Kind) {
	case core.DiagSyncLost:
		f.Reason = core.DesyncReason(ev.Reason).String()
	case core.DiagCoilFault, core.DiagArmRejected, core.DiagSchedulingMiss:
		coil := ev.Coil
		f.Coil = &coil
		if ev.Reason != 0 {
			f.Reason = core.DesyncReason(ev.Reason).String()
		}
	}
	return f
}
