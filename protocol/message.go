package protocol

// Message names and field formats. The firmware registers them in this
// order; hosts look IDs up in the identify dictionary by name.
const (
	MsgIdentifyResponse = "identify_response"
	MsgIdentify         = "identify"
	MsgGetClock         = "get_clock"
	MsgClock            = "clock"
	MsgSetIgnition      = "set_ignition"
	MsgIgnitionStatus   = "ignition_status"
	MsgQueryEngineState = "query_engine_state"
	MsgEngineState      = "engine_state"
	MsgCoilState        = "coil_state"
	MsgDiagEvent        = "diag_event"
	MsgDumpTiming       = "dump_timing"
	MsgTimingEvent      = "timing_event"
	MsgEmergencyStop    = "emergency_stop"

	FmtIdentifyResponse = "offset=%u data=%*s"
	FmtIdentify         = "offset=%u count=%c"
	FmtClock            = "clock=%u"
	FmtSetIgnition      = "advance=%i dwell=%u"
	FmtIgnitionStatus   = "status=%c"
	FmtEngineState      = "clock=%u angle=%u rpm=%u tpd=%u flags=%c tdc=%c advance=%i dwell=%u desyncs=%u reason=%c coils=%c"
	FmtCoilState        = "coil=%c state=%c cylinder=%c spark_angle=%u sparks=%u misses=%u faults=%u jitter=%i"
	FmtDiagEvent        = "kind=%c reason=%c coil=%c clock=%u value=%u"
	FmtTimingEvent      = "type=%c coil=%c clock=%u v1=%u v2=%u"
)

// Bootstrap IDs, fixed so a host can fetch the dictionary before it knows
// anything else
const (
	IDIdentifyResponse = 0
	IDIdentify         = 1
)

// engine_state flags
const (
	FlagWheelSynced    = 1 << 0
	FlagCylinderSynced = 1 << 1
	FlagEngineSynced   = 1 << 2
)

// ignition_status codes
const (
	StatusOK           = 0
	StatusDwellRange   = 1
	StatusAdvanceRange = 2
	StatusBadRequest   = 3
)

// fieldReader decodes consecutive VLQ fields, keeping the first error
type fieldReader struct {
	data *[]byte
	err  error
}

func (r *fieldReader) uint() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := DecodeVLQUint(r.data)
	r.err = err
	return v
}

func (r *fieldReader) int() int32 {
	if r.err != nil {
		return 0
	}
	v, err := DecodeVLQInt(r.data)
	r.err = err
	return v
}

// EngineState is the engine_state message: the telemetry snapshot
type EngineState struct {
	Clock         uint32
	Angle         uint32
	RPM           uint32
	TimePerDegree uint32
	Flags         uint8
	TDCCylinder   uint8
	Advance       int32
	DwellUS       uint32
	Desyncs       uint32
	LastDesync    uint8
	NumCoils      uint8
}

// EngineSynced reports the engine sync flag
func (m *EngineState) EngineSynced() bool {
	return m.Flags&FlagEngineSynced != 0
}

// Encode writes the message fields
func (m *EngineState) Encode(output OutputBuffer) {
	EncodeVLQUint(output, m.Clock)
	EncodeVLQUint(output, m.Angle)
	EncodeVLQUint(output, m.RPM)
	EncodeVLQUint(output, m.TimePerDegree)
	EncodeVLQUint(output, uint32(m.Flags))
	EncodeVLQUint(output, uint32(m.TDCCylinder))
	EncodeVLQInt(output, m.Advance)
	EncodeVLQUint(output, m.DwellUS)
	EncodeVLQUint(output, m.Desyncs)
	EncodeVLQUint(output, uint32(m.LastDesync))
	EncodeVLQUint(output, uint32(m.NumCoils))
}

// Decode reads the message fields
func (m *EngineState) Decode(data *[]byte) error {
	r := fieldReader{data: data}
	m.Clock = r.uint()
	m.Angle = r.uint()
	m.RPM = r.uint()
	m.TimePerDegree = r.uint()
	m.Flags = uint8(r.uint())
	m.TDCCylinder = uint8(r.uint())
	m.Advance = r.int()
	m.DwellUS = r.uint()
	m.Desyncs = r.uint()
	m.LastDesync = uint8(r.uint())
	m.NumCoils = uint8(r.uint())
	return r.err
}

// CoilState is the coil_state message, one per coil after engine_state
type CoilState struct {
	Coil       uint8
	State      uint8
	Cylinder   uint8
	SparkAngle uint32
	Sparks     uint32
	Misses     uint32
	Faults     uint32
	Jitter     int32
}

func (m *CoilState) Encode(output OutputBuffer) {
	EncodeVLQUint(output, uint32(m.Coil))
	EncodeVLQUint(output, uint32(m.State))
	EncodeVLQUint(output, uint32(m.Cylinder))
	EncodeVLQUint(output, m.SparkAngle)
	EncodeVLQUint(output, m.Sparks)
	EncodeVLQUint(output, m.Misses)
	EncodeVLQUint(output, m.Faults)
	EncodeVLQInt(output, m.Jitter)
}

func (m *CoilState) Decode(data *[]byte) error {
	r := fieldReader{data: data}
	m.Coil = uint8(r.uint())
	m.State = uint8(r.uint())
	m.Cylinder = uint8(r.uint())
	m.SparkAngle = r.uint()
	m.Sparks = r.uint()
	m.Misses = r.uint()
	m.Faults = r.uint()
	m.Jitter = r.int()
	return r.err
}

// DiagEvent is the diag_event message
type DiagEvent struct {
	Kind   uint8
	Reason uint8
	Coil   uint8
	Clock  uint32
	Value  uint32
}

func (m *DiagEvent) Encode(output OutputBuffer) {
	EncodeVLQUint(output, uint32(m.Kind))
	EncodeVLQUint(output, uint32(m.Reason))
	EncodeVLQUint(output, uint32(m.Coil))
	EncodeVLQUint(output, m.Clock)
	EncodeVLQUint(output, m.Value)
}

func (m *DiagEvent) Decode(data *[]byte) error {
	r := fieldReader{data: data}
	m.Kind = uint8(r.uint())
	m.Reason = uint8(r.uint())
	m.Coil = uint8(r.uint())
	m.Clock = r.uint()
	m.Value = r.uint()
	return r.err
}

// TimingEvent is the timing_event message, one per timing ring entry
type TimingEvent struct {
	Type   uint8
	Coil   uint8
	Clock  uint32
	Value1 uint32
	Value2 uint32
}

func (m *TimingEvent) Encode(output OutputBuffer) {
	EncodeVLQUint(output, uint32(m.Type))
	EncodeVLQUint(output, uint32(m.Coil))
	EncodeVLQUint(output, m.Clock)
	EncodeVLQUint(output, m.Value1)
	EncodeVLQUint(output, m.Value2)
}

func (m *TimingEvent) Decode(data *[]byte) error {
	r := fieldReader{data: data}
	m.Type = uint8(r.uint())
	m.Coil = uint8(r.uint())
	m.Clock = r.uint()
	m.Value1 = r.uint()
	m.Value2 = r.uint()
	return r.err
}
