package core

import "emucore/protocol"

// ResponseSender transmits a firmware message by ID
type ResponseSender func(msgID uint16, args func(output protocol.OutputBuffer))

// EngineCommands serves the host protocol for one engine
type EngineCommands struct {
	engine   *Engine
	registry *CommandRegistry
	dict     *Dictionary
	send     ResponseSender

	idIdentifyResponse uint16
	idClock            uint16
	idIgnitionStatus   uint16
	idEngineState      uint16
	idCoilState        uint16
	idDiagEvent        uint16
	idTimingEvent      uint16
}

// RegisterEngineCommands registers the engine command set on registry.
// Registration order fixes the message IDs; identify_response and identify
// come first so they keep their bootstrap IDs.
func RegisterEngineCommands(registry *CommandRegistry, e *Engine, send ResponseSender) *EngineCommands {
	ec := &EngineCommands{
		engine:   e,
		registry: registry,
		dict:     NewDictionary(registry, protocol.Version),
		send:     send,
	}

	ec.idIdentifyResponse = registry.RegisterResponse(protocol.MsgIdentifyResponse, protocol.FmtIdentifyResponse)
	registry.Register(protocol.MsgIdentify, protocol.FmtIdentify, ec.handleIdentify)

	registry.Register(protocol.MsgGetClock, "", ec.handleGetClock)
	ec.idClock = registry.RegisterResponse(protocol.MsgClock, protocol.FmtClock)

	registry.Register(protocol.MsgSetIgnition, protocol.FmtSetIgnition, ec.handleSetIgnition)
	ec.idIgnitionStatus = registry.RegisterResponse(protocol.MsgIgnitionStatus, protocol.FmtIgnitionStatus)

	registry.Register(protocol.MsgQueryEngineState, "", ec.handleQueryEngineState)
	ec.idEngineState = registry.RegisterResponse(protocol.MsgEngineState, protocol.FmtEngineState)
	ec.idCoilState = registry.RegisterResponse(protocol.MsgCoilState, protocol.FmtCoilState)

	registry.Register(protocol.MsgDumpTiming, "", ec.handleDumpTiming)
	ec.idTimingEvent = registry.RegisterResponse(protocol.MsgTimingEvent, protocol.FmtTimingEvent)

	ec.idDiagEvent = registry.RegisterResponse(protocol.MsgDiagEvent, protocol.FmtDiagEvent)
	registry.Register(protocol.MsgEmergencyStop, "", ec.handleEmergencyStop)

	cfg := e.Config()
	ec.dict.AddEngineConstants(&cfg)
	return ec
}

// Dictionary returns the identify dictionary
func (ec *EngineCommands) Dictionary() *Dictionary {
	return ec.dict
}

// Dispatch runs a decoded command; use it as the transport's CommandHandler
func (ec *EngineCommands) Dispatch(cmdID uint16, data *[]byte) error {
	return ec.registry.Dispatch(cmdID, data)
}

// handleIdentify returns one chunk of the dictionary
// Format: identify offset=%u count=%c
func (ec *EngineCommands) handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := ec.dict.GetChunk(offset, uint8(count))
	ec.send(ec.idIdentifyResponse, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func (ec *EngineCommands) handleGetClock(data *[]byte) error {
	clock := GetTime()
	ec.send(ec.idClock, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

// handleSetIgnition publishes new tuning
// Format: set_ignition advance=%i dwell=%u
func (ec *EngineCommands) handleSetIgnition(data *[]byte) error {
	advance, err := protocol.DecodeVLQInt(data)
	if err != nil {
		ec.sendStatus(protocol.StatusBadRequest)
		return err
	}
	dwell, err := protocol.DecodeVLQUint(data)
	if err != nil {
		ec.sendStatus(protocol.StatusBadRequest)
		return err
	}

	status := uint32(protocol.StatusOK)
	switch err := ec.engine.SetTuning(advance, dwell); err {
	case nil:
	case ErrDwellRange:
		status = protocol.StatusDwellRange
	case ErrAdvanceRange:
		status = protocol.StatusAdvanceRange
	default:
		status = protocol.StatusBadRequest
	}
	ec.sendStatus(status)
	return nil
}

func (ec *EngineCommands) sendStatus(status uint32) {
	ec.send(ec.idIgnitionStatus, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, status)
	})
}

func (ec *EngineCommands) handleQueryEngineState(data *[]byte) error {
	ec.SendEngineState(GetTime())
	return nil
}

// SendEngineState sends engine_state followed by one coil_state per coil
func (ec *EngineCommands) SendEngineState(clock uint32) {
	snap := ec.engine.Snapshot()
	msg := EngineStateMessage(&snap, clock)
	ec.send(ec.idEngineState, msg.Encode)
	for i := uint8(0); i < snap.NumCoils; i++ {
		coil := CoilStateMessage(&snap, i)
		ec.send(ec.idCoilState, coil.Encode)
	}
}

func (ec *EngineCommands) handleDumpTiming(data *[]byte) error {
	for _, evt := range ec.engine.TimingEvents() {
		msg := protocol.TimingEvent{
			Type:   evt.EventType,
			Coil:   evt.Coil,
			Clock:  evt.Clock,
			Value1: evt.Value1,
			Value2: evt.Value2,
		}
		ec.send(ec.idTimingEvent, msg.Encode)
	}
	return nil
}

func (ec *EngineCommands) handleEmergencyStop(data *[]byte) error {
	ec.engine.Shutdown(GetTime())
	return nil
}

// SendDiagEvent forwards a diagnostic notification to the host
func (ec *EngineCommands) SendDiagEvent(ev DiagEvent) {
	msg := protocol.DiagEvent{
		Kind:   uint8(ev.Kind),
		Reason: uint8(ev.Reason),
		Coil:   ev.Coil,
		Clock:  ev.Clock,
		Value:  ev.Value,
	}
	ec.send(ec.idDiagEvent, msg.Encode)
}

// EngineStateMessage converts a snapshot to its wire form
func EngineStateMessage(snap *Snapshot, clock uint32) protocol.EngineState {
	c := &snap.Crank
	var flags uint8
	if c.WheelSynced {
		flags |= protocol.FlagWheelSynced
	}
	if c.CylinderSynced {
		flags |= protocol.FlagCylinderSynced
	}
	if c.EngineSynced {
		flags |= protocol.FlagEngineSynced
	}
	return protocol.EngineState{
		Clock:         clock,
		Angle:         c.Angle,
		RPM:           c.RPM,
		TimePerDegree: c.TimePerDegree,
		Flags:         flags,
		TDCCylinder:   c.TDCCylinder,
		Advance:       snap.Advance,
		DwellUS:       snap.DwellUS,
		Desyncs:       snap.Desyncs,
		LastDesync:    uint8(snap.LastDesync),
		NumCoils:      snap.NumCoils,
	}
}

// CoilStateMessage converts coil i of a snapshot to its wire form
func CoilStateMessage(snap *Snapshot, i uint8) protocol.CoilState {
	cs := &snap.Coils[i]
	return protocol.CoilState{
		Coil:       i,
		State:      uint8(cs.State),
		Cylinder:   cs.Cylinder,
		SparkAngle: cs.SparkAngle,
		Sparks:     cs.Sparks,
		Misses:     cs.Misses,
		Faults:     cs.Faults,
		Jitter:     cs.Jitter,
	}
}
