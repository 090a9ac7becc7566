package core

import (
	"encoding/json"
	"testing"

	"emucore/protocol"
	"emucore/tinycompress"
)

type sentMessage struct {
	id   uint16
	data []byte
}

// commandRig captures everything the command set sends
type commandRig struct {
	e    *Engine
	reg  *CommandRegistry
	ec   *EngineCommands
	sent []sentMessage
}

func newCommandRig(t *testing.T) *commandRig {
	t.Helper()
	e, err := NewEngine(DefaultEngineConfig(), &recordingDriver{}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	r := &commandRig{e: e, reg: NewCommandRegistry()}
	r.ec = RegisterEngineCommands(r.reg, e, func(id uint16, args func(protocol.OutputBuffer)) {
		out := protocol.NewScratchOutput()
		args(out)
		r.sent = append(r.sent, sentMessage{id: id, data: append([]byte(nil), out.Result()...)})
	})
	return r
}

func (r *commandRig) id(t *testing.T, name string) uint16 {
	t.Helper()
	cmd, ok := r.reg.GetCommandByName(name)
	if !ok {
		t.Fatalf("Expected %s to be registered", name)
	}
	return cmd.ID
}

func (r *commandRig) call(t *testing.T, name string, args func(protocol.OutputBuffer)) {
	t.Helper()
	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	data := out.Result()
	if err := r.ec.Dispatch(r.id(t, name), &data); err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
}

func TestBootstrapIDs(t *testing.T) {
	r := newCommandRig(t)
	if id := r.id(t, protocol.MsgIdentifyResponse); id != protocol.IDIdentifyResponse {
		t.Errorf("Expected identify_response ID %d, got %d", protocol.IDIdentifyResponse, id)
	}
	if id := r.id(t, protocol.MsgIdentify); id != protocol.IDIdentify {
		t.Errorf("Expected identify ID %d, got %d", protocol.IDIdentify, id)
	}
}

func TestIdentifyServesDictionary(t *testing.T) {
	r := newCommandRig(t)

	var dict []byte
	for offset := uint32(0); ; {
		r.sent = nil
		r.call(t, protocol.MsgIdentify, func(out protocol.OutputBuffer) {
			protocol.EncodeVLQUint(out, offset)
			protocol.EncodeVLQUint(out, 40)
		})
		if len(r.sent) != 1 || r.sent[0].id != protocol.IDIdentifyResponse {
			t.Fatalf("Expected one identify_response, got %v", r.sent)
		}
		data := r.sent[0].data
		got, _ := protocol.DecodeVLQUint(&data)
		if got != offset {
			t.Fatalf("Expected offset %d echoed, got %d", offset, got)
		}
		chunk, err := protocol.DecodeVLQBytes(&data)
		if err != nil {
			t.Fatalf("Bad chunk: %v", err)
		}
		if len(chunk) == 0 {
			break
		}
		dict = append(dict, chunk...)
		offset += uint32(len(chunk))
	}

	raw, err := tinycompress.Decompress(dict)
	if err != nil {
		t.Fatalf("Dictionary is not zlib wrapped: %v", err)
	}
	var parsed dictJSON
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("Dictionary is not valid JSON: %v", err)
	}
	if parsed.Version != protocol.Version {
		t.Errorf("Expected version %s, got %s", protocol.Version, parsed.Version)
	}
	key := protocol.MsgSetIgnition + " " + protocol.FmtSetIgnition
	if _, ok := parsed.Commands[key]; !ok {
		t.Errorf("Expected %q in commands", key)
	}
	if parsed.Config["COILS"] != "2" {
		t.Errorf("Expected COILS 2, got %q", parsed.Config["COILS"])
	}
}

func TestSetIgnitionStatus(t *testing.T) {
	tests := []struct {
		advance int32
		dwell   uint32
		status  uint32
	}{
		{12, 2800, protocol.StatusOK},
		{12, 100, protocol.StatusDwellRange},
		{400, 2800, protocol.StatusAdvanceRange},
	}

	r := newCommandRig(t)
	statusID := r.id(t, protocol.MsgIgnitionStatus)
	for _, tt := range tests {
		r.sent = nil
		r.call(t, protocol.MsgSetIgnition, func(out protocol.OutputBuffer) {
			protocol.EncodeVLQInt(out, tt.advance)
			protocol.EncodeVLQUint(out, tt.dwell)
		})
		if len(r.sent) != 1 || r.sent[0].id != statusID {
			t.Fatalf("Expected one ignition_status, got %v", r.sent)
		}
		data := r.sent[0].data
		if status, _ := protocol.DecodeVLQUint(&data); status != tt.status {
			t.Errorf("Expected status %d for %d/%d, got %d", tt.status, tt.advance, tt.dwell, status)
		}
	}

	snap := r.e.Snapshot()
	if snap.Advance != 12 || snap.DwellUS != 2800 {
		t.Errorf("Expected only the valid tuning applied, got %d/%d", snap.Advance, snap.DwellUS)
	}
}

func TestSetIgnitionTruncated(t *testing.T) {
	r := newCommandRig(t)
	data := []byte{}
	if err := r.ec.Dispatch(r.id(t, protocol.MsgSetIgnition), &data); err == nil {
		t.Error("Expected an error for missing arguments")
	}
	if len(r.sent) != 1 {
		t.Fatalf("Expected a bad request status, got %d messages", len(r.sent))
	}
	payload := r.sent[0].data
	if status, _ := protocol.DecodeVLQUint(&payload); status != protocol.StatusBadRequest {
		t.Errorf("Expected bad request, got %d", status)
	}
}

func TestQueryEngineState(t *testing.T) {
	r := newCommandRig(t)
	SetTime(5000)
	r.call(t, protocol.MsgQueryEngineState, nil)

	if len(r.sent) != 3 {
		t.Fatalf("Expected engine_state and two coil_state, got %d messages", len(r.sent))
	}
	if r.sent[0].id != r.id(t, protocol.MsgEngineState) {
		t.Errorf("Expected engine_state first, got ID %d", r.sent[0].id)
	}

	var state protocol.EngineState
	data := r.sent[0].data
	if err := state.Decode(&data); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if state.Clock != 5000 || state.NumCoils != 2 || state.Advance != 10 || state.DwellUS != 3000 {
		t.Errorf("Unexpected engine state %+v", state)
	}
	if state.EngineSynced() {
		t.Error("Expected an unsynced engine")
	}

	for i := 0; i < 2; i++ {
		var coil protocol.CoilState
		data := r.sent[1+i].data
		if err := coil.Decode(&data); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if coil.Coil != uint8(i) || coil.State != uint8(CoilPending) {
			t.Errorf("Unexpected coil state %+v", coil)
		}
	}
}

func TestEngineStateFlags(t *testing.T) {
	snap := Snapshot{}
	snap.Crank.WheelSynced = true
	snap.Crank.EngineSynced = true
	msg := EngineStateMessage(&snap, 0)
	if msg.Flags != protocol.FlagWheelSynced|protocol.FlagEngineSynced {
		t.Errorf("Expected wheel and engine flags, got %#x", msg.Flags)
	}
}

func TestDiagEventForwarded(t *testing.T) {
	r := newCommandRig(t)
	r.ec.SendDiagEvent(DiagEvent{Kind: DiagCoilFault, Reason: DesyncShortGap, Coil: 1, Clock: 77})

	if len(r.sent) != 1 || r.sent[0].id != r.id(t, protocol.MsgDiagEvent) {
		t.Fatalf("Expected one diag_event, got %v", r.sent)
	}
	var ev protocol.DiagEvent
	data := r.sent[0].data
	if err := ev.Decode(&data); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ev.Kind != uint8(DiagCoilFault) || ev.Reason != uint8(DesyncShortGap) || ev.Coil != 1 || ev.Clock != 77 {
		t.Errorf("Unexpected diag event %+v", ev)
	}
}

func TestEmergencyStop(t *testing.T) {
	r := newCommandRig(t)
	r.call(t, protocol.MsgEmergencyStop, nil)
	snap := r.e.Snapshot()
	if snap.LastDesync != DesyncSignalLoss {
		t.Errorf("Expected emergency stop to desync, got %v", snap.LastDesync)
	}
}
