//go:build js && wasm

// Command wasm exposes the EMU frame codec to a browser dashboard that talks
// to the firmware over Web Serial.
package main

import (
	"encoding/hex"
	"syscall/js"

	"emucore/protocol"
)

// decoder keeps partial frames between decodeFrames calls
var decoder protocol.FrameDecoder
var pending []byte

func main() {
	js.Global().Set("emuWasm", js.ValueOf(map[string]interface{}{
		"encodeVLQ":         js.FuncOf(encodeVLQWrapper),
		"decodeVLQ":         js.FuncOf(decodeVLQWrapper),
		"crc16":             js.FuncOf(crc16Wrapper),
		"encodeFrame":       js.FuncOf(encodeFrameWrapper),
		"decodeFrames":      js.FuncOf(decodeFramesWrapper),
		"decodeEngineState": js.FuncOf(decodeEngineStateWrapper),
		"decodeCoilState":   js.FuncOf(decodeCoilStateWrapper),
		"decodeDiagEvent":   js.FuncOf(decodeDiagEventWrapper),
		"reset":             js.FuncOf(resetWrapper),
		"version":           protocol.Version,
	}))

	select {}
}

func hexArg(args []js.Value, i int) ([]byte, string) {
	if len(args) <= i {
		return nil, "missing argument"
	}
	data, err := hex.DecodeString(args[i].String())
	if err != nil {
		return nil, "invalid hex string: " + err.Error()
	}
	return data, ""
}

func errorResult(msg string) js.Value {
	return js.ValueOf(map[string]interface{}{"error": msg})
}

// encodeVLQWrapper encodes a signed integer
// Args: value (int32)
// Returns: hex string
func encodeVLQWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf("error: missing value argument")
	}
	output := protocol.NewScratchOutput()
	protocol.EncodeVLQInt(output, int32(args[0].Int()))
	return js.ValueOf(hex.EncodeToString(output.Result()))
}

// decodeVLQWrapper decodes the first VLQ of a hex string
// Returns: {value, consumed, error}
func decodeVLQWrapper(this js.Value, args []js.Value) interface{} {
	data, errMsg := hexArg(args, 0)
	if errMsg != "" {
		return errorResult(errMsg)
	}
	rest := data
	value, err := protocol.DecodeVLQInt(&rest)
	if err != nil {
		return errorResult(err.Error())
	}
	return js.ValueOf(map[string]interface{}{
		"value":    int(value),
		"consumed": len(data) - len(rest),
	})
}

func crc16Wrapper(this js.Value, args []js.Value) interface{} {
	data, errMsg := hexArg(args, 0)
	if errMsg != "" {
		return js.ValueOf(0)
	}
	return js.ValueOf(int(protocol.CRC16(data)))
}

// encodeFrameWrapper builds a command frame
// Args: seq (number), cmdID (number), values (array of numbers)
// Returns: hex string of the frame
func encodeFrameWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return js.ValueOf("error: missing arguments")
	}
	seq := protocol.MessageDest | uint8(args[0].Int())&protocol.MessageSeqMask
	payload := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(payload, uint32(args[1].Int()))
	if len(args) > 2 {
		values := args[2]
		for i := 0; i < values.Length(); i++ {
			protocol.EncodeVLQInt(payload, int32(values.Index(i).Int()))
		}
	}

	frame, err := protocol.AppendFrame(nil, seq, payload.Result())
	if err != nil {
		return js.ValueOf("error: " + err.Error())
	}
	return js.ValueOf(hex.EncodeToString(frame))
}

// decodeFramesWrapper feeds received bytes to the frame decoder. Incomplete
// trailing bytes are kept for the next call.
// Returns: {frames: [{sequence, cmdID, payload}], errors}
func decodeFramesWrapper(this js.Value, args []js.Value) interface{} {
	data, errMsg := hexArg(args, 0)
	if errMsg != "" {
		return errorResult(errMsg)
	}
	pending = append(pending, data...)

	var frames []interface{}
	for len(pending) > 0 {
		frame, consumed, ok := decoder.Next(pending)
		if !ok {
			pending = pending[consumed:]
			break
		}
		f := map[string]interface{}{
			"sequence": int(frame.Sequence & protocol.MessageSeqMask),
			"payload":  hex.EncodeToString(frame.Payload),
		}
		if len(frame.Payload) > 0 {
			body := frame.Payload
			if id, err := protocol.DecodeVLQUint(&body); err == nil {
				f["cmdID"] = int(id)
				f["args"] = hex.EncodeToString(body)
			}
		}
		frames = append(frames, f)
		pending = pending[consumed:]
	}
	pending = append([]byte(nil), pending...)

	return js.ValueOf(map[string]interface{}{
		"frames": frames,
		"errors": int(decoder.Errors),
	})
}

// decodeEngineStateWrapper decodes engine_state arguments (after the ID)
func decodeEngineStateWrapper(this js.Value, args []js.Value) interface{} {
	data, errMsg := hexArg(args, 0)
	if errMsg != "" {
		return errorResult(errMsg)
	}
	var m protocol.EngineState
	if err := m.Decode(&data); err != nil {
		return errorResult(err.Error())
	}
	return js.ValueOf(map[string]interface{}{
		"clock":          int(m.Clock),
		"angle":          int(m.Angle),
		"rpm":            int(m.RPM),
		"timePerDegree":  int(m.TimePerDegree),
		"wheelSynced":    m.Flags&protocol.FlagWheelSynced != 0,
		"cylinderSynced": m.Flags&protocol.FlagCylinderSynced != 0,
		"engineSynced":   m.EngineSynced(),
		"tdcCylinder":    int(m.TDCCylinder),
		"advance":        int(m.Advance),
		"dwellUS":        int(m.DwellUS),
		"desyncs":        int(m.Desyncs),
		"lastDesync":     int(m.LastDesync),
		"coils":          int(m.NumCoils),
	})
}

func decodeCoilStateWrapper(this js.Value, args []js.Value) interface{} {
	data, errMsg := hexArg(args, 0)
	if errMsg != "" {
		return errorResult(errMsg)
	}
	var m protocol.CoilState
	if err := m.Decode(&data); err != nil {
		return errorResult(err.Error())
	}
	return js.ValueOf(map[string]interface{}{
		"coil":       int(m.Coil),
		"state":      int(m.State),
		"cylinder":   int(m.Cylinder),
		"sparkAngle": int(m.SparkAngle),
		"sparks":     int(m.Sparks),
		"misses":     int(m.Misses),
		"faults":     int(m.Faults),
		"jitter":     int(m.Jitter),
	})
}

func decodeDiagEventWrapper(this js.Value, args []js.Value) interface{} {
	data, errMsg := hexArg(args, 0)
	if errMsg != "" {
		return errorResult(errMsg)
	}
	var m protocol.DiagEvent
	if err := m.Decode(&data); err != nil {
		return errorResult(err.Error())
	}
	return js.ValueOf(map[string]interface{}{
		"kind":   int(m.Kind),
		"reason": int(m.Reason),
		"coil":   int(m.Coil),
		"clock":  int(m.Clock),
		"value":  int(m.Value),
	})
}

// resetWrapper drops buffered input after the port is reopened
func resetWrapper(this js.Value, args []js.Value) interface{} {
	decoder.Reset()
	pending = nil
	return js.Undefined()
}
