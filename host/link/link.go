// Package link is the host side client for an EMU: it fetches the identify
// dictionary and wraps the engine commands in typed calls.
package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pterm/pterm"

	"emucore/host/serial"
	"emucore/protocol"
)

var (
	ErrNoDictionary   = errors.New("dictionary not loaded")
	ErrUnknownMessage = errors.New("message not in dictionary")
	ErrDwellRange     = errors.New("dwell outside the configured limits")
	ErrAdvanceRange   = errors.New("advance outside the coil period")
	ErrBadRequest     = errors.New("firmware rejected the request")
)

// identify chunk size; a chunk has to fit one frame with its header fields
const chunkSize = 40

// State is one engine_state reply with its coil_state messages
type State struct {
	Engine protocol.EngineState
	Coils  []protocol.CoilState
}

// DiagHandler receives diag_event messages as they arrive
type DiagHandler func(ev protocol.DiagEvent)

// Link is a connection to one EMU
type Link struct {
	transport *protocol.HostTransport

	mu             sync.Mutex // One request and its replies at a time
	dictionary     *Dictionary
	dictionaryData []byte

	diagID  atomic.Int32 // -1 until the dictionary names diag_event
	diagMu  sync.RWMutex
	onDiag  DiagHandler
	dropped atomic.Uint32
}

// New wraps an open port
func New(port io.ReadWriteCloser) *Link {
	l := &Link{transport: protocol.NewHostTransport(port)}
	l.diagID.Store(-1)
	l.transport.SetResponseHandler(l.handleResponse)
	return l
}

// Open opens the serial device in cfg and fetches the dictionary
func Open(ctx context.Context, cfg serial.Config) (*Link, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	l := New(port)
	if err := l.RetrieveDictionary(ctx); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the connection
func (l *Link) Close() error {
	return l.transport.Close()
}

// OnDiag sets the diagnostic callback. It runs on the read goroutine and
// must not call back into the Link.
func (l *Link) OnDiag(fn DiagHandler) {
	l.diagMu.Lock()
	l.onDiag = fn
	l.diagMu.Unlock()
}

func (l *Link) handleResponse(cmdID uint16, data *[]byte) {
	if int32(cmdID) != l.diagID.Load() {
		return
	}
	var ev protocol.DiagEvent
	if err := ev.Decode(data); err != nil {
		l.dropped.Add(1)
		return
	}
	l.diagMu.RLock()
	fn := l.onDiag
	l.diagMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// RetrieveDictionary fetches the dictionary chunk by chunk with the
// bootstrap identify command
func (l *Link) RetrieveDictionary(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pterm.Debug.Println("Retrieving dictionary")
	var buf bytes.Buffer
	offset := uint32(0)
	for {
		chunk, err := l.identify(ctx, offset)
		if err != nil {
			return fmt.Errorf("dictionary chunk at offset %d: %w", offset, err)
		}
		buf.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < chunkSize {
			break
		}
	}
	raw, err := inflate(buf.Bytes())
	if err != nil {
		return err
	}
	pterm.Debug.Printfln("Dictionary retrieved: %d bytes, %d inflated", buf.Len(), len(raw))

	dict, err := ParseDictionary(raw)
	if err != nil {
		return err
	}
	l.dictionary = dict
	l.dictionaryData = raw
	if id, err := dict.ResponseID(protocol.MsgDiagEvent); err == nil {
		l.diagID.Store(int32(id))
	}
	return nil
}

func (l *Link) identify(ctx context.Context, offset uint32) ([]byte, error) {
	l.drain()
	err := l.transport.SendCommand(ctx, protocol.IDIdentify, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, chunkSize)
	})
	if err != nil {
		return nil, err
	}

	fields, err := l.expectID(ctx, protocol.IDIdentifyResponse)
	if err != nil {
		return nil, err
	}
	respOffset, err := protocol.DecodeVLQUint(&fields)
	if err != nil {
		return nil, err
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}
	return protocol.DecodeVLQBytes(&fields)
}

// Dictionary returns the parsed dictionary, nil before RetrieveDictionary
func (l *Link) Dictionary() *Dictionary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dictionary
}

// DictionaryData returns the raw dictionary JSON
func (l *Link) DictionaryData() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dictionaryData
}

// DroppedDiagnostics counts diag_event messages that failed to decode
func (l *Link) DroppedDiagnostics() uint32 {
	return l.dropped.Load()
}

// drain discards replies left over from an earlier timed out request
func (l *Link) drain() {
	for {
		if _, ok := l.transport.TryReceive(); !ok {
			return
		}
	}
}

// request sends the named command. The firmware queues its replies ahead
// of the ACK, so they are waiting once this returns.
func (l *Link) request(ctx context.Context, name string, args func(output protocol.OutputBuffer)) error {
	if l.dictionary == nil {
		return ErrNoDictionary
	}
	id, err := l.dictionary.CommandID(name)
	if err != nil {
		return err
	}
	l.drain()
	if err := l.transport.SendCommand(ctx, id, args); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// expect returns the fields of the next reply called name
func (l *Link) expect(ctx context.Context, name string) ([]byte, error) {
	id, err := l.dictionary.ResponseID(name)
	if err != nil {
		return nil, err
	}
	fields, err := l.expectID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return fields, nil
}

// expectID skips unrelated messages until one with id arrives
func (l *Link) expectID(ctx context.Context, id uint16) ([]byte, error) {
	for {
		msg, err := l.transport.ReceiveResponse(ctx)
		if err != nil {
			return nil, err
		}
		got, fields, err := msg.Command()
		if err != nil {
			return nil, err
		}
		if got == id {
			return fields, nil
		}
	}
}

// GetClock reads the firmware clock
func (l *Link) GetClock(ctx context.Context) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.request(ctx, protocol.MsgGetClock, nil); err != nil {
		return 0, err
	}
	fields, err := l.expect(ctx, protocol.MsgClock)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeVLQUint(&fields)
}

// SetIgnition publishes new advance and dwell
func (l *Link) SetIgnition(ctx context.Context, advance int32, dwellUS uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.request(ctx, protocol.MsgSetIgnition, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQInt(output, advance)
		protocol.EncodeVLQUint(output, dwellUS)
	})
	if err != nil {
		return err
	}
	fields, err := l.expect(ctx, protocol.MsgIgnitionStatus)
	if err != nil {
		return err
	}
	status, err := protocol.DecodeVLQUint(&fields)
	if err != nil {
		return err
	}
	switch status {
	case protocol.StatusOK:
		return nil
	case protocol.StatusDwellRange:
		return ErrDwellRange
	case protocol.StatusAdvanceRange:
		return ErrAdvanceRange
	default:
		return ErrBadRequest
	}
}

// QueryState reads the engine and every coil
func (l *Link) QueryState(ctx context.Context) (*State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.request(ctx, protocol.MsgQueryEngineState, nil); err != nil {
		return nil, err
	}
	fields, err := l.expect(ctx, protocol.MsgEngineState)
	if err != nil {
		return nil, err
	}
	state := &State{}
	if err := state.Engine.Decode(&fields); err != nil {
		return nil, err
	}

	state.Coils = make([]protocol.CoilState, state.Engine.NumCoils)
	for i := range state.Coils {
		fields, err := l.expect(ctx, protocol.MsgCoilState)
		if err != nil {
			return nil, err
		}
		if err := state.Coils[i].Decode(&fields); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// DumpTiming reads the firmware's timing ring, oldest first
func (l *Link) DumpTiming(ctx context.Context) ([]protocol.TimingEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.request(ctx, protocol.MsgDumpTiming, nil); err != nil {
		return nil, err
	}
	id, err := l.dictionary.ResponseID(protocol.MsgTimingEvent)
	if err != nil {
		return nil, err
	}

	var events []protocol.TimingEvent
	for {
		msg, ok := l.transport.TryReceive()
		if !ok {
			return events, nil
		}
		got, fields, err := msg.Command()
		if err != nil || got != id {
			continue
		}
		var ev protocol.TimingEvent
		if err := ev.Decode(&fields); err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// EmergencyStop discharges every coil and drops sync
func (l *Link) EmergencyStop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.request(ctx, protocol.MsgEmergencyStop, nil)
}
