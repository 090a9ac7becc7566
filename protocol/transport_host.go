//go:build !tinygo

package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var ErrTransportClosed = errors.New("transport closed")

// ResponseHandler is called from the read loop for every response message
type ResponseHandler func(cmdID uint16, data *[]byte)

// Message is one response frame received from the firmware
type Message struct {
	Sequence uint8
	Payload  []byte // Starts with the message ID
}

// Command splits the payload into message ID and fields
func (m *Message) Command() (uint16, []byte, error) {
	data := m.Payload
	id, err := DecodeVLQUint(&data)
	if err != nil {
		return 0, nil, err
	}
	return uint16(id), data, nil
}

// HostTransport is the host end of the link. SendCommand writes one frame
// and waits for its ACK; responses arrive on a channel and, optionally, a
// callback.
type HostTransport struct {
	port io.ReadWriteCloser

	currentSeq atomic.Uint32 // 0x10-0x1F

	decoder FrameDecoder
	input   *FifoBuffer

	acks      chan uint8
	responses chan *Message

	handlerMu sync.RWMutex
	handler   ResponseHandler

	sendMu sync.Mutex // One unacknowledged frame at a time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHostTransport creates a transport and starts its read loop
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:      port,
		input:     NewFifoBuffer(1024),
		acks:      make(chan uint8, 4),
		responses: make(chan *Message, 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.currentSeq.Store(MessageDest)

	go t.readLoop()
	return t
}

// SendCommand sends a command and waits for the firmware to acknowledge it
func (t *HostTransport) SendCommand(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}

	seq := uint8(t.currentSeq.Load())
	msg, err := AppendFrame(nil, seq, scratch.Result())
	if err != nil {
		return fmt.Errorf("command %d: %w", cmdID, err)
	}

	// Drop ACKs left over from an earlier timeout
	for len(t.acks) > 0 {
		<-t.acks
	}

	if n, err := t.port.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	} else if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}

	select {
	case ack := <-t.acks:
		// The ACK carries the sequence the firmware expects next
		t.currentSeq.Store(uint32(ack))
		if want := NextSequence(seq); ack != want {
			return fmt.Errorf("sequence mismatch: expected 0x%02x, got 0x%02x", want, ack)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for ACK: %w", ctx.Err())
	case <-t.stop:
		return ErrTransportClosed
	}
}

// ReceiveResponse waits for the next response message
func (t *HostTransport) ReceiveResponse(ctx context.Context) (*Message, error) {
	select {
	case resp := <-t.responses:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for response: %w", ctx.Err())
	case <-t.stop:
		return nil, ErrTransportClosed
	}
}

// TryReceive returns a queued response without waiting. Responses to a
// command are queued before its ACK, so after SendCommand returns they are
// all available here.
func (t *HostTransport) TryReceive() (*Message, bool) {
	select {
	case resp := <-t.responses:
		return resp, true
	default:
		return nil, false
	}
}

// SetResponseHandler sets a callback for every response
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.handler = handler
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	buffer := make([]byte, 256)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			t.input.Write(buffer[:n])
			t.processMessages()
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// processMessages pulls every complete frame out of the input buffer
func (t *HostTransport) processMessages() {
	data := t.input.Data()
	consumed := 0

	for consumed < len(data) {
		frame, n, ok := t.decoder.Next(data[consumed:])
		consumed += n
		if !ok {
			break
		}
		t.dispatch(frame)
	}
	t.input.Pop(consumed)
}

func (t *HostTransport) dispatch(frame Frame) {
	if len(frame.Payload) == 0 {
		select {
		case t.acks <- frame.Sequence:
		default:
		}
		return
	}

	// The frame aliases the input buffer
	msg := &Message{
		Sequence: frame.Sequence,
		Payload:  append([]byte(nil), frame.Payload...),
	}

	t.handlerMu.RLock()
	handler := t.handler
	t.handlerMu.RUnlock()
	if handler != nil {
		if id, fields, err := msg.Command(); err == nil {
			handler(id, &fields)
		}
	}

	select {
	case t.responses <- msg:
	default:
		// Full: drop the oldest response
		select {
		case <-t.responses:
		default:
		}
		t.responses <- msg
	}
}

// Close stops the read loop and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}

// Reset restarts the sequence and drops queued ACKs and responses
func (t *HostTransport) Reset() {
	t.currentSeq.Store(MessageDest)
	for len(t.acks) > 0 {
		<-t.acks
	}
	for len(t.responses) > 0 {
		<-t.responses
	}
}

// GetCurrentSequence returns the current sequence number (for debugging)
func (t *HostTransport) GetCurrentSequence() uint8 {
	return uint8(t.currentSeq.Load())
}
