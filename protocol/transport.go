package protocol

import "sync/atomic"

// CommandHandler is a function type for handling decoded commands
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware end of the link: it validates incoming frames,
// dispatches their commands in order and acknowledges every frame.
type Transport struct {
	decoder FrameDecoder

	// Expected sequence from the host; echoed back in ACKs and responses
	nextSequence atomic.Uint32

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func() // Host restarted its sequence
	flushCallback func() // Push the ACK out immediately
}

// NewTransport creates a new Transport instance
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{
		output:  output,
		handler: handler,
	}
	t.nextSequence.Store(MessageDest)
	return t
}

// Receive processes every complete frame in input and pops the bytes used
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()
	consumed := 0

	for consumed < len(data) {
		wasLost := !t.decoder.Synchronized()
		frame, n, ok := t.decoder.Next(data[consumed:])
		consumed += n
		if wasLost && t.decoder.Synchronized() {
			t.encodeAckNak()
		}
		if !ok {
			break
		}
		t.handleFrame(frame)
	}

	if consumed > 0 {
		input.Pop(consumed)
	}
}

func (t *Transport) handleFrame(frame Frame) {
	expected := uint8(t.nextSequence.Load())

	// Sequence back at the start means the host reconnected
	if frame.Sequence == MessageDest && expected != MessageDest {
		t.nextSequence.Store(MessageDest)
		expected = MessageDest
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}

	if frame.Sequence == expected {
		t.nextSequence.Store(uint32(NextSequence(frame.Sequence)))
		_ = t.parseFrame(frame.Payload)
	}
	// A mismatched sequence is answered too; the ACK then acts as a NAK
	// carrying the sequence we expect.
	t.encodeAckNak()
}

// parseFrame dispatches each command in the payload
func (t *Transport) parseFrame(payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.decoder.fail()
		}
	}()

	for len(payload) > 0 {
		cmdID, err := DecodeVLQUint(&payload)
		if err != nil {
			return err
		}
		if t.handler != nil {
			if err := t.handler(uint16(cmdID), &payload); err != nil {
				// Handler errors drop the rest of the frame but keep the link
				return err
			}
		}
	}
	return nil
}

// encodeAckNak sends an empty frame carrying the next expected sequence
func (t *Transport) encodeAckNak() {
	EncodeFrame(t.output, uint8(t.nextSequence.Load()), nil)
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// SendCommand sends a message with the given ID; args encodes its fields
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	EncodeFrame(t.output, uint8(t.nextSequence.Load()), func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset forgets the host sequence, e.g. after USB reconnect
func (t *Transport) Reset() {
	t.decoder.Reset()
	t.nextSequence.Store(MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback sets a callback to be called when host reset is detected
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets a callback that flushes output right after an ACK
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}
