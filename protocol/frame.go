package protocol

import (
	"bytes"
	"errors"
)

var ErrFrameTooLong = errors.New("frame exceeds maximum message length")

// Frame is one validated message block
type Frame struct {
	Sequence uint8
	Payload  []byte // Commands; empty for an ACK/NAK
}

// FrameDecoder finds frames in a byte stream. After a corrupt frame it
// discards input up to the next sync byte.
type FrameDecoder struct {
	lost   bool
	Errors uint32 // Frames rejected for length, destination or CRC
}

// Synchronized reports whether the decoder is aligned on frame boundaries
func (d *FrameDecoder) Synchronized() bool {
	return !d.lost
}

// Reset realigns the decoder on the next byte
func (d *FrameDecoder) Reset() {
	d.lost = false
}

func (d *FrameDecoder) fail() {
	d.lost = true
	d.Errors++
}

// Next scans data for the next complete frame. It returns how many bytes
// were consumed; when ok is false the rest of data is an incomplete frame
// to be retried with more input. The payload aliases data.
func (d *FrameDecoder) Next(data []byte) (frame Frame, consumed int, ok bool) {
	pos := 0
	for pos < len(data) {
		rest := data[pos:]

		if d.lost {
			i := bytes.IndexByte(rest, MessageValueSync)
			if i < 0 {
				return Frame{}, len(data), false
			}
			pos += i + 1
			d.lost = false
			continue
		}

		// Skip leading sync bytes
		if rest[0] == MessageValueSync {
			pos++
			continue
		}
		if len(rest) < MessageLengthMin {
			break
		}

		n := int(rest[MessagePositionLen])
		if n < MessageLengthMin || n > MessageLengthMax {
			d.fail()
			continue
		}
		seq := rest[MessagePositionSeq]
		if seq&^MessageSeqMask != MessageDest {
			d.fail()
			continue
		}
		if len(rest) < n {
			break
		}
		if rest[n-MessageTrailerSync] != MessageValueSync {
			d.fail()
			continue
		}
		crc := uint16(rest[n-MessageTrailerCRC])<<8 | uint16(rest[n-MessageTrailerCRC+1])
		if crc != CRC16(rest[:n-MessageTrailerSize]) {
			d.fail()
			continue
		}

		frame = Frame{
			Sequence: seq,
			Payload:  rest[MessageHeaderSize : n-MessageTrailerSize],
		}
		return frame, pos + n, true
	}
	return Frame{}, pos, false
}

// AppendFrame appends a complete frame carrying payload to dst
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	n := len(payload) + MessageLengthMin
	if n > MessageLengthMax {
		return dst, ErrFrameTooLong
	}
	start := len(dst)
	dst = append(dst, byte(n), seq)
	dst = append(dst, payload...)
	return appendCRC(dst, dst[start:]), nil
}

// EncodeFrame writes a frame into output, letting fill produce the payload
// in place
func EncodeFrame(output OutputBuffer, seq uint8, fill func(output OutputBuffer)) {
	cursor := output.CurPosition()
	output.Output([]byte{0, seq})
	if fill != nil {
		fill(output)
	}

	n := len(output.DataSince(cursor)) + MessageTrailerSize
	output.Update(cursor, uint8(n))

	crc := CRC16(output.DataSince(cursor))
	output.Output([]byte{byte(crc >> 8), byte(crc), MessageValueSync})
}
