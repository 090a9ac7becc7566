package protocol

import "testing"

func buildFrame(t *testing.T, seq uint8, payload []byte) []byte {
	t.Helper()
	frame, err := AppendFrame(nil, seq, payload)
	if err != nil {
		t.Fatalf("AppendFrame failed: %v", err)
	}
	return frame
}

func TestFrameLayout(t *testing.T) {
	frame := buildFrame(t, MessageDest|3, []byte{0xAA, 0xBB})
	if len(frame) != 7 {
		t.Fatalf("Expected 7 bytes, got %d", len(frame))
	}
	if frame[0] != 7 || frame[1] != 0x13 {
		t.Errorf("Expected header [7 0x13], got %v", frame[:2])
	}
	crc := CRC16(frame[:4])
	if frame[4] != byte(crc>>8) || frame[5] != byte(crc) || frame[6] != MessageValueSync {
		t.Errorf("Bad trailer %v", frame[4:])
	}

	if _, err := AppendFrame(nil, MessageDest, make([]byte, MessagePayloadMax+1)); err != ErrFrameTooLong {
		t.Errorf("Expected ErrFrameTooLong, got %v", err)
	}
}

func TestEncodeFrameMatchesAppendFrame(t *testing.T) {
	out := NewScratchOutput()
	EncodeFrame(out, MessageDest|5, func(o OutputBuffer) {
		EncodeVLQUint(o, 12)
		EncodeVLQInt(o, -7)
	})

	payload := NewScratchOutput()
	EncodeVLQUint(payload, 12)
	EncodeVLQInt(payload, -7)
	want := buildFrame(t, MessageDest|5, payload.Result())

	if string(out.Result()) != string(want) {
		t.Errorf("Expected %v, got %v", want, out.Result())
	}
}

func TestFrameDecoder(t *testing.T) {
	var d FrameDecoder
	stream := append(buildFrame(t, 0x10, []byte{1, 2}), buildFrame(t, 0x11, nil)...)

	frame, n, ok := d.Next(stream)
	if !ok || frame.Sequence != 0x10 || len(frame.Payload) != 2 {
		t.Fatalf("Expected first frame, got ok=%v %+v", ok, frame)
	}
	frame, m, ok := d.Next(stream[n:])
	if !ok || frame.Sequence != 0x11 || len(frame.Payload) != 0 {
		t.Fatalf("Expected empty ACK frame, got ok=%v %+v", ok, frame)
	}
	if n+m != len(stream) {
		t.Errorf("Expected all %d bytes consumed, got %d", len(stream), n+m)
	}
}

func TestFrameDecoderPartial(t *testing.T) {
	var d FrameDecoder
	full := buildFrame(t, 0x10, []byte{9, 9, 9})

	_, n, ok := d.Next(full[:4])
	if ok || n != 0 {
		t.Fatalf("Expected an incomplete frame to wait, got ok=%v consumed=%d", ok, n)
	}
	frame, n, ok := d.Next(full)
	if !ok || n != len(full) || frame.Payload[0] != 9 {
		t.Errorf("Expected the frame once complete, got ok=%v consumed=%d", ok, n)
	}
}

func TestFrameDecoderResync(t *testing.T) {
	var d FrameDecoder
	bad := buildFrame(t, 0x10, []byte{1})
	bad[2] ^= 0xFF // corrupt the payload so the CRC fails
	good := buildFrame(t, 0x11, []byte{2})
	stream := append(append([]byte{0x7E, 0x7E}, bad...), good...)

	frame, _, ok := d.Next(stream)
	if !ok || frame.Sequence != 0x11 || frame.Payload[0] != 2 {
		t.Fatalf("Expected the good frame after the bad one, got ok=%v %+v", ok, frame)
	}
	if d.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", d.Errors)
	}
}

func TestFrameDecoderRejectsDestination(t *testing.T) {
	var d FrameDecoder
	frame := buildFrame(t, 0x20, nil)
	if _, _, ok := d.Next(frame); ok {
		t.Error("Expected a frame with the wrong destination to be rejected")
	}
	if !d.Synchronized() {
		t.Error("Expected the decoder to realign on the trailing sync byte")
	}
	if d.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", d.Errors)
	}
}

func TestNextSequence(t *testing.T) {
	if NextSequence(0x10) != 0x11 {
		t.Errorf("Expected 0x11, got 0x%02x", NextSequence(0x10))
	}
	if NextSequence(0x1F) != 0x10 {
		t.Errorf("Expected wrap to 0x10, got 0x%02x", NextSequence(0x1F))
	}
}
