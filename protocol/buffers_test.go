package protocol

import (
	"bytes"
	"testing"
)

func TestSliceInputBufferPop(t *testing.T) {
	buf := NewSliceInputBuffer([]byte{0x11, 0x22, 0x33})

	buf.Pop(1)
	if buf.Available() != 2 || buf.Data()[0] != 0x22 {
		t.Errorf("Expected [22 33] after Pop(1), got %x", buf.Data())
	}
	buf.Pop(10)
	if buf.Available() != 0 {
		t.Errorf("Expected an oversized Pop to empty the buffer, %d left", buf.Available())
	}
}

func TestScratchOutputPatchesLength(t *testing.T) {
	out := NewScratchOutput()
	out.Output([]byte{0, 0x10})
	mark := out.CurPosition()
	out.Output([]byte{0xAA, 0xBB})

	if got := out.DataSince(mark); !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Errorf("Expected DataSince to return [aa bb], got %x", got)
	}

	out.Update(0, 4)
	if out.Result()[0] != 4 {
		t.Errorf("Expected the patched length 4, got %d", out.Result()[0])
	}
	// Past the write position is ignored
	out.Update(10, 1)
	if out.CurPosition() != 4 {
		t.Errorf("Expected position 4, got %d", out.CurPosition())
	}

	out.Reset()
	if len(out.Result()) != 0 {
		t.Errorf("Expected an empty result after Reset, got %x", out.Result())
	}
}

func TestScratchOutputTruncates(t *testing.T) {
	out := NewScratchOutput()
	out.Output(make([]byte, MessageMax+10))
	if out.CurPosition() != MessageMax {
		t.Errorf("Expected writes to stop at %d, got %d", MessageMax, out.CurPosition())
	}
}

func TestFifoBufferReadWrite(t *testing.T) {
	fifo := NewFifoBuffer(10)
	if !fifo.IsEmpty() || fifo.Free() != 10 {
		t.Fatalf("Expected an empty FIFO with 10 free, got %d free", fifo.Free())
	}

	if n := fifo.Write([]byte{1, 2, 3, 4, 5}); n != 5 {
		t.Errorf("Expected to write 5 bytes, wrote %d", n)
	}
	got := make([]byte, 3)
	if n := fifo.Read(got); n != 3 || !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("Expected to read [1 2 3], got %v (%d)", got, n)
	}
	if fifo.Available() != 2 {
		t.Errorf("Expected 2 bytes left, got %d", fifo.Available())
	}

	fifo.Reset()
	if n := fifo.Write(make([]byte, 12)); n != 10 {
		t.Errorf("Expected an oversized write to stop at 10, wrote %d", n)
	}
	if fifo.Free() != 0 {
		t.Errorf("Expected a full FIFO, %d free", fifo.Free())
	}
}

func TestFifoBufferCompaction(t *testing.T) {
	fifo := NewFifoBuffer(5)
	fifo.Write([]byte{1, 2, 3, 4})
	fifo.Pop(2)

	// No room at the tail: unread bytes move to the front
	if n := fifo.Write([]byte{5, 6}); n != 2 {
		t.Errorf("Expected to write 2 bytes, wrote %d", n)
	}
	if !bytes.Equal(fifo.Data(), []byte{3, 4, 5, 6}) {
		t.Errorf("Expected [3 4 5 6], got %v", fifo.Data())
	}
}

// A frame arriving in USB packets of arbitrary size parses from the FIFO
// once its last byte is in
func TestFifoBufferAssemblesFrame(t *testing.T) {
	frame, err := AppendFrame(nil, MessageDest|3, []byte{0x05, 0x81, 0x00})
	if err != nil {
		t.Fatalf("AppendFrame failed: %v", err)
	}

	fifo := NewFifoBuffer(64)
	var dec FrameDecoder
	for i, b := range frame {
		fifo.Write([]byte{b})
		got, consumed, ok := dec.Next(fifo.Data())
		fifo.Pop(consumed)
		if i < len(frame)-1 {
			if ok {
				t.Fatalf("Expected no frame after %d bytes", i+1)
			}
			continue
		}
		if !ok {
			t.Fatal("Expected the frame once complete")
		}
		if got.Sequence != MessageDest|3 || !bytes.Equal(got.Payload, []byte{0x05, 0x81, 0x00}) {
			t.Errorf("Unexpected frame seq %#x payload %x", got.Sequence, got.Payload)
		}
	}
	if !fifo.IsEmpty() {
		t.Errorf("Expected the FIFO drained, %d bytes left", fifo.Available())
	}
}
