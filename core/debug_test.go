package core

import (
	"strings"
	"testing"
)

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	s := NewAsyncSink(2)
	for i := 0; i < 5; i++ {
		s.Notify(DiagEvent{Kind: DiagSchedulingMiss, Clock: uint32(i)})
	}
	if s.Dropped() != 3 {
		t.Errorf("Expected 3 dropped, got %d", s.Dropped())
	}

	s.Close()
	var lines []string
	s.Run(func(line string) { lines = append(lines, line) })
	if len(lines) != 2 {
		t.Fatalf("Expected 2 delivered, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "SCHED_MISS") || !strings.Contains(lines[0], "clock=0") {
		t.Errorf("Unexpected line %q", lines[0])
	}
}

func TestDiagEventString(t *testing.T) {
	ev := DiagEvent{Kind: DiagSyncLost, Reason: DesyncToothOverrun, Clock: 42, Value: 3000}
	want := "[DIAG] SYNC_LOST clock=42 reason=tooth_overrun rpm=3000"
	if got := ev.String(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestTimingRingOrder(t *testing.T) {
	var r TimingRing
	if len(r.Events()) != 0 {
		t.Error("Expected an empty ring")
	}

	for i := uint32(0); i < TimingRingSize+5; i++ {
		r.Record(EvtSpark, 0, i, 0, 0)
	}
	events := r.Events()
	if len(events) != TimingRingSize {
		t.Fatalf("Expected %d events, got %d", TimingRingSize, len(events))
	}
	if events[0].Clock != 5 || events[TimingRingSize-1].Clock != TimingRingSize+4 {
		t.Errorf("Expected oldest 5 and newest %d, got %d and %d",
			TimingRingSize+4, events[0].Clock, events[TimingRingSize-1].Clock)
	}

	r.Clear()
	if len(r.Events()) != 0 {
		t.Error("Expected ring cleared")
	}
}

func TestDumpTimingEvents(t *testing.T) {
	var lines []string
	DumpTimingEvents([]TimingEvent{
		{EventType: EvtMiss, Coil: 1, Clock: 100, Value1: 200, Value2: 0},
	}, func(s string) { lines = append(lines, s) })

	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(lines))
	}
	want := "[TIMING] MISS! coil=1 clock=100 v1=200 v2=0"
	if lines[1] != want {
		t.Errorf("Expected %q, got %q", want, lines[1])
	}
}
