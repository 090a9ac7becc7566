package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"emucore/core"
	"emucore/host/link"
	"emucore/protocol"
)

func sampleState() *link.State {
	return &link.State{
		Engine: protocol.EngineState{
			Clock:      123456,
			Angle:      354,
			RPM:        3000,
			Flags:      protocol.FlagWheelSynced | protocol.FlagCylinderSynced | protocol.FlagEngineSynced,
			Advance:    10,
			DwellUS:    3000,
			Desyncs:    1,
			LastDesync: uint8(core.DesyncSignalLoss),
			NumCoils:   2,
		},
		Coils: []protocol.CoilState{
			{Coil: 0, State: uint8(core.CoilCharging), SparkAngle: 350, Sparks: 40, Jitter: 3},
			{Coil: 1, State: uint8(core.CoilPreparing), SparkAngle: 170, Sparks: 39},
		},
	}
}

func TestStateFrame(t *testing.T) {
	at := time.Unix(1700000000, 0)
	f := StateFrame(sampleState(), at)

	if f.Type != "state" || !f.Time.Equal(at) {
		t.Errorf("Expected a state frame at %v, got %s at %v", at, f.Type, f.Time)
	}
	if !f.WheelSynced || !f.CylinderSynced || !f.EngineSynced {
		t.Error("Expected every sync flag set")
	}
	if f.RPM != 3000 || f.Angle != 354 {
		t.Errorf("Expected 3000 rpm at 354, got %d at %d", f.RPM, f.Angle)
	}
	if f.LastDesync != "signal_loss" {
		t.Errorf("Expected signal_loss, got %s", f.LastDesync)
	}
	if len(f.Coils) != 2 || f.Coils[0].State != "charging" || f.Coils[1].State != "preparing" {
		t.Errorf("Expected charging and preparing coils, got %+v", f.Coils)
	}
}

func TestDiagFrame(t *testing.T) {
	f := DiagFrame(protocol.DiagEvent{Kind: uint8(core.DiagSyncLost), Reason: uint8(core.DesyncShortGap), Value: 2500}, time.Now())
	if f.Type != "diag" || f.Kind != "SYNC_LOST" || f.Reason != "short_gap" {
		t.Errorf("Expected SYNC_LOST short_gap, got %s %s %s", f.Type, f.Kind, f.Reason)
	}
	if f.Coil != nil {
		t.Error("Expected no coil on a sync event")
	}

	f = DiagFrame(protocol.DiagEvent{Kind: uint8(core.DiagCoilFault), Reason: uint8(core.DesyncSignalLoss), Coil: 1}, time.Now())
	if f.Coil == nil || *f.Coil != 1 || f.Reason != "signal_loss" {
		t.Errorf("Expected coil 1 fault on signal loss, got %+v", f)
	}
}

// waitFor polls cond until it holds or a second passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHubBroadcast(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	waitFor(t, "client registration", func() bool { return hub.ClientCount() == 1 })

	hub.Send(StateFrame(sampleState(), time.Now()))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Frame
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Type != "state" || got.RPM != 3000 || len(got.Coils) != 2 {
		t.Errorf("Expected the state frame, got %+v", got)
	}
}

func TestHubForgetsClosedClient(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	waitFor(t, "client registration", func() bool { return hub.ClientCount() == 1 })

	conn.Close()
	waitFor(t, "client removal", func() bool { return hub.ClientCount() == 0 })
}

func TestHubRejectsPlainHTTP(t *testing.T) {
	hub := NewHub()
	rec := httptest.NewRecorder()
	hub.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestHubSendWithoutClients(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 100; i++ {
		if err := hub.Send(Frame{Type: "state"}); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}
}

func TestPublisherDisconnected(t *testing.T) {
	p := NewPublisher("emu.telemetry")
	if err := p.Send(Frame{Type: "state"}); err != nil {
		t.Errorf("Expected a silent no-op, got %v", err)
	}
	if s := p.Subject(Frame{Type: "diag"}); s != "emu.telemetry.diag" {
		t.Errorf("Expected emu.telemetry.diag, got %s", s)
	}
	if s := p.Subject(Frame{Type: "state"}); s != "emu.telemetry" {
		t.Errorf("Expected emu.telemetry, got %s", s)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Expected Close to succeed, got %v", err)
	}
}

func TestPublisherConnectFails(t *testing.T) {
	p := NewPublisher("emu.telemetry")
	// Port 1 on loopback refuses connections
	if err := p.Connect("nats://127.0.0.1:1"); err == nil {
		p.Close()
		t.Fatal("Expected a connection error")
	}
	if err := p.Send(Frame{Type: "state"}); err != nil {
		t.Errorf("Expected a silent no-op after a failed connect, got %v", err)
	}
}

type fakeSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSource) QueryState(ctx context.Context) (*link.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return sampleState(), nil
}

type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (s *recordingSink) Send(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestMonitorPublishesToEverySink(t *testing.T) {
	failing := &recordingSink{err: errors.New("broken")}
	good := &recordingSink{}
	m := NewMonitor(&fakeSource{}, 100*time.Millisecond, failing, good)

	state, err := m.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if state.Engine.RPM != 3000 {
		t.Errorf("Expected 3000 rpm, got %d", state.Engine.RPM)
	}
	m.Diag(protocol.DiagEvent{Kind: uint8(core.DiagSyncAcquired)})

	if failing.count() != 2 || good.count() != 2 {
		t.Fatalf("Expected 2 frames per sink, got %d and %d", failing.count(), good.count())
	}
	if good.frames[1].Type != "diag" {
		t.Errorf("Expected a diag frame, got %s", good.frames[1].Type)
	}
}

func TestMonitorPollError(t *testing.T) {
	sink := &recordingSink{}
	m := NewMonitor(&fakeSource{err: errors.New("timeout")}, 10*time.Millisecond, sink)
	if _, err := m.Poll(context.Background()); err == nil {
		t.Error("Expected the query error")
	}
	if sink.count() != 0 {
		t.Errorf("Expected no frames, got %d", sink.count())
	}
}

func TestMonitorRun(t *testing.T) {
	src := &fakeSource{}
	sink := &recordingSink{}
	m := NewMonitor(src, 5*time.Millisecond, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	var seen int
	err := m.Run(ctx, func(*link.State) { seen++ })

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if seen < 2 || sink.count() != seen {
		t.Errorf("Expected several polls all published, got %d states and %d frames", seen, sink.count())
	}
}
