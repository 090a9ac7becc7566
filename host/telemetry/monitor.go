package telemetry

import (
	"context"
	"time"

	"github.com/pterm/pterm"

	"emucore/host/link"
	"emucore/protocol"
)

// Sink receives telemetry frames
type Sink interface {
	Send(frame Frame) error
}

// Source supplies engine state; *link.Link is one
type Source interface {
	QueryState(ctx context.Context) (*link.State, error)
}

// Monitor polls a Source and fans its state out to every sink
type Monitor struct {
	source   Source
	sinks    []Sink
	interval time.Duration
	now      func() time.Time
}

// NewMonitor polls source every interval
func NewMonitor(source Source, interval time.Duration, sinks ...Sink) *Monitor {
	return &Monitor{
		source:   source,
		sinks:    sinks,
		interval: interval,
		now:      time.Now,
	}
}

// Publish sends frame to every sink. A failing sink does not stop the rest.
func (m *Monitor) Publish(frame Frame) {
	for _, s := range m.sinks {
		if err := s.Send(frame); err != nil {
			pterm.Warning.Printfln("Telemetry: %v", err)
		}
	}
}

// Diag publishes a diag_event; pass it to link.Link.OnDiag
func (m *Monitor) Diag(ev protocol.DiagEvent) {
	m.Publish(DiagFrame(ev, m.now()))
}

// Poll queries the source once and publishes the result
func (m *Monitor) Poll(ctx context.Context) (*link.State, error) {
	qctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	state, err := m.source.QueryState(qctx)
	if err != nil {
		return nil, err
	}
	m.Publish(StateFrame(state, m.now()))
	return state, nil
}

// Run polls until ctx ends. onState, if set, sees every state.
func (m *Monitor) Run(ctx context.Context, onState func(*link.State)) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			state, err := m.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				pterm.Warning.Printfln("Query failed: %v", err)
				continue
			}
			if onState != nil {
				onState(state)
			}
		}
	}
}
