package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"emucore/core"
	"emucore/host/config"
	"emucore/host/link"
	"emucore/host/serial"
	"emucore/host/telemetry"
	"emucore/protocol"
)

func requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, *timeout)
}

func listPorts() error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		pterm.Warning.Println("No serial ports found")
		return nil
	}
	data := pterm.TableData{{"Port"}}
	for _, p := range ports {
		data = append(data, []string{p})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printDictionary(l *link.Link) {
	dict := l.Dictionary()
	pterm.DefaultHeader.WithFullWidth().Println("EMU dictionary " + dict.Version)

	names := make([]string, 0, len(dict.Config))
	for name := range dict.Config {
		names = append(names, name)
	}
	sort.Strings(names)
	constants := pterm.TableData{{"Constant", "Value"}}
	for _, name := range names {
		constants = append(constants, []string{name, dict.Config[name]})
	}
	pterm.DefaultSection.Println("Config")
	pterm.DefaultTable.WithHasHeader().WithData(constants).Render()

	pterm.DefaultSection.Println("Messages")
	messages := pterm.TableData{{"ID", "Direction", "Message"}}
	messages = appendMessages(messages, dict.Commands, "command")
	messages = appendMessages(messages, dict.Responses, "response")
	pterm.DefaultTable.WithHasHeader().WithData(messages).Render()
}

func appendMessages(data pterm.TableData, entries map[string]int, direction string) pterm.TableData {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return entries[keys[i]] < entries[keys[j]] })
	for _, k := range keys {
		data = append(data, []string{strconv.Itoa(entries[k]), direction, k})
	}
	return data
}

func showState(ctx context.Context, l *link.Link) error {
	rctx, cancel := requestContext(ctx)
	defer cancel()
	state, err := l.QueryState(rctx)
	if err != nil {
		return err
	}
	printState(state)
	return nil
}

func printState(state *link.State) {
	e := &state.Engine
	sync := pterm.Red("no sync")
	switch {
	case e.EngineSynced():
		sync = pterm.Green("engine synced")
	case e.Flags&protocol.FlagWheelSynced != 0:
		sync = pterm.Yellow("wheel synced")
	}
	pterm.Info.Printfln("clock=%d angle=%d rpm=%d %s advance=%d dwell=%dus desyncs=%d (%s)",
		e.Clock, e.Angle, e.RPM, sync, e.Advance, e.DwellUS, e.Desyncs, core.DesyncReason(e.LastDesync))

	data := pterm.TableData{{"Coil", "State", "Cylinder", "Spark", "Sparks", "Misses", "Faults", "Jitter"}}
	for _, c := range state.Coils {
		data = append(data, []string{
			strconv.Itoa(int(c.Coil)),
			core.CoilState(c.State).String(),
			strconv.Itoa(int(c.Cylinder) + 1),
			strconv.Itoa(int(c.SparkAngle)),
			strconv.Itoa(int(c.Sparks)),
			strconv.Itoa(int(c.Misses)),
			strconv.Itoa(int(c.Faults)),
			strconv.Itoa(int(c.Jitter)),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func monitor(ctx context.Context, l *link.Link, settings *config.File) error {
	interval, err := settings.TelemetryInterval()
	if err != nil {
		return err
	}

	var sinks []telemetry.Sink
	if addr := settings.Telemetry.Listen; addr != "" {
		hub := telemetry.NewHub()
		go hub.Run(ctx)
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", hub.HandleWebSocket)
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				pterm.Error.Printfln("Telemetry server: %v", err)
			}
		}()
		defer srv.Close()
		pterm.Success.Printfln("WebSocket telemetry on ws://%s/ws", addr)
		sinks = append(sinks, hub)
	}
	if url := settings.Telemetry.NatsURL; url != "" {
		pub := telemetry.NewPublisher(settings.Telemetry.Subject)
		if err := pub.Connect(url); err != nil {
			pterm.Warning.Printfln("NATS disabled: %v", err)
		} else {
			defer pub.Close()
			pterm.Success.Printfln("Publishing to NATS subject %s", settings.Telemetry.Subject)
		}
		sinks = append(sinks, pub)
	}

	m := telemetry.NewMonitor(l, interval, sinks...)
	l.OnDiag(func(ev protocol.DiagEvent) {
		printDiag(ev)
		m.Diag(ev)
	})

	var last uint32
	var synced bool
	err = m.Run(ctx, func(state *link.State) {
		// Print on a change of sync, otherwise once per firmware second
		e := &state.Engine
		if e.Clock-last >= core.TimerFreq || e.EngineSynced() != synced {
			printState(state)
			last = e.Clock
			synced = e.EngineSynced()
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printDiag(ev protocol.DiagEvent) {
	kind := core.DiagKind(ev.Kind)
	msg := fmt.Sprintf("%s clock=%d", kind, ev.Clock)
	switch kind {
	case core.DiagSyncAcquired:
		pterm.Success.Printfln("%s rpm=%d", msg, ev.Value)
	case core.DiagSyncLost:
		pterm.Warning.Printfln("%s reason=%s rpm=%d", msg, core.DesyncReason(ev.Reason), ev.Value)
	case core.DiagCoilFault:
		pterm.Error.Printfln("%s coil=%d reason=%s", msg, ev.Coil, core.DesyncReason(ev.Reason))
	default:
		pterm.Debug.Printfln("%s coil=%d value=%d", msg, ev.Coil, ev.Value)
	}
}

func tune(ctx context.Context, l *link.Link, args []string) error {
	if len(args) != 2 {
		return errors.New("tune needs <advance> <dwell>")
	}
	advance, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	dwell, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("dwell: %w", err)
	}

	rctx, cancel := requestContext(ctx)
	defer cancel()
	if err := l.SetIgnition(rctx, int32(advance), uint32(dwell)); err != nil {
		return err
	}
	pterm.Success.Printfln("Advance %d, dwell %dus", advance, dwell)
	return nil
}

func dumpTiming(ctx context.Context, l *link.Link) error {
	rctx, cancel := requestContext(ctx)
	defer cancel()
	events, err := l.DumpTiming(rctx)
	if err != nil {
		return err
	}

	data := pterm.TableData{{"Clock", "Event", "Coil", "Value1", "Value2"}}
	for _, ev := range events {
		data = append(data, []string{
			strconv.FormatUint(uint64(ev.Clock), 10),
			core.TimingEventName(ev.Type),
			strconv.Itoa(int(ev.Coil)),
			strconv.FormatUint(uint64(ev.Value1), 10),
			strconv.FormatUint(uint64(ev.Value2), 10),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func emergencyStop(ctx context.Context, l *link.Link) error {
	rctx, cancel := requestContext(ctx)
	defer cancel()
	if err := l.EmergencyStop(rctx); err != nil {
		return err
	}
	pterm.Warning.Println("Emergency stop sent: coils discharged, sync dropped")
	return nil
}
