package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"emucore/host/config"
	"emucore/host/link"
	"emucore/host/sim"
)

var (
	configPath = flag.String("config", "", "YAML settings file")
	device     = flag.String("device", "", "Serial device path (overrides the config file)")
	useSim     = flag.Bool("sim", false, "Talk to an in-process simulated EMU instead of a serial device")
	verbose    = flag.Bool("verbose", false, "Enable debug output")
	timeout    = flag.Duration("timeout", 2*time.Second, "Timeout for a single request")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: emu-host [flags] <command> [args]\n\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  ports                  List serial ports\n")
	fmt.Fprintf(os.Stderr, "  dict                   Print the firmware dictionary\n")
	fmt.Fprintf(os.Stderr, "  state                  Print engine and coil state once\n")
	fmt.Fprintf(os.Stderr, "  monitor                Poll state and publish telemetry\n")
	fmt.Fprintf(os.Stderr, "  tune <advance> <dwell> Set spark advance (degrees) and dwell (us)\n")
	fmt.Fprintf(os.Stderr, "  dump                   Print the firmware timing ring\n")
	fmt.Fprintf(os.Stderr, "  stop                   Emergency stop: discharge coils, drop sync\n")
	fmt.Fprintf(os.Stderr, "  sim                    Monitor a simulated EMU (same as -sim monitor)\n\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if *verbose {
		pterm.EnableDebugMessages()
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	settings, err := loadSettings()
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, flag.Arg(0), flag.Args()[1:]); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func loadSettings() (*config.File, error) {
	settings := config.Default()
	if *configPath != "" {
		f, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		settings = f
	}
	if *device != "" {
		settings.Serial.Device = *device
	}
	return settings, nil
}

func run(ctx context.Context, settings *config.File, cmd string, args []string) error {
	switch cmd {
	case "ports":
		return listPorts()
	case "sim":
		*useSim = true
		cmd = "monitor"
	}

	l, err := connect(ctx, settings)
	if err != nil {
		return err
	}
	defer l.Close()

	switch cmd {
	case "dict":
		printDictionary(l)
		return nil
	case "state":
		return showState(ctx, l)
	case "monitor":
		return monitor(ctx, l, settings)
	case "tune":
		return tune(ctx, l, args)
	case "dump":
		return dumpTiming(ctx, l)
	case "stop":
		return emergencyStop(ctx, l)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// connect opens the serial link, or starts a simulated EMU with -sim
func connect(ctx context.Context, settings *config.File) (*link.Link, error) {
	rctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if !*useSim {
		port, err := settings.SerialPort()
		if err != nil {
			return nil, err
		}
		pterm.Info.Printfln("Connecting to %s", port.Device)
		return link.Open(rctx, port)
	}

	cfg, err := settings.EngineConfig()
	if err != nil {
		return nil, err
	}
	fw, err := sim.NewFirmware(cfg, settings.SimOptions())
	if err != nil {
		return nil, err
	}
	host, dev := net.Pipe()
	go fw.Serve(ctx, dev)
	go fw.Run(ctx, 10*time.Millisecond, settings.Sim.Speed)
	pterm.Info.Printfln("Simulated EMU at %d rpm", settings.Sim.RPM)

	l := link.New(host)
	if err := l.RetrieveDictionary(rctx); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}
