// Package config loads the host tool settings from YAML
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"emucore/core"
	"emucore/host/serial"
	"emucore/host/sim"
)

// File is the YAML layout. Zero values fall back to defaults.
type File struct {
	Serial    SerialConfig    `yaml:"serial"`
	Engine    EngineFile      `yaml:"engine"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sim       SimConfig       `yaml:"sim"`
}

type SerialConfig struct {
	Device      string `yaml:"device"`
	Baud        int    `yaml:"baud"`
	ReadTimeout string `yaml:"read_timeout"` // e.g. "100ms"
}

type WheelFile struct {
	Teeth            uint32 `yaml:"teeth"`
	Missing          uint32 `yaml:"missing"`
	DegreesPerTooth  uint32 `yaml:"degrees_per_tooth"`
	LandmarkRatioPct uint32 `yaml:"landmark_ratio_pct"`
	ShortGapPct      uint32 `yaml:"short_gap_pct"`
	MinGapUS         uint32 `yaml:"min_gap_us"`
}

type CylinderFile struct {
	TDC  uint32 `yaml:"tdc"`
	Coil uint8  `yaml:"coil"`
}

type CamFile struct {
	Enabled    *bool   `yaml:"enabled"`
	Tooth      *uint32 `yaml:"tooth"`
	Revolution uint32  `yaml:"revolution"`
	Window     uint32  `yaml:"window"`
}

type EngineFile struct {
	Wheel           WheelFile      `yaml:"wheel"`
	Cycle           uint32         `yaml:"cycle"` // 360 or 720 degrees
	CylinderSpacing uint32         `yaml:"cylinder_spacing"`
	Cylinders       []CylinderFile `yaml:"cylinders"`
	Cam             CamFile        `yaml:"cam"`
	MinCrankRPM     uint32         `yaml:"min_crank_rpm"`
	StaleTimeoutUS  uint32         `yaml:"stale_timeout_us"`
	RPMTimeoutUS    uint32         `yaml:"rpm_timeout_us"`
	MinDwellUS      uint32         `yaml:"min_dwell_us"`
	MaxDwellUS      uint32         `yaml:"max_dwell_us"`
	Advance         *int32         `yaml:"advance"`
	DwellUS         uint32         `yaml:"dwell_us"`
}

type TelemetryConfig struct {
	Listen   string `yaml:"listen"`   // WebSocket address, empty disables
	NatsURL  string `yaml:"nats_url"` // Empty disables
	Subject  string `yaml:"subject"`
	Interval string `yaml:"interval"`
}

type SimConfig struct {
	RPM            uint32  `yaml:"rpm"`
	Speed          float64 `yaml:"speed"` // Virtual time per wall clock time
	NoCam          bool    `yaml:"no_cam"`
	TimerLatencyUS uint32  `yaml:"timer_latency_us"`
}

// Default returns the settings used when no file is given
func Default() *File {
	return &File{
		Serial: SerialConfig{
			Device:      "/dev/ttyACM0",
			Baud:        250000,
			ReadTimeout: "100ms",
		},
		Telemetry: TelemetryConfig{
			Subject:  "emu.telemetry",
			Interval: "100ms",
		},
		Sim: SimConfig{
			RPM:   900,
			Speed: 1,
		},
	}
}

// Load reads settings from a YAML file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML settings
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&f)
	return &f, nil
}

func applyDefaults(f *File) {
	d := Default()
	if f.Serial.Device == "" {
		f.Serial.Device = d.Serial.Device
	}
	if f.Serial.Baud == 0 {
		f.Serial.Baud = d.Serial.Baud
	}
	if f.Serial.ReadTimeout == "" {
		f.Serial.ReadTimeout = d.Serial.ReadTimeout
	}
	if f.Telemetry.Subject == "" {
		f.Telemetry.Subject = d.Telemetry.Subject
	}
	if f.Telemetry.Interval == "" {
		f.Telemetry.Interval = d.Telemetry.Interval
	}
	if f.Sim.RPM == 0 {
		f.Sim.RPM = d.Sim.RPM
	}
	if f.Sim.Speed == 0 {
		f.Sim.Speed = d.Sim.Speed
	}
}

// SerialPort returns the port settings
func (f *File) SerialPort() (serial.Config, error) {
	cfg := serial.DefaultConfig(f.Serial.Device)
	cfg.Baud = f.Serial.Baud
	timeout, err := time.ParseDuration(f.Serial.ReadTimeout)
	if err != nil {
		return cfg, fmt.Errorf("serial read_timeout: %w", err)
	}
	cfg.ReadTimeout = timeout
	return cfg, nil
}

// TelemetryInterval returns the state polling period
func (f *File) TelemetryInterval() (time.Duration, error) {
	d, err := time.ParseDuration(f.Telemetry.Interval)
	if err != nil {
		return 0, fmt.Errorf("telemetry interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("telemetry interval must be positive, got %s", d)
	}
	return d, nil
}

// SimOptions returns the simulator settings
func (f *File) SimOptions() sim.Options {
	opts := sim.DefaultOptions()
	opts.RPM = f.Sim.RPM
	opts.NoCam = f.Sim.NoCam
	opts.TimerLatencyUS = f.Sim.TimerLatencyUS
	return opts
}

// EngineConfig overlays the engine section on core.DefaultEngineConfig and
// validates the result
func (f *File) EngineConfig() (core.EngineConfig, error) {
	cfg := core.DefaultEngineConfig()
	e := &f.Engine

	w := &cfg.Wheel
	setUint(&w.ToothCount, e.Wheel.Teeth)
	setUint(&w.MissingTeeth, e.Wheel.Missing)
	setUint(&w.DegreesPerTooth, e.Wheel.DegreesPerTooth)
	setUint(&w.LandmarkRatioPct, e.Wheel.LandmarkRatioPct)
	setUint(&w.ShortGapPct, e.Wheel.ShortGapPct)
	setUint(&w.MinGapUS, e.Wheel.MinGapUS)

	rev := w.RevolutionAngle()
	switch e.Cycle {
	case 0:
		if w.ExtraAngle != 0 {
			w.ExtraAngle = rev
		}
	case rev:
		w.ExtraAngle = 0
	case 2 * rev:
		w.ExtraAngle = rev
	default:
		return cfg, fmt.Errorf("engine cycle %d: %w", e.Cycle, core.ErrWheelAngle)
	}
	w.TotalAngle = rev + w.ExtraAngle

	setUint(&cfg.DegreesBetweenCylinders, e.CylinderSpacing)
	if len(e.Cylinders) > 0 {
		cfg.Cylinders = cfg.Cylinders[:0:0]
		cfg.Coils = 0
		for _, c := range e.Cylinders {
			cfg.Cylinders = append(cfg.Cylinders, core.CylinderConfig{TDCAngle: c.TDC, Coil: c.Coil})
			if c.Coil+1 > cfg.Coils {
				cfg.Coils = c.Coil + 1
			}
		}
	}

	if e.Cam.Enabled != nil {
		cfg.CamSync = *e.Cam.Enabled
	}
	if e.Cam.Tooth != nil {
		cfg.CamTooth = *e.Cam.Tooth
	}
	setUint(&cfg.CamRevolution, e.Cam.Revolution)
	setUint(&cfg.CamWindowTeeth, e.Cam.Window)

	setUint(&cfg.MinCrankRPM, e.MinCrankRPM)
	setUint(&cfg.StaleTimeoutUS, e.StaleTimeoutUS)
	setUint(&cfg.RPMTimeoutUS, e.RPMTimeoutUS)
	setUint(&cfg.MinDwellUS, e.MinDwellUS)
	setUint(&cfg.MaxDwellUS, e.MaxDwellUS)
	setUint(&cfg.DefaultDwellUS, e.DwellUS)
	if e.Advance != nil {
		cfg.DefaultAdvance = *e.Advance
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("engine config: %w", err)
	}
	return cfg, nil
}

func setUint(dst *uint32, v uint32) {
	if v != 0 {
		*dst = v
	}
}
