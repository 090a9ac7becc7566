package core

import (
	"errors"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultEngineConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}
	if n := cfg.Wheel.ExpectedTeeth(); n != 58 {
		t.Errorf("Expected 58 teeth, got %d", n)
	}
	if d := cfg.Wheel.LandmarkDegrees(); d != 18 {
		t.Errorf("Expected 18 landmark degrees, got %d", d)
	}
	if r := cfg.Wheel.Revolutions(); r != 2 {
		t.Errorf("Expected 2 revolutions, got %d", r)
	}
	if cfg.StaleTimeout() != 60000 {
		t.Errorf("Expected 60000us stale timeout, got %d", cfg.StaleTimeout())
	}
	if cfg.RPMTimeout() != cfg.StaleTimeout() {
		t.Errorf("Expected rpm timeout to default to the stale timeout, got %d", cfg.RPMTimeout())
	}

	w := wheel360Config()
	if err := w.Validate(); err != nil {
		t.Errorf("Expected 360 degree config to be valid, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*EngineConfig)
		want   error
	}{
		{"bad total", func(c *EngineConfig) { c.Wheel.TotalAngle = 700 }, ErrWheelAngle},
		{"bad extra", func(c *EngineConfig) {
			c.Wheel.ExtraAngle = 180
			c.Wheel.TotalAngle = 540
		}, ErrExtraAngle},
		{"no missing", func(c *EngineConfig) { c.Wheel.MissingTeeth = 0 }, ErrInvalidWheel},
		{"low ratio", func(c *EngineConfig) { c.Wheel.LandmarkRatioPct = 90 }, ErrInvalidWheel},
		{"no cylinders", func(c *EngineConfig) { c.Cylinders = nil }, ErrNoCylinders},
		{"coil index", func(c *EngineConfig) { c.Cylinders[0].Coil = 5 }, ErrCoilIndex},
		{"tdc range", func(c *EngineConfig) { c.Cylinders[0].TDCAngle = 720 }, ErrTDCAngle},
		{"cylinder spacing", func(c *EngineConfig) { c.Cylinders[0].TDCAngle = 90 }, ErrCylinderSpacing},
		{"coil spacing", func(c *EngineConfig) {
			c.Cylinders[3].TDCAngle = 180
			c.Cylinders[2].TDCAngle = 360
		}, ErrCoilSpacing},
		{"unused coil", func(c *EngineConfig) { c.Coils = 3 }, ErrCoilUnused},
		{"cam needed", func(c *EngineConfig) {
			c.CamSync = false
			c.Coils = 4
			for i := range c.Cylinders {
				c.Cylinders[i].Coil = uint8(i)
			}
		}, ErrCamRequired},
		{"cam tooth", func(c *EngineConfig) { c.CamTooth = 58 }, ErrCamTooth},
		{"dwell limits", func(c *EngineConfig) { c.MinDwellUS = 7000 }, ErrDwellLimits},
		{"default dwell", func(c *EngineConfig) { c.DefaultDwellUS = 7000 }, ErrDwellRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCoilPeriod(t *testing.T) {
	cfg := DefaultEngineConfig()
	if p := cfg.CoilPeriod(0); p != 360 {
		t.Errorf("Expected waste spark period 360, got %d", p)
	}

	cfg.Coils = 4
	for i := range cfg.Cylinders {
		cfg.Cylinders[i].Coil = uint8(i)
	}
	if p := cfg.CoilPeriod(2); p != 720 {
		t.Errorf("Expected coil-on-plug period 720, got %d", p)
	}
	if p := cfg.CoilPeriod(7); p != 0 {
		t.Errorf("Expected 0 for an unused coil, got %d", p)
	}
}

func TestStaleTimeoutOverride(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MinCrankRPM = 100
	if cfg.StaleTimeout() != 30000 {
		t.Errorf("Expected 30000us at 100 rpm, got %d", cfg.StaleTimeout())
	}
	cfg.StaleTimeoutUS = 25000
	cfg.RPMTimeoutUS = 40000
	if cfg.StaleTimeout() != 25000 || cfg.RPMTimeout() != 40000 {
		t.Errorf("Expected explicit timeouts, got %d/%d", cfg.StaleTimeout(), cfg.RPMTimeout())
	}
}
