package core

import "errors"

const (
	MaxCylinders = 8
	MaxCoils     = 8
)

var (
	ErrInvalidWheel     = errors.New("invalid tooth wheel geometry")
	ErrWheelAngle       = errors.New("total angle must equal tooth count * degrees per tooth + extra angle")
	ErrExtraAngle       = errors.New("extra angle must be 0 or one full wheel revolution")
	ErrNoCylinders      = errors.New("no cylinders configured")
	ErrTooManyCylinders = errors.New("cylinder count exceeds maximum")
	ErrTooManyCoils     = errors.New("coil count exceeds maximum")
	ErrCoilIndex        = errors.New("cylinder references unknown coil")
	ErrCoilUnused       = errors.New("coil has no cylinders")
	ErrCoilSpacing      = errors.New("cylinders sharing a coil must be evenly spaced")
	ErrTDCAngle         = errors.New("cylinder TDC angle outside the decoder cycle")
	ErrCylinderSpacing  = errors.New("cylinder TDC angle not on the cylinder spacing")
	ErrCamTooth         = errors.New("cam tooth outside the wheel")
	ErrCamRequired      = errors.New("coil firing period longer than one revolution needs cam sync")
	ErrDwellLimits      = errors.New("invalid dwell limits")
	ErrDwellRange       = errors.New("dwell outside configured limits")
)

// WheelConfig describes the crank trigger wheel
type WheelConfig struct {
	ToothCount       uint32 // Tooth positions on the wheel, missing ones included
	MissingTeeth     uint32 // Teeth removed to form the landmark gap
	LandmarkRatioPct uint32 // Gap > ratio% of the recent average marks the landmark
	ShortGapPct      uint32 // While synced, a gap < this % of the average is implausible (0 disables)
	MinGapUS         uint32 // Shortest physically possible tooth gap; shorter edges are noise
	DegreesPerTooth  uint32
	ExtraAngle       uint32 // Added once per cycle at the landmark opening the second revolution
	TotalAngle       uint32 // Decoder cycle (720 for a 4-stroke with cam phase)
}

// ExpectedTeeth returns the number of edges between two landmarks
func (w *WheelConfig) ExpectedTeeth() uint32 {
	return w.ToothCount - w.MissingTeeth
}

// RevolutionAngle is the angle covered by one turn of the wheel
func (w *WheelConfig) RevolutionAngle() uint32 {
	return w.ToothCount * w.DegreesPerTooth
}

// LandmarkDegrees is the angle spanned by the landmark gap
func (w *WheelConfig) LandmarkDegrees() uint32 {
	return (w.MissingTeeth + 1) * w.DegreesPerTooth
}

// Revolutions returns 2 when the decoder cycle spans two wheel turns
func (w *WheelConfig) Revolutions() uint32 {
	if w.ExtraAngle == 0 {
		return 1
	}
	return 2
}

// Validate checks the wheel geometry invariant
func (w *WheelConfig) Validate() error {
	if w.ToothCount < 3 || w.MissingTeeth == 0 || w.MissingTeeth >= w.ToothCount-1 {
		return ErrInvalidWheel
	}
	if w.DegreesPerTooth == 0 || w.LandmarkRatioPct <= 100 {
		return ErrInvalidWheel
	}
	if w.TotalAngle != w.RevolutionAngle()+w.ExtraAngle {
		return ErrWheelAngle
	}
	if w.ExtraAngle != 0 && w.ExtraAngle != w.RevolutionAngle() {
		return ErrExtraAngle
	}
	return nil
}

// CylinderConfig places one cylinder on the crank cycle
type CylinderConfig struct {
	TDCAngle uint32
	Coil     uint8
}

// EngineConfig is everything the decoder and scheduler need at boot
type EngineConfig struct {
	Wheel WheelConfig

	DegreesBetweenCylinders uint32
	Cylinders               []CylinderConfig
	Coils                   uint8

	// Cam (cylinder #1) signal. Without it the decoder cannot tell the two
	// wheel revolutions apart, which is fine as long as every coil fires
	// once per revolution (waste spark).
	CamSync        bool
	CamTooth       uint32 // Wheel tooth index expected at the cam edge
	CamRevolution  uint32 // Revolution (0 or 1) that the cam edge marks
	CamWindowTeeth uint32 // Tolerance around CamTooth

	MinCrankRPM    uint32
	StaleTimeoutUS uint32 // 0 derives it from MinCrankRPM
	RPMTimeoutUS   uint32 // 0 uses StaleTimeoutUS

	MinDwellUS uint32 // Shortest dwell worth charging after a scheduling miss
	MaxDwellUS uint32 // Hard cap on coil on-time

	DefaultAdvance int32
	DefaultDwellUS uint32
}

// DefaultEngineConfig returns a 60-2 crank wheel on a four cylinder
// four-stroke with two waste-spark coils: #1/#4 on coil 0, #2/#3 on coil 1.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Wheel: WheelConfig{
			ToothCount:       60,
			MissingTeeth:     2,
			LandmarkRatioPct: 150,
			ShortGapPct:      40,
			MinGapUS:         50,
			DegreesPerTooth:  6,
			ExtraAngle:       360,
			TotalAngle:       720,
		},
		DegreesBetweenCylinders: 180,
		Cylinders: []CylinderConfig{
			{TDCAngle: 0, Coil: 0},   // #1
			{TDCAngle: 540, Coil: 1}, // #2
			{TDCAngle: 180, Coil: 1}, // #3
			{TDCAngle: 360, Coil: 0}, // #4
		},
		Coils:          2,
		CamSync:        true,
		CamTooth:       20,
		CamRevolution:  0,
		CamWindowTeeth: 1,
		MinCrankRPM:    50,
		MinDwellUS:     1000,
		MaxDwellUS:     6000,
		DefaultAdvance: 10,
		DefaultDwellUS: 3000,
	}
}

// StaleTimeout returns the edge staleness threshold in microseconds: the
// landmark gap at MinCrankRPM, the longest gap a turning engine produces.
func (c *EngineConfig) StaleTimeout() uint32 {
	if c.StaleTimeoutUS != 0 {
		return c.StaleTimeoutUS
	}
	rpm := c.MinCrankRPM
	if rpm == 0 {
		rpm = 50
	}
	// us per degree at rpm = 60e6 / (rpm * 360)
	return uint32(uint64(60000000) * uint64(c.Wheel.LandmarkDegrees()) / (uint64(rpm) * 360))
}

// RPMTimeout returns the rpm staleness threshold in microseconds
func (c *EngineConfig) RPMTimeout() uint32 {
	if c.RPMTimeoutUS != 0 {
		return c.RPMTimeoutUS
	}
	return c.StaleTimeout()
}

// CoilPeriod returns the firing period of a coil: the decoder cycle divided
// by the number of cylinders it fires.
func (c *EngineConfig) CoilPeriod(coil uint8) uint32 {
	n := uint32(0)
	for _, cyl := range c.Cylinders {
		if cyl.Coil == coil {
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return c.Wheel.TotalAngle / n
}

// Validate checks the configuration as a whole
func (c *EngineConfig) Validate() error {
	if err := c.Wheel.Validate(); err != nil {
		return err
	}
	if len(c.Cylinders) == 0 {
		return ErrNoCylinders
	}
	if len(c.Cylinders) > MaxCylinders {
		return ErrTooManyCylinders
	}
	if c.Coils == 0 || c.Coils > MaxCoils {
		return ErrTooManyCoils
	}
	for _, cyl := range c.Cylinders {
		if cyl.Coil >= c.Coils {
			return ErrCoilIndex
		}
		if cyl.TDCAngle >= c.Wheel.TotalAngle {
			return ErrTDCAngle
		}
		if c.DegreesBetweenCylinders != 0 && cyl.TDCAngle%c.DegreesBetweenCylinders != 0 {
			return ErrCylinderSpacing
		}
	}
	for coil := uint8(0); coil < c.Coils; coil++ {
		period := c.CoilPeriod(coil)
		if period == 0 {
			return ErrCoilUnused
		}
		first := true
		var base uint32
		for _, cyl := range c.Cylinders {
			if cyl.Coil != coil {
				continue
			}
			if first {
				base = cyl.TDCAngle % period
				first = false
			} else if cyl.TDCAngle%period != base {
				return ErrCoilSpacing
			}
		}
		if !c.CamSync && period > c.Wheel.RevolutionAngle() {
			return ErrCamRequired
		}
	}
	if c.CamSync && (c.CamTooth >= c.Wheel.ExpectedTeeth() || c.CamRevolution >= c.Wheel.Revolutions()) {
		return ErrCamTooth
	}
	if c.MaxDwellUS == 0 || c.MinDwellUS > c.MaxDwellUS {
		return ErrDwellLimits
	}
	if c.DefaultDwellUS > c.MaxDwellUS {
		return ErrDwellRange
	}
	return nil
}
