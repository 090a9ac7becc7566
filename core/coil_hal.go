package core

// CoilDriver defines the hardware abstraction for ignition coil outputs.
// Implementations can use GPIO, PIO, or a recorder in simulation.
type CoilDriver interface {
	// Init prepares the outputs, leaving every coil discharged
	Init(coils uint8) error

	// Energize starts charging a coil.
	// Called from timer interrupt, must not block or allocate.
	Energize(coil uint8)

	// Discharge releases a coil, producing the spark if it was charging.
	// Called from timer interrupt, must not block or allocate.
	Discharge(coil uint8)

	// GetName returns backend implementation name
	GetName() string
}

// GPIOCoilDriver drives coils through the registered GPIODriver
type GPIOCoilDriver struct {
	Pins     [MaxCoils]GPIOPin
	Inverted bool // Outputs are active low
	gpio     GPIODriver
}

// NewGPIOCoilDriver creates a coil driver for the given pins. The GPIO
// driver must be registered with SetGPIODriver before Init.
func NewGPIOCoilDriver(inverted bool, pins ...GPIOPin) *GPIOCoilDriver {
	d := &GPIOCoilDriver{Inverted: inverted}
	copy(d.Pins[:], pins)
	return d
}

func (d *GPIOCoilDriver) Init(coils uint8) error {
	if coils > MaxCoils {
		return ErrTooManyCoils
	}
	d.gpio = MustGPIO()
	for i := uint8(0); i < coils; i++ {
		if err := d.gpio.ConfigureOutput(d.Pins[i]); err != nil {
			return err
		}
		if err := d.gpio.SetPin(d.Pins[i], d.Inverted); err != nil {
			return err
		}
	}
	return nil
}

func (d *GPIOCoilDriver) Energize(coil uint8) {
	d.gpio.SetPin(d.Pins[coil], !d.Inverted)
}

func (d *GPIOCoilDriver) Discharge(coil uint8) {
	d.gpio.SetPin(d.Pins[coil], d.Inverted)
}

func (d *GPIOCoilDriver) GetName() string {
	return "gpio"
}
