package core

// GPIOPin is a target GPIO number
type GPIOPin uint32

// GPIODriver is the digital output layer the GPIO coil driver writes
// through. SetPin runs from timer compares and must not block.
type GPIODriver interface {
	// ConfigureOutput claims pin as a push-pull output
	ConfigureOutput(pin GPIOPin) error

	// SetPin drives pin high or low
	SetPin(pin GPIOPin, value bool) error

	// GetPin reads back the level of pin
	GetPin(pin GPIOPin) (bool, error)
}

var gpioDriver GPIODriver

// SetGPIODriver registers the target's GPIO implementation
func SetGPIODriver(d GPIODriver) {
	gpioDriver = d
}

// MustGPIO returns the registered driver. It panics when the target never
// called SetGPIODriver.
func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("GPIO driver not configured")
	}
	return gpioDriver
}
