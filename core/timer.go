package core

// The crank decoder and the coil scheduler work in microseconds. Targets run
// the system timer at 1MHz so one tick is one microsecond.
const (
	TimerFreq = 1000000
)

var bootTime uint32 // Clock at TimerInit, for uptime reporting

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// GetUptime returns ticks elapsed since TimerInit
func GetUptime() uint32 {
	return GetTime() - bootTime
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

// TimerInit initializes the system timer
func TimerInit() {
	bootTime = GetTime()
}

// timeBefore reports whether a is earlier than b on the free-running 32-bit
// clock. Valid while the two are less than 2^31 ticks (~35 minutes) apart.
func timeBefore(a, b uint32) bool {
	return int32(a-b) < 0
}
