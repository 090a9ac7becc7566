package core

import "sync/atomic"

// CoilStatus is the diagnostic view of one coil
type CoilStatus struct {
	State           CoilState
	Cylinder        uint8  // Cylinder the next spark belongs to
	SparkAngle      uint32 // Within the coil period
	DwellStartAngle uint32 // Within the coil period
	ChargeAt        uint32 // Commanded charge time
	SparkAt         uint32 // Commanded spark time
	Advance         int32  // Latched for the current cycle
	DwellUS         uint32 // Latched for the current cycle
	LastCharge      uint32
	LastDischarge   uint32
	LastService     uint32 // Clock when a compare handler last ran for this coil
	Jitter          int32  // Service time minus commanded compare time
	Sparks          uint32
	Misses          uint32
	Faults          uint32
}

// Snapshot is a consistent copy of the engine state
type Snapshot struct {
	Crank      CrankState
	Coils      [MaxCoils]CoilStatus
	NumCoils   uint8
	Advance    int32  // Active tuning
	DwellUS    uint32 // Active tuning
	LastDesync DesyncReason
	Desyncs    uint32
	Generation uint32 // Bumped on every write
}

// EngineStateStore holds the published engine state. Only interrupt-context
// code writes it, through the unexported publish methods; readers take
// Snapshot.
type EngineStateStore struct {
	state  Snapshot
	tuning atomic.Uint64 // advance in the high word, dwell in the low word
}

// NewEngineStateStore creates a store for numCoils coils
func NewEngineStateStore(numCoils uint8) *EngineStateStore {
	s := &EngineStateStore{}
	s.init(numCoils)
	return s
}

func (s *EngineStateStore) init(numCoils uint8) {
	s.state.NumCoils = numCoils
}

// Snapshot returns a copy taken with interrupts disabled, so it never mixes
// the fields of two different edges.
func (s *EngineStateStore) Snapshot() Snapshot {
	state := disableInterrupts()
	snap := s.state
	snap.Advance, snap.DwellUS = s.Tuning()
	restoreInterrupts(state)
	return snap
}

// SetTuning publishes advance and dwell in one store. Callable from main
// context; coils pick it up at their next Pending to Preparing transition.
func (s *EngineStateStore) SetTuning(advance int32, dwellUS uint32) {
	s.tuning.Store(packTuning(advance, dwellUS))
}

// Tuning returns the most recently published advance and dwell
func (s *EngineStateStore) Tuning() (int32, uint32) {
	return unpackTuning(s.tuning.Load())
}

func packTuning(advance int32, dwellUS uint32) uint64 {
	return uint64(uint32(advance))<<32 | uint64(dwellUS)
}

func unpackTuning(v uint64) (int32, uint32) {
	return int32(uint32(v >> 32)), uint32(v)
}

func (s *EngineStateStore) publishCrank(c *CrankState) {
	s.state.Crank = *c
	s.state.Generation++
}

func (s *EngineStateStore) publishCoil(index uint8, c *CoilStatus) {
	s.state.Coils[index] = *c
	s.state.Generation++
}

func (s *EngineStateStore) publishDesync(reason DesyncReason) {
	s.state.LastDesync = reason
	s.state.Desyncs++
	s.state.Generation++
}
