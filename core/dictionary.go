package core

import (
	"sync"

	"emucore/tinycompress"
)

// Dictionary is the JSON description of the firmware's messages and
// constants, served to the host in chunks by the identify command
type Dictionary struct {
	mu        sync.Mutex
	registry  *CommandRegistry
	version   string
	names     []string // Constant names in insertion order
	constants map[string]string
	cached    []byte
	packed    []byte // zlib form served by identify
}

// NewDictionary creates a dictionary over registry
func NewDictionary(registry *CommandRegistry, version string) *Dictionary {
	return &Dictionary{
		registry:  registry,
		version:   version,
		constants: make(map[string]string),
	}
}

// AddConstant adds or replaces a constant
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.constants[name]; !ok {
		d.names = append(d.names, name)
	}
	d.constants[name] = valueToString(value)
	d.cached = nil
	d.packed = nil
}

// AddEngineConstants publishes the wheel and coil layout
func (d *Dictionary) AddEngineConstants(cfg *EngineConfig) {
	d.AddConstant("CLOCK_FREQ", uint32(TimerFreq))
	d.AddConstant("WHEEL_TEETH", cfg.Wheel.ToothCount)
	d.AddConstant("MISSING_TEETH", cfg.Wheel.MissingTeeth)
	d.AddConstant("TOTAL_ANGLE", cfg.Wheel.TotalAngle)
	d.AddConstant("CYLINDERS", len(cfg.Cylinders))
	d.AddConstant("COILS", cfg.Coils)
	d.AddConstant("CAM_SYNC", cfg.CamSync)
}

// Generate returns the dictionary JSON, building it on first use
func (d *Dictionary) Generate() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generate()
}

func (d *Dictionary) generate() []byte {
	if d.cached == nil {
		d.cached = d.build()
	}
	return d.cached
}

// Compressed returns the zlib-wrapped dictionary
func (d *Dictionary) Compressed() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.packed == nil {
		raw := d.generate()
		d.packed = tinycompress.Compress(make([]byte, 0, tinycompress.CompressedSize(len(raw))), raw)
	}
	return d.packed
}

// build renders the JSON by hand; TinyGo's encoding/json leans on
// reflection the firmware does not carry
func (d *Dictionary) build() []byte {
	entries := d.registry.Entries()

	names := make([]string, len(d.names))
	copy(names, d.names)
	// Insertion sort keeps the output stable
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}

	out := make([]byte, 0, 1024)
	out = append(out, `{"version":"`...)
	out = append(out, d.version...)
	out = append(out, `","config":{`...)
	for i, name := range names {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '"')
		out = append(out, name...)
		out = append(out, `":"`...)
		out = append(out, d.constants[name]...)
		out = append(out, '"')
	}

	out = append(out, `},"commands":{`...)
	out = appendEntries(out, entries, true)
	out = append(out, `},"responses":{`...)
	out = appendEntries(out, entries, false)
	out = append(out, "}}"...)
	return out
}

func appendEntries(out []byte, entries []Command, commands bool) []byte {
	first := true
	for _, e := range entries {
		if (e.Handler != nil) != commands {
			continue
		}
		if !first {
			out = append(out, ',')
		}
		first = false
		out = append(out, '"')
		out = append(out, e.Name...)
		if e.Format != "" {
			out = append(out, ' ')
			out = append(out, e.Format...)
		}
		out = append(out, `":`...)
		out = appendUint(out, uint32(e.ID))
	}
	return out
}

// GetChunk returns up to count bytes of the compressed dictionary starting
// at offset. An empty chunk marks the end.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Compressed()
	if offset >= uint32(len(data)) {
		return nil
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	return data[offset:end]
}
