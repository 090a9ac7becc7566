package link

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Dictionary is the parsed identify dictionary. Command and response keys
// carry the message name followed by its field format.
type Dictionary struct {
	Version   string            `json:"version"`
	Config    map[string]string `json:"config"`
	Commands  map[string]int    `json:"commands"`
	Responses map[string]int    `json:"responses"`

	commandIDs  map[string]uint16
	responseIDs map[string]uint16
	formats     map[string]string
}

// inflate unwraps a zlib dictionary. Data that does not start with a zlib
// header is returned as is.
func inflate(data []byte) ([]byte, error) {
	if len(data) == 0 || data[0] != 0x78 {
		return data, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("dictionary is not zlib compressed: %w", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("inflate dictionary: %w", err)
	}
	return raw, nil
}

// ParseDictionary decodes the JSON served by identify
func ParseDictionary(data []byte) (*Dictionary, error) {
	d := &Dictionary{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dictionary: %w", err)
	}
	d.formats = make(map[string]string)
	d.commandIDs = indexMessages(d.Commands, d.formats)
	d.responseIDs = indexMessages(d.Responses, d.formats)
	return d, nil
}

func indexMessages(entries map[string]int, formats map[string]string) map[string]uint16 {
	ids := make(map[string]uint16, len(entries))
	for key, id := range entries {
		name, format, _ := strings.Cut(key, " ")
		ids[name] = uint16(id)
		formats[name] = format
	}
	return ids
}

// CommandID returns the ID of a host to firmware command
func (d *Dictionary) CommandID(name string) (uint16, error) {
	id, ok := d.commandIDs[name]
	if !ok {
		return 0, fmt.Errorf("%w: command %s", ErrUnknownMessage, name)
	}
	return id, nil
}

// ResponseID returns the ID of a firmware to host message
func (d *Dictionary) ResponseID(name string) (uint16, error) {
	id, ok := d.responseIDs[name]
	if !ok {
		return 0, fmt.Errorf("%w: response %s", ErrUnknownMessage, name)
	}
	return id, nil
}

// Format returns the field format of a message, empty when it has none
func (d *Dictionary) Format(name string) string {
	return d.formats[name]
}

// Constant returns a config constant
func (d *Dictionary) Constant(name string) (string, bool) {
	v, ok := d.Config[name]
	return v, ok
}

// ConstantInt returns a numeric config constant
func (d *Dictionary) ConstantInt(name string) (int, error) {
	v, ok := d.Config[name]
	if !ok {
		return 0, fmt.Errorf("constant %s not in dictionary", name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("constant %s: %w", name, err)
	}
	return n, nil
}
