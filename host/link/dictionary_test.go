package link

import (
	"bytes"
	"compress/zlib"
	"errors"
	"testing"
)

const sampleDictionary = `{"version":"v1","config":{"COILS":"2","CAM_SYNC":"1","NAME":"x"},
"commands":{"identify offset=%u count=%c":1,"get_clock":2},
"responses":{"identify_response offset=%u data=%*s":0,"clock clock=%u":3}}`

func TestParseDictionary(t *testing.T) {
	d, err := ParseDictionary([]byte(sampleDictionary))
	if err != nil {
		t.Fatalf("ParseDictionary failed: %v", err)
	}

	if id, err := d.CommandID("get_clock"); err != nil || id != 2 {
		t.Errorf("Expected get_clock 2, got %d (%v)", id, err)
	}
	if id, err := d.ResponseID("clock"); err != nil || id != 3 {
		t.Errorf("Expected clock 3, got %d (%v)", id, err)
	}
	if f := d.Format("identify"); f != "offset=%u count=%c" {
		t.Errorf("Expected identify format, got %q", f)
	}
	if f := d.Format("get_clock"); f != "" {
		t.Errorf("Expected empty format, got %q", f)
	}
	if _, err := d.CommandID("clock"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Expected ErrUnknownMessage for a response looked up as command, got %v", err)
	}

	if n, err := d.ConstantInt("COILS"); err != nil || n != 2 {
		t.Errorf("Expected COILS 2, got %d (%v)", n, err)
	}
	if _, err := d.ConstantInt("NAME"); err == nil {
		t.Error("Expected an error for a non-numeric constant")
	}
	if _, err := d.ConstantInt("MISSING"); err == nil {
		t.Error("Expected an error for a missing constant")
	}
	if v, ok := d.Constant("CAM_SYNC"); !ok || v != "1" {
		t.Errorf("Expected CAM_SYNC 1, got %q", v)
	}
}

func TestParseDictionaryInvalid(t *testing.T) {
	if _, err := ParseDictionary([]byte(`{"version":`)); err == nil {
		t.Error("Expected an error for truncated JSON")
	}
}

func TestInflateDictionary(t *testing.T) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write([]byte(sampleDictionary))
	w.Close()

	raw, err := inflate(buf.Bytes())
	if err != nil {
		t.Fatalf("inflate failed: %v", err)
	}
	if string(raw) != sampleDictionary {
		t.Errorf("Expected the sample dictionary back, got %q", raw)
	}

	plain, err := inflate([]byte(sampleDictionary))
	if err != nil || string(plain) != sampleDictionary {
		t.Errorf("Expected plain JSON to pass through, got %q (%v)", plain, err)
	}

	if _, err := inflate([]byte{0x78, 0x00, 0x01}); err == nil {
		t.Error("Expected an error for a truncated zlib stream")
	}
}
