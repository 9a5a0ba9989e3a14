// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type listenerRecord struct {
	Name    string    `json:"name"`
	Active  int       `json:"active"`
	Started time.Time `json:"started"`
	Note    string    `json:"note,omitempty"`
}

func TestMarshalDeterministic(t *testing.T) {
	first, err := Marshal(map[string]int{"zeta": 1, "alpha": 2, "mid": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(map[string]int{"mid": 3, "alpha": 2, "zeta": 1})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("map encoding is not deterministic")
		}
	}
}

func TestStreamRoundtripUsesJSONTags(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var buffer bytes.Buffer
	if err := NewEncoder(&buffer).Encode(listenerRecord{Name: "web", Active: 3, Started: started}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var generic map[string]any
	if err := Unmarshal(buffer.Bytes(), &generic); err != nil {
		t.Fatalf("Unmarshal into map: %v", err)
	}
	if _, ok := generic["name"]; !ok {
		t.Fatalf("encoded keys %v, want json tag names", generic)
	}
	if _, ok := generic["note"]; ok {
		t.Fatal("omitempty field was encoded")
	}

	var decoded listenerRecord
	if err := NewDecoder(&buffer).Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Name != "web" || decoded.Active != 3 || !decoded.Started.Equal(started) {
		t.Fatalf("decoded %+v", decoded)
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var value map[string]any
	if err := Unmarshal([]byte{0xff, 0x00}, &value); err == nil {
		t.Fatal("Unmarshal of invalid CBOR succeeded")
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"ok": true`) {
		t.Fatalf("Diagnose = %q", notation)
	}
}
