package codec

import (
	"reflect"
	"testing"
)

func TestRoundTripRecord(t *testing.T) {
	in := map[string]any{
		"op":         "start_command",
		"seq_number": int64(3),
		"args":       map[string]any{"path": "/wrk"},
	}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out map[string]any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out["op"] != "start_command" {
		t.Errorf("op = %v", out["op"])
	}

	// Nested maps must come back string-keyed regardless of the
	// any-typed target.
	args, ok := out["args"].(map[string]any)
	if !ok {
		t.Fatalf("args decoded as %T, want map[string]any", out["args"])
	}
	if args["path"] != "/wrk" {
		t.Errorf("args = %v", args)
	}
}

func TestDeterministicEncoding(t *testing.T) {
	rec := map[string]any{"b": 1, "a": 2, "c": 3}

	first, err := Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	second, err := Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("same record produced different bytes")
	}
}
