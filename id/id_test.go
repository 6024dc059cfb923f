package id_test

import (
	"encoding/json"
	"testing"

	"github.com/xraph/loom/id"
)

func TestNew_PrefixAndUniqueness(t *testing.T) {
	a := id.NewRunID()
	b := id.NewRunID()
	if a.Prefix() != id.PrefixRun {
		t.Errorf("Prefix = %q, want %q", a.Prefix(), id.PrefixRun)
	}
	if a.String() == b.String() {
		t.Errorf("two generated ids are equal: %s", a)
	}
	if a.IsNil() {
		t.Error("generated id reports nil")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	orig := id.NewRunID()
	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip = %s, want %s", parsed, orig)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "not a typeid", "_missingprefix"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) = nil error, want error", s)
		}
	}
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	wfID := id.NewWorkflowID()
	if _, err := id.ParseRunID(wfID.String()); err == nil {
		t.Error("ParseRunID(workflow id) = nil error, want prefix mismatch")
	}
	if _, err := id.ParseRunID(id.NewRunID().String()); err != nil {
		t.Errorf("ParseRunID(run id) error: %v", err)
	}
}

func TestNil(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Error("Nil.IsNil() = false")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", id.Nil.String())
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	orig := id.NewRunID()
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var decoded id.RunID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if decoded.String() != orig.String() {
		t.Errorf("round trip = %s, want %s", decoded, orig)
	}
}

func TestSQL_ValueAndScan(t *testing.T) {
	orig := id.NewRunID()
	v, err := orig.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	var scanned id.RunID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if scanned.String() != orig.String() {
		t.Errorf("round trip = %s, want %s", scanned, orig)
	}

	nilValue, err := id.Nil.Value()
	if err != nil {
		t.Fatalf("Nil.Value() error: %v", err)
	}
	if nilValue != nil {
		t.Errorf("Nil.Value() = %v, want nil", nilValue)
	}
	var fromNull id.RunID
	if err := fromNull.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if !fromNull.IsNil() {
		t.Error("Scan(nil) produced a non-nil id")
	}
}
