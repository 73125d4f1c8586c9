package configutil

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSchemaCheck(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"model"}}

	if err := schema.Check(map[string]any{"API-Key": "k", "model": "nova-2"}); err != nil {
		t.Fatalf("expected normalized keys to pass, got %v", err)
	}

	err := schema.Check(map[string]any{"api_key": "  ", "tempo": 1, "pitch": 2})
	var serr *SettingsError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SettingsError, got %v", err)
	}
	if len(serr.Missing) != 1 || serr.Missing[0] != "api_key" {
		t.Fatalf("expected blank api_key reported missing, got %v", serr.Missing)
	}
	if strings.Join(serr.Unknown, ",") != "pitch,tempo" {
		t.Fatalf("expected sorted unknown keys, got %v", serr.Unknown)
	}
	if err.Error() != "missing: api_key; unknown: pitch, tempo" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	loose := Schema{AllowUnknown: true}
	if err := loose.Check(map[string]any{"anything": true}); err != nil {
		t.Fatalf("expected unknown keys allowed, got %v", err)
	}
}

func TestDecodeWeakTypes(t *testing.T) {
	var out struct {
		Threshold int           `mapstructure:"circuit_threshold"`
		Interim   *bool         `mapstructure:"interim"`
		Backoff   time.Duration `mapstructure:"backoff"`
		Keywords  []string      `mapstructure:"keywords"`
	}
	settings := map[string]any{
		"circuit-threshold": "5",
		"interim":           "false",
		"backoff":           "750ms",
		"keywords":          "standup,retro",
	}
	schema := Schema{Optional: []string{"circuit_threshold", "interim", "backoff", "keywords"}}
	if err := Decode("vendors.stt.settings", settings, schema, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Threshold != 5 || BoolValue(out.Interim, true) || out.Backoff != 750*time.Millisecond {
		t.Fatalf("unexpected decode %+v", out)
	}
	if len(out.Keywords) != 2 || out.Keywords[1] != "retro" {
		t.Fatalf("unexpected keywords %v", out.Keywords)
	}
}

func TestDecodePrefixesPath(t *testing.T) {
	var out struct{}
	err := Decode("vendors.refine.settings", map[string]any{"tempo": 1}, Schema{}, &out)
	if err == nil || !strings.HasPrefix(err.Error(), "vendors.refine.settings: unknown: tempo") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestHelpers(t *testing.T) {
	if err := RequireString(" ", "vendors.llm.settings.model"); err == nil || !strings.Contains(err.Error(), "model is required") {
		t.Fatalf("unexpected error %v", err)
	}
	n := 0
	if IntValue(&n, 7) != 0 || IntValue(nil, 7) != 7 {
		t.Fatalf("IntValue must honor explicit zero")
	}
	if Millis(0, time.Second) != time.Second || Millis(250, time.Second) != 250*time.Millisecond {
		t.Fatalf("unexpected Millis")
	}
}
