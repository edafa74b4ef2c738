package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestDefault_InfofWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Default().Infof("admitted %s", "005930")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not valid JSON: %v (%s)", err, buf.String())
	}
	if rec["message"] != "admitted 005930" {
		t.Fatalf("message field = %v, want %q", rec["message"], "admitted 005930")
	}
}

func TestWith_AddsComponentField(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Default().With("engine").Warnf("risk-off entered")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if rec["component"] != "engine" {
		t.Fatalf("component field = %v, want engine", rec["component"])
	}
}

func TestPackageLevelWrappers_WriteToCurrentOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Errorf("reconcile failed: %s", "timeout")
	if !strings.Contains(buf.String(), "reconcile failed: timeout") {
		t.Fatalf("expected message in output, got %s", buf.String())
	}
}
