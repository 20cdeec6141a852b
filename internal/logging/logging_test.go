package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	buf.Reset()
	return m
}

func TestLogExitFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	LogExit(logger, "p1", "stop_hit", 95, -50, -1)
	m := decodeLine(t, &buf)
	if m["event"] != "exit" || m["reason"] != "stop_hit" || m["r_multiple"] != -1.0 {
		t.Errorf("exit line = %v", m)
	}
	if m["plan_id"] != "p1" {
		t.Errorf("plan_id missing: %v", m)
	}
}

func TestLogStoreCallLevels(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	logger := WithPlan(zerolog.New(&buf), "p1")

	LogStoreCall(logger, "save_plan", 3*time.Millisecond, errors.New("locked"))
	m := decodeLine(t, &buf)
	if m["error"] != "locked" || m["operation"] != "save_plan" || m["plan_id"] != "p1" || m["message"] != "Store call failed" {
		t.Errorf("failed call = %v", m)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"":      zerolog.InfoLevel,
		"loud":  zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
