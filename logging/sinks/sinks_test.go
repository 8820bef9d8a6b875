package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ssukumar/GlobalInvigoration/logging"
)

func TestJSONWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, 0)
	event := logging.Event{
		Type:     "trial.round_completed",
		Time:     time.UnixMilli(5_000).UTC(),
		Actor:    logging.Participant("P_1"),
		Block:    1,
		Round:    2,
		Severity: logging.SeverityInfo,
		Payload:  map[string]int{"reward": 50},
	}
	if err := sink.Write(event); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["type"] != "trial.round_completed" || decoded["severity"] != "info" {
		t.Fatalf("unexpected line: %v", decoded)
	}
	if decoded["round"] != float64(2) {
		t.Fatalf("unexpected round: %v", decoded["round"])
	}
}

func TestJSONPeriodicFlushStopsOnClose(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, time.Hour)
	if err := sink.Write(logging.Event{Type: "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected buffered output before close")
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected flushed output after close")
	}
}

func TestZapMapsSeverity(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewZap(zap.New(core))
	if err := sink.Write(logging.Event{Type: "persistence.write_failed", Severity: logging.SeverityError, Actor: logging.Participant("P_9")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel || entries[0].Message != "persistence.write_failed" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
	if got := entries[0].ContextMap()["actor"]; got != "participant:P_9" {
		t.Fatalf("unexpected actor: %v", got)
	}
}

func TestMemorySinkOfType(t *testing.T) {
	sink := NewMemorySink()
	_ = sink.Write(logging.Event{Type: "a"})
	_ = sink.Write(logging.Event{Type: "b"})
	_ = sink.Write(logging.Event{Type: "a"})
	if got := len(sink.OfType("a")); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
	sink.Reset()
	if len(sink.Events()) != 0 {
		t.Fatalf("expected reset")
	}
}
