package proto

import (
	"encoding/json"
	"testing"

	"github.com/ssukumar/GlobalInvigoration/internal/records"
	"github.com/ssukumar/GlobalInvigoration/internal/trial"
)

func TestDecodeClientMessage(t *testing.T) {
	t.Run("pointer", func(t *testing.T) {
		msg, err := DecodeClientMessage([]byte(`{"ver":1,"type":"pointer","x":12.5,"y":-4,"t":1700000000123}`))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != TypePointer || msg.X != 12.5 || msg.Y != -4 || msg.T != 1700000000123 {
			t.Fatalf("unexpected pointer message: %+v", msg)
		}
	})

	t.Run("key is lower-cased", func(t *testing.T) {
		msg, err := DecodeClientMessage([]byte(`{"type":"keydown","key":"A","t":5}`))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Key != "a" {
			t.Fatalf("expected lower-cased key, got %q", msg.Key)
		}
	})

	t.Run("key message without key", func(t *testing.T) {
		if _, err := DecodeClientMessage([]byte(`{"type":"keyup"}`)); err == nil {
			t.Fatalf("expected error for keyup without key")
		}
	})

	t.Run("viewport requires width", func(t *testing.T) {
		if _, err := DecodeClientMessage([]byte(`{"type":"viewport","width":0,"height":600}`)); err == nil {
			t.Fatalf("expected error for zero width")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := DecodeClientMessage([]byte(`{"type":"teleport"}`)); err == nil {
			t.Fatalf("expected error for unknown type")
		}
	})

	t.Run("future version", func(t *testing.T) {
		if _, err := DecodeClientMessage([]byte(`{"ver":2,"type":"resume"}`)); err == nil {
			t.Fatalf("expected error for unsupported version")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		if _, err := DecodeClientMessage([]byte(`{"type":`)); err == nil {
			t.Fatalf("expected error for malformed payload")
		}
	})
}

func TestEncodeStateMessage(t *testing.T) {
	snap := trial.Snapshot{ParticipantID: "P_1", Phase: trial.PhaseCollecting, Sequence: []string{"a", "s"}, Reward: 30}
	data, err := Encode(NewState(42, snap))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["type"] != TypeState {
		t.Fatalf("expected type %q, got %v", TypeState, payload["type"])
	}
	if payload["ver"] != float64(Version) {
		t.Fatalf("expected ver %d, got %v", Version, payload["ver"])
	}
	state, ok := payload["state"].(map[string]any)
	if !ok {
		t.Fatalf("expected state object, got %T", payload["state"])
	}
	if state["phase"] != string(trial.PhaseCollecting) || state["reward"] != float64(30) {
		t.Fatalf("unexpected state payload: %v", state)
	}
}

func TestEncodeEndedMessage(t *testing.T) {
	data, err := Encode(NewEnded(records.Session{ParticipantID: "P_1", Status: records.SessionCompleted, Score: 80}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded EndedMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != TypeEnded || decoded.Session.Score != 80 || decoded.Session.Status != records.SessionCompleted {
		t.Fatalf("unexpected ended message: %+v", decoded)
	}
}
