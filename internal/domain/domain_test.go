package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTranscriptEntryJSONUsesEpochMillis(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	data, err := json.Marshal(TranscriptEntry{Speaker: SpeakerPatient, Text: "hello", Timestamp: ts})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"speaker":"patient","text":"hello","timestamp":1700000000123}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}

	var got TranscriptEntry
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, ts)
	}
}

func TestTranscriptEntryRejectsUnknownSpeaker(t *testing.T) {
	var e TranscriptEntry
	if err := json.Unmarshal([]byte(`{"speaker":"robot","text":"x","timestamp":1}`), &e); err == nil {
		t.Fatal("expected error for unknown speaker")
	}
}

func TestSafetyStateRoundTrip(t *testing.T) {
	for _, s := range []SafetyState{SafetyNormal, SafetyMildConcern, SafetyHighStress, SafetyKillSwitch} {
		got, err := ParseSafetyState(s.String())
		if err != nil {
			t.Fatalf("ParseSafetyState(%q): %v", s.String(), err)
		}
		if got != s {
			t.Fatalf("ParseSafetyState(%q) = %v, want %v", s.String(), got, s)
		}
	}
	if got, _ := ParseSafetyState(""); got != SafetyNormal {
		t.Fatalf("empty state = %v, want normal", got)
	}
	if _, err := SafetyFromTier(4); err == nil {
		t.Fatal("tier 4 must not map to a state")
	}
}

func TestNewGameSessionLog(t *testing.T) {
	start := time.Unix(1000, 0)
	end := start.Add(95 * time.Second)
	entry := NewGameSessionLog(GameStatueReveal, start, end)
	if entry.GameName != "Statue Reveal" {
		t.Fatalf("GameName = %q", entry.GameName)
	}
	if entry.DurationSeconds != 95 {
		t.Fatalf("DurationSeconds = %d, want 95", entry.DurationSeconds)
	}
	if entry.EndedAt != end.UnixMilli() {
		t.Fatalf("EndedAt = %d, want %d", entry.EndedAt, end.UnixMilli())
	}

	clock := NewGameSessionLog("unknown-game", end, start)
	if clock.DurationSeconds != 0 || clock.GameName != "unknown-game" {
		t.Fatalf("unexpected entry %+v", clock)
	}
}
