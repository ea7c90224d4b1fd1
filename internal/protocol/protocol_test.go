package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeAudioResponse(t *testing.T) {
	m, err := Decode([]byte(`{"type":"audio_response","audio":"aGVsbG8=","text":"Hello Rose","chunkIndex":0}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Type != TypeAudioResponse || m.Text != "Hello Rose" || m.ChunkIndex != 0 || !m.Known() {
		t.Fatalf("Decode() = %+v", m)
	}
	audio, err := m.DecodeAudio()
	if err != nil || string(audio) != "hello" {
		t.Fatalf("DecodeAudio() = %q, %v", audio, err)
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	if _, err := Decode([]byte(`{"text":"no type"}`)); !errors.Is(err, ErrMissingType) {
		t.Fatalf("Decode() without type = %v, want ErrMissingType", err)
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	m, err := Decode([]byte(`{"type":"future_event"}`))
	if err != nil {
		t.Fatalf("Decode() unknown type error = %v", err)
	}
	if m.Known() {
		t.Fatal("future_event must not be known")
	}
	if _, err := (Inbound{Type: TypeAudioResponse, Audio: "%%%"}).DecodeAudio(); err == nil {
		t.Fatal("expected base64 error")
	}
}

func TestOutboundFrames(t *testing.T) {
	data, err := json.Marshal(NewStartSession("Rose", "Sam", "Sailor"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"type":"start_session","patientName":"Rose","caregiverName":"Sam","lifeStoryText":"Sailor"}`
	if string(data) != want {
		t.Fatalf("start_session = %s, want %s", data, want)
	}

	chunk, _ := json.Marshal(NewAudioChunk([]byte("hi")))
	if !strings.Contains(string(chunk), `"type":"audio_chunk"`) || !strings.Contains(string(chunk), `"audio":"aGk="`) {
		t.Fatalf("audio_chunk = %s", chunk)
	}
	bounded, _ := json.Marshal(NewAudioData([]byte("hi")))
	if !strings.Contains(string(bounded), `"type":"audio_data"`) {
		t.Fatalf("audio_data = %s", bounded)
	}
}
