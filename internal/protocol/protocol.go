// Package protocol defines the JSON text frames exchanged with the
// conversational backend. Every frame carries a "type" discriminator.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the frame discriminator.
type Type string

// Inbound frame types.
const (
	TypeSessionStarted    Type = "session_started"
	TypeListening         Type = "listening"
	TypeInterimTranscript Type = "interim_transcript"
	TypeTranscript        Type = "transcript"
	TypeAudioResponse     Type = "audio_response"
	TypeResponseEnd       Type = "response_end"
	TypeIntervention      Type = "intervention"
	TypeKillSwitch        Type = "kill_switch"
	TypeError             Type = "error"
)

// Outbound frame types.
const (
	TypeStartSession Type = "start_session"
	TypeAudioChunk   Type = "audio_chunk"
	TypeAudioData    Type = "audio_data"
)

// ErrMissingType is returned for frames without a type.
var ErrMissingType = errors.New("protocol: frame has no type")

// Inbound is any frame received from the backend. Fields not used by a
// given type are left zero.
type Inbound struct {
	Type       Type   `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	ChunkIndex int    `json:"chunkIndex,omitempty"`
	Tier       int    `json:"tier,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Known reports whether the frame type is one the client handles.
func (m Inbound) Known() bool {
	switch m.Type {
	case TypeSessionStarted, TypeListening, TypeInterimTranscript, TypeTranscript,
		TypeAudioResponse, TypeResponseEnd, TypeIntervention, TypeKillSwitch, TypeError:
		return true
	}
	return false
}

// DecodeAudio returns the raw bytes of an audio_response payload.
func (m Inbound) DecodeAudio() ([]byte, error) {
	if m.Audio == "" {
		return nil, fmt.Errorf("decode audio: empty payload")
	}
	data, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return data, nil
}

// Decode parses one inbound text frame.
func Decode(data []byte) (Inbound, error) {
	var m Inbound
	if err := json.Unmarshal(data, &m); err != nil {
		return Inbound{}, fmt.Errorf("decode frame: %w", err)
	}
	if m.Type == "" {
		return Inbound{}, ErrMissingType
	}
	return m, nil
}

// StartSession opens a conversation with the patient's context.
type StartSession struct {
	Type          Type   `json:"type"`
	PatientName   string `json:"patientName"`
	CaregiverName string `json:"caregiverName"`
	LifeStoryText string `json:"lifeStoryText"`
}

// NewStartSession builds a start_session frame.
func NewStartSession(patientName, caregiverName, lifeStory string) StartSession {
	return StartSession{
		Type:          TypeStartSession,
		PatientName:   patientName,
		CaregiverName: caregiverName,
		LifeStoryText: lifeStory,
	}
}

// Audio carries one captured chunk. Type is audio_chunk when streaming
// continuously and audio_data for a bounded utterance.
type Audio struct {
	Type  Type   `json:"type"`
	Audio string `json:"audio"`
}

// NewAudioChunk builds an audio_chunk frame.
func NewAudioChunk(payload []byte) Audio {
	return Audio{Type: TypeAudioChunk, Audio: base64.StdEncoding.EncodeToString(payload)}
}

// NewAudioData builds an audio_data frame.
func NewAudioData(payload []byte) Audio {
	return Audio{Type: TypeAudioData, Audio: base64.StdEncoding.EncodeToString(payload)}
}
