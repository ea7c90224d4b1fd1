// Package domain contains core domain types for the comfort companion.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Session is one caregiver-initiated voice-interaction episode.
type Session struct {
	Active        bool      `json:"active"`
	StartedAt     time.Time `json:"started_at"`
	PatientName   string    `json:"patient_name"`
	CaregiverName string    `json:"caregiver_name"`
	LifeStoryText string    `json:"life_story_text"`
}

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	// SpeakerPatient marks finalized patient speech.
	SpeakerPatient Speaker = "patient"
	// SpeakerCompanion marks the companion's spoken response text.
	SpeakerCompanion Speaker = "companion"
	// SpeakerSystem marks lifecycle and safety notes.
	SpeakerSystem Speaker = "system"
)

// Valid reports whether s is a known speaker.
func (s Speaker) Valid() bool {
	switch s {
	case SpeakerPatient, SpeakerCompanion, SpeakerSystem:
		return true
	}
	return false
}

// TranscriptEntry is one line of the append-only conversation log.
type TranscriptEntry struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
}

type transcriptEntryJSON struct {
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
}

// MarshalJSON encodes the timestamp as epoch milliseconds.
func (e TranscriptEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(transcriptEntryJSON{
		Speaker:   e.Speaker,
		Text:      e.Text,
		Timestamp: e.Timestamp.UnixMilli(),
	})
}

// UnmarshalJSON decodes an entry with an epoch millisecond timestamp.
func (e *TranscriptEntry) UnmarshalJSON(data []byte) error {
	var raw transcriptEntryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Speaker != "" && !raw.Speaker.Valid() {
		return fmt.Errorf("unknown speaker %q", raw.Speaker)
	}
	e.Speaker = raw.Speaker
	e.Text = raw.Text
	e.Timestamp = time.UnixMilli(raw.Timestamp)
	return nil
}
