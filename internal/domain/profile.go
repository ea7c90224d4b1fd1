package domain

import "time"

// DiseaseStage is the caregiver's classification of dementia progression.
type DiseaseStage string

const (
	StageEarly   DiseaseStage = "early"
	StageMiddle  DiseaseStage = "middle"
	StageLate    DiseaseStage = "late"
	StageUnknown DiseaseStage = ""
)

// Valid reports whether the stage is one of the known values.
func (d DiseaseStage) Valid() bool {
	switch d {
	case StageEarly, StageMiddle, StageLate, StageUnknown:
		return true
	}
	return false
}

// Profile holds the patient and caregiver fields fed to the backend.
type Profile struct {
	PatientName   string       `json:"patient_name"`
	CaregiverName string       `json:"caregiver_name"`
	LifeStoryText string       `json:"life_story_text"`
	DiseaseStage  DiseaseStage `json:"disease_stage"`
}

// CompanionConfig describes the companion persona.
type CompanionConfig struct {
	VoiceStyle       string   `json:"voice_style" yaml:"voice_style"`
	ToneAnchors      []string `json:"tone_anchors" yaml:"tone_anchors"`
	SafetyBoundaries []string `json:"safety_boundaries" yaml:"safety_boundaries"`
}

// StatusSnapshot is the companion's externally visible indicator state.
type StatusSnapshot struct {
	Turn      string    `json:"turn"`
	Listening bool      `json:"listening"`
	Speaking  bool      `json:"speaking"`
	Safety    string    `json:"safety"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}
