package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/comfort-companion/internal/domain"
	"gopkg.in/yaml.v3"
)

// personaFile is the on-disk layout of the companion persona.
type personaFile struct {
	Companion domain.CompanionConfig `yaml:"companion"`
}

// LoadPersona reads the companion persona from a YAML file.
func LoadPersona(path string) (domain.CompanionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.CompanionConfig{}, fmt.Errorf("read persona file: %w", err)
	}

	var f personaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return domain.CompanionConfig{}, fmt.Errorf("parse persona file: %w", err)
	}

	if v := os.Getenv("COMPANION_VOICE_STYLE"); v != "" {
		f.Companion.VoiceStyle = v
	}

	if err := validatePersona(f.Companion); err != nil {
		return domain.CompanionConfig{}, fmt.Errorf("invalid persona: %w", err)
	}
	return f.Companion, nil
}

func validatePersona(p domain.CompanionConfig) error {
	if strings.TrimSpace(p.VoiceStyle) == "" {
		return fmt.Errorf("companion.voice_style is required")
	}
	for i, b := range p.SafetyBoundaries {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("companion.safety_boundaries[%d] is empty", i)
		}
	}
	return nil
}
