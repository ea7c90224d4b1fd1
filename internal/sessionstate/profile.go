package sessionstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/comfort-companion/internal/domain"
)

// MediaKind selects one of the patient media lists.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaMusic MediaKind = "music"
)

// Per-item size caps, measured on the decoded bytes.
const (
	MaxVideoBytes = 25 << 20
	MaxMusicBytes = 10 << 20
)

// ErrMediaTooLarge is returned when a media item exceeds its cap.
var ErrMediaTooLarge = errors.New("sessionstate: media item too large")

func (k MediaKind) key() (string, error) {
	switch k {
	case MediaVideo:
		return KeyPatientVideos, nil
	case MediaMusic:
		return KeyPatientMusic, nil
	}
	return "", fmt.Errorf("unknown media kind %q", k)
}

// MaxBytes is the per-item cap for the kind.
func (k MediaKind) MaxBytes() int {
	if k == MediaVideo {
		return MaxVideoBytes
	}
	return MaxMusicBytes
}

// Profile reads the patient and caregiver fields.
func (s *State) Profile(ctx context.Context) (domain.Profile, error) {
	values, err := s.getMany(ctx, KeyPatientName, KeyCaregiverName, KeyLifeStory, KeyDiseaseStage)
	if err != nil {
		return domain.Profile{}, err
	}
	return domain.Profile{
		PatientName:   values[KeyPatientName],
		CaregiverName: values[KeyCaregiverName],
		LifeStoryText: values[KeyLifeStory],
		DiseaseStage:  domain.DiseaseStage(values[KeyDiseaseStage]),
	}, nil
}

// SetProfile writes every profile field.
func (s *State) SetProfile(ctx context.Context, p domain.Profile) error {
	if !p.DiseaseStage.Valid() {
		return fmt.Errorf("invalid disease stage %q", p.DiseaseStage)
	}
	fields := []struct{ key, value string }{
		{KeyPatientName, p.PatientName},
		{KeyCaregiverName, p.CaregiverName},
		{KeyLifeStory, p.LifeStoryText},
		{KeyDiseaseStage, string(p.DiseaseStage)},
	}
	var warn error
	for _, f := range fields {
		if err := notPersisted(&warn, s.set(ctx, f.key, f.value)); err != nil {
			return err
		}
	}
	return warn
}

// CompanionConfig returns the stored persona and whether one is set.
func (s *State) CompanionConfig(ctx context.Context) (domain.CompanionConfig, bool, error) {
	var cfg domain.CompanionConfig
	_, ok, err := s.get(ctx, KeyCompanionConfig)
	if err != nil || !ok {
		return cfg, false, err
	}
	if err := s.getJSON(ctx, KeyCompanionConfig, &cfg); err != nil {
		return cfg, false, err
	}
	return cfg, true, nil
}

// SetCompanionConfig stores the persona.
func (s *State) SetCompanionConfig(ctx context.Context, cfg domain.CompanionConfig) error {
	return s.setJSON(ctx, KeyCompanionConfig, cfg)
}

// SeedCompanionConfig stores cfg only when no persona exists yet. It
// reports whether it wrote.
func (s *State) SeedCompanionConfig(ctx context.Context, cfg domain.CompanionConfig) (bool, error) {
	_, ok, err := s.get(ctx, KeyCompanionConfig)
	if err != nil || ok {
		return false, err
	}
	return true, s.SetCompanionConfig(ctx, cfg)
}

// Photo returns the stored base64 JPEG portrait.
func (s *State) Photo(ctx context.Context) (string, error) {
	v, _, err := s.get(ctx, KeyPatientPhoto)
	return v, err
}

// SetPhoto stores a base64 JPEG portrait.
func (s *State) SetPhoto(ctx context.Context, b64 string) error {
	return s.set(ctx, KeyPatientPhoto, b64)
}

// Media returns the base64 items of a media list.
func (s *State) Media(ctx context.Context, kind MediaKind) ([]string, error) {
	key, err := kind.key()
	if err != nil {
		return nil, err
	}
	s.listMu.Lock()
	defer s.listMu.Unlock()
	var items []string
	if err := s.getJSON(ctx, key, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// AppendMedia adds a base64 item whose decoded size is size bytes.
func (s *State) AppendMedia(ctx context.Context, kind MediaKind, b64 string, size int) error {
	key, err := kind.key()
	if err != nil {
		return err
	}
	if size > kind.MaxBytes() {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrMediaTooLarge, size, kind.MaxBytes())
	}
	s.listMu.Lock()
	defer s.listMu.Unlock()
	var items []string
	if err := s.getJSON(ctx, key, &items); err != nil {
		return err
	}
	return s.setJSON(ctx, key, append(items, b64))
}

// Status returns the companion's last published indicator state.
func (s *State) Status(ctx context.Context) (domain.StatusSnapshot, bool, error) {
	var st domain.StatusSnapshot
	_, ok, err := s.get(ctx, KeyCompanionStatus)
	if err != nil || !ok {
		return st, false, err
	}
	if err := s.getJSON(ctx, KeyCompanionStatus, &st); err != nil {
		return st, false, err
	}
	return st, true, nil
}

// SetStatus publishes the companion's indicator state.
func (s *State) SetStatus(ctx context.Context, st domain.StatusSnapshot) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now()
	}
	return s.setJSON(ctx, KeyCompanionStatus, st)
}
