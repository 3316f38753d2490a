// Package prefs persists the user-facing session preferences across runs.
// The transcript itself is never persisted.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-voice-agents/pkg/agents/scenarios"
)

type Prefs struct {
	PushToTalk        bool   `yaml:"push_to_talk" json:"pushToTalk"`
	LogsExpanded      bool   `yaml:"logs_expanded" json:"logsExpanded"`
	AudioPlayback     bool   `yaml:"audio_playback" json:"audioPlayback"`
	TranscriptVisible bool   `yaml:"transcript_visible" json:"transcriptVisible"`
	SpeechSpeed       string `yaml:"speech_speed,omitempty" json:"speechSpeed,omitempty"`
	Scenario          string `yaml:"scenario,omitempty" json:"scenario,omitempty"`
	Agent             string `yaml:"agent,omitempty" json:"agent,omitempty"`
}

// Defaults are used for anything never saved.
func Defaults() Prefs {
	return Prefs{
		LogsExpanded:      true,
		AudioPlayback:     true,
		TranscriptVisible: true,
		SpeechSpeed:       string(scenarios.SpeedNormal),
	}
}

func (p Prefs) Validate() error {
	if _, err := scenarios.ParseSpeechSpeed(p.SpeechSpeed); err != nil {
		return err
	}
	return nil
}

type Store interface {
	Load(ctx context.Context) (Prefs, error)
	Save(ctx context.Context, p Prefs) error
}

// FileStore keeps preferences in a YAML file.
type FileStore struct {
	Path string
}

func (s FileStore) Load(_ context.Context) (Prefs, error) {
	p := Defaults()
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("read prefs: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Defaults(), fmt.Errorf("parse prefs: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Defaults(), fmt.Errorf("invalid prefs in %s: %w", s.Path, err)
	}
	return p, nil
}

// Save writes through a temp file so a crash never leaves a torn file.
func (s FileStore) Save(_ context.Context, p Prefs) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create prefs dir: %w", err)
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("replace prefs: %w", err)
	}
	return nil
}

type MemoryStore struct {
	mu    sync.Mutex
	saved *Prefs
}

func (s *MemoryStore) Load(_ context.Context) (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		return Defaults(), nil
	}
	return *s.saved, nil
}

func (s *MemoryStore) Save(_ context.Context, p Prefs) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.saved = &p
	s.mu.Unlock()
	return nil
}

var (
	_ Store = FileStore{}
	_ Store = (*MemoryStore)(nil)
)
