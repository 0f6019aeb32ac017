// Package session persists what one step of the workflow learned so the
// next step can run as a separate command: the captured request, the
// descriptor from the update server and the rewritten descriptor.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/endorses/paper/internal/pkg/matcher"
	"gopkg.in/yaml.v3"
)

// ErrIncomplete is returned when a step needs data an earlier step has
// not written yet.
var ErrIncomplete = errors.New("session is missing data from an earlier step")

// State is the on-disk session document.
type State struct {
	Capture *matcher.CaptureResult `yaml:"capture,omitempty"`
	// Descriptor is the update server's response as received
	Descriptor string `yaml:"descriptor,omitempty"`
	// Payload is the rewritten descriptor served on checkVersion
	Payload   string    `yaml:"payload,omitempty"`
	ImagePath string    `yaml:"image_path,omitempty"`
	DeltaURL  string    `yaml:"delta_url,omitempty"`
	Patched   bool      `yaml:"patched,omitempty"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// Load reads path. A missing file yields an empty state.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", path, err)
	}
	var s State
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}
	return &s, nil
}

// Save writes s to path through a temporary file and rename.
func (s *State) Save(path string) error {
	s.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// RequireCapture returns the captured request or ErrIncomplete.
func (s *State) RequireCapture() (*matcher.CaptureResult, error) {
	if s.Capture == nil || s.Capture.ProductURL == "" {
		return nil, fmt.Errorf("%w: no captured request, run capture first", ErrIncomplete)
	}
	return s.Capture, nil
}

// RequirePayload returns the descriptor to serve or ErrIncomplete.
func (s *State) RequirePayload() ([]byte, error) {
	if s.Payload == "" {
		return nil, fmt.Errorf("%w: no rewritten descriptor, run patch first", ErrIncomplete)
	}
	return []byte(s.Payload), nil
}
