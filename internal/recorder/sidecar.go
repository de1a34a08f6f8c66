package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ios-tooling/tapedeck/internal/levels"
)

const (
	// SidecarName is the metadata file next to a session's sounds
	SidecarName = "session.json"
	// SoundsDir holds the recorded audio of a session
	SoundsDir = "sounds"
)

// Sidecar is the persisted description of a recording session
type Sidecar struct {
	ID                   string                 `json:"id"`
	Name                 string                 `json:"name,omitempty"`
	Output               Kind                   `json:"output"`
	StartedAt            time.Time              `json:"started_at"`
	EndedAt              *time.Time             `json:"ended_at,omitempty"`
	SampleRate           int                    `json:"sample_rate"`
	Channels             int                    `json:"channels"`
	TargetType           string                 `json:"target_type"`
	ChunkDurationSeconds float64                `json:"chunk_duration_seconds,omitempty"`
	RetentionSeconds     float64                `json:"retention_seconds,omitempty"`
	DurationSeconds      float64                `json:"duration_seconds"`
	Location             string                 `json:"location,omitempty"`
	Levels               levels.SummarySnapshot `json:"levels"`
	Transcript           string                 `json:"transcript,omitempty"`
	Error                string                 `json:"error,omitempty"`
}

// WriteSidecar stores s in dir, replacing any previous sidecar
func WriteSidecar(dir string, s Sidecar) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}

	path := filepath.Join(dir, SidecarName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move sidecar into place: %w", err)
	}
	return nil
}

// ReadSidecar loads the sidecar of the session stored in dir
func ReadSidecar(dir string) (Sidecar, error) {
	data, err := os.ReadFile(filepath.Join(dir, SidecarName))
	if err != nil {
		return Sidecar{}, fmt.Errorf("failed to read sidecar: %w", err)
	}
	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return Sidecar{}, fmt.Errorf("failed to parse sidecar: %w", err)
	}
	return s, nil
}
