// Package settings holds the face check-in tunables: embedded defaults,
// an optional YAML override file and FACE_* environment overrides.
package settings

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// EnvPrefix is prepended to upper-cased keys for environment overrides,
// e.g. FACE_MIN_FACE_SIZE=100.
const EnvPrefix = "FACE"

// Tunables is the named set of detection thresholds read at session start.
type Tunables struct {
	MinConfidence                 float64 `yaml:"min_confidence" mapstructure:"min_confidence" json:"MIN_CONFIDENCE"`
	RecognitionThreshold          float64 `yaml:"recognition_threshold" mapstructure:"recognition_threshold" json:"RECOGNITION_THRESHOLD"`
	MinFaceSize                   int     `yaml:"min_face_size" mapstructure:"min_face_size" json:"MIN_FACE_SIZE"`
	RequiredConsecutiveDetections int     `yaml:"required_consecutive_detections" mapstructure:"required_consecutive_detections" json:"REQUIRED_CONSECUTIVE_DETECTIONS"`
	DetectionIntervalMS           int     `yaml:"detection_interval" mapstructure:"detection_interval" json:"DETECTION_INTERVAL"`
	MaxAngle                      float64 `yaml:"max_angle" mapstructure:"max_angle" json:"MAX_ANGLE"`
	MinBrightness                 float64 `yaml:"min_brightness" mapstructure:"min_brightness" json:"MIN_BRIGHTNESS"`
	MinFaceScore                  float64 `yaml:"min_face_score" mapstructure:"min_face_score" json:"MIN_FACE_SCORE"`
	MaxDetectionDistance          float64 `yaml:"max_detection_distance" mapstructure:"max_detection_distance" json:"MAX_DETECTION_DISTANCE"`
	MinLandmarksVisibility        float64 `yaml:"min_landmarks_visibility" mapstructure:"min_landmarks_visibility" json:"MIN_LANDMARKS_VISIBILITY"`
	LateThresholdHour             int     `yaml:"late_threshold_hour" mapstructure:"late_threshold_hour" json:"LATE_THRESHOLD_HOUR"`
	LateThresholdMinute           int     `yaml:"late_threshold_minute" mapstructure:"late_threshold_minute" json:"LATE_THRESHOLD_MINUTE"`
}

// DetectionInterval returns the tick period of the detection loop.
func (t Tunables) DetectionInterval() time.Duration {
	return time.Duration(t.DetectionIntervalMS) * time.Millisecond
}

// Defaults returns the embedded default tunables.
func Defaults() Tunables {
	var t Tunables
	if err := yaml.Unmarshal(defaultsYAML, &t); err != nil {
		// Embedded file, can only fail on a broken build.
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return t
}

// Load merges defaults, the override file at path (if it exists) and
// FACE_* environment variables, then validates the result.
func Load(path string) (Tunables, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultsYAML)); err != nil {
		return Tunables{}, fmt.Errorf("read default settings: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return Tunables{}, fmt.Errorf("read settings file %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Tunables{}, fmt.Errorf("stat settings file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var t Tunables
	if err := v.Unmarshal(&t); err != nil {
		return Tunables{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tunables{}, err
	}
	return t, nil
}

// Store is the process-wide holder of the current tunables. Updates are
// validated and written back to the override file.
type Store struct {
	mu      sync.RWMutex
	path    string
	current Tunables
}

// NewStore loads tunables from path and the environment.
func NewStore(path string) (*Store, error) {
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, current: t}, nil
}

// NewStaticStore returns a store that never touches the filesystem.
func NewStaticStore(t Tunables) *Store {
	return &Store{current: t}
}

// Get returns a snapshot of the current tunables.
func (s *Store) Get() Tunables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates t, persists it and makes it current. Running sessions
// keep the snapshot they started with.
func (s *Store) Update(t Tunables) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		data, err := yaml.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		if err := os.WriteFile(s.path, data, 0o644); err != nil {
			return fmt.Errorf("write settings file %s: %w", s.path, err)
		}
	}
	s.current = t
	return nil
}

// Reset removes the override file and reloads defaults plus environment.
func (s *Store) Reset() (Tunables, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		s.current = Defaults()
		return s.current, nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Tunables{}, fmt.Errorf("remove settings file %s: %w", s.path, err)
	}
	t, err := Load(s.path)
	if err != nil {
		return Tunables{}, err
	}
	s.current = t
	return t, nil
}
