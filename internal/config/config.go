package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Engine    EngineConfig
	Camera    CameraConfig
	Reference ReferenceConfig
	Database  DatabaseConfig
	Session   SessionConfig
	MQTT      MQTTConfig
	Notify    NotifyConfig
	Web       WebConfig
	Log       LogConfig

	// SettingsPath is the YAML file holding tunable overrides (optional).
	SettingsPath string
	// Location is used for attendance day boundaries and lateness.
	Location *time.Location
}

type EngineConfig struct {
	URL     string        // defaults to http://localhost:8000
	Timeout time.Duration // per request, defaults to 10s
}

type CameraConfig struct {
	URLs []string // snapshot URLs, one per device
	Dir  string   // replay directory used when no URLs are configured
}

type ReferenceConfig struct {
	Dir string // local directory with reference images
	URL string // public bucket base URL, used when Dir is empty
}

type DatabaseConfig struct {
	URL          string // postgres:// or mysql:// connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type SessionConfig struct {
	CommitTimeout  time.Duration // bound on a single attendance write
	CommitCooldown time.Duration // pause after a commit before ticks resume, 0 disables
	AbsenceMarkAt  string        // HH:MM, daily absence marking; empty disables
}

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

type NotifyConfig struct {
	URLs []string
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // CORS origins besides localhost
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envDuration reads a Go duration ("5s", "500ms"). Invalid or non-positive
// values fall back to the default.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envNonNegativeDuration is envDuration that also accepts zero, for delays
// that can be switched off.
func envNonNegativeDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load reads the process configuration from the environment.
// TIMEZONE must be a valid IANA name when set.
func Load() (*Config, error) {
	loc := time.Local
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
		}
		loc = l
	}

	return &Config{
		Engine: EngineConfig{
			URL:     os.Getenv("ENGINE_URL"),
			Timeout: envDuration("ENGINE_TIMEOUT", 10*time.Second),
		},
		Camera: CameraConfig{
			URLs: envList("CAMERA_URLS"),
			Dir:  os.Getenv("CAMERA_DIR"),
		},
		Reference: ReferenceConfig{
			Dir: os.Getenv("REFERENCE_DIR"),
			URL: os.Getenv("REFERENCE_URL"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Session: SessionConfig{
			CommitTimeout:  envDuration("COMMIT_TIMEOUT", 5*time.Second),
			CommitCooldown: envNonNegativeDuration("COMMIT_COOLDOWN", 500*time.Millisecond),
			AbsenceMarkAt:  envString("ABSENCE_MARK_AT", "23:55"),
		},
		MQTT: MQTTConfig{
			Broker:   os.Getenv("MQTT_BROKER"),
			Topic:    envString("MQTT_TOPIC", "face-attendance/checkins"),
			ClientID: envString("MQTT_CLIENT_ID", "face-attendance"),
			Username: os.Getenv("MQTT_USERNAME"),
			Password: os.Getenv("MQTT_PASSWORD"),
		},
		Notify: NotifyConfig{
			URLs: envList("NOTIFY_URLS"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
		SettingsPath: envString("SETTINGS_PATH", "settings.yaml"),
		Location:     loc,
	}, nil
}
