// config.go: settings struct for proctor-go and the functions to load it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/proctor-go/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// AudioSettings configures microphone capture.
type AudioSettings struct {
	Device        string  // capture device name or id substring, empty for system default
	SampleRate    int     // capture sample rate in Hz
	Channels      int     // capture channels, downmixed to mono for analysis
	BufferSeconds float64 // seconds of audio retained for the analyser
}

// VideoSettings configures camera capture through ffmpeg.
type VideoSettings struct {
	Enabled     bool
	Device      string // e.g. /dev/video0, "video=Integrated Camera" on Windows
	FacingMode  string // "user" or "environment", dropped when constraints are relaxed
	Width       int
	Height      int
	FrameRate   int
	FFmpegPath  string
	InputFormat string // ffmpeg input format, v4l2/avfoundation/dshow; empty selects per OS
}

// StreamSettings groups audio and video acquisition.
type StreamSettings struct {
	Audio AudioSettings
	Video VideoSettings
}

// FaceSettings configures the face presence detector.
type FaceSettings struct {
	Enabled        bool
	ModelPath      string        // tflite face detection model with post-processed outputs
	Threads        int           // 0 picks from CPU topology
	Interval       time.Duration // poll interval, minimum 500ms
	MissThreshold  int           // consecutive "no face" ticks before a violation
	ScoreThreshold float64       // minimum detection score
}

// NoiseSettings configures the audio noise detector. All thresholds are tunable defaults.
type NoiseSettings struct {
	Enabled            bool
	Interval           time.Duration
	FFTSize            int
	MinDecibels        float64
	MaxDecibels        float64
	ElevatedLevel      float64 // 0..100 level considered elevated
	PoorSNR            float64 // peak/mean power below this is poor
	AmbientBandHz      float64 // bins at or above this frequency count as ambient energy
	AmbientShare       float64 // ambient share of total energy for background noise
	SpeechBandLowHz    float64
	SpeechBandHighHz   float64
	SpeechShare        float64 // speech-band share of total energy
	SpeechLevel        float64 // minimum level for secondary speaker analysis
	SecondaryPeakRatio float64 // second speech peak relative to dominant peak
	PeakSeparationHz   float64 // minimum distance between the two speech peaks
}

// DevicePatterns are case-insensitive substring tables used to classify devices.
type DevicePatterns struct {
	Storage []string
	Exclude []string
	BuiltIn []string
}

// DeviceSettings configures the device-change detector.
type DeviceSettings struct {
	Enabled       bool
	Interval      time.Duration
	EventLookback time.Duration // window for raw USB connect events
	Patterns      DevicePatterns
	USB           struct {
		Enabled   bool   // also subscribes to kernel USB uevents
		SysfsPath string
	}
	Input struct {
		Enabled bool // evdev input devices
	}
	Partitions struct {
		Enabled bool // removable mounts
	}
	Video struct {
		Enabled bool // video4linux devices
	}
}

// ViolationSettings configures the debouncer and log.
type ViolationSettings struct {
	LogCapacity int
	QueueSize   int // consumer dispatch queue
	CoolDown    struct {
		Face   time.Duration
		Noise  time.Duration
		Device time.Duration
	}
}

// APISettings configures the HTTP surface.
type APISettings struct {
	Enabled bool
	Listen  string
}

// MQTTSettings configures violation publishing.
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	Username string
	Password string
	Topic    string // topic prefix, the session name is appended
	Retain   bool
}

// NotificationSettings configures push notifications via shoutrrr URLs.
type NotificationSettings struct {
	Enabled     bool
	URLs        []string
	MinSeverity string  // "warning" or "error"
	RatePerMin  float64 // maximum pushes per minute
	Timeout     time.Duration
}

// DatastoreSettings configures the optional violation archive.
type DatastoreSettings struct {
	Enabled bool
	Type    string // sqlite or mysql
	SQLite  struct {
		Path string
	}
	MySQL struct {
		DSN string
	}
}

// TelemetrySettings configures metrics and error telemetry.
type TelemetrySettings struct {
	Metrics struct {
		Enabled bool
	}
	Sentry struct {
		Enabled bool
		DSN     string
	}
}

// Settings contains all configuration options for proctor-go.
type Settings struct {
	Debug bool

	Version string `yaml:"-"` // Version from build

	Session struct {
		Name string // identifies this agent in published violations
	}

	Logging      logger.LoggingConfig
	Stream       StreamSettings
	Face         FaceSettings
	Noise        NoiseSettings
	Device       DeviceSettings
	Violations   ViolationSettings
	API          APISettings
	MQTT         MQTTSettings
	Notification NotificationSettings
	Datastore    DatastoreSettings
	Telemetry    TelemetrySettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment into a Settings struct.
// configFile may be empty to search the default locations.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// GetSettings returns the last loaded settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// initViper sets defaults and reads the configuration file.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("PROCTOR")
	viper.AutomaticEnv()

	setDefaultConfig()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it back
func createDefaultConfig(dir string) error {
	data, err := configFiles.ReadFile("config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, most preferred first.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error getting home directory: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		return []string{filepath.Join(homeDir, "AppData", "Roaming", "proctor-go"), "."}, nil
	default:
		return []string{filepath.Join(homeDir, ".config", "proctor-go"), "/etc/proctor-go", "."}, nil
	}
}
