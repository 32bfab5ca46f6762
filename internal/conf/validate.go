// conf/validate.go

package conf

import (
	"fmt"
	"math/bits"
	"net"
	"strings"
	"time"
)

// MinFaceInterval is the shortest accepted face detection poll interval.
const MinFaceInterval = 500 * time.Millisecond

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateStreamSettings,
		validateFaceSettings,
		validateNoiseSettings,
		validateDeviceSettings,
		validateViolationSettings,
		validateOutputSettings,
	}
	for _, v := range validators {
		ve.Errors = append(ve.Errors, v(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateStreamSettings(s *Settings) []string {
	var errs []string
	a := &s.Stream.Audio
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		errs = append(errs, fmt.Sprintf("stream.audio.samplerate must be between 8000 and 192000, got %d", a.SampleRate))
	}
	if a.Channels < 1 {
		errs = append(errs, "stream.audio.channels must be at least 1")
	}
	if a.BufferSeconds <= 0 {
		errs = append(errs, "stream.audio.bufferseconds must be positive")
	}

	v := &s.Stream.Video
	if v.Enabled {
		if v.Width <= 0 || v.Height <= 0 {
			errs = append(errs, "stream.video width and height must be positive")
		}
		if v.FrameRate <= 0 {
			errs = append(errs, "stream.video.framerate must be positive")
		}
		switch v.FacingMode {
		case "", "user", "environment":
		default:
			errs = append(errs, fmt.Sprintf("stream.video.facingmode must be user or environment, got %q", v.FacingMode))
		}
	}
	return errs
}

func validateFaceSettings(s *Settings) []string {
	f := &s.Face
	if !f.Enabled {
		return nil
	}
	var errs []string
	if f.Interval < MinFaceInterval {
		errs = append(errs, fmt.Sprintf("face.interval must be at least %s, got %s", MinFaceInterval, f.Interval))
	}
	if f.MissThreshold < 1 {
		errs = append(errs, "face.missthreshold must be at least 1")
	}
	if f.ScoreThreshold <= 0 || f.ScoreThreshold >= 1 {
		errs = append(errs, "face.scorethreshold must be between 0 and 1")
	}
	if f.ModelPath == "" {
		errs = append(errs, "face.modelpath is required when face detection is enabled")
	}
	if !s.Stream.Video.Enabled {
		errs = append(errs, "face detection requires stream.video.enabled")
	}
	return errs
}

func validateNoiseSettings(s *Settings) []string {
	n := &s.Noise
	if !n.Enabled {
		return nil
	}
	var errs []string
	if n.Interval <= 0 {
		errs = append(errs, "noise.interval must be positive")
	}
	if n.FFTSize < 32 || n.FFTSize > 32768 || bits.OnesCount(uint(n.FFTSize)) != 1 {
		errs = append(errs, fmt.Sprintf("noise.fftsize must be a power of two between 32 and 32768, got %d", n.FFTSize))
	}
	if n.MinDecibels >= n.MaxDecibels {
		errs = append(errs, "noise.mindecibels must be lower than noise.maxdecibels")
	}
	if n.SpeechBandLowHz >= n.SpeechBandHighHz {
		errs = append(errs, "noise speech band low edge must be below the high edge")
	}
	nyquist := float64(s.Stream.Audio.SampleRate) / 2
	if n.AmbientBandHz <= 0 || n.AmbientBandHz >= nyquist {
		errs = append(errs, fmt.Sprintf("noise.ambientbandhz must be between 0 and %.0f", nyquist))
	}
	for name, share := range map[string]float64{
		"noise.ambientshare":       n.AmbientShare,
		"noise.speechshare":        n.SpeechShare,
		"noise.secondarypeakratio": n.SecondaryPeakRatio,
	} {
		if share <= 0 || share > 1 {
			errs = append(errs, fmt.Sprintf("%s must be in (0, 1], got %.3f", name, share))
		}
	}
	for name, level := range map[string]float64{
		"noise.elevatedlevel": n.ElevatedLevel,
		"noise.speechlevel":   n.SpeechLevel,
	} {
		if level < 0 || level > 100 {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and 100, got %.1f", name, level))
		}
	}
	if n.PoorSNR < 1 {
		errs = append(errs, "noise.poorsnr must be at least 1")
	}
	return errs
}

func validateDeviceSettings(s *Settings) []string {
	d := &s.Device
	if !d.Enabled {
		return nil
	}
	var errs []string
	if d.Interval <= 0 {
		errs = append(errs, "device.interval must be positive")
	}
	if d.EventLookback <= 0 {
		errs = append(errs, "device.eventlookback must be positive")
	}
	if len(d.Patterns.Storage) == 0 {
		errs = append(errs, "device.patterns.storage must not be empty")
	}
	for _, p := range d.Patterns.Storage {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, "device.patterns.storage contains an empty pattern")
			break
		}
	}
	return errs
}

func validateViolationSettings(s *Settings) []string {
	v := &s.Violations
	var errs []string
	if v.LogCapacity < 1 {
		errs = append(errs, "violations.logcapacity must be at least 1")
	}
	if v.QueueSize < 1 {
		errs = append(errs, "violations.queuesize must be at least 1")
	}
	if v.CoolDown.Face < 0 || v.CoolDown.Noise < 0 || v.CoolDown.Device < 0 {
		errs = append(errs, "violations cool-down durations must not be negative")
	}
	return errs
}

func validateOutputSettings(s *Settings) []string {
	var errs []string
	if s.API.Enabled {
		if _, _, err := net.SplitHostPort(s.API.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("api.listen is not a valid host:port: %v", err))
		}
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}
	if s.Notification.Enabled {
		if len(s.Notification.URLs) == 0 {
			errs = append(errs, "notification.urls must list at least one service URL")
		}
		switch s.Notification.MinSeverity {
		case "warning", "error":
		default:
			errs = append(errs, fmt.Sprintf("notification.minseverity must be warning or error, got %q", s.Notification.MinSeverity))
		}
		if s.Notification.RatePerMin <= 0 {
			errs = append(errs, "notification.ratepermin must be positive")
		}
	}
	if s.Datastore.Enabled {
		switch s.Datastore.Type {
		case "sqlite":
			if s.Datastore.SQLite.Path == "" {
				errs = append(errs, "datastore.sqlite.path is required")
			}
		case "mysql":
			if s.Datastore.MySQL.DSN == "" {
				errs = append(errs, "datastore.mysql.dsn is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("datastore.type must be sqlite or mysql, got %q", s.Datastore.Type))
		}
	}
	if s.Telemetry.Sentry.Enabled && s.Telemetry.Sentry.DSN == "" {
		errs = append(errs, "telemetry.sentry.dsn is required when sentry is enabled")
	}
	return errs
}
