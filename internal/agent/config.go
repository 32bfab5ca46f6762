package agent

import (
	"github.com/tphakala/proctor-go/internal/conf"
	"github.com/tphakala/proctor-go/internal/device"
	"github.com/tphakala/proctor-go/internal/noise"
	"github.com/tphakala/proctor-go/internal/stream"
	"github.com/tphakala/proctor-go/internal/violation"
)

// SinkConfig maps the violation settings. Kinds outside the known families
// use the face cool-down.
func SinkConfig(s *conf.Settings) violation.Config {
	return violation.Config{
		LogCapacity: s.Violations.LogCapacity,
		QueueSize:   s.Violations.QueueSize,
		CoolDowns: violation.CoolDowns{
			Face:    s.Violations.CoolDown.Face,
			Noise:   s.Violations.CoolDown.Noise,
			Device:  s.Violations.CoolDown.Device,
			Default: s.Violations.CoolDown.Face,
		},
	}
}

// Constraints builds the stream request. Video is requested only when enabled.
func Constraints(s *conf.Settings) stream.Constraints {
	c := stream.Constraints{
		Audio: stream.AudioConstraints{
			DeviceID:      s.Stream.Audio.Device,
			SampleRate:    s.Stream.Audio.SampleRate,
			Channels:      s.Stream.Audio.Channels,
			BufferSeconds: s.Stream.Audio.BufferSeconds,
		},
	}
	if s.Stream.Video.Enabled {
		c.Video = &stream.VideoConstraints{
			DeviceID:   s.Stream.Video.Device,
			FacingMode: s.Stream.Video.FacingMode,
			Width:      s.Stream.Video.Width,
			Height:     s.Stream.Video.Height,
			FrameRate:  s.Stream.Video.FrameRate,
		}
	}
	return c
}

func provider(s *conf.Settings, opts Options) stream.Provider {
	if opts.AudioFile != "" {
		return &stream.FileProvider{Path: opts.AudioFile, Loop: opts.LoopAudio}
	}
	return stream.NewSystemProvider(stream.CameraConfig{
		FFmpegPath:  s.Stream.Video.FFmpegPath,
		InputFormat: s.Stream.Video.InputFormat,
	})
}

// NoiseConfig maps the noise settings.
func NoiseConfig(s *conf.Settings) noise.Config {
	n := s.Noise
	return noise.Config{
		Interval:    n.Interval,
		FFTSize:     n.FFTSize,
		MinDecibels: n.MinDecibels,
		MaxDecibels: n.MaxDecibels,
		Bands: noise.Bands{
			SpeechLowHz:      n.SpeechBandLowHz,
			SpeechHighHz:     n.SpeechBandHighHz,
			AmbientLowHz:     n.AmbientBandHz,
			PeakSeparationHz: n.PeakSeparationHz,
		},
		Thresholds: noise.Thresholds{
			ElevatedLevel:      n.ElevatedLevel,
			PoorSNR:            n.PoorSNR,
			AmbientShare:       n.AmbientShare,
			SpeechShare:        n.SpeechShare,
			SpeechLevel:        n.SpeechLevel,
			SecondaryPeakRatio: n.SecondaryPeakRatio,
		},
	}
}

// Patterns returns the classification tables, falling back to the stock
// table for any list left empty.
func Patterns(s *conf.Settings) device.Patterns {
	p := device.DefaultPatterns()
	if len(s.Device.Patterns.Storage) > 0 {
		p.Storage = s.Device.Patterns.Storage
	}
	if len(s.Device.Patterns.Exclude) > 0 {
		p.Exclude = s.Device.Patterns.Exclude
	}
	if len(s.Device.Patterns.BuiltIn) > 0 {
		p.BuiltIn = s.Device.Patterns.BuiltIn
	}
	return p
}

// Enumerators returns the enabled device sources. The microphone list is
// always included.
func Enumerators(s *conf.Settings) []device.Enumerator {
	enumerators := []device.Enumerator{device.NewAudioEnumerator()}
	if s.Device.Video.Enabled {
		enumerators = append(enumerators, device.NewVideoEnumerator())
	}
	if s.Device.Input.Enabled {
		// nil on platforms without evdev
		if input := device.NewInputEnumerator(); input != nil {
			enumerators = append(enumerators, input)
		}
	}
	if s.Device.USB.Enabled {
		enumerators = append(enumerators, device.NewUSBEnumerator(s.Device.USB.SysfsPath))
	}
	if s.Device.Partitions.Enabled {
		enumerators = append(enumerators, device.NewPartitionEnumerator())
	}
	return enumerators
}
