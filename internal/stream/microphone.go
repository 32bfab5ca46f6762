package stream

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/proctor-go/internal/logger"
)

// CaptureDevice describes one microphone as reported by miniaudio.
type CaptureDevice struct {
	Index     int
	Name      string
	ID        string
	IsDefault bool
}

// CaptureDevices lists the capture devices of the default audio backend.
func CaptureDevices() ([]CaptureDevice, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to get capture devices: %w", err)
	}

	devices := make([]CaptureDevice, 0, len(infos))
	for i := range infos {
		devices = append(devices, CaptureDevice{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        decodeDeviceID(infos[i].ID.String()),
			IsDefault: infos[i].IsDefault == 1,
		})
	}
	return devices, nil
}

// decodeDeviceID turns miniaudio's hex encoded id into readable text when possible.
func decodeDeviceID(hexID string) string {
	raw, err := hex.DecodeString(hexID)
	if err != nil {
		return hexID
	}
	return strings.TrimRight(string(raw), "\x00")
}

func captureBackends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

// openMicrophone starts a malgo capture device feeding a PCMTrack.
func openMicrophone(c AudioConstraints) (*PCMTrack, error) {
	log := GetLogger().Module("microphone")

	mctx, err := malgo.InitContext(captureBackends(), malgo.ContextConfig{}, func(message string) {
		log.Trace("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: audio context init failed: %w", ErrDeviceUnavailable, err)
	}
	releaseContext := func() {
		_ = mctx.Uninit()
		mctx.Free()
	}

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		releaseContext()
		return nil, fmt.Errorf("%w: listing capture devices: %w", ErrDeviceUnavailable, err)
	}
	if len(infos) == 0 {
		releaseContext()
		return nil, fmt.Errorf("%w: no capture devices", ErrDeviceUnavailable)
	}

	selected := -1
	for i := range infos {
		if c.DeviceID == "" {
			if infos[i].IsDefault == 1 {
				selected = i
				break
			}
			continue
		}
		if matchesCaptureDevice(decodeDeviceID(infos[i].ID.String()), infos[i].Name(), c.DeviceID) {
			selected = i
			break
		}
	}
	if selected < 0 {
		if c.DeviceID != "" {
			releaseContext()
			return nil, fmt.Errorf("%w: capture device %q not found", ErrOverconstrained, c.DeviceID)
		}
		selected = 0
	}

	channels := max(c.Channels, 1)
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(c.SampleRate)
	deviceConfig.Alsa.NoMMap = 1
	deviceConfig.Capture.DeviceID = infos[selected].ID.Pointer()

	var device *malgo.Device
	track := NewPCMTrack(infos[selected].Name(), c.SampleRate, c.BufferSeconds, func() error {
		var err error
		if device != nil {
			err = device.Stop()
			device.Uninit()
		}
		releaseContext()
		return err
	})

	onData := func(_, samples []byte, _ uint32) {
		track.WriteS16LE(downmixS16(samples, channels))
	}

	device, err = malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		releaseContext()
		return nil, classifyDeviceError(err, "capture device init failed")
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		device = nil
		releaseContext()
		return nil, classifyDeviceError(err, "capture device start failed")
	}

	log.Info("microphone capture started",
		logger.String("device", infos[selected].Name()),
		logger.Int("sample_rate", c.SampleRate),
		logger.Int("channels", channels))
	return track, nil
}

func matchesCaptureDevice(decodedID, name, want string) bool {
	return decodedID == want || strings.Contains(strings.ToLower(name), strings.ToLower(want))
}

// classifyDeviceError maps a backend error to an acquisition failure class.
func classifyDeviceError(err error, msg string) error {
	if isPermissionError(err) {
		return fmt.Errorf("%w: %s: %w", ErrPermissionDenied, msg, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, msg, err)
}

func isPermissionError(err error) bool {
	if os.IsPermission(err) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "permission denied") || strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "not authorized")
}

// downmixS16 averages interleaved S16LE channels into mono.
func downmixS16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * bytesPerSample
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*bytesPerSample)
	for f := range frames {
		var sum int
		for ch := range channels {
			off := f*frameBytes + ch*bytesPerSample
			sum += int(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[f*bytesPerSample:], uint16(int16(sum/channels)))
	}
	return out
}
