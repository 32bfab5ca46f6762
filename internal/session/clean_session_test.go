package session

import (
	"context"
	"image"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/proctor-go/internal/device"
	"github.com/tphakala/proctor-go/internal/face"
	"github.com/tphakala/proctor-go/internal/noise"
	"github.com/tphakala/proctor-go/internal/stream"
	"github.com/tphakala/proctor-go/internal/violation"
)

const cleanRate = 48000

// examProvider hands out a quiet single-tone microphone and a camera with a
// frame already captured.
type examProvider struct{}

func (examProvider) Name() string { return "exam" }

func (examProvider) Open(context.Context, stream.Constraints) ([]stream.OwnedTrack, error) {
	audio := stream.NewPCMTrack("mic", cleanRate, 1, nil)
	samples := make([]float32, 2*noise.DefaultFFTSize)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*984.375*float64(i)/cleanRate))
	}
	audio.WriteSamples(samples)

	video := stream.NewFrameTrack("cam", nil)
	video.SetFrame(image.NewRGBA(image.Rect(0, 0, 64, 48)))
	return []stream.OwnedTrack{audio, video}, nil
}

// oneFace always finds exactly one face.
type oneFace struct{ calls atomic.Int64 }

func (m *oneFace) EstimateFaces(context.Context, image.Image) ([]face.BoundingBox, error) {
	m.calls.Add(1)
	return []face.BoundingBox{{Rectangle: image.Rect(16, 8, 48, 40), Score: 0.93}}, nil
}

func (m *oneFace) Close() error { return nil }

type fixedDevices struct{}

func (fixedDevices) Name() string { return "fixed" }

func (fixedDevices) Enumerate(context.Context) ([]device.Info, error) {
	return []device.Info{
		{ID: "video:video0", DisplayName: "Integrated Camera", Source: device.SourceVideo},
		{ID: "input:0001", DisplayName: "AT Translated Set 2 keyboard", Source: device.SourceInput},
	}, nil
}

func TestCleanSessionLogsNothing(t *testing.T) {
	t.Parallel()

	sink := violation.NewSink(violation.Config{})
	defer sink.Close()

	acq := stream.NewAcquirer(examProvider{}, stream.Constraints{Video: &stream.VideoConstraints{Width: 64, Height: 48}})

	var faceTicks, noiseTicks, deviceTicks atomic.Int64
	model := &oneFace{}
	faces := face.NewDetector(face.Config{Interval: face.MinInterval},
		face.NewModelService(func(context.Context) (face.Model, error) { return model, nil }),
		acq, sink,
		face.WithResultHook(func(r face.Result) {
			assert.Equal(t, face.ClassSingle, r.Classification)
			faceTicks.Add(1)
		}))
	voices := noise.NewDetector(noise.Config{Interval: 5 * time.Millisecond}, acq, sink,
		noise.WithResultHook(func(r noise.Result) {
			assert.Equal(t, noise.ClassClean, r.Classification())
			noiseTicks.Add(1)
		}))
	devices := device.NewDetector(device.Config{Interval: 5 * time.Millisecond}, []device.Enumerator{fixedDevices{}}, nil, sink,
		device.WithResultHook(func(r device.Result) {
			assert.False(t, r.NewDevicesDetected)
			deviceTicks.Add(1)
		}))

	s := New("exam-clean", acq, []Detector{devices, faces, voices})
	ctx, cancel := context.WithCancel(t.Context())
	done := runAsync(ctx, s)
	waitState(t, s, StateRunning)

	require.Eventually(t, func() bool {
		return noiseTicks.Load() >= 100 && deviceTicks.Load() >= 100 && faceTicks.Load() >= 3
	}, 20*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Nil(t, acq.Current(), "stream released")
	assert.GreaterOrEqual(t, model.calls.Load(), int64(3))
	assert.Empty(t, sink.Snapshot())
}
