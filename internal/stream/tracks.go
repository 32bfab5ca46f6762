package stream

import (
	"encoding/binary"
	"image"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
)

var (
	// ErrTrackEnded is returned when reading from a stopped track.
	ErrTrackEnded = errors.NewStd("track ended")
	// ErrNoFrame is returned before the first camera frame arrives.
	ErrNoFrame = errors.NewStd("no frame available")
)

const (
	bytesPerSample  = 2 // S16LE
	minRingCapacity = 4096
)

// PCMTrack is a mono audio track. A capture callback writes S16LE PCM into a
// ring buffer; readers drain it into a sliding window of recent samples.
type PCMTrack struct {
	id         string
	label      string
	sampleRate int

	writeMu sync.Mutex
	rb      *ringbuffer.RingBuffer

	readMu  sync.Mutex
	window  []float32
	maxLen  int
	drained []byte

	ended    atomic.Bool
	stopOnce sync.Once
	onStop   func() error
}

// NewPCMTrack creates an audio track retaining bufferSeconds of audio.
// onStop, if set, releases the underlying capture device.
func NewPCMTrack(label string, sampleRate int, bufferSeconds float64, onStop func() error) *PCMTrack {
	samples := int(float64(sampleRate) * bufferSeconds)
	capacity := max(samples*bytesPerSample, minRingCapacity)

	return &PCMTrack{
		id:         uuid.NewString(),
		label:      label,
		sampleRate: sampleRate,
		rb:         ringbuffer.New(capacity),
		window:     make([]float32, 0, capacity/bytesPerSample),
		maxLen:     capacity / bytesPerSample,
		drained:    make([]byte, capacity),
		onStop:     onStop,
	}
}

func (t *PCMTrack) ID() string      { return t.id }
func (t *PCMTrack) Kind() TrackKind { return KindAudio }
func (t *PCMTrack) Label() string   { return t.label }
func (t *PCMTrack) SampleRate() int { return t.sampleRate }

func (t *PCMTrack) State() TrackState {
	if t.ended.Load() {
		return StateEnded
	}
	return StateLive
}

// WriteS16LE appends mono 16-bit little-endian PCM. When the ring is full
// the oldest audio is discarded to make room.
func (t *PCMTrack) WriteS16LE(pcm []byte) {
	if t.ended.Load() || len(pcm) == 0 {
		return
	}
	pcm = pcm[:len(pcm)-len(pcm)%bytesPerSample]

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	capacity := t.rb.Capacity()
	if len(pcm) > capacity {
		pcm = pcm[len(pcm)-capacity:]
	}
	if need := len(pcm) - t.rb.Free(); need > 0 {
		// round up to a whole sample so the stream stays aligned
		need += need % bytesPerSample
		discard := make([]byte, need)
		_, _ = t.rb.Read(discard)
	}
	if _, err := t.rb.Write(pcm); err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		GetLogger().Debug("audio ring buffer write failed", logger.Error(err))
	}
}

// WriteSamples appends float samples in [-1, 1], clipping out-of-range values.
func (t *PCMTrack) WriteSamples(samples []float32) {
	buf := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(buf[i*bytesPerSample:], uint16(int16(v*math.MaxInt16)))
	}
	t.WriteS16LE(buf)
}

// ReadSamples fills dst with the most recent samples and returns how many are valid.
func (t *PCMTrack) ReadSamples(dst []float32) int {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	n, _ := t.rb.Read(t.drained[:t.rb.Length()])
	n -= n % bytesPerSample
	for i := 0; i < n; i += bytesPerSample {
		s := int16(binary.LittleEndian.Uint16(t.drained[i:]))
		t.window = append(t.window, float32(s)/32768.0)
	}
	if over := len(t.window) - t.maxLen; over > 0 {
		t.window = append(t.window[:0], t.window[over:]...)
	}

	count := min(len(dst), len(t.window))
	copy(dst, t.window[len(t.window)-count:])
	return count
}

// Stop ends the track and releases the capture device once.
func (t *PCMTrack) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		t.ended.Store(true)
		if t.onStop != nil {
			err = t.onStop()
		}
	})
	return err
}

// FrameTrack is a video track holding the latest decoded frame.
type FrameTrack struct {
	id    string
	label string

	mu    sync.RWMutex
	frame image.Image

	ended    atomic.Bool
	stopOnce sync.Once
	onStop   func() error
}

// NewFrameTrack creates a video track. onStop, if set, releases the camera.
func NewFrameTrack(label string, onStop func() error) *FrameTrack {
	return &FrameTrack{
		id:     uuid.NewString(),
		label:  label,
		onStop: onStop,
	}
}

func (t *FrameTrack) ID() string      { return t.id }
func (t *FrameTrack) Kind() TrackKind { return KindVideo }
func (t *FrameTrack) Label() string   { return t.label }

func (t *FrameTrack) State() TrackState {
	if t.ended.Load() {
		return StateEnded
	}
	return StateLive
}

// SetFrame replaces the latest frame. The track takes ownership of img.
func (t *FrameTrack) SetFrame(img image.Image) {
	if t.ended.Load() {
		return
	}
	t.mu.Lock()
	t.frame = img
	t.mu.Unlock()
}

// Ready reports whether the track is live with a non-empty frame.
func (t *FrameTrack) Ready() bool {
	if t.ended.Load() {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frame != nil && !t.frame.Bounds().Empty()
}

// Bounds returns the latest frame's bounds, or an empty rectangle.
func (t *FrameTrack) Bounds() image.Rectangle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.frame == nil {
		return image.Rectangle{}
	}
	return t.frame.Bounds()
}

func (t *FrameTrack) Frame() (image.Image, error) {
	if t.ended.Load() {
		return nil, ErrTrackEnded
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.frame == nil {
		return nil, ErrNoFrame
	}
	return t.frame, nil
}

// Stop ends the track and releases the camera once.
func (t *FrameTrack) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		t.ended.Store(true)
		if t.onStop != nil {
			err = t.onStop()
		}
	})
	return err
}
