package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/proctor-go/internal/logger"
)

const defaultReplayChunk = 100 * time.Millisecond

// FileProvider replays a WAV file as the microphone track, in real time.
// It provides no camera; a requested video track is ignored.
type FileProvider struct {
	Path  string
	Loop  bool
	Chunk time.Duration // replay granularity, default 100ms
}

func (p *FileProvider) Name() string { return "file" }

// Open decodes the whole file and starts replaying it into a PCMTrack.
func (p *FileProvider) Open(ctx context.Context, c Constraints) ([]OwnedTrack, error) {
	samples, sampleRate, err := readWAVMono(p.Path)
	if err != nil {
		return nil, err
	}
	if c.WantsVideo() {
		GetLogger().Debug("file provider has no camera, video track omitted", logger.String("path", p.Path))
	}

	chunk := p.Chunk
	if chunk <= 0 {
		chunk = defaultReplayChunk
	}
	bufferSeconds := c.Audio.BufferSeconds
	if bufferSeconds <= 0 {
		bufferSeconds = 2
	}

	replayCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	track := NewPCMTrack(filepath.Base(p.Path), sampleRate, bufferSeconds, func() error {
		cancel()
		wg.Wait()
		return nil
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.replay(replayCtx, track, samples, sampleRate, chunk)
	}()

	return []OwnedTrack{track}, nil
}

func (p *FileProvider) replay(ctx context.Context, track *PCMTrack, samples []float32, sampleRate int, chunk time.Duration) {
	perChunk := max(int(float64(sampleRate)*chunk.Seconds()), 1)
	ticker := time.NewTicker(chunk)
	defer ticker.Stop()

	pos := 0
	for {
		if pos >= len(samples) {
			if !p.Loop {
				return
			}
			pos = 0
		}
		end := min(pos+perChunk, len(samples))
		track.WriteSamples(samples[pos:end])
		pos = end

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// readWAVMono decodes a PCM WAV file and downmixes it to mono floats.
func readWAVMono(path string) ([]float32, int, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, 0, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return nil, 0, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: %s is not a valid WAV file", ErrDeviceUnavailable, path)
	}

	divisor, err := sampleDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	channels := max(int(decoder.NumChans), 1)

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: decoding %s: %w", ErrDeviceUnavailable, path, err)
	}

	return downmixInts(buf, channels, divisor), int(decoder.SampleRate), nil
}

func downmixInts(buf *audio.IntBuffer, channels int, divisor float32) []float32 {
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for f := range frames {
		var sum int
		for ch := range channels {
			sum += buf.Data[f*channels+ch]
		}
		out[f] = float32(sum) / float32(channels) / divisor
	}
	return out
}

func sampleDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}
