// Package stream acquires and owns the candidate's camera and microphone.
//
// The Acquirer is the only owner of a Handle and the only party allowed to
// stop its tracks. Detectors receive the read-only AudioTrack and VideoTrack
// views of the attached handle.
package stream

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/proctor-go/internal/logger"
)

// TrackKind is the media kind of a track.
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// TrackState is the lifecycle state of a track.
type TrackState string

const (
	StateLive  TrackState = "live"
	StateEnded TrackState = "ended"
)

// Track is the read-only view of one constituent track.
type Track interface {
	ID() string
	Kind() TrackKind
	Label() string
	State() TrackState
}

// AudioTrack exposes the most recent microphone samples.
type AudioTrack interface {
	Track
	SampleRate() int
	// ReadSamples fills dst with the most recent mono samples in [-1, 1]
	// and returns how many are valid. Fewer than len(dst) means the track
	// has not yet captured enough audio.
	ReadSamples(dst []float32) int
}

// VideoTrack exposes the latest camera frame.
type VideoTrack interface {
	Track
	// Ready reports whether a frame with data is available.
	Ready() bool
	Bounds() image.Rectangle
	// Frame returns the latest frame. Callers must not modify it.
	Frame() (image.Image, error)
}

// OwnedTrack is a track as handed out by a Provider. Only the Acquirer stops it.
type OwnedTrack interface {
	Track
	Stop() error
}

// Handle is one active audio+video capture session.
type Handle struct {
	id        string
	tracks    []OwnedTrack
	createdAt time.Time

	stopOnce sync.Once
	stopErr  error
	released atomic.Bool
}

func newHandle(tracks []OwnedTrack) *Handle {
	return &Handle{
		id:        uuid.NewString(),
		tracks:    tracks,
		createdAt: time.Now(),
	}
}

// ID returns the stable handle identifier.
func (h *Handle) ID() string { return h.id }

// CreatedAt returns when the stream was acquired.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// Tracks returns the constituent tracks in provider order.
func (h *Handle) Tracks() []Track {
	out := make([]Track, len(h.tracks))
	for i, t := range h.tracks {
		out[i] = t
	}
	return out
}

// Audio returns the first audio track, or nil.
func (h *Handle) Audio() AudioTrack {
	if h == nil {
		return nil
	}
	for _, t := range h.tracks {
		if a, ok := t.(AudioTrack); ok && t.Kind() == KindAudio {
			return readOnlyAudio{a}
		}
	}
	return nil
}

// Video returns the first video track, or nil.
func (h *Handle) Video() VideoTrack {
	if h == nil {
		return nil
	}
	for _, t := range h.tracks {
		if v, ok := t.(VideoTrack); ok && t.Kind() == KindVideo {
			return readOnlyVideo{v}
		}
	}
	return nil
}

// Released reports whether the handle's tracks have been stopped.
func (h *Handle) Released() bool {
	return h.released.Load()
}

// release stops every track exactly once. Later calls return the first result.
func (h *Handle) release() error {
	h.stopOnce.Do(func() {
		var errs []error
		for _, t := range h.tracks {
			if err := t.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		h.released.Store(true)
		h.stopErr = joinErrors(errs)
	})
	return h.stopErr
}

// readOnlyAudio hides Stop from detectors.
type readOnlyAudio struct{ t AudioTrack }

func (r readOnlyAudio) ID() string                    { return r.t.ID() }
func (r readOnlyAudio) Kind() TrackKind               { return r.t.Kind() }
func (r readOnlyAudio) Label() string                 { return r.t.Label() }
func (r readOnlyAudio) State() TrackState             { return r.t.State() }
func (r readOnlyAudio) SampleRate() int               { return r.t.SampleRate() }
func (r readOnlyAudio) ReadSamples(dst []float32) int { return r.t.ReadSamples(dst) }

// readOnlyVideo hides Stop from detectors.
type readOnlyVideo struct{ t VideoTrack }

func (r readOnlyVideo) ID() string                  { return r.t.ID() }
func (r readOnlyVideo) Kind() TrackKind             { return r.t.Kind() }
func (r readOnlyVideo) Label() string               { return r.t.Label() }
func (r readOnlyVideo) State() TrackState           { return r.t.State() }
func (r readOnlyVideo) Ready() bool                 { return r.t.Ready() }
func (r readOnlyVideo) Bounds() image.Rectangle     { return r.t.Bounds() }
func (r readOnlyVideo) Frame() (image.Image, error) { return r.t.Frame() }

// GetLogger returns the stream package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("stream")
}
