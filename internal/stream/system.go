package stream

import (
	"context"
)

// SystemProvider opens the default microphone through miniaudio and the
// camera through an ffmpeg subprocess.
type SystemProvider struct {
	Camera CameraConfig
}

// NewSystemProvider returns a provider for the local capture hardware.
func NewSystemProvider(camera CameraConfig) *SystemProvider {
	return &SystemProvider{Camera: camera}
}

func (p *SystemProvider) Name() string { return "system" }

// Open starts the microphone and, when requested, the camera. If the camera
// fails the microphone is released again.
func (p *SystemProvider) Open(ctx context.Context, c Constraints) ([]OwnedTrack, error) {
	mic, err := openMicrophone(c.Audio)
	if err != nil {
		return nil, err
	}
	tracks := []OwnedTrack{mic}

	if c.WantsVideo() {
		cam, err := openCamera(ctx, p.Camera, *c.Video)
		if err != nil {
			_ = mic.Stop()
			return nil, err
		}
		tracks = append(tracks, cam)
	}
	return tracks, nil
}
