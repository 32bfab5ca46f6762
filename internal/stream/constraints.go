package stream

// AudioConstraints select and shape the microphone.
type AudioConstraints struct {
	DeviceID      string // name or id substring, empty for the default device
	SampleRate    int
	Channels      int
	BufferSeconds float64
}

// VideoConstraints select and shape the camera.
type VideoConstraints struct {
	DeviceID   string
	FacingMode string
	Width      int
	Height     int
	FrameRate  int
	// Exact makes Width, Height and FrameRate requirements rather than hints.
	Exact bool
}

// Constraints is a stream request. A nil Video requests audio only.
type Constraints struct {
	Audio AudioConstraints
	Video *VideoConstraints
}

// Relaxed returns constraints with device ids, facing mode and exact
// resolution requirements dropped. The receiver is not modified.
func (c Constraints) Relaxed() Constraints {
	out := c
	out.Audio.DeviceID = ""
	if c.Video != nil {
		v := *c.Video
		v.DeviceID = ""
		v.FacingMode = ""
		v.Exact = false
		out.Video = &v
	}
	return out
}

// WantsVideo reports whether a camera track is requested.
func (c Constraints) WantsVideo() bool {
	return c.Video != nil
}
