package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/proctor-go/internal/conf"
	"github.com/tphakala/proctor-go/internal/datastore"
	"github.com/tphakala/proctor-go/internal/device"
	"github.com/tphakala/proctor-go/internal/violation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Session.Name = "exam-42"
	s.Stream.Audio.SampleRate = 48000
	s.Stream.Audio.Channels = 2
	s.Stream.Audio.BufferSeconds = 2
	s.Stream.Video.Enabled = true
	s.Stream.Video.Device = "/dev/video2"
	s.Stream.Video.FacingMode = "user"
	s.Stream.Video.Width = 640
	s.Stream.Video.Height = 480
	s.Stream.Video.FrameRate = 15
	s.Face.Enabled = true
	s.Face.Interval = time.Second
	s.Face.MissThreshold = 3
	s.Noise.Enabled = true
	s.Noise.Interval = time.Second
	s.Noise.FFTSize = 2048
	s.Noise.MinDecibels = -100
	s.Noise.MaxDecibels = -30
	s.Noise.SpeechBandLowHz = 300
	s.Noise.SpeechBandHighHz = 3400
	s.Noise.AmbientBandHz = 4000
	s.Noise.PeakSeparationHz = 150
	s.Noise.ElevatedLevel = 40
	s.Noise.PoorSNR = 4
	s.Device.Enabled = true
	s.Device.Interval = 5 * time.Second
	s.Violations.LogCapacity = 10
	s.Violations.QueueSize = 16
	s.Violations.CoolDown.Face = 5 * time.Second
	s.Violations.CoolDown.Noise = 5 * time.Second
	s.Violations.CoolDown.Device = 10 * time.Second
	return s
}

func TestConstraints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		video     bool
		wantVideo bool
	}{
		{"camera and microphone", true, true},
		{"microphone only", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := testSettings()
			s.Stream.Video.Enabled = tt.video

			c := Constraints(s)
			assert.Equal(t, 48000, c.Audio.SampleRate)
			assert.Equal(t, 2, c.Audio.Channels)
			assert.Equal(t, tt.wantVideo, c.WantsVideo())
			if tt.wantVideo {
				assert.Equal(t, "/dev/video2", c.Video.DeviceID)
				assert.Equal(t, 640, c.Video.Width)
				assert.False(t, c.Video.Exact)
			}
		})
	}
}

func TestSinkConfig(t *testing.T) {
	t.Parallel()

	cfg := SinkConfig(testSettings())
	assert.Equal(t, 10, cfg.LogCapacity)
	assert.Equal(t, 16, cfg.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.CoolDowns.For(violation.StorageKind("usb:1-2")))
	assert.Equal(t, 5*time.Second, cfg.CoolDowns.For(violation.KindNoiseSecondary))
}

func TestNoiseConfig(t *testing.T) {
	t.Parallel()

	cfg := NoiseConfig(testSettings())
	assert.Equal(t, 2048, cfg.FFTSize)
	assert.InDelta(t, 3400.0, cfg.Bands.SpeechHighHz, 0)
	assert.InDelta(t, 4000.0, cfg.Bands.AmbientLowHz, 0)
	assert.InDelta(t, 40.0, cfg.Thresholds.ElevatedLevel, 0)
}

func TestPatternsFallBackToDefaults(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Device.Patterns.Storage = []string{"exam-stick"}

	p := Patterns(s)
	assert.Equal(t, []string{"exam-stick"}, p.Storage)
	assert.Equal(t, device.DefaultPatterns().Exclude, p.Exclude)
	assert.Equal(t, device.DefaultPatterns().BuiltIn, p.BuiltIn)
}

func TestEnumeratorsFollowSettings(t *testing.T) {
	t.Parallel()

	s := testSettings()
	names := func() []string {
		var out []string
		for _, e := range Enumerators(s) {
			out = append(out, e.Name())
		}
		return out
	}

	assert.Equal(t, []string{string(device.SourceAudio)}, names())

	s.Device.Video.Enabled = true
	s.Device.USB.Enabled = true
	s.Device.USB.SysfsPath = t.TempDir()
	s.Device.Partitions.Enabled = true
	got := names()
	assert.Contains(t, got, string(device.SourceVideo))
	assert.Contains(t, got, string(device.SourceUSB))
	assert.Contains(t, got, string(device.SourcePartition))
}

func TestNewRequiresSettings(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Options{})
	require.Error(t, err)
}

func TestNewBuildsDetectorsFromSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(*conf.Settings)
		want  []string
	}{
		{"all detectors", func(*conf.Settings) {}, []string{"device", "face", "noise"}},
		{"face needs video", func(s *conf.Settings) { s.Stream.Video.Enabled = false }, []string{"device", "noise"}},
		{"noise only", func(s *conf.Settings) {
			s.Face.Enabled = false
			s.Device.Enabled = false
		}, []string{"noise"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := testSettings()
			tt.setup(s)

			a, err := New(s, Options{})
			require.NoError(t, err)
			defer a.Close()

			status := a.Session().Status()
			assert.Equal(t, "exam-42", status.Name)
			var names []string
			for name := range status.Detectors {
				names = append(names, name)
			}
			assert.ElementsMatch(t, tt.want, names)
		})
	}
}

func TestDatastoreArchivesReportedViolations(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Datastore.Enabled = true
	s.Datastore.Type = datastore.TypeSQLite
	s.Datastore.SQLite.Path = filepath.Join(t.TempDir(), "proctor.db")

	a, err := New(s, Options{})
	require.NoError(t, err)

	_, emitted := a.Sink().Report(context.Background(), violation.Report{
		Kind:     violation.KindFaceMultiple,
		Severity: violation.SeverityError,
		Message:  "Multiple faces detected (2)",
		Source:   "face",
	})
	require.True(t, emitted)
	a.Close()

	store, err := datastore.Open(datastore.ConfigFromSettings(s))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	recent, err := store.Recent(context.Background(), "exam-42", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, violation.KindFaceMultiple, recent[0].Kind)
}

func TestRunReturnsAcquisitionFailure(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Stream.Video.Enabled = false
	s.Face.Enabled = false
	s.Device.Enabled = false

	a, err := New(s, Options{AudioFile: filepath.Join(t.TempDir(), "missing.wav")})
	require.NoError(t, err)
	defer a.Close()

	err = a.Run(context.Background())
	require.Error(t, err)
}
