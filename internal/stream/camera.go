package stream

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
)

const (
	defaultStartupTimeout = 5 * time.Second
	stopTimeout           = 5 * time.Second
	stderrTailLines       = 20
)

// CameraConfig configures the ffmpeg camera capture process.
type CameraConfig struct {
	FFmpegPath     string
	InputFormat    string // v4l2, avfoundation or dshow; empty selects per OS
	StartupTimeout time.Duration
}

// cameraProcess runs ffmpeg decoding the camera to raw RGB frames on stdout.
type cameraProcess struct {
	cfg    CameraConfig
	video  VideoConstraints
	device string
	track  *FrameTrack
	log    logger.Logger

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
	cancel context.CancelFunc

	firstFrame chan struct{}
	exited     chan struct{}
	exitErr    error

	tailMu sync.Mutex
	tail   []string

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func defaultInputFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "v4l2"
	}
}

func defaultCameraDevice(format string) string {
	switch format {
	case "avfoundation":
		return "0"
	case "v4l2":
		return "/dev/video0"
	default:
		return ""
	}
}

// openCamera starts ffmpeg and waits until the first frame arrives, the
// process exits, or the startup timeout passes.
func openCamera(ctx context.Context, cfg CameraConfig, v VideoConstraints) (*FrameTrack, error) {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = defaultInputFormat()
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	if v.Width <= 0 || v.Height <= 0 {
		return nil, fmt.Errorf("%w: camera resolution %dx%d", ErrOverconstrained, v.Width, v.Height)
	}

	// Desktop cameras face the user; a rear camera cannot be satisfied.
	if v.FacingMode == "environment" {
		return nil, fmt.Errorf("%w: facing mode %q not available", ErrOverconstrained, v.FacingMode)
	}

	device := v.DeviceID
	if device == "" {
		device = defaultCameraDevice(cfg.InputFormat)
		if device == "" {
			return nil, fmt.Errorf("%w: no default camera for input format %s", ErrDeviceUnavailable, cfg.InputFormat)
		}
	}
	if cfg.InputFormat == "v4l2" {
		if _, err := os.Stat(device); err != nil {
			switch {
			case os.IsPermission(err):
				return nil, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
			case v.DeviceID != "":
				return nil, fmt.Errorf("%w: camera %s: %w", ErrOverconstrained, device, err)
			default:
				return nil, fmt.Errorf("%w: camera %s: %w", ErrDeviceUnavailable, device, err)
			}
		}
	}

	p := &cameraProcess{
		cfg:        cfg,
		video:      v,
		device:     device,
		log:        GetLogger().Module("camera"),
		firstFrame: make(chan struct{}),
		exited:     make(chan struct{}),
	}
	p.track = NewFrameTrack(device, p.stop)

	if err := p.start(ctx); err != nil {
		return nil, err
	}

	timer := time.NewTimer(cfg.StartupTimeout)
	defer timer.Stop()

	select {
	case <-p.firstFrame:
		return p.track, nil
	case <-p.exited:
		_ = p.stop()
		return nil, p.classifyExit()
	case <-timer.C:
		p.log.Warn("camera produced no frame during startup, continuing",
			logger.String("device", device),
			logger.Duration("timeout", cfg.StartupTimeout))
		return p.track, nil
	case <-ctx.Done():
		_ = p.stop()
		return nil, ctx.Err()
	}
}

func (p *cameraProcess) args() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", p.cfg.InputFormat}
	if p.video.Exact {
		if p.video.FrameRate > 0 {
			args = append(args, "-framerate", strconv.Itoa(p.video.FrameRate))
		}
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", p.video.Width, p.video.Height))
	}
	args = append(args, "-i", p.device)

	filter := fmt.Sprintf("scale=%d:%d", p.video.Width, p.video.Height)
	if p.video.FrameRate > 0 {
		filter = fmt.Sprintf("fps=%d,%s", p.video.FrameRate, filter)
	}
	return append(args, "-vf", filter, "-f", "rawvideo", "-pix_fmt", "rgba", "pipe:1")
}

func (p *cameraProcess) start(parent context.Context) error {
	// The process outlives the acquisition request; Stop cancels it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	p.cancel = cancel

	args := p.args()
	p.cmd = exec.CommandContext(ctx, p.cfg.FFmpegPath, args...)

	var err error
	if p.stdout, err = p.cmd.StdoutPipe(); err != nil {
		cancel()
		return errors.New(err).
			Component("stream").
			Category(errors.CategoryVideo).
			Context("operation", "create-stdout-pipe").
			Build()
	}
	if p.stderr, err = p.cmd.StderrPipe(); err != nil {
		cancel()
		return errors.New(err).
			Component("stream").
			Category(errors.CategoryVideo).
			Context("operation", "create-stderr-pipe").
			Build()
	}

	if err := p.cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) || os.IsNotExist(err) {
			return fmt.Errorf("%w: ffmpeg not found at %s: %w", ErrDeviceUnavailable, p.cfg.FFmpegPath, err)
		}
		return fmt.Errorf("%w: starting ffmpeg: %w", ErrDeviceUnavailable, err)
	}

	p.log.Info("camera capture started",
		logger.String("device", p.device),
		logger.Int("pid", p.cmd.Process.Pid),
		logger.Int("width", p.video.Width),
		logger.Int("height", p.video.Height))

	p.wg.Add(2)
	go p.readFrames()
	go p.readStderr()

	go func() {
		p.wg.Wait()
		p.exitErr = p.cmd.Wait()
		close(p.exited)
	}()
	return nil
}

func (p *cameraProcess) readFrames() {
	defer p.wg.Done()

	w, h := p.video.Width, p.video.Height
	frameSize := w * h * 4
	reader := bufio.NewReaderSize(p.stdout, frameSize)
	first := true

	for {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		if _, err := io.ReadFull(reader, img.Pix[:frameSize]); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				p.log.Debug("camera frame read ended", logger.Error(err))
			}
			return
		}
		p.track.SetFrame(img)
		if first {
			first = false
			close(p.firstFrame)
		}
	}
}

func (p *cameraProcess) readStderr() {
	defer p.wg.Done()

	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p.tailMu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > stderrTailLines {
			p.tail = p.tail[len(p.tail)-stderrTailLines:]
		}
		p.tailMu.Unlock()
		p.log.Debug("ffmpeg", logger.String("stderr", line))
	}
}

// classifyExit maps ffmpeg's stderr to an acquisition failure class.
func (p *cameraProcess) classifyExit() error {
	p.tailMu.Lock()
	msg := strings.Join(p.tail, "; ")
	p.tailMu.Unlock()
	if msg == "" && p.exitErr != nil {
		msg = p.exitErr.Error()
	}
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "not authorized"):
		return fmt.Errorf("%w: camera %s: %s", ErrPermissionDenied, p.device, msg)
	case strings.Contains(lower, "invalid argument"), strings.Contains(lower, "not supported"),
		strings.Contains(lower, "cannot find a proper format"), strings.Contains(lower, "could not set video options"):
		return fmt.Errorf("%w: camera %s: %s", ErrOverconstrained, p.device, msg)
	default:
		return fmt.Errorf("%w: camera %s: %s", ErrDeviceUnavailable, p.device, msg)
	}
}

// stop terminates ffmpeg. It runs once; later calls return nil.
func (p *cameraProcess) stop() error {
	var stopErr error
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		if p.cmd == nil || p.cmd.Process == nil {
			return
		}
		select {
		case <-p.exited:
		case <-time.After(stopTimeout):
			p.log.Warn("ffmpeg did not exit after cancel, killing", logger.String("device", p.device))
			if err := p.cmd.Process.Kill(); err != nil {
				stopErr = errors.New(err).
					Component("stream").
					Category(errors.CategorySystem).
					Context("operation", "kill-ffmpeg").
					Build()
			}
		}
		p.log.Info("camera capture stopped", logger.String("device", p.device))
	})
	return stopErr
}
