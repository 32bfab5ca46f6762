package monitor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/proctor-go/internal/agent"
	"github.com/tphakala/proctor-go/internal/conf"
)

// Command creates the command that runs a monitored session.
func Command(settings *conf.Settings) *cobra.Command {
	var opts agent.Options

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Monitor the exam environment",
		Long:  "Acquire the microphone and camera and watch for face, noise and device violations until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, opts)
		},
	}

	if err := setupFlags(cmd, settings, &opts); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func run(parent context.Context, settings *conf.Settings, opts agent.Options) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(settings, opts)
	if err != nil {
		return fmt.Errorf("failed to set up monitoring: %w", err)
	}
	defer a.Close()

	return a.Run(ctx)
}

// setupFlags configures flags specific to the monitor command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings, opts *agent.Options) error {
	cmd.Flags().StringVar(&settings.Session.Name, "session", viper.GetString("session.name"), "Session name used in published violations")
	cmd.Flags().StringVar(&settings.Stream.Audio.Device, "audio-device", viper.GetString("stream.audio.device"), "Capture device name or id, empty for the system default")
	cmd.Flags().StringVar(&settings.Stream.Video.Device, "video-device", viper.GetString("stream.video.device"), "Camera device, e.g. /dev/video0")
	cmd.Flags().BoolVar(&settings.Stream.Video.Enabled, "video", viper.GetBool("stream.video.enabled"), "Capture the camera for face detection")
	cmd.Flags().StringVar(&settings.Face.ModelPath, "face-model", viper.GetString("face.modelpath"), "Path to the TensorFlow Lite face detection model")
	cmd.Flags().BoolVar(&settings.API.Enabled, "api", viper.GetBool("api.enabled"), "Serve the violation log and session status over HTTP")
	cmd.Flags().StringVar(&settings.API.Listen, "listen", viper.GetString("api.listen"), "Listen address of the HTTP API")
	cmd.Flags().StringVar(&opts.AudioFile, "audio-file", "", "Replay a WAV file instead of capturing the microphone")
	cmd.Flags().BoolVar(&opts.LoopAudio, "loop", false, "Loop the --audio-file replay")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
