// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default storage patterns. Empirically tuned, expect per-deployment recalibration.
var (
	defaultStoragePatterns = []string{
		"drive", "flash", "storage", "disk", "mass storage", "usb stick", "thumb",
		"sandisk", "cruzer", "kingston", "datatraveler", "lexar", "transcend",
		"pny", "verbatim", "seagate", "western digital", "wd ", "toshiba", "samsung t",
		"sd card", "card reader",
	}
	defaultExcludePatterns = []string{
		"keyboard", "mouse", "trackpad", "touchpad", "camera", "webcam", "headset",
		"headphone", "microphone", "speaker", "audio", "hub", "bluetooth", "receiver",
		"controller", "gamepad",
	}
	defaultBuiltInPatterns = []string{
		"built-in", "builtin", "internal", "integrated", "default", "hda intel",
		"at translated set", "power button", "sleep button", "lid switch", "video bus",
		"pc speaker", "root hub", "host controller",
	}
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("session.name", "proctor")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/proctor.log")
	viper.SetDefault("logging.file_output.level", "debug")

	viper.SetDefault("stream.audio.device", "")
	viper.SetDefault("stream.audio.samplerate", 48000)
	viper.SetDefault("stream.audio.channels", 1)
	viper.SetDefault("stream.audio.bufferseconds", 2.0)

	viper.SetDefault("stream.video.enabled", true)
	viper.SetDefault("stream.video.device", "/dev/video0")
	viper.SetDefault("stream.video.facingmode", "user")
	viper.SetDefault("stream.video.width", 640)
	viper.SetDefault("stream.video.height", 480)
	viper.SetDefault("stream.video.framerate", 15)
	viper.SetDefault("stream.video.ffmpegpath", "ffmpeg")
	viper.SetDefault("stream.video.inputformat", "")

	viper.SetDefault("face.enabled", true)
	viper.SetDefault("face.modelpath", "models/face_detection.tflite")
	viper.SetDefault("face.threads", 0)
	viper.SetDefault("face.interval", 2*time.Second)
	viper.SetDefault("face.missthreshold", 3)
	viper.SetDefault("face.scorethreshold", 0.6)

	viper.SetDefault("noise.enabled", true)
	viper.SetDefault("noise.interval", time.Second)
	viper.SetDefault("noise.fftsize", 2048)
	viper.SetDefault("noise.mindecibels", -100.0)
	viper.SetDefault("noise.maxdecibels", -30.0)
	viper.SetDefault("noise.elevatedlevel", 35.0)
	viper.SetDefault("noise.poorsnr", 4.0)
	viper.SetDefault("noise.ambientbandhz", 4000.0)
	viper.SetDefault("noise.ambientshare", 0.35)
	viper.SetDefault("noise.speechbandlowhz", 300.0)
	viper.SetDefault("noise.speechbandhighhz", 3400.0)
	viper.SetDefault("noise.speechshare", 0.5)
	viper.SetDefault("noise.speechlevel", 25.0)
	viper.SetDefault("noise.secondarypeakratio", 0.8)
	viper.SetDefault("noise.peakseparationhz", 150.0)

	viper.SetDefault("device.enabled", true)
	viper.SetDefault("device.interval", 5*time.Second)
	viper.SetDefault("device.eventlookback", 60*time.Second)
	viper.SetDefault("device.patterns.storage", defaultStoragePatterns)
	viper.SetDefault("device.patterns.exclude", defaultExcludePatterns)
	viper.SetDefault("device.patterns.builtin", defaultBuiltInPatterns)
	viper.SetDefault("device.usb.enabled", true)
	viper.SetDefault("device.usb.sysfspath", "/sys/bus/usb/devices")
	viper.SetDefault("device.input.enabled", true)
	viper.SetDefault("device.partitions.enabled", true)
	viper.SetDefault("device.video.enabled", true)

	viper.SetDefault("violations.logcapacity", 10)
	viper.SetDefault("violations.queuesize", 64)
	viper.SetDefault("violations.cooldown.face", 5*time.Second)
	viper.SetDefault("violations.cooldown.noise", 5*time.Second)
	viper.SetDefault("violations.cooldown.device", 10*time.Second)

	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", "127.0.0.1:8085")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "proctor")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})
	viper.SetDefault("notification.minseverity", "error")
	viper.SetDefault("notification.ratepermin", 6.0)
	viper.SetDefault("notification.timeout", 10*time.Second)

	viper.SetDefault("datastore.enabled", false)
	viper.SetDefault("datastore.type", "sqlite")
	viper.SetDefault("datastore.sqlite.path", "proctor.db")

	viper.SetDefault("telemetry.metrics.enabled", true)
	viper.SetDefault("telemetry.sentry.enabled", false)
}
