// Package agent assembles the monitoring pipeline from settings and runs it
// until the context ends.
package agent

import (
	"context"
	"time"

	"github.com/tphakala/proctor-go/internal/api"
	"github.com/tphakala/proctor-go/internal/conf"
	"github.com/tphakala/proctor-go/internal/datastore"
	"github.com/tphakala/proctor-go/internal/device"
	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/face"
	"github.com/tphakala/proctor-go/internal/logger"
	"github.com/tphakala/proctor-go/internal/mqtt"
	"github.com/tphakala/proctor-go/internal/noise"
	"github.com/tphakala/proctor-go/internal/notification"
	"github.com/tphakala/proctor-go/internal/observability"
	"github.com/tphakala/proctor-go/internal/session"
	"github.com/tphakala/proctor-go/internal/stream"
	"github.com/tphakala/proctor-go/internal/violation"
)

const shutdownTimeout = 10 * time.Second

// GetLogger returns the agent module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("agent")
}

// Options are command line overrides that do not live in the settings file.
type Options struct {
	AudioFile string // replay a WAV file instead of opening the microphone
	LoopAudio bool
}

// Agent owns every component of one monitored session.
type Agent struct {
	settings *conf.Settings
	log      logger.Logger

	metrics  *observability.Metrics
	sink     *violation.Sink
	acquirer *stream.Acquirer
	models   *face.ModelService
	usb      *device.USBWatcher
	session  *session.Session
	server   *api.Server

	mqttClient mqtt.Client
	store      *datastore.Store
}

// New builds the pipeline. Nothing captures or listens until Run.
func New(settings *conf.Settings, opts Options) (*Agent, error) {
	if settings == nil {
		return nil, errors.Newf("settings are required").
			Component("agent").
			Category(errors.CategoryConfiguration).
			Build()
	}

	a := &Agent{settings: settings, log: GetLogger()}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("agent").
			Category(errors.CategorySystem).
			Context("operation", "create-metrics").
			Build()
	}
	a.metrics = metrics

	a.sink = violation.NewSink(SinkConfig(settings), violation.WithObserver(metrics.Violations))

	if err := a.addConsumers(); err != nil {
		a.Close()
		return nil, err
	}

	a.acquirer = stream.NewAcquirer(provider(settings, opts), Constraints(settings))

	detectors := a.buildDetectors()

	var sessOpts []session.Option
	if settings.API.Enabled {
		// a failed acquisition waits for POST /session/retry
		sessOpts = append(sessOpts, session.WithRetryOnFailure())
	}
	a.session = session.New(settings.Session.Name, a.acquirer, detectors, sessOpts...)

	if settings.API.Enabled {
		var serverOpts []api.ServerOption
		if settings.Telemetry.Metrics.Enabled {
			serverOpts = append(serverOpts,
				api.WithMetricsHandler(metrics.Handler()),
				api.WithObserver(metrics.HTTP))
		}
		server, err := api.New(api.ConfigFromSettings(settings), a.sink, a.session, serverOpts...)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.server = server
	}

	return a, nil
}

// addConsumers registers the enabled violation consumers with the sink.
func (a *Agent) addConsumers() error {
	s := a.settings
	recorder := a.metrics.Consumers

	if s.MQTT.Enabled {
		cfg := mqtt.ConfigFromSettings(s)
		client, err := mqtt.NewClient(cfg, recorder)
		if err != nil {
			return err
		}
		a.mqttClient = client
		if err := a.sink.AddConsumer(mqtt.NewPublisher(client, cfg, s.Session.Name, recorder)); err != nil {
			return err
		}
	}

	if s.Notification.Enabled {
		sender, err := notification.NewShoutrrrSender(s.Notification.URLs, s.Notification.Timeout)
		if err != nil {
			return err
		}
		notifier := notification.NewNotifier(notification.Config{
			Session:       s.Session.Name,
			MinSeverity:   notification.ParseSeverity(s.Notification.MinSeverity),
			RatePerMinute: s.Notification.RatePerMin,
		}, sender, notification.WithRecorder(recorder))
		if err := a.sink.AddConsumer(notifier); err != nil {
			return err
		}
	}

	if s.Datastore.Enabled {
		store, err := datastore.Open(datastore.ConfigFromSettings(s), datastore.WithObserver(a.metrics.Datastore))
		if err != nil {
			return err
		}
		a.store = store
		if err := a.sink.AddConsumer(datastore.NewArchive(store, s.Session.Name, recorder)); err != nil {
			return err
		}
	}
	return nil
}

// buildDetectors creates the enabled detectors in start order.
func (a *Agent) buildDetectors() []session.Detector {
	s := a.settings
	observer := a.metrics.Detectors
	var detectors []session.Detector

	if s.Device.Enabled {
		var opts []device.Option
		opts = append(opts, device.WithObserver(observer))
		if s.Device.USB.Enabled {
			a.usb = device.NewUSBWatcher(s.Device.USB.SysfsPath)
			opts = append(opts, device.WithUSBAccess(a.usb))
		}
		detectors = append(detectors, device.NewDetector(device.Config{
			Interval:      s.Device.Interval,
			EventLookback: s.Device.EventLookback,
		}, Enumerators(s), device.NewClassifier(Patterns(s)), a.sink, opts...))
	}

	if s.Face.Enabled && s.Stream.Video.Enabled {
		a.models = face.NewModelService(face.NewTFLiteLoader(face.TFLiteConfig{
			ModelPath:      s.Face.ModelPath,
			Threads:        s.Face.Threads,
			ScoreThreshold: s.Face.ScoreThreshold,
		}))
		detectors = append(detectors, face.NewDetector(face.Config{
			Interval:      s.Face.Interval,
			MissThreshold: s.Face.MissThreshold,
		}, a.models, a.acquirer, a.sink, face.WithObserver(observer)))
	} else if s.Face.Enabled {
		a.log.Warn("face detector disabled because video capture is off")
	}

	if s.Noise.Enabled {
		detectors = append(detectors, noise.NewDetector(NoiseConfig(s), a.acquirer, a.sink,
			noise.WithObserver(observer)))
	}
	return detectors
}

// Session returns the session, for status reporting.
func (a *Agent) Session() *session.Session { return a.session }

// Sink returns the violation sink.
func (a *Agent) Sink() *violation.Sink { return a.sink }

// Run starts the HTTP server and the USB watcher, then runs the session until
// ctx ends. The session stops its detectors and releases the stream before
// Run returns.
func (a *Agent) Run(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
	}

	if a.usb != nil {
		if err := a.usb.Start(ctx); err != nil {
			// device polling still works from the enumerators
			a.log.Warn("USB watcher unavailable", logger.Error(err))
		}
	}

	a.log.Info("monitoring session",
		logger.String("session", a.settings.Session.Name),
		logger.Bool("video", a.settings.Stream.Video.Enabled))

	err := a.session.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close releases everything New and Run acquired. It is safe to call once
// after Run returns or instead of Run.
func (a *Agent) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("API shutdown failed", logger.Error(err))
		}
		cancel()
	}
	if a.usb != nil {
		a.usb.Stop()
	}

	// drains queued records into the consumers before they go away
	if a.sink != nil {
		a.sink.Close()
	}

	if a.models != nil {
		if err := a.models.Close(); err != nil {
			a.log.Warn("closing face model failed", logger.Error(err))
		}
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	if a.store != nil {
		a.logArchiveSummary()
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing datastore failed", logger.Error(err))
		}
	}
}

// logArchiveSummary logs how many violations of this session the archive
// holds per detector family.
func (a *Agent) logArchiveSummary() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := a.store.CountByFamily(ctx, a.settings.Session.Name)
	if err != nil {
		a.log.Warn("archive summary unavailable", logger.Error(err))
		return
	}
	fields := []logger.Field{logger.String("session", a.settings.Session.Name)}
	for _, c := range counts {
		fields = append(fields, logger.Int64(c.Family, c.Count))
	}
	a.log.Info("session archive summary", fields...)
}
