package main

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/pflag"

	"github.com/tphakala/proctor-go/cmd"
	"github.com/tphakala/proctor-go/internal/conf"
	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	settings, err := conf.Load(configFlag(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	settings.Version = version

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		return 1
	}
	logger.SetGlobal(central)
	defer func() { _ = central.Close() }()

	log := central.Module("main")
	log.Info("starting proctor", logger.String("version", version))

	if settings.Telemetry.Sentry.Enabled {
		if err := errors.InitSentry(settings.Telemetry.Sentry.DSN, version); err != nil {
			log.Warn("error telemetry disabled", logger.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		log.Error("command failed", logger.Error(err))
		return 1
	}
	return 0
}

// configFlag picks --config out of the arguments. Settings must be loaded
// before the command tree is built because flag defaults come from them.
func configFlag(args []string) string {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsAllowlist.UnknownFlags = true
	fs.Usage = func() {}
	path := fs.StringP("config", "c", "", "")
	// help and unknown flags are reported by cobra later
	_ = fs.Parse(args)
	return *path
}
