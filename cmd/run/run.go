package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/audiorm/internal/accessory"
	"github.com/tphakala/audiorm/internal/arbiter"
	"github.com/tphakala/audiorm/internal/buildinfo"
	"github.com/tphakala/audiorm/internal/conf"
	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/events"
	"github.com/tphakala/audiorm/internal/logger"
	"github.com/tphakala/audiorm/internal/observability"
)

const shutdownTimeout = 5 * time.Second

// Command creates the command that runs the resource manager service.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the resource manager",
		Long:  "Start the resource manager, its hardware event queue and the optional telemetry endpoint, and run until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, info)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		panic(err)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().BoolVar(&settings.Telemetry.Enabled, "telemetry", viper.GetBool("telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Telemetry.Listen, "listen", viper.GetString("telemetry.listen"), "Listen address and port of telemetry endpoint")

	return bindFlags(cmd.Flags(), map[string]string{
		"telemetry": "telemetry.enabled",
		"listen":    "telemetry.listen",
	})
}

// bindFlags binds each flag name to its viper key.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		if err := viper.BindPFlag(key, fs.Lookup(name)); err != nil {
			return errors.Newf("error binding flag %s: %w", name, err).
				Category(errors.CategoryConfiguration).
				Context("flag", name).
				Build()
		}
	}
	return nil
}

// Run wires the service together and blocks until SIGINT, SIGTERM or a
// fatal error from one of its loops.
func Run(ctx context.Context, settings *conf.Settings, info *buildinfo.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Global().Module("main")

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	m.InstallErrorHook()
	if err := m.SetBuildInfo(info); err != nil {
		return err
	}

	bus := events.New(events.Config{BufferSize: settings.Arbiter.EventQueueSize})
	dispatcher := accessory.NewDispatcher(settings.Arbiter.EventQueueSize)

	plugins, err := loadPlugins(settings.Accessory.Plugins, dispatcher, log)
	if err != nil {
		return err
	}

	rm, err := arbiter.New(settings,
		arbiter.WithMetrics(m.Arbiter),
		arbiter.WithPublisher(bus),
		arbiter.WithDriverFactory(device.PluginFactory(plugins)),
	)
	if err != nil {
		releasePlugins(plugins, log)
		return err
	}
	defer func() {
		if err := rm.Close(); err != nil {
			log.Warn("resource manager close failed", logger.Error(err))
		}
	}()

	// instantiate plugin backed devices so Close releases every library
	for id := range plugins {
		if _, err := rm.GetInstance(id); err != nil {
			return err
		}
	}

	if err := bus.RegisterConsumer(rm); err != nil {
		return err
	}
	bus.Start()
	defer func() {
		if err := bus.Shutdown(shutdownTimeout); err != nil {
			log.Warn("event bus shutdown incomplete", logger.Error(err))
		}
	}()

	// everything that can fail is built before the first loop starts, so
	// no return path leaves a goroutine running
	var endpoint *observability.Endpoint
	if settings.Telemetry.Enabled {
		if endpoint, err = observability.NewEndpoint(&settings.Telemetry, m); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	if endpoint != nil {
		g.Go(func() error { return endpoint.Run(gctx) })
	}

	log.Info("resource manager running",
		logger.String("version", info.Version()),
		logger.Int("devices", len(settings.Platform.Devices)),
		logger.Int("plugins", len(plugins)),
		logger.Bool("lpi", rm.LowPower()),
		logger.Bool("telemetry", settings.Telemetry.Enabled))

	err = g.Wait()
	stats := rm.Stats()
	log.Info("resource manager stopping",
		logger.Int64("transactions", int64(stats.Transactions)), //nolint:gosec // counters stay far below MaxInt64
		logger.Int("associations", stats.Associations),
		logger.Int("orphans", stats.Orphans))
	return err
}

// loadPlugins opens every configured accessory plugin. Already opened
// plugins are released when a later one fails.
func loadPlugins(list []conf.PluginSettings, d *accessory.Dispatcher, log logger.Logger) (map[device.ID]accessory.Plugin, error) {
	plugins := make(map[device.ID]accessory.Plugin, len(list))
	for _, ps := range list {
		p, err := accessory.OpenNative(ps.Path, ps.Device, d)
		if err != nil {
			releasePlugins(plugins, log)
			return nil, errors.Newf("load plugin for %s: %w", ps.Device, err).
				Category(errors.CategoryPlugin).
				Context("device", ps.Device).
				Context("path", ps.Path).
				Build()
		}
		log.Info("accessory plugin loaded",
			logger.String("device", ps.Device),
			logger.String("path", ps.Path),
			logger.String("codec", ps.Codec))
		plugins[device.ID(ps.Device)] = p
	}
	return plugins, nil
}

// releasePlugins unloads plugins that no device took ownership of.
func releasePlugins(plugins map[device.ID]accessory.Plugin, log logger.Logger) {
	for id, p := range plugins {
		if err := p.Release(); err != nil {
			log.Warn("plugin release failed", logger.String("device", string(id)), logger.Error(err))
		}
	}
}
