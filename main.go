package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/XANi/go-yamlcfg"
	"github.com/XANi/goneric"
	"github.com/XANi/solis2mqtt/bridge"
	"github.com/XANi/solis2mqtt/cloud"
	"github.com/XANi/solis2mqtt/config"
	"github.com/XANi/solis2mqtt/hass"
	"github.com/XANi/solis2mqtt/history"
	"github.com/XANi/solis2mqtt/host"
	"github.com/XANi/solis2mqtt/poller"
	"github.com/XANi/solis2mqtt/store"
	"github.com/XANi/solis2mqtt/telemetry"
	"github.com/XANi/solis2mqtt/web"
	"github.com/efigence/go-mon"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version string
var log *zap.SugaredLogger
var debug = true
var exit = make(chan error, 1)

// /* embeds with all files, just dir/ ignores files starting with _ or .
//
//go:embed static templates
var embeddedWebContent embed.FS

func init() {
	consoleEncoderConfig := zap.NewDevelopmentEncoderConfig()
	// naive systemd detection. Drop timestamp if running under it
	if os.Getenv("JOURNAL_STREAM") != "" {
		consoleEncoderConfig.TimeKey = ""
	}
	consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderConfig)
	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return (lvl < zapcore.ErrorLevel) != (lvl == zapcore.DebugLevel && !debug)
	})
	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, os.Stderr, lowPriority),
		zapcore.NewCore(consoleEncoder, os.Stderr, highPriority),
	)
	logger := zap.New(core)
	if debug {
		logger = logger.WithOptions(
			zap.Development(),
			zap.AddCaller(),
			zap.AddStacktrace(highPriority),
		)
	} else {
		logger = logger.WithOptions(
			zap.AddCaller(),
		)
	}
	log = logger.Sugar()

}

func main() {
	defer log.Sync()
	// register internal stats
	mon.RegisterGcStats()
	app := &cli.Command{
		Name:        "solis2mqtt",
		Description: "Poll SolisCloud inverter telemetry and publish it as Home Assistant sensors over MQTT",
		Version:     version,
	}
	log.Infof("Starting %s version: %s on %s", app.Name, version, goneric.Must(os.Hostname()))
	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "enable debug logs"},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "config file. Will be created if it does not exist",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SOLIS_CONFIG"),
			),
		},
		&cli.StringFlag{
			Name:  "api-key",
			Usage: "SolisCloud API key id",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SOLIS_API_KEY"),
			),
		},
		&cli.StringFlag{
			Name:  "api-secret",
			Usage: "SolisCloud API secret",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SOLIS_API_SECRET"),
			),
		},
		&cli.StringFlag{
			Name:  "device-id",
			Usage: "inverter device id",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SOLIS_DEVICE_ID"),
			),
		},
		&cli.IntFlag{
			Name:  "interval",
			Usage: "poll interval in seconds, minimum 60",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SOLIS_POLL_INTERVAL"),
			),
		},
		&cli.StringFlag{
			Name:  "mqtt-addr",
			Usage: "mqtt broker address",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("MQTT_ADDR"),
			),
		},
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "Listen addr",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("LISTEN_ADDR"),
			),
		},
		&cli.StringFlag{
			Name:  "database",
			Usage: "accessory cache, sqlite path or postgres DSN",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("DATABASE"),
			),
		},
		&cli.StringFlag{
			Name:  "pprof-addr",
			Value: "",
			Usage: "address to run pprof on, disabled by default",
		},
	}
	app.Action = func(ctx context.Context, c *cli.Command) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		return run(ctx, cfg)
	}
	app.Commands = []*cli.Command{
		{
			Name:  "once",
			Usage: "poll every device once, print the snapshot and exit",
			Action: func(ctx context.Context, c *cli.Command) error {
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				return once(ctx, cfg)
			},
		},
		{
			Name:  "config",
			Usage: "print example config",
			Action: func(ctx context.Context, c *cli.Command) error {
				var cfg config.Config
				fmt.Print(cfg.GetDefaultConfig())
				return nil
			},
		},
	}
	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads the config file if given, then applies flags set on the command line or env.
func loadConfig(c *cli.Command) (*config.Config, error) {
	var cfg config.Config
	if c.String("config") != "" {
		err := yamlcfg.LoadConfig([]string{c.String("config")}, &cfg)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}
	if c.IsSet("api-key") {
		cfg.APIKey = c.String("api-key")
	}
	if c.IsSet("api-secret") {
		cfg.APISecret = c.String("api-secret")
	}
	if c.IsSet("device-id") {
		cfg.DeviceID = c.String("device-id")
	}
	if c.IsSet("interval") {
		cfg.PollInterval = int(c.Int("interval"))
	}
	if c.IsSet("mqtt-addr") {
		cfg.MQTTAddress = c.String("mqtt-addr")
	}
	if c.IsSet("listen-addr") {
		cfg.ListenAddress = c.String("listen-addr")
	}
	if c.IsSet("database") {
		cfg.Database = c.String("database")
	}
	if c.IsSet("pprof-addr") {
		cfg.PProfAddress = c.String("pprof-addr")
	}
	if c.Bool("debug") {
		cfg.Debug = true
	}
	debug = cfg.Debug
	log.Debug("debug enabled")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func schedulerConfig(cfg *config.Config, client *cloud.Client, metrics *poller.Metrics) (poller.Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return poller.Config{}, err
	}
	interval, clamped := cfg.Interval()
	if clamped {
		log.Warnf("poll_interval %ds is below the minimum, using %s", cfg.PollInterval, interval)
	}
	return poller.Config{
		Fetcher:    client,
		Normalizer: &telemetry.Normalizer{Location: loc},
		Interval:   interval,
		Metrics:    metrics,
	}, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if len(cfg.PProfAddress) > 0 {
		log.Infof("listening pprof on %s", cfg.PProfAddress)
		go func() {
			log.Errorf("failed to start debug listener: %s (ignoring)", http.ListenAndServe(cfg.PProfAddress, nil))
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := poller.NewMetrics(reg)

	client, err := cloud.New(cloud.Config{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Logger:    log.Named("cloud"),
	})
	if err != nil {
		return err
	}
	sc, err := schedulerConfig(cfg, client, metrics)
	if err != nil {
		return err
	}

	hcfg := hass.Config{
		DiscoveryPrefix: cfg.DiscoveryPrefix,
		StatePrefix:     cfg.StatePrefix,
		NodeID:          cfg.NodeID,
		DeviceNames:     map[string]string{},
		Version:         version,
		Logger:          log.Named("hass"),
	}
	if hcfg.StatePrefix == "" {
		hcfg.StatePrefix = hass.DefaultStatePrefix
	}
	var recorder *history.Recorder
	if cfg.Database != "" {
		st, err := store.Open(cfg.Database, log.Named("store"))
		if err != nil {
			return err
		}
		hcfg.Store = st
		if cfg.History {
			recorder, err = history.New(st.DB(), history.Config{
				Retention: cfg.HistoryRetention(),
				Logger:    log.Named("history"),
			})
			if err != nil {
				return err
			}
		}
	} else if cfg.History {
		log.Warnf("history needs a database, disabling")
	}

	mq, err := hass.NewMQTT(hass.MQTTConfig{
		Address:     cfg.MQTTAddress,
		StatePrefix: hcfg.StatePrefix,
		Logger:      log.Named("mq"),
	})
	if err != nil {
		return err
	}
	defer mq.Close()
	hcfg.Transport = mq

	devices := cfg.DeviceList()
	for _, d := range devices {
		hcfg.DeviceNames[d.ID] = d.Name
	}
	h, err := hass.New(hcfg)
	if err != nil {
		return err
	}

	var platforms []*bridge.Platform
	var webDevices []web.Device
	for _, d := range devices {
		psc := sc
		if recorder != nil {
			psc.Observers = []poller.Observer{recorder}
		}
		p, err := bridge.New(bridge.Config{
			Host:       h,
			DeviceID:   d.ID,
			DeviceName: d.Name,
			Scheduler:  psc,
			Logger:     log.Named(d.ID),
		})
		if err != nil {
			return err
		}
		platforms = append(platforms, p)
		webDevices = append(webDevices, p)
	}
	err = h.Load(ctx, func(acc *host.Accessory) {
		restoreAccessory(platforms, acc)
	})
	if err != nil {
		return fmt.Errorf("error loading cached accessories: %w", err)
	}
	for _, p := range platforms {
		if err := p.Start(ctx); err != nil {
			return err
		}
	}

	if len(cfg.ListenAddress) > 0 {
		var webDir fs.FS
		webDir = embeddedWebContent
		if st, err := os.Stat("./static"); err == nil && st.IsDir() {
			if st, err := os.Stat("./templates"); err == nil && st.IsDir() {
				webDir = os.DirFS(".")
				log.Infof(`detected directories "static" and "templates", using local static files instead of ones embedded in binary`)
			}
		}
		wcfg := web.Config{
			Logger:     log.Named("web"),
			ListenAddr: cfg.ListenAddress,
			Devices:    webDevices,
			Gatherer:   reg,
			Version:    version,
		}
		if recorder != nil {
			wcfg.History = recorder
		}
		w, err := web.New(wcfg, webDir)
		if err != nil {
			log.Panicf("error starting web listener: %s", err)
		}
		go func() {
			exit <- w.Run()
		}()
	}
	select {
	case <-ctx.Done():
		log.Infof("shutting down")
		return nil
	case err := <-exit:
		return err
	}
}

// restoreAccessory routes a cached accessory to the platform owning its device.
// Accessories without a device go to every platform so they get retired.
func restoreAccessory(platforms []*bridge.Platform, acc *host.Accessory) {
	owned := false
	for _, p := range platforms {
		if acc.Device() == "" || acc.Device() == p.DeviceID() {
			p.Restore(acc)
			owned = true
		}
	}
	if !owned {
		log.Infof("cached accessory %s belongs to unconfigured device %s, leaving it alone", acc.DisplayName, acc.Device())
	}
}

func once(ctx context.Context, cfg *config.Config) error {
	client, err := cloud.New(cloud.Config{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Logger:    log.Named("cloud"),
	})
	if err != nil {
		return err
	}
	sc, err := schedulerConfig(cfg, client, poller.NewMetrics(nil))
	if err != nil {
		return err
	}
	mem := host.NewMemory(log.Named("host"))
	var failed error
	for _, d := range cfg.DeviceList() {
		p, err := bridge.New(bridge.Config{
			Host:       mem,
			DeviceID:   d.ID,
			DeviceName: d.Name,
			Scheduler:  sc,
			Logger:     log.Named(d.ID),
		})
		if err != nil {
			return err
		}
		if err := p.Once(ctx); err != nil {
			log.Errorf("poll of %s failed (%s): %s", d.ID, poller.Classify(err), err)
			failed = err
			continue
		}
		status := web.DeviceStatus{DeviceID: d.ID, Accessories: p.Accessories()}
		if snap, ok := p.LastSnapshot(); ok {
			status.Snapshot = &snap
			status.LastUpdate = snap.TimestampText
		}
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}
	return failed
}
