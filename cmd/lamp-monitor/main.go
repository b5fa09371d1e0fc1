package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dj-oyu/lamp-monitor/internal/archive"
	"github.com/dj-oyu/lamp-monitor/internal/capture"
	"github.com/dj-oyu/lamp-monitor/internal/capture/webcam"
	"github.com/dj-oyu/lamp-monitor/internal/config"
	"github.com/dj-oyu/lamp-monitor/internal/detection"
	"github.com/dj-oyu/lamp-monitor/internal/episodelog"
	"github.com/dj-oyu/lamp-monitor/internal/judge"
	"github.com/dj-oyu/lamp-monitor/internal/logger"
	"github.com/dj-oyu/lamp-monitor/internal/metrics"
	"github.com/dj-oyu/lamp-monitor/internal/notify"
	"github.com/dj-oyu/lamp-monitor/internal/publish"
	"github.com/dj-oyu/lamp-monitor/internal/sampler"
	"github.com/dj-oyu/lamp-monitor/internal/status"
	"github.com/dj-oyu/lamp-monitor/internal/webmonitor"
)

var (
	// Command-line flags
	configPath = flag.String("config", "setting.yaml", "Configuration file (YAML or JSON)")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error, silent); overrides the config")
	logFormat  = flag.String("log-format", "", "Log format (console, json); overrides the config")
	sourceKind = flag.String("source", "", "Frame source (camera, file, random); overrides the config")
	imagePath  = flag.String("image", "", "Image for -source file")
	httpAddr   = flag.String("http", "", "Dashboard address; overrides the config")
	debugMode  = flag.Bool("debug", false, "Measure the notification threshold in seconds instead of minutes")
)

// App wires the sampler, the notifiers and the dashboard together.
type App struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	board   *status.Board
	sampler *sampler.Sampler

	dispatcher *notify.Dispatcher
	publisher  publish.Publisher
	archiver   *archive.Archiver
	web        *webmonitor.Server
	httpServer *http.Server

	ctx    context.Context // cancelled on shutdown; also the base of every request
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, cfg.Log.Format, os.Stderr)
	defer logger.Sync()

	logger.Info("Main", "Lamp monitor starting...")
	logger.Info("Main", "Log level: %s", level)

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}
	app.Start()

	// Wait for shutdown signal; SIGHUP resets the detection state
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			break
		}
		logger.Info("Main", "SIGHUP received, resetting detection state")
		app.sampler.RequestReset()
	}

	logger.Info("Main", "Shutting down...")
	if err := app.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Stopped")
}

func applyFlags(cfg *config.Config) {
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *sourceKind != "" {
		cfg.Camera.Source = *sourceKind
	}
	if *imagePath != "" {
		cfg.Camera.ImagePath = *imagePath
		if *sourceKind == "" {
			cfg.Camera.Source = "file"
		}
	}
	if *httpAddr != "" {
		cfg.Web.Addr = *httpAddr
	}
	if *debugMode {
		cfg.Detection.DebugMode = true
	}
}

// NewApp builds every component. Only a camera that cannot be opened is an error
// here; optional transports that fail to connect are logged and skipped.
func NewApp(cfg *config.Config) (*App, error) {
	m := metrics.New()
	runID := uuid.NewString()
	board := status.NewBoard(runID, cfg.Web.Freshness(), time.Now())

	source, err := openSource(cfg.Camera)
	if err != nil {
		return nil, err
	}

	episodes, err := episodelog.Open(cfg.Log.Path)
	if err != nil {
		_ = source.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{cfg: cfg, metrics: m, board: board, ctx: ctx, cancel: cancel}
	app.dispatcher = newDispatcher(cfg.Notification, m)
	app.publisher = newPublisher(cfg.Publish, m)
	app.archiver = newArchiver(cfg.Archive)

	scale := detection.TimeScale{Debug: cfg.Detection.DebugMode}
	deps := sampler.Deps{
		Source:     source,
		Classifier: cfg.Detection.Classifier(),
		Machine:    detection.New(cfg.Detection.ThresholdMinutes, scale),
		Log:        episodes,
		Board:      board,
		Metrics:    m,
		Dispatcher: app.dispatcher,
		Publisher:  app.publisher,
		Archiver:   app.archiver,
		Logger:     logger.Named("Sampler").With(zap.String("run_id", runID)),
		RunID:      runID,
	}
	app.sampler = sampler.New(sampler.Config{
		Orange: cfg.Coordinates.Orange,
		Green:  cfg.Coordinates.Green,
		Thresholds: judge.Thresholds{
			Percentage: cfg.Detection.PercentageThreshold,
			Brightness: cfg.Detection.BrightnessThreshold,
			MinPixels:  cfg.Detection.MinPixelCount,
		},
		Interval:        cfg.Detection.Interval(),
		PreviewInterval: cfg.Detection.PreviewInterval(),
		RecentLines:     cfg.Log.RecentLines,
		NotifyTitle:     cfg.Notification.Title,
	}, deps)

	webCfg := webmonitor.DefaultConfig()
	webCfg.Addr = cfg.Web.Addr
	webCfg.StatusInterval = time.Duration(cfg.Web.StatusInterval * float64(time.Second))
	webCfg.RecentLines = cfg.Log.RecentLines
	webCfg.LogPath = cfg.Log.Path
	app.web = webmonitor.NewServer(webCfg, board, m)
	app.httpServer = &http.Server{
		Addr:              cfg.Web.Addr,
		Handler:           app.web.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logger.Info("Main", "  Run ID: %s", runID)
	logger.Info("Main", "  Source: %s", source.Name())
	logger.Info("Main", "  Preset: %s, red class: %v", cfg.Detection.Preset(), cfg.Detection.IncludeRed)
	logger.Info("Main", "  Interval: %v, threshold: %d %s", cfg.Detection.Interval(), cfg.Detection.ThresholdMinutes, scale.UnitName())
	logger.Info("Main", "  Episode log: %s", cfg.Log.Path)
	return app, nil
}

func openSource(c config.Camera) (capture.Source, error) {
	switch c.Source {
	case "file":
		return capture.NewFileSource(c.ImagePath), nil
	case "random":
		return capture.NewRandomSource(c.ImageDir, time.Now().UnixNano()), nil
	default:
		cam, err := webcam.OpenOrFind(c.Device, c.SearchRange)
		if err != nil {
			return nil, fmt.Errorf("failed to open camera: %w", err)
		}
		logger.Info("Main", "  Camera index: %d", cam.Index())
		return cam, nil
	}
}

func newDispatcher(c config.Notification, m *metrics.Metrics) *notify.Dispatcher {
	zl := logger.Named("Notify")
	notifiers := notify.Multi{notify.NewLogNotifier(zl)}
	if c.Teams.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewTeams(c.Teams.WebhookURL, c.Teams.Mentions, c.Teams.LinkURL, c.Timeout()))
	}
	if c.Line.ChannelToken != "" {
		notifiers = append(notifiers, notify.NewLine(c.Line.BaseURL, c.Line.ChannelToken, c.Line.To, c.Timeout()))
	}
	return notify.NewDispatcher(notifiers, c.QueueSize, c.Timeout(), zl,
		notify.WithResultHook(func(r notify.Result) {
			if r.Err != nil {
				m.NotificationsFailed.Add(1)
				return
			}
			m.NotificationsSent.Add(1)
		}))
}

// newPublisher connects every configured target and returns nil when there is none.
func newPublisher(c config.Publish, m *metrics.Metrics) publish.Publisher {
	zl := logger.Named("Publish")
	var targets publish.Multi

	if len(c.Kafka.Brokers) > 0 {
		k, err := publish.NewKafka(c.Kafka.Brokers, c.Kafka.Topic)
		if err != nil {
			logger.Warn("Main", "Kafka disabled: %v", err)
		} else {
			targets = append(targets, k)
		}
	}
	if c.MQTT.Broker != "" {
		mq, err := publish.NewMQTT(publish.MQTTOptions{
			Broker:   c.MQTT.Broker,
			ClientID: c.MQTT.ClientID,
			Topic:    c.MQTT.Topic,
			Username: c.MQTT.Username,
			Password: c.MQTT.Password,
		})
		if err != nil {
			logger.Warn("Main", "MQTT disabled: %v", err)
		} else {
			targets = append(targets, mq)
		}
	}
	if c.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r, err := publish.NewRedis(ctx, publish.RedisOptions{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			StateKey: c.Redis.StateKey,
			Stream:   c.Redis.Stream,
			TTL:      time.Duration(c.Redis.TTLSeconds) * time.Second,
		})
		cancel()
		if err != nil {
			logger.Warn("Main", "Redis disabled: %v", err)
		} else {
			targets = append(targets, r)
		}
	}

	if len(targets) == 0 {
		return nil
	}
	logger.Info("Main", "  Publishing to %d target(s)", len(targets))
	return publish.NewAsync(targets, 64, 10*time.Second, zl, func(error) {
		m.PublishErrors.Add(1)
	})
}

func newArchiver(c config.Archive) *archive.Archiver {
	if c.Dir == "" {
		return nil
	}
	var uploader archive.Uploader
	if c.Minio.Endpoint != "" {
		mc, err := archive.NewMinio(c.Minio.Endpoint, c.Minio.AccessKey, c.Minio.SecretKey, c.Minio.Bucket, c.Minio.Secure)
		if err != nil {
			logger.Warn("Main", "MinIO upload disabled: %v", err)
		} else {
			uploader = mc
		}
	}
	return archive.NewArchiver(c.Dir, uploader, logger.Named("Archive"))
}

// Start starts all components
func (a *App) Start() {
	a.dispatcher.Start()
	if a.archiver != nil {
		if err := a.archiver.Start(); err != nil {
			logger.Warn("Main", "Archive disabled: %v", err)
			a.archiver = nil
		}
	}

	go func() {
		logger.Info("Main", "Dashboard listening on %s", a.cfg.Web.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.sampler.Run(a.ctx); err != nil {
			logger.Error("Main", "Sampler stopped: %v", err)
		}
	}()
}

// Shutdown stops the sampler and open streams first, so the last cycle's side
// effects are queued before the workers drain.
func (a *App) Shutdown() error {
	a.cancel()
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.web.Close()
	errs := []error{a.httpServer.Shutdown(ctx)}

	a.dispatcher.Stop()
	if r, ok := a.dispatcher.LastResult(); ok {
		if r.Err != nil {
			logger.Warn("Main", "Last notification at %s failed: %v", r.Sent.Format(time.RFC3339), r.Err)
		} else {
			logger.Info("Main", "Last notification sent at %s", r.Sent.Format(time.RFC3339))
		}
	}
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.archiver != nil {
		errs = append(errs, a.archiver.Stop())
		st := a.archiver.GetStatus()
		logger.Info("Main", "Archive: %d written, %d uploaded, %d failed", st.Written, st.Uploaded, st.Failed)
	}
	return errors.Join(errs...)
}
