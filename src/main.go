package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ryansname/chargectl/src/controller"
	"github.com/ryansname/chargectl/src/samples"
	"github.com/ryansname/chargectl/src/tariff"
)

var logger = logrus.New()

func init() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// Returned normally, either cancelled or finished
			if panicValue == nil {
				return
			}

			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			logger.Errorf("Panic in %s (attempt %d/%d): %v", name, retries, maxRetries, panicValue)

			if retries >= maxRetries {
				logger.Errorf("%s failed after %d retries, shutting down", name, maxRetries)
				cancel()
				return
			}

			logger.Infof("%s will retry in %v", name, delay)
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

type runOptions struct {
	configPath  string
	optionsPath string
	timezone    string
	debug       bool
	forceEnable bool
}

func newRootCmd() *cobra.Command {
	opts := &runOptions{}

	root := &cobra.Command{
		Use:           "chargectl",
		Short:         "Divert spare tariff block capacity to EV charging",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "chargectl.yaml", "base config file")
	root.PersistentFlags().StringVar(&opts.optionsPath, "options", "options.yaml", "options file overriding the base config")
	root.PersistentFlags().StringVar(&opts.timezone, "timezone", "Europe/Ljubljana", "time zone for blocks and holidays commands")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the charging controller (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	for _, c := range []*cobra.Command{root, runCmd} {
		c.Flags().BoolVar(&opts.debug, "debug", false, "interactive console for watching values")
		c.Flags().BoolVar(&opts.forceEnable, "force-enable", false, "ignore the enabled switch")
	}

	root.AddCommand(runCmd, newBlocksCmd(&opts.timezone), newHolidaysCmd(&opts.timezone))
	return root
}

func run(parent context.Context, opts *runOptions) error {
	logger.Info("Starting chargectl...")

	if err := godotenv.Load(); err != nil {
		logger.Warnf("Error loading .env file: %v", err)
	}

	cfg, err := LoadConfig(opts.configPath, opts.optionsPath)
	if err != nil {
		return err
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("Unknown log_level %q, using info", cfg.LogLevel)
	}
	if cfg.MQTT.Username == "" || cfg.MQTT.Password == "" {
		logger.Warn("MQTT_USERNAME and MQTT_PASSWORD not set, connecting anonymously")
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	store := NewConfigStore(cfg)
	clk := clock.New()

	// Channels
	msgChan := make(chan SensorMessage, 100)
	clientChan := make(chan mqtt.Client, 1)
	outgoingChan := make(chan MQTTMessage, 100)
	applyChan := make(chan MQTTMessage, 10)
	snapshotChan := make(chan controller.Snapshot, 10)
	publisherChan := make(chan controller.Snapshot, 10)
	debugChan := make(chan controller.Snapshot, 10)

	// The enabled switch is read back through statestream like any other entity
	subs := newSubscriptions(watchedTopics(cfg))

	states := NewStateCache()
	classifier := tariff.NewClassifier()
	buffer := samples.NewBuffer(cfg.BufferCapacity())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := newMetricsSink(registry)
	board := NewSensorBoard(clk)

	publisher := newHAPublisher(NewMQTTSender(outgoingChan, cfg.MQTT.ServiceTopic))
	if err := publisher.CreateEntities(); err != nil {
		return err
	}

	applier := newMQTTApplier(NewMQTTSender(applyChan, cfg.MQTT.ServiceTopic), cfg)
	ctrl := controller.New(
		cfg.ControllerConfig(),
		buffer,
		states,
		MultiSink{board, metrics, channelSink(snapshotChan)},
		applier,
		logger,
	)

	store.OnChange(func(c *Config) {
		ctrl.UpdateConfig(c.ControllerConfig())
		applier.Update(c)
		if added := subs.Set(watchedTopics(c)); len(added) > 0 {
			logger.Infof("Following new entities: %s", strings.Join(added, ", "))
		}
		if keys := restartOnlyChanges(cfg, c); len(keys) > 0 {
			logger.Warnf("Restart to apply: %s", strings.Join(keys, ", "))
		}
		logger.Info("Controller config updated")
	})
	watchOptions(store, opts.configPath, opts.optionsPath)

	s := &sampler{store: store, states: states, buffer: buffer, classifier: classifier, metrics: metrics}
	timing := cfg.Timing

	SafeGo(ctx, cancel, "mqtt", func(ctx context.Context) {
		mqttWorker(ctx, cfg.MQTT, subs, msgChan, clientChan)
	})
	SafeGo(ctx, cancel, "mqtt-sender", func(ctx context.Context) {
		mqttSenderWorker(ctx, outgoingChan, clientChan)
	})
	SafeGo(ctx, cancel, "output", func(ctx context.Context) {
		mqttInterceptorWorker(ctx, "Output", EnabledSwitchEntity, applyChan, outgoingChan, states, opts.forceEnable)
	})
	SafeGo(ctx, cancel, "state", func(ctx context.Context) {
		stateWorker(ctx, msgChan, states)
	})
	SafeGo(ctx, cancel, "sampler", func(ctx context.Context) {
		samplerWorker(ctx, clk, timing.SamplePeriod, s)
	})
	SafeGo(ctx, cancel, "controller", func(ctx context.Context) {
		controllerWorker(ctx, clk, timing.ControlPeriod, store, ctrl, metrics)
	})
	SafeGo(ctx, cancel, "tariff-info", func(ctx context.Context) {
		tariffInfoWorker(ctx, clk, timing.InfoPeriod, store, classifier, publisher)
	})

	outputs := []chan<- controller.Snapshot{publisherChan}
	if opts.debug {
		outputs = append(outputs, debugChan)
		SafeGo(ctx, cancel, "debug", func(ctx context.Context) {
			debugWorker(ctx, cancel, debugChan, board, states)
		})
	}
	SafeGo(ctx, cancel, "broadcast", func(ctx context.Context) {
		broadcastWorker(ctx, snapshotChan, outputs)
	})
	SafeGo(ctx, cancel, "publisher", func(ctx context.Context) {
		snapshotPublisherWorker(ctx, publisherChan, publisher)
	})

	if cfg.HTTP.Listen != "" {
		api := &apiServer{board: board, classifier: classifier, store: store, clock: clk}
		SafeGo(ctx, cancel, "http", func(ctx context.Context) {
			httpWorker(ctx, cfg.HTTP.Listen, newRouter(api, registry))
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Infof("Received %v, shutting down...", sig)
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down...")
	}
	cancel()

	// Give workers a moment to log their shutdown
	time.Sleep(500 * time.Millisecond)
	return nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}
