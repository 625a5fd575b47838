package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ryansname/chargectl/src/charger"
	"github.com/ryansname/chargectl/src/controller"
	"github.com/ryansname/chargectl/src/governor"
	"github.com/ryansname/chargectl/src/tariff"
)

// MaxBlockPowerKW is the largest accepted block cap
const MaxBlockPowerKW = 13.0

// EntryConfig holds the user settings. Keys are flat so options override
// them one by one.
type EntryConfig struct {
	Block1PowerKW float64 `mapstructure:"block_1_power"`
	Block2PowerKW float64 `mapstructure:"block_2_power"`
	Block3PowerKW float64 `mapstructure:"block_3_power"`
	Block4PowerKW float64 `mapstructure:"block_4_power"`
	Block5PowerKW float64 `mapstructure:"block_5_power"`

	GridPowerEntity string `mapstructure:"house_consumption_entity"`

	WallboxActive     string `mapstructure:"wallbox_charging_active"`
	WallboxPower      string `mapstructure:"wallbox_charging_power"`
	WallboxSetCurrent string `mapstructure:"wallbox_set_current"`
	WallboxCable      string `mapstructure:"wallbox_cable_connected"`
	WallboxStatus     string `mapstructure:"wallbox_status"`

	VehicleActive     string `mapstructure:"mg4_charging_active"`
	VehicleSetCurrent string `mapstructure:"mg4_set_current"`
	VehicleGun        string `mapstructure:"mg4_gun_state"`
}

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	Broker       string `mapstructure:"broker"`
	ClientID     string `mapstructure:"client_id"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	ServiceTopic string `mapstructure:"service_topic"`
}

// TimingConfig holds the scheduler periods and controller tuning
type TimingConfig struct {
	SamplePeriod   time.Duration `mapstructure:"sample_period"`
	Retention      time.Duration `mapstructure:"retention"`
	ControlPeriod  time.Duration `mapstructure:"control_period"`
	Window         time.Duration `mapstructure:"window"`
	RampDownBefore time.Duration `mapstructure:"ramp_down_before"`
	RampUpStepW    int           `mapstructure:"ramp_up_step_w"`
	InfoPeriod     time.Duration `mapstructure:"info_period"`
}

// OutputConfig describes how watts become a charging current
type OutputConfig struct {
	Voltage      float64       `mapstructure:"voltage"`
	Phases       int           `mapstructure:"phases"`
	MinCurrentA  int           `mapstructure:"min_current_a"`
	MaxCurrentA  int           `mapstructure:"max_current_a"`
	ApplyTimeout time.Duration `mapstructure:"apply_timeout"`
}

// HTTPConfig holds the status API listener
type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

// Config is the full daemon configuration
type Config struct {
	EntryConfig `mapstructure:",squash"`

	MQTT     MQTTConfig   `mapstructure:"mqtt"`
	Timing   TimingConfig `mapstructure:"timing"`
	Output   OutputConfig `mapstructure:"output"`
	HTTP     HTTPConfig   `mapstructure:"http"`
	Timezone string       `mapstructure:"timezone"`
	LogLevel string       `mapstructure:"log_level"`

	location *time.Location
}

func setConfigDefaults(v *viper.Viper) {
	for block := 1; block <= tariff.NumBlocks; block++ {
		v.SetDefault(fmt.Sprintf("block_%d_power", block), 5.0)
	}
	for _, key := range []string{
		"house_consumption_entity",
		"wallbox_charging_active", "wallbox_charging_power", "wallbox_set_current",
		"wallbox_cable_connected", "wallbox_status",
		"mg4_charging_active", "mg4_set_current", "mg4_gun_state",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "chargectl")
	v.SetDefault("mqtt.service_topic", "nodered/proxy/call_service")

	v.SetDefault("timing.sample_period", 10*time.Second)
	v.SetDefault("timing.retention", 15*time.Minute)
	v.SetDefault("timing.control_period", time.Minute)
	v.SetDefault("timing.window", 15*time.Minute)
	v.SetDefault("timing.ramp_down_before", 10*time.Minute)
	v.SetDefault("timing.ramp_up_step_w", 2300)
	v.SetDefault("timing.info_period", time.Minute)

	v.SetDefault("output.voltage", 230.0)
	v.SetDefault("output.phases", 1)
	v.SetDefault("output.min_current_a", 6)
	v.SetDefault("output.max_current_a", 16)
	v.SetDefault("output.apply_timeout", 10*time.Second)

	v.SetDefault("http.listen", ":8099")
	v.SetDefault("timezone", "Europe/Ljubljana")
	v.SetDefault("log_level", "info")
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// LoadConfig reads the base config and overlays the options file on top.
// Either file may be missing. Environment variables prefixed CHARGECTL_
// override both; MQTT credentials also come from MQTT_USERNAME/MQTT_PASSWORD.
func LoadConfig(basePath, optionsPath string) (*Config, error) {
	v := viper.New()
	setConfigDefaults(v)
	v.SetEnvPrefix("CHARGECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("mqtt.username", "CHARGECTL_MQTT_USERNAME", "MQTT_USERNAME")
	_ = v.BindEnv("mqtt.password", "CHARGECTL_MQTT_PASSWORD", "MQTT_PASSWORD")
	_ = v.BindEnv("mqtt.broker", "CHARGECTL_MQTT_BROKER", "MQTT_BROKER")

	if basePath != "" {
		v.SetConfigFile(basePath)
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("reading config %s: %w", basePath, err)
		}
	}

	if optionsPath != "" {
		options := viper.New()
		options.SetConfigFile(optionsPath)
		err := options.ReadInConfig()
		switch {
		case err == nil:
			if err := v.MergeConfigMap(options.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging options %s: %w", optionsPath, err)
			}
		case !isNotFound(err):
			return nil, fmt.Errorf("reading options %s: %w", optionsPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and resolves the time zone
func (c *Config) Validate() error {
	var errs []error
	for i, kw := range c.Caps() {
		if kw < 0 || kw > MaxBlockPowerKW {
			errs = append(errs, fmt.Errorf("block_%d_power %.2f kW outside 0-%.0f", i+1, kw, MaxBlockPowerKW))
		}
	}

	t := c.Timing
	if t.SamplePeriod <= 0 || t.ControlPeriod <= 0 || t.InfoPeriod <= 0 {
		errs = append(errs, errors.New("timing periods must be positive"))
	}
	if t.Window <= 0 || t.Retention <= 0 {
		errs = append(errs, errors.New("timing window and retention must be positive"))
	}
	if t.SamplePeriod > 0 && t.Retention > 0 && c.BufferCapacity() < 1 {
		errs = append(errs, errors.New("retention holds no samples at this sample period"))
	}
	if t.RampUpStepW <= 0 {
		errs = append(errs, errors.New("timing.ramp_up_step_w must be positive"))
	}

	o := c.Output
	if o.Voltage <= 0 {
		errs = append(errs, errors.New("output.voltage must be positive"))
	}
	if o.Phases != 1 && o.Phases != 3 {
		errs = append(errs, fmt.Errorf("output.phases must be 1 or 3, got %d", o.Phases))
	}
	if o.MinCurrentA < 0 || o.MaxCurrentA < o.MinCurrentA {
		errs = append(errs, fmt.Errorf("output current range %d-%d A is invalid", o.MinCurrentA, o.MaxCurrentA))
	}
	if o.ApplyTimeout <= 0 {
		errs = append(errs, errors.New("output.apply_timeout must be positive"))
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	c.location = loc

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Caps returns the block caps in kW
func (c *Config) Caps() tariff.Caps {
	return tariff.Caps{c.Block1PowerKW, c.Block2PowerKW, c.Block3PowerKW, c.Block4PowerKW, c.Block5PowerKW}
}

// Location returns the tariff time zone, UTC if unresolved
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// BufferCapacity is the number of samples kept for the retention window
func (c *Config) BufferCapacity() int {
	return int((60 / c.Timing.SamplePeriod.Seconds()) * c.Timing.Retention.Minutes())
}

// ControllerConfig maps the settings onto the controller
func (c *Config) ControllerConfig() controller.Config {
	return controller.Config{
		Window:       c.Timing.Window,
		Ramp:         governor.RampConfig{UpStepW: c.Timing.RampUpStepW},
		Anticipation: governor.AnticipationConfig{LeadMinutes: int(c.Timing.RampDownBefore.Minutes())},
		Wallbox: charger.WallboxEntities{
			Cable:  c.WallboxCable,
			Status: c.WallboxStatus,
		},
		Vehicle: charger.VehicleEntities{
			Gun:    c.VehicleGun,
			Active: c.VehicleActive,
		},
	}
}

// WatchedEntities lists every entity the daemon reads, without blanks
func (c *Config) WatchedEntities() []string {
	var entities []string
	for _, e := range []string{
		c.GridPowerEntity,
		c.WallboxActive, c.WallboxPower, c.WallboxSetCurrent, c.WallboxCable, c.WallboxStatus,
		c.VehicleActive, c.VehicleSetCurrent, c.VehicleGun,
	} {
		if e != "" {
			entities = append(entities, e)
		}
	}
	return entities
}

// restartOnlyChanges lists the changed settings that a reload cannot apply:
// the scheduler periods, the sample buffer size, the MQTT connection, the
// HTTP listener and the log level. Block caps, entities, window, ramp,
// anticipation, output and timezone apply live.
func restartOnlyChanges(running, reloaded *Config) []string {
	var keys []string
	check := func(key string, changed bool) {
		if changed {
			keys = append(keys, key)
		}
	}
	check("timing.sample_period", running.Timing.SamplePeriod != reloaded.Timing.SamplePeriod)
	check("timing.retention", running.Timing.Retention != reloaded.Timing.Retention)
	check("timing.control_period", running.Timing.ControlPeriod != reloaded.Timing.ControlPeriod)
	check("timing.info_period", running.Timing.InfoPeriod != reloaded.Timing.InfoPeriod)
	check("mqtt", running.MQTT != reloaded.MQTT)
	check("http.listen", running.HTTP.Listen != reloaded.HTTP.Listen)
	check("log_level", running.LogLevel != reloaded.LogLevel)
	return keys
}

// watchedTopics are the statestream topics for every configured entity and the enabled switch
func watchedTopics(cfg *Config) []string {
	return buildTopicsList(append(cfg.WatchedEntities(), EnabledSwitchEntity))
}

// ConfigStore holds the active configuration and notifies listeners on reload
type ConfigStore struct {
	current   atomic.Pointer[Config]
	mu        sync.Mutex
	listeners []func(*Config)
}

// NewConfigStore wraps an already validated config
func NewConfigStore(cfg *Config) *ConfigStore {
	s := &ConfigStore{}
	s.current.Store(cfg)
	return s
}

// Get returns the active configuration
func (s *ConfigStore) Get() *Config {
	return s.current.Load()
}

// OnChange registers fn to run after every accepted reload
func (s *ConfigStore) OnChange(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Replace validates cfg and makes it active. An invalid config is rejected
// and the previous one stays in force.
func (s *ConfigStore) Replace(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.current.Store(cfg)

	s.mu.Lock()
	listeners := append([]func(*Config){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// watchOptions reloads the configuration whenever the options file changes
func watchOptions(store *ConfigStore, basePath, optionsPath string) {
	watcher := viper.New()
	watcher.SetConfigFile(optionsPath)
	if err := watcher.ReadInConfig(); err != nil {
		logger.Infof("Options file %s not readable, reload disabled: %v", optionsPath, err)
		return
	}

	watcher.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := LoadConfig(basePath, optionsPath)
		if err == nil {
			err = store.Replace(cfg)
		}
		if err != nil {
			logger.Errorf("Options reload rejected, keeping previous config: %v", err)
			return
		}
		logger.Infof("Options reloaded from %s", e.Name)
	})
	watcher.WatchConfig()
}
