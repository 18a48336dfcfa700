package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dumacp/volt-i2c/src/alert"
	"github.com/dumacp/volt-i2c/src/device"
	"github.com/dumacp/volt-i2c/src/register"
)

var errConfig = errors.New("invalid configuration")

// Config holds everything needed for one run. It is not changed once the monitor starts.
type Config struct {
	UnderRange     float32       `yaml:"under_range"`
	OverRange      float32       `yaml:"over_range"`
	Hysteresis     float32       `yaml:"hysteresis"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	RearmMin       float32       `yaml:"rearm_min"`
	RearmMax       float32       `yaml:"rearm_max"`
	Flags          string        `yaml:"flags"`

	I2CBus  uint8 `yaml:"i2c_bus"`
	Address uint8 `yaml:"address"`

	TriggerDevice string `yaml:"trigger_device"`
	TriggerKey    uint16 `yaml:"trigger_key"`

	MQTT MQTTConfig `yaml:"mqtt"`

	LogStd bool `yaml:"log_std"`
	Debug  bool `yaml:"debug"`
}

// MQTTConfig holds the broker connection and publish settings
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// MonitorConfig holds configuration for the monitor loop
type MonitorConfig struct {
	PollInterval time.Duration
	UnderRange   float32
	OverRange    float32
	RearmMin     float32
	RearmMax     float32
}

// cliOptions are flags that are not part of Config
type cliOptions struct {
	ConfigPath  string
	ShowVersion bool
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		UnderRange:     9.5,
		OverRange:      50.0,
		Hysteresis:     1.0,
		PollInterval:   3 * time.Second,
		PublishTimeout: 60 * time.Second,
		RearmMin:       50.0,
		RearmMax:       1.0,
		Flags:          register.DefaultFlags.String(),
		I2CBus:         2,
		Address:        register.DefaultAddress,
		MQTT: MQTTConfig{
			Broker: "tcp://localhost:1883",
			Topic:  "EVENTS/volt",
			QoS:    0,
		},
	}
}

// loadConfig builds the run configuration. Later layers win:
// defaults, YAML file, environment, command-line flags.
func loadConfig(args []string, getenv func(string) string) (Config, cliOptions, error) {
	var opts cliOptions
	var (
		under, over float64
		timeout     int
		logStd      bool
		debug       bool
	)

	fs := flag.NewFlagSet("volt", flag.ContinueOnError)
	fs.Float64Var(&under, "u", 0, "under-range alert threshold in volts")
	fs.Float64Var(&under, "underRange", 0, "under-range alert threshold in volts")
	fs.Float64Var(&over, "o", 0, "over-range alert threshold in volts")
	fs.Float64Var(&over, "overRange", 0, "over-range alert threshold in volts")
	fs.IntVar(&timeout, "t", 0, "seconds between heartbeat publications")
	fs.IntVar(&timeout, "timeout", 0, "seconds between heartbeat publications")
	fs.BoolVar(&logStd, "l", false, "log to stderr instead of syslog")
	fs.BoolVar(&logStd, "logStd", false, "log to stderr instead of syslog")
	fs.BoolVar(&debug, "debug", false, "start the interactive debug console")
	fs.StringVar(&opts.ConfigPath, "config", "", "optional YAML configuration file")
	fs.BoolVar(&opts.ShowVersion, "version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, opts, err
	}

	cfg := DefaultConfig()

	if opts.ConfigPath != "" {
		if err := cfg.LoadYAML(opts.ConfigPath); err != nil {
			return cfg, opts, err
		}
	}

	if err := cfg.ApplyEnv(getenv); err != nil {
		return cfg, opts, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "u", "underRange":
			cfg.UnderRange = float32(under)
		case "o", "overRange":
			cfg.OverRange = float32(over)
		case "t", "timeout":
			cfg.PublishTimeout = time.Duration(timeout) * time.Second
		case "l", "logStd":
			cfg.LogStd = logStd
		case "debug":
			cfg.Debug = debug
		}
	})

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "volt-" + uuid.NewString()[:8]
	}

	return cfg, opts, nil
}

// LoadYAML overlays the fields present in the file at path
func (c *Config) LoadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parse %s: %w", errConfig, path, err)
	}
	return nil
}

// ApplyEnv overlays the environment variables that are set
func (c *Config) ApplyEnv(getenv func(string) string) error {
	floats := []struct {
		key string
		dst *float32
	}{
		{"VOLT_UNDER_RANGE", &c.UnderRange},
		{"VOLT_OVER_RANGE", &c.OverRange},
		{"VOLT_HYSTERESIS", &c.Hysteresis},
	}
	for _, f := range floats {
		v := getenv(f.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", errConfig, f.key, v, err)
		}
		*f.dst = float32(parsed)
	}

	if v := getenv("VOLT_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: VOLT_TIMEOUT=%q: %w", errConfig, v, err)
		}
		c.PublishTimeout = time.Duration(secs) * time.Second
	}

	if v := getenv("VOLT_I2C_BUS"); v != "" {
		bus, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return fmt.Errorf("%w: VOLT_I2C_BUS=%q: %w", errConfig, v, err)
		}
		c.I2CBus = uint8(bus)
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"VOLT_TRIGGER_DEVICE", &c.TriggerDevice},
		{"MQTT_BROKER", &c.MQTT.Broker},
		{"MQTT_USERNAME", &c.MQTT.Username},
		{"MQTT_PASSWORD", &c.MQTT.Password},
		{"MQTT_CLIENT_ID", &c.MQTT.ClientID},
		{"MQTT_TOPIC", &c.MQTT.Topic},
	}
	for _, s := range strs {
		if v := getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	return nil
}

// Validate checks the configuration before anything touches the device
func (c *Config) Validate() error {
	var problems []string

	if c.UnderRange >= c.OverRange {
		problems = append(problems, fmt.Sprintf("under range %.3f must be below over range %.3f", c.UnderRange, c.OverRange))
	}
	for _, th := range []struct {
		name string
		v    float32
	}{
		{"under range", c.UnderRange},
		{"over range", c.OverRange},
		{"rearm min", c.RearmMin},
		{"rearm max", c.RearmMax},
	} {
		if th.v < 0 || th.v > register.MaxVolts {
			problems = append(problems, fmt.Sprintf("%s %.3f outside [0, %.3f]", th.name, th.v, register.MaxVolts))
		}
	}
	// a rearm value inside the alert band would trigger a rearm on every poll
	if c.RearmMin <= c.UnderRange {
		problems = append(problems, fmt.Sprintf("rearm min %.3f must be above under range %.3f", c.RearmMin, c.UnderRange))
	}
	if c.RearmMax >= c.OverRange {
		problems = append(problems, fmt.Sprintf("rearm max %.3f must be below over range %.3f", c.RearmMax, c.OverRange))
	}
	if c.Hysteresis < 0 || c.Hysteresis > register.MaxVolts {
		problems = append(problems, fmt.Sprintf("hysteresis %.3f outside [0, %.3f]", c.Hysteresis, register.MaxVolts))
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "poll interval must be positive")
	}
	if c.PublishTimeout <= 0 {
		problems = append(problems, "publish timeout must be positive")
	}
	if c.MQTT.QoS > 2 {
		problems = append(problems, fmt.Sprintf("QoS %d must be 0, 1 or 2", c.MQTT.QoS))
	}
	if c.MQTT.Topic == "" {
		problems = append(problems, "MQTT topic is empty")
	}
	if _, ok := register.ParseFlags(c.Flags); !ok {
		problems = append(problems, fmt.Sprintf("unknown config flags %q", c.Flags))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errConfig, strings.Join(problems, "; "))
	}
	return nil
}

// RegisterFlags returns the parsed configuration register value
func (c *Config) RegisterFlags() register.Flags {
	f, ok := register.ParseFlags(c.Flags)
	if !ok {
		return register.DefaultFlags
	}
	return f
}

// MonitorConfig creates a MonitorConfig from the shared Config
func (c *Config) MonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval: c.PollInterval,
		UnderRange:   c.UnderRange,
		OverRange:    c.OverRange,
		RearmMin:     c.RearmMin,
		RearmMax:     c.RearmMax,
	}
}

// TrackerConfig creates an alert.Config from the shared Config
func (c *Config) TrackerConfig() alert.Config {
	return alert.Config{
		Hysteresis:     c.Hysteresis,
		PublishTimeout: c.PublishTimeout,
	}
}

// Settings creates the device settings written at startup
func (c *Config) Settings() device.Settings {
	return device.Settings{
		Flags:      c.RegisterFlags(),
		UnderRange: c.UnderRange,
		OverRange:  c.OverRange,
		Hysteresis: c.Hysteresis,
	}
}
