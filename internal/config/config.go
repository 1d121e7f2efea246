// Package config loads eegpipe settings from defaults, a TOML file,
// EEGPIPE_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/eegpipe/internal/device"
	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/logger"
	"codeberg.org/mutker/eegpipe/internal/pipeline"
	"codeberg.org/mutker/eegpipe/internal/signal"
	"codeberg.org/mutker/eegpipe/internal/stage"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	// Acquisition
	Device       string `mapstructure:"device"`
	Source       string `mapstructure:"source"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Topic        string `mapstructure:"topic"`
	SamplingRate int    `mapstructure:"sampling_rate"`
	Channels     int    `mapstructure:"channels"`
	Capacity     int    `mapstructure:"capacity"`

	// Processing
	Interval         time.Duration `mapstructure:"interval"`
	Stages           []string      `mapstructure:"stages"`
	KernelSize       int           `mapstructure:"kernel_size"`
	FreqMin          float64       `mapstructure:"freq_min"`
	FreqMax          float64       `mapstructure:"freq_max"`
	Bands            []string      `mapstructure:"bands"`
	InsufficientData string        `mapstructure:"insufficient_data"`
	ShapePolicy      string        `mapstructure:"shape_policy"`
	Isolate          bool          `mapstructure:"isolate"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`

	// Output
	Render         bool          `mapstructure:"render"`
	RenderInterval time.Duration `mapstructure:"render_interval"`
	RenderWidth    int           `mapstructure:"render_width"`

	// Operations
	LogLevel       string `mapstructure:"log_level"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	Telemetry      bool   `mapstructure:"telemetry"`
	TelemetryDB    string `mapstructure:"telemetry_db"`
	TelemetryBatch int    `mapstructure:"telemetry_batch"`
	PIDFile        string `mapstructure:"pid_file"`

	// ChannelNames comes from the device preset.
	ChannelNames []string `mapstructure:"-"`
}

var defaults = map[string]any{
	"device":            "muse-s",
	"source":            "",
	"host":              "127.0.0.1",
	"port":              0,
	"topic":             "",
	"sampling_rate":     0,
	"channels":          0,
	"capacity":          0,
	"interval":          time.Second,
	"stages":            []string{"moving_average", "band_power"},
	"kernel_size":       8,
	"freq_min":          1.0,
	"freq_max":          40.0,
	"bands":             []string{"theta:4-7", "alpha:8-12", "beta:13-30", "gamma:31-40"},
	"insufficient_data": string(stage.PolicyDefer),
	"shape_policy":      string(pipeline.ShapeDrop),
	"isolate":           false,
	"retry_delay":       time.Duration(0),
	"render":            true,
	"render_interval":   time.Second,
	"render_width":      20,
	"log_level":         "info",
	"metrics_addr":      "",
	"telemetry":         false,
	"telemetry_db":      "/var/lib/eegpipe/telemetry.db",
	"telemetry_batch":   64,
	"pid_file":          "",
}

// Load reads the configuration. args are the command-line arguments
// without the program name.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}
	flags.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && f.Changed {
			_ = v.BindPFlag(key, f)
		}
	})

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if path == "" {
		path, _ = flags.GetString("config")
	}
	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.applyDevice(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Debug().Str("device", cfg.Device).Str("source", cfg.Source).Msg("Config loaded")

	return &cfg, nil
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"device":            "device",
	"source":            "source",
	"host":              "host",
	"port":              "port",
	"topic":             "topic",
	"sampling-rate":     "sampling_rate",
	"channels":          "channels",
	"capacity":          "capacity",
	"interval":          "interval",
	"stages":            "stages",
	"kernel-size":       "kernel_size",
	"freq-min":          "freq_min",
	"freq-max":          "freq_max",
	"bands":             "bands",
	"insufficient-data": "insufficient_data",
	"shape-policy":      "shape_policy",
	"isolate":           "isolate",
	"retry-delay":       "retry_delay",
	"render":            "render",
	"render-interval":   "render_interval",
	"log-level":         "log_level",
	"metrics-addr":      "metrics_addr",
	"telemetry":         "telemetry",
	"telemetry-db":      "telemetry_db",
	"pid-file":          "pid_file",
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("eegpipe", pflag.ContinueOnError)

	flags.String("config", "", "Path to a TOML configuration file")
	flags.String("device", "muse-s", "Device preset ("+strings.Join(device.Names(), ", ")+")")
	flags.String("source", "", "Sample source: network or simulated (default from device)")
	flags.String("host", "127.0.0.1", "Address to listen on for OSC packets")
	flags.Int("port", 0, "UDP port to listen on (default from device)")
	flags.String("topic", "", "OSC address pattern to accept (default from device)")
	flags.Int("sampling-rate", 0, "Samples per second (default from device)")
	flags.Int("channels", 0, "Channels per sample (default from device)")
	flags.Int("capacity", 0, "Rolling buffer capacity in samples (default from device)")
	flags.Duration("interval", time.Second, "Processing tick interval")
	flags.StringSlice("stages", []string{"moving_average", "band_power"}, "Processing stages in order")
	flags.Int("kernel-size", 8, "Moving average kernel size")
	flags.Float64("freq-min", 1, "Lowest frequency kept in the spectrum")
	flags.Float64("freq-max", 40, "Highest frequency kept in the spectrum")
	flags.StringSlice("bands", nil, "Frequency bands as name:low-high")
	flags.String("insufficient-data", string(stage.PolicyDefer), "Behaviour before a full window is buffered: defer or partial")
	flags.String("shape-policy", string(pipeline.ShapeDrop), "Samples with the wrong channel count: drop or truncate")
	flags.Bool("isolate", false, "Run each tick on a copy of the buffer")
	flags.Duration("retry-delay", 0, "Restart a failed source after this delay (0 disables)")
	flags.Bool("render", true, "Draw band power bars on stdout")
	flags.Duration("render-interval", time.Second, "Time between rendered frames")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("metrics-addr", "", "Address for the Prometheus /metrics endpoint (empty disables)")
	flags.Bool("telemetry", false, "Record tick statistics in SQLite")
	flags.String("telemetry-db", "/var/lib/eegpipe/telemetry.db", "Telemetry database path")
	flags.String("pid-file", "", "PID file path (empty uses the temp directory)")

	return flags
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err).WithData(path)
		}
		return nil
	}

	v.SetConfigName(defaultConfigName)
	v.SetConfigType("toml")
	v.AddConfigPath(defaultConfigDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}
	return nil
}

// applyDevice fills unset acquisition settings from the device preset.
func (c *Config) applyDevice() error {
	preset, err := device.Lookup(c.Device)
	if err != nil {
		return err
	}
	c.Device = preset.Name

	if c.Source == "" {
		c.Source = string(preset.Kind)
	}
	if c.Port == 0 {
		c.Port = preset.Port
	}
	if c.Topic == "" {
		c.Topic = preset.Topic
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = preset.SamplingRate
	}
	if c.Channels == 0 {
		c.Channels = preset.Channels()
	}
	if c.Capacity == 0 {
		c.Capacity = preset.Capacity
	}

	c.ChannelNames = preset.ChannelNames
	if len(c.ChannelNames) != c.Channels {
		c.ChannelNames = make([]string, c.Channels)
		for i := range c.ChannelNames {
			c.ChannelNames[i] = "CH" + strconv.Itoa(i+1)
		}
	}

	return nil
}

// Validate checks every setting and returns the first problem found.
func (c *Config) Validate() error {
	errFactory := errors.New()
	invalid := func(field string, value any) error {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("%s: %v", field, value))
	}

	if _, err := device.ParseKind(c.Source); err != nil {
		return err
	}
	if c.SamplingRate < 1 {
		return invalid("sampling_rate", c.SamplingRate)
	}
	if c.Channels < 1 {
		return invalid("channels", c.Channels)
	}
	if c.Capacity < c.SamplingRate {
		return invalid("capacity", fmt.Sprintf("%d is below one second of samples (%d)", c.Capacity, c.SamplingRate))
	}
	if c.Source == string(device.KindNetwork) {
		if c.Port < 1 || c.Port > 65535 {
			return invalid("port", c.Port)
		}
		if !strings.HasPrefix(c.Topic, "/") {
			return invalid("topic", c.Topic)
		}
	}
	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval.String())
	}
	if c.RenderInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.RenderInterval.String())
	}
	if c.RetryDelay < 0 {
		return invalid("retry_delay", c.RetryDelay)
	}
	if len(c.Stages) == 0 {
		return invalid("stages", "none configured")
	}
	if c.KernelSize < 1 {
		return invalid("kernel_size", c.KernelSize)
	}
	if c.FreqMin < 0 || c.FreqMin >= c.FreqMax {
		return invalid("frequency range", fmt.Sprintf("%g-%g", c.FreqMin, c.FreqMax))
	}
	if _, err := ParseBands(c.Bands); err != nil {
		return err
	}
	if !stage.InsufficientPolicy(c.InsufficientData).IsValid() {
		return invalid("insufficient_data", c.InsufficientData)
	}
	if !pipeline.ShapePolicy(c.ShapePolicy).IsValid() {
		return invalid("shape_policy", c.ShapePolicy)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Telemetry && c.TelemetryDB == "" {
		return invalid("telemetry_db", "empty")
	}

	return nil
}

// ParseBands parses "name:low-high" specifications, e.g. "alpha:8-12".
func ParseBands(specs []string) ([]signal.Band, error) {
	errFactory := errors.New()
	if len(specs) == 0 {
		return nil, errFactory.WithData(errors.ErrInvalidConfig, "bands: none configured")
	}

	bands := make([]signal.Band, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		name, limits, ok := strings.Cut(strings.TrimSpace(spec), ":")
		lowStr, highStr, ok2 := strings.Cut(limits, "-")
		if !ok || !ok2 || name == "" {
			return nil, errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("band %q", spec))
		}
		low, err := strconv.ParseFloat(strings.TrimSpace(lowStr), 64)
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err).WithData(spec)
		}
		high, err := strconv.ParseFloat(strings.TrimSpace(highStr), 64)
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err).WithData(spec)
		}
		if low < 0 || low > high || seen[name] {
			return nil, errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("band %q", spec))
		}
		seen[name] = true
		bands = append(bands, signal.Band{Name: name, Low: low, High: high})
	}

	return bands, nil
}
