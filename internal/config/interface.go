package config

const (
	defaultEnvPrefix  = "EEGPIPE"
	defaultConfigName = "eegpipe"
	defaultConfigDir  = "/etc"
	configPathEnv     = "EEGPIPE_CONFIG"
)

// Option adjusts how Load finds its sources.
type Option func(*options) error

type options struct {
	configPath string
	envPrefix  string
}

// WithConfigFile specifies an explicit configuration file path. It takes
// precedence over --config, which in turn beats EEGPIPE_CONFIG.
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "EEGPIPE"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}
