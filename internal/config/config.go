package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/rzbill/conduit/internal/executor"
	pebblestore "github.com/rzbill/conduit/internal/storage/pebble"
	"github.com/rzbill/conduit/pkg/log"
)

// EnvPrefix prefixes every environment override, e.g. CONDUIT_LEADER_TTL.
const EnvPrefix = "CONDUIT"

// Config is the top-level configuration loaded from file and env.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	Fsync      string           `mapstructure:"fsync"`
	HTTPAddr   string           `mapstructure:"http_addr"`
	GRPCAddr   string           `mapstructure:"grpc_addr"`
	Log        log.Config       `mapstructure:"log"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Leader     LeaderConfig     `mapstructure:"leader"`
}

// ExecutorConfig names worker goroutines.
type ExecutorConfig struct {
	Pattern string `mapstructure:"pattern"`
}

// RepositoryConfig configures the aggregation repository served by the runtime.
type RepositoryConfig struct {
	Name                string        `mapstructure:"name"`
	CompletionSize      int           `mapstructure:"completion_size"`
	CompletionPredicate string        `mapstructure:"completion_predicate"`
	CompletionTimeout   time.Duration `mapstructure:"completion_timeout"`
	CompletionInterval  time.Duration `mapstructure:"completion_interval"`
	RecoveryInterval    time.Duration `mapstructure:"recovery_interval"`
	MaximumRedeliveries int           `mapstructure:"maximum_redeliveries"`
}

// LeaderConfig configures the leadership policy guarding the recovery route.
type LeaderConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	TTL                time.Duration `mapstructure:"ttl"`
	Timeout            time.Duration `mapstructure:"timeout"`
	ServiceName        string        `mapstructure:"service_name"`
	ServicePath        string        `mapstructure:"service_path"`
	Endpoints          []string      `mapstructure:"endpoints"`
	ShouldStopConsumer bool          `mapstructure:"should_stop_consumer"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:  DefaultDataDir(),
		Fsync:    "always",
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		Log:      log.Config{Level: "info", Format: "text", Output: "stderr"},
		Executor: ExecutorConfig{Pattern: executor.DefaultPattern},
		Repository: RepositoryConfig{
			Name:             "default",
			CompletionSize:   10,
			RecoveryInterval: 5 * time.Second,
		},
		Leader: LeaderConfig{
			TTL:                60 * time.Second,
			Timeout:            10 * time.Second,
			ServicePath:        "/conduit/leader",
			ShouldStopConsumer: true,
		},
	}
}

// Load reads configuration with the following priority, highest first:
// CONDUIT_* environment variables, the file at path (json, yaml or toml by
// extension), built-in defaults. An empty path skips the file. Durations
// accept Go syntax or a bare number of seconds.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(
		secondsHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Leader.Endpoints = splitList(cfg.Leader.Endpoints)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("fsync", d.Fsync)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("grpc_addr", d.GRPCAddr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("executor.pattern", d.Executor.Pattern)
	v.SetDefault("repository.name", d.Repository.Name)
	v.SetDefault("repository.completion_size", d.Repository.CompletionSize)
	v.SetDefault("repository.completion_predicate", d.Repository.CompletionPredicate)
	v.SetDefault("repository.completion_timeout", d.Repository.CompletionTimeout)
	v.SetDefault("repository.completion_interval", d.Repository.CompletionInterval)
	v.SetDefault("repository.recovery_interval", d.Repository.RecoveryInterval)
	v.SetDefault("repository.maximum_redeliveries", d.Repository.MaximumRedeliveries)
	v.SetDefault("leader.enabled", d.Leader.Enabled)
	v.SetDefault("leader.ttl", d.Leader.TTL)
	v.SetDefault("leader.timeout", d.Leader.Timeout)
	v.SetDefault("leader.service_name", d.Leader.ServiceName)
	v.SetDefault("leader.service_path", d.Leader.ServicePath)
	v.SetDefault("leader.endpoints", append([]string{}, d.Leader.Endpoints...))
	v.SetDefault("leader.should_stop_consumer", d.Leader.ShouldStopConsumer)
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.DataDir == "" {
		cfg.DataDir = d.DataDir
	}
	if cfg.Executor.Pattern == "" {
		cfg.Executor.Pattern = d.Executor.Pattern
	}
	if cfg.Repository.Name == "" {
		cfg.Repository.Name = d.Repository.Name
	}
	if cfg.Repository.RecoveryInterval <= 0 {
		cfg.Repository.RecoveryInterval = d.Repository.RecoveryInterval
	}
	if cfg.Leader.ServiceName == "" {
		cfg.Leader.ServiceName = cfg.Repository.Name
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsHook reads bare numbers in duration settings as seconds, so
// "ttl: 60" and CONDUIT_LEADER_TTL=30 mean 60s and 30s. Values with a unit
// ("1m30s") are left to the duration parser.
func secondsHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch n := data.(type) {
		case int:
			return time.Duration(n) * time.Second, nil
		case int32:
			return time.Duration(n) * time.Second, nil
		case int64:
			return time.Duration(n) * time.Second, nil
		case uint64:
			return time.Duration(n) * time.Second, nil
		case float64:
			return time.Duration(n * float64(time.Second)), nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return time.Duration(f * float64(time.Second)), nil
			}
		}
		return data, nil
	}
}

// splitList flattens comma-separated entries, which is how list values
// arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := pebblestore.ParseFsyncMode(c.Fsync); err != nil {
		return fmt.Errorf("config: fsync %q: %w", c.Fsync, err)
	}
	if c.Repository.CompletionSize < 0 {
		return errors.New("config: repository.completion_size must not be negative")
	}
	if c.Repository.CompletionSize == 0 && c.Repository.CompletionPredicate == "" &&
		c.Repository.CompletionTimeout <= 0 && c.Repository.CompletionInterval <= 0 {
		return errors.New("config: repository needs at least one completion condition")
	}
	if c.Repository.MaximumRedeliveries < 0 {
		return errors.New("config: repository.maximum_redeliveries must not be negative")
	}
	if err := executor.ValidatePattern(c.Executor.Pattern); err != nil {
		return fmt.Errorf("config: executor.pattern: %w", err)
	}
	if c.Leader.Enabled && c.Leader.ServicePath == "" {
		return errors.New("config: leader.service_path is required when leader is enabled")
	}
	return nil
}
