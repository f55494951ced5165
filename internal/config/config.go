// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type QueueConfig struct {
	ConsumerID  string        `yaml:"consumer_id"` // stable per replica; defaults to hostname
	PollWait    time.Duration `yaml:"poll_wait"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"` // doubled per attempt, capped at 32x
	ModelWait   time.Duration `yaml:"model_wait"`  // not-ready retries within this window use no attempts
}

type LockConfig struct {
	Name     string        `yaml:"name"`
	Lease    time.Duration `yaml:"lease"`
	NoExpiry bool          `yaml:"no_expiry"` // hold until released, even across a crash
}

type InitConfig struct {
	BackoffMin time.Duration `yaml:"backoff_min"`
	BackoffMax time.Duration `yaml:"backoff_max"`
	Timeout    time.Duration `yaml:"timeout"`
}

type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	JobTimeout  time.Duration `yaml:"job_timeout"`
}

type StorageConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Region      string `yaml:"region"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	ImageBucket string `yaml:"image_bucket"`
	PathStyle   bool   `yaml:"path_style"`
}

type ModelConfig struct {
	Runtime      string        `yaml:"runtime"` // tfserving|static
	ServingURL   string        `yaml:"serving_url"`
	Name         string        `yaml:"name"`
	Version      int64         `yaml:"version"`
	Signature    string        `yaml:"signature"`
	InputTensor  string        `yaml:"input_tensor"`
	OutputTensor string        `yaml:"output_tensor"`
	ImageSize    int           `yaml:"image_size"`
	Timeout      time.Duration `yaml:"timeout"`

	ConcurrentLimit int `yaml:"concurrent_limit"` // max concurrent predict calls; 0 = unlimited
}

type NotifyConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RatePerSec float64       `yaml:"rate_per_sec"`
}

type IntakeConfig struct {
	JWTSecret  string  `yaml:"jwt_secret"`
	RatePerSec float64 `yaml:"rate_per_sec"` // 0 = unlimited
}

type DatabaseConfig struct {
	URL      string `yaml:"url"` // empty disables the run log
	MaxConns int32  `yaml:"max_conns"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Lock     LockConfig     `yaml:"lock"`
	Init     InitConfig     `yaml:"init"`
	Worker   WorkerConfig   `yaml:"worker"`
	Storage  StorageConfig  `yaml:"storage"`
	Model    ModelConfig    `yaml:"model"`
	Notify   NotifyConfig   `yaml:"notify"`
	Intake   IntakeConfig   `yaml:"intake"`
	Database DatabaseConfig `yaml:"database"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. ${VAR} references are expanded from
// the environment first, so deployments can keep configuring through env vars.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	cfg.HTTP.RequestTimeout = orDefault(cfg.HTTP.RequestTimeout, 10*time.Second)
	cfg.HTTP.ShutdownTimeout = orDefault(cfg.HTTP.ShutdownTimeout, 15*time.Second)

	if cfg.Queue.ConsumerID == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "worker"
		}
		cfg.Queue.ConsumerID = host
	}
	cfg.Queue.PollWait = orDefault(cfg.Queue.PollWait, 5*time.Second)
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 5
	}
	cfg.Queue.RetryDelay = orDefault(cfg.Queue.RetryDelay, 2*time.Second)

	cfg.Init.BackoffMin = orDefault(cfg.Init.BackoffMin, time.Second)
	cfg.Init.BackoffMax = orDefault(cfg.Init.BackoffMax, time.Minute)
	if cfg.Init.BackoffMax < cfg.Init.BackoffMin {
		cfg.Init.BackoffMax = cfg.Init.BackoffMin
	}
	cfg.Init.Timeout = orDefault(cfg.Init.Timeout, 2*time.Minute)

	cfg.Queue.ModelWait = orDefault(cfg.Queue.ModelWait, cfg.Init.Timeout+time.Minute)

	if cfg.Lock.Name == "" {
		cfg.Lock.Name = "model_init_lock"
	}
	if cfg.Lock.NoExpiry {
		cfg.Lock.Lease = 0
	} else {
		// outlive the longest construction
		cfg.Lock.Lease = orDefault(cfg.Lock.Lease, cfg.Init.Timeout+time.Minute)
	}

	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 4
	}
	cfg.Worker.JobTimeout = orDefault(cfg.Worker.JobTimeout, 2*time.Minute)

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}

	if cfg.Model.Runtime == "" {
		cfg.Model.Runtime = "tfserving"
		if cfg.Runtime.Dev && cfg.Model.ServingURL == "" {
			cfg.Model.Runtime = "static"
		}
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = "covidnet"
	}
	if cfg.Model.Signature == "" {
		cfg.Model.Signature = "serving_default"
	}
	if cfg.Model.InputTensor == "" {
		cfg.Model.InputTensor = "input_1"
	}
	if cfg.Model.OutputTensor == "" {
		cfg.Model.OutputTensor = "dense_3/Softmax"
	}
	if cfg.Model.ImageSize <= 0 {
		cfg.Model.ImageSize = 224
	}
	cfg.Model.Timeout = orDefault(cfg.Model.Timeout, 30*time.Second)

	cfg.Notify.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Notify.BaseURL), "/")
	cfg.Notify.Timeout = orDefault(cfg.Notify.Timeout, 5*time.Second)
	if cfg.Notify.RatePerSec <= 0 {
		cfg.Notify.RatePerSec = 50
	}

	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 4
	}
}

func (cfg *Config) validate() error {
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.Storage.ImageBucket == "" {
		return errors.New("storage.image_bucket is required")
	}
	if cfg.Notify.BaseURL == "" && !cfg.Runtime.Dev {
		return errors.New("notify.base_url is required")
	}
	if cfg.Lock.Lease > 0 && cfg.Lock.Lease <= cfg.Init.Timeout {
		return fmt.Errorf("lock.lease (%s) must exceed init.timeout (%s)", cfg.Lock.Lease, cfg.Init.Timeout)
	}
	switch cfg.Model.Runtime {
	case "tfserving":
		if cfg.Model.ServingURL == "" {
			return errors.New("model.serving_url is required for the tfserving runtime")
		}
	case "static":
	default:
		return fmt.Errorf("model.runtime %q is not supported", cfg.Model.Runtime)
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
