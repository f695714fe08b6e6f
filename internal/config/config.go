// Package config loads pdf2xhtml settings from flags, environment variables
// and an optional YAML file through viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jmylchreest/pdf2xhtml/pkg/cleaner/sanitize"
	"github.com/jmylchreest/pdf2xhtml/pkg/extract"
)

// EnvPrefix is prepended to every environment variable, e.g.
// PDF2XHTML_JOBS_WORKERS for jobs.workers.
const EnvPrefix = "PDF2XHTML"

// Config holds all settings.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Sanitize  sanitize.Config `mapstructure:"sanitize"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`
	// MaxUploadSize is a human readable size such as "32MB".
	MaxUploadSize   string        `mapstructure:"max_upload_size" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

type StorageConfig struct {
	UploadsDir string `mapstructure:"uploads_dir" validate:"required"`
	OutputsDir string `mapstructure:"outputs_dir" validate:"required,nefield=UploadsDir"`
}

type ExtractorConfig struct {
	Command string   `mapstructure:"command" validate:"required"`
	Args    []string `mapstructure:"args"`
	Jar     string   `mapstructure:"jar"`
	// Bundle is a zip archive holding the jar, unpacked into BundleDir on
	// first use.
	Bundle    string        `mapstructure:"bundle"`
	BundleDir string        `mapstructure:"bundle_dir" validate:"required_with=Bundle"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	KillGrace time.Duration `mapstructure:"kill_grace" validate:"gte=0"`
}

type JobsConfig struct {
	Workers         int           `mapstructure:"workers" validate:"min=1,max=256"`
	QueueSize       int           `mapstructure:"queue_size" validate:"min=0"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Retention       time.Duration `mapstructure:"retention" validate:"gte=0"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval" validate:"gte=0"`
	FailurePolicy   string        `mapstructure:"failure_policy" validate:"oneof=abort skip"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
	Quiet bool `mapstructure:"quiet"`
	JSON  bool `mapstructure:"json"`
}

// SetDefaults registers the default value of every key on v. Keys must be
// known to viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:5000")
	v.SetDefault("server.max_upload_size", "32MB")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("storage.uploads_dir", "uploads")
	v.SetDefault("storage.outputs_dir", "outputs")

	v.SetDefault("extractor.command", extract.DefaultCommand)
	v.SetDefault("extractor.args", extract.DefaultArgs)
	v.SetDefault("extractor.jar", extract.DefaultJar)
	v.SetDefault("extractor.bundle", "")
	v.SetDefault("extractor.bundle_dir", "jar_temp")
	v.SetDefault("extractor.timeout", extract.DefaultTimeout)
	v.SetDefault("extractor.kill_grace", extract.DefaultKillGrace)

	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_size", 64)
	v.SetDefault("jobs.timeout", 10*time.Minute)
	v.SetDefault("jobs.retention", 24*time.Hour)
	v.SetDefault("jobs.janitor_interval", 10*time.Minute)
	v.SetDefault("jobs.failure_policy", "abort")

	d := sanitize.DefaultConfig()
	v.SetDefault("sanitize.strip_comments", d.StripComments)
	v.SetDefault("sanitize.strip_scripts", d.StripScripts)
	v.SetDefault("sanitize.strip_styles", d.StripStyles)
	v.SetDefault("sanitize.strip_empty_elements", d.StripEmptyElements)
	v.SetDefault("sanitize.preserve_void_elements", d.PreserveVoidElements)
	v.SetDefault("sanitize.remove_selectors", []string{})
	v.SetDefault("sanitize.keep_selectors", []string{})

	v.SetDefault("log.debug", false)
	v.SetDefault("log.quiet", false)
	v.SetDefault("log.json", false)
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration produced by SetDefaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		panic(fmt.Sprintf("invalid default config: %v", err))
	}
	return cfg
}

var validate = validator.New()

// Validate checks field constraints and that sizes parse.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := humanize.ParseBytes(c.Server.MaxUploadSize); err != nil {
		return fmt.Errorf("invalid config: server.max_upload_size %q: %w", c.Server.MaxUploadSize, err)
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	n, err := humanize.ParseBytes(c.Server.MaxUploadSize)
	if err != nil {
		return 0
	}
	return int64(n)
}
