// Package config loads service settings from an optional config file, an
// optional .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"genai-assessor/internal/llm"
	"genai-assessor/internal/notebook"
	"genai-assessor/internal/storage"
)

const envPrefix = "ASSESSOR"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Data     DataConfig     `mapstructure:"data"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Notebook NotebookConfig `mapstructure:"notebook"`
	History  HistoryConfig  `mapstructure:"history"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DataConfig points at the directories backing the JSON stores.
type DataConfig struct {
	RubricsDir   string `mapstructure:"rubrics_dir"`
	WorkflowsDir string `mapstructure:"workflows_dir"`
	NotebooksDir string `mapstructure:"notebooks_dir"`
}

type LLMConfig struct {
	Provider        string `mapstructure:"provider"`
	Model           string `mapstructure:"model"`
	GeminiAPIKey    string `mapstructure:"gemini_api_key"`
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	OpenAIBaseURL   string `mapstructure:"openai_base_url"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
}

type NotebookConfig struct {
	// Engine is "docker" or "local".
	Engine   string        `mapstructure:"engine"`
	Image    string        `mapstructure:"image"`
	Jupyter  string        `mapstructure:"jupyter"`
	Kernel   string        `mapstructure:"kernel"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Network  bool          `mapstructure:"network"`
	MemoryMB int64         `mapstructure:"memory_mb"`
	CPUs     float64       `mapstructure:"cpus"`
}

// HistoryConfig enables the evaluation history when Driver is set.
type HistoryConfig struct {
	// Driver is "postgres", "sqlite" or empty. Empty with a postgres URL
	// DSN means postgres.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ArchiveConfig enables trace archiving when Endpoint and Bucket are set.
type ArchiveConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
}

type QueueConfig struct {
	RedisAddr   string `mapstructure:"redis_addr"`
	Concurrency int    `mapstructure:"concurrency"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Options controls where Load looks.
type Options struct {
	// ConfigFile is an explicit config file; empty means none.
	ConfigFile string
	// EnvFile is loaded into the environment first when it exists.
	EnvFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":5000")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("data.rubrics_dir", "evaluation/rubrics")
	v.SetDefault("data.workflows_dir", "evaluation/workflows")
	v.SetDefault("data.notebooks_dir", "colab_workflows")
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-flash")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.openai_base_url", "")
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("notebook.engine", "docker")
	v.SetDefault("notebook.image", notebook.DefaultImage)
	v.SetDefault("notebook.jupyter", "jupyter")
	v.SetDefault("notebook.kernel", notebook.DefaultKernel)
	v.SetDefault("notebook.timeout", notebook.DefaultTimeout)
	v.SetDefault("notebook.network", true)
	v.SetDefault("notebook.memory_mb", 2048)
	v.SetDefault("notebook.cpus", 2.0)
	v.SetDefault("history.driver", "")
	v.SetDefault("history.dsn", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("queue.redis_addr", "")
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// conventional environment names honoured in addition to ASSESSOR_*.
var envAliases = map[string]string{
	"llm.gemini_api_key":    "GEMINI_API_KEY",
	"llm.openai_api_key":    "OPENAI_API_KEY",
	"llm.anthropic_api_key": "ANTHROPIC_API_KEY",
	"history.dsn":           "DATABASE_URL",
	"queue.redis_addr":      "REDIS_ADDR",
	"archive.endpoint":      "MINIO_ENDPOINT",
	"archive.bucket":        "MINIO_BUCKET",
	"archive.access_key":    "MINIO_ACCESS_KEY",
	"archive.secret_key":    "MINIO_SECRET_KEY",
}

func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.History.inferDriver()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// inferDriver picks postgres for a postgres URL given without a driver,
// so DATABASE_URL alone turns the history on.
func (h *HistoryConfig) inferDriver() {
	if h.Driver != "" {
		return
	}
	if strings.HasPrefix(h.DSN, "postgres://") || strings.HasPrefix(h.DSN, "postgresql://") {
		h.Driver = "postgres"
	}
}

func (c *Config) Validate() error {
	switch c.Notebook.Engine {
	case "docker", "local":
	default:
		return fmt.Errorf("notebook.engine must be docker or local, got %q", c.Notebook.Engine)
	}
	switch c.History.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("history.driver must be postgres, sqlite or empty, got %q", c.History.Driver)
	}
	if c.History.Driver != "" && c.History.DSN == "" {
		return fmt.Errorf("history.dsn is required for the %s history driver", c.History.Driver)
	}
	return nil
}

// LLMConfig maps the flat settings onto the selected provider.
func (c *Config) LLMConfig() llm.Config {
	out := llm.DefaultConfig()
	out.Provider = c.LLM.Provider
	out.Gemini.APIKey = c.LLM.GeminiAPIKey
	out.OpenAI.APIKey = c.LLM.OpenAIAPIKey
	out.OpenAI.BaseURL = c.LLM.OpenAIBaseURL
	out.Anthropic.APIKey = c.LLM.AnthropicAPIKey
	if m := c.LLM.Model; m != "" {
		switch c.LLM.Provider {
		case "gemini":
			out.Gemini.Model = m
		case "openai":
			out.OpenAI.Model = m
		case "anthropic":
			out.Anthropic.Model = m
		}
	}
	return out
}

func (c *Config) DockerConfig() notebook.DockerConfig {
	return notebook.DockerConfig{
		Image:    c.Notebook.Image,
		Kernel:   c.Notebook.Kernel,
		Timeout:  c.Notebook.Timeout,
		Network:  c.Notebook.Network,
		Memory:   c.Notebook.MemoryMB << 20,
		NanoCPUs: int64(c.Notebook.CPUs * 1e9),
	}
}

func (c *Config) ArchiveEnabled() bool {
	return c.Archive.Endpoint != "" && c.Archive.Bucket != ""
}

func (c *Config) S3Config() storage.S3Config {
	return storage.S3Config{
		Endpoint:  c.Archive.Endpoint,
		Bucket:    c.Archive.Bucket,
		AccessKey: c.Archive.AccessKey,
		SecretKey: c.Archive.SecretKey,
		Region:    c.Archive.Region,
	}
}
