package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for configuration values the service cannot run with.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server struct {
		Port              int           `yaml:"port"`
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Model struct {
		Path           string `yaml:"path"`
		MetadataPath   string `yaml:"metadata_path"`
		ClassIndexPath string `yaml:"class_index_path"`
		LibraryPath    string `yaml:"library_path"`
		Sessions       int    `yaml:"sessions"`
		IntraOpThreads int    `yaml:"intra_op_threads"`
	} `yaml:"model"`
	Predict struct {
		TopK int `yaml:"top_k"`
	} `yaml:"predict"`
	Upload struct {
		MaxBytes int64 `yaml:"max_bytes"`
	} `yaml:"upload"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.ReadHeaderTimeout = 10 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Model.Path = "models/resnet50.onnx"
	cfg.Model.MetadataPath = "models/model_metadata.json"
	cfg.Model.Sessions = 1
	cfg.Predict.TopK = 5
	cfg.Upload.MaxBytes = 10 << 20
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load layers defaults, the optional YAML file at path, a .env file in the
// working directory and the process environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("MODEL_PATH", &c.Model.Path)
	envString("MODEL_METADATA_PATH", &c.Model.MetadataPath)
	envString("MODEL_CLASS_INDEX_PATH", &c.Model.ClassIndexPath)
	envString("ONNXRUNTIME_LIB", &c.Model.LibraryPath)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)

	if err := envInt("PORT", &c.Server.Port); err != nil {
		return err
	}
	if err := envInt("MODEL_SESSIONS", &c.Model.Sessions); err != nil {
		return err
	}
	if err := envInt("MODEL_INTRA_OP_THREADS", &c.Model.IntraOpThreads); err != nil {
		return err
	}
	if err := envInt("PREDICT_TOP_K", &c.Predict.TopK); err != nil {
		return err
	}
	if v := os.Getenv("UPLOAD_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: UPLOAD_MAX_BYTES=%q", ErrInvalid, v)
		}
		c.Upload.MaxBytes = n
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalid, key, v)
	}
	*dst = n
	return nil
}

// Validate checks the values that have no sensible fallback.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("%w: server.port %d", ErrInvalid, c.Server.Port)
	case c.Model.Path == "":
		return fmt.Errorf("%w: model.path is required", ErrInvalid)
	case c.Model.MetadataPath == "":
		return fmt.Errorf("%w: model.metadata_path is required", ErrInvalid)
	case c.Model.Sessions <= 0:
		return fmt.Errorf("%w: model.sessions must be positive", ErrInvalid)
	case c.Predict.TopK <= 0:
		return fmt.Errorf("%w: predict.top_k must be positive", ErrInvalid)
	case c.Upload.MaxBytes <= 0:
		return fmt.Errorf("%w: upload.max_bytes must be positive", ErrInvalid)
	}
	return nil
}

// Addr is the listen address for http.Server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
