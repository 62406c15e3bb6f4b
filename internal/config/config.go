package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerAddress   = ":5000"
	DefaultUploadDir       = "./data/uploads"
	DefaultMaxUploadMB     = 200
	DefaultRequestTimeout  = 120
	DefaultSessionTTL      = 60
	DefaultJanitorInterval = 10
	DefaultLogLevel        = "info"

	BackendCLI    = "cli"
	BackendRemote = "remote"

	ProviderOpenAI      = "openai"
	ProviderClaude      = "claude"
	ProviderGemini      = "gemini"
	ProviderHuggingFace = "huggingface"
)

// DefaultAllowedOrigins matches the dev server the browser client runs on.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig   BasicConfig               `json:"basic_config" yaml:"basic_config" toml:"basic_config"`
	Transcription TranscriptionConfig       `json:"transcription" yaml:"transcription" toml:"transcription"`
	Summarization SummarizationConfig       `json:"summarization" yaml:"summarization" toml:"summarization"`
	Redis         RedisConfig               `json:"redis" yaml:"redis" toml:"redis"`
	Databases     map[string]DatabaseConfig `json:"databases" yaml:"databases" toml:"databases"`
	Audit         AuditConfig               `json:"audit" yaml:"audit" toml:"audit"`
}

type BasicConfig struct {
	ServerAddress          string   `json:"server_address" yaml:"server_address" toml:"server_address"`
	AllowedOrigins         []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	UploadDir              string   `json:"upload_dir" yaml:"upload_dir" toml:"upload_dir"`
	MaxUploadMB            int64    `json:"max_upload_mb" yaml:"max_upload_mb" toml:"max_upload_mb"`
	RequestTimeoutSeconds  int      `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	SessionTTLMinutes      int      `json:"session_ttl_minutes" yaml:"session_ttl_minutes" toml:"session_ttl_minutes"`
	JanitorIntervalMinutes int      `json:"janitor_interval_minutes" yaml:"janitor_interval_minutes" toml:"janitor_interval_minutes"`
	SummarizeRatePerMinute int      `json:"summarize_rate_per_minute" yaml:"summarize_rate_per_minute" toml:"summarize_rate_per_minute"`
	LogLevel               string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat              string   `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// TranscriptionConfig selects the speech-to-text backend.
type TranscriptionConfig struct {
	Backend string         `json:"backend" yaml:"backend" toml:"backend"`
	CLI     WhisperCLI     `json:"cli" yaml:"cli" toml:"cli"`
	Remote  ProviderConfig `json:"remote" yaml:"remote" toml:"remote"`
}

type WhisperCLI struct {
	BinaryPath string   `json:"binary_path" yaml:"binary_path" toml:"binary_path"`
	Model      string   `json:"model" yaml:"model" toml:"model"`
	Language   string   `json:"language" yaml:"language" toml:"language"`
	ExtraArgs  []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`
}

// SummarizationConfig selects the text-generation provider. An empty API key
// switches the service to the offline summary.
type SummarizationConfig struct {
	Provider  string `json:"provider" yaml:"provider" toml:"provider"`
	BaseURL   string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Model     string `json:"model" yaml:"model" toml:"model"`
	APIKey    string `json:"api_key" yaml:"api_key" toml:"api_key"`
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
}

type ProviderConfig struct {
	BaseURL  string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Model    string `json:"model" yaml:"model" toml:"model"`
	APIKey   string `json:"api_key" yaml:"api_key" toml:"api_key"`
	Language string `json:"language" yaml:"language" toml:"language"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DB       int    `json:"db" yaml:"db" toml:"db"`
}

// Enabled reports whether a redis server was configured at all.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn" toml:"dsn"`
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DBName   string `json:"db_name" yaml:"db_name" toml:"db_name"`
	Params   string `json:"params" yaml:"params" toml:"params"`
}

// AuditConfig names the database entry used for the job log. Empty disables it.
type AuditConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
}

// Load reads configuration from the provided path (defaults to config.json) and
// applies environment overrides.
func Load(path string) (*Config, error) {
	return Loader{}.Load(path)
}

// Loader loads configuration files. Tests can override Lookup to inject
// deterministic environments.
type Loader struct {
	Lookup func(string) (string, bool)
}

func (l Loader) Load(path string) (*Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	explicit := path != ""
	if !explicit {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// built-in defaults
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	l.applyEnv(cfg)
	if err := cfg.resolveSecrets(l.Lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if explicit && !filepath.IsAbs(cfg.BasicConfig.UploadDir) {
		cfg.BasicConfig.UploadDir = filepath.Join(filepath.Dir(absPath), cfg.BasicConfig.UploadDir)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (l Loader) applyEnv(cfg *Config) {
	if port, ok := l.value("PORT"); ok {
		cfg.BasicConfig.ServerAddress = ":" + strings.TrimPrefix(port, ":")
	}
	l.overrideString("MEETSUM_ADDR", &cfg.BasicConfig.ServerAddress)
	if origins, ok := l.value("MEETSUM_ALLOWED_ORIGINS"); ok {
		cfg.BasicConfig.AllowedOrigins = splitList(origins)
	}
	l.overrideString("MEETSUM_LOG_LEVEL", &cfg.BasicConfig.LogLevel)
	l.overrideString("MEETSUM_UPLOAD_DIR", &cfg.BasicConfig.UploadDir)
	if raw, ok := l.value("MEETSUM_REQUEST_TIMEOUT"); ok {
		if secs, err := strconv.Atoi(raw); err == nil {
			cfg.BasicConfig.RequestTimeoutSeconds = secs
		}
	}

	l.overrideString("MEETSUM_TRANSCRIBE_BACKEND", &cfg.Transcription.Backend)
	l.overrideString("MEETSUM_WHISPER_BIN", &cfg.Transcription.CLI.BinaryPath)
	l.overrideString("MEETSUM_TRANSCRIBE_API_KEY", &cfg.Transcription.Remote.APIKey)

	l.overrideString("MEETSUM_SUMMARY_PROVIDER", &cfg.Summarization.Provider)
	// HF_API_KEY predates the provider setting and implies huggingface.
	if key, ok := l.value("HF_API_KEY"); ok {
		cfg.Summarization.APIKey = key
		if cfg.Summarization.Provider == "" {
			cfg.Summarization.Provider = ProviderHuggingFace
		}
	}
	l.overrideString("MEETSUM_SUMMARY_API_KEY", &cfg.Summarization.APIKey)
	l.overrideString("MEETSUM_SUMMARY_MODEL", &cfg.Summarization.Model)
}

func (l Loader) value(key string) (string, bool) {
	v, ok := l.Lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (l Loader) overrideString(key string, target *string) {
	if v, ok := l.value(key); ok {
		*target = v
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate applies defaults and rejects unusable values.
func (c *Config) Validate() error {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = DefaultServerAddress
	}
	if len(b.AllowedOrigins) == 0 {
		b.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
	if b.UploadDir == "" {
		b.UploadDir = DefaultUploadDir
	}
	if b.MaxUploadMB <= 0 {
		b.MaxUploadMB = DefaultMaxUploadMB
	}
	if b.RequestTimeoutSeconds <= 0 {
		b.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if b.SessionTTLMinutes <= 0 {
		b.SessionTTLMinutes = DefaultSessionTTL
	}
	if b.JanitorIntervalMinutes <= 0 {
		b.JanitorIntervalMinutes = DefaultJanitorInterval
	}
	if b.LogLevel == "" {
		b.LogLevel = DefaultLogLevel
	}

	t := &c.Transcription
	t.Backend = strings.ToLower(strings.TrimSpace(t.Backend))
	switch t.Backend {
	case "":
		t.Backend = BackendCLI
	case BackendCLI, BackendRemote:
	default:
		return fmt.Errorf("config: unknown transcription backend %q", t.Backend)
	}
	if t.CLI.BinaryPath == "" {
		t.CLI.BinaryPath = "whisper"
	}
	if t.CLI.Model == "" {
		t.CLI.Model = "small"
	}
	if t.CLI.Language == "" {
		t.CLI.Language = "en"
	}
	if t.Backend == BackendRemote {
		if t.Remote.BaseURL == "" {
			t.Remote.BaseURL = "https://api.openai.com/v1"
		}
		if t.Remote.Model == "" {
			t.Remote.Model = "whisper-1"
		}
		if t.Remote.APIKey == "" {
			return fmt.Errorf("config: transcription.remote.api_key is required for the remote backend")
		}
	}

	s := &c.Summarization
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	switch s.Provider {
	case "":
		s.Provider = ProviderOpenAI
	case ProviderOpenAI, ProviderClaude, ProviderGemini, ProviderHuggingFace:
	default:
		return fmt.Errorf("config: unknown summarization provider %q", s.Provider)
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = 1500
	}

	if c.Audit.Driver != "" {
		if _, ok := c.Databases[c.Audit.Driver]; !ok {
			return fmt.Errorf("config: audit driver %q has no databases entry", c.Audit.Driver)
		}
	}
	return nil
}
