package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/molehq/molesearch-backend/internal/search"
)

const (
	DefaultDimension     = 1024
	DefaultBatchSize     = 100
	DefaultRefreshPolicy = "wait_for"
	DefaultTimeoutSecs   = 30
	DefaultMaxRetries    = 3
	DefaultCheckInterval = 5
	DefaultTaskTTLHours  = 24
	DefaultTokenTTLHours = 24
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	SearchEngine  SearchEngineConfig  `yaml:"search_engine"`
	Extractor     ExtractorConfig     `yaml:"extractor"`
	TaskStore     TaskStoreConfig     `yaml:"task_store"`
	Worker        WorkerConfig        `yaml:"worker"`
	Security      SecurityConfig      `yaml:"security"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Mode        string   `yaml:"mode"`
	CORSOrigins []string `yaml:"cors_origins"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type SearchEngineConfig struct {
	Type          string              `yaml:"type"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
}

type ElasticsearchConfig struct {
	Host             string         `yaml:"host"`
	Port             int            `yaml:"port"`
	Scheme           string         `yaml:"scheme"`
	Index            string         `yaml:"index"`
	Username         string         `yaml:"username"`
	Password         string         `yaml:"password"`
	TimeoutSeconds   int            `yaml:"timeout_seconds"`
	MaxRetries       int            `yaml:"max_retries"`
	BatchSize        int            `yaml:"batch_size"`
	RefreshPolicy    string         `yaml:"refresh_policy"`
	VectorDimensions map[string]int `yaml:"vector_dimensions"`
}

func (e ElasticsearchConfig) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", e.Scheme, e.Host, e.Port)
}

func (e ElasticsearchConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// DimensionFor returns the configured dimension for a vector field.
func (e ElasticsearchConfig) DimensionFor(field string) int {
	if d, ok := e.VectorDimensions[field]; ok && d > 0 {
		return d
	}
	return DefaultDimension
}

type ExtractorConfig struct {
	TextEmbedding  AdapterConfig `yaml:"text_embedding"`
	ImageEmbedding AdapterConfig `yaml:"image_embedding"`
	VideoEmbedding AdapterConfig `yaml:"video_embedding"`
	Caption        CaptionConfig `yaml:"caption"`
	ASR            ASRConfig     `yaml:"asr"`
}

type AdapterConfig struct {
	Impl           string `yaml:"impl"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	Dimension      int    `yaml:"dimension"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

func (a AdapterConfig) Enabled() bool { return strings.TrimSpace(a.Impl) != "" }

func (a AdapterConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

type CaptionConfig struct {
	AdapterConfig `yaml:",inline"`
	PromptPath    string `yaml:"prompt_path"`
}

type ASRConfig struct {
	AdapterConfig `yaml:",inline"`
	LanguageHints []string           `yaml:"language_hints"`
	GCP           GCPSpeechConfig    `yaml:"gcp"`
	Audio         AudioExtractConfig `yaml:"audio"`
}

type GCPSpeechConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	LanguageCode    string `yaml:"language_code"`
}

type AudioExtractConfig struct {
	Prefix                 string            `yaml:"prefix"`
	DownloadTimeoutSeconds int               `yaml:"download_timeout_seconds"`
	ObjectStore            ObjectStoreConfig `yaml:"object_store"`
}

func (a AudioExtractConfig) DownloadTimeout() time.Duration {
	return time.Duration(a.DownloadTimeoutSeconds) * time.Second
}

type ObjectStoreConfig struct {
	Provider        string `yaml:"provider"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	Bucket          string `yaml:"bucket"`
	UseSSL          bool   `yaml:"use_ssl"`
	PublicBaseURL   string `yaml:"public_base_url"`
	CredentialsFile string `yaml:"credentials_file"`
}

type TaskStoreConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	DB           int    `yaml:"db"`
	Password     string `yaml:"password"`
	TaskTTLHours int    `yaml:"task_ttl_hours"`
}

func (t TaskStoreConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

func (t TaskStoreConfig) TaskTTL() time.Duration {
	return time.Duration(t.TaskTTLHours) * time.Hour
}

type WorkerConfig struct {
	CheckIntervalSeconds   int `yaml:"check_interval_seconds"`
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
	MaxTaskAgeHours        int `yaml:"max_task_age_hours"`
}

func (w WorkerConfig) CheckInterval() time.Duration {
	return time.Duration(w.CheckIntervalSeconds) * time.Second
}

func (w WorkerConfig) CleanupInterval() time.Duration {
	return time.Duration(w.CleanupIntervalMinutes) * time.Minute
}

type SecurityConfig struct {
	Auth AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	Enable        bool         `yaml:"enable"`
	TokenTTLHours int          `yaml:"token_ttl_hours"`
	Users         []UserConfig `yaml:"users"`
}

func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLHours) * time.Hour
}

type UserConfig struct {
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	PasswordBcrypt string `yaml:"password_bcrypt"`
	Role           string `yaml:"role"`
}

type ObservabilityConfig struct {
	Enable       bool    `yaml:"enable"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// Load reads, defaults, overlays and validates the configuration file.
// It is called exactly once per process, before anything else starts.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "development"
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}

	if c.SearchEngine.Type == "" {
		c.SearchEngine.Type = "elasticsearch"
	}
	es := &c.SearchEngine.Elasticsearch
	if es.Host == "" {
		es.Host = "localhost"
	}
	if es.Port == 0 {
		es.Port = 9200
	}
	if es.Scheme == "" {
		es.Scheme = "http"
	}
	if es.Index == "" {
		es.Index = "molesearch"
	}
	if es.TimeoutSeconds == 0 {
		es.TimeoutSeconds = DefaultTimeoutSecs
	}
	if es.MaxRetries == 0 {
		es.MaxRetries = DefaultMaxRetries
	}
	if es.BatchSize == 0 {
		es.BatchSize = DefaultBatchSize
	}
	if es.RefreshPolicy == "" {
		es.RefreshPolicy = DefaultRefreshPolicy
	}
	if es.VectorDimensions == nil {
		es.VectorDimensions = map[string]int{}
	}
	for _, f := range search.VectorFields {
		if es.VectorDimensions[f] == 0 {
			es.VectorDimensions[f] = DefaultDimension
		}
	}

	for _, a := range []*AdapterConfig{
		&c.Extractor.TextEmbedding,
		&c.Extractor.ImageEmbedding,
		&c.Extractor.VideoEmbedding,
		&c.Extractor.Caption.AdapterConfig,
		&c.Extractor.ASR.AdapterConfig,
	} {
		if a.TimeoutSeconds == 0 {
			a.TimeoutSeconds = DefaultTimeoutSecs
		}
		if a.MaxRetries == 0 {
			a.MaxRetries = DefaultMaxRetries
		}
		if a.Dimension == 0 {
			a.Dimension = DefaultDimension
		}
	}
	if len(c.Extractor.ASR.LanguageHints) == 0 {
		c.Extractor.ASR.LanguageHints = []string{"zh", "en"}
	}
	if c.Extractor.ASR.Audio.Prefix == "" {
		c.Extractor.ASR.Audio.Prefix = "audio"
	}
	if c.Extractor.ASR.Audio.DownloadTimeoutSeconds == 0 {
		c.Extractor.ASR.Audio.DownloadTimeoutSeconds = 300
	}
	if c.Extractor.ASR.Audio.ObjectStore.Provider == "" {
		c.Extractor.ASR.Audio.ObjectStore.Provider = "s3"
	}

	if c.TaskStore.Host == "" {
		c.TaskStore.Host = "localhost"
	}
	if c.TaskStore.Port == 0 {
		c.TaskStore.Port = 6379
	}
	if c.TaskStore.TaskTTLHours == 0 {
		c.TaskStore.TaskTTLHours = DefaultTaskTTLHours
	}

	if c.Worker.CheckIntervalSeconds == 0 {
		c.Worker.CheckIntervalSeconds = DefaultCheckInterval
	}
	if c.Worker.CleanupIntervalMinutes == 0 {
		c.Worker.CleanupIntervalMinutes = 60
	}
	if c.Worker.MaxTaskAgeHours == 0 {
		c.Worker.MaxTaskAgeHours = DefaultTaskTTLHours
	}

	if c.Security.Auth.TokenTTLHours == 0 {
		c.Security.Auth.TokenTTLHours = DefaultTokenTTLHours
	}

	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "molesearch"
	}
	if c.Observability.SampleRatio == 0 {
		c.Observability.SampleRatio = 0.1
	}
}

// Secrets may arrive via environment instead of the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MOLESEARCH_REDIS_PASSWORD"); v != "" {
		c.TaskStore.Password = v
	}
	if v := os.Getenv("MOLESEARCH_ES_USERNAME"); v != "" {
		c.SearchEngine.Elasticsearch.Username = v
	}
	if v := os.Getenv("MOLESEARCH_ES_PASSWORD"); v != "" {
		c.SearchEngine.Elasticsearch.Password = v
	}
	if v := os.Getenv("DASHSCOPE_API_KEY"); v != "" {
		for _, a := range []*AdapterConfig{
			&c.Extractor.TextEmbedding,
			&c.Extractor.ImageEmbedding,
			&c.Extractor.VideoEmbedding,
			&c.Extractor.Caption.AdapterConfig,
			&c.Extractor.ASR.AdapterConfig,
		} {
			if a.APIKey == "" {
				a.APIKey = v
			}
		}
	}
	if v := os.Getenv("MOLESEARCH_OSS_ACCESS_KEY_ID"); v != "" {
		c.Extractor.ASR.Audio.ObjectStore.AccessKeyID = v
	}
	if v := os.Getenv("MOLESEARCH_OSS_ACCESS_KEY_SECRET"); v != "" {
		c.Extractor.ASR.Audio.ObjectStore.AccessKeySecret = v
	}
}

func (c *Config) Validate() error {
	if c.SearchEngine.Type != "elasticsearch" {
		return fmt.Errorf("config: unsupported search_engine.type %q", c.SearchEngine.Type)
	}
	es := c.SearchEngine.Elasticsearch
	switch es.RefreshPolicy {
	case "wait_for", "true", "false":
	default:
		return fmt.Errorf("config: refresh_policy must be one of wait_for, true, false; got %q", es.RefreshPolicy)
	}
	if es.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1; got %d", es.BatchSize)
	}
	for f, d := range es.VectorDimensions {
		if d < 1 {
			return fmt.Errorf("config: vector dimension for %s must be >= 1; got %d", f, d)
		}
	}
	if c.Worker.CheckIntervalSeconds < 1 {
		return fmt.Errorf("config: worker check_interval_seconds must be >= 1; got %d", c.Worker.CheckIntervalSeconds)
	}
	for name, a := range map[string]AdapterConfig{
		"text_embedding":  c.Extractor.TextEmbedding,
		"image_embedding": c.Extractor.ImageEmbedding,
		"video_embedding": c.Extractor.VideoEmbedding,
		"caption":         c.Extractor.Caption.AdapterConfig,
	} {
		if a.Enabled() && a.Model == "" {
			return fmt.Errorf("config: extractor.%s.model is required when impl is set", name)
		}
	}
	asr := c.Extractor.ASR
	if asr.Enabled() {
		if asr.Impl != "gcp" && asr.Model == "" {
			return fmt.Errorf("config: extractor.asr.model is required when impl is set")
		}
		os := asr.Audio.ObjectStore
		switch os.Provider {
		case "s3":
			if os.Endpoint == "" || os.Bucket == "" {
				return fmt.Errorf("config: s3 object store requires endpoint and bucket")
			}
		case "gcs":
			if os.Bucket == "" {
				return fmt.Errorf("config: gcs object store requires bucket")
			}
		default:
			return fmt.Errorf("config: unsupported object store provider %q", os.Provider)
		}
	}
	if c.Security.Auth.Enable {
		if len(c.Security.Auth.Users) == 0 {
			return fmt.Errorf("config: auth enabled but no users configured")
		}
		for _, u := range c.Security.Auth.Users {
			if u.Username == "" {
				return fmt.Errorf("config: auth user with empty username")
			}
			if u.Password == "" && u.PasswordBcrypt == "" {
				return fmt.Errorf("config: auth user %s has no password", u.Username)
			}
		}
	}
	return nil
}

// Path resolves the config file location: -config flag value if given,
// MOLESEARCH_CONFIG env second, ./config.yaml last.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("MOLESEARCH_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}
