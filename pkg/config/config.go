package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/osvaldoandrade/uicase/internal/backoff"

	"gopkg.in/yaml.v3"
)

type RateLimitBucketConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	RunCase RateLimitBucketConfig `yaml:"runCase"`
	Webhook RateLimitBucketConfig `yaml:"webhook"`
}

type AgentConfig struct {
	// Transport is one of http, sync or async. Empty picks http when HTTPBase is set.
	Transport          string `yaml:"transport"`
	Library            string `yaml:"library"`
	HTTPBase           string `yaml:"httpBase"`
	HTTPRunPath        string `yaml:"httpRunPath"`
	HTTPTimeoutSeconds int    `yaml:"httpTimeoutSeconds"`
	HTTPAuthHeader     string `yaml:"httpAuthHeader"`
	CDPURL             string `yaml:"cdpUrl"`
	DefaultModel       string `yaml:"defaultModel"`
}

type LLMConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	APIKey         string `yaml:"apiKey"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type Config struct {
	Port      int    `yaml:"port"`
	Timezone  string `yaml:"timezone"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	Env       string `yaml:"env"`

	ArtifactsDir                  string `yaml:"artifactsDir"`
	ReportsDir                    string `yaml:"reportsDir"`
	ScreenshotsDir                string `yaml:"screenshotsDir"`
	ScreenshotFetchTimeoutSeconds int    `yaml:"screenshotFetchTimeoutSeconds"`

	Agent AgentConfig `yaml:"agent"`
	LLM   LLMConfig   `yaml:"llm"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
	RunTTLSeconds int    `yaml:"runTtlSeconds"`

	// PersistenceProvider picks the run-history backend: redis (default) or memory.
	// memory also runs without redis, which disables rate limiting.
	PersistenceProvider string         `yaml:"persistenceProvider"`
	PersistenceConfig   map[string]any `yaml:"persistenceConfig"`

	// AuthProvider names a registered pkg/auth provider (static, jwks). Empty disables auth.
	AuthProvider string         `yaml:"authProvider"`
	AuthConfig   map[string]any `yaml:"authConfig"`
	// RequireScope, when set, must appear in the caller's token scopes (e.g. uicase:run).
	RequireScope string `yaml:"requireScope"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Tracing   TracingConfig   `yaml:"tracing"`

	ResultWebhookURL                string `yaml:"resultWebhookUrl"`
	WebhookHmacSecret               string `yaml:"webhookHmacSecret"`
	ResultWebhookMaxAttempts        int    `yaml:"resultWebhookMaxAttempts"`
	// ResultWebhookBackoffPolicy: fixed, linear, exponential, exp_equal_jitter (default), exp_full_jitter.
	ResultWebhookBackoffPolicy      string `yaml:"resultWebhookBackoffPolicy"`
	ResultWebhookBaseBackoffSeconds int    `yaml:"resultWebhookBaseBackoffSeconds"`
	ResultWebhookMaxBackoffSeconds  int    `yaml:"resultWebhookMaxBackoffSeconds"`
}

// LoadConfigOptional reads filePath when it exists; an empty or missing path
// yields a config built from the environment and defaults alone.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	var c Config
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &c); err != nil {
				return nil, fmt.Errorf("parse %s: %w", filePath, err)
			}
		case errors.Is(err, os.ErrNotExist):
			log.Printf("Warning: config file %s not found, using env and defaults\n", filePath)
		default:
			return nil, err
		}
	}
	applyEnv(&c)
	applyDefaults(&c)

	log.Printf("uicase config: {Port:%d Transport:%q Base:%q Artifacts:%s Redis:%s Env:%s}\n",
		c.Port, c.Agent.Transport, c.Agent.HTTPBase, c.ArtifactsDir, c.RedisAddr, c.Env)
	return &c, nil
}

// LoadConfig is LoadConfigOptional for callers that require the file.
func LoadConfig(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, err
	}
	return LoadConfigOptional(filePath)
}

func applyEnv(c *Config) {
	envInt("PORT", &c.Port)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("UICASE_ENV", &c.Env)

	envString("ARTIFACTS_DIR", &c.ArtifactsDir)
	envString("REPORTS_DIR", &c.ReportsDir)
	envString("SCREENSHOTS_DIR", &c.ScreenshotsDir)
	envInt("SCREENSHOT_FETCH_TIMEOUT", &c.ScreenshotFetchTimeoutSeconds)

	envString("AGENT_TRANSPORT", &c.Agent.Transport)
	envString("AGENT_LIBRARY", &c.Agent.Library)
	envString("BROWSER_USE_HTTP_BASE", &c.Agent.HTTPBase)
	envString("BROWSER_USE_HTTP_RUN_PATH", &c.Agent.HTTPRunPath)
	envInt("BROWSER_USE_HTTP_TIMEOUT", &c.Agent.HTTPTimeoutSeconds)
	envString("BROWSER_USE_HTTP_AUTH_HEADER", &c.Agent.HTTPAuthHeader)
	envString("BROWSER_USE_CDP_URL", &c.Agent.CDPURL)
	envString("BROWSER_USE_MODEL", &c.Agent.DefaultModel)

	envString("LLM_BASE_URL", &c.LLM.BaseURL)
	envString("LLM_MODEL", &c.LLM.Model)
	envString("ALIBABA_CLOUD", &c.LLM.APIKey)
	envString("LLM_API_KEY", &c.LLM.APIKey)

	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envInt("REDIS_DB", &c.RedisDB)
	envInt("RUN_TTL_SECONDS", &c.RunTTLSeconds)
	envString("PERSISTENCE_PROVIDER", &c.PersistenceProvider)

	envString("AUTH_PROVIDER", &c.AuthProvider)
	if v := strings.TrimSpace(os.Getenv("AUTH_STATIC_TOKEN")); v != "" {
		c.AuthProvider = "static"
		c.AuthConfig = map[string]any{"token": v}
	}

	envInt("RATE_LIMIT_RUN_CASE_RPM", &c.RateLimit.RunCase.RequestsPerMinute)
	envInt("RATE_LIMIT_RUN_CASE_BURST", &c.RateLimit.RunCase.BurstSize)

	if v := os.Getenv("OTEL_TRACES_ENABLED"); v != "" {
		c.Tracing.Enabled = parseBool(v)
	}
	envString("OTEL_SERVICE_NAME", &c.Tracing.ServiceName)
	if v := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tracing.SampleRatio = f
		}
	}

	envString("RESULT_WEBHOOK_URL", &c.ResultWebhookURL)
	envString("WEBHOOK_HMAC_SECRET", &c.WebhookHmacSecret)
	envInt("RESULT_WEBHOOK_MAX_ATTEMPTS", &c.ResultWebhookMaxAttempts)
	envString("RESULT_WEBHOOK_BACKOFF_POLICY", &c.ResultWebhookBackoffPolicy)
	envInt("RESULT_WEBHOOK_BASE_BACKOFF_SECONDS", &c.ResultWebhookBaseBackoffSeconds)
	envInt("RESULT_WEBHOOK_MAX_BACKOFF_SECONDS", &c.ResultWebhookMaxBackoffSeconds)
}

func applyDefaults(c *Config) {
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.ArtifactsDir == "" {
		c.ArtifactsDir = "artifacts"
	}
	if c.ReportsDir == "" {
		c.ReportsDir = filepath.Join(c.ArtifactsDir, "reports")
	}
	if c.ScreenshotsDir == "" {
		c.ScreenshotsDir = filepath.Join(c.ArtifactsDir, "screenshots")
	}
	if c.ScreenshotFetchTimeoutSeconds <= 0 {
		c.ScreenshotFetchTimeoutSeconds = 30
	}
	if c.Agent.Library == "" {
		c.Agent.Library = "browser-use"
	}
	if c.Agent.HTTPRunPath == "" {
		c.Agent.HTTPRunPath = "/run"
	}
	if c.Agent.HTTPTimeoutSeconds <= 0 {
		c.Agent.HTTPTimeoutSeconds = 120
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "qwen-vl-plus"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.RunTTLSeconds <= 0 {
		c.RunTTLSeconds = 7 * 24 * 3600
	}
	if c.PersistenceProvider == "" {
		c.PersistenceProvider = "redis"
	}
	if c.ResultWebhookMaxAttempts <= 0 {
		c.ResultWebhookMaxAttempts = 5
	}
	if c.ResultWebhookBackoffPolicy == "" {
		c.ResultWebhookBackoffPolicy = string(backoff.ExpEqualJitter)
	}
	if c.ResultWebhookBaseBackoffSeconds <= 0 {
		c.ResultWebhookBaseBackoffSeconds = 2
	}
	if c.ResultWebhookMaxBackoffSeconds <= 0 {
		c.ResultWebhookMaxBackoffSeconds = 60
	}
}

func (c *Config) Validate() error {
	var errs []string
	env := strings.ToLower(strings.TrimSpace(c.Env))
	dev := env == "dev"

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	switch strings.ToLower(strings.TrimSpace(c.Agent.Transport)) {
	case "", "sync", "async":
	case "http":
		if strings.TrimSpace(c.Agent.HTTPBase) == "" {
			errs = append(errs, "agent.httpBase is required when agent.transport is http")
		}
	default:
		errs = append(errs, "agent.transport must be one of http, sync, async")
	}
	if c.Agent.HTTPBase != "" && !validHTTPURL(c.Agent.HTTPBase) {
		errs = append(errs, "agent.httpBase must be a valid http(s) URL")
	}
	if !strings.HasPrefix(c.Agent.HTTPRunPath, "/") {
		errs = append(errs, "agent.httpRunPath must start with /")
	}

	switch c.PersistenceProvider {
	case "redis", "memory":
	default:
		errs = append(errs, "persistenceProvider must be one of redis, memory")
	}

	if c.AuthProvider == "" && !dev {
		errs = append(errs, "authProvider is required in non-dev")
	}
	if c.ResultWebhookURL != "" {
		if !validHTTPURL(c.ResultWebhookURL) {
			errs = append(errs, "resultWebhookUrl must be a valid http(s) URL")
		}
		if _, err := backoff.ParsePolicy(c.ResultWebhookBackoffPolicy); err != nil {
			errs = append(errs, "resultWebhookBackoffPolicy: "+err.Error())
		}
		if strings.TrimSpace(c.WebhookHmacSecret) == "" && !dev {
			errs = append(errs, "webhookHmacSecret is required when resultWebhookUrl is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AuthConfigJSON renders AuthConfig the way pkg/auth provider factories expect it.
func (c *Config) AuthConfigJSON() (json.RawMessage, error) {
	if c.AuthConfig == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(c.AuthConfig)
	if err != nil {
		return nil, fmt.Errorf("authConfig: %w", err)
	}
	return b, nil
}

// PersistenceConfigJSON renders PersistenceConfig for pkg/persistence plugins.
func (c *Config) PersistenceConfigJSON() (json.RawMessage, error) {
	if c.PersistenceConfig == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(c.PersistenceConfig)
	if err != nil {
		return nil, fmt.Errorf("persistenceConfig: %w", err)
	}
	return b, nil
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func parseBool(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "true" || v == "1" || v == "yes" || v == "y" || v == "on"
}
