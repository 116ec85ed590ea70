package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/providers"
	"github.com/entrepeneur4lyf/chatforge/internal/storage"
)

// Application constants
const (
	appName                  = "chatforge"
	defaultLogLevel          = "info"
	MaxTokensFallbackDefault = 4096
)

// ErrProviderDisabled is returned when a model routes to a provider turned off in the config
var ErrProviderDisabled = errors.New("provider disabled")

var defaultContextPaths = []string{
	".github/copilot-instructions.md",
	".cursorrules",
	".clinerules",
	".windsurfrules",
	"CLAUDE.md",
	"CLAUDE.local.md",
	"chatforge.md",
	"chatforge.local.md",
	"AGENTS.md",
}

// Provider defines configuration for an LLM provider
type Provider struct {
	APIKey   string `json:"apiKey" mapstructure:"apiKey"`
	BaseURL  string `json:"baseURL,omitempty" mapstructure:"baseURL"`
	Region   string `json:"region,omitempty" mapstructure:"region"`
	Disabled bool   `json:"disabled" mapstructure:"disabled"`
}

// Data defines storage configuration
type Data struct {
	// Directory holds the database, memory and budget files. Empty means ~/.chatforge.
	Directory string `json:"directory,omitempty" mapstructure:"directory"`
}

// RoutingConfig maps detected task types to preferred models
type RoutingConfig struct {
	Enabled bool              `json:"enabled" mapstructure:"enabled"`
	Rules   map[string]string `json:"rules,omitempty" mapstructure:"rules"`
}

// RateLimitConfig bounds requests per provider
type RateLimitConfig struct {
	RequestsPerWindow int     `json:"requestsPerWindow" mapstructure:"requestsPerWindow"`
	WindowSeconds     int     `json:"windowSeconds" mapstructure:"windowSeconds"`
	RatePerSecond     float64 `json:"ratePerSecond,omitempty" mapstructure:"ratePerSecond"`
	Burst             int     `json:"burst,omitempty" mapstructure:"burst"`
}

// RetryConfig controls retries of transient provider failures and the circuit breaker
type RetryConfig struct {
	MaxAttempts         int `json:"maxAttempts" mapstructure:"maxAttempts"`
	BaseDelayMs         int `json:"baseDelayMs" mapstructure:"baseDelayMs"`
	MaxDelayMs          int `json:"maxDelayMs" mapstructure:"maxDelayMs"`
	BreakerFailures     int `json:"breakerFailures" mapstructure:"breakerFailures"`
	BreakerResetSeconds int `json:"breakerResetSeconds" mapstructure:"breakerResetSeconds"`
}

// BudgetConfig locates the provider budget file
type BudgetConfig struct {
	WarningThreshold float64 `json:"warningThreshold" mapstructure:"warningThreshold"`
	// File overrides the budgets.toml location inside the data directory
	File string `json:"file,omitempty" mapstructure:"file"`
	// Watch reloads budgets when the file changes
	Watch bool `json:"watch" mapstructure:"watch"`
}

// ContextConfig defines ambient context configuration
type ContextConfig struct {
	// Budgets caps the smart context per budget mode (full, compact, minimal)
	Budgets      map[string]int `json:"budgets" mapstructure:"budgets"`
	ContextPaths []string       `json:"contextPaths,omitempty" mapstructure:"contextPaths"`
	ExactTokens  bool           `json:"exactTokens" mapstructure:"exactTokens"`
	Include      []string       `json:"include,omitempty" mapstructure:"include"`
	Exclude      []string       `json:"exclude,omitempty" mapstructure:"exclude"`
	MaxFiles     int            `json:"maxFiles,omitempty" mapstructure:"maxFiles"`
}

// LogConfig selects log level, format and destination
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
	File   string `json:"file,omitempty" mapstructure:"file"`
}

// APIConfig configures the HTTP server
type APIConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
	// Token, when set, must be presented as a bearer token on every API request
	Token string `json:"token,omitempty" mapstructure:"token"`
}

// Config is the main configuration structure for the application
type Config struct {
	WorkingDir   string                 `json:"wd,omitempty" mapstructure:"wd"`
	Data         Data                   `json:"data" mapstructure:"data"`
	Model        string                 `json:"model" mapstructure:"model"`
	SystemPrompt string                 `json:"systemPrompt,omitempty" mapstructure:"systemPrompt"`
	MaxTokens    int                    `json:"maxTokens" mapstructure:"maxTokens"`
	Temperature  float64                `json:"temperature" mapstructure:"temperature"`
	Providers    map[string]Provider    `json:"providers,omitempty" mapstructure:"providers"`
	Models       map[string]ModelConfig `json:"models,omitempty" mapstructure:"models"`
	Routing      RoutingConfig          `json:"routing" mapstructure:"routing"`
	RateLimit    RateLimitConfig        `json:"rateLimit" mapstructure:"rateLimit"`
	Retry        RetryConfig            `json:"retry" mapstructure:"retry"`
	Budget       BudgetConfig           `json:"budget" mapstructure:"budget"`
	Context      ContextConfig          `json:"context" mapstructure:"context"`
	Log          LogConfig              `json:"log" mapstructure:"log"`
	API          APIConfig              `json:"api" mapstructure:"api"`
	Debug        bool                   `json:"debug,omitempty" mapstructure:"debug"`

	v *viper.Viper
}

// Load reads .chatforge.json from the working directory, $HOME or the XDG config
// directory, then overlays CHATFORGE_* environment variables and provider keys
func Load(workingDir string, debug bool) (*Config, error) {
	return load(workingDir, "", debug)
}

// LoadFile is Load with an explicit config file
func LoadFile(workingDir, file string, debug bool) (*Config, error) {
	return load(workingDir, file, debug)
}

func load(workingDir, file string, debug bool) (*Config, error) {
	cfg := &Config{
		Providers: make(map[string]Provider),
		Models:    make(map[string]ModelConfig),
		v:         viper.New(),
	}

	configureViper(cfg.v, workingDir, file)
	setDefaults(cfg.v, debug)

	if err := readConfig(cfg.v, cfg); err != nil {
		return cfg, err
	}
	cfg.WorkingDir = workingDir
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]Provider)
	}

	loadProvidersFromEnv(cfg)
	setDefaultModel(cfg)

	return cfg, nil
}

// configureViper sets up the configuration paths and environment variables
func configureViper(v *viper.Viper, workingDir, file string) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(fmt.Sprintf(".%s", appName))
		v.SetConfigType("json")
		if workingDir != "" {
			v.AddConfigPath(workingDir)
		}
		v.AddConfigPath("$HOME")
		v.AddConfigPath(fmt.Sprintf("$XDG_CONFIG_HOME/%s", appName))
		v.AddConfigPath(fmt.Sprintf("$HOME/.config/%s", appName))
	}
	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// setDefaults configures default values for configuration options
func setDefaults(v *viper.Viper, debug bool) {
	v.SetDefault("data.directory", "")
	v.SetDefault("model", "")
	v.SetDefault("maxTokens", MaxTokensFallbackDefault)
	v.SetDefault("temperature", 0.7)

	v.SetDefault("routing.enabled", false)

	v.SetDefault("rateLimit.requestsPerWindow", providers.DefaultRequestsPerWindow)
	v.SetDefault("rateLimit.windowSeconds", int(providers.DefaultRateWindow/time.Second))
	v.SetDefault("rateLimit.ratePerSecond", 0)
	v.SetDefault("rateLimit.burst", 0)

	v.SetDefault("retry.maxAttempts", 3)
	v.SetDefault("retry.baseDelayMs", 1000)
	v.SetDefault("retry.maxDelayMs", 30000)
	v.SetDefault("retry.breakerFailures", 5)
	v.SetDefault("retry.breakerResetSeconds", 60)

	v.SetDefault("budget.warningThreshold", 80)
	v.SetDefault("budget.file", "")
	v.SetDefault("budget.watch", true)

	v.SetDefault("context.budgets", map[string]int{
		string(contextmgmt.BudgetModeFull):    4000,
		string(contextmgmt.BudgetModeCompact): 1500,
		string(contextmgmt.BudgetModeMinimal): 500,
	})
	v.SetDefault("context.contextPaths", defaultContextPaths)
	v.SetDefault("context.exactTokens", false)
	v.SetDefault("context.maxFiles", 5000)

	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("api.addr", "127.0.0.1:8787")

	if debug {
		v.SetDefault("debug", true)
		v.Set("log.level", "debug")
	} else {
		v.SetDefault("debug", false)
		v.SetDefault("log.level", defaultLogLevel)
	}
}

// readConfig reads the config file, tolerating its absence, and decodes it into cfg
func readConfig(v *viper.Viper, cfg *Config) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}
	return nil
}

// providerEnvKeys lists the environment variable holding each provider's key
var providerEnvKeys = map[string]string{
	providers.ProviderAnthropic:  "ANTHROPIC_API_KEY",
	providers.ProviderOpenAI:     "OPENAI_API_KEY",
	providers.ProviderGemini:     "GEMINI_API_KEY",
	providers.ProviderOpenRouter: "OPENROUTER_API_KEY",
	"groq":                       "GROQ_API_KEY",
	"deepseek":                   "DEEPSEEK_API_KEY",
	"xai":                        "XAI_API_KEY",
	"mistral":                    "MISTRAL_API_KEY",
	"together":                   "TOGETHER_API_KEY",
}

// loadProvidersFromEnv fills provider keys from the environment; keys set in the file win
func loadProvidersFromEnv(cfg *Config) {
	for provider, envVar := range providerEnvKeys {
		apiKey := os.Getenv(envVar)
		if apiKey == "" {
			continue
		}
		p := cfg.Providers[provider]
		if p.APIKey == "" {
			p.APIKey = apiKey
			cfg.Providers[provider] = p
		}
	}
}

// providerOrder is the preference used when no model is configured
var providerOrder = []string{
	providers.ProviderAnthropic,
	providers.ProviderOpenAI,
	providers.ProviderGemini,
	providers.ProviderOpenRouter,
}

var defaultProviderModels = map[string]string{
	providers.ProviderAnthropic:  "claude-sonnet-4-20250514",
	providers.ProviderOpenAI:     "gpt-4o",
	providers.ProviderGemini:     "gemini-2.5-flash",
	providers.ProviderOpenRouter: "anthropic/claude-sonnet-4",
}

// setDefaultModel picks the default model of the first provider with a key
func setDefaultModel(cfg *Config) {
	if cfg.Model != "" {
		return
	}
	for _, provider := range providerOrder {
		if p, ok := cfg.Providers[provider]; ok && !p.Disabled && p.APIKey != "" {
			cfg.Model = defaultProviderModels[provider]
			return
		}
	}
}

// ConfigFileUsed returns the path of the config file that was read, if any
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// ProviderOptions resolves the client options for a model id
func (c *Config) ProviderOptions(modelID string) (providers.Options, error) {
	if modelID == "" {
		modelID = c.Model
	}
	if modelID == "" {
		return providers.Options{}, errors.New("no model configured")
	}

	provider, model := providers.DetermineProvider(modelID)
	p := c.Providers[provider]
	if p.Disabled {
		return providers.Options{}, fmt.Errorf("%w: %s", ErrProviderDisabled, provider)
	}

	maxTokens := c.MaxTokens
	if mc := c.GetModelConfig(modelID); mc.MaxOutputTokens > 0 && (maxTokens <= 0 || maxTokens > mc.MaxOutputTokens) {
		maxTokens = mc.MaxOutputTokens
	}

	opts := providers.Options{
		Provider:  provider,
		Model:     model,
		APIKey:    p.APIKey,
		BaseURL:   p.BaseURL,
		MaxTokens: maxTokens,
	}
	if provider == providers.ProviderBedrock {
		opts.AWSRegion = p.Region
		if opts.AWSRegion == "" {
			opts.AWSRegion = os.Getenv("AWS_REGION")
		}
		opts.AWSAccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		opts.AWSSecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		opts.AWSSessionToken = os.Getenv("AWS_SESSION_TOKEN")
	}
	return opts, nil
}

// HasCredentials reports whether requests to the provider can be authenticated
func (c *Config) HasCredentials(provider string) bool {
	p, ok := c.Providers[provider]
	if ok && p.Disabled {
		return false
	}
	return !providers.RequiresAPIKey(provider) || p.APIKey != ""
}

// RouteModel returns the model for a task type. A routing rule is used only when its
// provider has credentials; otherwise the configured model is kept.
func (c *Config) RouteModel(task contextmgmt.TaskType) string {
	if !c.Routing.Enabled {
		return c.Model
	}
	routed := c.Routing.Rules[string(task)]
	if routed == "" {
		return c.Model
	}
	provider, _ := providers.DetermineProvider(routed)
	if !c.HasCredentials(provider) {
		return c.Model
	}
	return routed
}

// NewRateLimiter creates the per-provider limiter described by the config
func (c *Config) NewRateLimiter() *providers.RateLimiter {
	return providers.NewRateLimiter(
		providers.WithWindow(c.RateLimit.RequestsPerWindow, time.Duration(c.RateLimit.WindowSeconds)*time.Second),
		providers.WithSmoothing(c.RateLimit.RatePerSecond, c.RateLimit.Burst),
	)
}

// RetryPolicy returns the retry policy described by the config
func (c *Config) RetryPolicy() providers.RetryPolicy {
	policy := providers.DefaultRetryPolicy()
	if c.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.BaseDelayMs > 0 {
		policy.BaseDelay = time.Duration(c.Retry.BaseDelayMs) * time.Millisecond
	}
	if c.Retry.MaxDelayMs > 0 {
		policy.MaxDelay = time.Duration(c.Retry.MaxDelayMs) * time.Millisecond
	}
	return policy
}

// NewCircuitBreaker creates a breaker with the configured thresholds
func (c *Config) NewCircuitBreaker() *providers.CircuitBreaker {
	failures := c.Retry.BreakerFailures
	if failures <= 0 {
		failures = 5
	}
	reset := time.Duration(c.Retry.BreakerResetSeconds) * time.Second
	if reset <= 0 {
		reset = time.Minute
	}
	return providers.NewCircuitBreaker(failures, reset)
}

// ContextBudget returns the smart context token budget for a budget mode
func (c *Config) ContextBudget(mode contextmgmt.BudgetMode) int {
	if n, ok := c.Context.Budgets[string(mode)]; ok && n >= 0 {
		return n
	}
	switch mode {
	case contextmgmt.BudgetModeFull:
		return 4000
	case contextmgmt.BudgetModeCompact:
		return 1500
	default:
		return 500
	}
}

// PathManager returns the path manager for the configured data directory
func (c *Config) PathManager() *storage.PathManager {
	dir := c.Data.Directory
	if dir != "" && !filepath.IsAbs(dir) && c.WorkingDir != "" {
		dir = filepath.Join(c.WorkingDir, dir)
	}
	return storage.NewPathManager(dir)
}

// BudgetsPath returns the provider budget file location
func (c *Config) BudgetsPath() (string, error) {
	if c.Budget.File != "" {
		return c.Budget.File, nil
	}
	return c.PathManager().GetBudgetsPath()
}
