package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every tunable of the service.
type Config struct {
	Server  ServerConfig
	Match   MatchConfig
	Session SessionConfig
	AI      AIConfig
	Store   StoreConfig
	Notify  NotifyConfig
	CORS    CORSConfig
}

// environment holds the scalar settings read straight from env vars.
type environment struct {
	Port           string        `env:"PORT,default=8080"`
	DBPath         string        `env:"DB_PATH,default=pairchat.db"`
	MaxWait        time.Duration `env:"MATCH_MAX_WAIT,default=5m"`
	PollInterval   time.Duration `env:"MATCH_POLL_INTERVAL,default=1s"`
	ChatDuration   time.Duration `env:"CHAT_DURATION,default=3m"`
	TimerTick      time.Duration `env:"CHAT_TIMER_TICK,default=1s"`
	OverflowURL    string        `env:"OVERFLOW_WEBHOOK_URL"`
	AllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS,default=*"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var envs environment
	if _, err := env.UnmarshalFromEnviron(&envs); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	server, err := serverConfig(envs.Port)
	if err != nil {
		return nil, err
	}

	match, err := loadMatchConfig(envs)
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig(envs)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Match:   match,
		Session: session,
		AI:      ai,
		Store:   StoreConfig{Path: envs.DBPath},
		Notify:  NotifyConfig{WebhookURL: strings.TrimSpace(envs.OverflowURL)},
		CORS:    CORSConfig{AllowedOrigins: splitList(envs.AllowedOrigins)},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func serverConfig(port string) (ServerConfig, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StoreConfig locates the SQLite database file.
type StoreConfig struct {
	Path string
}

// NotifyConfig configures the overflow webhook. An empty URL disables it.
type NotifyConfig struct {
	WebhookURL string
}

// CORSConfig lists the origins the browser client may call from.
type CORSConfig struct {
	AllowedOrigins []string
}

// LangPair is an unordered pair of declared languages.
type LangPair struct {
	A string
	B string
}

// Normalize lowercases both sides and orders them so that lookups are
// independent of which participant joined first.
func (p LangPair) Normalize() LangPair {
	a := strings.ToLower(strings.TrimSpace(p.A))
	b := strings.ToLower(strings.TrimSpace(p.B))
	if a > b {
		a, b = b, a
	}
	return LangPair{A: a, B: b}
}

// MatchConfig drives the pairing policy. Pair tables and thresholds are
// configuration, not behavior baked into the matcher.
type MatchConfig struct {
	// PriorityPairs are matched eagerly (experimental condition).
	PriorityPairs []LangPair
	// ControlPairs become eligible once a participant's wait exceeds
	// MaxWait, or immediately when ImmediateControl is set.
	ControlPairs     []LangPair
	ImmediateControl bool
	MaxWait          time.Duration
	PollInterval     time.Duration
	// Starters are the conversation openers; the chosen index is recorded
	// with the conversation.
	Starters []string
}

// SessionConfig bounds a single conversation.
type SessionConfig struct {
	ChatDuration time.Duration
	TimerTick    time.Duration
}

var defaultStarters = []string{
	"If you could live anywhere in the world, where would it be?",
	"What is a meal you could eat every day without getting tired of it?",
	"What was the last thing that made you laugh out loud?",
	"If you had a free day tomorrow, how would you spend it?",
}

func loadMatchConfig(envs environment) (MatchConfig, error) {
	if envs.MaxWait <= 0 {
		return MatchConfig{}, fmt.Errorf("MATCH_MAX_WAIT must be positive, got %s", envs.MaxWait)
	}
	if envs.PollInterval <= 0 {
		return MatchConfig{}, fmt.Errorf("MATCH_POLL_INTERVAL must be positive, got %s", envs.PollInterval)
	}

	priority, err := parsePairs(getEnvOrDefault("MATCH_PRIORITY_PAIRS",
		"english:chinese;english:spanish;chinese:spanish"))
	if err != nil {
		return MatchConfig{}, fmt.Errorf("MATCH_PRIORITY_PAIRS: %w", err)
	}

	control, err := parsePairs(getEnvOrDefault("MATCH_CONTROL_PAIRS",
		"english:english;chinese:chinese;spanish:spanish"))
	if err != nil {
		return MatchConfig{}, fmt.Errorf("MATCH_CONTROL_PAIRS: %w", err)
	}

	immediate, err := parseBoolEnv("MATCH_IMMEDIATE_CONTROL", false)
	if err != nil {
		return MatchConfig{}, err
	}

	starters := defaultStarters
	if raw := strings.TrimSpace(os.Getenv("STARTER_PROMPTS")); raw != "" {
		starters = splitOn(raw, ";")
	}
	if len(starters) == 0 {
		return MatchConfig{}, fmt.Errorf("STARTER_PROMPTS must keep at least one prompt")
	}

	return MatchConfig{
		PriorityPairs:    priority,
		ControlPairs:     control,
		ImmediateControl: immediate,
		MaxWait:          envs.MaxWait,
		PollInterval:     envs.PollInterval,
		Starters:         starters,
	}, nil
}

func loadSessionConfig(envs environment) (SessionConfig, error) {
	if envs.ChatDuration <= 0 {
		return SessionConfig{}, fmt.Errorf("CHAT_DURATION must be positive, got %s", envs.ChatDuration)
	}
	if envs.TimerTick <= 0 {
		return SessionConfig{}, fmt.Errorf("CHAT_TIMER_TICK must be positive, got %s", envs.TimerTick)
	}
	return SessionConfig{
		ChatDuration: envs.ChatDuration,
		TimerTick:    envs.TimerTick,
	}, nil
}

// parsePairs reads a "lang:lang;lang:lang" table.
func parsePairs(raw string) ([]LangPair, error) {
	var pairs []LangPair
	for _, item := range splitOn(raw, ";") {
		parts := strings.Split(item, ":")
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("malformed language pair %q, want lang:lang", item)
		}
		pairs = append(pairs, LangPair{A: parts[0], B: parts[1]}.Normalize())
	}
	return pairs, nil
}

// AIConfig configures the Ark chat model behind the translator.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials missing: provide ARK_API_KEY + ARK_MODEL, or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func splitList(raw string) []string {
	return splitOn(raw, ",")
}

func splitOn(raw, sep string) []string {
	var out []string
	for _, item := range strings.Split(raw, sep) {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
