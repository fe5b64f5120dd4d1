package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"` // empty serves /metrics on the main listener
}

type HTTPConfig struct {
	Bind        string `yaml:"bind"`
	Port        int    `yaml:"port"`
	StaticDir   string `yaml:"static_dir"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Retry       RetryConfig      `yaml:"retry"`
	OpenAI      OpenAIConfig     `yaml:"openai"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Practice    PracticeConfig   `yaml:"practice"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// RetryConfig is the rate-limit retry policy applied to every provider call.
type RetryConfig struct {
	MaxRetries       int     `yaml:"max_retries"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier"`
}

type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Organization string `yaml:"organization"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type STTConfig struct {
	Mode     string `yaml:"mode"` // mock, exec, openai
	Command  string `yaml:"command"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, exec, ollama, openai
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, openai
	Command    string `yaml:"command"`
	Model      string `yaml:"model"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type PracticeConfig struct {
	DefaultLearner string `yaml:"default_learner"`
	HistoryLimit   int    `yaml:"history_limit"`
}

func Default() Config {
	return Config{
		RuntimeName: "ellie",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:        "0.0.0.0",
			Port:        3000,
			MaxUploadMB: 25,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: "",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/ellie.db",
			RetentionMode: "persistent",
			RetentionDays: 0,
			MaxSessions:   10000,
		},
		Retry: RetryConfig{
			MaxRetries:       3,
			InitialBackoffMS: 1000,
			Multiplier:       2,
		},
		OpenAI: OpenAIConfig{
			TimeoutMS: 60000,
		},
		STT: STTConfig{
			Mode:  "mock",
			Model: "whisper-1",
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "gpt-4",
			MaxTokens:   512,
			Temperature: 0.2,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Model:      "tts-1",
			Voice:      "alloy",
			SampleRate: 24000,
			Channels:   1,
		},
		Practice: PracticeConfig{
			DefaultLearner: "default",
			HistoryLimit:   100,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "ELLIE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "ELLIE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ELLIE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PORT")
	overrideInt(&cfg.HTTP.Port, "ELLIE_HTTP_PORT")
	overrideString(&cfg.HTTP.StaticDir, "ELLIE_HTTP_STATIC_DIR")
	overrideInt(&cfg.HTTP.MaxUploadMB, "ELLIE_HTTP_MAX_UPLOAD_MB")
	overrideString(&cfg.Telemetry.LogLevel, "ELLIE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ELLIE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ELLIE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "ELLIE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "ELLIE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "ELLIE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "ELLIE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "ELLIE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "ELLIE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ELLIE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ELLIE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ELLIE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ELLIE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ELLIE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "ELLIE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "ELLIE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "ELLIE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "ELLIE_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "ELLIE_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Retry.MaxRetries, "ELLIE_RETRY_MAX_RETRIES")
	overrideInt(&cfg.Retry.InitialBackoffMS, "ELLIE_RETRY_INITIAL_BACKOFF_MS")
	overrideFloat(&cfg.Retry.Multiplier, "ELLIE_RETRY_MULTIPLIER")
	overrideString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	overrideString(&cfg.OpenAI.APIKey, "ELLIE_OPENAI_API_KEY")
	overrideString(&cfg.OpenAI.BaseURL, "ELLIE_OPENAI_BASE_URL")
	overrideString(&cfg.OpenAI.Organization, "ELLIE_OPENAI_ORGANIZATION")
	overrideInt(&cfg.OpenAI.TimeoutMS, "ELLIE_OPENAI_TIMEOUT_MS")
	overrideString(&cfg.STT.Mode, "ELLIE_STT_MODE")
	overrideString(&cfg.STT.Command, "ELLIE_STT_COMMAND")
	overrideString(&cfg.STT.Model, "ELLIE_STT_MODEL")
	overrideString(&cfg.STT.Language, "ELLIE_STT_LANGUAGE")
	overrideString(&cfg.LLM.Mode, "ELLIE_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "ELLIE_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "ELLIE_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "ELLIE_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "ELLIE_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "ELLIE_LLM_TEMPERATURE")
	overrideString(&cfg.TTS.Mode, "ELLIE_TTS_MODE")
	overrideString(&cfg.TTS.Command, "ELLIE_TTS_COMMAND")
	overrideString(&cfg.TTS.Model, "ELLIE_TTS_MODEL")
	overrideString(&cfg.TTS.Voice, "ELLIE_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "ELLIE_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "ELLIE_TTS_CHANNELS")
	overrideString(&cfg.Practice.DefaultLearner, "ELLIE_PRACTICE_DEFAULT_LEARNER")
	overrideInt(&cfg.Practice.HistoryLimit, "ELLIE_PRACTICE_HISTORY_LIMIT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// validate reports every problem at once so a broken file can be fixed in
// one pass.
func validate(cfg Config) error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(cfg.RuntimeName != "", "runtime_name must not be empty")
	check(validPort(cfg.HTTP.Port), "http.port must be between 1 and 65535")
	check(cfg.HTTP.MaxUploadMB > 0, "http.max_upload_mb must be positive")
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			check(cfg.Bus.Port == 0 || validPort(cfg.Bus.Port), "bus.port must be 0 or between 1 and 65535 when embedded")
		} else {
			check(len(cfg.Bus.Servers) > 0, "bus.servers must not be empty when embedded mode is disabled")
		}
	}

	check(cfg.EventStore.Path != "" || cfg.EventStore.RetentionMode == "ephemeral", "event_store.path must not be empty")
	check(slices.Contains([]string{"ephemeral", "session", "persistent"}, cfg.EventStore.RetentionMode),
		"event_store.retention_mode must be one of ephemeral|session|persistent")
	check(cfg.EventStore.RetentionDays >= 0, "event_store.retention_days must be >= 0")
	check(cfg.EventStore.MaxSessions >= 0, "event_store.max_sessions must be >= 0")

	check(cfg.Retry.MaxRetries >= 0, "retry.max_retries must be >= 0")
	check(cfg.Retry.InitialBackoffMS > 0, "retry.initial_backoff_ms must be positive")
	check(cfg.Retry.Multiplier > 1, "retry.multiplier must be greater than 1")

	errs = append(errs,
		checkProvider("stt", cfg.STT.Mode, cfg.STT.Command, "mock", "exec", "openai"),
		checkProvider("llm", cfg.LLM.Mode, cfg.LLM.Command, "mock", "exec", "ollama", "openai"),
		checkProvider("tts", cfg.TTS.Mode, cfg.TTS.Command, "mock", "exec", "openai"),
	)
	usesOpenAI := cfg.STT.Mode == "openai" || cfg.LLM.Mode == "openai" || cfg.TTS.Mode == "openai"
	check(!usesOpenAI || cfg.OpenAI.APIKey != "", "openai.api_key (or OPENAI_API_KEY) must be set when a provider mode is openai")
	check(cfg.LLM.Mode != "ollama" || cfg.LLM.Endpoint != "", "llm.endpoint must be set when mode=ollama")
	check(cfg.LLM.MaxTokens >= 0, "llm.max_tokens must be >= 0")
	check(cfg.TTS.SampleRate > 0, "tts.sample_rate must be positive")
	check(cfg.TTS.Channels > 0, "tts.channels must be positive")

	check(strings.TrimSpace(cfg.Practice.DefaultLearner) != "", "practice.default_learner must not be empty")
	check(cfg.Practice.HistoryLimit >= 0, "practice.history_limit must be >= 0")
	return errors.Join(errs...)
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

func checkProvider(section, mode, command string, modes ...string) error {
	if !slices.Contains(modes, mode) {
		return fmt.Errorf("%s.mode must be one of %s", section, strings.Join(modes, "|"))
	}
	if mode == "exec" && strings.TrimSpace(command) == "" {
		return fmt.Errorf("%s.command must be set when mode=exec", section)
	}
	return nil
}
