// Package config loads the pipeline's external configuration: environment
// variables (optionally from a .env file, the teacher's own idiom), an
// optional YAML file for keys not set in the environment, and validates the
// result before the pipeline starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend selects a RecognizerBackend implementation.
type Backend string

const (
	BackendCloud        Backend = "cloud"
	BackendLocalOffline  Backend = "local_offline"
	BackendLocalLarge    Backend = "local_large"
)

// Config is every externally configurable knob from spec.md §6, with
// defaults applied by Load.
type Config struct {
	TranscriptionBackend Backend `yaml:"transcription_backend" validate:"oneof=cloud local_offline local_large"`

	AudioDeviceIndex        string  `yaml:"audio_device_index"`
	AudioDeviceNameSubstr   string  `yaml:"audio_device_name_substr"`
	AudioLoopback           bool    `yaml:"audio_loopback"`
	AudioSampleRate         int     `yaml:"audio_sample_rate" validate:"gt=0"`
	AudioDeviceSampleRate   int     `yaml:"audio_device_sample_rate" validate:"gt=0"`
	AudioChannels           int     `yaml:"audio_channels" validate:"eq=1"`
	AudioChunkDurationSecs  float64 `yaml:"audio_chunk_duration_seconds" validate:"gt=0"`
	AudioDeviceCheckInterval time.Duration `yaml:"-"`

	CloudAPIKey     string `yaml:"-" secret:"true"`
	CloudConnectURL string `yaml:"cloud_connection_url"`
	CloudLanguage   string `yaml:"cloud_language"`

	LocalModelPath      string `yaml:"local_model_path"`
	LocalLargeModelSize string `yaml:"local_large_model_size"`

	CaptionEnabled         bool          `yaml:"caption_enabled"`
	CaptionPostURL         string        `yaml:"caption_post_url" secret:"true"`
	CaptionMinPostInterval time.Duration `yaml:"-"`

	TranscriptLogEnabled bool   `yaml:"transcript_log_enabled"`
	TranscriptLogPath    string `yaml:"transcript_log_path"`

	WebUIEnabled     bool `yaml:"web_ui_enabled"`
	WebUIPort        int  `yaml:"web_ui_port" validate:"gt=0,lt=65536"`
	WebUIOpenBrowser bool `yaml:"web_ui_open_browser"`

	TranslationEnabled           bool          `yaml:"translation_enabled"`
	TranslationProvider          string        `yaml:"translation_provider"`
	TranslationSourceLanguage    string        `yaml:"translation_source_language"`
	TranslationTargets           []string      `yaml:"translation_targets"`
	TranslationDefaultVisibility map[string]bool `yaml:"translation_default_visibility"`
	TranslationTimeout           time.Duration `yaml:"-"`
	TranslationAPIKey            string        `yaml:"-" secret:"true"`

	WebhookEnabled      bool          `yaml:"webhook_enabled"`
	WebhookURL          string        `yaml:"webhook_url" secret:"true"`
	WebhookFlushInterval time.Duration `yaml:"-"`
	WebhookMaxChars     int           `yaml:"webhook_max_chars" validate:"gt=0"`

	OtelMetricsEnabled bool   `yaml:"otel_metrics_enabled"`
	OtelPrometheusPort int    `yaml:"otel_prometheus_port" validate:"gt=0,lt=65536"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// DefaultConfig returns the defaults listed in spec.md §6.
func DefaultConfig() Config {
	return Config{
		TranscriptionBackend:     BackendCloud,
		AudioSampleRate:          16000,
		AudioDeviceSampleRate:    16000,
		AudioChannels:            1,
		AudioChunkDurationSecs:   0.5,
		AudioDeviceCheckInterval: 2 * time.Second,
		CaptionMinPostInterval:   1 * time.Second,
		WebUIEnabled:             true,
		WebUIPort:                8765,
		TranslationTimeout:       8 * time.Second,
		WebhookFlushInterval:     2 * time.Second,
		WebhookMaxChars:          350,
		OtelPrometheusPort:       9464,
		LogLevel:                "info",
	}
}

// Load reads a .env file (if present), applies environment overrides on top
// of DefaultConfig, merges in a YAML file named by CAPTIONER_CONFIG_FILE for
// any key the environment didn't set, then validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		// No .env file is the common case outside development; not fatal.
	}

	cfg := DefaultConfig()

	if path := os.Getenv("CAPTIONER_CONFIG_FILE"); path != "" {
		if err := mergeYAMLFile(&cfg, path); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func mergeYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	strVar(&cfg.AudioDeviceIndex, "AUDIO_DEVICE_INDEX")
	boolVar(&cfg.AudioLoopback, "AUDIO_LOOPBACK")
	intVar(&cfg.AudioSampleRate, "AUDIO_SAMPLE_RATE")
	intVar(&cfg.AudioDeviceSampleRate, "AUDIO_DEVICE_SAMPLE_RATE")
	intVar(&cfg.AudioChannels, "AUDIO_CHANNELS")
	floatVar(&cfg.AudioChunkDurationSecs, "AUDIO_CHUNK_DURATION_SECONDS")
	durationSecsVar(&cfg.AudioDeviceCheckInterval, "AUDIO_DEVICE_CHECK_INTERVAL")

	if v, ok := os.LookupEnv("TRANSCRIPTION_BACKEND"); ok {
		cfg.TranscriptionBackend = Backend(v)
	}

	strVar(&cfg.CloudAPIKey, "CLOUD_API_KEY")
	strVar(&cfg.CloudConnectURL, "CLOUD_CONNECTION_URL")
	strVar(&cfg.CloudLanguage, "CLOUD_LANGUAGE")

	strVar(&cfg.LocalModelPath, "LOCAL_MODEL_PATH")
	strVar(&cfg.LocalLargeModelSize, "LOCAL_LARGE_MODEL_SIZE")

	boolVar(&cfg.CaptionEnabled, "CAPTION_ENABLED")
	strVar(&cfg.CaptionPostURL, "CAPTION_POST_URL")
	durationSecsVar(&cfg.CaptionMinPostInterval, "CAPTION_MIN_POST_INTERVAL_SECONDS")

	boolVar(&cfg.TranscriptLogEnabled, "TRANSCRIPT_LOG_ENABLED")
	strVar(&cfg.TranscriptLogPath, "TRANSCRIPT_LOG_PATH")

	boolVar(&cfg.WebUIEnabled, "WEB_UI_ENABLED")
	intVar(&cfg.WebUIPort, "WEB_UI_PORT")
	boolVar(&cfg.WebUIOpenBrowser, "WEB_UI_OPEN_BROWSER")

	boolVar(&cfg.TranslationEnabled, "TRANSLATION_ENABLED")
	strVar(&cfg.TranslationProvider, "TRANSLATION_PROVIDER")
	strVar(&cfg.TranslationSourceLanguage, "TRANSLATION_SOURCE_LANGUAGE")
	if v, ok := os.LookupEnv("TRANSLATION_TARGETS"); ok {
		cfg.TranslationTargets = splitCSV(v)
	}
	durationSecsVar(&cfg.TranslationTimeout, "TRANSLATION_TIMEOUT_SECONDS")
	strVar(&cfg.TranslationAPIKey, "TRANSLATION_API_KEY")

	boolVar(&cfg.WebhookEnabled, "WEBHOOK_ENABLED")
	strVar(&cfg.WebhookURL, "WEBHOOK_URL")
	durationSecsVar(&cfg.WebhookFlushInterval, "WEBHOOK_FLUSH_INTERVAL")
	intVar(&cfg.WebhookMaxChars, "WEBHOOK_MAX_CHARS")

	boolVar(&cfg.OtelMetricsEnabled, "OTEL_METRICS_ENABLED")
	intVar(&cfg.OtelPrometheusPort, "OTEL_PROMETHEUS_PORT")

	strVar(&cfg.LogLevel, "LOG_LEVEL")
	strVar(&cfg.LogFile, "LOG_FILE")
}

func strVar(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func boolVar(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v == "1" || v == "true" || v == "yes"
	}
}

func intVar(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatVar(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func durationSecsVar(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(f * float64(time.Second))
		}
	}
}

func splitCSV(v string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}
