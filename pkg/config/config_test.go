package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.TranscriptionBackend != BackendCloud {
		t.Errorf("backend default = %v, want cloud", cfg.TranscriptionBackend)
	}
	if cfg.AudioSampleRate != 16000 {
		t.Errorf("sample rate default = %d, want 16000", cfg.AudioSampleRate)
	}
	if cfg.WebUIPort != 8765 {
		t.Errorf("web ui port default = %d, want 8765", cfg.WebUIPort)
	}
	if cfg.CaptionMinPostInterval != time.Second {
		t.Errorf("caption interval default = %v, want 1s", cfg.CaptionMinPostInterval)
	}
	if cfg.WebhookMaxChars != 350 {
		t.Errorf("webhook max chars default = %d, want 350", cfg.WebhookMaxChars)
	}
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	clearEnv(t, "TRANSCRIPTION_BACKEND", "AUDIO_SAMPLE_RATE", "TRANSLATION_TARGETS", "WEBHOOK_FLUSH_INTERVAL")
	os.Setenv("TRANSCRIPTION_BACKEND", "local_offline")
	os.Setenv("AUDIO_SAMPLE_RATE", "44100")
	os.Setenv("TRANSLATION_TARGETS", "ja,ko")
	os.Setenv("WEBHOOK_FLUSH_INTERVAL", "3.5")

	cfg := DefaultConfig()
	applyEnv(&cfg)

	if cfg.TranscriptionBackend != BackendLocalOffline {
		t.Errorf("backend = %v, want local_offline", cfg.TranscriptionBackend)
	}
	if cfg.AudioSampleRate != 44100 {
		t.Errorf("sample rate = %d, want 44100", cfg.AudioSampleRate)
	}
	if len(cfg.TranslationTargets) != 2 || cfg.TranslationTargets[0] != "ja" || cfg.TranslationTargets[1] != "ko" {
		t.Errorf("targets = %v, want [ja ko]", cfg.TranslationTargets)
	}
	if cfg.WebhookFlushInterval != 3500*time.Millisecond {
		t.Errorf("flush interval = %v, want 3.5s", cfg.WebhookFlushInterval)
	}
}

func TestLoadRejectsInvalidBackend(t *testing.T) {
	clearEnv(t, "TRANSCRIPTION_BACKEND", "CAPTIONER_CONFIG_FILE")
	os.Setenv("TRANSCRIPTION_BACKEND", "carrier_pigeon")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for unknown backend")
	}
}

func TestMaskedJSONRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CloudAPIKey = "super-secret"
	cfg.WebhookURL = "https://discord.com/api/webhooks/x/y"

	out, err := MaskedJSON(cfg)
	if err != nil {
		t.Fatalf("MaskedJSON: %v", err)
	}
	s := string(out)
	if contains(s, "super-secret") || contains(s, "discord.com/api/webhooks") {
		t.Errorf("expected secrets to be redacted, got: %s", s)
	}
	if !contains(s, "***redacted***") {
		t.Errorf("expected redaction marker in output, got: %s", s)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
