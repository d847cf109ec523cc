package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/lokutor-ai/esperanto-captions/pkg/audio"
	"github.com/lokutor-ai/esperanto-captions/pkg/caption"
	"github.com/lokutor-ai/esperanto-captions/pkg/config"
	"github.com/lokutor-ai/esperanto-captions/pkg/discord"
	"github.com/lokutor-ai/esperanto-captions/pkg/pipeline"
	"github.com/lokutor-ai/esperanto-captions/pkg/recognizer"
	"github.com/lokutor-ai/esperanto-captions/pkg/telemetry"
	"github.com/lokutor-ai/esperanto-captions/pkg/transcript"
	"github.com/lokutor-ai/esperanto-captions/pkg/transcriptlog"
	"github.com/lokutor-ai/esperanto-captions/pkg/translation"
	"github.com/lokutor-ai/esperanto-captions/pkg/webboard"
)

const (
	exitOK          = 0
	exitConfigError = 2
	exitFatal       = 3
	exitSigint      = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	listDevices := flag.Bool("list-devices", false, "enumerate audio devices and exit")
	showConfig := flag.Bool("show-config", false, "print the effective configuration (secrets masked) and exit")
	diagnoseAudio := flag.Bool("diagnose-audio", false, "run an audio device check and print a report")
	backendOverride := flag.String("backend", "", "override TRANSCRIPTION_BACKEND")
	logLevel := flag.String("log-level", "", "override LOG_LEVEL")
	logFile := flag.String("log-file", "", "override LOG_FILE")
	flag.Parse()

	if *listDevices {
		return cmdListDevices()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfigError
	}
	if *backendOverride != "" {
		cfg.TranscriptionBackend = config.Backend(*backendOverride)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}

	if *showConfig {
		return cmdShowConfig(cfg)
	}

	logger, err := telemetry.NewSlogLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return exitConfigError
	}

	if *diagnoseAudio {
		return cmdDiagnoseAudio(cfg, logger)
	}

	return runPipeline(cfg, logger)
}

func cmdListDevices() int {
	devices, err := audio.ListDevices()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to enumerate devices:", err)
		return exitFatal
	}
	for _, d := range devices {
		kind := "capture"
		if d.Loopback {
			kind = "loopback"
		}
		def := ""
		if d.IsDefault {
			def = " (default)"
		}
		fmt.Printf("[%d] %s %s%s\n", d.Index, kind, d.Name, def)
	}
	return exitOK
}

func cmdShowConfig(cfg config.Config) int {
	out, err := config.MaskedJSON(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to render config:", err)
		return exitFatal
	}
	fmt.Println(string(out))
	return exitOK
}

func cmdDiagnoseAudio(cfg config.Config, logger telemetry.Logger) int {
	devices, err := audio.ListDevices()
	if err != nil {
		fmt.Fprintln(os.Stderr, "audio diagnosis failed:", err)
		return exitFatal
	}
	if len(devices) == 0 {
		fmt.Println("no capture or loopback-capable devices found")
		return exitOK
	}
	fmt.Printf("found %d device(s):\n", len(devices))
	for _, d := range devices {
		fmt.Printf("  [%d] %s loopback=%v default=%v\n", d.Index, d.Name, d.Loopback, d.IsDefault)
	}

	src, err := buildAudioSource(cfg, logger, telemetry.NewNoop())
	if err != nil {
		fmt.Fprintln(os.Stderr, "audio diagnosis: could not open a device:", err)
		return exitFatal
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := src.Start(ctx, "diagnose"); err != nil {
		fmt.Fprintln(os.Stderr, "audio diagnosis: failed to start capture:", err)
		return exitFatal
	}

	var pcm []byte
	for {
		select {
		case frame := <-src.Frames():
			pcm = append(pcm, frame.PCM...)
		case <-ctx.Done():
			src.Stop()
			return writeDiagnosticWAV(pcm, cfg.AudioSampleRate)
		}
	}
}

func writeDiagnosticWAV(pcm []byte, sampleRate int) int {
	if len(pcm) == 0 {
		fmt.Println("captured no audio in the sample window; check device selection")
		return exitOK
	}
	wav := audio.NewWavBuffer(pcm, sampleRate)
	path := fmt.Sprintf("%s/captioner-diagnose-audio.wav", os.TempDir())
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "audio diagnosis: failed to write sample:", err)
		return exitFatal
	}
	fmt.Printf("wrote %d bytes of captured audio to %s\n", len(pcm), path)
	return exitOK
}

func runPipeline(cfg config.Config, logger telemetry.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *telemetry.Metrics
	if cfg.OtelMetricsEnabled {
		m, shutdownMetrics, err := telemetry.InitPrometheus(ctx, "esperanto-captions", fmt.Sprintf(":%d", cfg.OtelPrometheusPort))
		if err != nil {
			logger.Error("telemetry: failed to start prometheus exporter", "error", err)
			return exitConfigError
		}
		defer shutdownMetrics(context.Background())
		metrics = m
	} else {
		metrics = telemetry.NewNoop()
	}

	src, err := buildAudioSource(cfg, logger, metrics)
	if err != nil {
		logger.Error("config: audio source", "error", err)
		return exitConfigError
	}

	backend, err := buildRecognizer(cfg, logger, metrics)
	if err != nil {
		logger.Error("config: recognizer backend", "error", err)
		return exitConfigError
	}

	var translator *translation.Service
	if cfg.TranslationEnabled {
		targets := make([]transcript.Language, 0, len(cfg.TranslationTargets))
		for _, t := range cfg.TranslationTargets {
			targets = append(targets, transcript.Language(t))
		}
		gemini, err := translation.NewGeminiTranslator(ctx, cfg.TranslationAPIKey, "gemini-2.5-flash", "gemini-2.0-flash")
		if err != nil {
			logger.Error("config: translation provider", "error", err)
			return exitConfigError
		}
		translator = translation.NewService(gemini, cfg.TranslationSourceLanguage, targets, cfg.TranslationTimeout, logger, metrics)
	}

	captionURL := cfg.CaptionPostURL
	if !cfg.CaptionEnabled {
		captionURL = ""
	}
	poster := caption.New(captionURL, cfg.CaptionMinPostInterval, logger, metrics)

	var transcriptLogPath string
	if cfg.TranscriptLogEnabled {
		transcriptLogPath = cfg.TranscriptLogPath
	}
	tlog, err := transcriptlog.Open(transcriptLogPath)
	if err != nil {
		logger.Error("config: transcript log", "error", err)
		return exitConfigError
	}

	boardCfg := webboard.Config{
		Targets:           cfg.TranslationTargets,
		DefaultVisibility: cfg.TranslationDefaultVisibility,
	}
	board := webboard.New(boardCfg, nil, logger, metrics)
	if cfg.WebUIEnabled && cfg.WebUIOpenBrowser {
		go openBrowser(fmt.Sprintf("http://localhost:%d/", cfg.WebUIPort))
	}

	var webhookID, webhookToken string
	if cfg.WebhookEnabled {
		webhookID, webhookToken = parseWebhookURL(cfg.WebhookURL)
	}
	langLabels := map[transcript.Language]string{
		transcript.LanguageEn: "English",
		transcript.LanguageJa: "Japanese",
		transcript.LanguageKo: "Korean",
		transcript.LanguageFr: "French",
		transcript.LanguageDe: "German",
		transcript.LanguageEs: "Spanish",
	}
	batcher, err := discord.New(webhookID, webhookToken, cfg.WebhookFlushInterval, cfg.WebhookMaxChars, langLabels, logger, metrics)
	if err != nil {
		logger.Error("config: discord batcher", "error", err)
		return exitConfigError
	}

	p := pipeline.New(pipeline.Components{
		Source:     src,
		Backend:    backend,
		Translator: translator,
		Poster:     poster,
		Log:        tlog,
		Board:      board,
		BoardAddr:  fmt.Sprintf(":%d", cfg.WebUIPort),
		Discord:    batcher,
	}, logger, metrics)

	if err := p.Run(ctx); err != nil {
		logger.Error("pipeline: fatal error", "error", err)
		return exitFatal
	}

	if ctx.Err() != nil {
		return exitSigint
	}
	return exitOK
}

func buildAudioSource(cfg config.Config, logger telemetry.Logger, metrics *telemetry.Metrics) (*audio.Source, error) {
	ac := audio.DefaultConfig()
	ac.DeviceIndex = cfg.AudioDeviceIndex
	ac.DeviceNameSubstr = cfg.AudioDeviceNameSubstr
	ac.Loopback = cfg.AudioLoopback
	ac.SampleRate = cfg.AudioSampleRate
	ac.DeviceSampleRate = cfg.AudioDeviceSampleRate
	ac.Channels = cfg.AudioChannels
	ac.ChunkDuration = time.Duration(cfg.AudioChunkDurationSecs * float64(time.Second))
	ac.CheckInterval = cfg.AudioDeviceCheckInterval
	return audio.New(ac, logger, metrics)
}

func buildRecognizer(cfg config.Config, logger telemetry.Logger, metrics *telemetry.Metrics) (recognizer.Backend, error) {
	switch cfg.TranscriptionBackend {
	case config.BackendCloud:
		return recognizer.NewCloud(cfg.CloudAPIKey, cfg.CloudConnectURL, "", cfg.CloudLanguage, time.Second, cfg.AudioSampleRate, logger, metrics), nil
	case config.BackendLocalOffline:
		return recognizer.NewLocalOffline(cfg.LocalModelPath, cfg.CloudLanguage, cfg.AudioSampleRate, logger, metrics)
	case config.BackendLocalLarge:
		return recognizer.NewLocalLarge(recognizer.LocalLargeOptions{
			ModelPath:     cfg.LocalModelPath,
			Vocab:         defaultEsperantoVocab(),
			WindowSamples: cfg.AudioSampleRate * 6,
		}, logger, metrics)
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.TranscriptionBackend)
	}
}

// parseWebhookURL extracts the id/token pair from a Discord webhook URL of
// the form https://discord.com/api/webhooks/<id>/<token>.
func parseWebhookURL(url string) (id, token string) {
	const marker = "/webhooks/"
	_, rest, ok := strings.Cut(url, marker)
	if !ok {
		return "", ""
	}
	id, token, ok = strings.Cut(rest, "/")
	if !ok {
		return "", ""
	}
	return id, token
}

func defaultEsperantoVocab() []string {
	return []string{"<blank>", " ", "a", "b", "c", "ĉ", "d", "e", "f", "g", "ĝ", "h", "ĥ", "i", "j", "ĵ", "k", "l", "m", "n", "o", "p", "r", "s", "ŝ", "t", "u", "ŭ", "v", "z"}
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	_ = cmd.Start()
}
