// Package lumi assembles the session controller from configuration: capture,
// transcript, pipeline, playback, and the orchestrator binding them.
package lumi

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lumikid/lumi/pkg/adapters/audio"
	"github.com/lumikid/lumi/pkg/adapters/speaker"
	"github.com/lumikid/lumi/pkg/assist"
	"github.com/lumikid/lumi/pkg/capture"
	"github.com/lumikid/lumi/pkg/exchange"
	"github.com/lumikid/lumi/pkg/logging"
	"github.com/lumikid/lumi/pkg/metrics"
	"github.com/lumikid/lumi/pkg/observers"
	"github.com/lumikid/lumi/pkg/playback"
	"github.com/lumikid/lumi/pkg/providers/mock"
	"github.com/lumikid/lumi/pkg/session"
)

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Callbacks session.Callbacks

	// Host audio integration. Defaults to the mock device when the host
	// platform supplies nothing.
	InputDevice audio.InputDevice
	Authorizer  audio.Authorizer
}

// Engine owns one conversation session and its supporting services.
type Engine struct {
	cfg       Config
	orch      *session.Orchestrator
	mic       *capture.Session
	store     *exchange.Store
	archive   *exchange.Archive
	speaker   speaker.Speaker
	arbiter   *playback.Arbiter
	async     *metrics.AsyncObserver
	artifacts *os.File
	log       *slog.Logger
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	slog.Info("lumi_init",
		"environment", cfg.Environment,
		"stt_provider", cfg.Vendors.STT.Provider,
		"speaker_provider", cfg.Vendors.Speaker.Provider,
		"assist_base_url", cfg.Assist.BaseURL)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviderRegistry()
	}

	e := &Engine{
		cfg: cfg,
		log: logging.NewComponentLogger(logger, "engine"),
	}

	obsList := []metrics.Observer{observers.NewLoggerObserver(logger)}
	if dir := cfg.Observability.ArtifactsDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("artifacts dir: %w", err)
		}
		name := fmt.Sprintf("events-%s.jsonl", time.Now().Format("20060102-150405"))
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("artifacts file: %w", err)
		}
		e.artifacts = f
		obsList = append(obsList, metrics.NewJSONLObserver(f))
	}
	e.async = metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), cfg.Observability.EventBuffer)

	sessionID := uuid.New().String()
	recFactory, err := providers.BuildRecognizerFactory(cfg.Vendors.STT.Provider, cfg, sessionID)
	if err != nil {
		return nil, err
	}

	device := opts.InputDevice
	if device == nil {
		device = mock.NewInputDevice(mock.AudioConfig{FeedInterval: 100 * time.Millisecond})
	}
	authorizer := opts.Authorizer
	if authorizer == nil {
		authorizer = mock.Authorizer{Granted: true}
	}

	mic := capture.NewSession(device, authorizer, recFactory)
	mic.SetBufferSize(cfg.Capture.BufferBytes)
	mic.SetObserver(e.async)
	e.mic = mic

	spk, err := providers.BuildSpeaker(cfg.Vendors.Speaker.Provider, cfg)
	if err != nil {
		return nil, err
	}
	e.speaker = spk

	client := assist.NewClient(cfg.Assist.BaseURL, time.Duration(cfg.Assist.TimeoutMS)*time.Millisecond)

	e.arbiter = playback.NewArbiter(spk, client.Speech, nil)
	e.arbiter.SetObserver(e.async)

	if cfg.Archive.Enabled {
		archive, err := exchange.OpenArchive(cfg.Archive.Path)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		e.archive = archive
	}

	e.store = exchange.NewStore()
	e.orch = session.New(e.store, mic, client, e.arbiter, e.archive, opts.Callbacks)
	e.orch.SetObserver(e.async)

	return e, nil
}

// Session returns the orchestrator driving this engine.
func (e *Engine) Session() *session.Orchestrator { return e.orch }

// RequestMicrophoneAccess asks the host platform for capture permission.
func (e *Engine) RequestMicrophoneAccess(done func(granted bool)) {
	e.mic.RequestAuthorization(done)
}

func (e *Engine) Start() {
	e.orch.Start()
	e.log.Info("engine_started")
}

// Drain shuts the session down in dependency order.
func (e *Engine) Drain() error {
	e.orch.Close()
	e.arbiter.Stop()
	if e.speaker != nil {
		_ = e.speaker.Close()
	}
	if e.archive != nil {
		_ = e.archive.Close()
	}
	e.async.Close()
	if e.artifacts != nil {
		_ = e.artifacts.Close()
	}
	e.log.Info("engine_drained")
	return nil
}
