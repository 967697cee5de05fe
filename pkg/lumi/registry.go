package lumi

import (
	"fmt"
	"strings"

	"github.com/lumikid/lumi/pkg/adapters/speaker"
	"github.com/lumikid/lumi/pkg/adapters/stt"
	"github.com/lumikid/lumi/pkg/configutil"
	"github.com/lumikid/lumi/pkg/providers/deepgram"
	"github.com/lumikid/lumi/pkg/providers/mock"
)

type RecognizerFactoryBuilder func(cfg Config, sessionID string) (func() stt.Recognizer, error)
type SpeakerFactory func(cfg Config) (speaker.Speaker, error)

// ProviderRegistry maps vendor names from config to concrete providers.
type ProviderRegistry struct {
	stt      map[string]RecognizerFactoryBuilder
	speakers map[string]SpeakerFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt:      make(map[string]RecognizerFactoryBuilder),
		speakers: make(map[string]SpeakerFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, builder RecognizerFactoryBuilder) {
	r.stt[strings.ToLower(strings.TrimSpace(name))] = builder
}

func (r *ProviderRegistry) RegisterSpeaker(name string, factory SpeakerFactory) {
	r.speakers[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildRecognizerFactory(provider string, cfg Config, sessionID string) (func() stt.Recognizer, error) {
	fn := r.stt[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(cfg, sessionID)
}

func (r *ProviderRegistry) BuildSpeaker(provider string, cfg Config) (speaker.Speaker, error) {
	fn := r.speakers[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("speaker provider not registered: %s", provider)
	}
	return fn(cfg)
}

// DefaultProviderRegistry registers the built-in providers.
func DefaultProviderRegistry() *ProviderRegistry {
	r := NewProviderRegistry()

	r.RegisterSTT("deepgram", func(cfg Config, sessionID string) (func() stt.Recognizer, error) {
		if err := configutil.ValidateSettings(cfg.Vendors.STT.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "interim"},
		}); err != nil {
			return nil, fmt.Errorf("deepgram settings: %w", err)
		}
		var settings struct {
			APIKey  string `mapstructure:"api_key"`
			Model   string `mapstructure:"model"`
			Interim *bool  `mapstructure:"interim"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
			return nil, fmt.Errorf("deepgram settings: %w", err)
		}
		interim := true
		if settings.Interim != nil {
			interim = *settings.Interim
		}
		return func() stt.Recognizer {
			return deepgram.New(deepgram.Config{
				APIKey:     settings.APIKey,
				Model:      settings.Model,
				Language:   cfg.Capture.Language,
				SampleRate: cfg.Capture.SampleRate,
				Interim:    interim,
				SessionID:  sessionID,
			})
		}, nil
	})

	r.RegisterSTT("mock", func(cfg Config, sessionID string) (func() stt.Recognizer, error) {
		var settings struct {
			Transcript string `mapstructure:"transcript"`
			Interim    string `mapstructure:"interim_transcript"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
			return nil, fmt.Errorf("mock stt settings: %w", err)
		}
		return func() stt.Recognizer {
			return mock.NewRecognizer(mock.STTConfig{
				SessionID:         sessionID,
				Transcript:        settings.Transcript,
				InterimTranscript: settings.Interim,
				EmitInterim:       settings.Interim != "",
			})
		}, nil
	})

	r.RegisterSpeaker("mock", func(cfg Config) (speaker.Speaker, error) {
		var settings struct {
			BytesPerSecond *int `mapstructure:"bytes_per_second"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.Speaker.Settings, &settings); err != nil {
			return nil, fmt.Errorf("mock speaker settings: %w", err)
		}
		return &mock.Speaker{BytesPerSecond: configutil.IntValue(settings.BytesPerSecond, 32000)}, nil
	})

	return r
}
