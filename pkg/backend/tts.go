package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/lumikid/lumi/pkg/logging"
)

// Synthesizer converts assistant text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type ElevenLabsConfig struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
}

// ElevenLabsTTS synthesizes one utterance per call over the stream-input
// websocket, collecting audio chunks until the service reports the final one.
type ElevenLabsTTS struct {
	cfg    ElevenLabsConfig
	dialer websocket.Dialer
	logger *slog.Logger
}

func NewElevenLabsTTS(cfg ElevenLabsConfig) *ElevenLabsTTS {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	return &ElevenLabsTTS{
		cfg:    cfg,
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment},
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (s *ElevenLabsTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return nil, errors.New("missing elevenlabs config")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty text")
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.buildURL(), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil {
			s.logger.Error("elevenlabs_connect_failed",
				slog.String("status", resp.Status))
		}
		return nil, err
	}
	defer conn.Close()

	send := func(payload map[string]any) error {
		return conn.WriteJSON(payload)
	}

	if err := send(map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
	}); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	if err := send(map[string]any{"text": text}); err != nil {
		return nil, err
	}
	// Empty text closes the generation; the service answers with the
	// remaining chunks and an isFinal marker.
	if err := send(map[string]any{"text": ""}); err != nil {
		return nil, err
	}

	var audio []byte
	for {
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetReadDeadline(deadline)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(audio) > 0 {
				return audio, nil
			}
			return nil, err
		}

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("elevenlabs_raw_message", slog.String("data", string(data)))
			continue
		}
		if chunk, ok := msg["audio"].(string); ok && chunk != "" {
			raw, err := base64.StdEncoding.DecodeString(chunk)
			if err != nil {
				s.logger.Error("elevenlabs_audio_decode_error", slog.String("error", err.Error()))
				continue
			}
			audio = append(audio, raw...)
		}
		if final, ok := msg["isFinal"].(bool); ok && final {
			return audio, nil
		}
	}
}

func (s *ElevenLabsTTS) buildURL() string {
	base := "wss://api.elevenlabs.io/v1/text-to-speech/" + s.cfg.VoiceID + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	return base + "?" + q.Encode()
}
