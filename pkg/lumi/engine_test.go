package lumi

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lumikid/lumi/pkg/exchange"
)

func assistStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat_about_image", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"object_label": "dog",
			"ai_response":  "Dogs are loyal.",
		})
	})
	mux.HandleFunc("/get_speech", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{0xFF, 0xFB})
	})
	return httptest.NewServer(mux)
}

func enginePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < 8; i++ {
		img.Set(i, i, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestEngineVoiceRoundTrip(t *testing.T) {
	srv := assistStub(t)
	defer srv.Close()

	cfg := Config{
		Environment: "test",
		LogLevel:    "error",
		Assist:      AssistConfig{BaseURL: srv.URL, TimeoutMS: 5000},
		Capture:     CaptureConfig{SampleRate: 16000, Language: "en", BufferBytes: 1600},
		Vendors: VendorsConfig{
			STT: VendorConfig{
				Provider: "mock",
				Settings: map[string]any{
					"transcript":         "What animal is this?",
					"interim_transcript": "What animal",
				},
			},
			Speaker: VendorConfig{Provider: "mock"},
		},
	}

	eng, err := NewEngine(EngineOptions{Config: cfg})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer func() { _ = eng.Drain() }()
	eng.Start()

	orch := eng.Session()
	if err := orch.SetImage(enginePNG(t)); err != nil {
		t.Fatalf("set image: %v", err)
	}
	if err := orch.StartVoice(); err != nil {
		t.Fatalf("start voice: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		records := orch.Transcript()
		if len(records) >= 2 {
			if records[0].Role != exchange.RoleUser || records[0].Text != "What animal is this?" {
				t.Fatalf("unexpected user record: %+v", records[0])
			}
			if records[1].Role != exchange.RoleAssistant || records[1].Text != "Dogs are loyal." {
				t.Fatalf("unexpected assistant record: %+v", records[1])
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("voice round trip never completed, transcript: %+v", orch.Transcript())
}
