package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeLabeler struct {
	label string
	err   error
	got   []byte
}

func (l *fakeLabeler) Label(_ context.Context, imageJPEG []byte) (string, error) {
	l.got = imageJPEG
	return l.label, l.err
}

type fakeResponder struct {
	text        string
	err         error
	gotLabel    string
	gotQuestion string
}

func (r *fakeResponder) Respond(_ context.Context, label, question string) (string, error) {
	r.gotLabel = label
	r.gotQuestion = question
	return r.text, r.err
}

type fakeSynth struct {
	audio []byte
	err   error
	got   string
}

func (s *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.got = text
	return s.audio, s.err
}

func multipartImage(t *testing.T, question string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "photo.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("jpeg-bytes")); err != nil {
		t.Fatalf("write image: %v", err)
	}
	if question != "" {
		if err := w.WriteField("question", question); err != nil {
			t.Fatalf("write question: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, w.FormDataContentType()
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := map[string]string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return out
}

func TestAnalyzeImageLabelsAndResponds(t *testing.T) {
	labeler := &fakeLabeler{label: "cat"}
	responder := &fakeResponder{text: "Cats are mammals."}
	srv := NewServer(":0", labeler, responder, &fakeSynth{})

	body, contentType := multipartImage(t, "")
	req := httptest.NewRequest(http.MethodPost, "/analyze_image", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	out := decodeJSON(t, resp)
	if out["object_label"] != "cat" || out["ai_response"] != "Cats are mammals." {
		t.Fatalf("unexpected response: %v", out)
	}
	if string(labeler.got) != "jpeg-bytes" {
		t.Fatalf("labeler did not receive the uploaded image")
	}
	if responder.gotQuestion != "" {
		t.Fatalf("analyze must not carry a question, got %q", responder.gotQuestion)
	}
}

func TestChatAboutImagePassesQuestion(t *testing.T) {
	responder := &fakeResponder{text: "Because of chlorophyll."}
	srv := NewServer(":0", &fakeLabeler{label: "leaf"}, responder, &fakeSynth{})

	body, contentType := multipartImage(t, "Why is it green?")
	req := httptest.NewRequest(http.MethodPost, "/chat_about_image", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if responder.gotLabel != "leaf" || responder.gotQuestion != "Why is it green?" {
		t.Fatalf("responder got label=%q question=%q", responder.gotLabel, responder.gotQuestion)
	}
}

func TestChatAboutImageRequiresQuestion(t *testing.T) {
	srv := NewServer(":0", &fakeLabeler{label: "leaf"}, &fakeResponder{}, &fakeSynth{})

	body, contentType := multipartImage(t, "")
	req := httptest.NewRequest(http.MethodPost, "/chat_about_image", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if out := decodeJSON(t, resp); out["error"] == "" {
		t.Fatalf("expected error field")
	}
}

func TestAnalyzeImageMissingFilePart(t *testing.T) {
	srv := NewServer(":0", &fakeLabeler{label: "cat"}, &fakeResponder{}, &fakeSynth{})

	req := httptest.NewRequest(http.MethodPost, "/analyze_image", bytes.NewBufferString("not multipart"))
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestResponderFailureReturnsErrorField(t *testing.T) {
	responder := &fakeResponder{err: errors.New("upstream timeout")}
	srv := NewServer(":0", &fakeLabeler{label: "cat"}, responder, &fakeSynth{})

	body, contentType := multipartImage(t, "")
	req := httptest.NewRequest(http.MethodPost, "/analyze_image", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d", resp.StatusCode)
	}
	out := decodeJSON(t, resp)
	if out["error"] == "" {
		t.Fatalf("expected error field, got %v", out)
	}
}

func TestGetSpeechStreamsAudio(t *testing.T) {
	synth := &fakeSynth{audio: []byte{0xFF, 0xFB, 0x01}}
	srv := NewServer(":0", &fakeLabeler{}, &fakeResponder{}, synth)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/get_speech?text=%s", "Cats+are+mammals."), nil)
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("content type %q", ct)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(raw, synth.audio) {
		t.Fatalf("audio bytes mismatch")
	}
	if synth.got != "Cats are mammals." {
		t.Fatalf("synthesizer got %q", synth.got)
	}
}

func TestGetSpeechRequiresText(t *testing.T) {
	srv := NewServer(":0", &fakeLabeler{}, &fakeResponder{}, &fakeSynth{})

	req := httptest.NewRequest(http.MethodPost, "/get_speech", nil)
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
