// Package assist is the HTTP client for the remote assistant service. The
// service is opaque: labels are display-only and response text is never
// validated. Exactly one of reply or error comes back per submission; no
// call is retried automatically.
package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/lumikid/lumi/pkg/errorsx"
	"github.com/lumikid/lumi/pkg/logging"
)

// Reply is a successful assistant response.
type Reply struct {
	Label string
	Text  string
}

// ServerError is a structured error returned by the service; its message is
// rendered verbatim as an assistant message.
type ServerError struct {
	Message string
}

func (e ServerError) Error() string { return e.Message }

// ErrMalformedResponse marks a response body that could not be parsed.
var ErrMalformedResponse = errorsx.Wrap(errors.New("invalid response from assistant"), errorsx.ReasonAssistMalformed)

type wireResponse struct {
	ObjectLabel string `json:"object_label"`
	AIResponse  string `json:"ai_response"`
	Error       string `json:"error"`
}

// Client talks to the assistant endpoints. Safe for concurrent use;
// multiple submissions may be outstanding at once.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logging.NewComponentLogger(slog.Default(), "assist"),
	}
}

// Analyze submits an image without a question and returns its label plus an
// unprompted explanation.
func (c *Client) Analyze(ctx context.Context, imageJPEG []byte) (Reply, error) {
	return c.submit(ctx, "/analyze_image", imageJPEG, "")
}

// Ask submits an image with a question. The image bytes must be the context
// snapshot captured when the question was finalized, not a live reference.
func (c *Client) Ask(ctx context.Context, imageJPEG []byte, question string) (Reply, error) {
	return c.submit(ctx, "/chat_about_image", imageJPEG, question)
}

func (c *Client) submit(ctx context.Context, path string, imageJPEG []byte, question string) (Reply, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="photo.jpg"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return Reply{}, errorsx.Wrap(err, errorsx.ReasonAssistNetwork)
	}
	if _, err := part.Write(imageJPEG); err != nil {
		return Reply{}, errorsx.Wrap(err, errorsx.ReasonAssistNetwork)
	}
	if question != "" {
		if err := mw.WriteField("question", question); err != nil {
			return Reply{}, errorsx.Wrap(err, errorsx.ReasonAssistNetwork)
		}
	}
	if err := mw.Close(); err != nil {
		return Reply{}, errorsx.Wrap(err, errorsx.ReasonAssistNetwork)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return Reply{}, errorsx.Wrap(err, errorsx.ReasonAssistNetwork)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.log.Info("assist_submit", "path", path, "image_bytes", len(imageJPEG), "has_question", question != "")
	resp, err := c.http.Do(req)
	if err != nil {
		return Reply{}, errorsx.Wrap(fmt.Errorf("assistant unreachable: %w", err), errorsx.ReasonAssistNetwork)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Reply{}, errorsx.Wrap(err, errorsx.ReasonAssistNetwork)
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Reply{}, ErrMalformedResponse
	}
	if wire.Error != "" {
		return Reply{}, errorsx.Wrap(ServerError{Message: wire.Error}, errorsx.ReasonAssistServer)
	}
	if wire.AIResponse == "" {
		return Reply{}, ErrMalformedResponse
	}
	return Reply{Label: wire.ObjectLabel, Text: wire.AIResponse}, nil
}

// Speech fetches spoken audio for assistant text.
func (c *Client) Speech(ctx context.Context, text string) ([]byte, error) {
	endpoint := c.baseURL + "/get_speech?text=" + url.QueryEscape(text)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSpeechFetch)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSpeechFetch)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSpeechFetch)
	}
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "application/json") {
		var wire wireResponse
		if err := json.Unmarshal(raw, &wire); err == nil && wire.Error != "" {
			return nil, errorsx.Wrap(ServerError{Message: wire.Error}, errorsx.ReasonSpeechFetch)
		}
		return nil, errorsx.Wrap(errors.New("unexpected speech response"), errorsx.ReasonSpeechFetch)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorsx.Wrap(fmt.Errorf("speech status %d", resp.StatusCode), errorsx.ReasonSpeechFetch)
	}
	return raw, nil
}
