package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// Labeler identifies the main object in a JPEG image.
type Labeler interface {
	Label(ctx context.Context, imageJPEG []byte) (string, error)
}

// HTTPLabeler delegates classification to a remote service that accepts a
// multipart image and returns {"label": "..."}.
type HTTPLabeler struct {
	URL        string
	HTTPClient *http.Client
}

func NewHTTPLabeler(url string) *HTTPLabeler {
	return &HTTPLabeler{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (l *HTTPLabeler) Label(ctx context.Context, imageJPEG []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="photo.jpg"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(hdr)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(imageJPEG); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.URL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := l.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("labeler error: status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Label == "" {
		return "", fmt.Errorf("labeler returned empty label")
	}
	return out.Label, nil
}

// StaticLabeler always returns the same label, for development mode.
type StaticLabeler struct {
	Value string
}

func (l StaticLabeler) Label(context.Context, []byte) (string, error) {
	if l.Value == "" {
		return "object", nil
	}
	return l.Value, nil
}
