package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	groqEndpoint = "https://api.groq.com/openai/v1/chat/completions"
	groqModel    = "llama-3.1-8b-instant"

	tutorSystemPrompt = "You are a friendly, educational tutor for kids. " +
		"Explain concepts simply and accurately. Keep answers concise."
)

// GroqClient generates kid-friendly explanations through Groq's
// OpenAI-compatible chat completions API.
type GroqClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	Endpoint   string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

func NewGroqClient(apiKey string) *GroqClient {
	return &GroqClient{
		HTTPClient: &http.Client{Timeout: 45 * time.Second},
		APIKey:     apiKey,
		Model:      groqModel,
		Endpoint:   groqEndpoint,
	}
}

// Respond answers a question about a labeled image, or teaches something
// about it when question is empty.
func (c *GroqClient) Respond(ctx context.Context, label, question string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("groq api key missing")
	}

	messages := []chatMessage{
		{Role: "system", Content: tutorSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("The image contains: %s.", label)},
	}
	if question != "" {
		messages = append(messages, chatMessage{Role: "user", Content: fmt.Sprintf("Question about this image: %s", question)})
	} else {
		messages = append(messages, chatMessage{Role: "user", Content: "Teach me something interesting about it."})
	}

	reqBody, err := json.Marshal(chatCompletionsRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: 0.4,
		MaxTokens:   512,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("groq error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("groq: empty choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}
