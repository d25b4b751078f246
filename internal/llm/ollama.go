package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rover/internal/vision"
)

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   string    `json:"format,omitempty"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

// Ollama talks to a local Ollama server.
type Ollama struct {
	BaseURL     string
	HTTP        *http.Client
	Model       string
	VisionModel string
}

// DefaultOllamaModel is used when no model is configured.
const DefaultOllamaModel = "gemma3"

func NewOllama(baseURL, model, visionModel string) *Ollama {
	if model == "" {
		model = DefaultOllamaModel
	}
	if visionModel == "" {
		visionModel = model
	}
	return &Ollama{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTP:        &http.Client{Timeout: 120 * time.Second},
		Model:       model,
		VisionModel: visionModel,
	}
}

// Chat asks for a JSON formatted reply.
func (c *Ollama) Chat(ctx context.Context, msgs []Message) (string, error) {
	return c.chat(ctx, chatRequest{Model: c.Model, Messages: msgs, Format: "json"})
}

func (c *Ollama) Describe(ctx context.Context, img vision.Image, prompt string) (string, error) {
	msg := User(prompt)
	msg.Images = []string{base64.StdEncoding.EncodeToString(img.Data)}
	return c.chat(ctx, chatRequest{Model: c.VisionModel, Messages: []Message{msg}})
}

func (c *Ollama) chat(ctx context.Context, body chatRequest) (string, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	var out chatResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode >= 400 {
		if out.Error != "" {
			return "", fmt.Errorf("ollama chat http status: %s: %s", resp.Status, out.Error)
		}
		return "", errors.New("ollama chat http status: " + resp.Status)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("ollama chat decode: %w", decodeErr)
	}
	if out.Message.Content == "" {
		return "", errors.New("empty message content")
	}
	return out.Message.Content, nil
}

func (c *Ollama) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama status %d", resp.StatusCode)
	}
	return nil
}
