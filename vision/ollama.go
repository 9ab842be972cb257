package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const ollamaRequestTimeout = 120 * time.Second

// OllamaDescriber talks to a local Ollama instance running a multimodal
// model such as llava
type OllamaDescriber struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaDescriber creates a describer for the Ollama generate API
func NewOllamaDescriber(baseURL, model string) *OllamaDescriber {
	return &OllamaDescriber{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: ollamaRequestTimeout},
	}
}

type ollamaRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// DescribeImage implements Describer
func (d *OllamaDescriber) DescribeImage(ctx context.Context, image []byte, instruction string) (string, error) {
	return d.generate(ctx, ollamaRequest{
		Model:  d.model,
		Prompt: instruction,
		Images: []string{base64.StdEncoding.EncodeToString(image)},
	})
}

// DescribeText implements Describer
func (d *OllamaDescriber) DescribeText(ctx context.Context, instruction string) (string, error) {
	return d.generate(ctx, ollamaRequest{Model: d.model, Prompt: instruction})
}

func (d *OllamaDescriber) generate(ctx context.Context, payload ollamaRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: ollama returned %s", ErrUnavailable, resp.Status)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidResponse, err)
	}
	if out.Response == "" {
		return "", fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}
	return out.Response, nil
}
