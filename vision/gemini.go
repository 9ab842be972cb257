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

const (
	geminiEndpoint       = "https://generativelanguage.googleapis.com/v1beta/models"
	geminiRequestTimeout = 60 * time.Second
)

// GeminiDescriber talks to the Google Gemini generateContent API
type GeminiDescriber struct {
	apiKey string
	model  string
	client *http.Client

	// baseURL is overridable for tests
	baseURL string
}

// NewGeminiDescriber creates a describer for the given Gemini model
func NewGeminiDescriber(apiKey, model string) *GeminiDescriber {
	return &GeminiDescriber{
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: geminiRequestTimeout},
		baseURL: geminiEndpoint,
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// DescribeImage implements Describer
func (d *GeminiDescriber) DescribeImage(ctx context.Context, image []byte, instruction string) (string, error) {
	return d.generate(ctx, []geminiPart{
		{Text: instruction},
		{InlineData: &geminiInlineData{
			MIMEType: DetectImageMIME(image),
			Data:     base64.StdEncoding.EncodeToString(image),
		}},
	})
}

// DescribeText implements Describer
func (d *GeminiDescriber) DescribeText(ctx context.Context, instruction string) (string, error) {
	return d.generate(ctx, []geminiPart{{Text: instruction}})
}

func (d *GeminiDescriber) generate(ctx context.Context, parts []geminiPart) (string, error) {
	var payload geminiRequest
	payload.Contents = make([]struct {
		Parts []geminiPart `json:"parts"`
	}, 1)
	payload.Contents[0].Parts = parts

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", d.baseURL, d.model, d.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
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
		return "", fmt.Errorf("%w: gemini returned %s", ErrUnavailable, resp.Status)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidResponse, err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no candidates returned", ErrInvalidResponse)
	}

	text := out.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", fmt.Errorf("%w: empty candidate text", ErrInvalidResponse)
	}
	return text, nil
}
