package vision

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openAIMaxTokens = 1000

// OpenAIDescriber talks to the OpenAI chat completions API (or any
// compatible endpoint) with image content parts
type OpenAIDescriber struct {
	client openai.Client
	model  string
}

// NewOpenAIDescriber creates a describer backed by the given model
func NewOpenAIDescriber(apiKey, model string, opts ...option.RequestOption) *OpenAIDescriber {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIDescriber{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// DescribeImage implements Describer
func (d *OpenAIDescriber) DescribeImage(ctx context.Context, image []byte, instruction string) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", DetectImageMIME(image), base64.StdEncoding.EncodeToString(image))

	response, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: d.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(instruction),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL:    dataURL,
					Detail: "high",
				}),
			}),
		},
		MaxTokens: openai.Int(openAIMaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return firstChoice(response)
}

// DescribeText implements Describer
func (d *OpenAIDescriber) DescribeText(ctx context.Context, instruction string) (string, error) {
	response, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: d.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(instruction),
		},
		MaxTokens: openai.Int(openAIMaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return firstChoice(response)
}

func firstChoice(response *openai.ChatCompletion) (string, error) {
	if len(response.Choices) == 0 || response.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: no choices returned", ErrInvalidResponse)
	}
	return response.Choices[0].Message.Content, nil
}
