package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"

	"rover/internal/vision"
)

// OpenAI plans and describes through the chat completions API.
type OpenAI struct {
	client      openai.Client
	model       openai.ChatModel
	visionModel openai.ChatModel
}

func NewOpenAI(client openai.Client, model, visionModel string) *OpenAI {
	if model == "" {
		model = openai.ChatModelGPT5Nano
	}
	if visionModel == "" {
		visionModel = model
	}
	return &OpenAI{
		client:      client,
		model:       openai.ChatModel(model),
		visionModel: openai.ChatModel(visionModel),
	}
}

func (o *OpenAI) Chat(ctx context.Context, msgs []Message) (string, error) {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			params = append(params, openai.SystemMessage(m.Content))
		case "assistant":
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: params,
		Model:    o.model,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return firstContent(resp)
}

func (o *OpenAI) Describe(ctx context.Context, img vision.Image, prompt string) (string, error) {
	url := "data:" + img.MIME + ";base64," + base64.StdEncoding.EncodeToString(img.Data)

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
			}),
		},
		Model: o.visionModel,
	})
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	return firstContent(resp)
}

func firstContent(resp *openai.ChatCompletion) (string, error) {
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", errors.New("empty message content")
	}
	log.Debug("Model replied", "data", content)
	return content, nil
}
