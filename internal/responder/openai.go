package responder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/careline/careline/internal/domain"
	"github.com/careline/careline/internal/kb"
)

const systemPrompt = "你是一名专业的电商客服助手，负责解答用户关于商品、订单、物流和售后的问题。" +
	"回答要礼貌、简洁、准确。如果提供了知识库资料，请优先依据资料回答；资料中没有的内容不要编造。"

// historyWindow limits how many past messages are sent to the model.
const historyWindow = 10

// OpenAIResponder answers with a chat completion model, grounding the
// reply on knowledge-base search results when any match the question.
type OpenAIResponder struct {
	client *openai.Client
	model  string
	search *kb.Service
}

// NewOpenAIResponder builds a responder against the OpenAI API. baseURL
// may be empty to use the default endpoint, or point at a compatible
// proxy.
func NewOpenAIResponder(apiKey, baseURL, model string, search *kb.Service) *OpenAIResponder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIResponder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		search: search,
	}
}

// Stream yields completion deltas as they arrive. When the knowledge
// base has relevant chunks, a citation trailer is yielded after the
// model output.
func (o *OpenAIResponder) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		results, err := o.search.Search(ctx, DefaultCollection, req.Message, 3, "")
		if err != nil {
			slog.Warn("knowledge search failed", "error", err)
			results = nil
		}

		stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    o.model,
			Messages: o.buildMessages(req, results),
			Stream:   true,
		})
		if err != nil {
			yield("", fmt.Errorf("create completion stream: %w", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield("", fmt.Errorf("receive completion chunk: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}

		if trailer, _ := FormatReferences(results); trailer != "" {
			yield(trailer, nil)
		}
	}
}

func (o *OpenAIResponder) buildMessages(req Request, results []domain.SearchResult) []openai.ChatCompletionMessage {
	system := systemPrompt
	if len(results) > 0 {
		system += "\n\n以下是与用户问题相关的知识库资料：\n"
		for i, res := range results {
			system += fmt.Sprintf("[%d] 来源 %s：%s\n", i+1, res.Chunk.Source, res.Chunk.Content)
		}
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}

	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})
}
