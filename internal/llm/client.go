// Package llm 补全接口客户端
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message 发送给补全接口的消息，不含时间戳与 token 数
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChunk 流式响应中的一个片段
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// Client 补全接口
type Client interface {
	// StreamChat 返回有界通道；通道以 Done 或 Err 片段结束后关闭
	StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error)
	// Chat 返回完整回复
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Config 客户端配置
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	StreamBuffer int
	Timeout      time.Duration
}

// OpenAIClient 基于 go-openai 的实现
type OpenAIClient struct {
	client *openai.Client
	config Config
}

// NewOpenAIClient 创建客户端
func NewOpenAIClient(config Config) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai api key is not configured")
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Model == "" {
		config.Model = openai.GPT4o
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1000
	}
	if config.StreamBuffer <= 0 {
		config.StreamBuffer = 32
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

func (c *OpenAIClient) request(messages []Message, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:               c.config.Model,
		Messages:            msgs,
		MaxCompletionTokens: c.config.MaxTokens,
		Stream:              stream,
	}
}

func (c *OpenAIClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.Timeout > 0 {
		return context.WithTimeout(ctx, c.config.Timeout)
	}
	return context.WithCancel(ctx)
}

// StreamChat 流式补全
func (c *OpenAIClient) StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	ctx, cancel := c.withTimeout(ctx)
	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(messages, true))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	out := make(chan StreamChunk, c.config.StreamBuffer)
	go func() {
		defer close(out)
		defer cancel()
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				send(ctx, out, StreamChunk{Done: true})
				return
			}
			if err != nil {
				send(ctx, out, StreamChunk{Err: fmt.Errorf("stream error: %w", err)})
				return
			}
			if len(response.Choices) == 0 || response.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(ctx, out, StreamChunk{Content: response.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return out, nil
}

// send 消费方放弃时返回 false
func send(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Chat 非流式补全
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, c.request(messages, false))
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ErrIncompleteStream 通道关闭但没有收到结束标记
var ErrIncompleteStream = errors.New("stream closed before completion")

// Collect 拼接全部片段。出错、取消或未正常结束时返回错误，已收到的片段丢弃。
// onFragment 可为 nil，用于边接收边显示。
func Collect(ctx context.Context, ch <-chan StreamChunk, onFragment func(string)) (string, error) {
	var buf strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return "", ErrIncompleteStream
			}
			if chunk.Err != nil {
				return "", chunk.Err
			}
			if chunk.Done {
				return buf.String(), nil
			}
			buf.WriteString(chunk.Content)
			if onFragment != nil {
				onFragment(chunk.Content)
			}
		}
	}
}
