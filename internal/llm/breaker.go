package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String 返回状态字符串
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen 连续失败后在冷却期内直接拒绝请求
var ErrCircuitOpen = errors.New("completion circuit breaker is open")

// BreakerClient 为补全接口加熔断。流式请求在收到 Done 或 Err 片段时才记入结果。
type BreakerClient struct {
	inner            Client
	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedAt    time.Time
	trialActive bool
}

// NewBreakerClient failureThreshold 次连续失败后打开，cooldown 之后放行一个探测请求
func NewBreakerClient(inner Client, failureThreshold int, cooldown time.Duration) *BreakerClient {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &BreakerClient{
		inner:            inner,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// State 当前状态
func (b *BreakerClient) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BreakerClient) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.trialActive = true
		return true
	default:
		// 半开时只放行一个探测请求
		if b.trialActive {
			return false
		}
		b.trialActive = true
		return true
	}
}

func (b *BreakerClient) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// 调用方取消不算接口失败
	if errors.Is(err, context.Canceled) {
		if b.state == BreakerHalfOpen {
			b.trialActive = false
		}
		return
	}
	if err == nil {
		b.state = BreakerClosed
		b.failures = 0
		b.trialActive = false
		return
	}
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.failureThreshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.trialActive = false
	}
}

// StreamChat implements Client
func (b *BreakerClient) StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	if !b.allow() {
		return nil, ErrCircuitOpen
	}
	in, err := b.inner.StreamChat(ctx, messages)
	if err != nil {
		b.record(err)
		return nil, err
	}

	out := make(chan StreamChunk, cap(in))
	go func() {
		defer close(out)
		var result error = context.Canceled
		defer func() { b.record(result) }()
		for chunk := range in {
			switch {
			case chunk.Err != nil:
				result = chunk.Err
			case chunk.Done:
				result = nil
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				result = ctx.Err()
				return
			}
		}
	}()
	return out, nil
}

// Chat implements Client
func (b *BreakerClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if !b.allow() {
		return "", ErrCircuitOpen
	}
	reply, err := b.inner.Chat(ctx, messages)
	b.record(err)
	return reply, err
}
