package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	apperrors "github.com/bronsonhill/prompting-task-ISLM10002/internal/errors"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFormatID(t *testing.T) {
	assert.Equal(t, "P001", FormatID(PromptPrefix, 1, 3))
	assert.Equal(t, "C042", FormatID(ConversationPrefix, 42, 3))
	assert.Equal(t, "C999", FormatID(ConversationPrefix, 999, 3))
	// 超过位数时不截断
	assert.Equal(t, "C1000", FormatID(ConversationPrefix, 1000, 3))
	assert.Equal(t, "P7", FormatID(PromptPrefix, 7, 0))
}

func TestParseDisplayNumber(t *testing.T) {
	cases := map[string]int64{
		"P001":  1,
		"C042":  42,
		"C1000": 1000,
		"17":    17,
		"":      0,
		"Pabc":  0,
		"X001":  0,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseDisplayNumber(in), in)
	}
	for n := int64(1); n <= 1200; n += 37 {
		assert.Equal(t, n, ParseDisplayNumber(FormatID(PromptPrefix, n, DefaultPadWidth)))
	}
}

func TestNextIDStartsAtOne(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.ids.NextConversationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "C001", id)

	id, err = env.ids.NextPromptID(ctx, "AB12C")
	require.NoError(t, err)
	assert.Equal(t, "P001", id)

	id, err = env.ids.NextConversationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "C002", id)

	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.IDsAllocated.WithLabelValues("conversation")))
}

func TestNextIDConcurrentCallersGetDistinctValues(t *testing.T) {
	store := memory.New()
	alloc := NewIDAllocator(store.Counters(), DefaultPadWidth, nil, nil)
	ctx := context.Background()

	const callers = 100
	results := make(chan int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := alloc.NextID(ctx, models.ConversationCounter())
			assert.NoError(t, err)
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for n := range results {
		assert.False(t, seen[n], "duplicate %d", n)
		seen[n] = true
	}
	assert.Len(t, seen, callers)
	for n := int64(1); n <= callers; n++ {
		assert.True(t, seen[n], "missing %d", n)
	}
}

func TestPromptNamespacesAreIndependent(t *testing.T) {
	store := memory.New()
	alloc := NewIDAllocator(store.Counters(), DefaultPadWidth, nil, nil)
	ctx := context.Background()

	var mu sync.Mutex
	got := map[string][]string{}
	var wg sync.WaitGroup
	for _, user := range []string{"AB12C", "ZZ99Z"} {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				id, err := alloc.NextPromptID(ctx, user)
				assert.NoError(t, err)
				mu.Lock()
				got[user] = append(got[user], id)
				mu.Unlock()
			}(user)
		}
	}
	wg.Wait()

	for user, ids := range got {
		assert.Len(t, ids, 50, user)
		want := make([]string, 0, 50)
		for n := int64(1); n <= 50; n++ {
			want = append(want, FormatID(PromptPrefix, n, DefaultPadWidth))
		}
		assert.ElementsMatch(t, want, ids, user)
	}
}

func TestNextIDCounterFailureIsStoreUnavailable(t *testing.T) {
	counters := new(MockCounterRepository)
	counters.On("Increment", mock.Anything, models.ConversationCounter()).
		Return(int64(0), errors.New("connection refused"))

	alloc := NewIDAllocator(counters, DefaultPadWidth, nil, nil)
	_, err := alloc.NextConversationID(context.Background())

	require.Error(t, err)
	assert.True(t, apperrors.IsStoreUnavailable(err))
	assert.False(t, apperrors.IsNotFound(err))
	counters.AssertExpectations(t)
}

func TestNextIDRejectsIncompleteKey(t *testing.T) {
	counters := new(MockCounterRepository)
	alloc := NewIDAllocator(counters, DefaultPadWidth, nil, nil)

	_, err := alloc.NextID(context.Background(), models.CounterKey{Kind: models.KindPrompt})
	assert.True(t, apperrors.IsValidation(err))
	counters.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything)
}
