package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	apperrors "github.com/bronsonhill/prompting-task-ISLM10002/internal/errors"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/llm"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSystemMessage(t *testing.T) {
	plain := &models.Prompt{Content: "You are a tutor."}
	assert.Equal(t, "You are a tutor.", BuildSystemMessage(plain))

	withDocs := &models.Prompt{
		Content: "You are a tutor.",
		Documents: []models.Document{
			{Filename: "a.txt", Content: "alpha"},
			{Filename: "b.pdf", Content: "beta"},
		},
	}
	want := "You are a tutor." +
		"\n\n**Reference Documents:**\n" +
		"\n--- Document 1: a.txt ---\nalpha\n" +
		"\n--- Document 2: b.pdf ---\nbeta\n"
	assert.Equal(t, want, BuildSystemMessage(withDocs))
}

func startConversation(t *testing.T, env *testEnv, user, content string) string {
	t.Helper()
	ctx := context.Background()
	promptID, err := env.prompts.CreatePrompt(ctx, user, content, nil)
	require.NoError(t, err)
	convID, err := env.conversations.StartConversation(ctx, user, promptID)
	require.NoError(t, err)
	return convID
}

func TestStartConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	convID := startConversation(t, env, "AB12C", "You are a biology tutor.")
	assert.Equal(t, "C001", convID)

	conv, err := env.conversations.GetConversationFull(ctx, convID, "AB12C")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, models.RoleSystem, conv.Messages[0].Role)
	assert.Equal(t, "You are a biology tutor.", conv.Messages[0].Content)
	assert.Equal(t, "P001", conv.PromptID)
	assert.Equal(t, conv.Messages[0].TokenCount, conv.TokenStats.TotalInputTokens)
	assert.Equal(t, 0, conv.TokenStats.TotalOutputTokens)

	got := actions(env.logs(t, "AB12C"))
	assert.Contains(t, got, models.ActionConversationStart)
	assert.Contains(t, got, models.ActionPromptSelection)
}

func TestStartConversationRequiresOwnedPrompt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	promptID, err := env.prompts.CreatePrompt(ctx, "AB12C", "mine", nil)
	require.NoError(t, err)

	_, err = env.conversations.StartConversation(ctx, "ZZ99Z", promptID)
	assert.True(t, apperrors.IsNotFound(err))

	// 失败时不分配对话编号
	n, err := env.store.Counters().Get(ctx, models.ConversationCounter())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestAppendTurnThreeMessageConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID := startConversation(t, env, "AB12C", "You are a biology tutor.")

	_, err := env.conversations.AppendTurn(ctx, convID, "AB12C", models.RoleUser, "What is chlorophyll?")
	require.NoError(t, err)
	stats, err := env.conversations.AppendTurn(ctx, convID, "AB12C", models.RoleAssistant, "It is a pigment.")
	require.NoError(t, err)

	conv, err := env.conversations.GetConversationFull(ctx, convID, "AB12C")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)

	input := conv.Messages[0].TokenCount + conv.Messages[1].TokenCount
	output := conv.Messages[2].TokenCount
	assert.Equal(t, input, stats.TotalInputTokens)
	assert.Equal(t, output, stats.TotalOutputTokens)
	assert.Equal(t, stats, conv.TokenStats)
	assert.Equal(t, env.tokens.ConversationStats(conv.Messages), conv.TokenStats)
	assert.True(t, conv.UpdatedAt.After(conv.CreatedAt))

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.TurnsAppended.WithLabelValues("assistant")))
}

func TestAppendTurnFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID := startConversation(t, env, "AB12C", "tutor")

	_, err := env.conversations.AppendTurn(ctx, convID, "", models.RoleUser, "hi")
	assert.True(t, apperrors.IsValidation(err))

	_, err = env.conversations.AppendTurn(ctx, convID, "ZZ99Z", models.RoleUser, "hi")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = env.conversations.AppendTurn(ctx, convID, "AB12C", models.Role("tool"), "hi")
	assert.True(t, apperrors.IsValidation(err))

	_, err = env.conversations.AppendTurn(ctx, convID, "AB12C", models.RoleUser, "  ")
	assert.True(t, apperrors.IsValidation(err))

	conv, err := env.conversations.GetConversationFull(ctx, convID, "AB12C")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1)
}

func TestAppendTurnStoreUnavailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID := startConversation(t, env, "AB12C", "tutor")
	require.NoError(t, env.store.Close(ctx))

	_, err := env.conversations.AppendTurn(ctx, convID, "AB12C", models.RoleUser, "hi")
	assert.True(t, apperrors.IsStoreUnavailable(err))
}

func TestAppendTurnConcurrentWritersKeepStatsConsistent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID := startConversation(t, env, "AB12C", "tutor")

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.conversations.AppendTurn(ctx, convID, "AB12C", models.RoleUser, "question")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	conv, err := env.conversations.GetConversationFull(ctx, convID, "AB12C")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, writers+1)
	assert.Equal(t, env.tokens.ConversationStats(conv.Messages), conv.TokenStats)
}

func TestListAndSummaries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := startConversation(t, env, "AB12C", "first tutor")
	second := startConversation(t, env, "AB12C", "second tutor")
	startConversation(t, env, "ZZ99Z", "someone else")

	// 第一个对话最近更新
	_, err := env.conversations.AppendTurn(ctx, first, "AB12C", models.RoleUser, "hello again")
	require.NoError(t, err)

	list, err := env.conversations.ListConversations(ctx, "AB12C")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ConversationID)
	assert.Equal(t, second, list[1].ConversationID)

	summary, err := env.conversations.GetConversationSummary(ctx, second, "AB12C")
	require.NoError(t, err)
	assert.Equal(t, "second tutor", summary.FirstMessagePreview)

	_, err = env.conversations.GetConversationSummary(ctx, second, "ZZ99Z")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestContinueConversationAudits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID := startConversation(t, env, "AB12C", "tutor")

	conv, err := env.conversations.ContinueConversation(ctx, convID, "ab12c")
	require.NoError(t, err)
	assert.Equal(t, convID, conv.ConversationID)
	assert.Contains(t, actions(env.logs(t, "AB12C")), models.ActionConversationContinue)
}

func TestCompletionMessages(t *testing.T) {
	conv := &models.Conversation{Messages: []models.Message{
		{Role: models.RoleSystem, Content: "s", TokenCount: 5},
		{Role: models.RoleUser, Content: "u", TokenCount: 5},
	}}
	assert.Equal(t, []llm.Message{
		{Role: "system", Content: "s"},
		{Role: "user", Content: "u"},
	}, CompletionMessages(conv))
}

func TestCompleteTurnPersistsAssembledReply(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID := startConversation(t, env, "AB12C", "tutor")
	client := &fakeLLM{chunks: []llm.StreamChunk{
		{Content: "It is "},
		{Content: "a pigment."},
		{Done: true},
	}}

	var shown []string
	reply, stats, err := env.conversations.CompleteTurn(ctx, convID, "AB12C", "What is chlorophyll?", client, func(s string) {
		shown = append(shown, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "It is a pigment.", reply)
	assert.Equal(t, []string{"It is ", "a pigment."}, shown)
	assert.Equal(t, []llm.Message{
		{Role: "system", Content: "tutor"},
		{Role: "user", Content: "What is chlorophyll?"},
	}, client.received)

	conv, err := env.conversations.GetConversationFull(ctx, convID, "AB12C")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, models.RoleUser, conv.Messages[1].Role)
	assert.Equal(t, "What is chlorophyll?", conv.Messages[1].Content)
	assert.Equal(t, models.RoleAssistant, conv.Messages[2].Role)
	assert.Equal(t, "It is a pigment.", conv.Messages[2].Content)
	assert.Equal(t, conv.TokenStats, stats)
	assert.Equal(t, env.tokens.ConversationStats(conv.Messages), conv.TokenStats)
}

func TestCompleteTurnFailedStreamLeavesConversationUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID := startConversation(t, env, "AB12C", "tutor")
	before, err := env.conversations.GetConversationFull(ctx, convID, "AB12C")
	require.NoError(t, err)

	client := &fakeLLM{chunks: []llm.StreamChunk{
		{Content: "It is "},
		{Err: errors.New("rate limited")},
	}}
	_, _, err = env.conversations.CompleteTurn(ctx, convID, "AB12C", "What is chlorophyll?", client, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsExternal(err))

	after, err := env.conversations.GetConversationFull(ctx, convID, "AB12C")
	require.NoError(t, err)
	assert.Len(t, after.Messages, 1)
	assert.Equal(t, before.TokenStats, after.TokenStats)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))

	entries := env.logs(t, "AB12C")
	require.NotEmpty(t, entries)
	assert.Equal(t, models.ActionError, entries[0].Action)
	assert.Equal(t, "openai_error", entries[0].Data["error_type"])
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.StreamFailures))

	// 重试成功后只有一条用户消息
	client = &fakeLLM{chunks: []llm.StreamChunk{{Content: "It is a pigment."}, {Done: true}}}
	_, _, err = env.conversations.CompleteTurn(ctx, convID, "AB12C", "What is chlorophyll?", client, nil)
	require.NoError(t, err)
	after, err = env.conversations.GetConversationFull(ctx, convID, "AB12C")
	require.NoError(t, err)
	require.Len(t, after.Messages, 3)
	assert.Equal(t, []models.Role{models.RoleSystem, models.RoleUser, models.RoleAssistant},
		[]models.Role{after.Messages[0].Role, after.Messages[1].Role, after.Messages[2].Role})
}

func TestCompleteTurnCancelledStillAudits(t *testing.T) {
	env := newTestEnv(t)
	convID := startConversation(t, env, "AB12C", "tutor")
	client := &fakeLLM{chunks: []llm.StreamChunk{{Content: "partial"}}, block: true}

	ctx, cancel := context.WithCancel(context.Background())
	_, _, err := env.conversations.CompleteTurn(ctx, convID, "AB12C", "hello", client, func(string) {
		cancel()
	})
	require.Error(t, err)

	conv, err := env.conversations.GetConversationFull(context.Background(), convID, "AB12C")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1)

	entries := env.logs(t, "AB12C")
	require.NotEmpty(t, entries)
	assert.Equal(t, models.ActionError, entries[0].Action)
	assert.Equal(t, map[string]interface{}{"prompt_id": "P001", "conversation_id": convID}, entries[0].Data["context"])
}

func TestCompleteTurnRejectsBlankMessage(t *testing.T) {
	env := newTestEnv(t)
	convID := startConversation(t, env, "AB12C", "tutor")

	_, _, err := env.conversations.CompleteTurn(context.Background(), convID, "AB12C", "   ", &fakeLLM{}, nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestCompleteTurnStreamCreationFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID := startConversation(t, env, "AB12C", "tutor")

	_, _, err := env.conversations.CompleteTurn(ctx, convID, "AB12C", "hello", &fakeLLM{createErr: errors.New("401")}, nil)
	assert.True(t, apperrors.IsExternal(err))

	_, _, err = env.conversations.CompleteTurn(ctx, convID, "AB12C", "hello", nil, nil)
	assert.True(t, apperrors.IsExternal(err))
}

func TestRecomputeAllTokenStatsIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID := startConversation(t, env, "AB12C", "tutor")
	_, err := env.conversations.AppendTurn(ctx, convID, "AB12C", models.RoleUser, "What is chlorophyll?")
	require.NoError(t, err)
	startConversation(t, env, "ZZ99Z", "other tutor")

	n, err := env.conversations.RecomputeAllTokenStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// 模拟旧数据：统计与消息计数都为 0
	conv, err := env.conversations.GetConversationFull(ctx, convID, "AB12C")
	require.NoError(t, err)
	stale := make([]models.Message, len(conv.Messages))
	copy(stale, conv.Messages)
	for i := range stale {
		stale[i].TokenCount = 0
	}
	require.NoError(t, env.store.Conversations().ReplaceTokenStats(ctx, conv.Ref, stale, models.TokenStats{}))

	n, err = env.conversations.RecomputeAllTokenStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fixed, err := env.conversations.GetConversationFull(ctx, convID, "AB12C")
	require.NoError(t, err)
	assert.Equal(t, conv.TokenStats, fixed.TokenStats)
	assert.Equal(t, conv.Messages, fixed.Messages)

	n, err = env.conversations.RecomputeAllTokenStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEstimateRequestTokens(t *testing.T) {
	env := newTestEnv(t)
	conv := &models.Conversation{Messages: []models.Message{
		{Role: models.RoleSystem, Content: "abcd"},
		{Role: models.RoleUser, Content: "abcd"},
		{Role: models.RoleAssistant, Content: "abcd"},
	}}
	counts := env.tokens.CountConversationTokens(conv.Messages)
	want := counts.TotalInputTokens + counts.TotalOutputTokens + 3*APIPrimingTokensPerMessage
	assert.Equal(t, want, env.conversations.EstimateRequestTokens(conv))
}
