package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	apperrors "github.com/bronsonhill/prompting-task-ISLM10002/internal/errors"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/extractor"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/llm"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/metrics"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository/memory"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// scriptedLLM 每次流式请求回放同一组片段
type scriptedLLM struct {
	fragments []string
	err       error
	calls     int
}

func (f *scriptedLLM) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	f.calls++
	ch := make(chan llm.StreamChunk, len(f.fragments)+1)
	for _, frag := range f.fragments {
		ch <- llm.StreamChunk{Content: frag}
	}
	if f.err != nil {
		ch <- llm.StreamChunk{Err: f.err}
	} else {
		ch <- llm.StreamChunk{Done: true}
	}
	close(ch)
	return ch, nil
}

func (f *scriptedLLM) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return strings.Join(f.fragments, ""), f.err
}

type fixture struct {
	store         *memory.Store
	users         *services.UserService
	prompts       *services.PromptService
	conversations *services.ConversationService
}

func newFixture(t *testing.T) *fixture {
	store := memory.New()
	log := zaptest.NewLogger(t)
	m := metrics.NewCollector("test")
	tokens := services.NewTokenCounterWithEncoder(services.HeuristicEncoder{})
	ids := services.NewIDAllocator(store.Counters(), services.DefaultPadWidth, m, log)
	audit := services.NewAuditLogger(store.Logs(), nil, m, log)
	generator := services.NewCodeGenerator(5)
	admins := services.NewAdminService(store.AdminCodes(), generator, log)
	return &fixture{
		store:         store,
		users:         services.NewUserService(store.Users(), admins, audit, generator, log),
		prompts:       services.NewPromptService(store.Prompts(), ids, tokens, extractor.New(), audit, log),
		conversations: services.NewConversationService(store.Conversations(), store.Prompts(), ids, tokens, audit, m, log),
	}
}

func (f *fixture) session(client llm.Client, input string, out *bytes.Buffer) *session {
	return newSession(f.users, f.prompts, f.conversations, client, strings.NewReader(input), out)
}

func TestNewUserNewPromptConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	client := &scriptedLLM{fragments: []string{"It is ", "a pigment."}}
	var out bytes.Buffer

	s := f.session(client, "y\nWhat is chlorophyll?\n/quit\n", &out)
	s.readFile = func(string) ([]byte, error) { return []byte("Chlorophyll absorbs light."), nil }
	err := s.run(ctx, options{code: "ab12c", newPrompt: "Explain photosynthesis", docs: []string{"notes/bio.txt"}})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Logged in as AB12C (user)")
	assert.Contains(t, out.String(), "Created prompt P001")
	assert.Contains(t, out.String(), "Started conversation C001 with prompt P001")
	assert.Contains(t, out.String(), "It is a pigment.")
	assert.Equal(t, 1, client.calls)

	conv, err := f.conversations.GetConversationFull(ctx, "C001", "AB12C")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)
	assert.Contains(t, conv.Messages[0].Content, "--- Document 1: bio.txt ---")
	assert.Equal(t, "It is a pigment.", conv.Messages[2].Content)

	user, err := f.users.GetUserData(ctx, "AB12C")
	require.NoError(t, err)
	assert.Equal(t, models.ConsentGiven, user.DataUseConsent)
}

func TestCompletionFailureKeepsSessionOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.users.CreateUser(ctx, "AB12C", models.ConsentGiven)
	require.NoError(t, err)
	promptID, err := f.prompts.CreatePrompt(ctx, "AB12C", "You are a tutor.", nil)
	require.NoError(t, err)

	client := &scriptedLLM{fragments: []string{"partial"}, err: errors.New("connection reset")}
	var out bytes.Buffer
	s := f.session(client, "first\nsecond\n", &out)
	require.NoError(t, s.run(ctx, options{code: "AB12C", promptID: promptID}))

	assert.Equal(t, 2, client.calls)
	assert.Equal(t, 2, strings.Count(out.String(), "the assistant could not reply"))

	conv, err := f.conversations.GetConversationFull(ctx, "C001", "AB12C")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, models.RoleSystem, conv.Messages[0].Role)
}

func TestContinueOtherUsersConversationNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, code := range []string{"AB12C", "ZZ99Z"} {
		_, err := f.users.CreateUser(ctx, code, models.ConsentGiven)
		require.NoError(t, err)
	}
	promptID, err := f.prompts.CreatePrompt(ctx, "AB12C", "tutor", nil)
	require.NoError(t, err)
	_, err = f.conversations.StartConversation(ctx, "AB12C", promptID)
	require.NoError(t, err)

	var out bytes.Buffer
	err = f.session(&scriptedLLM{}, "", &out).run(ctx, options{code: "ZZ99Z", conversationID: "C001"})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestContinueShowsHistoryAndEstimate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.users.CreateUser(ctx, "AB12C", models.ConsentGiven)
	require.NoError(t, err)
	promptID, err := f.prompts.CreatePrompt(ctx, "AB12C", "tutor", nil)
	require.NoError(t, err)
	convID, err := f.conversations.StartConversation(ctx, "AB12C", promptID)
	require.NoError(t, err)
	_, err = f.conversations.AppendTurn(ctx, convID, "AB12C", models.RoleUser, "What is chlorophyll?")
	require.NoError(t, err)
	conv, err := f.conversations.GetConversationFull(ctx, convID, "AB12C")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, f.session(&scriptedLLM{}, "", &out).run(ctx, options{code: "AB12C", conversationID: convID}))
	assert.Contains(t, out.String(), "[user] What is chlorophyll?")
	assert.Contains(t, out.String(), fmt.Sprintf("Next request sends about %d tokens of history", f.conversations.EstimateRequestTokens(conv)))
}

func TestDeclinedConsentStops(t *testing.T) {
	var out bytes.Buffer
	f := newFixture(t)
	err := f.session(&scriptedLLM{}, "", &out).run(context.Background(), options{code: "AB12C", consent: "no"})
	assert.True(t, apperrors.IsPolicyViolation(err))
}

func TestOverviewWithoutConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.users.CreateUser(ctx, "AB12C", models.ConsentGiven)
	require.NoError(t, err)
	_, err = f.prompts.CreatePrompt(ctx, "AB12C", "Explain photosynthesis", nil)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, f.session(&scriptedLLM{}, "", &out).run(ctx, options{code: "AB12C"}))
	assert.Contains(t, out.String(), "Prompts (1):")
	assert.Contains(t, out.String(), "P001  Explain photosynthesis")
	assert.Contains(t, out.String(), "Conversations (0):")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", preview("a\n  b", 10))
	assert.Equal(t, "abc...", preview("abcdef", 3))
}

func TestRunValidatesFlags(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run(nil, strings.NewReader(""), &out, &errOut))
	assert.Equal(t, 2, run([]string{"--code", "AB12C", "--prompt", "P001", "--conversation", "C001"}, strings.NewReader(""), &out, &errOut))
	assert.Equal(t, 2, run([]string{"--code", "AB12C", "--doc", "a.txt"}, strings.NewReader(""), &out, &errOut))
}
