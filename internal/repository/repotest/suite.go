// Package repotest 所有存储实现共用的行为测试
package repotest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory 为每个子测试创建一个空存储
type Factory func(t *testing.T) repository.Store

var base = time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

// countStats 测试用统计：每条消息按 TokenCount 计
func countStats(messages []models.Message) models.TokenStats {
	var s models.TokenStats
	for _, m := range messages {
		if m.Role.IsInput() {
			s.TotalInputTokens += m.TokenCount
		} else {
			s.TotalOutputTokens += m.TokenCount
		}
	}
	return s
}

// Run 执行全部用例
func Run(t *testing.T, newStore Factory) {
	t.Run("Counters", func(t *testing.T) { testCounters(t, newStore(t)) })
	t.Run("ConcurrentCounters", func(t *testing.T) { testConcurrentCounters(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Prompts", func(t *testing.T) { testPrompts(t, newStore(t)) })
	t.Run("Conversations", func(t *testing.T) { testConversations(t, newStore(t)) })
	t.Run("AppendTurnPair", func(t *testing.T) { testAppendTurnPair(t, newStore(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, newStore(t)) })
	t.Run("AdminCodes", func(t *testing.T) { testAdminCodes(t, newStore(t)) })
	t.Run("Logs", func(t *testing.T) { testLogs(t, newStore(t)) })
}

func testCounters(t *testing.T, store repository.Store) {
	ctx := context.Background()
	counters := store.Counters()
	conv := models.ConversationCounter()
	prompt := models.PromptCounter("AB12C")

	n, err := counters.Get(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for want := int64(1); want <= 3; want++ {
		n, err := counters.Increment(ctx, conv)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err = counters.Increment(ctx, prompt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, counters.Set(ctx, conv, 10))
	n, err = counters.Increment(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	n, err = counters.Get(ctx, prompt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testConcurrentCounters(t *testing.T, store repository.Store) {
	ctx := context.Background()
	const callers = 50
	seen := make(chan int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.Counters().Increment(ctx, models.ConversationCounter())
			assert.NoError(t, err)
			seen <- n
		}()
	}
	wg.Wait()
	close(seen)

	got := make(map[int64]bool)
	for n := range seen {
		assert.False(t, got[n], "duplicate value %d", n)
		got[n] = true
	}
	assert.Len(t, got, callers)
}

func testUsers(t *testing.T, store repository.Store) {
	ctx := context.Background()
	users := store.Users()

	_, err := users.Get(ctx, "AB12C")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, users.Create(ctx, &models.User{Code: "AB12C", CreatedAt: at(1), LastLogin: at(1)}))
	require.NoError(t, users.Create(ctx, &models.User{Code: "ZZ99Z", DataUseConsent: models.ConsentDeclined, CreatedAt: at(2), LastLogin: at(2)}))
	assert.ErrorIs(t, users.Create(ctx, &models.User{Code: "AB12C", CreatedAt: at(3)}), repository.ErrDuplicate)

	u, err := users.Get(ctx, "AB12C")
	require.NoError(t, err)
	assert.Equal(t, models.ConsentUndecided, u.DataUseConsent)

	require.NoError(t, users.SetConsent(ctx, "AB12C", models.ConsentGiven))
	require.NoError(t, users.UpdateLastLogin(ctx, "AB12C", at(10)))
	u, err = users.Get(ctx, "AB12C")
	require.NoError(t, err)
	assert.Equal(t, models.ConsentGiven, u.DataUseConsent)
	assert.True(t, u.LastLogin.Equal(at(10)))

	assert.ErrorIs(t, users.SetConsent(ctx, "NOONE", models.ConsentGiven), repository.ErrNotFound)

	list, err := users.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "AB12C", list[0].Code)
	assert.Equal(t, models.ConsentDeclined, list[1].DataUseConsent)
}

func testPrompts(t *testing.T, store repository.Store) {
	ctx := context.Background()
	prompts := store.Prompts()

	first := &models.Prompt{
		PromptID: "P001", UserCode: "AB12C", Content: "Explain photosynthesis",
		Documents: []models.Document{{
			Filename: "leaf.txt", FileType: "text/plain", FileSize: 5, UploadedAt: at(1), Content: "stoma",
		}},
		PromptTokenCount: 3, DocumentTokenCount: 2, TotalTokenCount: 5,
		CreatedAt: at(1), UpdatedAt: at(1),
	}
	second := &models.Prompt{PromptID: "P002", UserCode: "AB12C", Content: "Describe mitosis", Documents: []models.Document{}, CreatedAt: at(2), UpdatedAt: at(2)}
	other := &models.Prompt{PromptID: "P001", UserCode: "ZZ99Z", Content: "Other", Documents: []models.Document{}, CreatedAt: at(3), UpdatedAt: at(3)}
	for _, p := range []*models.Prompt{first, second, other} {
		require.NoError(t, prompts.Insert(ctx, p))
		assert.NotEmpty(t, p.Ref)
	}

	got, err := prompts.Find(ctx, "AB12C", "P001")
	require.NoError(t, err)
	assert.Equal(t, "Explain photosynthesis", got.Content)
	require.Len(t, got.Documents, 1)
	assert.Equal(t, "stoma", got.Documents[0].Content)
	assert.Equal(t, 5, got.TotalTokenCount)

	_, err = prompts.Find(ctx, "ZZ99Z", "P002")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	anyOwner, err := prompts.FindAnyOwner(ctx, "P002")
	require.NoError(t, err)
	assert.Equal(t, "AB12C", anyOwner.UserCode)

	light, err := prompts.ListByUser(ctx, "AB12C", false)
	require.NoError(t, err)
	require.Len(t, light, 2)
	assert.Equal(t, "P002", light[0].PromptID)
	require.Len(t, light[1].Documents, 1)
	assert.Equal(t, "leaf.txt", light[1].Documents[0].Filename)
	assert.Empty(t, light[1].Documents[0].Content)

	full, err := prompts.ListByUser(ctx, "AB12C", true)
	require.NoError(t, err)
	assert.Equal(t, "stoma", full[1].Documents[0].Content)

	all, err := prompts.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, first.Ref, all[0].Ref)
	assert.Equal(t, other.Ref, all[2].Ref)

	require.NoError(t, prompts.UpdatePromptID(ctx, second.Ref, "P010"))
	_, err = prompts.Find(ctx, "AB12C", "P010")
	require.NoError(t, err)

	require.NoError(t, prompts.SetTokenCounts(ctx, second.Ref, 4, 0, 4))
	got, err = prompts.Find(ctx, "AB12C", "P010")
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalTokenCount)

	pending, err := prompts.ListNeedingTokenBackfill(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err := prompts.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	n, err = prompts.CountByUser(ctx, "ZZ99Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func newConversation(id, owner string, sec int) *models.Conversation {
	msgs := []models.Message{{Role: models.RoleSystem, Content: "tutor " + id, Timestamp: at(sec), TokenCount: 5}}
	return &models.Conversation{
		ConversationID: id,
		UserCode:       owner,
		PromptID:       "P001",
		Messages:       msgs,
		TokenStats:     countStats(msgs),
		CreatedAt:      at(sec),
		UpdatedAt:      at(sec),
	}
}

func testConversations(t *testing.T, store repository.Store) {
	ctx := context.Background()
	convs := store.Conversations()

	c1 := newConversation("C001", "AB12C", 1)
	c2 := newConversation("C002", "AB12C", 2)
	c3 := newConversation("C003", "ZZ99Z", 3)
	for _, c := range []*models.Conversation{c1, c2, c3} {
		require.NoError(t, convs.Insert(ctx, c))
		assert.NotEmpty(t, c.Ref)
	}

	updated, err := convs.AppendMessages(ctx, "AB12C", "C001",
		[]models.Message{{Role: models.RoleUser, Content: "hi", Timestamp: at(10), TokenCount: 6}}, countStats)
	require.NoError(t, err)
	require.Len(t, updated.Messages, 2)
	assert.Equal(t, models.TokenStats{TotalInputTokens: 11}, updated.TokenStats)

	_, err = convs.AppendMessages(ctx, "ZZ99Z", "C001",
		[]models.Message{{Role: models.RoleUser, Content: "not mine", Timestamp: at(11), TokenCount: 6}}, countStats)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = convs.AppendMessages(ctx, "AB12C", "C002", nil, countStats)
	assert.ErrorIs(t, err, repository.ErrNoMessages)

	full, err := convs.Find(ctx, "AB12C", "C001")
	require.NoError(t, err)
	require.Len(t, full.Messages, 2)
	assert.Equal(t, "hi", full.Messages[1].Content)
	assert.True(t, full.UpdatedAt.Equal(at(10)))
	assert.Equal(t, updated.TokenStats, full.TokenStats)

	sum, err := convs.FindSummary(ctx, "AB12C", "C001")
	require.NoError(t, err)
	assert.Equal(t, "tutor C001", sum.FirstMessagePreview)

	list, err := convs.ListSummaries(ctx, "AB12C")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "C001", list[0].ConversationID)

	all, err := convs.ListAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Empty(t, all[0].Messages)

	require.NoError(t, convs.UpdateConversationID(ctx, c3.Ref, "C009"))
	_, err = convs.Find(ctx, "ZZ99Z", "C009")
	require.NoError(t, err)

	fixed := make([]models.Message, len(full.Messages))
	copy(fixed, full.Messages)
	fixed[1].TokenCount = 7
	require.NoError(t, convs.ReplaceTokenStats(ctx, c1.Ref, fixed, countStats(fixed)))
	assert.ErrorIs(t, convs.ReplaceTokenStats(ctx, c1.Ref, fixed[:1], countStats(fixed[:1])), repository.ErrConflict)

	totals, err := convs.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), totals.Conversations)
	assert.Equal(t, int64(4), totals.Messages)
	assert.Equal(t, int64(5+7+5+5), totals.TotalInputTokens)

	n, err := convs.CountByUser(ctx, "AB12C")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func testAppendTurnPair(t *testing.T, store repository.Store) {
	ctx := context.Background()
	convs := store.Conversations()
	require.NoError(t, convs.Insert(ctx, newConversation("C001", "AB12C", 1)))

	pair := []models.Message{
		{Role: models.RoleUser, Content: "What is chlorophyll?", Timestamp: at(10), TokenCount: 9},
		{Role: models.RoleAssistant, Content: "It is a pigment.", Timestamp: at(12), TokenCount: 8},
	}
	updated, err := convs.AppendMessages(ctx, "AB12C", "C001", pair, countStats)
	require.NoError(t, err)
	assert.Equal(t, models.TokenStats{TotalInputTokens: 14, TotalOutputTokens: 8}, updated.TokenStats)

	full, err := convs.Find(ctx, "AB12C", "C001")
	require.NoError(t, err)
	require.Len(t, full.Messages, 3)
	assert.Equal(t, []models.Role{models.RoleSystem, models.RoleUser, models.RoleAssistant},
		[]models.Role{full.Messages[0].Role, full.Messages[1].Role, full.Messages[2].Role})
	assert.True(t, full.UpdatedAt.Equal(at(12)))
	assert.Equal(t, countStats(full.Messages), full.TokenStats)
}

func testConcurrentAppends(t *testing.T, store repository.Store) {
	ctx := context.Background()
	convs := store.Conversations()
	require.NoError(t, convs.Insert(ctx, newConversation("C001", "AB12C", 1)))

	const writers = 4
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := models.Message{Role: models.RoleUser, Content: fmt.Sprintf("q%d", i), Timestamp: at(10 + i), TokenCount: 6}
			_, err := convs.AppendMessages(ctx, "AB12C", "C001", []models.Message{msg}, countStats)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	conv, err := convs.Find(ctx, "AB12C", "C001")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, writers+1)
	assert.Equal(t, countStats(conv.Messages), conv.TokenStats)
}

func testAdminCodes(t *testing.T, store repository.Store) {
	ctx := context.Background()
	admins := store.AdminCodes()

	require.NoError(t, admins.Insert(ctx, &models.AdminCode{Code: "SU123", Level: models.AdminLevelSuper, AddedBy: "system", CreatedAt: at(1), Status: models.AdminActive}))
	require.NoError(t, admins.Insert(ctx, &models.AdminCode{Code: "AD123", Level: models.AdminLevelAdmin, AddedBy: "SU123", CreatedAt: at(2), Status: models.AdminActive}))
	assert.ErrorIs(t, admins.Insert(ctx, &models.AdminCode{Code: "AD123", Level: models.AdminLevelAdmin, CreatedAt: at(3), Status: models.AdminActive}), repository.ErrDuplicate)

	n, err := admins.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, err := admins.Deactivate(ctx, "SU123", "AD123", at(4))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = admins.Deactivate(ctx, "AD123", "SU123", at(5))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = admins.FindActive(ctx, "AD123")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	inactive, err := admins.Find(ctx, "AD123")
	require.NoError(t, err)
	assert.Equal(t, models.AdminInactive, inactive.Status)
	assert.Equal(t, "SU123", inactive.RemovedBy)
	require.NotNil(t, inactive.RemovedAt)

	active, err := admins.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	all, err := admins.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "AD123", all[0].Code)

	require.NoError(t, admins.Reactivate(ctx, "AD123", models.AdminLevelAdmin, "SU123", at(6)))
	again, err := admins.FindActive(ctx, "AD123")
	require.NoError(t, err)
	assert.Nil(t, again.RemovedAt)
	assert.ErrorIs(t, admins.Reactivate(ctx, "AD123", models.AdminLevelAdmin, "SU123", at(7)), repository.ErrNotFound)
}

func testLogs(t *testing.T, store repository.Store) {
	ctx := context.Background()
	logs := store.Logs()
	for i, action := range []string{models.ActionLogin, models.ActionPageVisit, models.ActionLogout} {
		require.NoError(t, logs.Append(ctx, &models.LogEntry{
			UserCode:  "AB12C",
			Action:    action,
			Data:      map[string]interface{}{"page_name": "chat"},
			Timestamp: at(i + 1),
		}))
	}
	require.NoError(t, logs.Append(ctx, &models.LogEntry{UserCode: "ZZ99Z", Action: models.ActionLogin, Data: map[string]interface{}{}, Timestamp: at(9)}))

	entries, err := logs.ListByUser(ctx, "AB12C", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.ActionLogout, entries[0].Action)
	assert.Equal(t, "chat", entries[0].Data["page_name"])

	entries, err = logs.ListByUser(ctx, "AB12C", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
