package services

import (
	"context"
	"testing"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedLegacyData 写入带重复和缺号的历史编号
func seedLegacyData(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"C001", "C001", "C003", "C002"} {
		now := env.clock.Now()
		require.NoError(t, env.store.Conversations().Insert(ctx, &models.Conversation{
			ConversationID: id,
			UserCode:       "AB12C",
			PromptID:       "P001",
			Messages:       []models.Message{{Role: models.RoleSystem, Content: "tutor", Timestamp: now}},
			CreatedAt:      now,
			UpdatedAt:      now,
		}))
	}
	prompts := []struct{ user, id string }{
		{"AB12C", "P001"},
		{"ZZ99Z", "P001"},
		{"AB12C", "P001"},
		{"AB12C", "P005"},
		{"ZZ99Z", "P002"},
	}
	for _, p := range prompts {
		now := env.clock.Now()
		require.NoError(t, env.store.Prompts().Insert(ctx, &models.Prompt{
			PromptID:  p.id,
			UserCode:  p.user,
			Content:   "content",
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}
}

func TestRepairDuplicateIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedLegacyData(t, env)

	before, err := env.repair.VerifyUniqueIDs(ctx)
	require.NoError(t, err)
	assert.False(t, before.Clean())
	assert.Equal(t, []string{"C001"}, before.DuplicateConversationIDs)
	assert.Equal(t, []string{"P001"}, before.DuplicatePromptIDs["AB12C"])

	report, err := env.repair.RepairDuplicateIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Conversations)
	assert.Equal(t, 1, report.ConversationDupes)
	// C001 C001 C003 C002 -> C001 C002 C003 C004
	assert.Equal(t, 2, report.ConversationsRenumbered)
	assert.Equal(t, 5, report.Prompts)
	assert.Equal(t, 1, report.PromptDupes)
	// AB12C: P001 P001 P005 -> P001 P002 P003
	assert.Equal(t, 2, report.PromptsRenumbered)
	assert.Equal(t, map[string]int64{
		"conversation_id": 4,
		"prompt_id_AB12C": 3,
		"prompt_id_ZZ99Z": 2,
	}, report.CountersSet)

	conversations, err := env.store.Conversations().ListAll(ctx, false)
	require.NoError(t, err)
	var ids []string
	for _, c := range conversations {
		ids = append(ids, c.ConversationID)
	}
	assert.Equal(t, []string{"C001", "C002", "C003", "C004"}, ids)

	after, err := env.repair.VerifyUniqueIDs(ctx)
	require.NoError(t, err)
	assert.True(t, after.Clean())

	again, err := env.repair.RepairDuplicateIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Writes())
}

func TestRepairResetsCountersForFutureAllocations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedLegacyData(t, env)

	_, err := env.repair.RepairDuplicateIDs(ctx)
	require.NoError(t, err)

	convID, err := env.ids.NextConversationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "C005", convID)

	promptID, err := env.prompts.CreatePrompt(ctx, "AB12C", "new one", nil)
	require.NoError(t, err)
	assert.Equal(t, "P004", promptID)
}

func TestStatistics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.users.CreateUser(ctx, "AB12C", models.ConsentGiven)
	require.NoError(t, err)
	_, err = env.users.CreateUser(ctx, "ZZ99Z", models.ConsentDeclined)
	require.NoError(t, err)
	_, err = env.users.CreateUser(ctx, "QQ11Q", models.ConsentUndecided)
	require.NoError(t, err)

	convID := startConversation(t, env, "AB12C", "tutor")
	stats, err := env.conversations.AppendTurn(ctx, convID, "AB12C", models.RoleUser, "hello")
	require.NoError(t, err)

	sys, err := env.stats.SystemStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sys.TotalUsers)
	assert.Equal(t, int64(1), sys.TotalPrompts)
	assert.Equal(t, models.ConsentBreakdown{Given: 1, Declined: 1, Pending: 1}, sys.Consent)
	assert.Equal(t, int64(1), sys.Conversations)
	assert.Equal(t, int64(2), sys.Messages)
	assert.Equal(t, int64(stats.TotalInputTokens), sys.TotalInputTokens)

	activity, err := env.stats.UserActivity(ctx, "ab12c", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), activity.Prompts)
	assert.Equal(t, int64(1), activity.Conversations)
	assert.Len(t, activity.RecentActions, 3)
	assert.Equal(t, models.ActionChatMessage, activity.RecentActions[0].Action)
}
