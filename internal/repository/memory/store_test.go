package memory

import (
	"context"
	"testing"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.Store { return New() })
}

func TestLegacyPromptBackfill(t *testing.T) {
	ctx := context.Background()
	s := New()
	legacy := 12
	s.SeedLegacyPrompt(models.Prompt{PromptID: "P001", UserCode: "AB12C", Content: "old"}, &legacy)

	pending, err := s.Prompts().ListNeedingTokenBackfill(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.Prompts().SetTokenCounts(ctx, pending[0].Ref, 1, 0, 1))
	pending, err = s.Prompts().ListNeedingTokenBackfill(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Close(ctx))

	assert.Error(t, s.Ping(ctx))
	_, err := s.Counters().Increment(ctx, models.ConversationCounter())
	assert.Error(t, err)
}
