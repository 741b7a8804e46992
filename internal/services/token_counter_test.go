package services

import (
	"testing"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCountTokensEmpty(t *testing.T) {
	tc := NewTokenCounterWithEncoder(HeuristicEncoder{})
	assert.Equal(t, 0, tc.CountTokens(""))
	assert.Equal(t, 0, tc.CountMessageTokens(models.RoleUser, ""))
}

func TestCountMessageTokensAddsOverhead(t *testing.T) {
	tc := NewTokenCounterWithEncoder(HeuristicEncoder{})
	// 8 字节 => 2 token
	assert.Equal(t, 2, tc.CountTokens("abcdefgh"))
	assert.Equal(t, 2+MessageOverheadTokens, tc.CountMessageTokens(models.RoleAssistant, "abcdefgh"))
}

func TestDefaultTokenCounterIsPositive(t *testing.T) {
	tc := NewTokenCounter(nil)
	n := tc.CountTokens("Explain photosynthesis")
	assert.Greater(t, n, 0)
	assert.Equal(t, n, tc.CountTokens("Explain photosynthesis"))
}

func TestCountConversationTokensClassification(t *testing.T) {
	tc := NewTokenCounterWithEncoder(HeuristicEncoder{})
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "abcd"},
		{Role: models.RoleUser, Content: "abcdefgh"},
		{Role: models.RoleAssistant, Content: "abcd"},
	}

	counts := tc.CountConversationTokens(messages)
	assert.Equal(t, []int{5, 6, 5}, counts.PerMessage)
	// system 与 user 计入输入
	assert.Equal(t, 11, counts.TotalInputTokens)
	assert.Equal(t, 5, counts.TotalOutputTokens)
	assert.Equal(t, counts.Stats(), tc.ConversationStats(messages))
}

func TestCountConversationTokensSumsPerMessage(t *testing.T) {
	tc := NewTokenCounter(nil)
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "You are a biology tutor."},
		{Role: models.RoleUser, Content: "What is chlorophyll?"},
		{Role: models.RoleAssistant, Content: "It is a pigment that absorbs light."},
		{Role: models.RoleUser, Content: ""},
	}
	counts := tc.CountConversationTokens(messages)

	sum := 0
	for _, n := range counts.PerMessage {
		sum += n
	}
	assert.Equal(t, sum, counts.TotalInputTokens+counts.TotalOutputTokens)
	assert.Equal(t, 0, counts.PerMessage[3])
}

func TestEstimateAPITokens(t *testing.T) {
	tc := NewTokenCounterWithEncoder(HeuristicEncoder{})
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "abcd"},
		{Role: models.RoleUser, Content: "abcd"},
	}
	est := tc.EstimateAPITokens(messages)
	assert.Equal(t, 10+2*APIPrimingTokensPerMessage, est.TotalInputTokens)
	assert.Equal(t, 0, est.TotalOutputTokens)
}
