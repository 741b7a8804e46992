package models

import (
	"time"
)

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid 是否为已知角色
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// IsInput system 与 user 消息计入输入 token
func (r Role) IsInput() bool {
	return r == RoleSystem || r == RoleUser
}

// Message 对话中的一条消息，只属于其所在对话
type Message struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"token_count"`
}

// TokenStats 对话 token 统计
type TokenStats struct {
	TotalInputTokens  int `json:"total_input_tokens"`
	TotalOutputTokens int `json:"total_output_tokens"`
}

// Total 输入输出合计
func (s TokenStats) Total() int {
	return s.TotalInputTokens + s.TotalOutputTokens
}

// Conversation 对话
type Conversation struct {
	// Ref 存储层内部主键，重新编号时保持不变
	Ref string `json:"-"`

	ConversationID string     `json:"conversation_id"`
	UserCode       string     `json:"user_code"`
	PromptID       string     `json:"prompt_id"`
	Messages       []Message  `json:"messages"`
	TokenStats     TokenStats `json:"token_stats"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ConversationSummary 只带第一条（system）消息的轻量对话
type ConversationSummary struct {
	ConversationID      string    `json:"conversation_id"`
	UserCode            string    `json:"user_code"`
	PromptID            string    `json:"prompt_id"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	FirstMessagePreview string    `json:"first_message_preview"`
}

// ConversationTotals 全部对话的聚合数据
type ConversationTotals struct {
	Conversations     int64 `json:"total_conversations"`
	Messages          int64 `json:"total_messages"`
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
}
