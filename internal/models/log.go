package models

import (
	"time"
)

// 审计动作
const (
	ActionLogin                = "login"
	ActionLogout               = "logout"
	ActionUserCreated          = "user_created"
	ActionConsentUpdated       = "consent_updated"
	ActionChatMessage          = "chat_message"
	ActionPromptCreate         = "prompt_create"
	ActionConversationStart    = "conversation_start"
	ActionConversationContinue = "conversation_continue"
	ActionPromptSelection      = "prompt_selection"
	ActionPageVisit            = "page_visit"
	ActionError                = "error"
)

// LogEntry 只追加的审计记录
type LogEntry struct {
	UserCode  string                 `json:"user_code"`
	Action    string                 `json:"action"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}
