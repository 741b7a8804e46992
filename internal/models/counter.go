package models

import (
	"fmt"
)

// EntityKind 计数器所属实体
type EntityKind int

const (
	KindConversation EntityKind = iota + 1
	KindPrompt
)

// String 返回实体名称
func (k EntityKind) String() string {
	switch k {
	case KindConversation:
		return "conversation"
	case KindPrompt:
		return "prompt"
	}
	return "unknown"
}

// CounterKey 计数器键：实体类型 + 可选所有者。
// 对话计数器为全局，提示词计数器按用户划分。
type CounterKey struct {
	Kind  EntityKind
	Owner string
}

// ConversationCounter 全局对话计数器
func ConversationCounter() CounterKey {
	return CounterKey{Kind: KindConversation}
}

// PromptCounter 用户的提示词计数器
func PromptCounter(userCode string) CounterKey {
	return CounterKey{Kind: KindPrompt, Owner: userCode}
}

// Valid 检查键是否完整
func (k CounterKey) Valid() bool {
	switch k.Kind {
	case KindConversation:
		return k.Owner == ""
	case KindPrompt:
		return k.Owner != ""
	}
	return false
}

// DocumentID 计数器文档的存储键，与历史数据保持一致
func (k CounterKey) DocumentID() string {
	switch k.Kind {
	case KindConversation:
		return "conversation_id"
	case KindPrompt:
		return fmt.Sprintf("prompt_id_%s", k.Owner)
	}
	return ""
}

// String 便于日志输出
func (k CounterKey) String() string {
	if k.Owner == "" {
		return k.Kind.String()
	}
	return k.Kind.String() + ":" + k.Owner
}
