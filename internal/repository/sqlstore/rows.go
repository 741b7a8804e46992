package sqlstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
)

// scanJSON 兼容驱动返回 []byte 或 string
func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}

// documentList 提示词附带的文档，以 JSON 存储
type documentList []models.Document

// Value implements driver.Valuer
func (d documentList) Value() (driver.Value, error) {
	if d == nil {
		return "[]", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (d *documentList) Scan(value interface{}) error {
	*d = documentList{}
	return scanJSON(value, d)
}

// documentMetaList 不含正文的文档元数据，供列表读取；NULL 表示该列出现前写入的记录
type documentMetaList []models.DocumentMeta

func newDocumentMetaList(docs []models.Document) documentMetaList {
	out := make(documentMetaList, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Meta())
	}
	return out
}

// Value implements driver.Valuer
func (d documentMetaList) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (d *documentMetaList) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	*d = documentMetaList{}
	return scanJSON(value, d)
}

func (d documentMetaList) documents() []models.Document {
	out := make([]models.Document, 0, len(d))
	for _, m := range d {
		out = append(out, models.Document{Filename: m.Filename, FileType: m.FileType, FileSize: m.FileSize, UploadedAt: m.UploadedAt})
	}
	return out
}

// messageList 对话消息，以 JSON 存储
type messageList []models.Message

// Value implements driver.Valuer
func (m messageList) Value() (driver.Value, error) {
	if m == nil {
		return "[]", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *messageList) Scan(value interface{}) error {
	*m = messageList{}
	return scanJSON(value, m)
}

// jsonMap 审计日志的附加数据
type jsonMap map[string]interface{}

// Value implements driver.Valuer
func (j jsonMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (j *jsonMap) Scan(value interface{}) error {
	*j = jsonMap{}
	return scanJSON(value, j)
}

type userRow struct {
	Code           string    `gorm:"primaryKey;size:32"`
	DataUseConsent *bool     `gorm:"column:data_use_consent"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false;not null;index"`
	LastLogin      time.Time `gorm:"not null"`
}

func (userRow) TableName() string { return "users" }

func (r userRow) model() models.User {
	return models.User{
		Code:           r.Code,
		DataUseConsent: models.ConsentFromBool(r.DataUseConsent),
		CreatedAt:      r.CreatedAt,
		LastLogin:      r.LastLogin,
	}
}

// promptRow token 列可为空，对应缺少统计的历史记录；token_count 为旧列
type promptRow struct {
	ID                 uint64       `gorm:"primaryKey;autoIncrement"`
	PromptID           string       `gorm:"size:32;not null;index:idx_prompts_owner,priority:2"`
	UserCode           string       `gorm:"size:32;not null;index:idx_prompts_owner,priority:1"`
	Content            string       `gorm:"type:text;not null"`
	Documents          documentList `gorm:"type:text"`
	DocumentMeta       documentMetaList `gorm:"type:text"`
	PromptTokenCount   *int
	DocumentTokenCount *int
	TotalTokenCount    *int
	TokenCount         *int      `gorm:"column:token_count"`
	CreatedAt          time.Time `gorm:"autoCreateTime:false;not null;index"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (promptRow) TableName() string { return "prompts" }

func newPromptRow(p *models.Prompt) promptRow {
	promptTokens, documentTokens, totalTokens := p.PromptTokenCount, p.DocumentTokenCount, p.TotalTokenCount
	return promptRow{
		PromptID:           p.PromptID,
		UserCode:           p.UserCode,
		Content:            p.Content,
		Documents:          documentList(p.Documents),
		DocumentMeta:       newDocumentMetaList(p.Documents),
		PromptTokenCount:   &promptTokens,
		DocumentTokenCount: &documentTokens,
		TotalTokenCount:    &totalTokens,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func (r promptRow) model() models.Prompt {
	return models.Prompt{
		Ref:                formatRef(r.ID),
		PromptID:           r.PromptID,
		UserCode:           r.UserCode,
		Content:            r.Content,
		Documents:          []models.Document(r.Documents),
		PromptTokenCount:   derefInt(r.PromptTokenCount),
		DocumentTokenCount: derefInt(r.DocumentTokenCount),
		TotalTokenCount:    derefInt(r.TotalTokenCount),
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

// conversationRow Version 用于追加消息时的乐观并发控制
type conversationRow struct {
	ID                uint64      `gorm:"primaryKey;autoIncrement"`
	ConversationID    string      `gorm:"size:32;not null;index:idx_conversations_owner,priority:2"`
	UserCode          string      `gorm:"size:32;not null;index:idx_conversations_owner,priority:1"`
	PromptID          string      `gorm:"size:32;not null"`
	FirstMessage      string      `gorm:"type:text"`
	Messages          messageList `gorm:"type:text"`
	MessageCount      int         `gorm:"not null"`
	Version           int64       `gorm:"not null"`
	TotalInputTokens  int         `gorm:"not null"`
	TotalOutputTokens int         `gorm:"not null"`
	CreatedAt         time.Time   `gorm:"autoCreateTime:false;not null;index"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime:false;not null"`
}

func (conversationRow) TableName() string { return "conversations" }

func newConversationRow(c *models.Conversation) conversationRow {
	row := conversationRow{
		ConversationID:    c.ConversationID,
		UserCode:          c.UserCode,
		PromptID:          c.PromptID,
		Messages:          messageList(c.Messages),
		MessageCount:      len(c.Messages),
		TotalInputTokens:  c.TokenStats.TotalInputTokens,
		TotalOutputTokens: c.TokenStats.TotalOutputTokens,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
	if len(c.Messages) > 0 {
		row.FirstMessage = c.Messages[0].Content
	}
	return row
}

func (r conversationRow) model() models.Conversation {
	return models.Conversation{
		Ref:            formatRef(r.ID),
		ConversationID: r.ConversationID,
		UserCode:       r.UserCode,
		PromptID:       r.PromptID,
		Messages:       []models.Message(r.Messages),
		TokenStats: models.TokenStats{
			TotalInputTokens:  r.TotalInputTokens,
			TotalOutputTokens: r.TotalOutputTokens,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r conversationRow) summary() models.ConversationSummary {
	return models.ConversationSummary{
		ConversationID:      r.ConversationID,
		UserCode:            r.UserCode,
		PromptID:            r.PromptID,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		FirstMessagePreview: r.FirstMessage,
	}
}

type adminCodeRow struct {
	Code      string    `gorm:"primaryKey;size:32"`
	Level     string    `gorm:"size:16;not null"`
	AddedBy   string    `gorm:"size:32"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;not null"`
	IsActive  bool      `gorm:"not null;index"`
	RemovedBy string    `gorm:"size:32"`
	RemovedAt *time.Time
}

func (adminCodeRow) TableName() string { return "admin_codes" }

func (r adminCodeRow) model() models.AdminCode {
	status := models.AdminInactive
	if r.IsActive {
		status = models.AdminActive
	}
	return models.AdminCode{
		Code:      r.Code,
		Level:     models.AdminLevel(r.Level),
		AddedBy:   r.AddedBy,
		CreatedAt: r.CreatedAt,
		Status:    status,
		RemovedBy: r.RemovedBy,
		RemovedAt: r.RemovedAt,
	}
}

type logRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserCode  string    `gorm:"size:32;not null;index:idx_logs_user_time,priority:1"`
	Action    string    `gorm:"size:64;not null"`
	Data      jsonMap   `gorm:"type:text"`
	Timestamp time.Time `gorm:"column:logged_at;not null;index:idx_logs_user_time,priority:2"`
}

func (logRow) TableName() string { return "logs" }

type counterRow struct {
	ID       string `gorm:"primaryKey;size:64"`
	Sequence int64  `gorm:"not null"`
}

func (counterRow) TableName() string { return "counters" }

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func formatRef(id uint64) string {
	return strconv.FormatUint(id, 10)
}
