package mongostore

import (
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type userDoc struct {
	ID             bson.ObjectID `bson:"_id,omitempty"`
	Code           string        `bson:"code"`
	DataUseConsent *bool         `bson:"data_use_consent"`
	CreatedAt      time.Time     `bson:"created_at"`
	LastLogin      time.Time     `bson:"last_login"`
}

func (d userDoc) model() models.User {
	return models.User{
		Code:           d.Code,
		DataUseConsent: models.ConsentFromBool(d.DataUseConsent),
		CreatedAt:      d.CreatedAt,
		LastLogin:      d.LastLogin,
	}
}

type documentDoc struct {
	Filename   string    `bson:"filename"`
	FileType   string    `bson:"file_type"`
	FileSize   int64     `bson:"file_size"`
	UploadedAt time.Time `bson:"uploaded_at"`
	Content    string    `bson:"content,omitempty"`
}

// promptDoc token 字段用指针区分历史记录中缺失的字段
type promptDoc struct {
	ID                 bson.ObjectID `bson:"_id,omitempty"`
	PromptID           string        `bson:"prompt_id"`
	UserCode           string        `bson:"user_code"`
	Content            string        `bson:"content"`
	Documents          []documentDoc `bson:"documents"`
	PromptTokenCount   *int          `bson:"prompt_token_count,omitempty"`
	DocumentTokenCount *int          `bson:"document_token_count,omitempty"`
	TotalTokenCount    *int          `bson:"total_token_count,omitempty"`
	CreatedAt          time.Time     `bson:"created_at"`
	UpdatedAt          time.Time     `bson:"updated_at"`
}

func intPtr(v int) *int { return &v }

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func newPromptDoc(p *models.Prompt) promptDoc {
	docs := make([]documentDoc, 0, len(p.Documents))
	for _, d := range p.Documents {
		docs = append(docs, documentDoc{
			Filename:   d.Filename,
			FileType:   d.FileType,
			FileSize:   d.FileSize,
			UploadedAt: d.UploadedAt,
			Content:    d.Content,
		})
	}
	return promptDoc{
		PromptID:           p.PromptID,
		UserCode:           p.UserCode,
		Content:            p.Content,
		Documents:          docs,
		PromptTokenCount:   intPtr(p.PromptTokenCount),
		DocumentTokenCount: intPtr(p.DocumentTokenCount),
		TotalTokenCount:    intPtr(p.TotalTokenCount),
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func (d promptDoc) model() models.Prompt {
	docs := make([]models.Document, 0, len(d.Documents))
	for _, doc := range d.Documents {
		docs = append(docs, models.Document{
			Filename:   doc.Filename,
			FileType:   doc.FileType,
			FileSize:   doc.FileSize,
			UploadedAt: doc.UploadedAt,
			Content:    doc.Content,
		})
	}
	return models.Prompt{
		Ref:                d.ID.Hex(),
		PromptID:           d.PromptID,
		UserCode:           d.UserCode,
		Content:            d.Content,
		Documents:          docs,
		PromptTokenCount:   derefInt(d.PromptTokenCount),
		DocumentTokenCount: derefInt(d.DocumentTokenCount),
		TotalTokenCount:    derefInt(d.TotalTokenCount),
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

type messageDoc struct {
	Role       string    `bson:"role"`
	Content    string    `bson:"content"`
	Timestamp  time.Time `bson:"timestamp"`
	TokenCount int       `bson:"token_count"`
}

type tokenStatsDoc struct {
	TotalInputTokens  int `bson:"total_input_tokens"`
	TotalOutputTokens int `bson:"total_output_tokens"`
}

type conversationDoc struct {
	ID             bson.ObjectID `bson:"_id,omitempty"`
	ConversationID string        `bson:"conversation_id"`
	UserCode       string        `bson:"user_code"`
	PromptID       string        `bson:"prompt_id"`
	Messages       []messageDoc  `bson:"messages"`
	TokenStats     tokenStatsDoc `bson:"token_stats"`
	CreatedAt      time.Time     `bson:"created_at"`
	UpdatedAt      time.Time     `bson:"updated_at"`
}

func newMessageDocs(msgs []models.Message) []messageDoc {
	out := make([]messageDoc, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageDoc(m))
	}
	return out
}

func newMessageDoc(m models.Message) messageDoc {
	return messageDoc{
		Role:       string(m.Role),
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		TokenCount: m.TokenCount,
	}
}

func newStatsDoc(s models.TokenStats) tokenStatsDoc {
	return tokenStatsDoc{TotalInputTokens: s.TotalInputTokens, TotalOutputTokens: s.TotalOutputTokens}
}

func newConversationDoc(c *models.Conversation) conversationDoc {
	return conversationDoc{
		ConversationID: c.ConversationID,
		UserCode:       c.UserCode,
		PromptID:       c.PromptID,
		Messages:       newMessageDocs(c.Messages),
		TokenStats:     newStatsDoc(c.TokenStats),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func (d conversationDoc) messages() []models.Message {
	out := make([]models.Message, 0, len(d.Messages))
	for _, m := range d.Messages {
		out = append(out, models.Message{
			Role:       models.Role(m.Role),
			Content:    m.Content,
			Timestamp:  m.Timestamp,
			TokenCount: m.TokenCount,
		})
	}
	return out
}

func (d conversationDoc) model() models.Conversation {
	return models.Conversation{
		Ref:            d.ID.Hex(),
		ConversationID: d.ConversationID,
		UserCode:       d.UserCode,
		PromptID:       d.PromptID,
		Messages:       d.messages(),
		TokenStats: models.TokenStats{
			TotalInputTokens:  d.TokenStats.TotalInputTokens,
			TotalOutputTokens: d.TokenStats.TotalOutputTokens,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (d conversationDoc) summary() models.ConversationSummary {
	s := models.ConversationSummary{
		ConversationID: d.ConversationID,
		UserCode:       d.UserCode,
		PromptID:       d.PromptID,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if len(d.Messages) > 0 {
		s.FirstMessagePreview = d.Messages[0].Content
	}
	return s
}

type adminCodeDoc struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Code      string        `bson:"code"`
	Level     string        `bson:"level"`
	AddedBy   string        `bson:"added_by"`
	CreatedAt time.Time     `bson:"created_at"`
	IsActive  bool          `bson:"is_active"`
	RemovedBy string        `bson:"removed_by,omitempty"`
	RemovedAt *time.Time    `bson:"removed_at,omitempty"`
}

func (d adminCodeDoc) model() models.AdminCode {
	level, _ := models.ParseAdminLevel(d.Level)
	status := models.AdminInactive
	if d.IsActive {
		status = models.AdminActive
	}
	return models.AdminCode{
		Code:      d.Code,
		Level:     level,
		AddedBy:   d.AddedBy,
		CreatedAt: d.CreatedAt,
		Status:    status,
		RemovedBy: d.RemovedBy,
		RemovedAt: d.RemovedAt,
	}
}

type logDoc struct {
	ID        bson.ObjectID          `bson:"_id,omitempty"`
	UserCode  string                 `bson:"user_code"`
	Action    string                 `bson:"action"`
	Data      map[string]interface{} `bson:"data"`
	Timestamp time.Time              `bson:"timestamp"`
}

type counterDoc struct {
	ID       string `bson:"_id"`
	Sequence int64  `bson:"sequence"`
}
