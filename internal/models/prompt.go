package models

import (
	"time"
)

// Document 附加到提示词的参考文档，Content 为提取后的文本
type Document struct {
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	FileSize   int64     `json:"file_size"`
	UploadedAt time.Time `json:"uploaded_at"`
	Content    string    `json:"content,omitempty"`
}

// DocumentMeta 不含正文的文档元数据
type DocumentMeta struct {
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	FileSize   int64     `json:"file_size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Meta 返回文档元数据
func (d Document) Meta() DocumentMeta {
	return DocumentMeta{
		Filename:   d.Filename,
		FileType:   d.FileType,
		FileSize:   d.FileSize,
		UploadedAt: d.UploadedAt,
	}
}

// Prompt 提示词
type Prompt struct {
	// Ref 存储层内部主键，重新编号时保持不变
	Ref string `json:"-"`

	PromptID           string     `json:"prompt_id"`
	UserCode           string     `json:"user_code"`
	Content            string     `json:"content"`
	Documents          []Document `json:"documents"`
	PromptTokenCount   int        `json:"prompt_token_count"`
	DocumentTokenCount int        `json:"document_token_count"`
	TotalTokenCount    int        `json:"total_token_count"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// PromptSummary 列表视图使用的轻量提示词
type PromptSummary struct {
	PromptID           string         `json:"prompt_id"`
	UserCode           string         `json:"user_code"`
	Content            string         `json:"content"`
	Documents          []DocumentMeta `json:"documents"`
	PromptTokenCount   int            `json:"prompt_token_count"`
	DocumentTokenCount int            `json:"document_token_count"`
	TotalTokenCount    int            `json:"total_token_count"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Summary 去掉文档正文
func (p Prompt) Summary() PromptSummary {
	docs := make([]DocumentMeta, 0, len(p.Documents))
	for _, d := range p.Documents {
		docs = append(docs, d.Meta())
	}
	return PromptSummary{
		PromptID:           p.PromptID,
		UserCode:           p.UserCode,
		Content:            p.Content,
		Documents:          docs,
		PromptTokenCount:   p.PromptTokenCount,
		DocumentTokenCount: p.DocumentTokenCount,
		TotalTokenCount:    p.TotalTokenCount,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}
