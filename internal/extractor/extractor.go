// Package extractor 从上传的参考文档中提取文本
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// ErrUnsupportedType 不支持的文件类型
var ErrUnsupportedType = errors.New("unsupported document type")

// CorruptContentError 类型受支持但内容无法解析
type CorruptContentError struct {
	Filename string
	Err      error
}

func (e *CorruptContentError) Error() string {
	return fmt.Sprintf("failed to extract text from %s: %v", e.Filename, e.Err)
}

func (e *CorruptContentError) Unwrap() error {
	return e.Err
}

// IsCorrupt 是否为内容损坏错误
func IsCorrupt(err error) bool {
	var ce *CorruptContentError
	return errors.As(err, &ce)
}

// 文档类型
const (
	TypePDF  = "application/pdf"
	TypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypeText = "text/plain"
)

// Parser 单一格式的解析器
type Parser interface {
	Parse(data []byte) (string, error)
	Supports(fileType string) bool
}

// TextParser 纯文本
type TextParser struct{}

func (p *TextParser) Supports(fileType string) bool {
	return fileType == TypeText
}

func (p *TextParser) Parse(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid UTF-8")
	}
	return string(data), nil
}

// PDFParser PDF文件解析器
type PDFParser struct{}

func (p *PDFParser) Supports(fileType string) bool {
	return fileType == TypePDF
}

func (p *PDFParser) Parse(data []byte) (string, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("count pdf pages: %w", err)
	}

	var textBuilder strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			return "", fmt.Errorf("read page %d: %w", i, err)
		}
		ex, err := extractor.New(page)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		text, err := ex.ExtractText()
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}
	return textBuilder.String(), nil
}

// WordParser docx 解析器
type WordParser struct{}

func (p *WordParser) Supports(fileType string) bool {
	return fileType == TypeDOCX
}

func (p *WordParser) Parse(data []byte) (string, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			textBuilder.WriteString(run.Text())
		}
		textBuilder.WriteString("\n")
	}
	return textBuilder.String(), nil
}

// Extractor 按声明类型选择解析器
type Extractor struct {
	parsers []Parser
}

// New 创建支持 PDF、DOCX、纯文本的提取器
func New() *Extractor {
	return &Extractor{
		parsers: []Parser{
			&PDFParser{},
			&WordParser{},
			&TextParser{},
		},
	}
}

// NormalizeType 把 MIME 类型或扩展名统一为 MIME 类型；declared 为空时按文件名判断
func NormalizeType(filename, declared string) string {
	t := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.Index(t, ";"); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if t == "" {
		t = strings.ToLower(filepath.Ext(filename))
	}
	switch t {
	case "pdf", ".pdf", TypePDF:
		return TypePDF
	case "docx", ".docx", TypeDOCX:
		return TypeDOCX
	case "txt", ".txt", "text", TypeText:
		return TypeText
	}
	return t
}

// Extract 返回提取的文本；不支持的类型返回 ErrUnsupportedType，解析失败返回 *CorruptContentError
func (e *Extractor) Extract(ctx context.Context, filename, declaredType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fileType := NormalizeType(filename, declaredType)
	for _, parser := range e.parsers {
		if !parser.Supports(fileType) {
			continue
		}
		text, err := parser.Parse(data)
		if err != nil {
			return "", &CorruptContentError{Filename: filename, Err: err}
		}
		return text, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
}
