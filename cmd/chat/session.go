package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/bronsonhill/prompting-task-ISLM10002/internal/errors"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/llm"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/services"
)

// options 命令行参数
type options struct {
	code           string
	consent        string
	promptID       string
	conversationID string
	newPrompt      string
	docs           []string
}

// session 一次终端对话
type session struct {
	users         *services.UserService
	prompts       *services.PromptService
	conversations *services.ConversationService
	client        llm.Client

	in  *bufio.Scanner
	out io.Writer
	// readFile 读取 --doc 指定的文件
	readFile func(string) ([]byte, error)
}

func newSession(users *services.UserService, prompts *services.PromptService, conversations *services.ConversationService, client llm.Client, in io.Reader, out io.Writer) *session {
	return &session{
		users:         users,
		prompts:       prompts,
		conversations: conversations,
		client:        client,
		in:            bufio.NewScanner(in),
		out:           out,
		readFile:      os.ReadFile,
	}
}

func (s *session) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}

// readLine 读到输入结束时返回 false
func (s *session) readLine(prompt string) (string, bool) {
	s.printf("%s", prompt)
	if !s.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}

func parseConsent(answer string) (models.Consent, bool) {
	switch strings.ToLower(answer) {
	case "y", "yes":
		return models.ConsentGiven, true
	case "n", "no":
		return models.ConsentDeclined, true
	}
	return models.ConsentUndecided, false
}

// login 登录；需要授权时使用 --consent 或向终端询问
func (s *session) login(ctx context.Context, opts options) (*models.User, error) {
	res, err := s.users.Login(ctx, opts.code)
	if err != nil {
		return nil, err
	}
	if res.NeedsConsent {
		consent, ok := parseConsent(opts.consent)
		for !ok {
			answer, more := s.readLine("Allow your conversations to be used for research? [y/n]: ")
			if !more {
				return nil, apperrors.NewValidationError("data use consent is required to continue")
			}
			consent, ok = parseConsent(answer)
		}
		res, err = s.users.CompleteRegistration(ctx, opts.code, consent)
		if err != nil {
			return nil, err
		}
		if res.NeedsConsent {
			return nil, apperrors.NewPolicyError("data use consent was declined")
		}
	}
	role := "user"
	if res.IsAdmin {
		role = "admin"
	}
	s.printf("Logged in as %s (%s)\n", res.User.Code, role)
	return res.User, nil
}

func (s *session) createPrompt(ctx context.Context, userCode string, opts options) (string, error) {
	docs := make([]models.Document, 0, len(opts.docs))
	for _, path := range opts.docs {
		data, err := s.readFile(path)
		if err != nil {
			return "", apperrors.NewInvalidInputError("doc", err.Error())
		}
		doc, err := s.prompts.AttachDocument(ctx, filepath.Base(path), "", data)
		if err != nil {
			return "", err
		}
		docs = append(docs, doc)
	}

	counts := s.prompts.CountPromptTokens(opts.newPrompt, docs)
	promptID, err := s.prompts.CreatePrompt(ctx, userCode, opts.newPrompt, docs)
	if err != nil {
		return "", err
	}
	s.printf("Created prompt %s (%d prompt tokens, %d document tokens)\n", promptID, counts.Prompt, counts.Document)
	return promptID, nil
}

// overview 没有指定对话时列出提示词与对话
func (s *session) overview(ctx context.Context, userCode string) error {
	prompts, err := s.prompts.ListPromptsLightweight(ctx, userCode)
	if err != nil {
		return err
	}
	s.printf("Prompts (%d):\n", len(prompts))
	for _, p := range prompts {
		s.printf("  %s  %s\n", p.PromptID, preview(p.Content, 60))
	}
	conversations, err := s.conversations.ListConversations(ctx, userCode)
	if err != nil {
		return err
	}
	s.printf("Conversations (%d):\n", len(conversations))
	for _, c := range conversations {
		s.printf("  %s  prompt %s  updated %s\n", c.ConversationID, c.PromptID, c.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func (s *session) printHistory(conv *models.Conversation) {
	for _, m := range conv.Messages {
		if m.Role == models.RoleSystem {
			continue
		}
		s.printf("[%s] %s\n", m.Role, m.Content)
	}
}

// run 登录后选择或创建对话，随后逐行对话直到输入结束或 /quit
func (s *session) run(ctx context.Context, opts options) error {
	user, err := s.login(ctx, opts)
	if err != nil {
		return err
	}
	defer s.users.Logout(ctx, user.Code)

	promptID := opts.promptID
	if opts.newPrompt != "" {
		if promptID, err = s.createPrompt(ctx, user.Code, opts); err != nil {
			return err
		}
	}

	conversationID := opts.conversationID
	switch {
	case conversationID != "":
		conv, err := s.conversations.ContinueConversation(ctx, conversationID, user.Code)
		if err != nil {
			return err
		}
		s.printf("Continuing conversation %s (prompt %s)\n", conv.ConversationID, conv.PromptID)
		s.printHistory(conv)
		s.printf("Next request sends about %d tokens of history\n", s.conversations.EstimateRequestTokens(conv))
	case promptID != "":
		if conversationID, err = s.conversations.StartConversation(ctx, user.Code, promptID); err != nil {
			return err
		}
		s.printf("Started conversation %s with prompt %s\n", conversationID, promptID)
	default:
		return s.overview(ctx, user.Code)
	}

	for {
		line, ok := s.readLine("> ")
		if !ok || line == "/quit" {
			return nil
		}
		if line == "" {
			continue
		}
		_, stats, err := s.conversations.CompleteTurn(ctx, conversationID, user.Code, line, s.client, func(fragment string) {
			s.printf("%s", fragment)
		})
		s.printf("\n")
		if err != nil {
			// 补全失败不结束会话
			if apperrors.IsExternal(err) {
				s.printf("Error: the assistant could not reply, please try again.\n")
				continue
			}
			return err
		}
		s.printf("(tokens: input %d, output %d)\n", stats.TotalInputTokens, stats.TotalOutputTokens)
	}
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
