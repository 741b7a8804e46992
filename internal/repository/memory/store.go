// Package memory 进程内存储，用于测试和本地开发
package memory

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
)

var errClosed = errors.New("memory store closed")

type promptRecord struct {
	prompt models.Prompt
	// countsMissing 模拟缺少 token 字段的历史记录
	countsMissing    bool
	legacyTokenCount *int
}

// Store 内存实现，所有仓库共用一把锁
type Store struct {
	mu     sync.RWMutex
	closed bool
	nextID int64

	users         map[string]models.User
	prompts       []*promptRecord
	conversations []*models.Conversation
	adminCodes    map[string]models.AdminCode
	logs          []models.LogEntry
	counters      map[models.CounterKey]int64
}

// New 创建空的内存存储
func New() *Store {
	return &Store{
		users:      make(map[string]models.User),
		adminCodes: make(map[string]models.AdminCode),
		counters:   make(map[models.CounterKey]int64),
	}
}

func (s *Store) Users() repository.UserRepository                 { return userRepo{s} }
func (s *Store) Prompts() repository.PromptRepository             { return promptRepo{s} }
func (s *Store) Conversations() repository.ConversationRepository { return conversationRepo{s} }
func (s *Store) AdminCodes() repository.AdminCodeRepository       { return adminRepo{s} }
func (s *Store) Logs() repository.LogRepository                   { return logRepo{s} }
func (s *Store) Counters() repository.CounterRepository           { return counterRepo{s} }

// Ping 存储关闭后返回错误
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

// Close 关闭存储，之后的操作都会失败
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SeedLegacyPrompt 写入一条缺少 token 字段的历史提示词，legacyTokenCount 非空时同时带旧字段
func (s *Store) SeedLegacyPrompt(p models.Prompt, legacyTokenCount *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Ref = s.newRef()
	p.Documents = copyDocuments(p.Documents)
	s.prompts = append(s.prompts, &promptRecord{prompt: p, countsMissing: true, legacyTokenCount: legacyTokenCount})
}

func (s *Store) newRef() string {
	s.nextID++
	return strconv.FormatInt(s.nextID, 10)
}

func (s *Store) check(ctx context.Context) error {
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

func copyDocuments(docs []models.Document) []models.Document {
	if docs == nil {
		return nil
	}
	out := make([]models.Document, len(docs))
	copy(out, docs)
	return out
}

func copyMessages(msgs []models.Message) []models.Message {
	if msgs == nil {
		return nil
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

func copyConversation(c *models.Conversation) *models.Conversation {
	out := *c
	out.Messages = copyMessages(c.Messages)
	return &out
}

// users

type userRepo struct{ s *Store }

func (r userRepo) Get(ctx context.Context, code string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	u, ok := r.s.users[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r userRepo) Create(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	if _, ok := r.s.users[user.Code]; ok {
		return repository.ErrDuplicate
	}
	r.s.users[user.Code] = *user
	return nil
}

func (r userRepo) UpdateLastLogin(ctx context.Context, code string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	u, ok := r.s.users[code]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastLogin = at
	r.s.users[code] = u
	return nil
}

func (r userRepo) SetConsent(ctx context.Context, code string, consent models.Consent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	u, ok := r.s.users[code]
	if !ok {
		return repository.ErrNotFound
	}
	u.DataUseConsent = consent
	r.s.users[code] = u
	return nil
}

func (r userRepo) List(ctx context.Context) ([]models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// prompts

type promptRepo struct{ s *Store }

func (r promptRepo) Insert(ctx context.Context, prompt *models.Prompt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	prompt.Ref = r.s.newRef()
	p := *prompt
	p.Documents = copyDocuments(prompt.Documents)
	r.s.prompts = append(r.s.prompts, &promptRecord{prompt: p})
	return nil
}

// ordered 按创建时间正序返回记录副本指针
func (r promptRepo) ordered() []*promptRecord {
	out := make([]*promptRecord, len(r.s.prompts))
	copy(out, r.s.prompts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].prompt.CreatedAt.Before(out[j].prompt.CreatedAt)
	})
	return out
}

func (r promptRepo) Find(ctx context.Context, owner, promptID string) (*models.Prompt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	for _, rec := range r.ordered() {
		if rec.prompt.UserCode == owner && rec.prompt.PromptID == promptID {
			p := rec.prompt
			p.Documents = copyDocuments(rec.prompt.Documents)
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r promptRepo) FindAnyOwner(ctx context.Context, promptID string) (*models.Prompt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	for _, rec := range r.ordered() {
		if rec.prompt.PromptID == promptID {
			p := rec.prompt
			p.Documents = copyDocuments(rec.prompt.Documents)
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r promptRepo) ListByUser(ctx context.Context, owner string, withContent bool) ([]models.Prompt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	var out []models.Prompt
	for _, rec := range r.ordered() {
		if rec.prompt.UserCode != owner {
			continue
		}
		p := rec.prompt
		p.Documents = copyDocuments(rec.prompt.Documents)
		if !withContent {
			for i := range p.Documents {
				p.Documents[i].Content = ""
			}
		}
		out = append(out, p)
	}
	// 最新的在前
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r promptRepo) ListAll(ctx context.Context) ([]models.Prompt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	var out []models.Prompt
	for _, rec := range r.ordered() {
		p := rec.prompt
		p.Documents = nil
		out = append(out, p)
	}
	return out, nil
}

func (r promptRepo) find(ref string) *promptRecord {
	for _, rec := range r.s.prompts {
		if rec.prompt.Ref == ref {
			return rec
		}
	}
	return nil
}

func (r promptRepo) UpdatePromptID(ctx context.Context, ref, promptID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	rec := r.find(ref)
	if rec == nil {
		return repository.ErrNotFound
	}
	rec.prompt.PromptID = promptID
	return nil
}

func (r promptRepo) ListNeedingTokenBackfill(ctx context.Context) ([]models.Prompt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	var out []models.Prompt
	for _, rec := range r.ordered() {
		if rec.countsMissing || rec.legacyTokenCount != nil {
			p := rec.prompt
			p.Documents = copyDocuments(rec.prompt.Documents)
			out = append(out, p)
		}
	}
	return out, nil
}

func (r promptRepo) SetTokenCounts(ctx context.Context, ref string, promptTokens, documentTokens, totalTokens int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	rec := r.find(ref)
	if rec == nil {
		return repository.ErrNotFound
	}
	rec.prompt.PromptTokenCount = promptTokens
	rec.prompt.DocumentTokenCount = documentTokens
	rec.prompt.TotalTokenCount = totalTokens
	rec.countsMissing = false
	rec.legacyTokenCount = nil
	return nil
}

func (r promptRepo) Count(ctx context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return 0, err
	}
	return int64(len(r.s.prompts)), nil
}

func (r promptRepo) CountByUser(ctx context.Context, owner string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return 0, err
	}
	var n int64
	for _, rec := range r.s.prompts {
		if rec.prompt.UserCode == owner {
			n++
		}
	}
	return n, nil
}

// conversations

type conversationRepo struct{ s *Store }

func (r conversationRepo) Insert(ctx context.Context, conv *models.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	conv.Ref = r.s.newRef()
	r.s.conversations = append(r.s.conversations, copyConversation(conv))
	return nil
}

func (r conversationRepo) ordered() []*models.Conversation {
	out := make([]*models.Conversation, len(r.s.conversations))
	copy(out, r.s.conversations)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r conversationRepo) lookup(owner, conversationID string) *models.Conversation {
	for _, c := range r.ordered() {
		if c.UserCode == owner && c.ConversationID == conversationID {
			return c
		}
	}
	return nil
}

func (r conversationRepo) Find(ctx context.Context, owner, conversationID string) (*models.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	c := r.lookup(owner, conversationID)
	if c == nil {
		return nil, repository.ErrNotFound
	}
	return copyConversation(c), nil
}

func summarize(c *models.Conversation) models.ConversationSummary {
	sum := models.ConversationSummary{
		ConversationID: c.ConversationID,
		UserCode:       c.UserCode,
		PromptID:       c.PromptID,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if len(c.Messages) > 0 {
		sum.FirstMessagePreview = c.Messages[0].Content
	}
	return sum
}

func (r conversationRepo) FindSummary(ctx context.Context, owner, conversationID string) (*models.ConversationSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	c := r.lookup(owner, conversationID)
	if c == nil {
		return nil, repository.ErrNotFound
	}
	sum := summarize(c)
	return &sum, nil
}

func (r conversationRepo) ListSummaries(ctx context.Context, owner string) ([]models.ConversationSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	var out []models.ConversationSummary
	for _, c := range r.s.conversations {
		if c.UserCode == owner {
			out = append(out, summarize(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r conversationRepo) AppendMessages(ctx context.Context, owner, conversationID string, msgs []models.Message, stats repository.StatsFunc) (*models.Conversation, error) {
	if len(msgs) == 0 {
		return nil, repository.ErrNoMessages
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	c := r.lookup(owner, conversationID)
	if c == nil {
		return nil, repository.ErrNotFound
	}
	messages := append(copyMessages(c.Messages), msgs...)
	c.TokenStats = stats(messages)
	c.Messages = messages
	c.UpdatedAt = msgs[len(msgs)-1].Timestamp
	return copyConversation(c), nil
}

func (r conversationRepo) ListAll(ctx context.Context, withMessages bool) ([]models.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	var out []models.Conversation
	for _, c := range r.ordered() {
		cp := copyConversation(c)
		if !withMessages {
			cp.Messages = nil
		}
		out = append(out, *cp)
	}
	return out, nil
}

func (r conversationRepo) byRef(ref string) *models.Conversation {
	for _, c := range r.s.conversations {
		if c.Ref == ref {
			return c
		}
	}
	return nil
}

func (r conversationRepo) UpdateConversationID(ctx context.Context, ref, conversationID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	c := r.byRef(ref)
	if c == nil {
		return repository.ErrNotFound
	}
	c.ConversationID = conversationID
	return nil
}

func (r conversationRepo) ReplaceTokenStats(ctx context.Context, ref string, messages []models.Message, stats models.TokenStats) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	c := r.byRef(ref)
	if c == nil {
		return repository.ErrNotFound
	}
	if len(c.Messages) != len(messages) {
		return repository.ErrConflict
	}
	c.Messages = copyMessages(messages)
	c.TokenStats = stats
	return nil
}

func (r conversationRepo) Totals(ctx context.Context) (models.ConversationTotals, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var t models.ConversationTotals
	if err := r.s.check(ctx); err != nil {
		return t, err
	}
	for _, c := range r.s.conversations {
		t.Conversations++
		t.Messages += int64(len(c.Messages))
		t.TotalInputTokens += int64(c.TokenStats.TotalInputTokens)
		t.TotalOutputTokens += int64(c.TokenStats.TotalOutputTokens)
	}
	return t, nil
}

func (r conversationRepo) CountByUser(ctx context.Context, owner string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return 0, err
	}
	var n int64
	for _, c := range r.s.conversations {
		if c.UserCode == owner {
			n++
		}
	}
	return n, nil
}

// admin codes

type adminRepo struct{ s *Store }

func (r adminRepo) Find(ctx context.Context, code string) (*models.AdminCode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	a, ok := r.s.adminCodes[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r adminRepo) FindActive(ctx context.Context, code string) (*models.AdminCode, error) {
	a, err := r.Find(ctx, code)
	if err != nil {
		return nil, err
	}
	if !a.Active() {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (r adminRepo) Insert(ctx context.Context, admin *models.AdminCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	if _, ok := r.s.adminCodes[admin.Code]; ok {
		return repository.ErrDuplicate
	}
	r.s.adminCodes[admin.Code] = *admin
	return nil
}

func (r adminRepo) Reactivate(ctx context.Context, code string, level models.AdminLevel, addedBy string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	a, ok := r.s.adminCodes[code]
	if !ok || a.Active() {
		return repository.ErrNotFound
	}
	a.Level = level
	a.AddedBy = addedBy
	a.CreatedAt = at
	a.Status = models.AdminActive
	a.RemovedBy = ""
	a.RemovedAt = nil
	r.s.adminCodes[code] = a
	return nil
}

func (r adminRepo) Deactivate(ctx context.Context, code, removedBy string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return false, err
	}
	a, ok := r.s.adminCodes[code]
	if !ok || !a.Active() || a.Level == models.AdminLevelSuper {
		return false, nil
	}
	a.Status = models.AdminInactive
	a.RemovedBy = removedBy
	a.RemovedAt = &at
	r.s.adminCodes[code] = a
	return true, nil
}

func (r adminRepo) List(ctx context.Context, includeInactive bool) ([]models.AdminCode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	var out []models.AdminCode
	for _, a := range r.s.adminCodes {
		if includeInactive || a.Active() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r adminRepo) CountActive(ctx context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return 0, err
	}
	var n int64
	for _, a := range r.s.adminCodes {
		if a.Active() {
			n++
		}
	}
	return n, nil
}

// logs

type logRepo struct{ s *Store }

func (r logRepo) Append(ctx context.Context, entry *models.LogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	r.s.logs = append(r.s.logs, *entry)
	return nil
}

func (r logRepo) ListByUser(ctx context.Context, userCode string, limit int) ([]models.LogEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	var out []models.LogEntry
	for i := len(r.s.logs) - 1; i >= 0; i-- {
		if r.s.logs[i].UserCode != userCode {
			continue
		}
		out = append(out, r.s.logs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// counters

type counterRepo struct{ s *Store }

func (r counterRepo) Increment(ctx context.Context, key models.CounterKey) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return 0, err
	}
	r.s.counters[key]++
	return r.s.counters[key], nil
}

func (r counterRepo) Set(ctx context.Context, key models.CounterKey, value int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	r.s.counters[key] = value
	return nil
}

func (r counterRepo) Get(ctx context.Context, key models.CounterKey) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.check(ctx); err != nil {
		return 0, err
	}
	return r.s.counters[key], nil
}
