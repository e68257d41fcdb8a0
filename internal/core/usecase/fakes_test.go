package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/authority"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/filter"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) vector(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	return []float32{0, 0, 1}
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector(text), nil
}

type fakeGraphIndex struct {
	relationships []ports.RelationshipCandidate
	entities      []ports.EntityCandidate
	err           error
}

func (f *fakeGraphIndex) SearchRelationships(context.Context, ports.GraphSearchRequest) ([]ports.RelationshipCandidate, error) {
	return f.relationships, f.err
}

func (f *fakeGraphIndex) SearchEntities(context.Context, ports.GraphSearchRequest) ([]ports.EntityCandidate, error) {
	return f.entities, f.err
}

type fakeChunkIndex struct {
	chunks []domain.Chunk
	err    error

	mu   sync.Mutex
	reqs []ports.ChunkSearchRequest
}

func (f *fakeChunkIndex) SearchChunks(_ context.Context, req ports.ChunkSearchRequest) ([]domain.Chunk, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.chunks, f.err
}

type staticGraphSource struct {
	kb     domain.KnowledgeBase
	result domain.GraphResult
	err    error
	delay  time.Duration

	mu      sync.Mutex
	queries []string
	exprs   []*filter.Expr
}

func (s *staticGraphSource) KnowledgeBase() domain.KnowledgeBase { return s.kb }

func (s *staticGraphSource) Retrieve(ctx context.Context, query string, expr *filter.Expr) (domain.GraphResult, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.exprs = append(s.exprs, expr)
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.GraphResult{}, ctx.Err()
		}
	}
	if s.err != nil {
		return domain.GraphResult{}, s.err
	}
	res := s.result
	res.Query = query
	return res, nil
}

type staticChunkSource struct {
	kb     domain.KnowledgeBase
	chunks []domain.Chunk
	err    error
	delay  time.Duration

	mu      sync.Mutex
	queries []string
}

func (s *staticChunkSource) KnowledgeBase() domain.KnowledgeBase { return s.kb }

func (s *staticChunkSource) Retrieve(ctx context.Context, query string, _ *filter.Expr) ([]domain.Chunk, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out, nil
}

// fakeLLM answers prompts by the first matching marker.
type fakeLLM struct {
	mu       sync.Mutex
	answers  []llmAnswer
	fallback string
	stream   []string
	err      error
	prompts  []string
}

type llmAnswer struct {
	contains string
	text     string
	err      error
}

func (f *fakeLLM) Predict(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	for _, a := range f.answers {
		if strings.Contains(prompt, a.contains) {
			return a.text, a.err
		}
	}
	return f.fallback, f.err
}

func (f *fakeLLM) Stream(ctx context.Context, prompt string, onToken func(string) error) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	var b strings.Builder
	for _, tok := range f.stream {
		if err := onToken(tok); err != nil {
			return b.String(), err
		}
		b.WriteString(tok)
	}
	return b.String(), nil
}

func (f *fakeLLM) promptsContaining(marker string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0)
	for _, p := range f.prompts {
		if strings.Contains(p, marker) {
			out = append(out, p)
		}
	}
	return out
}

type memoryChatStore struct {
	mu       sync.Mutex
	chats    map[string]domain.Chat
	messages []domain.ChatMessage
	saves    int
	saveErr  error
}

func newMemoryChatStore(chats ...domain.Chat) *memoryChatStore {
	s := &memoryChatStore{chats: make(map[string]domain.Chat)}
	for _, c := range chats {
		s.chats[c.ID] = c
	}
	return s
}

func (s *memoryChatStore) MustGetChat(_ context.Context, chatID, userID string) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok || c.UserID != userID {
		return nil, domain.WrapError(domain.ErrNotFound, "must_get_chat", fmt.Errorf("chat %s", chatID))
	}
	return &c, nil
}

func (s *memoryChatStore) GetMessages(_ context.Context, chatID string, limit int) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, 0)
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memoryChatStore) GetMessage(_ context.Context, id string) (*domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			msg := m
			return &msg, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memoryChatStore) CreateMessage(_ context.Context, msg *domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = fmt.Sprintf("m-%d", len(s.messages)+1)
	msg.Ordinal = len(s.messages) + 1
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *memoryChatStore) SaveMessage(_ context.Context, msg *domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = *msg
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memoryChatStore) message(id string) domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m
		}
	}
	return domain.ChatMessage{}
}

type fakeAuthorities struct {
	auth  *authority.Authority
	role  string
	calls int
}

func (f *fakeAuthorities) Fetch(context.Context, string) (*authority.Authority, string) {
	f.calls++
	return f.auth, f.role
}

type fakePermissions struct {
	ids   []int64
	err   error
	calls int
}

func (f *fakePermissions) FetchAuthorizedFileIDs(context.Context, string) ([]int64, error) {
	f.calls++
	return f.ids, f.err
}

type fakeDocuments struct {
	docs map[int64]domain.Document
	err  error
}

func (f *fakeDocuments) FetchDocumentsByIDs(_ context.Context, ids []int64) ([]domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Document, 0, len(ids))
	// reverse order to prove callers reorder
	for i := len(ids) - 1; i >= 0; i-- {
		if d, ok := f.docs[ids[i]]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.TurnFinished
	err    error
}

func (f *fakeNotifier) PublishTurnFinished(_ context.Context, event domain.TurnFinished) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakeNotifier) SubscribeTurnFinished(context.Context, func(context.Context, domain.TurnFinished) error) error {
	return nil
}

func collectEvents(ch <-chan domain.ChatEvent) []domain.ChatEvent {
	out := make([]domain.ChatEvent, 0)
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func crmMeta(t domain.CrmDataType, id string) map[string]any {
	return map[string]any{
		domain.MetaDomainType:  domain.DomainTypeCRM,
		domain.MetaCrmDataType: string(t),
		domain.MetaUniqueID:    id,
	}
}

func relationshipCandidate(id int64, src, desc, dst string, weight, distance float64, meta map[string]any) ports.RelationshipCandidate {
	return ports.RelationshipCandidate{
		Relationship: domain.Relationship{ID: id, SourceEntity: src, TargetEntity: dst, Description: desc, Weight: weight, Metadata: meta},
		Source:       domain.Entity{ID: id * 10, Name: src, Description: src + " entity", Metadata: meta},
		Target:       domain.Entity{ID: id*10 + 1, Name: dst, Description: dst + " entity", Metadata: meta},
		Distance:     distance,
	}
}
