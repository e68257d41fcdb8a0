package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/authority"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
)

const chatErrorMessage = "Encountered an error while processing the chat. Please try again later."

const (
	outcomeAnswered   = "answered"
	outcomeClarified  = "clarified"
	outcomeIdentity   = "identity"
	outcomeFallback   = "fallback"
	outcomeFailed     = "failed"
	outcomeCancelled  = "cancelled"
	clarifyTrimCutset = ".\"'!"
)

type ChatFlowOptions struct {
	CRMEnabled      bool
	ClarifyQuestion bool
	HistoryLimit    int
	FullDocument    bool
	Prompts         Prompts
}

// ChatObserver records turn outcomes.
type ChatObserver interface {
	ObserveChatTurn(flow, outcome string, duration time.Duration)
}

type ChatFlowDeps struct {
	Store       ports.ChatStore
	Authorities ports.AuthorityProvider
	Permissions ports.FilePermissionStore
	LLM         ports.LLM
	FastLLM     ports.LLM
	Identity    *IdentityDetector
	Chunks      *ChunkFusionRetriever
	Notifier    ports.TurnNotifier
	Observer    ChatObserver
}

// ChatFlow runs chat turns as a fixed sequence of steps. Strategies supply
// refinement, graph search and the chunk retrieval question.
type ChatFlow struct {
	deps       ChatFlowDeps
	opts       ChatFlowOptions
	fallback   ChatStrategy
	strategies map[domain.ChatFlowType]ChatStrategy
	now        func() time.Time
}

func NewChatFlow(deps ChatFlowDeps, opts ChatFlowOptions, fallback ChatStrategy, strategies map[domain.ChatFlowType]ChatStrategy) *ChatFlow {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if deps.FastLLM == nil {
		deps.FastLLM = deps.LLM
	}
	opts.Prompts = opts.Prompts.withDefaults()
	if strategies == nil {
		strategies = map[domain.ChatFlowType]ChatStrategy{}
	}
	return &ChatFlow{
		deps:       deps,
		opts:       opts,
		fallback:   fallback,
		strategies: strategies,
		now:        time.Now,
	}
}

// Chat starts a turn. The channel is closed after the last event.
func (f *ChatFlow) Chat(ctx context.Context, req domain.ChatRequest) <-chan domain.ChatEvent {
	events := make(chan domain.ChatEvent, 16)
	go func() {
		defer close(events)
		f.run(ctx, req, events)
	}()
	return events
}

func (f *ChatFlow) run(ctx context.Context, req domain.ChatRequest, events chan<- domain.ChatEvent) {
	started := f.now()
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	t := &Turn{Request: req, TraceID: traceID, ctx: ctx, events: events}
	strategy := f.fallback
	outcome := outcomeFailed
	defer func() {
		if f.deps.Observer != nil {
			f.deps.Observer.ObserveChatTurn(strategy.Name(), outcome, f.now().Sub(started))
		}
	}()

	if err := f.start(ctx, t); err != nil {
		f.fail(t, err)
		return
	}
	if s, ok := f.strategies[t.Chat.FlowType]; ok {
		strategy = s
	}

	t.Annotate(domain.StateInitialization, "Initializing chat session and starting flow")

	if answer, ok := f.detectIdentity(ctx, t); ok {
		t.Emit(domain.TextEvent(answer))
		if err := f.finish(ctx, t, answer, nil); err != nil {
			f.fail(t, err)
			return
		}
		outcome = outcomeIdentity
		return
	}

	// Authority and file permissions are resolved once per turn and shared
	// with the fallback strategy.
	if err := f.authorize(ctx, t); err != nil {
		f.fail(t, err)
		return
	}

	result, err := f.sequence(ctx, t, strategy)
	if err != nil && strategy != f.fallback && !t.answering && ctx.Err() == nil {
		slog.Warn("chat_strategy_fallback",
			"chat_id", t.Chat.ID,
			"trace_id", t.TraceID,
			"strategy", strategy.Name(),
			"error", err.Error(),
		)
		t.resetRetrieval()
		result, err = f.sequence(ctx, t, f.fallback)
		if err == nil {
			result = outcomeFallback
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			outcome = outcomeCancelled
		}
		f.fail(t, err)
		return
	}
	outcome = result
}

func (f *ChatFlow) fail(t *Turn, err error) {
	slog.Error("chat_turn_failed",
		"chat_id", t.Request.ChatID,
		"user_id", t.Request.UserID,
		"trace_id", t.TraceID,
		"error", err.Error(),
	)
	t.Emit(domain.ErrorEvent(chatErrorMessage))
}

// start loads the chat and history and creates the message shells.
func (f *ChatFlow) start(ctx context.Context, t *Turn) error {
	question := strings.TrimSpace(t.Request.Question)
	if question == "" {
		return domain.WrapError(domain.ErrInvalidInput, "chat_start", errors.New("question is required"))
	}
	t.Request.Question = question

	chat, err := f.deps.Store.MustGetChat(ctx, t.Request.ChatID, t.Request.UserID)
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	t.Chat = *chat

	t.History = t.Request.History
	if len(t.History) == 0 {
		previous, err := f.deps.Store.GetMessages(ctx, chat.ID, f.opts.HistoryLimit)
		if err != nil {
			return fmt.Errorf("load chat history: %w", err)
		}
		t.History = toHistory(previous)
	}

	now := f.now().UTC()
	t.UserMessage = domain.ChatMessage{
		ChatID:    chat.ID,
		Role:      domain.RoleUser,
		Content:   question,
		TraceID:   t.TraceID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.deps.Store.CreateMessage(ctx, &t.UserMessage); err != nil {
		return fmt.Errorf("create user message: %w", err)
	}
	t.AssistantMessage = domain.ChatMessage{
		ChatID:    chat.ID,
		Role:      domain.RoleAssistant,
		TraceID:   t.TraceID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.deps.Store.CreateMessage(ctx, &t.AssistantMessage); err != nil {
		return fmt.Errorf("create assistant message: %w", err)
	}

	t.Emit(domain.DataEvent(t.Chat, t.UserMessage, t.AssistantMessage))
	return nil
}

func toHistory(messages []domain.ChatMessage) []domain.HistoryMessage {
	out := make([]domain.HistoryMessage, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, domain.HistoryMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// sequence runs the strategy steps after AUTHORIZATION and returns the turn
// outcome. It reads t.Scope and never refetches it.
func (f *ChatFlow) sequence(ctx context.Context, t *Turn, strategy ChatStrategy) (string, error) {
	refined, err := strategy.Refine(ctx, t)
	if err != nil {
		return "", err
	}
	t.Question = refined

	if f.opts.ClarifyQuestion {
		clarification, err := f.clarify(ctx, t)
		if err != nil {
			return "", err
		}
		if clarification != "" {
			t.Emit(domain.TextEvent(clarification))
			if err := f.finish(ctx, t, clarification, nil); err != nil {
				return "", err
			}
			return outcomeClarified, nil
		}
	}

	graph, graphContext, err := strategy.SearchGraph(ctx, t)
	if err != nil {
		return "", err
	}
	t.Graph, t.GraphContext = graph, graphContext

	retrievalQuestion, err := strategy.EnhanceQuestion(ctx, t)
	if err != nil {
		return "", err
	}

	t.Annotate(domain.StateSearchRelatedDocuments, "Retrieving the most relevant documents")
	chunks, err := f.deps.Chunks.RetrieveChunks(ctx, retrievalQuestion, t.Scope, f.opts.FullDocument)
	if err != nil {
		return "", err
	}

	answer, sources, err := f.generate(ctx, t, chunks)
	if err != nil {
		return "", err
	}
	if err := f.finish(ctx, t, answer, sources); err != nil {
		return "", err
	}
	return outcomeAnswered, nil
}

func (f *ChatFlow) detectIdentity(ctx context.Context, t *Turn) (string, bool) {
	if f.deps.Identity == nil {
		return "", false
	}
	t.Annotate(domain.StateIdentityDetection, "Identifying the question's type and routing to the corresponding flow")

	category, ok, err := f.deps.Identity.Detect(ctx, t.Request.Question)
	if err != nil {
		slog.Warn("identity_detection_failed", "trace_id", t.TraceID, "error", err.Error())
		return "", false
	}
	if !ok {
		return "", false
	}
	answer := f.deps.Identity.Answer(category)
	if answer == "" {
		return "", false
	}
	t.Annotate(domain.StateIdentityDetection, fmt.Sprintf("Routing to the %s flow", category))
	return answer, true
}

func (f *ChatFlow) authorize(ctx context.Context, t *Turn) error {
	t.Scope = RetrievalScope{Authority: authority.Bypass()}
	if f.opts.CRMEnabled {
		t.Annotate(domain.StateAuthorization, "Verifying data access permissions")
		auth, role := f.deps.Authorities.Fetch(ctx, t.Request.UserID)
		if auth == nil {
			auth = authority.Empty()
		}
		t.Scope.Authority = auth
		slog.Info("crm_authority_loaded",
			"trace_id", t.TraceID,
			"user_id", t.Request.UserID,
			"role", role,
			"bypass", auth.IsBypass(),
			"items", auth.Stats(),
		)
	}
	if f.deps.Permissions != nil {
		ids, err := f.deps.Permissions.FetchAuthorizedFileIDs(ctx, t.Request.UserID)
		if err != nil {
			return fmt.Errorf("fetch authorized files: %w", err)
		}
		t.Scope.Allowlist = ids
	}
	return nil
}

// clarify returns the clarifying question, or "" when the question is clear.
func (f *ChatFlow) clarify(ctx context.Context, t *Turn) (string, error) {
	prompt, err := renderPrompt("clarifying_question", f.opts.Prompts.ClarifyingQuestion, map[string]any{
		"GraphKnowledge": t.GraphContext,
		"History":        t.History,
		"Question":       t.Question,
	})
	if err != nil {
		return "", err
	}
	prediction, err := f.deps.FastLLM.Predict(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("clarify question: %w", err)
	}
	result := strings.Trim(strings.TrimSpace(prediction), clarifyTrimCutset)
	if result == "" || strings.ToLower(result) == "false" {
		return "", nil
	}
	return result, nil
}

func (f *ChatFlow) generate(ctx context.Context, t *Turn, chunks domain.ChunkResult) (string, []domain.DocumentRef, error) {
	if len(chunks.Chunks) == 0 {
		prompt, err := renderPrompt("fallback", f.opts.Prompts.Fallback, map[string]any{"Question": t.Question})
		if err != nil {
			return "", nil, err
		}
		answer, err := f.deps.FastLLM.Predict(ctx, prompt)
		if err != nil {
			return "", nil, fmt.Errorf("generate fallback answer: %w", err)
		}
		if strings.TrimSpace(answer) == "" {
			return "", nil, domain.WrapError(domain.ErrEmptyResponse, "generate_answer", errors.New("empty fallback answer"))
		}
		t.answering = true
		t.Emit(domain.TextEvent(answer))
		return answer, []domain.DocumentRef{}, nil
	}

	sources := make([]domain.DocumentRef, 0, len(chunks.Documents))
	for _, d := range chunks.Documents {
		sources = append(sources, d.Ref())
	}
	t.Emit(domain.ChatEvent{Type: domain.EventAnnotation, Payload: domain.AnnotationPayload{
		State:   domain.StateSourceNodes,
		Context: sources,
	}})

	prompt, err := renderPrompt("text_qa", f.opts.Prompts.TextQA, map[string]any{
		"CurrentDate":      f.now().Format("2006-01-02"),
		"GraphKnowledge":   t.GraphContext,
		"Chunks":           chunks.Chunks,
		"OriginalQuestion": t.Request.Question,
		"Question":         t.Question,
	})
	if err != nil {
		return "", nil, err
	}

	t.Annotate(domain.StateGenerateAnswer, "Thinking and generating a precise answer with AI")
	answer, err := f.deps.LLM.Stream(ctx, prompt, func(token string) error {
		if token == "" {
			return nil
		}
		t.answering = true
		t.Emit(domain.TextEvent(token))
		return ctx.Err()
	})
	if err != nil {
		return "", nil, fmt.Errorf("generate answer: %w", err)
	}
	if strings.TrimSpace(answer) == "" {
		return "", nil, domain.WrapError(domain.ErrEmptyResponse, "generate_answer", errors.New("got empty response from llm"))
	}
	return answer, sources, nil
}

// finish persists the answer on both message shells and emits the final data.
func (f *ChatFlow) finish(ctx context.Context, t *Turn, answer string, sources []domain.DocumentRef) error {
	t.Annotate(domain.StateFinished, "")

	now := f.now().UTC()
	stored := t.Graph.Stored()
	if sources == nil {
		sources = []domain.DocumentRef{}
	}

	t.AssistantMessage.Content = answer
	t.AssistantMessage.Sources = sources
	t.AssistantMessage.GraphData = &stored
	t.AssistantMessage.UpdatedAt = now
	t.AssistantMessage.FinishedAt = &now
	if err := f.deps.Store.SaveMessage(ctx, &t.AssistantMessage); err != nil {
		return fmt.Errorf("save assistant message: %w", err)
	}

	userGraph := stored
	t.UserMessage.GraphData = &userGraph
	t.UserMessage.UpdatedAt = now
	t.UserMessage.FinishedAt = &now
	if err := f.deps.Store.SaveMessage(ctx, &t.UserMessage); err != nil {
		return fmt.Errorf("save user message: %w", err)
	}

	t.Emit(domain.DataEvent(t.Chat, t.UserMessage, t.AssistantMessage))

	if f.deps.Notifier != nil {
		event := domain.TurnFinished{
			ChatID:             t.Chat.ID,
			UserMessageID:      t.UserMessage.ID,
			AssistantMessageID: t.AssistantMessage.ID,
			UserID:             t.Request.UserID,
			Question:           t.Request.Question,
			Answer:             answer,
			FinishedAt:         now,
		}
		if err := f.deps.Notifier.PublishTurnFinished(ctx, event); err != nil {
			slog.Warn("turn_finished_publish_failed", "chat_id", t.Chat.ID, "trace_id", t.TraceID, "error", err.Error())
		}
	}
	return nil
}
