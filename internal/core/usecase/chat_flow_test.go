package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/authority"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
)

const (
	condenseMarker = "Refined standalone question:"
	clarifyMarker  = "clear and specific enough"
	fallbackMarker = "No relevant documents were found"
	analyzeMarker  = "sales playbook knowledge"
)

type recordingObserver struct {
	mu       sync.Mutex
	flows    []string
	outcomes []string
}

func (o *recordingObserver) ObserveChatTurn(flow, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flows = append(o.flows, flow)
	o.outcomes = append(o.outcomes, outcome)
}

type chatFixture struct {
	store    *memoryChatStore
	fast     *fakeLLM
	main     *fakeLLM
	graphSrc *staticGraphSource
	chunkSrc *staticChunkSource
	notifier *fakeNotifier
	observer *recordingObserver
	opts     ChatFlowOptions
	deps     ChatFlowDeps
}

func newChatFixture() *chatFixture {
	fx := &chatFixture{
		store: newMemoryChatStore(
			domain.Chat{ID: "c1", UserID: "u1", FlowType: domain.ChatFlowDefault},
			domain.Chat{ID: "c2", UserID: "u1", FlowType: domain.ChatFlowClientVisitGuide},
		),
		fast: &fakeLLM{answers: []llmAnswer{
			{contains: condenseMarker, text: "What does Acme buy from us?"},
			{contains: fallbackMarker, text: "I could not find anything about that."},
		}},
		main:     &fakeLLM{stream: []string{"Acme ", "buys widgets."}},
		graphSrc: &staticGraphSource{kb: domain.KnowledgeBase{ID: 1}, result: sampleGraph(1)},
		chunkSrc: &staticChunkSource{kb: domain.KnowledgeBase{ID: 5}, chunks: []domain.Chunk{
			{ID: "k1", DocumentID: 3, Text: "Acme ordered 40 widgets", Score: 0.9},
		}},
		notifier: &fakeNotifier{},
		observer: &recordingObserver{},
	}
	docs := &fakeDocuments{docs: map[int64]domain.Document{3: {ID: 3, Name: "orders.xlsx"}}}
	fx.deps = ChatFlowDeps{
		Store:    fx.store,
		LLM:      fx.main,
		FastLLM:  fx.fast,
		Chunks:   NewChunkFusionRetriever([]ChunkSource{fx.chunkSrc}, docs, nil, FusionOptions{}),
		Notifier: fx.notifier,
		Observer: fx.observer,
	}
	return fx
}

func (fx *chatFixture) defaultStrategy() *DefaultStrategy {
	graph := NewGraphFusionRetriever([]GraphSource{fx.graphSrc}, nil, FusionOptions{})
	return NewDefaultStrategy(fx.fast, graph, DefaultPrompts(), true)
}

func (fx *chatFixture) run(t *testing.T, chatID, question string, strategies map[domain.ChatFlowType]ChatStrategy) []domain.ChatEvent {
	t.Helper()
	flow := NewChatFlow(fx.deps, fx.opts, fx.defaultStrategy(), strategies)
	ch := flow.Chat(context.Background(), domain.ChatRequest{ChatID: chatID, UserID: "u1", Question: question})
	return collectEvents(ch)
}

func annotationStates(events []domain.ChatEvent) []domain.MessageState {
	out := make([]domain.MessageState, 0)
	for _, ev := range events {
		if p, ok := ev.Payload.(domain.AnnotationPayload); ok && ev.Type == domain.EventAnnotation {
			out = append(out, p.State)
		}
	}
	return out
}

func hasDisplay(events []domain.ChatEvent, display string) bool {
	for _, ev := range events {
		if p, ok := ev.Payload.(domain.AnnotationPayload); ok && p.Display == display {
			return true
		}
	}
	return false
}

func streamedText(events []domain.ChatEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == domain.EventText {
			b.WriteString(ev.Payload.(string))
		}
	}
	return b.String()
}

func countType(events []domain.ChatEvent, typ domain.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// inOrder reports whether want appears in got as a subsequence.
func inOrder(got, want []domain.MessageState) bool {
	i := 0
	for _, s := range got {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}

func TestChatFlowAnswersAndPersists(t *testing.T) {
	fx := newChatFixture()
	events := fx.run(t, "c1", "what does acme buy?", nil)

	if events[0].Type != domain.EventData || events[len(events)-1].Type != domain.EventData {
		t.Fatalf("expected DATA first and last, got %v and %v", events[0].Type, events[len(events)-1].Type)
	}
	want := []domain.MessageState{
		domain.StateInitialization,
		domain.StateRefineQuestion,
		domain.StateKGRetrieval,
		domain.StateSearchRelatedDocuments,
		domain.StateSourceNodes,
		domain.StateGenerateAnswer,
		domain.StateFinished,
	}
	if states := annotationStates(events); !inOrder(states, want) {
		t.Fatalf("unexpected annotation order: %v", states)
	}
	if got := streamedText(events); got != "Acme buys widgets." {
		t.Fatalf("unexpected streamed text: %q", got)
	}
	if countType(events, domain.EventError) != 0 {
		t.Fatalf("unexpected error event")
	}

	assistant := fx.store.message("m-2")
	if assistant.Role != domain.RoleAssistant || assistant.Content != "Acme buys widgets." {
		t.Fatalf("unexpected persisted assistant message: %+v", assistant)
	}
	if len(assistant.Sources) != 1 || assistant.Sources[0].Name != "orders.xlsx" {
		t.Fatalf("unexpected sources: %+v", assistant.Sources)
	}
	if assistant.GraphData == nil || len(assistant.GraphData.RelationshipIDs) != 1 || assistant.FinishedAt == nil {
		t.Fatalf("expected graph data and finish time, got %+v", assistant)
	}
	user := fx.store.message("m-1")
	if user.Content != "what does acme buy?" || user.TraceID == "" || user.TraceID != assistant.TraceID {
		t.Fatalf("unexpected user message: %+v", user)
	}

	if got := fx.chunkSrc.queries; len(got) != 1 || got[0] != "What does Acme buy from us?" {
		t.Fatalf("chunk retrieval must use the refined question, got %v", got)
	}
	if len(fx.notifier.events) != 1 || fx.notifier.events[0].AssistantMessageID != "m-2" {
		t.Fatalf("expected one turn notification, got %+v", fx.notifier.events)
	}
	if fx.observer.outcomes[0] != outcomeAnswered || fx.observer.flows[0] != "default" {
		t.Fatalf("unexpected observed outcome: %v %v", fx.observer.flows, fx.observer.outcomes)
	}
}

func TestChatFlowKeepsCallerTraceID(t *testing.T) {
	fx := newChatFixture()
	flow := NewChatFlow(fx.deps, fx.opts, fx.defaultStrategy(), nil)
	collectEvents(flow.Chat(context.Background(), domain.ChatRequest{
		ChatID:   "c1",
		UserID:   "u1",
		Question: "what does acme buy?",
		TraceID:  "req-7",
	}))
	if got := fx.store.message("m-2").TraceID; got != "req-7" {
		t.Fatalf("expected caller trace id, got %q", got)
	}
}

func TestChatFlowClarifyShortCircuits(t *testing.T) {
	fx := newChatFixture()
	fx.opts.ClarifyQuestion = true
	fx.fast.answers = append([]llmAnswer{{contains: clarifyMarker, text: "Which Acme subsidiary do you mean?"}}, fx.fast.answers...)

	events := fx.run(t, "c1", "what did they buy?", nil)

	if got := streamedText(events); got != "Which Acme subsidiary do you mean?" {
		t.Fatalf("unexpected clarification: %q", got)
	}
	for _, s := range annotationStates(events) {
		if s == domain.StateGenerateAnswer || s == domain.StateKGRetrieval {
			t.Fatalf("clarification must stop before retrieval, got state %v", s)
		}
	}
	if fx.store.message("m-2").Content != "Which Acme subsidiary do you mean?" {
		t.Fatalf("clarification not persisted")
	}
	if len(fx.main.prompts) != 0 {
		t.Fatalf("answer model must not be called")
	}
	if fx.observer.outcomes[0] != outcomeClarified {
		t.Fatalf("unexpected outcome %v", fx.observer.outcomes)
	}
}

func TestChatFlowClearQuestionContinues(t *testing.T) {
	fx := newChatFixture()
	fx.opts.ClarifyQuestion = true
	fx.fast.answers = append([]llmAnswer{{contains: clarifyMarker, text: "\"False.\""}}, fx.fast.answers...)

	events := fx.run(t, "c1", "what does acme buy?", nil)
	if got := streamedText(events); got != "Acme buys widgets." {
		t.Fatalf("expected a generated answer, got %q", got)
	}
}

func TestChatFlowWithoutChunksUsesFallbackPrompt(t *testing.T) {
	fx := newChatFixture()
	fx.chunkSrc.chunks = nil

	events := fx.run(t, "c1", "what is the weather?", nil)

	if got := streamedText(events); got != "I could not find anything about that." {
		t.Fatalf("unexpected fallback answer: %q", got)
	}
	if len(fx.fast.promptsContaining(fallbackMarker)) != 1 {
		t.Fatalf("expected the fallback prompt to be used once")
	}
	assistant := fx.store.message("m-2")
	if assistant.Content != "I could not find anything about that." || len(assistant.Sources) != 0 {
		t.Fatalf("unexpected persisted message: %+v", assistant)
	}
}

func TestChatFlowRetrievalErrorEmitsSingleError(t *testing.T) {
	fx := newChatFixture()
	fx.chunkSrc.err = errors.New("vector store down")

	events := fx.run(t, "c1", "what does acme buy?", nil)

	if countType(events, domain.EventError) != 1 {
		t.Fatalf("expected exactly one error event, got %d", countType(events, domain.EventError))
	}
	last := events[len(events)-1]
	if last.Type != domain.EventError || last.Payload != chatErrorMessage {
		t.Fatalf("expected the error event last, got %+v", last)
	}
	if fx.store.message("m-2").Content != "" {
		t.Fatalf("failed turn must not persist an answer")
	}
	if len(fx.notifier.events) != 0 {
		t.Fatalf("failed turn must not be published")
	}
}

func TestChatFlowEmptyAnswerIsAnError(t *testing.T) {
	fx := newChatFixture()
	fx.main.stream = []string{"", " "}

	events := fx.run(t, "c1", "what does acme buy?", nil)
	if countType(events, domain.EventError) != 1 {
		t.Fatalf("expected an error for an empty answer")
	}
}

func TestChatFlowRejectsEmptyQuestion(t *testing.T) {
	fx := newChatFixture()
	events := fx.run(t, "c1", "   ", nil)
	if len(events) != 1 || events[0].Type != domain.EventError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
}

func TestChatFlowUnknownChatFails(t *testing.T) {
	fx := newChatFixture()
	events := fx.run(t, "missing", "hello there", nil)
	if len(events) != 1 || events[0].Type != domain.EventError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
}

func TestChatFlowIdentityQuestionSkipsRetrieval(t *testing.T) {
	fx := newChatFixture()
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"hello":       {1, 0, 0},
		"hello there": {1, 0, 0.01},
	}}
	fx.deps.Identity = NewIdentityDetector(embedder, map[string]string{"hello": "greeting", "what can you do": "capabilities"}, nil, 0)

	events := fx.run(t, "c1", "hello there", nil)

	if got := streamedText(events); got != DefaultIdentityAnswers()["greeting"] {
		t.Fatalf("unexpected identity answer: %q", got)
	}
	for _, s := range annotationStates(events) {
		if s == domain.StateRefineQuestion {
			t.Fatalf("identity answers must not refine")
		}
	}
	if len(fx.chunkSrc.queries) != 0 {
		t.Fatalf("identity answers must not retrieve")
	}
	if fx.observer.outcomes[0] != outcomeIdentity {
		t.Fatalf("unexpected outcome %v", fx.observer.outcomes)
	}
}

func TestChatFlowAppliesCRMAuthority(t *testing.T) {
	fx := newChatFixture()
	fx.opts.CRMEnabled = true
	fx.deps.Authorities = &fakeAuthorities{auth: authority.Empty()}
	index := &fakeGraphIndex{relationships: []ports.RelationshipCandidate{
		relationshipCandidate(1, "Acme", "has opportunity", "Big Deal", 5, 0.1, crmMeta(domain.CrmOpportunity, "o-1")),
		relationshipCandidate(2, "Big Deal", "is in stage", "Negotiation", 3, 0.2, crmMeta(domain.CrmStage, "st-1")),
	}}
	graph := NewGraphFusionRetriever([]GraphSource{
		NewGraphRetriever(domain.KnowledgeBase{ID: 1}, index, &fakeEmbedder{}, GraphRetrieverOptions{}),
	}, nil, FusionOptions{})

	flow := NewChatFlow(fx.deps, fx.opts, NewDefaultStrategy(fx.fast, graph, DefaultPrompts(), true), nil)
	events := collectEvents(flow.Chat(context.Background(), domain.ChatRequest{ChatID: "c1", UserID: "u1", Question: "deal status"}))

	if !inOrder(annotationStates(events), []domain.MessageState{domain.StateAuthorization, domain.StateRefineQuestion}) {
		t.Fatalf("authorization must run before refinement")
	}
	stored := fx.store.message("m-2").GraphData
	if stored == nil || len(stored.RelationshipIDs) != 1 || stored.RelationshipIDs[0] != 2 {
		t.Fatalf("expected only the stage relationship, got %+v", stored)
	}
}

func TestChatFlowPermissionFetchFailureFailsTurn(t *testing.T) {
	fx := newChatFixture()
	fx.deps.Permissions = &fakePermissions{err: errors.New("postgres down")}

	events := fx.run(t, "c1", "what does acme buy?", nil)
	if countType(events, domain.EventError) != 1 || len(fx.chunkSrc.queries) != 0 {
		t.Fatalf("expected the turn to fail before retrieval")
	}
}

type failingEnhanceStrategy struct {
	*DefaultStrategy
}

func (s failingEnhanceStrategy) Name() string { return "client_visit_guide" }

func (s failingEnhanceStrategy) EnhanceQuestion(context.Context, *Turn) (string, error) {
	return "", errors.New("enhancement exploded")
}

func TestChatFlowSpecializedEnhanceFailureFallsBack(t *testing.T) {
	fx := newChatFixture()
	strategies := map[domain.ChatFlowType]ChatStrategy{
		domain.ChatFlowClientVisitGuide: failingEnhanceStrategy{fx.defaultStrategy()},
	}

	events := fx.run(t, "c2", "prepare my visit to acme", strategies)

	if countType(events, domain.EventError) != 0 {
		t.Fatalf("fallback turn must not emit errors")
	}
	if got := fx.store.message("m-2").Content; got == "" || got != streamedText(events) {
		t.Fatalf("expected a non-empty persisted answer, got %q", got)
	}
	if len(fx.store.messages) != 2 {
		t.Fatalf("fallback must reuse the message shells, got %d messages", len(fx.store.messages))
	}
	if fx.observer.outcomes[0] != outcomeFallback || fx.observer.flows[0] != "client_visit_guide" {
		t.Fatalf("unexpected observation: %v %v", fx.observer.flows, fx.observer.outcomes)
	}
}

func TestChatFlowFallbackReusesTurnAuthority(t *testing.T) {
	fx := newChatFixture()
	fx.opts.CRMEnabled = true
	auths := &fakeAuthorities{auth: authority.Bypass()}
	perms := &fakePermissions{ids: []int64{3}}
	fx.deps.Authorities = auths
	fx.deps.Permissions = perms
	strategies := map[domain.ChatFlowType]ChatStrategy{
		domain.ChatFlowClientVisitGuide: failingEnhanceStrategy{fx.defaultStrategy()},
	}

	events := fx.run(t, "c2", "prepare my visit to acme", strategies)

	if countType(events, domain.EventError) != 0 {
		t.Fatalf("fallback turn must not emit errors")
	}
	if auths.calls != 1 || perms.calls != 1 {
		t.Fatalf("expected one authority and one permission fetch, got %d and %d", auths.calls, perms.calls)
	}
	counts := map[domain.MessageState]int{}
	for _, s := range annotationStates(events) {
		counts[s]++
	}
	if counts[domain.StateAuthorization] != 1 {
		t.Fatalf("expected a single authorization annotation, got %v", counts)
	}
	if fx.observer.outcomes[0] != outcomeFallback {
		t.Fatalf("unexpected outcome %v", fx.observer.outcomes)
	}
}

func TestChatFlowPlaybookClassifierFailureFallsBack(t *testing.T) {
	fx := newChatFixture()
	classifier := &fakeLLM{answers: []llmAnswer{{contains: analyzeMarker, err: errors.New("classifier timeout")}}}
	strategies := map[domain.ChatFlowType]ChatStrategy{
		domain.ChatFlowClientVisitGuide: NewPlaybookStrategy(fx.defaultStrategy(), classifier, nil),
	}

	events := fx.run(t, "c2", "how should I pitch the new lock?", strategies)

	if countType(events, domain.EventError) != 0 {
		t.Fatalf("fallback turn must not emit errors")
	}
	if fx.store.message("m-2").Content != "Acme buys widgets." {
		t.Fatalf("expected the default answer to be persisted")
	}
}

func TestChatFlowPlaybookEnhancesRetrievalQuestion(t *testing.T) {
	fx := newChatFixture()
	playbookSrc := &staticGraphSource{kb: domain.KnowledgeBase{ID: 8, GraphType: domain.GraphTypePlaybook}, result: domain.GraphResult{
		KnowledgeBaseIDs: []int64{8},
		Entities: []domain.Entity{
			{ID: 1, Name: "Smart Lock", Description: "keyless entry", Metadata: map[string]any{domain.MetaTopic: "feature"}},
			{ID: 2, Name: "Property Manager", Description: "persona", Metadata: map[string]any{domain.MetaTopic: "persona"}},
		},
		Relationships: []domain.Relationship{
			{ID: 3, SourceEntity: "Property Manager", Description: "values", TargetEntity: "Smart Lock", Weight: 2},
		},
	}}
	classifier := &fakeLLM{answers: []llmAnswer{{contains: analyzeMarker, text: " True\n"}}}
	playbook := NewGraphFusionRetriever([]GraphSource{playbookSrc}, nil, FusionOptions{})
	strategies := map[domain.ChatFlowType]ChatStrategy{
		domain.ChatFlowClientVisitGuide: NewPlaybookStrategy(fx.defaultStrategy(), classifier, playbook),
	}

	events := fx.run(t, "c2", "how do I pitch to property managers?", strategies)

	if !hasDisplay(events, "Searching Sales Knowledge Graph for Relevant Context") {
		t.Fatalf("expected the playbook graph search")
	}
	if len(fx.graphSrc.queries) != 0 {
		t.Fatalf("general graph must not be searched for playbook questions")
	}
	if len(fx.chunkSrc.queries) != 1 {
		t.Fatalf("expected one chunk retrieval, got %v", fx.chunkSrc.queries)
	}
	lines := strings.Split(fx.chunkSrc.queries[0], "\n")
	if lines[0] != "Original Question: What does Acme buy from us?" || lines[1] != "Related Features: Smart Lock" {
		t.Fatalf("unexpected enhanced question: %q", fx.chunkSrc.queries[0])
	}
	if lines[len(lines)-1] != "Please provide information considering all the above context." {
		t.Fatalf("unexpected closing line: %q", lines[len(lines)-1])
	}
}

func TestChatFlowCancellationStopsTurn(t *testing.T) {
	fx := newChatFixture()
	fx.chunkSrc.delay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	flow := NewChatFlow(fx.deps, fx.opts, fx.defaultStrategy(), nil)
	ch := flow.Chat(ctx, domain.ChatRequest{ChatID: "c1", UserID: "u1", Question: "what does acme buy?"})
	<-ch
	cancel()

	done := make(chan struct{})
	go func() {
		collectEvents(ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("turn did not stop after cancellation")
	}
	if fx.store.message("m-2").Content != "" {
		t.Fatalf("cancelled turn must not persist an answer")
	}
}
