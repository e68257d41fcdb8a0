package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/sales-knowledge-assistant/internal/config"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
	"github.com/kirillkom/sales-knowledge-assistant/internal/observability/metrics"
)

const (
	userIDHeader      = "X-User-Id"
	maxRequestBytes   = 1 << 20
	serviceName       = "api"
	searchEndpoint    = "knowledge_search"
	defaultWaitWindow = 250 * time.Millisecond
)

// ChatCreator persists a new chat for a user.
type ChatCreator interface {
	CreateChat(ctx context.Context, chat *domain.Chat) error
}

type Router struct {
	cfg      config.Config
	engine   string
	chat     ports.ChatService
	chats    ChatCreator
	searcher ports.KnowledgeSearcher
	metrics  *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	engine string,
	chat ports.ChatService,
	chats ChatCreator,
	searcher ports.KnowledgeSearcher,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:      cfg,
		engine:   engine,
		chat:     chat,
		chats:    chats,
		searcher: searcher,
		metrics:  httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/chats", rt.createChat)
	api.HandleFunc("POST /v1/chats/{chat_id}/messages", rt.postMessage)
	api.HandleFunc("POST /v1/knowledge/search", rt.searchKnowledge)

	wait := time.Duration(rt.cfg.APIBackpressureWaitMS) * time.Millisecond
	if wait <= 0 {
		wait = defaultWaitWindow
	}
	var guarded http.Handler = api
	guarded = rt.authMiddleware(guarded)
	guarded = backpressureMiddleware(guarded, rt.cfg.APIMaxInFlight, wait)
	guarded = rateLimitMiddleware(guarded, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", guarded)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createChatRequest struct {
	Title    string `json:"title"`
	FlowType string `json:"flow_type"`
}

func (rt *Router) createChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createChatRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	flow := domain.ChatFlowType(strings.TrimSpace(req.FlowType))
	switch flow {
	case "":
		flow = domain.ChatFlowDefault
	case domain.ChatFlowDefault, domain.ChatFlowClientVisitGuide:
	default:
		writeError(w, http.StatusBadRequest, "unknown flow_type")
		return
	}

	chat := &domain.Chat{
		UserID:     userID,
		EngineName: rt.engine,
		FlowType:   flow,
		Title:      strings.TrimSpace(req.Title),
	}
	if err := rt.chats.CreateChat(r.Context(), chat); err != nil {
		writeDomainError(w, r, "create_chat", err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

type postMessageRequest struct {
	Question string                  `json:"question"`
	History  []domain.HistoryMessage `json:"history,omitempty"`
}

func (rt *Router) postMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	chatID := strings.TrimSpace(r.PathValue("chat_id"))
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chat id is required")
		return
	}

	var req postMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	stream, err := newChatStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	events := rt.chat.Chat(r.Context(), domain.ChatRequest{
		ChatID:   chatID,
		UserID:   userID,
		Question: question,
		History:  req.History,
		TraceID:  requestIDFromContext(r.Context()),
	})
	if err := stream.Pipe(events); err != nil {
		slog.Warn("chat_stream_write_failed",
			"request_id", requestIDFromContext(r.Context()),
			"chat_id", chatID,
			"error", err.Error(),
		)
	}
}

type searchRequest struct {
	Question string `json:"question"`
}

type searchResponse struct {
	Graph  domain.GraphResult `json:"graph"`
	Chunks domain.ChunkResult `json:"chunks"`
}

func (rt *Router) searchKnowledge(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	started := time.Now()
	graph, chunks, err := rt.searcher.Search(r.Context(), userID, question)
	if rt.metrics != nil {
		rt.metrics.RecordSearch(searchEndpoint, len(graph.Relationships), len(chunks.Chunks), time.Since(started), err)
	}
	if err != nil {
		writeDomainError(w, r, "knowledge_search", err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Graph: graph, Chunks: chunks})
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(userIDHeader))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
		return "", false
	}
	return userID, true
}

func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	return decoder.Decode(out)
}

func writeDomainError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"operation", operation,
			"error", err.Error(),
		)
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("http_response_encode_failed", "error", err.Error())
	}
}
