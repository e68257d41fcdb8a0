package domain

import "time"

type ChatFlowType string

const (
	ChatFlowDefault          ChatFlowType = "default"
	ChatFlowClientVisitGuide ChatFlowType = "client_visit_guide"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type Chat struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	EngineName string       `json:"engine_name"`
	FlowType   ChatFlowType `json:"flow_type"`
	Title      string       `json:"title"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

type ChatMessage struct {
	ID                  string        `json:"id"`
	ChatID              string        `json:"chat_id"`
	Ordinal             int           `json:"ordinal"`
	Role                MessageRole   `json:"role"`
	Content             string        `json:"content"`
	Sources             []DocumentRef `json:"sources,omitempty"`
	GraphData           *StoredGraph  `json:"graph_data,omitempty"`
	TraceID             string        `json:"trace_id,omitempty"`
	PostVerificationURL string        `json:"post_verification_url,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	FinishedAt          *time.Time    `json:"finished_at,omitempty"`
}

// HistoryMessage is one prior exchange handed to prompts.
type HistoryMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

type ChatRequest struct {
	ChatID   string           `json:"chat_id"`
	UserID   string           `json:"user_id"`
	Question string           `json:"question"`
	History  []HistoryMessage `json:"history,omitempty"`
	// TraceID is generated when empty.
	TraceID string `json:"trace_id,omitempty"`
}

// EventType values are the wire prefixes of the chat stream protocol.
type EventType int

const (
	EventText       EventType = 0
	EventData       EventType = 2
	EventError      EventType = 3
	EventAnnotation EventType = 8
)

// MessageState tags annotations. StateInitialization shares its wire value
// with StateKGQueryExecution.
type MessageState int

const (
	StateTrace                  MessageState = 0
	StateSourceNodes            MessageState = 1
	StateIdentityDetection      MessageState = 2
	StateAuthorization          MessageState = 3
	StateKGRetrieval            MessageState = 4
	StateRefineQuestion         MessageState = 5
	StateSearchRelatedDocuments MessageState = 6
	StateGenerateAnswer         MessageState = 7
	StateAnalyzeCompetitor      MessageState = 8
	StateKGQueryExecution       MessageState = 9
	StateInitialization         MessageState = 9
	StateFinished               MessageState = 10
)

func (s MessageState) String() string {
	switch s {
	case StateTrace:
		return "TRACE"
	case StateSourceNodes:
		return "SOURCE_NODES"
	case StateIdentityDetection:
		return "IDENTITY_DETECTION"
	case StateAuthorization:
		return "AUTHORIZATION"
	case StateKGRetrieval:
		return "KG_RETRIEVAL"
	case StateRefineQuestion:
		return "REFINE_QUESTION"
	case StateSearchRelatedDocuments:
		return "SEARCH_RELATED_DOCUMENTS"
	case StateGenerateAnswer:
		return "GENERATE_ANSWER"
	case StateAnalyzeCompetitor:
		return "ANALYZE_COMPETITOR_RELATED"
	case StateKGQueryExecution:
		return "KG_QUERY_EXECUTION"
	case StateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

type ChatEvent struct {
	Type    EventType `json:"event_type"`
	Payload any       `json:"payload"`
}

type AnnotationPayload struct {
	State   MessageState `json:"state"`
	Display string       `json:"display,omitempty"`
	Message string       `json:"message,omitempty"`
	Context any          `json:"context,omitempty"`
}

type DataPayload struct {
	Chat             Chat        `json:"chat"`
	UserMessage      ChatMessage `json:"user_message"`
	AssistantMessage ChatMessage `json:"assistant_message"`
}

func TextEvent(text string) ChatEvent {
	return ChatEvent{Type: EventText, Payload: text}
}

func ErrorEvent(message string) ChatEvent {
	return ChatEvent{Type: EventError, Payload: message}
}

func AnnotationEvent(state MessageState, display string) ChatEvent {
	return ChatEvent{Type: EventAnnotation, Payload: AnnotationPayload{State: state, Display: display}}
}

func DataEvent(chat Chat, user, assistant ChatMessage) ChatEvent {
	return ChatEvent{Type: EventData, Payload: DataPayload{Chat: chat, UserMessage: user, AssistantMessage: assistant}}
}

// TurnFinished is published once an assistant message has been persisted.
type TurnFinished struct {
	ChatID             string    `json:"chat_id"`
	UserMessageID      string    `json:"user_message_id"`
	AssistantMessageID string    `json:"assistant_message_id"`
	UserID             string    `json:"user_id"`
	Question           string    `json:"question"`
	Answer             string    `json:"answer"`
	FinishedAt         time.Time `json:"finished_at"`
}
