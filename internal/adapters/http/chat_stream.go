package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

// chatStream writes chat events as data stream lines: "<type>:<json>\n".
// Data and annotation parts are JSON arrays, text and error parts JSON strings.
type chatStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newChatStream(w http.ResponseWriter) (*chatStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Vercel-AI-Data-Stream", "v1")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &chatStream{w: w, flusher: flusher}, nil
}

// Pipe writes every event until the channel closes. After a write failure the
// remaining events are drained so the producer can finish.
func (s *chatStream) Pipe(events <-chan domain.ChatEvent) error {
	var firstErr error
	for ev := range events {
		if firstErr != nil {
			continue
		}
		firstErr = s.Write(ev)
	}
	return firstErr
}

func (s *chatStream) Write(ev domain.ChatEvent) error {
	line, err := encodeChatEvent(ev)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(line); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func encodeChatEvent(ev domain.ChatEvent) ([]byte, error) {
	payload := ev.Payload
	switch ev.Type {
	case domain.EventData, domain.EventAnnotation:
		payload = []any{ev.Payload}
	case domain.EventText, domain.EventError:
		if _, ok := ev.Payload.(string); !ok {
			return nil, fmt.Errorf("event type %d expects a string payload, got %T", ev.Type, ev.Payload)
		}
	default:
		return nil, fmt.Errorf("unknown event type %d", ev.Type)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode event type %d: %w", ev.Type, err)
	}
	line := make([]byte, 0, len(body)+4)
	line = fmt.Appendf(line, "%d:", ev.Type)
	line = append(line, body...)
	return append(line, '\n'), nil
}
