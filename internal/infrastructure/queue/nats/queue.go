package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/resilience"
)

// Notifier publishes finished chat turns and feeds them to a worker queue group.
type Notifier struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

func New(url, subject string) (*Notifier, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url, subject string, options Options) (*Notifier, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("sales-knowledge-assistant"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", errString(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Notifier{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (n *Notifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

func (n *Notifier) PublishTurnFinished(ctx context.Context, event domain.TurnFinished) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal turn finished: %w", err)
	}
	call := func(_ context.Context) error {
		if err := n.conn.Publish(n.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if err := n.executor.Execute(ctx, "nats.publish", call, classifyNATSError); err != nil {
		return resilience.WrapTemporary("nats publish", err, classifyNATSError)
	}
	return nil
}

// SubscribeTurnFinished blocks until ctx is done, then drains the subscription.
func (n *Notifier) SubscribeTurnFinished(ctx context.Context, handler func(context.Context, domain.TurnFinished) error) error {
	sub, err := n.conn.QueueSubscribe(n.subject, "workers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handleMessage(ctx, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := n.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// handleMessage decodes one notification and runs handler on it. Malformed
// payloads are logged and dropped.
func handleMessage(ctx context.Context, data []byte, handler func(context.Context, domain.TurnFinished) error) bool {
	var event domain.TurnFinished
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Error("turn_finished_decode_failed", "error", err.Error())
		return false
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, event); err != nil {
		slog.Error("turn_finished_handler_failed",
			"chat_id", event.ChatID,
			"message_id", event.AssistantMessageID,
			"error", err.Error(),
		)
		return false
	}
	return true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
