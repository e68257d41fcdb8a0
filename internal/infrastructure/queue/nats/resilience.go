package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/resilience"
)

// classifyNATSError retries connection loss. Everything else is final.
func classifyNATSError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyCommon(err); ok {
		return class
	}
	switch {
	case errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrConnectionReconnecting):
		return resilience.Transient
	}
	return resilience.Permanent
}
