// Package bus provides the event fabric for the prediction pipeline:
// an in-process channel bus for the Community tier and a NATS bus for Pro.
package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-retail/kestrel/internal/domain"
)

var errClosed = errors.New("event bus is closed")

// requestTimeout bounds Request calls with no context deadline.
const requestTimeout = 30 * time.Second

// New builds the event bus named by the configuration.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newMessage stamps a payload with identity and publish time.
func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
