package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opensource-retail/kestrel/internal/domain"
)

// NATSBus is the Pro tier event bus. Subjects are scoped per tenant as
// kestrel.{tenant}.{topic}, so tenant isolation holds even when several
// Kestrel deployments share a NATS cluster.
type NATSBus struct {
	mu   sync.Mutex
	conn *nats.Conn
	subs []*natsSubscription
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to NATS with reconnect handling. The initial
// connection is retried NATSMaxReconnects times before giving up.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}

	conn, err := connectWithRetry(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
	)

	return &NATSBus{conn: conn}, nil
}

func connectWithRetry(cfg domain.EventBusConfig) (*nats.Conn, error) {
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	opts := []nats.Option{
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected",
				"error", err,
				"will_reconnect", !nc.IsClosed(),
			)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			slog.Error("NATS error", "error", err, "subject", sub.Subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var conn *nats.Conn
	var err error
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		conn, err = nats.Connect(cfg.NATSUrl, opts...)
		if err == nil {
			return conn, nil
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		time.Sleep(wait)
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, err)
}

// Publish sends a message on the tenant-scoped subject.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	data, err := json.Marshal(newMessage(tenantID, topic, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.conn.Publish(makeSubject(tenantID, topic), data)
}

// Subscribe registers a handler for the tenant's topic. Malformed payloads
// and handler errors are logged and skipped rather than breaking the
// subscription.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	natsSub, err := b.conn.Subscribe(makeSubject(tenantID, topic), func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("failed to unmarshal NATS message",
				"subject", m.Subject,
				"error", err,
			)
			return
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	sub := &natsSubscription{topic: topic, sub: natsSub}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

// Request performs NATS request-reply on the tenant-scoped subject.
func (b *NATSBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	data, err := json.Marshal(newMessage(tenantID, topic, payload))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	timeout := requestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	reply, err := b.conn.Request(makeSubject(tenantID, topic), data, timeout)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var replyMsg domain.Message
	if err := json.Unmarshal(reply.Data, &replyMsg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}
	return replyMsg.Payload, nil
}

// Ping verifies the connection by round-tripping a flush.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		_ = sub.sub.Unsubscribe()
	}
	b.subs = nil

	b.conn.Close()
	return nil
}

// Stats exposes NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func makeSubject(tenantID, topic string) string {
	return fmt.Sprintf("kestrel.%s.%s", tenantID, topic)
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
