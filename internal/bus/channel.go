package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-retail/kestrel/internal/domain"
)

// ChannelBus is the Community tier event bus. Everything stays inside the
// process; topics are fanned out over buffered channels per subscriber.
// Delivery is best-effort: a subscriber that cannot keep up loses messages
// rather than blocking publishers.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	subs   map[string][]*channelSubscription
	closed bool
}

type channelSubscription struct {
	topic  string
	inbox  chan *domain.Message
	cancel context.CancelFunc
}

// NewChannelBus creates an in-process event bus. bufferSize is the per
// subscriber inbox depth; zero or negative selects the default of 1000.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		buffer: bufferSize,
		subs:   make(map[string][]*channelSubscription),
	}
}

// Publish fans a message out to every subscriber of the tenant's topic.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errClosed
	}
	targets := b.subs[subKey(tenantID, topic)]
	b.mu.RUnlock()

	msg := newMessage(tenantID, topic, payload)
	for _, sub := range targets {
		select {
		case sub.inbox <- msg:
		default:
			// Inbox full, this subscriber misses the message.
		}
	}
	return nil
}

// Subscribe registers a handler for a tenant's topic. The handler runs on
// a dedicated goroutine until Unsubscribe or bus close.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		topic:  topic,
		inbox:  make(chan *domain.Message, b.buffer),
		cancel: cancel,
	}

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg := <-sub.inbox:
				if msg == nil {
					return
				}
				_ = handler(subCtx, msg)
			}
		}
	}()

	key := subKey(tenantID, topic)
	b.subs[key] = append(b.subs[key], sub)
	return sub, nil
}

// Request publishes and waits for a single reply on a throwaway reply
// topic. The responder is expected to publish to msg.Topic + ".reply.<id>".
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("request timeout")
	}
}

// Ping reports whether the bus can still accept traffic.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	return nil
}

// Close cancels every subscription and rejects further use.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
			close(sub.inbox)
		}
	}
	b.subs = make(map[string][]*channelSubscription)
	return nil
}

func subKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.topic
}
