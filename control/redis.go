package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lattice-run/wsproxy/obs"
)

// RedisManager creates RedisSession instances against a shared
// redis.Client. Grounded on
// _examples/matst80-showoff/cmd/server/server-redis-state.go's use of
// go-redis (context-scoped calls, Ping on construction, wrapped errors).
type RedisManager struct {
	client *redis.Client
}

// NewRedisManager dials addr and verifies connectivity before returning,
// matching the teacher repo's newRedisStateStore constructor shape.
func NewRedisManager(addr, password string, db int) (*RedisManager, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("control: redis connection failed: %w", err)
	}
	return &RedisManager{client: rdb}, nil
}

func (m *RedisManager) NewSession(channelPrefix string) Session {
	return &RedisSession{
		client:        m.client,
		channelPrefix: channelPrefix,
		events:        make(chan Event, 16),
	}
}

// gripEnvelope is the wire format published to a session's events
// channel. This wire format is not specified by spec.md (the
// control-channel transport is explicitly out of scope, "referenced
// only by interface"); it is a concrete, minimal realization needed to
// make control.Session actually runnable over Redis.
type gripEnvelope struct {
	Event       string `json:"event"` // "send" | "detach"
	ContentType string `json:"contentType,omitempty"`
	Message     string `json:"message,omitempty"`
}

// RedisSession implements control.Session by publishing GRIP messages to
// a Redis channel and subscribing to a companion events channel for
// sendEvent/detachEvent notifications.
type RedisSession struct {
	client        *redis.Client
	channelPrefix string

	mu     sync.Mutex
	pubsub *redis.PubSub
	events chan Event
	closed bool
}

func (s *RedisSession) gripChannel() string   { return "grip:" + s.channelPrefix }
func (s *RedisSession) eventsChannel() string { return "grip:" + s.channelPrefix + ":events" }

func (s *RedisSession) Start(ctx context.Context) error {
	s.mu.Lock()
	s.pubsub = s.client.Subscribe(ctx, s.eventsChannel())
	s.mu.Unlock()

	if _, err := s.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("control: subscribe %s: %w", s.eventsChannel(), err)
	}

	go s.readLoop()
	return nil
}

func (s *RedisSession) readLoop() {
	ch := s.pubsub.Channel()
	for msg := range ch {
		var env gripEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			obs.Logger().Warn().Err(err).Str("channel", msg.Channel).Msg("control: malformed event envelope")
			continue
		}
		switch env.Event {
		case "send":
			s.deliver(Event{Kind: EventSend, ContentType: env.ContentType, Message: []byte(env.Message)})
		case "detach":
			s.deliver(Event{Kind: EventDetach})
		default:
			obs.Logger().Warn().Str("event", env.Event).Msg("control: unknown event kind")
		}
	}
}

func (s *RedisSession) deliver(ev Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.events <- ev
}

func (s *RedisSession) SendGripMessage(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Publish(ctx, s.gripChannel(), payload).Err(); err != nil {
		return fmt.Errorf("control: publish to %s: %w", s.gripChannel(), err)
	}
	return nil
}

func (s *RedisSession) Events() <-chan Event {
	return s.events
}

func (s *RedisSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pubsub := s.pubsub
	s.mu.Unlock()

	if pubsub != nil {
		return pubsub.Close()
	}
	return nil
}

var _ Session = (*RedisSession)(nil)
var _ Manager = (*RedisManager)(nil)
