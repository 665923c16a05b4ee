// Package realtime consumes Supabase Realtime postgres_changes over the
// Phoenix websocket protocol.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Subscription selects the rows a channel receives.
type Subscription struct {
	Schema string
	Table  string
	Event  string // INSERT, UPDATE, DELETE or *
	Filter string // optional, e.g. "user_id=eq.42"
}

func (s Subscription) topic() string {
	t := fmt.Sprintf("realtime:%s:%s", s.Schema, s.Table)
	if s.Filter != "" {
		t += ":" + s.Filter
	}
	return t
}

// Handler receives decoded change events in commit order per connection.
type Handler func(ctx context.Context, ev domain.ChangeEvent)

// Client keeps one websocket open and re-joins every subscription after a
// reconnect.
type Client struct {
	url       string
	apiKey    string
	logger    *zap.Logger
	heartbeat time.Duration
	minDelay  time.Duration
	maxDelay  time.Duration

	mu        sync.Mutex
	subs      []Subscription
	onConnect func(ctx context.Context)

	ref uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHeartbeat overrides the 30s heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

// WithReconnectDelay sets the backoff bounds between reconnect attempts.
func WithReconnectDelay(min, max time.Duration) Option {
	return func(c *Client) {
		c.minDelay = min
		c.maxDelay = max
	}
}

// NewClient builds a client for supabaseURL (http or https).
func NewClient(supabaseURL, apiKey string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		url:       WebsocketURL(supabaseURL, apiKey),
		apiKey:    apiKey,
		logger:    logger,
		heartbeat: 30 * time.Second,
		minDelay:  time.Second,
		maxDelay:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WebsocketURL converts a Supabase project URL into its realtime endpoint.
func WebsocketURL(supabaseURL, apiKey string) string {
	u := strings.TrimRight(supabaseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"
}

// Subscribe registers a subscription. It takes effect on the next (re)connect.
func (c *Client) Subscribe(s Subscription) {
	if s.Schema == "" {
		s.Schema = "public"
	}
	if s.Event == "" {
		s.Event = "*"
	}
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
}

// OnConnect registers a callback run after every successful join. Events may
// have been missed while disconnected, so consumers resynchronise here. The
// callback runs concurrently with event dispatch and its context ends with
// the connection.
func (c *Client) OnConnect(fn func(ctx context.Context)) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// Run connects and dispatches events until ctx is cancelled, reconnecting
// with exponential backoff.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	delay := c.minDelay
	for {
		connected, err := c.runOnce(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = c.minDelay
		}
		c.logger.Warn("realtime: connection lost",
			zap.Error(err),
			zap.Duration("retry_in", delay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
}

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(atomic.AddUint64(&c.ref, 1), 10)
}

// runOnce holds a single connection. connected reports whether the dial
// and joins succeeded.
func (c *Client) runOnce(ctx context.Context, handle Handler) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(msg map[string]any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(msg)
	}

	c.mu.Lock()
	subs := append([]Subscription(nil), c.subs...)
	onConnect := c.onConnect
	c.mu.Unlock()

	topics := make(map[string]bool, len(subs))
	for _, s := range subs {
		topics[s.topic()] = true
		ref := c.nextRef()
		join := map[string]any{
			"topic":    s.topic(),
			"event":    "phx_join",
			"ref":      ref,
			"join_ref": ref,
			"payload": map[string]any{
				"config": map[string]any{
					"postgres_changes": []map[string]any{joinConfig(s)},
				},
				"access_token": c.apiKey,
			},
		}
		if err := write(join); err != nil {
			return false, fmt.Errorf("send join %s: %w", s.topic(), err)
		}
	}
	c.logger.Info("realtime: connected", zap.Int("subscriptions", len(subs)))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The resync runs while the read loop keeps draining, so changes that
	// committed before it are applied first and then overwritten.
	if onConnect != nil {
		go onConnect(connCtx)
	}
	go func() {
		<-connCtx.Done()
		writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		writeMu.Unlock()
		conn.Close()
	}()
	go func() {
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				err := write(map[string]any{
					"topic":   "phoenix",
					"event":   "heartbeat",
					"payload": map[string]any{},
					"ref":     c.nextRef(),
				})
				if err != nil {
					c.logger.Warn("realtime: heartbeat failed", zap.Error(err))
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var msg phxMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Debug("realtime: undecodable frame", zap.Error(err))
			continue
		}
		switch msg.Event {
		case "phx_reply", "presence_state", "presence_diff", "system":
			continue
		case "phx_error", "phx_close":
			c.logger.Warn("realtime: channel closed", zap.String("topic", msg.Topic), zap.String("event", msg.Event))
			if topics[msg.Topic] {
				return true, fmt.Errorf("channel %s: %s", msg.Topic, msg.Event)
			}
			continue
		}
		ev, ok := DecodeChange(msg.Event, msg.Payload)
		if !ok {
			continue
		}
		handle(ctx, ev)
	}
}

func joinConfig(s Subscription) map[string]any {
	cfg := map[string]any{"event": s.Event, "schema": s.Schema, "table": s.Table}
	if s.Filter != "" {
		cfg["filter"] = s.Filter
	}
	return cfg
}

type changePayload struct {
	Schema          string         `json:"schema"`
	Table           string         `json:"table"`
	Type            string         `json:"type"`
	Record          map[string]any `json:"record"`
	OldRecord       map[string]any `json:"old_record"`
	CommitTimestamp string         `json:"commit_timestamp"`
}

// DecodeChange turns a Phoenix payload into a ChangeEvent. It accepts the
// current "postgres_changes" envelope ({"data": {...}}) as well as the
// legacy per-type events (INSERT/UPDATE/DELETE with the change inline).
func DecodeChange(event string, payload json.RawMessage) (domain.ChangeEvent, bool) {
	var p changePayload
	switch event {
	case "postgres_changes":
		var env struct {
			Data changePayload `json:"data"`
		}
		if err := json.Unmarshal(payload, &env); err != nil {
			return domain.ChangeEvent{}, false
		}
		p = env.Data
	case "INSERT", "UPDATE", "DELETE":
		if err := json.Unmarshal(payload, &p); err != nil {
			return domain.ChangeEvent{}, false
		}
		if p.Type == "" {
			p.Type = event
		}
	default:
		return domain.ChangeEvent{}, false
	}

	ct := domain.ChangeType(strings.ToUpper(p.Type))
	if ct != domain.ChangeInsert && ct != domain.ChangeUpdate && ct != domain.ChangeDelete {
		return domain.ChangeEvent{}, false
	}
	ev := domain.ChangeEvent{
		Schema:    p.Schema,
		Table:     p.Table,
		Type:      ct,
		Record:    p.Record,
		OldRecord: p.OldRecord,
	}
	if len(ev.OldRecord) == 0 {
		ev.OldRecord = nil
	}
	if p.CommitTimestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, p.CommitTimestamp); err == nil {
			ev.CommitAt = t
		}
	}
	return ev, true
}
