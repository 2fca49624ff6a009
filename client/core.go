// Package client is the collaborator-facing transport core: connect,
// read-loop, bounded send queue, correlation-tracked request/response, and
// backoff-driven reconnection, generalizing the teacher's cli.Client
// (cli/main.go) from a single hello/agent_invoke exchange into the full
// Star Protocol wire contract. Agent, Environment and Human are thin role
// facades over Core (spec §4.6).
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/GCYYfun/star-protocol/internal/metrics"
	"github.com/GCYYfun/star-protocol/protocol"
)

// HandlerFunc receives one decoded protocol message.
type HandlerFunc func(envelope protocol.Envelope)

// Options configures a Core.
type Options struct {
	Sink              metrics.Sink
	HeartbeatInterval time.Duration
	SendQueueDepth    int
	RequestTimeout    time.Duration
	MaxReconnectTries uint64 // 0 means unlimited
	Dial              func(ctx context.Context, url string) (*websocket.Conn, error)
}

func (o Options) withDefaults() Options {
	if o.Sink == nil {
		o.Sink = metrics.NoopSink{}
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.SendQueueDepth <= 0 {
		o.SendQueueDepth = 256
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.Dial == nil {
		o.Dial = dialWebsocket
	}
	return o
}

func dialWebsocket(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

type pendingCall struct {
	resultCh chan protocol.OutcomePayload
	errCh    chan *protocol.StarError
}

// Core is the shared transport used by every role facade.
type Core struct {
	url      string
	identity protocol.Identity
	opts     Options

	mu         sync.Mutex
	conn       *websocket.Conn
	sendCh     chan []byte
	closed     chan struct{}
	closedOnce sync.Once

	pendingMu sync.Mutex
	pending   map[string]pendingCall

	handlersMu      sync.RWMutex
	actionHandlers  map[string][]HandlerFunc
	outcomeHandlers []HandlerFunc
	eventHandlers   map[string][]HandlerFunc
	streamHandlers  map[string][]HandlerFunc
	errorHandlers   []HandlerFunc
}

// NewCore builds a Core for identity that will dial url on Connect.
func NewCore(url string, identity protocol.Identity, opts Options) *Core {
	opts = opts.withDefaults()
	return &Core{
		url:            url,
		identity:       identity,
		opts:           opts,
		sendCh:         make(chan []byte, opts.SendQueueDepth),
		closed:         make(chan struct{}),
		pending:        make(map[string]pendingCall),
		actionHandlers: make(map[string][]HandlerFunc),
		eventHandlers:  make(map[string][]HandlerFunc),
		streamHandlers: make(map[string][]HandlerFunc),
	}
}

// OnAction registers fn to run for every incoming action payload named name.
func (c *Core) OnAction(name string, fn HandlerFunc) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.actionHandlers[name] = append(c.actionHandlers[name], fn)
}

// OnEvent registers fn to run for every incoming event payload named name.
// An empty name subscribes to every event regardless of its name.
func (c *Core) OnEvent(name string, fn HandlerFunc) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.eventHandlers[name] = append(c.eventHandlers[name], fn)
}

// OnOutcome registers fn to run for every incoming outcome payload that does
// not match a pending SendAndWait/QueryHub call — a stray outcome (spec §4.6)
// is still delivered here rather than silently dropped.
func (c *Core) OnOutcome(fn HandlerFunc) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.outcomeHandlers = append(c.outcomeHandlers, fn)
}

// OnStream registers fn to run for every incoming stream payload of the
// given stream_type.
func (c *Core) OnStream(streamType string, fn HandlerFunc) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.streamHandlers[streamType] = append(c.streamHandlers[streamType], fn)
}

// OnError registers fn to run for every incoming error envelope not claimed
// by a pending SendAndWait call.
func (c *Core) OnError(fn HandlerFunc) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.errorHandlers = append(c.errorHandlers, fn)
}

// Connect dials the Hub once, without reconnect handling; Run should be
// preferred for long-lived clients.
func (c *Core) Connect(ctx context.Context) error {
	conn, err := c.opts.Dial(ctx, c.url)
	if err != nil {
		return protocol.NewError(protocol.ErrConnectionFailed, err.Error(), nil)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop()
	go c.heartbeatLoop()
	go c.readLoop()
	return nil
}

// Run connects and, on disconnect, reconnects using exponential backoff
// until ctx is cancelled or MaxReconnectTries is exhausted, mirroring the
// teacher's single-shot NewClient but adding the resilience spec §4.6's
// collaborator contract requires. A caller that wants Run to stop for good
// rather than reconnect must cancel ctx; calling Close alone only drops the
// current connection.
func (c *Core) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	// Full jitter: with RandomizationFactor 1 the library draws each wait from
	// [0, 2×interval), so the intervals are halved here to make every wait fall
	// in [0, current) where current runs 0.5s, 1s, 2s, ... capped at 30s.
	bo.RandomizationFactor = 1
	bo.InitialInterval = 250 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 15 * time.Second
	var limited backoff.BackOff = bo
	if c.opts.MaxReconnectTries > 0 {
		limited = backoff.WithMaxRetries(bo, c.opts.MaxReconnectTries)
	}

	operation := func() error {
		if err := c.Connect(ctx); err != nil {
			return err
		}
		<-c.closed // blocks until the connection drops or Close is called
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		default:
		}
		c.resetForReconnect()
		return fmt.Errorf("connection lost")
	}

	err := backoff.Retry(operation, backoff.WithContext(limited, ctx))
	if err != nil && ctx.Err() == nil {
		return protocol.NewError(protocol.ErrReconnectionFailed, err.Error(), nil)
	}
	return nil
}

func (c *Core) resetForReconnect() {
	c.mu.Lock()
	c.closed = make(chan struct{})
	c.closedOnce = sync.Once{}
	c.mu.Unlock()
}

// Close terminates the connection and stops all loops, failing every
// outstanding SendAndWait/QueryHub call with CONNECTION_LOST (spec §4.6,
// §5) instead of leaving it to block until RequestTimeout.
func (c *Core) Close() error {
	c.closedOnce.Do(func() {
		close(c.closed)
		c.failPending(protocol.NewError(protocol.ErrConnectionLost, "connection closed", nil))
	})
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// failPending delivers err to every call awaiting a correlated outcome and
// clears the pending table, so a dropped connection surfaces CONNECTION_LOST
// immediately rather than after RequestTimeout elapses.
func (c *Core) failPending(err *protocol.StarError) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, call := range c.pending {
		select {
		case call.errCh <- err:
		default:
		}
		delete(c.pending, id)
	}
}

// Send enqueues envelope for delivery, blocking until there is queue room or
// ctx is cancelled.
func (c *Core) Send(ctx context.Context, envelope protocol.Envelope) error {
	data, err := protocol.Encode(envelope)
	if err != nil {
		return err
	}
	select {
	case c.sendCh <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return protocol.NewError(protocol.ErrConnectionLost, "core is closed", nil)
	}
}

// SendAndWait sends an action to recipient and blocks for its outcome,
// correlated by the action's id, implementing the send_and_wait request/
// response pattern spec.md calls out as a client-core responsibility.
func (c *Core) SendAndWait(ctx context.Context, recipient protocol.Identity, action string, params map[string]interface{}) (protocol.Outcome, error) {
	payload := protocol.NewAction("", action, params)
	envelope, err := protocol.NewEnvelope(protocol.EnvelopeMessage, c.identity, recipient, payload)
	if err != nil {
		return protocol.Outcome{}, err
	}
	return c.sendAwaitingOutcome(ctx, envelope, payload.ID)
}

// QueryHub asks the Hub's introspection surface for streamType
// (get_environments, get_server_stats) and returns its outcome data.
func (c *Core) QueryHub(ctx context.Context, streamType string) (map[string]interface{}, error) {
	payload := protocol.NewStreamRequest("", streamType)
	envelope, err := protocol.NewEnvelope(protocol.EnvelopeMessage, c.identity, protocol.Hub, payload)
	if err != nil {
		return nil, err
	}
	outcome, err := c.sendAwaitingOutcome(ctx, envelope, payload.ID)
	if err != nil {
		return nil, err
	}
	return outcome.Data, nil
}

// sendAwaitingOutcome registers correlationID in the pending table, sends
// envelope, and blocks until an outcome echoes correlationID, an error
// envelope names envelope's id in details.in_reply_to, or RequestTimeout
// elapses.
func (c *Core) sendAwaitingOutcome(ctx context.Context, envelope protocol.Envelope, correlationID string) (protocol.Outcome, error) {
	call := pendingCall{
		resultCh: make(chan protocol.OutcomePayload, 1),
		errCh:    make(chan *protocol.StarError, 1),
	}
	c.pendingMu.Lock()
	c.pending[correlationID] = call
	if envelope.ID != "" {
		c.pending[envelope.ID] = call
	}
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, correlationID)
		delete(c.pending, envelope.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.Send(ctx, envelope); err != nil {
		return protocol.Outcome{}, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	select {
	case outcome := <-call.resultCh:
		return outcome.Outcome, nil
	case starErr := <-call.errCh:
		return protocol.Outcome{}, starErr
	case <-timeoutCtx.Done():
		return protocol.Outcome{}, protocol.NewError(protocol.ErrTimeout, "request timed out", map[string]interface{}{"correlation_id": correlationID})
	}
}

func (c *Core) writeLoop() {
	for {
		select {
		case data := <-c.sendCh:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.opts.Sink.Log(metrics.LevelWarn, "client write failed", map[string]interface{}{"error": err.Error()})
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Core) heartbeatLoop() {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			envelope, err := protocol.NewEnvelope(protocol.EnvelopeHeartbeat, c.identity, protocol.Hub, protocol.HeartbeatPayload{
				Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
				ServerStatus: "running",
				Ping:         "pong",
			})
			if err != nil {
				continue
			}
			_ = c.Send(context.Background(), envelope)
		case <-c.closed:
			return
		}
	}
}

func (c *Core) readLoop() {
	defer c.Close()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		envelope, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		c.dispatch(envelope)
	}
}

func (c *Core) dispatch(envelope protocol.Envelope) {
	switch envelope.Type {
	case protocol.EnvelopeHeartbeat:
		return
	case protocol.EnvelopeError:
		c.dispatchError(envelope)
		return
	case protocol.EnvelopeMessage:
		c.dispatchMessage(envelope)
	}
}

// invokeHandler runs fn, recovering a panic so one misbehaving handler
// cannot take down the read loop (spec §4.6, §7 INTERNAL_ERROR).
func (c *Core) invokeHandler(fn HandlerFunc, envelope protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.opts.Sink.Log(metrics.LevelError, "client handler panic", map[string]interface{}{
				"error":         fmt.Sprintf("%v", r),
				"envelope_id":   envelope.ID,
				"envelope_type": string(envelope.Type),
			})
		}
	}()
	fn(envelope)
}

func (c *Core) dispatchError(envelope protocol.Envelope) {
	var payload protocol.ErrorPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return
	}
	starErr := protocol.NewError(protocol.ErrorCode(payload.ErrorCode), payload.Message, payload.Details)

	if inReplyTo, ok := payload.Details["in_reply_to"].(string); ok {
		c.pendingMu.Lock()
		call, found := c.pending[inReplyTo]
		c.pendingMu.Unlock()
		if found {
			call.errCh <- starErr
			return
		}
	}

	c.handlersMu.RLock()
	handlers := append([]HandlerFunc(nil), c.errorHandlers...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		c.invokeHandler(h, envelope)
	}
}

func (c *Core) dispatchMessage(envelope protocol.Envelope) {
	payload, err := protocol.DecodePayload(envelope.Payload)
	if err != nil {
		return
	}

	switch p := payload.(type) {
	case protocol.ActionPayload:
		c.handlersMu.RLock()
		handlers := append([]HandlerFunc(nil), c.actionHandlers[p.Action]...)
		c.handlersMu.RUnlock()
		for _, h := range handlers {
			c.invokeHandler(h, envelope)
		}
	case protocol.OutcomePayload:
		c.pendingMu.Lock()
		call, found := c.pending[p.ID]
		c.pendingMu.Unlock()
		if found {
			call.resultCh <- p
			return
		}
		c.handlersMu.RLock()
		handlers := append([]HandlerFunc(nil), c.outcomeHandlers...)
		c.handlersMu.RUnlock()
		for _, h := range handlers {
			c.invokeHandler(h, envelope)
		}
	case protocol.EventPayload:
		c.handlersMu.RLock()
		handlers := append([]HandlerFunc(nil), c.eventHandlers[p.Event]...)
		if p.Event != "" {
			handlers = append(handlers, c.eventHandlers[""]...)
		}
		c.handlersMu.RUnlock()
		for _, h := range handlers {
			c.invokeHandler(h, envelope)
		}
	case protocol.StreamPayload:
		c.handlersMu.RLock()
		handlers := append([]HandlerFunc(nil), c.streamHandlers[p.StreamType]...)
		c.handlersMu.RUnlock()
		for _, h := range handlers {
			c.invokeHandler(h, envelope)
		}
	}
}

// Identity returns the identity this core authenticates as.
func (c *Core) Identity() protocol.Identity {
	return c.identity
}
