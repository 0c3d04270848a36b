package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned when a command is sent while the gateway
	// connection is down.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrCommandRejected is returned when the gateway acks a command with
	// success=false.
	ErrCommandRejected = errors.New("gateway: command rejected")

	// ErrAckTimeout is returned when the gateway does not ack a command
	// within the command timeout.
	ErrAckTimeout = errors.New("gateway: ack timeout")
)

const (
	defaultCommandTimeout = 3 * time.Second
	redialMinBackoff      = time.Second
	redialMaxBackoff      = 30 * time.Second
)

type Options struct {
	URL            string
	CommandTimeout time.Duration
	Logger         *zap.Logger
}

type sendResult struct {
	success bool
	errMsg  string
	err     error
}

// Subscription delivers events matching a filter to one waiter.  Used for
// the command/report coupling: subscribe, send the command, wait for the
// matching report.
type Subscription struct {
	conn  *Conn
	id    int
	match func(Event) bool
	ch    chan Event
}

// Wait blocks for the next matching event, a timeout, or ctx cancellation.
// The boolean is false when no event arrived in time.
func (s *Subscription) Wait(ctx context.Context, timeout time.Duration) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-s.ch:
		return ev, true
	case <-timer.C:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

func (s *Subscription) Cancel() {
	s.conn.mu.Lock()
	delete(s.conn.subs, s.id)
	s.conn.mu.Unlock()
}

// Conn is the process-wide gateway connection.  Run owns dial and redial;
// Send correlates command acks by message id; events fan out to persistent
// handlers and one-shot subscriptions.
type Conn struct {
	url            string
	commandTimeout time.Duration
	log            *zap.Logger
	dialer         *websocket.Dialer

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu        sync.Mutex
	ws        *websocket.Conn
	pending   map[string]chan sendResult
	subs      map[int]*Subscription
	nextSubID int
	handlers  []func(Event)
}

func NewConn(opts Options) *Conn {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Conn{
		url:            opts.URL,
		commandTimeout: opts.CommandTimeout,
		log:            opts.Logger,
		dialer:         websocket.DefaultDialer,
		pending:        make(map[string]chan sendResult),
		subs:           make(map[int]*Subscription),
	}
}

// Run dials the gateway and keeps the connection alive until ctx is
// canceled, redialing with backoff after failures.
func (c *Conn) Run(ctx context.Context) error {
	backoff := redialMinBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.log.Warn("gateway dial failed",
				zap.String("url", c.url), zap.Duration("retry_in", backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > redialMaxBackoff {
				backoff = redialMaxBackoff
			}
			continue
		}
		backoff = redialMinBackoff
		c.log.Info("gateway connected", zap.String("url", c.url))

		c.attach(ws)
		go c.startListening(ctx)

		// Close the socket when ctx is canceled so readLoop unblocks.
		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = ws.Close()
			case <-stop:
			}
		}()

		readErr := c.readLoop(ws)
		close(stop)
		c.detach(ws)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("gateway connection lost", zap.Error(readErr))
	}
}

// Connected reports whether a gateway connection is currently up.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Send issues a command and waits for the gateway's ack.  A message id is
// assigned if the caller did not set one.  Success means the command was
// accepted for delivery to the lock, not that the lock applied it.
func (c *Conn) Send(ctx context.Context, req Request) error {
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}

	ch := make(chan sendResult, 1)
	c.mu.Lock()
	ws := c.ws
	if ws == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[req.MessageID] = ch
	c.mu.Unlock()
	defer c.forget(req.MessageID)

	c.writeMu.Lock()
	err := ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write %s: %w", req.Command, err)
	}

	timer := time.NewTimer(c.commandTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if !res.success {
			return fmt.Errorf("%w: %s: %s", ErrCommandRejected, req.Command, res.errMsg)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrAckTimeout, req.Command)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a one-shot event waiter.  Callers must Cancel when
// done.  Subscribe before sending the command the event answers, or a fast
// report can slip by.
func (c *Conn) Subscribe(match func(Event) bool) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	sub := &Subscription{
		conn:  c,
		id:    c.nextSubID,
		match: match,
		ch:    make(chan Event, 4),
	}
	c.subs[sub.id] = sub
	return sub
}

// OnEvent registers a persistent handler invoked for every event, in frame
// order, from the read loop.  Handlers must not block on gateway commands.
func (c *Conn) OnEvent(fn func(Event)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, fn)
	c.mu.Unlock()
}

func (c *Conn) startListening(ctx context.Context) {
	if err := c.Send(ctx, Request{Command: CmdStartListening}); err != nil {
		c.log.Warn("start_listening failed", zap.Error(err))
	}
}

func (c *Conn) attach(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

// detach clears the connection and fails every pending command so callers
// do not hang out their full timeout on a dead socket.
func (c *Conn) detach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	for id, ch := range c.pending {
		ch <- sendResult{err: ErrNotConnected}
		delete(c.pending, id)
	}
	c.mu.Unlock()
	_ = ws.Close()
}

func (c *Conn) forget(messageID string) {
	c.mu.Lock()
	delete(c.pending, messageID)
	c.mu.Unlock()
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("malformed gateway frame", zap.Error(err))
			continue
		}

		switch frame.Type {
		case frameResult:
			c.deliverResult(frame)
		case frameEvent:
			if frame.Event != nil {
				c.dispatchEvent(*frame.Event)
			}
		default:
			c.log.Debug("unhandled gateway frame", zap.String("type", frame.Type))
		}
	}
}

func (c *Conn) deliverResult(frame serverFrame) {
	c.mu.Lock()
	ch, ok := c.pending[frame.MessageID]
	if ok {
		delete(c.pending, frame.MessageID)
	}
	c.mu.Unlock()

	if !ok {
		// Ack for a command whose caller already timed out.
		c.log.Debug("orphan result frame", zap.String("message_id", frame.MessageID))
		return
	}
	ch <- sendResult{success: frame.Success, errMsg: frame.Error}
}

func (c *Conn) dispatchEvent(ev Event) {
	c.mu.Lock()
	handlers := make([]func(Event), len(c.handlers))
	copy(handlers, c.handlers)
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
	for _, sub := range subs {
		if sub.match(ev) {
			select {
			case sub.ch <- ev:
			default:
				// Waiter is slow; dropping is safe because reads are
				// retried and timeouts resolve to "unknown".
			}
		}
	}
}
