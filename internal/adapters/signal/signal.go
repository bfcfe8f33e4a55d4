// Package signal is the client side of the duplex event stream: a
// websocket that re-dials forever until closed, buffering outbound frames
// while it is down.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("signal channel closed")

type Status int32

const (
	StatusClosed Status = iota
	StatusConnecting
	StatusOpen
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	default:
		return "closed"
	}
}

type Options struct {
	URL            string
	ReconnectDelay time.Duration
	// Backoff overrides the constant ReconnectDelay policy when set.
	Backoff    Backoff
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
	Dialer     *websocket.Dialer
	Logger     zerolog.Logger
}

func (o *Options) setDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.Backoff == nil {
		o.Backoff = Constant(o.ReconnectDelay)
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// Channel owns the physical connection and the outgoing buffer. One Channel
// is created per login and handed to every consumer.
type Channel struct {
	opts     Options
	log      zerolog.Logger
	clientID string

	mu         sync.Mutex
	status     Status
	identity   domain.Identity
	outbox     []core.Frame
	subs       map[core.EventType]map[uint64]func(core.Frame)
	statusSubs map[uint64]func(Status)
	nextSub    uint64
	conn       *websocket.Conn
	started    bool
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc

	wake chan struct{}
	done chan struct{}
}

func New(opts Options) *Channel {
	opts.setDefaults()
	return &Channel{
		opts:       opts,
		log:        opts.Logger.With().Str("module", "signal").Logger(),
		clientID:   uuid.NewString(),
		status:     StatusClosed,
		subs:       make(map[core.EventType]map[uint64]func(core.Frame)),
		statusSubs: make(map[uint64]func(Status)),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Connect starts the connection loop and returns immediately. Calling it
// again only replaces the identity used by the next dial.
func (c *Channel) Connect(ctx context.Context, identity domain.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.identity = identity
	if c.started {
		return nil
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.run()
	return nil
}

// Send queues ev for delivery. While the connection is not open the frame
// stays in the ordered outgoing buffer and is flushed on the next open.
func (c *Channel) Send(ev core.Event) error {
	frame, err := core.Encode(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.outbox = append(c.outbox, frame)
	open := c.status == StatusOpen
	queued := len(c.outbox)
	c.mu.Unlock()

	if open {
		c.signalWake()
	} else {
		c.log.Debug().Str("event", string(ev.Payload.EventType())).Int("queued", queued).Msg("not open, buffering")
	}
	return nil
}

// Subscribe registers fn for frames tagged tag, or every frame for
// core.EventAny. Handlers run on the read goroutine in arrival order.
func (c *Channel) Subscribe(tag core.EventType, fn func(core.Frame)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	if c.subs[tag] == nil {
		c.subs[tag] = make(map[uint64]func(core.Frame))
	}
	c.subs[tag][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs[tag], id)
			if len(c.subs[tag]) == 0 {
				delete(c.subs, tag)
			}
		})
	}
}

// OnStatus registers fn for status transitions.
func (c *Channel) OnStatus(fn func(Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.statusSubs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.statusSubs, id)
			c.mu.Unlock()
		})
	}
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Pending reports how many frames wait in the outgoing buffer.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

// Close stops the reconnect loop and drops the connection. Buffered frames
// are discarded.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.outbox = nil
	started := c.started
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if started {
		<-c.done
	}
	c.setStatus(StatusClosed)
	c.log.Info().Msg("closed")
}

func (c *Channel) run() {
	defer close(c.done)
	attempt := 0
	for {
		if c.ctx.Err() != nil {
			return
		}
		c.setStatus(StatusConnecting)
		conn, err := c.dial()
		if err != nil {
			attempt++
			delay := c.opts.Backoff(attempt)
			c.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("dial failed")
			if !c.sleep(delay) {
				return
			}
			continue
		}
		attempt = 0
		c.serve(conn)
		if c.ctx.Err() != nil {
			return
		}
		delay := c.opts.Backoff(1)
		c.log.Warn().Dur("retry_in", delay).Msg("connection lost, scheduling reconnect")
		c.setStatus(StatusConnecting)
		if !c.sleep(delay) {
			return
		}
	}
}

func (c *Channel) dial() (*websocket.Conn, error) {
	c.mu.Lock()
	identity := c.identity
	c.mu.Unlock()

	header := http.Header{}
	if identity.Token != "" {
		header.Set("Authorization", "Bearer "+identity.Token)
	}
	conn, resp, err := c.opts.Dialer.DialContext(c.ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			c.log.Debug().Int("status", resp.StatusCode).Msg("handshake rejected")
		}
		return nil, err
	}
	return conn, nil
}

// serve runs one connection until it drops.
func (c *Channel) serve(conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	identity := c.identity
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	if err := c.identify(conn, identity); err != nil {
		c.log.Error().Err(err).Msg("identify failed")
		_ = conn.Close()
		return
	}
	c.log.Info().Str("url", c.opts.URL).Str("client_id", c.clientID).Msg("connected")
	c.setStatus(StatusOpen)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(connCtx, conn)
	}()

	c.readPump(connCtx, conn)
	cancel()
	_ = conn.Close()
	<-writerDone
}

func (c *Channel) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Channel) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) pop() (core.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outbox) == 0 {
		return nil, false
	}
	f := c.outbox[0]
	c.outbox[0] = nil
	c.outbox = c.outbox[1:]
	return f, true
}

// requeue puts back a frame whose write failed so it leads the next flush.
func (c *Channel) requeue(f core.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.outbox = append([]core.Frame{f}, c.outbox...)
}

func (c *Channel) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	ids := make([]uint64, 0, len(c.statusSubs))
	for id := range c.statusSubs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Status), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.statusSubs[id])
	}
	c.mu.Unlock()

	c.log.Debug().Str("status", s.String()).Msg("status changed")
	for _, fn := range fns {
		c.safeCall(func() { fn(s) })
	}
}

func (c *Channel) handlersFor(tag core.EventType) []func(core.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	type entry struct {
		id uint64
		fn func(core.Frame)
	}
	var entries []entry
	for _, t := range []core.EventType{tag, core.EventAny} {
		for id, fn := range c.subs[t] {
			entries = append(entries, entry{id, fn})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	out := make([]func(core.Frame), len(entries))
	for i, e := range entries {
		out[i] = e.fn
	}
	return out
}

// safeCall keeps a panicking subscriber from taking the read loop down.
func (c *Channel) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("subscriber panic")
		}
	}()
	fn()
}
