// Package session implements a self-healing publish/subscribe session over
// a persistent duplex connection to a trading venue. The Session owns the
// transport lifecycle (connect, reconnect with bounded backoff, close),
// keeps a durable subscription registry that is replayed after every
// reconnect, heartbeats the venue, and dispatches inbound data frames to
// per-topic handlers.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Transport is one live duplex connection to the venue. ReadMessage blocks
// until a frame or a connection error arrives. Implementations must make
// Close safe to call concurrently with a blocked ReadMessage.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer establishes transports. Dial must honor ctx cancellation and
// perform any authentication handshake the venue requires.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// Options tunes the session lifecycle. Zero values fall back to defaults.
type Options struct {
	HeartbeatInterval time.Duration // default 20s
	StaleMultiplier   int           // staleness = multiplier x interval, default 2
	DialTimeout       time.Duration // per-attempt, default 10s
	BackoffBase       time.Duration // default 500ms
	BackoffMax        time.Duration // default 60s
	MaxRetries        int           // retry ceiling per connect, default 10
	Logger            *zerolog.Logger
}

func (o *Options) withDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 20 * time.Second
	}
	if o.StaleMultiplier < 2 {
		o.StaleMultiplier = 2
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 60 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 10
	}
}

type lossEvent struct {
	gen uint64
	err error
}

// Session drives the connect / run / reconnect / close state machine over
// transports produced by a Dialer. All public methods are safe for
// concurrent use.
type Session struct {
	dialer   Dialer
	opts     Options
	registry *Registry
	router   *Router
	log      zerolog.Logger

	mu        sync.Mutex
	state     State
	transport Transport
	hb        *heartbeat
	gen       uint64          // transport generation, bumps on every install
	sent      map[string]bool // topics subscribed on the current transport

	writeMu sync.Mutex // single-writer discipline on outbound sends

	notifyCh chan error

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	lossCh    chan lossEvent
}

// New creates a disconnected session. Call Connect to bring it up.
func New(dialer Dialer, opts Options) *Session {
	opts.withDefaults()
	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = zerolog.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		dialer:   dialer,
		opts:     opts,
		registry: NewRegistry(),
		log:      logger,
		notifyCh: make(chan error, 16),
		ctx:      ctx,
		cancel:   cancel,
		lossCh:   make(chan lossEvent, 1),
	}
	s.router = NewRouter(s.registry, s.notify, logger)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Errors delivers caller-visible failure signals: *ConnectionError when the
// retry budget is exhausted and *SubscriptionRejected on venue nacks.
// Per-frame and per-handler failures are contained and never appear here.
func (s *Session) Errors() <-chan error {
	return s.notifyCh
}

// Connect establishes the transport, retrying with bounded exponential
// backoff. On success the heartbeat starts and every desired-active registry
// entry is replayed as a subscribe request in insertion order. Returns a
// *ConnectionError once the retry budget is exhausted.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Closing, Closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case Disconnected:
		s.state = Connecting
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect not allowed in state %s", st)
	}
	s.mu.Unlock()

	t, err := s.dialWithBackoff(ctx)
	if err != nil {
		s.transition(Disconnected)
		return err
	}
	if !s.install(t) {
		return ErrSessionClosed
	}
	go s.supervise()
	return nil
}

// Subscribe records the desired subscription and, when connected, sends the
// subscribe request immediately; otherwise the entry is replayed on the
// next successful connect. Idempotent: re-subscribing a topic replaces the
// handler without duplicating the upstream subscription.
func (s *Session) Subscribe(topic string, handler Handler) error {
	if topic == "" {
		return fmt.Errorf("topic must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler must not be nil")
	}

	s.mu.Lock()
	if s.state == Closing || s.state == Closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.registry.Upsert(topic, handler)
	needSend := s.state == Connected && !s.sent[topic]
	gen := s.gen
	if needSend {
		s.sent[topic] = true
	}
	s.mu.Unlock()

	if needSend {
		if err := s.sendOn(gen, subscribeRequest(topic)); err != nil {
			// The entry is durable; the current or the next transport's
			// replay resends it. Unmark only while our transport is still
			// the live one, a reconnect already reset the sent set.
			s.mu.Lock()
			if s.gen == gen {
				delete(s.sent, topic)
			}
			s.mu.Unlock()
			s.log.Warn().Err(err).Str("topic", topic).Msg("Subscribe send failed, queued for replay")
		}
	}
	return nil
}

// Unsubscribe flags the topic inactive (the entry is retained) and, when
// connected, sends an unsubscribe request. Returns ErrNotSubscribed when the
// topic is absent or already inactive.
func (s *Session) Unsubscribe(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic must not be empty")
	}

	s.mu.Lock()
	if s.state == Closing || s.state == Closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.registry.Deactivate(topic) {
		s.mu.Unlock()
		return ErrNotSubscribed
	}
	needSend := s.state == Connected && s.sent[topic]
	gen := s.gen
	if needSend {
		delete(s.sent, topic)
	}
	s.mu.Unlock()

	if needSend {
		if err := s.sendOn(gen, unsubscribeRequest(topic)); err != nil {
			s.log.Warn().Err(err).Str("topic", topic).Msg("Unsubscribe send failed")
		}
	}
	return nil
}

// Close stops the heartbeat, closes the transport gracefully and moves the
// session to the terminal Closed state. Closing a closed session is a no-op.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = Closing
		hb := s.hb
		t := s.transport
		s.hb = nil
		s.transport = nil
		s.mu.Unlock()

		s.cancel()
		if hb != nil {
			hb.stop()
		}
		if t != nil {
			err = t.Close()
		}

		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()
		s.log.Info().Msg("Session closed")
	})
	return err
}

// transition moves to a new state unless the session is already closing.
func (s *Session) transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closing || s.state == Closed {
		return
	}
	s.state = to
}

// notify pushes a caller-visible signal without ever blocking the receive
// or supervisor goroutines.
func (s *Session) notify(err error) {
	select {
	case s.notifyCh <- err:
	default:
		s.log.Warn().Err(err).Msg("Notification channel full, dropping signal")
	}
}

// sendOn writes one outbound frame under the write mutex, so heartbeat pings
// never interleave with subscribe traffic on the wire. The frame only goes
// out while the transport generation still matches gen; a send prepared
// against a transport that has since been replaced is discarded, because the
// replacement's registry replay owns the wire from there.
func (s *Session) sendOn(gen uint64, v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	t := s.transport
	cur := s.gen
	s.mu.Unlock()
	if t == nil {
		return fmt.Errorf("not connected")
	}
	if cur != gen {
		return errStaleConnection
	}
	return t.WriteJSON(v)
}

// dialWithBackoff retries the dial with capped exponential backoff plus
// jitter, honoring both the caller context and session close.
func (s *Session) dialWithBackoff(ctx context.Context) (Transport, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := s.ctx.Err(); err != nil {
			return nil, ErrSessionClosed
		}
		dialCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
		t, err := s.dialer.Dial(dialCtx)
		cancel()
		if err == nil {
			return t, nil
		}
		lastErr = err
		s.log.Warn().Err(err).Int("attempt", attempt+1).Msg("Dial failed")

		if attempt+1 >= s.opts.MaxRetries {
			return nil, &ConnectionError{Attempts: attempt + 1, Err: lastErr}
		}
		select {
		case <-ctx.Done():
			return nil, &ConnectionError{Attempts: attempt + 1, Err: ctx.Err()}
		case <-s.ctx.Done():
			return nil, ErrSessionClosed
		case <-time.After(s.backoff(attempt)):
		}
	}
}

func (s *Session) backoff(attempt int) time.Duration {
	d := s.opts.BackoffBase
	for i := 0; i < attempt && d < s.opts.BackoffMax; i++ {
		d *= 2
	}
	if d > s.opts.BackoffMax {
		d = s.opts.BackoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(s.opts.BackoffBase) + 1))
	return d + jitter
}

// install adopts a freshly dialed transport: bumps the generation, starts a
// new heartbeat, replays the registry and spawns the read loop. When the
// session was closed while the dial was in flight, the transport is torn
// down instead and install reports false; Closed stays terminal.
func (s *Session) install(t Transport) bool {
	s.mu.Lock()
	if s.state == Closing || s.state == Closed || s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = t.Close()
		return false
	}
	s.gen++
	gen := s.gen
	s.transport = t
	s.sent = make(map[string]bool)
	s.state = Connected
	hb := newHeartbeat(s.opts.HeartbeatInterval, s.opts.StaleMultiplier,
		func(req request) error { return s.sendOn(gen, req) },
		func() { s.reportLoss(gen, errStaleConnection) },
		s.log)
	s.hb = hb
	s.mu.Unlock()

	hb.start()
	s.replay(gen)
	go s.readLoop(t, gen, hb)
	s.log.Info().Uint64("gen", gen).Msg("Connected")
	return true
}

// replay re-sends a subscribe request for every desired-active registry
// entry, in insertion order, exactly once per transport.
func (s *Session) replay(gen uint64) {
	for _, sub := range s.registry.ActiveEntries() {
		s.mu.Lock()
		if s.gen != gen || s.state != Connected || s.sent[sub.Topic] {
			s.mu.Unlock()
			continue
		}
		s.sent[sub.Topic] = true
		s.mu.Unlock()

		if err := s.sendOn(gen, subscribeRequest(sub.Topic)); err != nil {
			s.log.Warn().Err(err).Str("topic", sub.Topic).Msg("Replay send failed")
			s.reportLoss(gen, err)
			return
		}
		s.log.Debug().Str("topic", sub.Topic).Msg("Subscription replayed")
	}
}

// readLoop is the dedicated receive task for one transport. Every inbound
// frame feeds the heartbeat's liveness clock before being routed.
func (s *Session) readLoop(t Transport, gen uint64, hb *heartbeat) {
	for {
		raw, err := t.ReadMessage()
		if err != nil {
			s.reportLoss(gen, err)
			return
		}
		hb.markInbound()

		s.mu.Lock()
		stopped := s.state == Closing || s.state == Closed || s.gen != gen
		s.mu.Unlock()
		if stopped {
			return
		}
		s.router.Dispatch(raw)
	}
}

// reportLoss tells the supervisor a transport died. Non-blocking; stale
// reports for older generations are discarded by the supervisor.
func (s *Session) reportLoss(gen uint64, err error) {
	select {
	case s.lossCh <- lossEvent{gen: gen, err: err}:
	default:
	}
}

// supervise is the self-healing loop: on any unsolicited transport loss it
// quiesces the dead connection, transitions to Reconnecting and re-dials.
// Exhausting the retry budget surfaces a fatal *ConnectionError and leaves
// the session Disconnected.
func (s *Session) supervise() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.lossCh:
			s.mu.Lock()
			if ev.gen != s.gen || s.state != Connected {
				s.mu.Unlock()
				continue
			}
			hb := s.hb
			t := s.transport
			s.hb = nil
			s.transport = nil
			s.state = Reconnecting
			s.mu.Unlock()

			s.log.Warn().Err(ev.err).Uint64("gen", ev.gen).Msg("Connection lost, reconnecting")
			hb.stop()
			_ = t.Close()

			nt, err := s.dialWithBackoff(s.ctx)
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.transition(Disconnected)
				s.log.Error().Err(err).Msg("Reconnect budget exhausted")
				s.notify(err)
				return
			}
			if !s.install(nt) {
				return
			}
		}
	}
}
