package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// heartbeat proves liveness to the venue and detects silent connection
// death. It sends a ping every interval and tracks the time since the last
// inbound traffic of any kind; if that exceeds maxQuiet it reports the
// connection stale and stops. One heartbeat instance serves exactly one
// transport; a reconnect gets a fresh one.
type heartbeat struct {
	interval time.Duration
	maxQuiet time.Duration
	send     func(req request) error
	onStale  func()
	log      zerolog.Logger

	lastInbound atomic.Int64 // unix nanos

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newHeartbeat(interval time.Duration, staleMultiplier int, send func(request) error, onStale func(), log zerolog.Logger) *heartbeat {
	if staleMultiplier < 2 {
		staleMultiplier = 2
	}
	return &heartbeat{
		interval: interval,
		maxQuiet: time.Duration(staleMultiplier) * interval,
		send:     send,
		onStale:  onStale,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// markInbound records that traffic arrived. Any frame counts, not just pongs.
func (h *heartbeat) markInbound() {
	h.lastInbound.Store(time.Now().UnixNano())
}

func (h *heartbeat) start() {
	h.markInbound()
	go h.run()
}

func (h *heartbeat) run() {
	defer close(h.doneCh)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			quiet := time.Since(time.Unix(0, h.lastInbound.Load()))
			if quiet > h.maxQuiet {
				h.log.Warn().Dur("quiet", quiet).Dur("max_quiet", h.maxQuiet).
					Msg("No inbound traffic, reporting stale connection")
				h.onStale()
				return
			}
			ping := pingRequest()
			if err := h.send(ping); err != nil {
				// A failed write means the transport is going down; the
				// read loop will observe the loss and trigger reconnect.
				h.log.Debug().Err(err).Msg("Heartbeat send failed")
			} else {
				h.log.Debug().Str("req_id", ping.ReqID).Msg("Heartbeat sent")
			}
		}
	}
}

// stop halts the heartbeat and waits for the loop to exit, so no ping send
// can race a torn-down transport. Safe to call more than once.
func (h *heartbeat) stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.doneCh
}
