package session

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingRecorder struct {
	mu    sync.Mutex
	pings []request
}

func (p *pingRecorder) send(req request) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pings = append(p.pings, req)
	return nil
}

func (p *pingRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pings)
}

func TestHeartbeatSendsPingsWhileTrafficIsFresh(t *testing.T) {
	rec := &pingRecorder{}
	hb := newHeartbeat(5*time.Millisecond, 1000, rec.send, func() {
		t.Error("staleness must not fire while traffic is fresh")
	}, zerolog.Nop())

	hb.start()
	defer hb.stop()

	require.Eventually(t, func() bool { return rec.count() >= 3 }, 2*time.Second, time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	seen := make(map[string]bool)
	for _, ping := range rec.pings {
		assert.Equal(t, "ping", ping.Op)
		assert.NotEmpty(t, ping.ReqID)
		assert.False(t, seen[ping.ReqID], "ping req_ids must be locally unique")
		seen[ping.ReqID] = true
	}
}

func TestHeartbeatReportsStaleness(t *testing.T) {
	rec := &pingRecorder{}
	stale := make(chan struct{})
	hb := newHeartbeat(5*time.Millisecond, 2, rec.send, func() { close(stale) }, zerolog.Nop())

	hb.start()
	defer hb.stop()

	select {
	case <-stale:
	case <-time.After(2 * time.Second):
		t.Fatal("staleness was not reported")
	}

	// The loop exits after reporting; no pings may follow.
	n := rec.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, rec.count())
}

func TestHeartbeatMarkInboundDefersStaleness(t *testing.T) {
	rec := &pingRecorder{}
	stale := make(chan struct{}, 1)
	hb := newHeartbeat(10*time.Millisecond, 2, rec.send, func() { stale <- struct{}{} }, zerolog.Nop())

	hb.start()
	stop := time.After(60 * time.Millisecond)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-tick.C:
			hb.markInbound()
		case <-stop:
			break loop
		}
	}
	select {
	case <-stale:
		t.Fatal("staleness fired despite fresh inbound traffic")
	default:
	}
	hb.stop()
}

func TestHeartbeatStopIsSynchronousAndIdempotent(t *testing.T) {
	rec := &pingRecorder{}
	hb := newHeartbeat(time.Millisecond, 1000, rec.send, func() {}, zerolog.Nop())

	hb.start()
	require.Eventually(t, func() bool { return rec.count() >= 1 }, 2*time.Second, time.Millisecond)

	hb.stop()
	n := rec.count()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, rec.count(), "no send may race past stop")

	hb.stop() // second stop must not panic or block
}
