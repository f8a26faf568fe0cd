package internal

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/HodlOnToYourButts/Alfis-android/client/internal/eventbus"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/logbuf"
)

// statusLogInterval rate-limits the periodic network status lines so the
// console buffer is not dominated by them. Sync progress is exempt.
const statusLogInterval = time.Minute

// eventBridge turns sync-layer events into console lines and keeps the peer
// gauge that feeds the stats snapshot. One bridge outlives service cycles;
// its subscription does not.
type eventBridge struct {
	console *logbuf.Buffer
	peers   atomic.Int32

	mu         sync.Mutex
	lastStatus time.Time
	now        func() time.Time
}

func newEventBridge(console *logbuf.Buffer) *eventBridge {
	return &eventBridge{console: console, now: time.Now}
}

// handle consumes one bus event. Always returns true; the subscription is
// removed explicitly when the service stops.
func (b *eventBridge) handle(event eventbus.Event) bool {
	switch e := event.(type) {
	case eventbus.NetworkStatus:
		b.peers.Store(int32(e.Nodes))
		b.logStatus(e)
	case eventbus.Syncing:
		percent := 0.0
		if e.Height > 0 {
			percent = float64(e.Have) / float64(e.Height) * 100
		}
		b.console.Appendf("Syncing: %d/%d blocks (%.1f%%)", e.Have, e.Height, percent)
	case eventbus.SyncFinished:
		b.console.Append("Blockchain synchronization completed")
	case eventbus.BlockchainChanged:
		log.Debugf("blockchain changed at block %d", e.Index)
	}
	return true
}

// logStatus writes at most one status line per statusLogInterval. The peer
// gauge is updated by the caller regardless of whether the line is dropped.
func (b *eventBridge) logStatus(status eventbus.NetworkStatus) {
	b.mu.Lock()
	now := b.now()
	if !b.lastStatus.IsZero() && now.Sub(b.lastStatus) < statusLogInterval {
		b.mu.Unlock()
		return
	}
	b.lastStatus = now
	b.mu.Unlock()

	switch {
	case status.Nodes == 0:
		b.console.Append("Warning: No peer connections active")
	case status.Nodes < 2:
		b.console.Append("Few peers: Consider checking network connectivity")
	default:
		b.console.Appendf("Network: %d peers, %d blocks", status.Nodes, status.Blocks)
	}
}

func (b *eventBridge) peerCount() int {
	return int(b.peers.Load())
}

// reset clears the gauge when the service stops, so a stopped service never
// reports stale peers.
func (b *eventBridge) reset() {
	b.peers.Store(0)
}
