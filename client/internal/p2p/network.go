// Package p2p maintains connections to bootstrap peers and keeps the local
// chain in sync. The controller treats the runner as a blocking loop: it is
// started once per service cycle and observes its context between network
// operations, which is the best cancellation guarantee the sync protocol
// offers.
package p2p

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/HodlOnToYourButts/Alfis-android/client/internal/chain"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/eventbus"
)

const (
	dialTimeout    = 10 * time.Second
	statusInterval = 30 * time.Second
	maxLineSize    = 1 << 20
)

// Runner is the blocking synchronization loop consumed by the controller.
type Runner interface {
	Run(ctx context.Context)
}

// Network syncs the chain against the configured bootstrap peers and
// publishes progress on the event bus.
type Network struct {
	chain *chain.Chain
	bus   *eventbus.Bus
	peers []string

	connected atomic.Int32
}

// NewNetwork creates a sync runner over the given peers.
func NewNetwork(c *chain.Chain, bus *eventbus.Bus, peers []string) *Network {
	return &Network{chain: c, bus: bus, peers: peers}
}

// Run connects to every bootstrap peer, reconnecting with exponential backoff
// until the context is cancelled. It blocks for the remaining service
// lifetime.
func (n *Network) Run(ctx context.Context) {
	log.Infof("starting network sync against %d bootstrap peers", len(n.peers))

	var wg sync.WaitGroup
	for _, peer := range n.peers {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			n.maintainPeer(ctx, addr)
		}(peer)
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Info("network sync stopped")
			return
		case <-ticker.C:
			n.publishStatus()
		}
	}
}

// maintainPeer keeps one peer connection alive, backing off between attempts.
func (n *Network) maintainPeer(ctx context.Context, addr string) {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(0),
		backoff.WithMaxInterval(2*time.Minute),
	), ctx)

	operation := func() error {
		if err := n.servePeer(ctx, addr); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.Debugf("peer %s disconnected: %v", addr, err)
			return err
		}
		return backoff.Permanent(nil)
	}

	if err := backoff.Retry(operation, policy); err != nil && ctx.Err() == nil {
		log.Warnf("giving up on peer %s: %v", addr, err)
	}
}

// hello is the first message exchanged on a fresh connection.
type hello struct {
	Origin string `json:"origin"`
	Height uint64 `json:"height"`
}

// blockMessage carries one block with its domain records.
type blockMessage struct {
	Block   chain.Block          `json:"block"`
	Records []chain.DomainRecord `json:"records"`
}

// servePeer handles one connection lifetime: hello exchange, then a stream of
// block messages until the peer closes or the context is cancelled.
func (n *Network) servePeer(ctx context.Context, addr string) error {
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	// close the connection when the context is cancelled so blocked reads
	// return and the goroutine can exit
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	// one decoder per connection: the hello and the block stream share the
	// same buffered reader
	decoder := json.NewDecoder(bufio.NewReaderSize(conn, maxLineSize))

	peerHeight, err := n.exchangeHello(conn, decoder, addr)
	if err != nil {
		return err
	}

	n.connected.Add(1)
	defer n.connected.Add(-1)
	n.publishStatus()

	return n.readBlocks(ctx, decoder, addr, peerHeight)
}

func (n *Network) exchangeHello(conn net.Conn, decoder *json.Decoder, addr string) (uint64, error) {
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(hello{Origin: n.chain.Origin(), Height: n.chain.Height()}); err != nil {
		return 0, fmt.Errorf("send hello to %s: %w", addr, err)
	}

	var peerHello hello
	if err := decoder.Decode(&peerHello); err != nil {
		return 0, fmt.Errorf("read hello from %s: %w", addr, err)
	}
	if peerHello.Origin != n.chain.Origin() {
		return 0, fmt.Errorf("peer %s serves a different chain origin", addr)
	}

	log.Infof("connected to peer %s at height %d", addr, peerHello.Height)
	return peerHello.Height, nil
}

func (n *Network) readBlocks(ctx context.Context, decoder *json.Decoder, addr string, peerHeight uint64) error {
	syncing := n.chain.Height() < peerHeight
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var msg blockMessage
		if err := decoder.Decode(&msg); err != nil {
			return fmt.Errorf("read block from %s: %w", addr, err)
		}

		n.bus.Publish(eventbus.NewBlockReceived{})
		if msg.Block.Index > peerHeight {
			peerHeight = msg.Block.Index
		}

		if err := n.chain.AddBlock(msg.Block, msg.Records); err != nil {
			log.Debugf("rejected block %d from %s: %v", msg.Block.Index, addr, err)
			continue
		}
		n.bus.Publish(eventbus.BlockchainChanged{Index: msg.Block.Index})

		have := n.chain.Height()
		if have < peerHeight {
			syncing = true
			n.bus.Publish(eventbus.Syncing{Have: have, Height: peerHeight})
		} else if syncing {
			syncing = false
			n.bus.Publish(eventbus.SyncFinished{})
		}
	}
}

// publishStatus emits a NetworkStatus snapshot with the current peer count
// and chain height.
func (n *Network) publishStatus() {
	n.bus.Publish(eventbus.NetworkStatus{
		Blocks: n.chain.Height(),
		Nodes:  int(n.connected.Load()),
	})
}
