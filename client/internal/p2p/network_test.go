package p2p

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HodlOnToYourButts/Alfis-android/client/internal/chain"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/config"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/eventbus"
)

const testOrigin = "0000001D2A77D63477172678502E51DE7F346061FF7EB188A2445ECA3FC0780E"

// fakePeer is a minimal in-test bootstrap node: it answers the hello and
// streams the configured blocks.
type fakePeer struct {
	listener net.Listener
	blocks   []blockMessage
	height   uint64
}

func newFakePeer(t *testing.T, height uint64, blocks []blockMessage) *fakePeer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	p := &fakePeer{listener: listener, blocks: blocks, height: height}
	go p.serve()
	return p
}

func (p *fakePeer) addr() string {
	return p.listener.Addr().String()
}

func (p *fakePeer) serve() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()

			var clientHello hello
			if err := json.NewDecoder(conn).Decode(&clientHello); err != nil {
				return
			}

			encoder := json.NewEncoder(conn)
			if err := encoder.Encode(hello{Origin: testOrigin, Height: p.height}); err != nil {
				return
			}
			for _, block := range p.blocks {
				if err := encoder.Encode(block); err != nil {
					return
				}
			}
			// hold the connection open until the client goes away
			buf := make([]byte, 1)
			_, _ = conn.Read(buf)
		}(conn)
	}
}

func openTestChain(t *testing.T) *chain.Chain {
	t.Helper()
	settings := &config.Settings{Origin: testOrigin}
	c, err := chain.Open(settings, filepath.Join(t.TempDir(), "alfis.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func TestNetwork_SyncsBlocksFromPeer(t *testing.T) {
	peer := newFakePeer(t, 2, []blockMessage{
		{Block: chain.Block{Index: 1, Hash: testOrigin}},
		{Block: chain.Block{Index: 2, Hash: "abc", PrevHash: testOrigin}, Records: []chain.DomainRecord{
			{Name: "synced.alfis", Type: "A", TTL: 300, Data: "10.0.0.9"},
		}},
	})

	c := openTestChain(t)
	bus := eventbus.New()

	var mu sync.Mutex
	var events []eventbus.Event
	bus.Subscribe(func(event eventbus.Event) bool {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
		return true
	})

	network := NewNetwork(c, bus, []string{peer.addr()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		network.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return c.Height() == 2
	}, 5*time.Second, 20*time.Millisecond, "chain did not sync")

	records, err := c.DomainRecords("synced.alfis")
	require.NoError(t, err)
	require.Len(t, records, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("network runner did not observe cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	var sawStatus, sawSyncing, sawFinished bool
	for _, event := range events {
		switch e := event.(type) {
		case eventbus.NetworkStatus:
			if e.Nodes > 0 {
				sawStatus = true
			}
		case eventbus.Syncing:
			sawSyncing = true
		case eventbus.SyncFinished:
			sawFinished = true
		}
	}
	assert.True(t, sawStatus, "expected a NetworkStatus with connected nodes")
	assert.True(t, sawSyncing, "expected Syncing progress events")
	assert.True(t, sawFinished, "expected a SyncFinished event")
}

func TestNetwork_RejectsForeignOriginPeer(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var clientHello hello
		_ = json.NewDecoder(conn).Decode(&clientHello)
		_ = json.NewEncoder(conn).Encode(hello{Origin: "ffff", Height: 100})
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
	}()

	c := openTestChain(t)
	network := NewNetwork(c, eventbus.New(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err = network.servePeer(ctx, listener.Addr().String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different chain origin")
	assert.Zero(t, c.Height())
}

func TestNetwork_RunStopsWithoutPeers(t *testing.T) {
	c := openTestChain(t)
	network := NewNetwork(c, eventbus.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		network.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
