package internal

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HodlOnToYourButts/Alfis-android/client/internal/chain"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/eventbus"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/logbuf"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/p2p"
)

const testConfig = `origin = "0000001D2A77D63477172678502E51DE7F346061FF7EB188A2445ECA3FC0780E"
check_blocks = 4

[net]
peers = []
listen = "127.0.0.1:0"

[dns]
listen = "127.0.0.1:0"
forwarders = []
bootstraps = []
`

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "alfis.toml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func newTestController(t *testing.T) (*Controller, *eventbus.Bus, string, string) {
	t.Helper()
	dir := t.TempDir()
	bus := eventbus.New()
	controller := NewController(logbuf.New(), bus)
	t.Cleanup(func() {
		if controller.IsRunning() {
			controller.Stop()
		}
	})
	return controller, bus, writeTestConfig(t, dir), dir
}

func boundUDPAddr(t *testing.T, controller *Controller) net.Addr {
	t.Helper()
	var addr net.Addr
	require.Eventually(t, func() bool {
		svc := controller.currentService()
		if svc == nil {
			return false
		}
		addr = svc.server.UDPAddr()
		return addr != nil
	}, 2*time.Second, 10*time.Millisecond, "UDP worker did not bind")
	return addr
}

func TestController_StartServesQueriesAndStops(t *testing.T) {
	controller, bus, configPath, workDir := newTestController(t)

	require.True(t, controller.Start(configPath, workDir))
	require.True(t, controller.IsRunning())
	assert.Equal(t, 1, bus.Len(), "start must register exactly one event subscription")

	addr := boundUDPAddr(t, controller)

	req := new(dns.Msg)
	req.SetQuestion("nosuch.alfis.", dns.TypeA)
	resp, err := dns.Exchange(req, addr.String())
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)

	stats := controller.Stats()
	assert.Contains(t, stats, `"queries":1`)
	assert.Contains(t, stats, `"responses":1`)

	require.True(t, controller.Stop())
	assert.False(t, controller.IsRunning())
	assert.Equal(t, 0, bus.Len(), "stop must remove the event subscription")
	assert.Equal(t, `{"blocks":0,"peers":0,"queries":0,"responses":0}`, controller.Stats())
}

func TestController_StartIsIdempotent(t *testing.T) {
	controller, bus, configPath, workDir := newTestController(t)

	require.True(t, controller.Start(configPath, workDir))
	assert.True(t, controller.Start(configPath, workDir))
	assert.Equal(t, 1, bus.Len(), "repeated start must not stack subscriptions")
	assert.True(t, controller.Stop())
}

func TestController_StopWhenStoppedReturnsFalse(t *testing.T) {
	controller, _, _, _ := newTestController(t)
	assert.False(t, controller.Stop())
	assert.Equal(t, StateStopped, controller.State())
}

func TestController_StartFailureLandsStopped(t *testing.T) {
	controller, bus, _, workDir := newTestController(t)

	// a directory as config path makes both load and generation fail
	assert.False(t, controller.Start(t.TempDir(), workDir))
	require.Eventually(t, func() bool {
		return controller.State() == StateStopped
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, bus.Len())
	assert.Equal(t, `{"blocks":0,"peers":0,"queries":0,"responses":0}`, controller.Stats())
}

func TestController_StatsZeroWhenStopped(t *testing.T) {
	controller, _, _, _ := newTestController(t)
	stats := controller.Stats()
	for _, key := range []string{`"blocks":0`, `"peers":0`, `"queries":0`, `"responses":0`} {
		assert.True(t, strings.Contains(stats, key), stats)
	}
}

type fakeRunner struct {
	started chan struct{}
	stopped chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan struct{}), stopped: make(chan struct{})}
}

func (f *fakeRunner) Run(ctx context.Context) {
	close(f.started)
	<-ctx.Done()
	close(f.stopped)
}

func waitClosed(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not happen in time", what)
	}
}

func TestController_StopCancelsNetworkRunner(t *testing.T) {
	controller, _, configPath, workDir := newTestController(t)
	controller.warmup = 0

	runner := newFakeRunner()
	controller.newRunner = func(*chain.Chain, *eventbus.Bus, []string) p2p.Runner {
		return runner
	}

	require.True(t, controller.Start(configPath, workDir))
	waitClosed(t, runner.started, "runner start")

	require.True(t, controller.Stop())
	waitClosed(t, runner.stopped, "runner cancellation")
}

func TestController_ReconnectRestartsRunner(t *testing.T) {
	controller, _, configPath, workDir := newTestController(t)
	controller.warmup = 0

	runners := []*fakeRunner{newFakeRunner(), newFakeRunner()}
	next := 0
	controller.newRunner = func(*chain.Chain, *eventbus.Bus, []string) p2p.Runner {
		runner := runners[next]
		next++
		return runner
	}

	require.True(t, controller.Start(configPath, workDir))
	waitClosed(t, runners[0].started, "first runner start")

	controller.ReconnectNetwork()
	waitClosed(t, runners[0].stopped, "first runner cancellation")
	waitClosed(t, runners[1].started, "second runner start")

	require.True(t, controller.Stop())
	waitClosed(t, runners[1].stopped, "second runner cancellation")
}

func TestController_ReconnectWhenStoppedIsNoop(t *testing.T) {
	controller, _, _, _ := newTestController(t)
	controller.ReconnectNetwork()
	assert.Equal(t, StateStopped, controller.State())
}
