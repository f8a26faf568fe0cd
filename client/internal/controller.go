// Package internal drives the embedded resolver lifecycle. One Controller
// owns the chain store, both DNS workers and the network sync runner; the
// mobile boundary talks to it exclusively through Start, Stop, IsRunning and
// Stats.
package internal

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/HodlOnToYourButts/Alfis-android/client/internal/chain"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/config"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/dns"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/eventbus"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/logbuf"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/p2p"
)

const (
	// startGrace is how long Start waits before reporting the service state
	// back to the host. Initialization that takes longer finishes in the
	// background and flips the state once done.
	startGrace = 500 * time.Millisecond

	// networkWarmup delays the sync runner so the DNS workers bind first.
	networkWarmup = time.Second

	// stopSettle gives in-flight worker operations a chance to observe the
	// shutdown flag before the workers are joined.
	stopSettle = 100 * time.Millisecond

	chainFileName = "alfis.db"
)

// ServiceState is the coarse lifecycle position of the controller.
type ServiceState int32

const (
	StateStopped ServiceState = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s ServiceState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "invalid"
	}
}

// service bundles everything one start cycle allocates, so Stop can tear the
// cycle down without reaching into controller fields mid-initialization.
type service struct {
	settings      *config.Settings
	chain         *chain.Chain
	server        *dns.ServerContext
	shutdown      *atomic.Bool
	udpDone       chan struct{}
	tcpDone       chan struct{}
	cancelNetwork context.CancelFunc
	subscription  *eventbus.Subscription
}

// Controller is the single lifecycle owner of the embedded resolver. All
// host-facing calls are safe from any thread; Start and Stop are serialized
// against each other.
type Controller struct {
	mu    sync.Mutex
	state atomic.Int32

	bus    *eventbus.Bus
	bridge *eventBridge

	svcMu sync.Mutex
	svc   *service

	grace     time.Duration
	warmup    time.Duration
	settle    time.Duration
	newRunner func(store *chain.Chain, bus *eventbus.Bus, peers []string) p2p.Runner
}

// NewController creates a stopped controller. Console lines produced by the
// event bridge go to the given buffer; sync events arrive over the bus.
func NewController(console *logbuf.Buffer, bus *eventbus.Bus) *Controller {
	return &Controller{
		bus:    bus,
		bridge: newEventBridge(console),
		grace:  startGrace,
		warmup: networkWarmup,
		settle: stopSettle,
		newRunner: func(store *chain.Chain, bus *eventbus.Bus, peers []string) p2p.Runner {
			return p2p.NewNetwork(store, bus, peers)
		},
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() ServiceState {
	return ServiceState(c.state.Load())
}

// IsRunning reports whether the service reached the running state.
func (c *Controller) IsRunning() bool {
	return c.State() == StateRunning
}

// Start brings the service up from the config at configPath, keeping its
// database under workDir. Initialization runs detached; Start waits a short
// grace period and returns whether the service is running by then. Calling
// Start on a running service is a no-op that returns true.
func (c *Controller) Start(configPath, workDir string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateRunning:
		log.Info("DNS server already running")
		return true
	case StateStarting, StateStopping:
		log.Warnf("service is %s, ignoring start request", c.State())
		return false
	}

	c.state.Store(int32(StateStarting))
	go c.initialize(configPath, workDir)

	time.Sleep(c.grace)
	return c.IsRunning()
}

// initialize performs the fallible part of startup. Every failure path,
// including a panic anywhere below, lands the controller back in the stopped
// state instead of taking the host process down.
func (c *Controller) initialize(configPath, workDir string) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("service initialization panicked: %v", r)
			c.state.Store(int32(StateStopped))
		}
	}()

	settings, err := config.LoadOrGenerate(configPath)
	if err != nil {
		log.Errorf("failed to load settings: %v", err)
		c.state.Store(int32(StateStopped))
		return
	}

	store, err := chain.Open(settings, filepath.Join(workDir, chainFileName))
	if err != nil {
		log.Errorf("failed to open blockchain database: %v", err)
		c.state.Store(int32(StateStopped))
		return
	}
	if store.InMemory() {
		log.Info("Blockchain initialized (in-memory mode)")
	} else {
		log.Infof("Blockchain loaded with %d blocks", store.Height())
	}

	log.Info("Starting DNS server...")
	server := dns.NewServerContext(settings, store)
	shutdown := &atomic.Bool{}
	svc := &service{
		settings: settings,
		chain:    store,
		server:   server,
		shutdown: shutdown,
	}

	if server.EnableUDP {
		svc.udpDone = make(chan struct{})
		go func() {
			dns.RunUDP(server, shutdown)
			close(svc.udpDone)
		}()
	}
	if server.EnableTCP {
		svc.tcpDone = make(chan struct{})
		go func() {
			dns.RunTCP(server, shutdown)
			close(svc.tcpDone)
		}()
	}
	log.Info("Ready to resolve .alfis domains")
	if len(settings.DNS.Forwarders) > 0 {
		log.Info("DNS forwarding enabled for regular domains")
	}

	svc.subscription = c.bus.Subscribe(c.bridge.handle)
	svc.cancelNetwork = c.launchNetwork(store, settings.Net.Peers, c.warmup)

	c.setService(svc)
	c.state.Store(int32(StateRunning))
}

// launchNetwork starts the sync runner after the warmup delay and returns the
// cancel function that aborts it.
func (c *Controller) launchNetwork(store *chain.Chain, peers []string, warmup time.Duration) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	runner := c.newRunner(store, c.bus, peers)
	go func() {
		select {
		case <-time.After(warmup):
		case <-ctx.Done():
			return
		}
		runner.Run(ctx)
	}()
	return cancel
}

// Stop tears the running service down: it flips the shared shutdown flag,
// waits the settle period, joins both DNS workers, cancels the sync runner
// and removes the event subscription. Returns false when nothing is running.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateRunning {
		log.Info("DNS server not running")
		return false
	}
	c.state.Store(int32(StateStopping))

	svc := c.takeService()
	svc.shutdown.Store(true)
	time.Sleep(c.settle)

	if svc.udpDone != nil {
		<-svc.udpDone
	}
	if svc.tcpDone != nil {
		<-svc.tcpDone
	}

	// the sync runner is cancelled but not joined; it unwinds on its own
	// once its blocking network operations return
	svc.cancelNetwork()
	svc.subscription.Unsubscribe()
	c.bridge.reset()

	if err := svc.chain.Close(); err != nil {
		log.Warnf("closing chain database: %v", err)
	}

	c.state.Store(int32(StateStopped))
	log.Info("DNS server stopped cleanly")
	return true
}

// ReconnectNetwork drops the current sync runner and starts a fresh one,
// clearing any stale peer connections. A no-op unless the service is running.
func (c *Controller) ReconnectNetwork() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateRunning {
		log.Info("cannot reconnect, DNS server not running")
		return
	}

	c.svcMu.Lock()
	svc := c.svc
	c.svcMu.Unlock()
	if svc == nil {
		return
	}

	log.Infof("Reconnecting at block %d - clearing stale connections", svc.chain.Height())
	svc.cancelNetwork()

	c.svcMu.Lock()
	svc.cancelNetwork = c.launchNetwork(svc.chain, svc.settings.Net.Peers, 0)
	c.svcMu.Unlock()
}

type statsSnapshot struct {
	Blocks    uint64 `json:"blocks"`
	Peers     int    `json:"peers"`
	Queries   uint64 `json:"queries"`
	Responses uint64 `json:"responses"`
}

// Stats returns the service counters as a JSON document. A stopped service
// reports all zeros. Every counted query was answered, so responses always
// equals queries.
func (c *Controller) Stats() string {
	snapshot := statsSnapshot{}
	if c.IsRunning() {
		if svc := c.currentService(); svc != nil {
			queries := svc.server.Statistics.TotalQueries()
			snapshot = statsSnapshot{
				Blocks:    svc.chain.Height(),
				Peers:     c.bridge.peerCount(),
				Queries:   queries,
				Responses: queries,
			}
		}
	}

	out, err := json.Marshal(snapshot)
	if err != nil {
		return `{"blocks":0,"peers":0,"queries":0,"responses":0}`
	}
	return string(out)
}

func (c *Controller) setService(svc *service) {
	c.svcMu.Lock()
	defer c.svcMu.Unlock()
	c.svc = svc
}

func (c *Controller) takeService() *service {
	c.svcMu.Lock()
	defer c.svcMu.Unlock()
	svc := c.svc
	c.svc = nil
	return svc
}

func (c *Controller) currentService() *service {
	c.svcMu.Lock()
	defer c.svcMu.Unlock()
	return c.svc
}
