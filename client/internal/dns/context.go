// Package dns runs the UDP and TCP resolver workers. Wire format handling is
// delegated to miekg/dns; blockchain name lookups go through the chain store
// and everything else is forwarded upstream.
package dns

import (
	"net"
	"sync"

	"github.com/HodlOnToYourButts/Alfis-android/client/internal/chain"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/config"
)

// ServerContext is the shared, read-mostly resolution configuration used by
// both workers. It owns the query statistics and is replaced wholesale on the
// next service start.
type ServerContext struct {
	DNSListen  string
	EnableUDP  bool
	EnableTCP  bool
	Statistics *Statistics

	resolver *resolver

	mu      sync.Mutex
	udpAddr net.Addr
	tcpAddr net.Addr
}

// NewServerContext builds the resolution context from the settings and the
// opened chain handle.
func NewServerContext(settings *config.Settings, c *chain.Chain) *ServerContext {
	return &ServerContext{
		DNSListen:  settings.DNS.Listen,
		EnableUDP:  true,
		EnableTCP:  true,
		Statistics: &Statistics{},
		resolver:   newResolver(c, settings.DNS.Forwarders, settings.DNS.Bootstraps),
	}
}

// UDPAddr returns the actually-bound UDP address, nil until the worker bound
// its socket. Listen addresses with port 0 resolve to an ephemeral port.
func (sc *ServerContext) UDPAddr() net.Addr {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.udpAddr
}

// TCPAddr returns the actually-bound TCP address, nil until the worker bound
// its listener.
func (sc *ServerContext) TCPAddr() net.Addr {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.tcpAddr
}

func (sc *ServerContext) setUDPAddr(addr net.Addr) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.udpAddr = addr
}

func (sc *ServerContext) setTCPAddr(addr net.Addr) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.tcpAddr = addr
}
