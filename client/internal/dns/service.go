package dns

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
)

const (
	// pollInterval bounds how long a worker waits before rechecking the
	// shutdown flag. Worst-case loop-exit latency is this plus one in-flight
	// operation.
	pollInterval = 10 * time.Millisecond

	// maxPacketSize is the message size bound on both transports.
	maxPacketSize = 512

	tcpClientTimeout = 5 * time.Second
)

// RunUDP runs the UDP worker until the shutdown flag is set or the socket
// fails. A bind failure aborts only this worker.
func RunUDP(sc *ServerContext, shutdown *atomic.Bool) {
	addr, err := net.ResolveUDPAddr("udp", sc.DNSListen)
	if err != nil {
		log.Errorf("failed to resolve UDP listen address %s: %v", sc.DNSListen, err)
		return
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		log.Errorf("failed to bind UDP socket: %v", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debugf("closing UDP socket: %v", err)
		}
	}()

	sc.setUDPAddr(conn.LocalAddr())
	log.Infof("UDP server bound to %s", conn.LocalAddr())

	buf := make([]byte, maxPacketSize)
	for !shutdown.Load() {
		if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			log.Errorf("failed to set UDP read deadline: %v", err)
			return
		}

		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// no data, recheck the shutdown flag
				continue
			}
			if !shutdown.Load() {
				log.Errorf("UDP socket error: %v", err)
			}
			break
		}

		req := new(dns.Msg)
		if err := req.Unpack(buf[:n]); err != nil {
			// malformed datagram, no reply
			continue
		}

		resp := sc.resolver.Resolve(req)
		resp.Truncate(maxPacketSize)
		out, err := resp.Pack()
		if err != nil {
			continue
		}

		if _, err := conn.WriteToUDP(out, src); err != nil {
			log.Debugf("failed to send UDP response to %s: %v", src, err)
			continue
		}
		sc.Statistics.IncUDP()
	}

	log.Info("UDP DNS server thread stopped")
}

// RunTCP runs the TCP worker until the shutdown flag is set or the listener
// fails. Each accepted connection is served by its own short-lived goroutine;
// no connection limit is enforced.
func RunTCP(sc *ServerContext, shutdown *atomic.Bool) {
	addr, err := net.ResolveTCPAddr("tcp", sc.DNSListen)
	if err != nil {
		log.Errorf("failed to resolve TCP listen address %s: %v", sc.DNSListen, err)
		return
	}

	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		log.Errorf("failed to bind TCP socket: %v", err)
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Debugf("closing TCP listener: %v", err)
		}
	}()

	sc.setTCPAddr(listener.Addr())
	log.Infof("TCP server bound to %s", listener.Addr())

	for !shutdown.Load() {
		if err := listener.SetDeadline(time.Now().Add(pollInterval)); err != nil {
			log.Errorf("failed to set TCP accept deadline: %v", err)
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !shutdown.Load() {
				log.Errorf("TCP accept error: %v", err)
			}
			break
		}

		go handleTCPClient(conn, sc)
	}

	log.Info("TCP DNS server thread stopped")
}

// handleTCPClient serves one connection: a 2-byte big-endian length prefix
// followed by the query, answered with the same framing. Any failure closes
// the connection silently.
func handleTCPClient(conn net.Conn, sc *ServerContext) {
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debugf("closing TCP connection: %v", err)
		}
	}()

	if err := conn.SetDeadline(time.Now().Add(tcpClientTimeout)); err != nil {
		return
	}

	var prefix [2]byte
	if _, err := io.ReadFull(conn, prefix[:]); err != nil {
		return
	}

	length := binary.BigEndian.Uint16(prefix[:])
	if length == 0 || length > maxPacketSize {
		return
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return
	}

	req := new(dns.Msg)
	if err := req.Unpack(payload); err != nil {
		return
	}

	resp := sc.resolver.Resolve(req)
	out, err := resp.Pack()
	if err != nil || len(out) > maxPacketSize {
		return
	}

	var outPrefix [2]byte
	binary.BigEndian.PutUint16(outPrefix[:], uint16(len(out)))
	if _, err := conn.Write(outPrefix[:]); err != nil {
		return
	}
	if _, err := conn.Write(out); err != nil {
		return
	}

	sc.Statistics.IncTCP()
}
