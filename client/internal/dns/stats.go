package dns

import "sync/atomic"

// Statistics counts served queries per transport. Counters are monotonically
// non-decreasing for the lifetime of one ServerContext and reset only by
// recreating the context on the next start.
type Statistics struct {
	udpQueryCount atomic.Uint64
	tcpQueryCount atomic.Uint64
}

// IncUDP records one answered UDP query.
func (s *Statistics) IncUDP() {
	s.udpQueryCount.Add(1)
}

// IncTCP records one answered TCP query.
func (s *Statistics) IncTCP() {
	s.tcpQueryCount.Add(1)
}

// UDPQueryCount returns the number of answered UDP queries.
func (s *Statistics) UDPQueryCount() uint64 {
	return s.udpQueryCount.Load()
}

// TCPQueryCount returns the number of answered TCP queries.
func (s *Statistics) TCPQueryCount() uint64 {
	return s.tcpQueryCount.Load()
}

// TotalQueries returns the sum over both transports. Each answered query
// yields exactly one response, so this doubles as the response count.
func (s *Statistics) TotalQueries() uint64 {
	return s.UDPQueryCount() + s.TCPQueryCount()
}
