package dns

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"

	"github.com/HodlOnToYourButts/Alfis-android/client/internal/chain"
)

// blockchainZones are the top-level zones served from the chain. Names under
// these zones never leave the device; unknown names answer NXDOMAIN instead
// of leaking to an upstream resolver.
var blockchainZones = map[string]struct{}{
	"alfis":  {},
	"anon":   {},
	"btn":    {},
	"conf":   {},
	"index":  {},
	"merch":  {},
	"mirror": {},
	"mob":    {},
	"screen": {},
	"srv":    {},
	"ygg":    {},
}

type resolver struct {
	chain     *chain.Chain
	forwarder *forwarder
}

func newResolver(c *chain.Chain, forwarders, bootstraps []string) *resolver {
	return &resolver{
		chain:     c,
		forwarder: newForwarder(forwarders, bootstraps),
	}
}

// Resolve answers one query. It never returns nil; failures map to SERVFAIL.
func (r *resolver) Resolve(req *dns.Msg) *dns.Msg {
	if len(req.Question) == 0 {
		return replyWithCode(req, dns.RcodeFormatError)
	}

	question := req.Question[0]
	name := strings.TrimSuffix(strings.ToLower(question.Name), ".")

	if r.isBlockchainName(name) {
		return r.resolveFromChain(req, name, question.Qtype)
	}

	resp, err := r.forwarder.exchange(req)
	if err != nil {
		log.Warnf("forwarding query for %s failed: %v", question.Name, err)
		return replyWithCode(req, dns.RcodeServerFailure)
	}
	return resp
}

func (r *resolver) isBlockchainName(name string) bool {
	idx := strings.LastIndex(name, ".")
	tld := name
	if idx >= 0 {
		tld = name[idx+1:]
	}
	_, ok := blockchainZones[tld]
	return ok
}

func (r *resolver) resolveFromChain(req *dns.Msg, name string, qtype uint16) *dns.Msg {
	records, err := r.chain.DomainRecords(name)
	if err != nil {
		log.Errorf("chain lookup for %s failed: %v", name, err)
		return replyWithCode(req, dns.RcodeServerFailure)
	}

	reply := new(dns.Msg)
	reply.SetReply(req)
	reply.Authoritative = true

	for _, record := range records {
		rr, err := recordToRR(record)
		if err != nil {
			log.Debugf("skipping malformed chain record for %s: %v", name, err)
			continue
		}
		if rr.Header().Rrtype == qtype || qtype == dns.TypeANY || rr.Header().Rrtype == dns.TypeCNAME {
			reply.Answer = append(reply.Answer, rr)
		}
	}

	if len(reply.Answer) == 0 {
		reply.Rcode = dns.RcodeNameError
	}
	return reply
}

// recordToRR converts a stored chain record into a wire resource record.
func recordToRR(record chain.DomainRecord) (dns.RR, error) {
	text := fmt.Sprintf("%s. %d IN %s %s", record.Name, record.TTL, record.Type, record.Data)
	rr, err := dns.NewRR(text)
	if err != nil {
		return nil, fmt.Errorf("parse record %q: %w", text, err)
	}
	if rr == nil {
		return nil, fmt.Errorf("empty record %q", text)
	}
	return rr, nil
}

func replyWithCode(req *dns.Msg, rcode int) *dns.Msg {
	reply := new(dns.Msg)
	reply.SetRcode(req, rcode)
	return reply
}
