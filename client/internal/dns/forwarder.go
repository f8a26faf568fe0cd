package dns

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
)

const (
	upstreamTimeout = 5 * time.Second
	dohContentType  = "application/dns-message"
)

// forwarder sends non-blockchain queries upstream. Entries prefixed with
// https:// are queried over DoH, everything else over plain DNS. Bootstraps
// are the plain fallback when no forwarder answers.
type forwarder struct {
	upstreams  []string
	bootstraps []string
	client     *dns.Client
	httpClient *http.Client
}

func newForwarder(upstreams, bootstraps []string) *forwarder {
	return &forwarder{
		upstreams:  upstreams,
		bootstraps: bootstraps,
		client:     &dns.Client{Timeout: upstreamTimeout},
		httpClient: &http.Client{Timeout: upstreamTimeout},
	}
}

// exchange tries each upstream in order and returns the first answer.
func (f *forwarder) exchange(req *dns.Msg) (*dns.Msg, error) {
	servers := append(append([]string{}, f.upstreams...), f.bootstraps...)
	if len(servers) == 0 {
		return nil, fmt.Errorf("no upstream servers configured")
	}

	var lastErr error
	for _, upstream := range servers {
		resp, err := f.exchangeOne(req, upstream)
		if err != nil {
			log.Debugf("upstream %s failed: %v", upstream, err)
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("all upstreams failed, last error: %w", lastErr)
}

func (f *forwarder) exchangeOne(req *dns.Msg, upstream string) (*dns.Msg, error) {
	if isDoH(upstream) {
		return f.exchangeDoH(req, upstream)
	}

	ctx, cancel := context.WithTimeout(context.Background(), upstreamTimeout)
	defer cancel()

	resp, _, err := f.client.ExchangeContext(ctx, req, upstream)
	if err != nil {
		return nil, fmt.Errorf("exchange with %s: %w", upstream, err)
	}
	return resp, nil
}

// exchangeDoH sends the packed query as an RFC 8484 POST request.
func (f *forwarder) exchangeDoH(req *dns.Msg, url string) (*dns.Msg, error) {
	packed, err := req.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack query: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), upstreamTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(packed))
	if err != nil {
		return nil, fmt.Errorf("build DoH request: %w", err)
	}
	httpReq.Header.Set("Content-Type", dohContentType)
	httpReq.Header.Set("Accept", dohContentType)

	httpResp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("DoH request to %s: %w", url, err)
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			log.Debugf("closing DoH response body: %v", err)
		}
	}()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DoH server %s returned status %d", url, httpResp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, dns.MaxMsgSize))
	if err != nil {
		return nil, fmt.Errorf("read DoH response: %w", err)
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(body); err != nil {
		return nil, fmt.Errorf("unpack DoH response: %w", err)
	}
	return resp, nil
}

func isDoH(upstream string) bool {
	return strings.HasPrefix(upstream, "https://")
}
