// Package resolver looks up the A and AAAA records of a domain.
//
// The daemon only needs "give me the current addresses of this name", so the
// package exposes a single-method Resolver interface. DNS is the production
// implementation, querying the configured nameservers with miekg/dns.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"grimm.is/dynipsets/internal/logging"
)

// ErrNoAnswer is returned when a name resolves to no A or AAAA records.
var ErrNoAnswer = errors.New("no addresses in answer")

// ErrNXDomain is returned when a server answers that the name does not exist.
var ErrNXDomain = errors.New("NXDOMAIN")

// DefaultResolvConf is read when no nameservers are configured.
const DefaultResolvConf = "/etc/resolv.conf"

// fallbackServer is used when resolv.conf is missing or empty.
const fallbackServer = "127.0.0.1:53"

// Resolver resolves a fully-qualified domain name to its addresses.
type Resolver interface {
	LookupHost(ctx context.Context, fqdn string) ([]netip.Addr, error)
}

// Func adapts a plain function to the Resolver interface.
type Func func(ctx context.Context, fqdn string) ([]netip.Addr, error)

// LookupHost calls f.
func (f Func) LookupHost(ctx context.Context, fqdn string) ([]netip.Addr, error) {
	return f(ctx, fqdn)
}

// DNS queries a list of nameservers in order until one answers.
type DNS struct {
	servers []string
	client  *dns.Client
	logger  *logging.Logger
}

// Options configures a DNS resolver.
type Options struct {
	// Servers are host or host:port entries. Empty means use resolv.conf.
	Servers []string
	// Timeout overrides the miekg/dns client default when non-zero.
	Timeout time.Duration
	// ResolvConf overrides DefaultResolvConf.
	ResolvConf string
	Logger     *logging.Logger
}

// NewDNS creates a DNS resolver from opts.
func NewDNS(opts Options) *DNS {
	logger := logging.OrDefault(opts.Logger).WithComponent("resolver")

	servers := normalizeServers(opts.Servers)
	if len(servers) == 0 {
		path := opts.ResolvConf
		if path == "" {
			path = DefaultResolvConf
		}
		servers = serversFromResolvConf(path, logger)
	}

	client := &dns.Client{Net: "udp"}
	if opts.Timeout > 0 {
		client.Timeout = opts.Timeout
	}

	logger.Debug("Resolver configured", "servers", servers)

	return &DNS{
		servers: servers,
		client:  client,
		logger:  logger,
	}
}

// Servers returns the nameservers in query order.
func (r *DNS) Servers() []string {
	return append([]string(nil), r.servers...)
}

// LookupHost returns the A records followed by the AAAA records of fqdn.
// A failed query for either family fails the lookup, so a partial answer
// never replaces a full one. NXDOMAIN and empty answers count as "no records".
func (r *DNS) LookupHost(ctx context.Context, fqdn string) ([]netip.Addr, error) {
	v4, err4 := r.query(ctx, fqdn, dns.TypeA)
	if err4 != nil && !errors.Is(err4, ErrNXDomain) {
		return nil, err4
	}
	v6, err6 := r.query(ctx, fqdn, dns.TypeAAAA)
	if err6 != nil && !errors.Is(err6, ErrNXDomain) {
		return nil, err6
	}

	addrs := append(v4, v6...)
	if len(addrs) > 0 {
		return addrs, nil
	}
	if err4 != nil {
		return nil, err4
	}
	if err6 != nil {
		return nil, err6
	}
	return nil, fmt.Errorf("%s: %w", fqdn, ErrNoAnswer)
}

func (r *DNS) query(ctx context.Context, fqdn string, qtype uint16) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(fqdn), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		resp, err := r.exchange(ctx, m, server)
		if err != nil {
			lastErr = fmt.Errorf("query %s %s via %s: %w", dns.TypeToString[qtype], fqdn, server, err)
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
			return extractAddrs(resp, qtype), nil
		case dns.RcodeNameError:
			// Authoritative negative answer, asking another server will not help.
			return nil, fmt.Errorf("%s: %w", fqdn, ErrNXDomain)
		default:
			lastErr = fmt.Errorf("query %s %s via %s: %s", dns.TypeToString[qtype], fqdn, server, dns.RcodeToString[resp.Rcode])
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no nameservers configured")
	}
	return nil, lastErr
}

// exchange sends m over UDP and retries over TCP when the reply is truncated.
func (r *DNS) exchange(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error) {
	resp, _, err := r.client.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, err
	}
	if !resp.Truncated {
		return resp, nil
	}

	tcp := &dns.Client{Net: "tcp", Timeout: r.client.Timeout}
	resp, _, err = tcp.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func extractAddrs(resp *dns.Msg, qtype uint16) []netip.Addr {
	var out []netip.Addr
	for _, rr := range resp.Answer {
		var ip net.IP
		switch rec := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				ip = rec.A
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				ip = rec.AAAA
			}
		}
		if ip == nil {
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, addr.Unmap())
		}
	}
	return out
}

func normalizeServers(servers []string) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		if s == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		out = append(out, s)
	}
	return out
}

func serversFromResolvConf(path string, logger *logging.Logger) []string {
	cfg, err := dns.ClientConfigFromFile(path)
	if err != nil || len(cfg.Servers) == 0 {
		logger.Warn("No usable nameservers in resolv.conf, using fallback", "path", path, "fallback", fallbackServer, "error", err)
		return []string{fallbackServer}
	}

	out := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		out = append(out, net.JoinHostPort(s, cfg.Port))
	}
	return out
}
