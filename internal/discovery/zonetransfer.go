package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/vulnverified/probey/internal/engine"
	"github.com/vulnverified/probey/internal/hosts"
)

const (
	axfrDialTimeout = 10 * time.Second
	axfrReadTimeout = 30 * time.Second
)

// ZoneTransfer looks up the domain's NS records and attempts an AXFR against
// each nameserver. Most nameservers refuse; that is reported, not returned.
type ZoneTransfer struct {
	// Nameservers overrides the NS lookup with explicit host:port addresses.
	Nameservers []string
	Progress    engine.ProgressReporter
}

// Name implements Source.
func (z *ZoneTransfer) Name() string { return "axfr" }

// Discover implements engine.SubdomainDiscoverer.
func (z *ZoneTransfer) Discover(ctx context.Context, domain string) ([]string, error) {
	addrs := z.Nameservers
	if len(addrs) == 0 {
		nameservers, err := net.DefaultResolver.LookupNS(ctx, domain)
		if err != nil {
			return nil, fmt.Errorf("NS lookup for %s: %w", domain, err)
		}
		if len(nameservers) == 0 {
			return nil, fmt.Errorf("no NS records for %s", domain)
		}
		for _, ns := range nameservers {
			addrs = append(addrs, net.JoinHostPort(strings.TrimSuffix(ns.Host, "."), "53"))
		}
	}

	found := make(hosts.Set)
	succeeded := 0

	for _, addr := range addrs {
		// Respect context cancellation between nameserver attempts.
		select {
		case <-ctx.Done():
			return found.Sorted(), ctx.Err()
		default:
		}

		names, err := transferZone(domain, addr)
		if err != nil {
			// AXFR refusal is the normal case.
			z.detail(fmt.Sprintf("axfr: %s refused: %s", addr, err))
			continue
		}

		succeeded++
		z.detail(fmt.Sprintf("axfr: %s returned %d hosts", addr, len(names)))
		for _, n := range names {
			found.Add(n)
		}
	}

	if succeeded > 0 && z.Progress != nil {
		z.Progress.Warn(fmt.Sprintf("zone transfer enabled on %d of %d nameservers", succeeded, len(addrs)))
	}
	return found.Sorted(), nil
}

// transferZone performs a zone transfer against one nameserver and returns
// the names of address and alias records inside the domain.
func transferZone(domain, addr string) ([]string, error) {
	transfer := &dns.Transfer{
		DialTimeout: axfrDialTimeout,
		ReadTimeout: axfrReadTimeout,
	}

	msg := new(dns.Msg)
	msg.SetAxfr(dns.Fqdn(domain))

	channel, err := transfer.In(msg, addr)
	if err != nil {
		return nil, fmt.Errorf("AXFR to %s: %w", addr, err)
	}

	zone := strings.ToLower(domain)
	seen := make(map[string]bool)
	var names []string

	for envelope := range channel {
		if envelope.Error != nil {
			return nil, fmt.Errorf("AXFR envelope from %s: %w", addr, envelope.Error)
		}
		for _, rr := range envelope.RR {
			switch rr.Header().Rrtype {
			case dns.TypeA, dns.TypeAAAA, dns.TypeCNAME:
			default:
				continue
			}

			name := strings.ToLower(strings.TrimSuffix(rr.Header().Name, "."))
			if name == "" || strings.HasPrefix(name, "*.") {
				continue
			}
			if name != zone && !strings.HasSuffix(name, "."+zone) {
				continue
			}
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	return names, nil
}

func (z *ZoneTransfer) detail(msg string) {
	if z.Progress != nil {
		z.Progress.Detail(msg)
	}
}
