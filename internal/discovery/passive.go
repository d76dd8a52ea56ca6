package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vulnverified/probey/internal/hosts"
)

const (
	crtshURLFormat        = "https://crt.sh/?q=%%25.%s&output=json"
	hackertargetURLFormat = "https://api.hackertarget.com/hostsearch/?q=%s"
	otxURLFormat          = "https://otx.alienvault.com/api/v1/indicators/domain/%s/passive_dns"

	hackertargetRateMsg = "API count exceeded"
)

var errRateLimited = errors.New("rate limited")

// Passive is a discovery source backed by a public passive-DNS or
// certificate-transparency HTTP API. A failed request is retried once after
// RetryDelay unless the service rate-limited us.
type Passive struct {
	name string
	// URLFormat has a single %s for the domain.
	URLFormat  string
	UserAgent  string
	Timeout    time.Duration
	RetryDelay time.Duration
	MaxBody    int64
	Client     *http.Client
	parse      func(body []byte, domain string) ([]string, error)
}

// CrtSh queries crt.sh Certificate Transparency logs.
func CrtSh(userAgent string) *Passive {
	return &Passive{
		name:       "crt.sh",
		URLFormat:  crtshURLFormat,
		UserAgent:  userAgent,
		Timeout:    30 * time.Second,
		RetryDelay: 3 * time.Second,
		MaxBody:    50 * 1024 * 1024,
		parse:      parseCrtsh,
	}
}

// HackerTarget queries the HackerTarget host search API.
func HackerTarget(userAgent string) *Passive {
	return &Passive{
		name:       "hackertarget",
		URLFormat:  hackertargetURLFormat,
		UserAgent:  userAgent,
		Timeout:    10 * time.Second,
		RetryDelay: 2 * time.Second,
		MaxBody:    5 * 1024 * 1024,
		parse:      parseHackertarget,
	}
}

// OTX queries AlienVault OTX passive DNS.
func OTX(userAgent string) *Passive {
	return &Passive{
		name:       "otx",
		URLFormat:  otxURLFormat,
		UserAgent:  userAgent,
		Timeout:    15 * time.Second,
		RetryDelay: 3 * time.Second,
		MaxBody:    10 * 1024 * 1024,
		parse:      parseOTX,
	}
}

// PassiveSources returns every passive API source.
func PassiveSources(userAgent string) []Source {
	return []Source{CrtSh(userAgent), HackerTarget(userAgent), OTX(userAgent)}
}

func (p *Passive) Name() string { return p.name }

// Discover implements Source.
func (p *Passive) Discover(ctx context.Context, domain string) ([]string, error) {
	domain = strings.ToLower(domain)
	url := fmt.Sprintf(p.URLFormat, domain)

	body, err := p.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch for %s: %w", domain, err)
	}
	return p.parse(body, domain)
}

func (p *Passive) fetch(ctx context.Context, url string) ([]byte, error) {
	body, err := p.do(ctx, url)
	if err == nil || errors.Is(err, errRateLimited) {
		return body, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.RetryDelay):
	}

	return p.do(ctx, url)
}

func (p *Passive) do(ctx context.Context, url string) ([]byte, error) {
	reqCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.UserAgent)
	req.Header.Set("Accept", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: %w (429)", p.name, errRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", p.name, resp.StatusCode)
	}

	limit := p.MaxBody
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", p.name, err)
	}

	// HackerTarget answers 200 with a plain-text notice when over quota.
	if strings.Contains(string(body), hackertargetRateMsg) {
		return nil, fmt.Errorf("%s: %w: %s", p.name, errRateLimited, hackertargetRateMsg)
	}
	return body, nil
}

func parseCrtsh(body []byte, domain string) ([]string, error) {
	var entries []struct {
		NameValue string `json:"name_value"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("crt.sh JSON parse: %w", err)
	}

	found := make(hosts.Set)
	for _, entry := range entries {
		// name_value holds one name per line.
		for _, name := range strings.Split(entry.NameValue, "\n") {
			name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "*.")
			if inZone(name, domain) {
				found.Add(name)
			}
		}
	}
	return found.Sorted(), nil
}

// parseHackertarget reads the plain-text "host,ip" format.
func parseHackertarget(body []byte, domain string) ([]string, error) {
	found := make(hosts.Set)
	for _, line := range strings.Split(string(body), "\n") {
		host, _, _ := strings.Cut(strings.TrimSpace(line), ",")
		host = strings.ToLower(strings.TrimSpace(host))
		if inZone(host, domain) {
			found.Add(host)
		}
	}
	return found.Sorted(), nil
}

func parseOTX(body []byte, domain string) ([]string, error) {
	var resp struct {
		PassiveDNS []struct {
			Hostname string `json:"hostname"`
		} `json:"passive_dns"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("otx JSON parse: %w", err)
	}

	found := make(hosts.Set)
	for _, entry := range resp.PassiveDNS {
		host := strings.ToLower(strings.TrimSpace(entry.Hostname))
		if inZone(host, domain) {
			found.Add(host)
		}
	}
	return found.Sorted(), nil
}

func inZone(name, domain string) bool {
	return name != "" && (name == domain || strings.HasSuffix(name, "."+domain))
}
