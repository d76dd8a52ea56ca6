// Package probe implements the per-host HTTP(S) probe: one short-lived client
// per host, one request per scheme, and every failure folded into the record.
package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"

	"github.com/vulnverified/probey/internal/engine"
)

const (
	DefaultUserAgent    = "probey/dev"
	DefaultMaxRedirects = 20
	DefaultMaxBodyBytes = 1024 * 1024
)

// DefaultSchemes are probed when Prober.Schemes is empty.
var DefaultSchemes = []string{"https"}

var errTooManyRedirects = errors.New("too many redirects")

// Timeouts bounds each phase of a request.
type Timeouts struct {
	// Connect bounds TCP connection establishment and the TLS handshake.
	Connect time.Duration
	// Read and Write bound every individual socket read and write.
	Read  time.Duration
	Write time.Duration
	// Pool bounds the wait between asking for a connection and starting
	// to establish one.
	Pool time.Duration
}

// DefaultTimeouts returns 5s connect, 10s read, 10s write, 5s pool.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 5 * time.Second,
		Read:    10 * time.Second,
		Write:   10 * time.Second,
		Pool:    5 * time.Second,
	}
}

// Prober implements engine.HostProber.
type Prober struct {
	UserAgent string
	Schemes   []string
	Timeouts  Timeouts
	// MaxRedirects and MaxBodyBytes fall back to their defaults when not
	// positive; redirects are always followed.
	MaxRedirects int
	MaxBodyBytes int64

	// TLSConfig overrides the client TLS settings. Nil uses system roots.
	TLSConfig *tls.Config
}

// ProbeHost requests <scheme>://host for every configured scheme using a
// client that lives only for this call. It never returns an error: failures
// are recorded as engine.Failure outcomes.
func (p *Prober) ProbeHost(ctx context.Context, host string) engine.HostRecord {
	client, transport := p.newClient()
	defer transport.CloseIdleConnections()

	schemes := p.Schemes
	if len(schemes) == 0 {
		schemes = DefaultSchemes
	}

	rec := engine.HostRecord{
		Host:   host,
		Probes: make([]engine.ProbeOutcome, 0, len(schemes)),
	}
	for _, scheme := range schemes {
		rec.Probes = append(rec.Probes, p.probeURL(ctx, client, scheme+"://"+host))
	}
	return rec
}

func (p *Prober) newClient() (*http.Client, *http.Transport) {
	t := p.timeouts()
	dialer := &net.Dialer{Timeout: t.Connect}

	var tlsConfig *tls.Config
	if p.TLSConfig != nil {
		tlsConfig = p.TLSConfig.Clone()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, read: t.Read, write: t.Write}, nil
		},
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: t.Connect,
		DisableKeepAlives:   true,
	}

	maxRedirects := p.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}
	return client, transport
}

func (p *Prober) probeURL(ctx context.Context, client *http.Client, rawURL string) engine.ProbeOutcome {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	phase := newPhaseTracker(p.timeouts().Pool, func() { cancel(errPoolTimeout) })
	defer phase.stop()

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, phase.trace()), http.MethodGet, rawURL, nil)
	if err != nil {
		return engine.Failure{URL: rawURL, Kind: engine.KindTransport, Message: err.Error()}
	}
	userAgent := p.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return failure(ctx, rawURL, err, phase)
	}
	defer resp.Body.Close()

	maxBody := p.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody)); err != nil {
		return failure(ctx, rawURL, err, phase)
	}

	return engine.Success{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		Server:      headerValue(resp.Header, "Server"),
		ContentType: headerValue(resp.Header, "Content-Type"),
	}
}

func (p *Prober) timeouts() Timeouts {
	t := p.Timeouts
	d := DefaultTimeouts()
	if t.Connect <= 0 {
		t.Connect = d.Connect
	}
	if t.Read <= 0 {
		t.Read = d.Read
	}
	if t.Write <= 0 {
		t.Write = d.Write
	}
	if t.Pool <= 0 {
		t.Pool = d.Pool
	}
	return t
}

func failure(ctx context.Context, rawURL string, err error, phase *phaseTracker) engine.Failure {
	kind := classify(err, phase.snapshot())
	if errors.Is(context.Cause(ctx), errPoolTimeout) {
		kind = engine.KindPoolTimeout
	}

	// url.Error repeats the method and URL; the outcome already has the URL.
	msg := err.Error()
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		msg = urlErr.Err.Error()
	}
	if kind == engine.KindPoolTimeout {
		msg = errPoolTimeout.Error()
	}

	return engine.Failure{URL: rawURL, Kind: kind, Message: msg}
}

// headerValue returns nil when the header is absent. Repeated values are
// joined with ", ".
func headerValue(h http.Header, key string) *string {
	vals := h.Values(key)
	if len(vals) == 0 {
		return nil
	}
	v := strings.Join(vals, ", ")
	return &v
}
