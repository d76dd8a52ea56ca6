// Package engine orchestrates the probey pipeline: collecting hostnames,
// probing them under a bounded concurrency budget and assembling the report.
package engine

import (
	"context"
	"encoding/json"
	"time"
)

// Report is the top-level output document of a probey run.
type Report struct {
	RootDomain  *string      `json:"root_domain"`
	HostsFile   *string      `json:"hosts_file"`
	GeneratedAt time.Time    `json:"generated_at"`
	HostCount   int          `json:"host_count"`
	Hosts       []HostRecord `json:"hosts"`
}

// HostRecord pairs a hostname with one outcome per attempted scheme.
type HostRecord struct {
	Host   string         `json:"host"`
	Probes []ProbeOutcome `json:"probes"`
}

// ProbeOutcome is the result of a single scheme-specific request. It is
// either a Success or a Failure.
type ProbeOutcome interface {
	RequestURL() string
	isProbeOutcome()
}

// Success describes a request that produced an HTTP response.
type Success struct {
	URL         string  `json:"url"`
	FinalURL    string  `json:"final_url"`
	StatusCode  int     `json:"status_code"`
	Server      *string `json:"server"`
	ContentType *string `json:"content_type"`
}

// RequestURL implements ProbeOutcome.
func (s Success) RequestURL() string { return s.URL }

func (Success) isProbeOutcome() {}

// ErrorKind names the category of a failed request.
type ErrorKind string

const (
	KindDNS               ErrorKind = "DNSError"
	KindConnectionRefused ErrorKind = "ConnectionRefused"
	KindConnectTimeout    ErrorKind = "ConnectTimeout"
	KindReadTimeout       ErrorKind = "ReadTimeout"
	KindWriteTimeout      ErrorKind = "WriteTimeout"
	KindPoolTimeout       ErrorKind = "PoolTimeout"
	KindTLS               ErrorKind = "TLSError"
	KindTooManyRedirects  ErrorKind = "TooManyRedirects"
	KindTransport         ErrorKind = "TransportError"
	KindInternal          ErrorKind = "InternalError"
)

// Failure describes a request that never produced a usable response.
type Failure struct {
	URL     string
	Kind    ErrorKind
	Message string
}

// RequestURL implements ProbeOutcome.
func (f Failure) RequestURL() string { return f.URL }

func (Failure) isProbeOutcome() {}

// Descriptor renders the failure as "<Kind>: <message>".
func (f Failure) Descriptor() string {
	if f.Message == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Message
}

// MarshalJSON emits {"url": ..., "error": ...}.
func (f Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		URL   string `json:"url"`
		Error string `json:"error"`
	}{URL: f.URL, Error: f.Descriptor()})
}

// HostLoader reads hostnames from a hosts file.
type HostLoader interface {
	Load(path string) ([]string, error)
}

// SubdomainDiscoverer enumerates candidate subdomains of a root domain.
// Errors are treated as degraded discovery, never as fatal.
type SubdomainDiscoverer interface {
	Discover(ctx context.Context, domain string) ([]string, error)
}

// HostProber probes a single hostname. It must always return a record with
// at least one outcome; transport failures are reported as Failure values.
type HostProber interface {
	ProbeHost(ctx context.Context, host string) HostRecord
}

// HostObserver is an optional interface that ProgressReporter
// implementations can satisfy to follow per-host completion. HostDone is
// called concurrently from probe goroutines.
type HostObserver interface {
	StartHosts(total int)
	HostDone(rec HostRecord)
}
