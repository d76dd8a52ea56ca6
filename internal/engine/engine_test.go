package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"
)

// Mock implementations for testing.

type mockLoader struct {
	hosts []string
	err   error
	path  string
}

func (m *mockLoader) Load(path string) ([]string, error) {
	m.path = path
	return m.hosts, m.err
}

type mockDiscoverer struct {
	hosts  []string
	err    error
	called bool
}

func (m *mockDiscoverer) Discover(ctx context.Context, domain string) ([]string, error) {
	m.called = true
	return m.hosts, m.err
}

type noopProgress struct{}

func (p *noopProgress) Stage(num, total int, msg string) {}
func (p *noopProgress) Detail(msg string)                {}
func (p *noopProgress) Warn(msg string)                  {}

func echoProber() HostProber {
	return proberFunc(func(ctx context.Context, host string) HostRecord { return okRecord(host) })
}

func TestEngine_HostsFileTakesPrecedence(t *testing.T) {
	loader := &mockLoader{hosts: []string{"b.example", "a.example"}}
	discoverer := &mockDiscoverer{hosts: []string{"www.example.com"}}

	cfg := Config{RootDomain: "example.com", HostsFile: "hosts.txt", Concurrency: 4, BatchSize: 200}
	stages := Stages{Loader: loader, Discoverer: discoverer, Prober: echoProber()}

	report, err := Run(context.Background(), cfg, stages, &noopProgress{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if discoverer.called {
		t.Error("discovery should not run when a hosts file is given")
	}
	if loader.path != "hosts.txt" {
		t.Errorf("loader path = %q, want hosts.txt", loader.path)
	}
	if report.HostCount != 2 {
		t.Errorf("host count = %d, want 2", report.HostCount)
	}
	if report.Hosts[0].Host != "a.example" || report.Hosts[1].Host != "b.example" {
		t.Errorf("hosts not sorted: %q, %q", report.Hosts[0].Host, report.Hosts[1].Host)
	}

	// Both inputs are recorded as run metadata.
	if report.RootDomain == nil || *report.RootDomain != "example.com" {
		t.Errorf("root domain = %v, want example.com", report.RootDomain)
	}
	if report.HostsFile == nil || *report.HostsFile != "hosts.txt" {
		t.Errorf("hosts file = %v, want hosts.txt", report.HostsFile)
	}
}

func TestEngine_DiscoveryUnavailable_ProbesRootOnly(t *testing.T) {
	stages := Stages{
		Discoverer: &mockDiscoverer{}, // tool absent: no hosts, no error
		Prober:     echoProber(),
	}
	cfg := Config{RootDomain: "example.com", Concurrency: 40, BatchSize: 200}

	report, err := Run(context.Background(), cfg, stages, &noopProgress{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.HostCount != 1 || len(report.Hosts) != 1 || report.Hosts[0].Host != "example.com" {
		t.Errorf("expected only example.com, got %+v", report.Hosts)
	}
	if report.HostsFile != nil {
		t.Errorf("hosts file = %q, want nil", *report.HostsFile)
	}
}

func TestEngine_DiscoveryFailure_IsNotFatal(t *testing.T) {
	progress := &recordingProgress{}
	stages := Stages{
		Discoverer: &mockDiscoverer{err: fmt.Errorf("subfinder exited with status 2")},
		Prober:     echoProber(),
	}
	cfg := Config{RootDomain: "example.com", Concurrency: 40, BatchSize: 200}

	report, err := Run(context.Background(), cfg, stages, progress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.HostCount != 1 {
		t.Errorf("host count = %d, want 1", report.HostCount)
	}
	if len(progress.warns) != 0 {
		t.Errorf("discovery failure should be tolerated quietly, got %v", progress.warns)
	}
	if !slices.Contains(progress.details, "discovery: subfinder exited with status 2") {
		t.Errorf("expected a discovery detail line, got %v", progress.details)
	}
}

func TestEngine_DiscoveredHostsMergedWithRoot(t *testing.T) {
	stages := Stages{
		Discoverer: &mockDiscoverer{hosts: []string{"www.example.com", "api.example.com", "example.com", "www.example.com"}},
		Prober:     echoProber(),
	}
	cfg := Config{RootDomain: "example.com", Concurrency: 40, BatchSize: 200}

	report, err := Run(context.Background(), cfg, stages, &noopProgress{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"api.example.com", "example.com", "www.example.com"}
	if report.HostCount != len(want) {
		t.Fatalf("host count = %d, want %d", report.HostCount, len(want))
	}
	for i, h := range want {
		if report.Hosts[i].Host != h {
			t.Errorf("hosts[%d] = %q, want %q", i, report.Hosts[i].Host, h)
		}
	}
}

func TestEngine_NoInput(t *testing.T) {
	_, err := Run(context.Background(), Config{Concurrency: 40, BatchSize: 200}, Stages{Prober: echoProber()}, &noopProgress{})
	if !errors.Is(err, ErrNoInput) {
		t.Fatalf("err = %v, want ErrNoInput", err)
	}
}

func TestEngine_LoaderErrorAborts(t *testing.T) {
	stages := Stages{
		Loader: &mockLoader{err: fmt.Errorf("open hosts file: no such file or directory")},
		Prober: echoProber(),
	}
	cfg := Config{HostsFile: "missing.txt", Concurrency: 40, BatchSize: 200}

	if _, err := Run(context.Background(), cfg, stages, &noopProgress{}); err == nil {
		t.Fatal("expected error for unreadable hosts file")
	}
}

func TestEngine_InvalidConcurrencyAborts(t *testing.T) {
	stages := Stages{Loader: &mockLoader{hosts: []string{"a.example"}}, Prober: echoProber()}
	cfg := Config{HostsFile: "hosts.txt", Concurrency: 0, BatchSize: 200}

	if _, err := Run(context.Background(), cfg, stages, &noopProgress{}); err == nil {
		t.Fatal("expected error for zero concurrency")
	}
}

func TestEngine_ReportsHostProgress(t *testing.T) {
	progress := &recordingProgress{}
	stages := Stages{Loader: &mockLoader{hosts: hostNames(7)}, Prober: echoProber()}
	cfg := Config{HostsFile: "hosts.txt", Concurrency: 3, BatchSize: 2}

	if _, err := Run(context.Background(), cfg, stages, progress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if progress.started != 7 {
		t.Errorf("observer started with %d, want 7", progress.started)
	}
	if got := progress.done.Load(); got != 7 {
		t.Errorf("observer saw %d hosts, want 7", got)
	}
	if got := progress.batchLines(); got != 4 {
		t.Errorf("batches = %d, want 4", got)
	}
	if len(progress.stages) != 2 {
		t.Errorf("stages = %v, want 2 entries", progress.stages)
	}
}

func TestEngine_ReportDocumentShape(t *testing.T) {
	server := "nginx"
	prober := proberFunc(func(ctx context.Context, host string) HostRecord {
		if host == "down.example" {
			return HostRecord{Probes: []ProbeOutcome{Failure{
				URL:     "https://down.example",
				Kind:    KindConnectionRefused,
				Message: "dial tcp 10.0.0.1:443: connect: connection refused",
			}}}
		}
		return HostRecord{Probes: []ProbeOutcome{Success{
			URL:        "https://" + host,
			FinalURL:   "https://" + host + "/home",
			StatusCode: 200,
			Server:     &server,
		}}}
	})

	stages := Stages{Loader: &mockLoader{hosts: []string{"up.example", "down.example"}}, Prober: prober}
	cfg := Config{HostsFile: "hosts.txt", Concurrency: 2, BatchSize: 200}

	before := time.Now().UTC()
	report, err := Run(context.Background(), cfg, stages, &noopProgress{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.GeneratedAt.Location() != time.UTC {
		t.Errorf("generated_at location = %v, want UTC", report.GeneratedAt.Location())
	}
	if report.GeneratedAt.Before(before.Add(-time.Second)) {
		t.Errorf("generated_at = %v, too early", report.GeneratedAt)
	}

	raw, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var doc struct {
		RootDomain  *string `json:"root_domain"`
		HostsFile   *string `json:"hosts_file"`
		GeneratedAt string  `json:"generated_at"`
		HostCount   int     `json:"host_count"`
		Hosts       []struct {
			Host   string                   `json:"host"`
			Probes []map[string]interface{} `json:"probes"`
		} `json:"hosts"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if doc.RootDomain != nil {
		t.Errorf("root_domain = %q, want null", *doc.RootDomain)
	}
	if _, err := time.Parse(time.RFC3339Nano, doc.GeneratedAt); err != nil {
		t.Errorf("generated_at %q is not ISO-8601: %v", doc.GeneratedAt, err)
	}
	if doc.HostCount != 2 || len(doc.Hosts) != 2 {
		t.Fatalf("host_count = %d, hosts = %d, want 2", doc.HostCount, len(doc.Hosts))
	}

	// Exactly one of status_code / error per probe.
	for _, h := range doc.Hosts {
		for _, p := range h.Probes {
			_, hasStatus := p["status_code"]
			_, hasError := p["error"]
			if hasStatus == hasError {
				t.Errorf("%s: status_code present = %v, error present = %v", h.Host, hasStatus, hasError)
			}
		}
	}

	down := doc.Hosts[0].Probes[0]
	if down["error"] != "ConnectionRefused: dial tcp 10.0.0.1:443: connect: connection refused" {
		t.Errorf("error = %v", down["error"])
	}

	up := doc.Hosts[1].Probes[0]
	if up["server"] != "nginx" {
		t.Errorf("server = %v, want nginx", up["server"])
	}
	if ct, ok := up["content_type"]; !ok || ct != nil {
		t.Errorf("content_type = %v (present %v), want explicit null", ct, ok)
	}
}
