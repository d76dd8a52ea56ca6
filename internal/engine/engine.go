package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vulnverified/probey/internal/hosts"
)

// ErrNoInput is returned when neither a hosts file nor a root domain is set.
var ErrNoInput = errors.New("provide --hosts-file or --domain")

// Config holds the runtime configuration for a probey run.
type Config struct {
	RootDomain  string
	HostsFile   string
	Concurrency int
	BatchSize   int
}

// Stages holds the injectable stage implementations.
type Stages struct {
	Loader     HostLoader
	Discoverer SubdomainDiscoverer
	Prober     HostProber
}

// ProgressReporter is called by the engine to report stage progress.
type ProgressReporter interface {
	Stage(num, total int, msg string)
	Detail(msg string)
	Warn(msg string)
}

const totalStages = 2

// Run collects the working host set, probes every host and assembles the
// report. A hosts file takes precedence over the root domain.
func Run(ctx context.Context, cfg Config, stages Stages, progress ProgressReporter) (*Report, error) {
	// Stage 1: Host collection.
	working, err := collectHosts(ctx, cfg, stages, progress)
	if err != nil {
		return nil, err
	}
	hostnames := working.Sorted()
	progress.Detail(fmt.Sprintf("%d unique hosts", len(hostnames)))

	// Stage 2: Probing.
	progress.Stage(2, totalStages, fmt.Sprintf("Probing %d hosts (concurrency %d)...", len(hostnames), cfg.Concurrency))
	observer, _ := progress.(HostObserver)
	if observer != nil {
		observer.StartHosts(len(hostnames))
	}

	sched := &Scheduler{
		Prober:      stages.Prober,
		Concurrency: cfg.Concurrency,
		BatchSize:   cfg.BatchSize,
		Progress:    progress,
		Observer:    observer,
	}
	records, err := sched.Run(ctx, hostnames)
	if err != nil {
		return nil, fmt.Errorf("probing failed: %w", err)
	}

	failed := 0
	for _, rec := range records {
		for _, o := range rec.Probes {
			if _, ok := o.(Failure); ok {
				failed++
			}
		}
	}
	progress.Detail(fmt.Sprintf("%d probes, %d failed", countProbes(records), failed))

	return &Report{
		RootDomain:  optional(cfg.RootDomain),
		HostsFile:   optional(cfg.HostsFile),
		GeneratedAt: time.Now().UTC(),
		HostCount:   len(hostnames),
		Hosts:       records,
	}, nil
}

func collectHosts(ctx context.Context, cfg Config, stages Stages, progress ProgressReporter) (hosts.Set, error) {
	switch {
	case cfg.HostsFile != "":
		progress.Stage(1, totalStages, fmt.Sprintf("Reading hosts from %s...", cfg.HostsFile))
		if stages.Loader == nil {
			return nil, fmt.Errorf("no host loader configured")
		}
		list, err := stages.Loader.Load(cfg.HostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading hosts: %w", err)
		}
		return hosts.NewSet(list...), nil

	case cfg.RootDomain != "":
		progress.Stage(1, totalStages, fmt.Sprintf("Discovering subdomains of %s...", cfg.RootDomain))
		working := hosts.NewSet(cfg.RootDomain)
		if stages.Discoverer == nil {
			return working, nil
		}
		found, err := stages.Discoverer.Discover(ctx, cfg.RootDomain)
		if err != nil {
			// Discovery is best-effort; the root domain is still probed.
			progress.Detail(fmt.Sprintf("discovery: %s", err))
		}
		for _, h := range found {
			working.Add(h)
		}
		return working, nil

	default:
		return nil, ErrNoInput
	}
}

func countProbes(records []HostRecord) int {
	n := 0
	for _, rec := range records {
		n += len(rec.Probes)
	}
	return n
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
