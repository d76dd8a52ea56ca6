package engine

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency = 40
	DefaultBatchSize   = 200
)

// Scheduler runs one probe per hostname. At most Concurrency probes hold the
// admission gate at once, and hosts are launched in batches of BatchSize:
// every probe of a batch finishes before the next batch starts.
type Scheduler struct {
	Prober      HostProber
	Concurrency int
	BatchSize   int

	// Optional.
	Progress ProgressReporter
	Observer HostObserver
}

// Run probes hosts and returns their records in lexical host order,
// independent of completion order. Probe failures are carried inside the
// records; an error is returned only for invalid settings or when ctx is
// cancelled, since a cancelled probe's outcome says nothing about the host.
func (s *Scheduler) Run(ctx context.Context, hosts []string) ([]HostRecord, error) {
	if s.Prober == nil {
		return nil, fmt.Errorf("scheduler has no prober")
	}
	if s.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", s.Concurrency)
	}
	if s.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", s.BatchSize)
	}

	ordered := slices.Clone(hosts)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	gate := semaphore.NewWeighted(int64(s.Concurrency))
	results := make([]HostRecord, 0, len(ordered))
	numBatches := (len(ordered) + s.BatchSize - 1) / s.BatchSize

	for b := 0; b < numBatches; b++ {
		start := b * s.BatchSize
		end := min(start+s.BatchSize, len(ordered))
		batch := ordered[start:end]

		if s.Progress != nil {
			s.Progress.Detail(fmt.Sprintf("batch %d/%d: %d hosts", b+1, numBatches, len(batch)))
		}

		// Each goroutine writes only its own slot.
		out := make([]HostRecord, len(batch))

		// A plain Group: one probe's error must not cancel its siblings.
		var g errgroup.Group
		for i, host := range batch {
			g.Go(func() error {
				if err := gate.Acquire(ctx, 1); err != nil {
					return fmt.Errorf("waiting to probe %s: %w", host, err)
				}
				defer gate.Release(1)

				out[i] = s.probe(ctx, host)
				if s.Observer != nil {
					s.Observer.HostDone(out[i])
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("run cancelled: %w", context.Cause(ctx))
		}

		results = append(results, out...)
	}

	return results, nil
}

// probe runs the prober for one host, turning a panic into a Failure so the
// rest of the batch is unaffected.
func (s *Scheduler) probe(ctx context.Context, host string) (rec HostRecord) {
	defer func() {
		if r := recover(); r != nil {
			rec = HostRecord{
				Host: host,
				Probes: []ProbeOutcome{Failure{
					URL:     "https://" + host,
					Kind:    KindInternal,
					Message: fmt.Sprint(r),
				}},
			}
		}
	}()

	rec = s.Prober.ProbeHost(ctx, host)
	rec.Host = host
	return rec
}
