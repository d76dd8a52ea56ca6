package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/vulnverified/probey/internal/engine"
	"github.com/vulnverified/probey/internal/hosts"
)

// Source is a single discovery backend.
type Source interface {
	Name() string
	Discover(ctx context.Context, domain string) ([]string, error)
}

// Multi runs several sources in parallel and merges their hosts. A failing
// source contributes nothing and is only mentioned in verbose detail.
type Multi struct {
	Sources  []Source
	Progress engine.ProgressReporter
}

// Discover implements engine.SubdomainDiscoverer.
func (m *Multi) Discover(ctx context.Context, domain string) ([]string, error) {
	var (
		mu    sync.Mutex
		found = make(hosts.Set)
		wg    sync.WaitGroup
	)

	for _, src := range m.Sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			names, err := src.Discover(ctx, domain)
			if err != nil {
				if m.Progress != nil {
					m.Progress.Detail(fmt.Sprintf("%s: %s", src.Name(), err))
				}
			}
			mu.Lock()
			for _, n := range names {
				found.Add(n)
			}
			mu.Unlock()
		}()
	}

	wg.Wait()
	return found.Sorted(), nil
}
