// Package discovery enumerates candidate subdomains for a root domain.
// Every source is best-effort: a missing tool or a failed lookup shrinks the
// result, it never aborts the run.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/vulnverified/probey/internal/engine"
	"github.com/vulnverified/probey/internal/hosts"
)

const (
	DefaultSubfinderBinary = "subfinder"
	subfinderWaitDelay     = 5 * time.Second
)

// Subfinder runs the external subfinder tool as `subfinder -d <domain> -silent`
// and reads one hostname per stdout line.
type Subfinder struct {
	// Binary is looked up in PATH unless it contains a path separator.
	Binary string
	// Timeout bounds the tool's runtime. Zero leaves it to the tool.
	Timeout  time.Duration
	Progress engine.ProgressReporter
}

// Name implements Source.
func (s *Subfinder) Name() string { return "subfinder" }

// Discover implements engine.SubdomainDiscoverer. A binary that cannot be
// found yields no hosts and no error. A failed or timed-out run yields no
// hosts and an error describing why.
func (s *Subfinder) Discover(ctx context.Context, domain string) ([]string, error) {
	bin := s.Binary
	if bin == "" {
		bin = DefaultSubfinderBinary
	}

	path, err := exec.LookPath(bin)
	if err != nil {
		s.detail(fmt.Sprintf("subfinder: %s not found, skipping", bin))
		return nil, nil
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-d", domain, "-silent")
	cmd.Stdout = &stdout
	cmd.Stderr = io.Discard
	cmd.WaitDelay = subfinderWaitDelay

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("subfinder timed out after %s", s.Timeout)
		}
		return nil, fmt.Errorf("subfinder for %s: %w", domain, err)
	}

	set, err := hosts.Parse(&stdout)
	if err != nil {
		return nil, fmt.Errorf("subfinder output: %w", err)
	}
	s.detail(fmt.Sprintf("subfinder: %d subdomains", len(set)))
	return set.Sorted(), nil
}

func (s *Subfinder) detail(msg string) {
	if s.Progress != nil {
		s.Progress.Detail(msg)
	}
}
