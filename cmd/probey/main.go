package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vulnverified/probey/internal/config"
	"github.com/vulnverified/probey/internal/discovery"
	"github.com/vulnverified/probey/internal/engine"
	"github.com/vulnverified/probey/internal/hosts"
	"github.com/vulnverified/probey/internal/output"
	"github.com/vulnverified/probey/internal/probe"
)

// Set via ldflags at build time.
var version = "dev"

type options struct {
	domain           string
	hostsFile        string
	out              string
	configPath       string
	schemes          string
	concurrency      int
	batchSize        int
	discoveryTimeout time.Duration
	axfr             bool
	passive          bool
	table            bool
	noColor          bool
	silent           bool
	verbose          bool
}

func main() {
	output.Version = version

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "probey",
		Short: "Probe a domain's hosts over HTTPS",
		Long:  "Discover the hosts of a domain (or read them from a file), probe each one concurrently over HTTPS and write a JSON report.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
		SilenceUsage: true,
	}

	f := rootCmd.Flags()
	f.StringVar(&opts.domain, "domain", "", "Root domain to enumerate and probe")
	f.StringVar(&opts.hostsFile, "hosts-file", "", "File with one hostname per line (takes precedence over --domain)")
	f.StringVar(&opts.out, "out", "results.json", "Report path, or - for stdout")
	f.StringVar(&opts.configPath, "config", "", "YAML config file")
	f.StringVar(&opts.schemes, "schemes", "https", "Comma-separated URL schemes to probe per host")
	f.IntVar(&opts.concurrency, "concurrency", engine.DefaultConcurrency, "Max probes in flight")
	f.IntVar(&opts.batchSize, "batch-size", engine.DefaultBatchSize, "Hosts scheduled per batch")
	f.DurationVar(&opts.discoveryTimeout, "discovery-timeout", 5*time.Minute, "Bound on subfinder runtime (0 waits for the tool)")
	f.BoolVar(&opts.axfr, "axfr", false, "Also try DNS zone transfers during discovery")
	f.BoolVar(&opts.passive, "passive", false, "Also query crt.sh, HackerTarget and OTX during discovery")
	f.BoolVar(&opts.table, "table", false, "Print a results table (to stderr when --out is -)")
	f.BoolVar(&opts.noColor, "no-color", false, "Disable terminal colors")
	f.BoolVar(&opts.silent, "silent", false, "Summary line only, no progress")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose progress")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("probey {{.Version}}\n")
	return rootCmd
}

func run(cmd *cobra.Command, opts options) error {
	domain := strings.ToLower(strings.TrimSpace(opts.domain))
	hostsFile := strings.TrimSpace(opts.hostsFile)
	if domain == "" && hostsFile == "" {
		return engine.ErrNoInput
	}

	// Respect NO_COLOR env var.
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		opts.noColor = true
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, opts, &cfg); err != nil {
		return err
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = fmt.Sprintf("probey/%s (+https://github.com/vulnverified/probey)", version)
	}

	// Set up context with signal handling for clean Ctrl+C.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
	}()

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	progress := output.NewProgress(stderr, opts.verbose, opts.silent, opts.noColor)
	if !opts.silent {
		output.WriteHeader(stderr, opts.noColor)
	}

	stages := engine.Stages{
		Loader:     hosts.Loader{},
		Discoverer: newDiscoverer(cfg, progress),
		Prober: &probe.Prober{
			UserAgent:    cfg.UserAgent,
			Schemes:      cfg.Schemes,
			Timeouts:     cfg.ProbeTimeouts(),
			MaxRedirects: cfg.MaxRedirects,
			MaxBodyBytes: cfg.MaxBodyBytes,
		},
	}

	report, err := engine.Run(ctx, engine.Config{
		RootDomain:  domain,
		HostsFile:   hostsFile,
		Concurrency: cfg.Concurrency,
		BatchSize:   cfg.BatchSize,
	}, stages, progress)
	if err != nil {
		return err
	}

	progress.Complete()

	// Table and summary move to stderr when stdout carries the document.
	textW := stdout
	if cfg.Out == "-" {
		textW = stderr
	}

	if opts.table {
		output.WriteTable(textW, report, opts.noColor)
	}

	if cfg.Out == "-" {
		if err := output.WriteJSON(stdout, report); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	} else if err := output.WriteFile(cfg.Out, report); err != nil {
		return err
	}

	output.WriteSummary(textW, cfg.Out, report)
	return nil
}

// applyFlags overlays explicitly set flags on the file configuration.
func applyFlags(cmd *cobra.Command, opts options, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("out") || cfg.Out == "" {
		cfg.Out = opts.out
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = opts.concurrency
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = opts.batchSize
	}
	if flags.Changed("schemes") {
		cfg.Schemes = splitList(opts.schemes)
	}
	if flags.Changed("discovery-timeout") {
		cfg.Discovery.Timeout = opts.discoveryTimeout
	}
	if opts.axfr {
		cfg.Discovery.AXFR = true
	}
	if opts.passive {
		cfg.Discovery.Passive = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func newDiscoverer(cfg config.Config, progress engine.ProgressReporter) engine.SubdomainDiscoverer {
	sources := []discovery.Source{
		&discovery.Subfinder{
			Binary:   cfg.Discovery.Subfinder,
			Timeout:  cfg.Discovery.Timeout,
			Progress: progress,
		},
	}
	if cfg.Discovery.AXFR {
		sources = append(sources, &discovery.ZoneTransfer{Progress: progress})
	}
	if cfg.Discovery.Passive {
		sources = append(sources, discovery.PassiveSources(cfg.UserAgent)...)
	}
	return &discovery.Multi{Sources: sources, Progress: progress}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
