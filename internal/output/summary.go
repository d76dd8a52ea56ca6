package output

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/vulnverified/probey/internal/engine"
)

// Version is set via ldflags at build time.
var Version = "dev"

// WriteHeader prints the probey banner.
func WriteHeader(w io.Writer, noColor bool) {
	bold := color.New(color.Bold)
	if noColor {
		bold.DisableColor()
	}
	bold.Fprintf(w, "probey %s", Version)
	fmt.Fprint(w, "\n\n")
}

// WriteSummary prints the one-line run summary.
func WriteSummary(w io.Writer, out string, report *engine.Report) {
	fmt.Fprintf(w, "Wrote %s (%d hosts)\n", out, report.HostCount)
}
