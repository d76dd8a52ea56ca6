package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vulnverified/probey/internal/engine"
)

var tableHeaders = []string{"Host", "URL", "Status", "Server", "Final URL / Error"}

// WriteTable renders one row per probe as a styled terminal table.
func WriteTable(w io.Writer, report *engine.Report, noColor bool) {
	if len(report.Hosts) == 0 {
		fmt.Fprintln(w, "\nNo hosts probed.")
		return
	}

	var rows [][]string
	failedRows := make(map[int]bool)
	for _, rec := range report.Hosts {
		for _, o := range rec.Probes {
			switch v := o.(type) {
			case engine.Success:
				rows = append(rows, []string{
					rec.Host,
					truncate(v.URL, 40),
					strconv.Itoa(v.StatusCode),
					truncate(deref(v.Server), 20),
					truncate(v.FinalURL, 50),
				})
			case engine.Failure:
				failedRows[len(rows)] = true
				rows = append(rows, []string{
					rec.Host,
					truncate(v.URL, 40),
					"-",
					"",
					truncate(v.Descriptor(), 50),
				})
			}
		}
	}

	fmt.Fprintln(w)

	if noColor {
		writeSimpleTable(w, rows)
		return
	}

	t := table.New().
		Headers(tableHeaders...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
			}
			if failedRows[row] {
				return lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
			}
			return lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
		})

	for _, row := range rows {
		t.Row(row...)
	}

	fmt.Fprintln(w, t.Render())
}

func writeSimpleTable(w io.Writer, rows [][]string) {
	widths := make([]int, len(tableHeaders))
	for i, h := range tableHeaders {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				fmt.Fprint(w, " | ")
			}
			fmt.Fprintf(w, "%-*s", widths[i], cell)
		}
		fmt.Fprintln(w)
	}

	writeRow(tableHeaders)
	for i, width := range widths {
		if i > 0 {
			fmt.Fprint(w, "-+-")
		}
		fmt.Fprint(w, strings.Repeat("-", width))
	}
	fmt.Fprintln(w)
	for _, row := range rows {
		writeRow(row)
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
