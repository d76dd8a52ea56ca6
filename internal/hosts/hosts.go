// Package hosts turns raw host lists (files, tool output) into a deduplicated
// set of bare hostnames.
package hosts

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

const maxLineBytes = 1024 * 1024

// Set is a set of hostnames.
type Set map[string]struct{}

// NewSet returns a set holding the given hostnames.
func NewSet(hosts ...string) Set {
	s := make(Set, len(hosts))
	for _, h := range hosts {
		s.Add(h)
	}
	return s
}

// Add inserts h. Empty names are ignored.
func (s Set) Add(h string) {
	if h == "" {
		return
	}
	s[h] = struct{}{}
}

// Merge inserts every member of other.
func (s Set) Merge(other Set) {
	for h := range other {
		s[h] = struct{}{}
	}
}

// Contains reports whether h is in the set.
func (s Set) Contains(h string) bool {
	_, ok := s[h]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Normalize reduces one raw line to a bare hostname. It reports false for
// blank lines, comments and lines with nothing left after stripping.
func Normalize(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}

	line = strings.ToLower(line)
	if rest, ok := strings.CutPrefix(line, "https://"); ok {
		line = rest
	} else if rest, ok := strings.CutPrefix(line, "http://"); ok {
		line = rest
	}
	if i := strings.IndexByte(line, '/'); i >= 0 {
		line = line[:i]
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	return line, true
}

// Parse reads line-delimited hosts or URLs from r. Invalid UTF-8 is dropped
// rather than rejected, and malformed lines are skipped. Only read errors are
// returned.
func Parse(r io.Reader) (Set, error) {
	set := make(Set)

	scanner := bufio.NewScanner(transform.NewReader(r, lossyUTF8()))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if h, ok := Normalize(scanner.Text()); ok {
			set.Add(h)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// ReadFile parses the hosts file at path. A leading "~/" expands to the
// user's home directory.
func ReadFile(path string) (Set, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("open hosts file: %w", err)
	}
	defer f.Close()

	set, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read hosts file %s: %w", path, err)
	}
	return set, nil
}

// Loader adapts ReadFile to the engine's host loader interface.
type Loader struct{}

// Load returns the hostnames in the file at path.
func (Loader) Load(path string) ([]string, error) {
	set, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return set.Sorted(), nil
}

// lossyUTF8 drops ill-formed bytes (the transformer sees them as RuneError)
// and byte order marks.
func lossyUTF8() transform.Transformer {
	return runes.Remove(runes.Predicate(func(r rune) bool {
		return r == utf8.RuneError || r == '\uFEFF'
	}))
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
