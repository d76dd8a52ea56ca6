package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vulnverified/probey/internal/engine"
)

var writeTemp = os.WriteFile

// WriteJSON writes the report as indented JSON to w.
func WriteJSON(w io.Writer, report *engine.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteFile writes the report to path through a temporary file and a rename,
// so a reader never sees a half-written document.
func WriteFile(path string, report *engine.Report) error {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure output directory: %w", err)
		}
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := writeTemp(tmpPath, buf.Bytes(), 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace report file: %w", err)
	}
	return nil
}
