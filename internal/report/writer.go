// internal/report/writer.go
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Options select which optional record sections are emitted.
type Options struct {
	IncludeGeneralData bool
	IncludeAttorneys   bool
}

// Encode writes rep as indented JSON.
func Encode(w io.Writer, rep *CrawlReport, opts Options) error {
	out := CrawlReport{
		InputCaseNumber: rep.InputCaseNumber,
		Cases:           rep.Cases,
		Data:            make([]CaseRecord, 0, len(rep.Data)),
	}
	for _, rec := range rep.Data {
		if !opts.IncludeGeneralData {
			rec.GeneralData = nil
		}
		if !opts.IncludeAttorneys {
			rec.Attorneys = nil
		}
		out.Data = append(out.Data, rec)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// FileName returns the report file name for a run finished at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("output_%d.json", t.UnixNano())
}

// WriteFile writes rep into dir as output_<unix-nanos>.json and returns the path.
// The file appears atomically.
func WriteFile(dir string, rep *CrawlReport, opts Options, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".output-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, rep, opts); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close report file: %w", err)
	}

	path := filepath.Join(dir, FileName(now))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move report into place: %w", err)
	}
	return path, nil
}
