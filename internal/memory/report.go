package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReportWriter persists one markdown audit file per consolidation pass,
// with a YAML frontmatter block carrying the run counters. Files are
// named by date; a second pass on the same day overwrites the first.
type ReportWriter struct {
	dir   string
	clock func() time.Time
}

// NewReportWriter writes reports under dir. An empty dir disables
// writing.
func NewReportWriter(dir string) *ReportWriter {
	return &ReportWriter{dir: dir, clock: time.Now}
}

type reportFrontmatter struct {
	Date         string `yaml:"date"`
	Eligible     int    `yaml:"eligible"`
	Consolidated int    `yaml:"consolidated"`
	Failed       int    `yaml:"failed"`
	ExpiredTasks int64  `yaml:"expired_tasks"`
}

// Write renders the pass report and returns the file path. A nil or
// disabled writer returns "" without error.
func (w *ReportWriter) Write(report Report, expiredTasks int64) (string, error) {
	if w == nil || w.dir == "" {
		return "", nil
	}

	now := w.clock().UTC()
	fm := reportFrontmatter{
		Date:         now.Format("2006-01-02"),
		Eligible:     report.Eligible,
		Consolidated: report.Consolidated,
		Failed:       report.Failed,
		ExpiredTasks: expiredTasks,
	}
	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("marshal report frontmatter: %w", err)
	}

	var buf strings.Builder
	buf.WriteString("---\n")
	buf.Write(fmBytes)
	buf.WriteString("---\n\n")
	buf.WriteString("## Consolidation\n")
	fmt.Fprintf(&buf, "- eligible: %d\n", report.Eligible)
	fmt.Fprintf(&buf, "- consolidated: %d\n", report.Consolidated)
	fmt.Fprintf(&buf, "- failed: %d\n", report.Failed)
	fmt.Fprintf(&buf, "- expired tasks: %d\n", expiredTasks)
	if len(report.Errors) > 0 {
		buf.WriteString("\n## Failures\n")
		for _, err := range report.Errors {
			fmt.Fprintf(&buf, "- %v\n", err)
		}
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure report dir: %w", err)
	}
	path := filepath.Join(w.dir, fm.Date+".md")
	if err := os.WriteFile(path, []byte(buf.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
