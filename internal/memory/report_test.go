package memory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportWriterWritesFrontmatterAndBody(t *testing.T) {
	dir := t.TempDir()
	w := NewReportWriter(dir)
	w.clock = func() time.Time {
		return time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	}

	report := Report{
		Eligible:     4,
		Consolidated: 3,
		Failed:       1,
		Errors:       []error{errors.New("summarizer down")},
	}
	path, err := w.Write(report, 7)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2026-03-14.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "---\n")
	assert.Contains(t, content, "2026-03-14")
	assert.Contains(t, content, "consolidated: 3")
	assert.Contains(t, content, "expired_tasks: 7")
	assert.Contains(t, content, "## Failures")
	assert.Contains(t, content, "summarizer down")
}

func TestReportWriterDisabled(t *testing.T) {
	path, err := NewReportWriter("").Write(Report{Consolidated: 1}, 0)
	require.NoError(t, err)
	assert.Empty(t, path)

	var w *ReportWriter
	path, err = w.Write(Report{}, 0)
	require.NoError(t, err)
	assert.Empty(t, path)
}
