package search

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportCSVZeroResultsIsNoOp(t *testing.T) {
	artifact, err := ExportCSV(nil, time.Now())
	require.NoError(t, err)
	assert.Nil(t, artifact, "zero results must produce no artifact")
}

func TestExportCSVBody(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 5, 9, 0, time.UTC)
	results := []Result{
		{File: "pkg/a.go", LineNumber: 10, Content: `fmt.Println("hi")`},
		{File: "pkg/b.go", LineNumber: 20, Content: "plain"},
	}

	artifact, err := ExportCSV(results, now)
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, "grep-results-20260830-140509.csv", artifact.Filename)

	lines := strings.Split(strings.TrimSpace(string(artifact.Body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "file,line,content", lines[0])
	// Embedded quotes are escaped by doubling.
	assert.Equal(t, `pkg/a.go,10,"fmt.Println(""hi"")"`, lines[1])
	assert.Equal(t, "pkg/b.go,20,plain", lines[2])
}
