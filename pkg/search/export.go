package search

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

// Export is a downloadable artifact built from displayed results.
type Export struct {
	Filename string
	Body     []byte
}

// ExportCSV renders the displayed results as a CSV artifact with a
// timestamped filename. Embedded quotes are escaped by doubling, per
// RFC 4180. Exporting zero results is a no-op and returns nil.
func ExportCSV(results []Result, now time.Time) (*Export, error) {
	if len(results) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"file", "line", "content"}); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, r := range results {
		record := []string{r.File, strconv.Itoa(r.LineNumber), r.Content}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	return &Export{
		Filename: "grep-results-" + now.Format("20060102-150405") + ".csv",
		Body:     buf.Bytes(),
	}, nil
}
