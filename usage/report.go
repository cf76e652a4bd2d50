package usage

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/docker/go-units"
)

// ExportReport writes a human-readable usage report to w: an aggregate
// summary followed by one line per tracked resource, sorted by descending
// eviction score.
func (t *Tracker) ExportReport(w io.Writer) error {
	t.mu.Lock()
	now := t.clock.Now()
	recs := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		recs = append(recs, *rec)
	}
	t.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].Score(now) > recs[j].Score(now) })

	var (
		totalMemory int64
		totalAccess uint64
	)
	for _, rec := range recs {
		totalMemory += rec.MemoryUsage
		totalAccess += rec.AccessCount
	}

	if _, err := fmt.Fprintf(w, "Resource Usage Report\nGenerated: %s\n\n", now.Format("2006-01-02 15:04:05")); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Total Resources: %d\nTotal Memory Usage: %s\nTotal Access Count: %d\n\n",
		len(recs), units.BytesSize(float64(totalMemory)), totalAccess); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tTYPE\tMEMORY\tACCESSES\tSCORE")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.3f\n",
			rec.Path, rec.Type, units.BytesSize(float64(rec.MemoryUsage)), rec.AccessCount, rec.Score(now))
	}
	return tw.Flush()
}
