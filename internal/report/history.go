package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"ledgercast/internal/storage"
)

// WriteHistory renders recorded runs, newest first as given.
func WriteHistory(w io.Writer, runs []storage.RunRecord, format Format) error {
	if format == FormatJSON {
		if runs == nil {
			runs = []storage.RunRecord{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		_, err := io.WriteString(w, "no runs recorded\n")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tRUN\tSOURCE\tMODE\tOK/FAIL/ERR\tELAPSED\tTX/S\tNOTE")
	for _, r := range runs {
		note := r.LastHash
		if r.Error != "" {
			note = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d/%d\t%s\t%.2f\t%s\n",
			r.At.Local().Format("2006-01-02 15:04:05"),
			shortID(r.RunID),
			r.Trigger,
			r.Mode,
			r.Announced, r.Failed, r.Errored,
			time.Duration(r.ElapsedMS)*time.Millisecond,
			r.Throughput,
			note,
		)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
