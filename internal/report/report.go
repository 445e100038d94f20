// Package report renders dispatch results for humans and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"ledgercast/internal/dispatch"
	"ledgercast/internal/ledger"
)

// Format selects the rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", ledger.InvalidField("output", fmt.Sprintf("unknown format %q (use text or json)", s))
	}
}

// RunSummary is the aggregate view of one run.
type RunSummary struct {
	RunID        string          `json:"run_id"`
	Mode         string          `json:"mode"`
	Total        int             `json:"total"`
	Announced    int             `json:"announced"`
	Failed       int             `json:"failed"`
	Errored      int             `json:"errored"`
	PeakInFlight int             `json:"peak_in_flight"`
	ElapsedMS    int64           `json:"elapsed_ms"`
	Throughput   float64         `json:"throughput"`
	Last         *ledger.Outcome `json:"last,omitempty"`
}

func Summary(res *dispatch.Result) RunSummary {
	if res == nil {
		return RunSummary{}
	}
	announced, failed, errored := res.Counts()
	s := RunSummary{
		RunID:        res.RunID,
		Mode:         res.Mode.String(),
		Total:        res.Total,
		Announced:    announced,
		Failed:       failed,
		Errored:      errored,
		PeakInFlight: res.PeakInFlight,
		ElapsedMS:    res.Elapsed.Milliseconds(),
		Throughput:   res.Throughput,
	}
	if last, ok := res.Last(); ok {
		s.Last = &last
	}
	return s
}

// Write renders res to w. Text output is a short block; JSON is the indented summary
// followed by every outcome.
func Write(w io.Writer, res *dispatch.Result, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			RunSummary
			Outcomes []ledger.Outcome `json:"outcomes"`
		}{Summary(res), outcomes(res)})
	case FormatText, "":
		return writeText(w, Summary(res))
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func outcomes(res *dispatch.Result) []ledger.Outcome {
	if res == nil || res.Outcomes == nil {
		return []ledger.Outcome{}
	}
	return res.Outcomes
}

func writeText(w io.Writer, s RunSummary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%d transactions in %s (%.2f tx/s)\n", s.Total, time.Duration(s.ElapsedMS)*time.Millisecond, s.Throughput)
	fmt.Fprintf(&b, "  mode:      %s\n", s.Mode)
	fmt.Fprintf(&b, "  run:       %s\n", s.RunID)
	fmt.Fprintf(&b, "  announced: %d\n", s.Announced)
	fmt.Fprintf(&b, "  failed:    %d\n", s.Failed)
	fmt.Fprintf(&b, "  errored:   %d\n", s.Errored)
	if s.Mode == dispatch.BoundedConcurrent.String() {
		fmt.Fprintf(&b, "  peak:      %d in flight\n", s.PeakInFlight)
	}
	if s.Last != nil {
		fmt.Fprintf(&b, "last: %s", s.Last.Status)
		if s.Last.Hash != "" {
			fmt.Fprintf(&b, " %s", s.Last.Hash)
		}
		if s.Last.ErrorDetail != "" {
			fmt.Fprintf(&b, " (%s)", s.Last.ErrorDetail)
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}
