package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"dashsync/internal/models"
	"dashsync/internal/orchestrator"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatText:
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (json|text)", s)
	}
}

// Write renders v. Text output has tables for summaries, sync states and
// sync runs; anything else falls back to JSON.
func Write(w io.Writer, format Format, v any) error {
	if format == FormatText {
		switch val := v.(type) {
		case orchestrator.Summary:
			return writeSummary(w, val)
		case []models.SyncState:
			return writeStates(w, val)
		case []models.SyncRun:
			return writeRuns(w, val)
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func writeSummary(w io.Writer, sum orchestrator.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s\t%s\n", sum.RunID, sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	fmt.Fprintln(tw, "TENANT\tENTITY\tSTATUS\tFULL\tPAGES\tRECORDS\tPRUNED\tERROR")
	for _, t := range sum.Tenants {
		if len(t.Entities) == 0 {
			fmt.Fprintf(tw, "%s\t-\t%s\t\t\t\t\t%s\n", t.TenantID, t.Status, t.Error)
			continue
		}
		for _, e := range t.Entities {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%d\t%d\t%s\n",
				t.TenantID, e.Entity, e.Status, e.FullSync, e.Pages, e.Records, e.Pruned, e.Error)
		}
	}
	if sum.Aborted {
		fmt.Fprintln(tw, "aborted: fail-fast")
	}
	return tw.Flush()
}

func writeStates(w io.Writer, states []models.SyncState) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tENTITY\tLAST SYNCED\tLAST ATTEMPT\tCURSOR\tERROR")
	for _, s := range states {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.TenantID, s.Entity, formatTime(s.LastSyncedAt), formatTime(s.LastAttemptAt),
			string(s.Cursor), deref(s.LastError))
	}
	return tw.Flush()
}

func writeRuns(w io.Writer, runs []models.SyncRun) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tTENANT\tENTITY\tSTATUS\tSTAGE\tRECORDS\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			formatTime(&r.StartedAt), r.TenantID, r.Entity, r.Status, r.Stage, r.Records, deref(r.Error))
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
