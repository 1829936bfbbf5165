package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/alfredjeanlab/gatepass/internal/model"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printEntry(e *model.QueueEntry) {
	r := e.Record
	fmt.Printf("ID:          %s\n", r.ID)
	fmt.Printf("Event:       %s\n", r.EventID)
	fmt.Printf("User:        %s\n", r.UserID)
	fmt.Printf("Device:      %s\n", r.DeviceID)
	fmt.Printf("Client Seq:  %d\n", r.ClientSeq)
	fmt.Printf("Status:      %s\n", statusLabel(r.Status))
	if r.Reason != "" {
		fmt.Printf("Reason:      %s\n", r.Reason)
	}
	if r.ServerSeq > 0 {
		fmt.Printf("Server Seq:  %d\n", r.ServerSeq)
	}
	if r.Location != nil {
		fmt.Printf("Location:    %.5f, %.5f (±%.0fm)\n", r.Location.Lat, r.Location.Lon, r.Location.AccuracyM)
	}
	fmt.Printf("Captured At: %s\n", r.CapturedAt.Local().Format("2006-01-02 15:04:05"))
	if e.AttemptCount > 0 {
		fmt.Printf("Attempts:    %d\n", e.AttemptCount)
	}
	if e.NextRetryAt != nil {
		fmt.Printf("Next Retry:  %s\n", e.NextRetryAt.Local().Format("2006-01-02 15:04:05"))
	}
	if e.LastError != "" {
		fmt.Printf("Last Error:  %s\n", e.LastError)
	}
}

func printEntryTable(entries []*model.QueueEntry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEVENT\tSEQ\tSTATUS\tREASON\tCAPTURED")
	for _, e := range entries {
		r := e.Record
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID,
			r.EventID,
			r.ClientSeq,
			statusLabel(r.Status),
			r.Reason,
			r.CapturedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	w.Flush()
	fmt.Printf("\n%d records\n", len(entries))
}

// statusLabel colors terminal output when stdout is a TTY.
func statusLabel(s model.Status) string {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return s.String()
	}
	switch s {
	case model.StatusConfirmed:
		return "\033[32m" + s.String() + "\033[0m"
	case model.StatusRejected:
		return "\033[31m" + s.String() + "\033[0m"
	case model.StatusConflicted:
		return "\033[33m" + s.String() + "\033[0m"
	default:
		return s.String()
	}
}
