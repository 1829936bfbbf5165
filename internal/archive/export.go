// Package archive exports settled check-in records for audit retention.
// Terminal records never leave the queue silently; they are written out as
// JSONL before any future compaction could touch them.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/gatepass/internal/queue"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	RecordCount int       `json:"record_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ExportJSONL writes every terminal (confirmed or rejected) entry from the
// queue as JSONL to w, sorted by record ID for stable diffs.
func ExportJSONL(ctx context.Context, s queue.Store, w io.Writer) error {
	entries, err := s.ListTerminal(ctx)
	if err != nil {
		return fmt.Errorf("list terminal records: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Record.ID < entries[j].Record.ID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:     "1",
		Type:        "header",
		Timestamp:   time.Now().UTC(),
		RecordCount: len(entries),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, e := range entries {
		if err := enc.Encode(record{Type: "checkin", Data: e}); err != nil {
			return fmt.Errorf("encode record %s: %w", e.Record.ID, err)
		}
	}

	return nil
}
