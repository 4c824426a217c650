// Package watchlist loads the static risk reference table and serves
// lookups against it.
//
// The table is loaded once at startup and is read-only for the process
// lifetime: concurrent lookups need no locking.
package watchlist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sentinelhq/sentinel/internal/metrics"
)

// Entry is one row of the reference table.
type Entry struct {
	EntityID  string `json:"entity_id"`
	RiskLevel string `json:"risk_level"`
	Notes     string `json:"notes"`
}

// Flagged reports whether the entry carries a meaningful risk level.
// Empty and "None" are semantically equivalent to "not flagged".
func (e *Entry) Flagged() bool {
	if e == nil {
		return false
	}
	return e.RiskLevel != "" && e.RiskLevel != "None"
}

// Table is the loaded reference set keyed by entity ID.
type Table struct {
	entries map[string]Entry
	// Duplicates lists entity IDs that appeared more than once in the
	// source. The first occurrence wins; duplicates are a data-quality
	// problem surfaced at load time, never resolved per lookup.
	Duplicates []string
}

// Load reads the reference table from a CSV file. The file must exist
// (checked at startup by config validation); an unreadable file is a fatal
// configuration error.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("watchlist: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	table, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("watchlist: load %s: %w", path, err)
	}
	return table, nil
}

// Parse reads reference rows (entity_id, risk_level, notes) from r.
func Parse(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	table := &Table{entries: make(map[string]Entry)}
	seen := make(map[string]bool)

	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read reference row: %w", err)
		}
		if len(fields) == 0 {
			continue
		}

		id := strings.TrimSpace(fields[0])
		if id == "" || strings.EqualFold(id, "entity_id") {
			continue // blank row or header
		}

		if seen[id] {
			table.Duplicates = append(table.Duplicates, id)
			continue // first loaded row wins
		}
		seen[id] = true

		e := Entry{EntityID: id}
		if len(fields) > 1 {
			e.RiskLevel = strings.TrimSpace(fields[1])
		}
		if len(fields) > 2 {
			e.Notes = strings.TrimSpace(fields[2])
		}
		table.entries[id] = e
	}

	metrics.WatchlistEntries.Set(float64(len(table.entries)))
	return table, nil
}

// Lookup returns the entry for an entity ID, or nil when the entity is not
// on the watchlist. This is the right side of the pipeline's left join.
func (t *Table) Lookup(entityID string) *Entry {
	e, ok := t.entries[entityID]
	if !ok {
		return nil
	}
	return &e
}

// Len returns the number of loaded entries.
func (t *Table) Len() int {
	return len(t.entries)
}
