package tracking

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// Export is the JSON snapshot shape. Round-trips through ImportJSON.
type Export struct {
	Metadata   ExportMetadata     `json:"metadata"`
	ByModel    map[string]float64 `json:"by_model"`
	ByProvider map[string]float64 `json:"by_provider"`
	Entries    []CostEntry        `json:"entries"`
}

type ExportMetadata struct {
	TotalCost    float64   `json:"total_cost"`
	TotalEntries int       `json:"total_entries"`
	ExportedAt   time.Time `json:"exported_at"`
}

var csvHeader = []string{"timestamp", "model", "provider", "tokens", "cost", "user_id", "user_tier", "query_id"}

// ExportJSON writes the full ledger snapshot to path.
func (t *Tracker) ExportJSON(path string) error {
	entries, byModel, byProvider, total := t.Snapshot()
	export := Export{
		Metadata: ExportMetadata{
			TotalCost:    total,
			TotalEntries: len(entries),
			ExportedAt:   t.now(),
		},
		ByModel:    byModel,
		ByProvider: byProvider,
		Entries:    entries,
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// ImportJSON replays an exported ledger into a fresh tracker, rebuilding
// aggregates from the entries so totals stay self-consistent.
func (t *Tracker) ImportJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}
	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return fmt.Errorf("failed to parse export: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entry := range export.Entries {
		t.entries = append(t.entries, entry)
		t.totalCost += entry.Cost
		t.byModel[entry.Model] += entry.Cost
		t.byProvider[entry.Provider] += entry.Cost
	}
	return nil
}

// ExportCSV writes one row per ledger entry.
func (t *Tracker) ExportCSV(path string) error {
	entries, _, _, _ := t.Snapshot()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			e.Timestamp.Format(time.RFC3339Nano),
			e.Model,
			e.Provider,
			strconv.Itoa(e.Tokens),
			strconv.FormatFloat(e.Cost, 'f', -1, 64),
			e.UserID,
			e.UserTier,
			e.QueryID,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// ExportSQLite writes the ledger into a single cost_entries table.
func (t *Tracker) ExportSQLite(path string) error {
	entries, _, _, _ := t.Snapshot()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite: %w", err)
	}
	defer db.Close()

	const schema = `CREATE TABLE IF NOT EXISTS cost_entries (
		timestamp TEXT NOT NULL,
		model     TEXT NOT NULL,
		provider  TEXT NOT NULL,
		tokens    INTEGER NOT NULL,
		cost      REAL NOT NULL,
		user_id   TEXT,
		user_tier TEXT,
		query_id  TEXT,
		metadata  TEXT
	)`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO cost_entries
		(timestamp, model, provider, tokens, cost, user_id, user_tier, query_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var meta []byte
		if e.Metadata != nil {
			meta, _ = json.Marshal(e.Metadata)
		}
		if _, err := stmt.Exec(
			e.Timestamp.Format(time.RFC3339Nano),
			e.Model, e.Provider, e.Tokens, e.Cost,
			e.UserID, e.UserTier, e.QueryID, string(meta),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert entry: %w", err)
		}
	}
	return tx.Commit()
}
