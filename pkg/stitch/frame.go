package stitch

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Row is one record of a range slice. The frame abstraction is defined on
// row-object arrays per the stitch contract; columnar storage is an
// implementation detail left to the adapter, not surfaced here.
type Row = map[string]any

// ParseRows decodes a slice's Data field into a row frame.
func ParseRows(data string) ([]Row, error) {
	if data == "" {
		return nil, nil
	}
	var rows []Row
	if err := json.Unmarshal([]byte(data), &rows); err != nil {
		return nil, fmt.Errorf("stitch: decode row frame: %w", err)
	}
	return rows, nil
}

// SerializeRows is the inverse of ParseRows.
func SerializeRows(rows []Row) (string, error) {
	if rows == nil {
		rows = []Row{}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("stitch: encode row frame: %w", err)
	}
	return string(b), nil
}

// timeKeyValue extracts the designated time column as an int64, tolerating
// the JSON-decoded float64 representation.
func timeKeyValue(row Row, timeKey string) (int64, bool) {
	v, ok := row[timeKey]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// unionColumns collects the set of column names present anywhere across
// frames, so rows from frames with different shapes can be reconciled to a
// common schema.
func unionColumns(frames [][]Row) map[string]struct{} {
	columns := make(map[string]struct{})
	for _, frame := range frames {
		for _, row := range frame {
			for k := range row {
				columns[k] = struct{}{}
			}
		}
	}
	return columns
}

// alignSchema returns a copy of row carrying every column in columns,
// filling any column absent from row with null.
func alignSchema(row Row, columns map[string]struct{}) Row {
	aligned := make(Row, len(columns))
	for k := range columns {
		aligned[k] = row[k]
	}
	return aligned
}

// mergeFrames concatenates frames in the given order (cached overlaps
// first, then newly-fetched gap frames, so cached rows shadow), aligns
// every row to the union of all columns across frames (filling missing
// columns with null), drops duplicate time keys keeping the first
// occurrence, filters to [f, t), and sorts by the time column (step 6,
// "merge frames").
func mergeFrames(frames [][]Row, timeKey string, f, t int64) []Row {
	columns := unionColumns(frames)

	seen := make(map[int64]bool)
	var out []Row

	for _, frame := range frames {
		for _, row := range frame {
			key, ok := timeKeyValue(row, timeKey)
			if !ok || key < f || key >= t {
				continue
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, alignSchema(row, columns))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		ki, _ := timeKeyValue(out[i], timeKey)
		kj, _ := timeKeyValue(out[j], timeKey)
		return ki < kj
	})
	return out
}
