package database

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeFormat is how timestamps are stored in TEXT columns. It is fixed width
// so that ORDER BY on the column sorts chronologically.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// InClause returns "?, ?, ?" for len(ids) placeholders together with the
// matching argument list, for use in "WHERE id IN (...)".
// ids must not be empty.
func InClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}

// MaxInClauseIDs bounds the placeholders in one IN list. SQLite caps bound
// variables per statement (999 on older builds), so larger batches are split
// with ChunkIDs.
const MaxInClauseIDs = 500

// ChunkIDs splits ids into consecutive slices of at most size elements.
// The chunks share ids' backing array.
func ChunkIDs(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = MaxInClauseIDs
	}
	chunks := make([][]int64, 0, (len(ids)+size-1)/size)
	for len(ids) > size {
		chunks = append(chunks, ids[:size:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

// DecodeObject parses a stored JSON object column. Numbers are decoded as
// json.Number so large integers are not rounded through float64. An empty
// or "null" value yields an empty map.
func DecodeObject(raw string) (map[string]any, error) {
	out := map[string]any{}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return out, nil
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON object")
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a timestamp written by FormatTime. Any RFC 3339 value is
// accepted, including the second-precision form produced by SQLite's strftime.
func ParseTime(value string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, value)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}
