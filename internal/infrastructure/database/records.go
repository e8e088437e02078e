package database

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// recordReader reads the projected columns of an Event or Address row.
// Missing, null, or mistyped columns read as the zero value.
type recordReader struct {
	record *neo4j.Record
}

func readRecord(record *neo4j.Record) recordReader {
	return recordReader{record: record}
}

func (r recordReader) value(key string) any {
	if r.record == nil {
		return nil
	}
	val, _ := r.record.Get(key)
	return val
}

func (r recordReader) str(key string) string {
	s, _ := r.value(key).(string)
	return s
}

// int reads chain ids, block numbers, unix timestamps and counters, which
// Cypher returns as int64 unless a float slipped in through arithmetic
func (r recordReader) int(key string) int64 {
	switch v := r.value(key).(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func (r recordReader) score(key string) float64 {
	switch v := r.value(key).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// seen reads firstSeen / lastSeen, which RecordActivity stores as a zoned DateTime
func (r recordReader) seen(key string) time.Time {
	switch v := r.value(key).(type) {
	case time.Time:
		return v.UTC()
	case neo4j.LocalDateTime:
		return v.Time().UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

// tags reads a list property; non-string elements are skipped
func (r recordReader) tags(key string) []string {
	items, ok := r.value(key).([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
