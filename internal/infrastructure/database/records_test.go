package database

import (
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
)

func TestRecordReader_AddressRow(t *testing.T) {
	seen := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	row := readRecord(&neo4j.Record{
		Keys:   []string{"address", "riskScore", "tags", "firstSeen", "lastSeen", "transactionCount"},
		Values: []any{"0xabc", int64(1), []any{"blacklist", 7, "mixer"}, seen, neo4j.LocalDateTime(seen), 12.0},
	})

	assert.Equal(t, "0xabc", row.str("address"))
	assert.Equal(t, 1.0, row.score("riskScore"))
	assert.Equal(t, []string{"blacklist", "mixer"}, row.tags("tags"))
	assert.Equal(t, seen.UTC(), row.seen("firstSeen"))
	assert.Equal(t, time.UTC, row.seen("lastSeen").Location())
	assert.Equal(t, int64(12), row.int("transactionCount"))
}

func TestRecordReader_MissingAndNullColumns(t *testing.T) {
	row := readRecord(&neo4j.Record{
		Keys:   []string{"toAddress", "metadata", "firstSeen"},
		Values: []any{nil, 42, "not a time"},
	})

	assert.Empty(t, row.str("toAddress"))
	assert.Empty(t, row.str("metadata"))
	assert.Empty(t, row.str("methodName"))
	assert.Zero(t, row.int("chainId"))
	assert.Zero(t, row.score("riskScore"))
	assert.True(t, row.seen("firstSeen").IsZero())
	assert.Nil(t, row.tags("tags"))
	assert.Empty(t, readRecord(nil).str("address"))
}
