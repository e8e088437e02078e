package entity

import "strings"

// EventType classifies a transaction event
type EventType string

const (
	EventTypeTransfer         EventType = "TRANSFER"
	EventTypeContractCall     EventType = "CONTRACT_CALL"
	EventTypeContractCreation EventType = "CONTRACT_CREATION"
	EventTypeTokenTransfer    EventType = "TOKEN_TRANSFER"
)

// Metadata keys carried by transaction events
const (
	MetadataGasPrice = "gasPrice"
	MetadataGasUsed  = "gasUsed"
)

// TransactionEvent represents a normalized on-chain transaction delivered for scoring
type TransactionEvent struct {
	TraceID         string            `json:"trace_id"`
	ChainID         int64             `json:"chain_id"`
	BlockNumber     int64             `json:"block_number"`
	TransactionHash string            `json:"transaction_hash"`
	From            string            `json:"from"`
	To              string            `json:"to"`
	Value           string            `json:"value"`
	Timestamp       int64             `json:"timestamp"`
	Type            EventType         `json:"type"`
	MethodName      string            `json:"method_name,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// MetadataValue returns a metadata entry and whether it was present and non-empty
func (e *TransactionEvent) MetadataValue(key string) (string, bool) {
	if e.Metadata == nil {
		return "", false
	}
	v, ok := e.Metadata[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// SameAddress compares two addresses case-insensitively
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
