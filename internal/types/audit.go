package types

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ZeroHash is the prev_hash of the first audit event in every project chain.
var ZeroHash = strings.Repeat("0", 64)

// CanonicalEventData renders event data deterministically for hashing.
// encoding/json sorts map keys, which is the canonical order here.
func CanonicalEventData(data map[string]string) string {
	if len(data) == 0 {
		return "{}"
	}
	b, err := json.Marshal(data)
	if err != nil {
		// map[string]string cannot fail to marshal
		panic(err)
	}
	return string(b)
}

// ComputeAuditHash derives the chain hash for one audit event:
// digest(prev_hash || canonical(event_data) || timestamp || event_type).
func ComputeAuditHash(prevHash string, data map[string]string, createdAt time.Time, eventType string) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte{0})
	h.Write([]byte(CanonicalEventData(data)))
	h.Write([]byte{0})
	h.Write([]byte(createdAt.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(eventType))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Verify recomputes the event's hash against its stored fields.
func (e *AuditEvent) Verify() bool {
	return e.CurrentHash == ComputeAuditHash(e.PrevHash, e.EventData, e.CreatedAt, e.EventType)
}
