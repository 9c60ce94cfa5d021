package types

import (
	"testing"
	"time"
)

func chainEvent(prev string, data map[string]string, at time.Time, eventType string) *AuditEvent {
	return &AuditEvent{
		EventType:   eventType,
		CreatedAt:   at,
		EventData:   data,
		PrevHash:    prev,
		CurrentHash: ComputeAuditHash(prev, data, at, eventType),
	}
}

func TestAuditHashDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data := map[string]string{"b": "2", "a": "1"}
	h1 := ComputeAuditHash(ZeroHash, data, at, AuditMemoryCreated)
	h2 := ComputeAuditHash(ZeroHash, map[string]string{"a": "1", "b": "2"}, at, AuditMemoryCreated)
	if h1 != h2 {
		t.Error("hash must not depend on map iteration order")
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestAuditHashSensitivity(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := ComputeAuditHash(ZeroHash, map[string]string{"k": "v"}, at, AuditMemoryCreated)

	if ComputeAuditHash(ZeroHash, map[string]string{"k": "w"}, at, AuditMemoryCreated) == base {
		t.Error("data change must change the hash")
	}
	if ComputeAuditHash(ZeroHash, map[string]string{"k": "v"}, at.Add(time.Second), AuditMemoryCreated) == base {
		t.Error("timestamp change must change the hash")
	}
	if ComputeAuditHash(ZeroHash, map[string]string{"k": "v"}, at, AuditProjectCreated) == base {
		t.Error("event type change must change the hash")
	}
}

func TestAuditEventVerify(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := chainEvent(ZeroHash, map[string]string{"id": "m1"}, at, AuditMemoryCreated)
	if !e.Verify() {
		t.Fatal("freshly built event must verify")
	}

	e.EventData["id"] = "m2"
	if e.Verify() {
		t.Error("tampered event data must fail verification")
	}
}
