package ledger

import (
	"encoding/json"
	"time"

	"github.com/attestia/grc-core/pkg/canonical"
)

// preimage is the exact field set committed to by an entry's hash, in
// the externally documented serialization: every stored field except the
// hash and signature themselves. Classification fields (category,
// severity, outcome, compliance) are covered so history cannot be
// reclassified after the fact. The canonical form is RFC 8785 JSON, so
// the byte layout is fixed by the field names below and independent
// auditors can recompute hashes from stored entries plus the hash key.
// Timestamps serialize as RFC 3339 nanoseconds in UTC. Absent snapshots
// serialize as null.
type preimage struct {
	ID            string          `json:"id"`
	Timestamp     string          `json:"timestamp"`
	ActorID       string          `json:"actor_id"`
	ActorName     string          `json:"actor_name"`
	Action        string          `json:"action"`
	ResourceType  string          `json:"resource_type"`
	ResourceID    string          `json:"resource_id"`
	ResourceName  string          `json:"resource_name"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	Severity      string          `json:"severity"`
	Outcome       string          `json:"outcome"`
	Compliance    bool            `json:"compliance"`
	PreviousValue json.RawMessage `json:"previous_value"`
	NewValue      json.RawMessage `json:"new_value"`
	IPAddress     string          `json:"ip_address"`
	UserAgent     string          `json:"user_agent"`
	SessionID     string          `json:"session_id"`
	PreviousHash  string          `json:"previous_hash"`
}

// canonicalBytes returns the canonical hash input for e, including its
// stored PreviousHash.
func canonicalBytes(e *Entry) ([]byte, error) {
	return canonical.Bytes(preimage{
		ID:            e.ID,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		ActorID:       e.ActorID,
		ActorName:     e.ActorName,
		Action:        e.Action,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		ResourceName:  e.ResourceName,
		Description:   e.Description,
		Category:      string(e.Category),
		Severity:      string(e.Severity),
		Outcome:       string(e.Outcome),
		Compliance:    e.Compliance,
		PreviousValue: e.PreviousValue,
		NewValue:      e.NewValue,
		IPAddress:     e.IPAddress,
		UserAgent:     e.UserAgent,
		SessionID:     e.SessionID,
		PreviousHash:  e.PreviousHash,
	})
}
