// Package ledger implements the tamper-evident audit trail: an
// append-only, hash-chained log of every compliance-relevant action.
//
//   - Each entry carries an HMAC-SHA256 content hash that commits to the
//     entry's own fields and to the hash of the entry before it
//   - A second, independently keyed BLAKE2b-512 signature covers the hash
//   - Entries are immutable once appended; the chain only grows at the tail
//   - Retroactive edits, deletions, insertions, and reordering of history
//     are detectable on replay (see Verify)
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidEntry is returned when an append is rejected before hashing.
	ErrInvalidEntry = errors.New("ledger: invalid entry")
	// ErrNotFound is returned when an entry index is out of range.
	ErrNotFound = errors.New("ledger: entry not found")
	// ErrStorage marks genuine storage faults beneath the ledger, as
	// opposed to verification findings, which are data.
	ErrStorage = errors.New("ledger: storage fault")
	// ErrKeyMaterial is returned for unusable hash or signing keys.
	ErrKeyMaterial = errors.New("ledger: bad key material")
)

// Category classifies the compliance domain of an entry.
type Category string

const (
	CategorySecurity         Category = "security"
	CategoryAuthentication   Category = "authentication"
	CategoryAuthorization    Category = "authorization"
	CategoryDataModification Category = "data_modification"
	CategoryConfiguration    Category = "configuration"
	CategoryCompliance       Category = "compliance"
	CategorySystem           Category = "system"
)

// Severity grades an entry. The total order, most severe first, is
// critical, error, warning, info.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// severityRank fixes the sort order; higher is more severe.
var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityError:    3,
	SeverityWarning:  2,
	SeverityInfo:     1,
}

// Outcome records how the audited action ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// RequestContext carries the forensic request metadata for an entry.
type RequestContext struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Entry is a single immutable record in the audit trail. The store owns
// all entries exclusively; read paths hand out copies.
type Entry struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	ActorID       string          `json:"actor_id"`
	ActorName     string          `json:"actor_name,omitempty"`
	Action        string          `json:"action"`
	ResourceType  string          `json:"resource_type"`
	ResourceID    string          `json:"resource_id"`
	ResourceName  string          `json:"resource_name,omitempty"`
	Description   string          `json:"description,omitempty"`
	Category      Category        `json:"category"`
	Severity      Severity        `json:"severity"`
	Outcome       Outcome         `json:"outcome"`
	Compliance    bool            `json:"compliance"`
	PreviousValue json.RawMessage `json:"previous_value,omitempty"`
	NewValue      json.RawMessage `json:"new_value,omitempty"`
	IPAddress     string          `json:"ip_address,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Hash          string          `json:"hash"`
	PreviousHash  string          `json:"previous_hash"`
	Signature     string          `json:"signature"`
}

// Record is the caller-supplied input to Append. Hash, signature, and
// identifier assignment are the ledger's concern; callers never see or
// manage them.
type Record struct {
	ActorID       string
	ActorName     string
	Action        string
	ResourceType  string
	ResourceID    string
	ResourceName  string
	Description   string
	Category      Category
	Severity      Severity
	Outcome       Outcome
	Compliance    bool
	PreviousValue json.RawMessage
	NewValue      json.RawMessage
	Context       RequestContext

	// Timestamp is optional and supports backfill. Zero means the
	// ledger clock is used. Backfilled timestamps are hashed like any
	// other field.
	Timestamp time.Time
}

func (r Record) validate() error {
	switch {
	case r.ActorID == "":
		return fmt.Errorf("%w: actor_id is required", ErrInvalidEntry)
	case r.Action == "":
		return fmt.Errorf("%w: action is required", ErrInvalidEntry)
	case r.ResourceType == "":
		return fmt.Errorf("%w: resource_type is required", ErrInvalidEntry)
	case r.ResourceID == "":
		return fmt.Errorf("%w: resource_id is required", ErrInvalidEntry)
	}
	if r.Severity != "" && severityRank[r.Severity] == 0 {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidEntry, r.Severity)
	}
	if len(r.PreviousValue) > 0 && !json.Valid(r.PreviousValue) {
		return fmt.Errorf("%w: previous_value is not valid JSON", ErrInvalidEntry)
	}
	if len(r.NewValue) > 0 && !json.Valid(r.NewValue) {
		return fmt.Errorf("%w: new_value is not valid JSON", ErrInvalidEntry)
	}
	return nil
}
