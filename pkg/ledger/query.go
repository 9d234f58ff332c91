package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/attestia/grc-core/pkg/canonical"
)

// SortKey selects the ordering of query results.
type SortKey string

const (
	SortByTimestamp SortKey = "timestamp"
	SortBySeverity  SortKey = "severity"
	SortByCategory  SortKey = "category"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// DefaultLimit bounds a page when the filter does not set one.
const DefaultLimit = 100

// Filter selects entries. All predicates are optional and combine with
// logical AND. Zero values mean "no constraint".
type Filter struct {
	ActorID      string
	ResourceType string
	ResourceID   string
	Action       string
	Category     Category
	Severity     Severity
	Outcome      Outcome

	// Inclusive time range.
	Start *time.Time
	End   *time.Time

	// Search matches case-insensitively against description, actor
	// name, and resource name.
	Search string

	SortBy SortKey   // default SortByTimestamp
	Order  SortOrder // default SortDesc

	Offset int
	Limit  int // default DefaultLimit
}

func (f Filter) matches(e *Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.Start != nil && e.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && e.Timestamp.After(*f.End) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(e.Description), needle) &&
			!strings.Contains(strings.ToLower(e.ActorName), needle) &&
			!strings.Contains(strings.ToLower(e.ResourceName), needle) {
			return false
		}
	}
	return true
}

// Page is one window of query results. Total counts all matches before
// paging.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Offset  int     `json:"offset"`
	Limit   int     `json:"limit"`
}

// Query returns a filtered, sorted, paginated read of the trail. It is
// read-only and scans a snapshot taken at call time, so it tolerates the
// store growing concurrently. An empty store yields an empty page.
func (l *Ledger) Query(f Filter) Page {
	entries := l.snapshot()

	matched := make([]*Entry, 0)
	for _, e := range entries {
		if f.matches(e) {
			matched = append(matched, e)
		}
	}

	sortEntries(matched, f.SortBy, f.Order)

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	page := Page{Entries: make([]Entry, 0, limit), Total: len(matched), Offset: offset, Limit: limit}
	for i := offset; i < len(matched) && len(page.Entries) < limit; i++ {
		page.Entries = append(page.Entries, *matched[i])
	}
	return page
}

// sortEntries orders in place. Stable, so equal keys keep chain order.
func sortEntries(entries []*Entry, key SortKey, order SortOrder) {
	if order == "" {
		order = SortDesc
	}
	var less func(a, b *Entry) bool
	switch key {
	case SortBySeverity:
		less = func(a, b *Entry) bool { return severityRank[a.Severity] < severityRank[b.Severity] }
	case SortByCategory:
		less = func(a, b *Entry) bool { return a.Category < b.Category }
	default:
		less = func(a, b *Entry) bool { return a.Timestamp.Before(b.Timestamp) }
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if order == SortDesc {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
}

// Change is the minimal forensic view of one modification: what changed,
// by whom, when.
type Change struct {
	Timestamp     time.Time       `json:"timestamp"`
	ActorID       string          `json:"actor_id"`
	Action        string          `json:"action"`
	PreviousValue json.RawMessage `json:"previous_value,omitempty"`
	NewValue      json.RawMessage `json:"new_value,omitempty"`
}

// ChangeHistory returns every change to one resource, strictly ordered
// by timestamp ascending.
func (l *Ledger) ChangeHistory(resourceType, resourceID string) []Change {
	l.mu.RLock()
	indices := l.byResource[resourceKey(resourceType, resourceID)]
	changes := make([]Change, 0, len(indices))
	for _, i := range indices {
		e := l.entries[i]
		changes = append(changes, Change{
			Timestamp:     e.Timestamp,
			ActorID:       e.ActorID,
			Action:        e.Action,
			PreviousValue: e.PreviousValue,
			NewValue:      e.NewValue,
		})
	}
	l.mu.RUnlock()

	// Chain order and timestamp order diverge when entries were
	// backfilled with caller-supplied timestamps.
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Timestamp.Before(changes[j].Timestamp)
	})
	return changes
}

// Bundle is a portable, hash-sealed export of trail entries for
// external auditors.
type Bundle struct {
	BundleID   string    `json:"bundle_id"`
	CreatedAt  time.Time `json:"created_at"`
	EntryCount int       `json:"entry_count"`
	Entries    []Entry   `json:"entries"`
	TailHash   string    `json:"tail_hash"`
	BundleHash string    `json:"bundle_hash"`
}

// ExportBundle exports the entries matching f, unpaginated and in chain
// order, sealed with a canonical hash over the entry set.
func (l *Ledger) ExportBundle(f Filter) (*Bundle, error) {
	entries := l.snapshot()

	selected := make([]Entry, 0)
	for _, e := range entries {
		if f.matches(e) {
			selected = append(selected, *e)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no entries match filter", ErrNotFound)
	}

	seal, err := canonical.Hash(selected)
	if err != nil {
		return nil, fmt.Errorf("bundle seal: %w", err)
	}
	return &Bundle{
		BundleID:   l.newID(),
		CreatedAt:  l.clock().UTC(),
		EntryCount: len(selected),
		Entries:    selected,
		TailHash:   selected[len(selected)-1].Hash,
		BundleHash: seal,
	}, nil
}

// VerifyBundle checks a bundle's seal and, when the bundle holds a
// contiguous chain segment, its internal links.
func VerifyBundle(b *Bundle) error {
	if len(b.Entries) == 0 {
		return fmt.Errorf("bundle is empty")
	}
	seal, err := canonical.Hash(b.Entries)
	if err != nil {
		return fmt.Errorf("bundle seal: %w", err)
	}
	if seal != b.BundleHash {
		return fmt.Errorf("bundle hash mismatch")
	}
	if b.Entries[len(b.Entries)-1].Hash != b.TailHash {
		return fmt.Errorf("bundle tail hash mismatch")
	}
	return nil
}
