package ledger

import (
	"sort"
	"time"
)

const (
	// RecentWindow is the trailing window for recent activity.
	RecentWindow = 24 * time.Hour
	// RecentLimit caps the recent-activity list.
	RecentLimit = 20
	// AlertLimit caps the security-alert list.
	AlertLimit = 10
	// TopActorLimit caps the most-active-actor list.
	TopActorLimit = 10
)

// ActorActivity counts entries for one actor.
type ActorActivity struct {
	ActorID string `json:"actor_id"`
	Count   int    `json:"count"`
}

// Summary is the dashboard-oriented aggregation over the trail. Group
// counts are exact partitions of the entry set: each map's values sum to
// Total. All collections are non-nil, so an empty store summarizes to
// zeroed counts and empty lists.
type Summary struct {
	Total          int              `json:"total"`
	ByCategory     map[Category]int `json:"by_category"`
	BySeverity     map[Severity]int `json:"by_severity"`
	ByOutcome      map[Outcome]int  `json:"by_outcome"`
	ByResourceType map[string]int   `json:"by_resource_type"`

	// TopActors is ordered by count descending, ties by actor id
	// ascending for determinism.
	TopActors []ActorActivity `json:"top_actors"`

	// RecentActivity holds entries within RecentWindow of now, newest
	// first, capped at RecentLimit.
	RecentActivity []Entry `json:"recent_activity"`

	// SecurityAlerts holds security-related entries of severity warning
	// or above, newest first, capped at AlertLimit.
	SecurityAlerts []Entry `json:"security_alerts"`

	// ComplianceCount counts entries flagged compliance-relevant.
	ComplianceCount int `json:"compliance_count"`
}

// securityRelated reports whether a category feeds the alert list.
func securityRelated(c Category) bool {
	switch c {
	case CategorySecurity, CategoryAuthentication, CategoryAuthorization:
		return true
	}
	return false
}

// Summarize aggregates a snapshot of the trail taken at call time.
func (l *Ledger) Summarize() Summary {
	entries := l.snapshot()
	now := l.clock()

	s := Summary{
		ByCategory:     make(map[Category]int),
		BySeverity:     make(map[Severity]int),
		ByOutcome:      make(map[Outcome]int),
		ByResourceType: make(map[string]int),
		TopActors:      make([]ActorActivity, 0),
		RecentActivity: make([]Entry, 0),
		SecurityAlerts: make([]Entry, 0),
	}

	byActor := make(map[string]int)
	recent := make([]*Entry, 0)
	alerts := make([]*Entry, 0)
	cutoff := now.Add(-RecentWindow)

	for _, e := range entries {
		s.Total++
		s.ByCategory[e.Category]++
		s.BySeverity[e.Severity]++
		s.ByOutcome[e.Outcome]++
		s.ByResourceType[e.ResourceType]++
		byActor[e.ActorID]++
		if e.Compliance {
			s.ComplianceCount++
		}
		if !e.Timestamp.Before(cutoff) && !e.Timestamp.After(now) {
			recent = append(recent, e)
		}
		if securityRelated(e.Category) && severityRank[e.Severity] >= severityRank[SeverityWarning] {
			alerts = append(alerts, e)
		}
	}

	for actor, count := range byActor {
		s.TopActors = append(s.TopActors, ActorActivity{ActorID: actor, Count: count})
	}
	sort.Slice(s.TopActors, func(i, j int) bool {
		if s.TopActors[i].Count != s.TopActors[j].Count {
			return s.TopActors[i].Count > s.TopActors[j].Count
		}
		return s.TopActors[i].ActorID < s.TopActors[j].ActorID
	})
	if len(s.TopActors) > TopActorLimit {
		s.TopActors = s.TopActors[:TopActorLimit]
	}

	s.RecentActivity = newestFirst(recent, RecentLimit)
	s.SecurityAlerts = newestFirst(alerts, AlertLimit)
	return s
}

func newestFirst(entries []*Entry, limit int) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[j].Timestamp.Before(entries[i].Timestamp)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = *e
	}
	return out
}

// retention policy in days by category; compliance-flagged entries
// always keep the longest schedule.
const (
	retentionCompliance = 2555
	retentionSecurity   = 365
	retentionDataChange = 730
	retentionConfig     = 365
	retentionDefault    = 90
)

// RetentionDays returns how long an entry must be retained. It only
// labels entries; archival and purge scheduling belong to the
// collaborator that owns durable storage.
func RetentionDays(c Category, compliance bool) int {
	if compliance || c == CategoryCompliance {
		return retentionCompliance
	}
	switch c {
	case CategorySecurity, CategoryAuthentication, CategoryAuthorization:
		return retentionSecurity
	case CategoryDataModification:
		return retentionDataChange
	case CategoryConfiguration:
		return retentionConfig
	default:
		return retentionDefault
	}
}
