package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeEmptyStore(t *testing.T) {
	l := testLedger(t)
	s := l.Summarize()

	assert.Equal(t, 0, s.Total)
	assert.NotNil(t, s.ByCategory)
	assert.NotNil(t, s.BySeverity)
	assert.NotNil(t, s.ByOutcome)
	assert.NotNil(t, s.ByResourceType)
	assert.Empty(t, s.TopActors)
	assert.Empty(t, s.RecentActivity)
	assert.Empty(t, s.SecurityAlerts)
	assert.Equal(t, 0, s.ComplianceCount)
}

func TestSummarizePartitionsSumToTotal(t *testing.T) {
	l := testLedger(t)
	cats := []Category{CategorySecurity, CategoryCompliance, CategorySystem, CategoryDataModification}
	sevs := []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}
	outs := []Outcome{OutcomeSuccess, OutcomeFailure, OutcomeDenied}

	for i := 0; i < 24; i++ {
		r := rec(fmt.Sprintf("user-%d", i%5), "UPDATE", fmt.Sprintf("type-%d", i%3), fmt.Sprintf("res-%d", i))
		r.Category = cats[i%len(cats)]
		r.Severity = sevs[i%len(sevs)]
		r.Outcome = outs[i%len(outs)]
		r.Compliance = i%4 == 0
		mustAppend(t, l, r)
	}

	s := l.Summarize()
	assert.Equal(t, 24, s.Total)

	sum := func(m map[Category]int) int {
		n := 0
		for _, v := range m {
			n += v
		}
		return n
	}
	assert.Equal(t, 24, sum(s.ByCategory))

	n := 0
	for _, v := range s.BySeverity {
		n += v
	}
	assert.Equal(t, 24, n)

	n = 0
	for _, v := range s.ByOutcome {
		n += v
	}
	assert.Equal(t, 24, n)

	n = 0
	for _, v := range s.ByResourceType {
		n += v
	}
	assert.Equal(t, 24, n)

	assert.Equal(t, 6, s.ComplianceCount)
}

func TestSummarizeTopActorsDeterministicTies(t *testing.T) {
	l := testLedger(t)
	// user-b and user-a tie on 2; user-c leads with 3.
	for _, actor := range []string{"user-c", "user-b", "user-a", "user-c", "user-b", "user-a", "user-c"} {
		mustAppend(t, l, rec(actor, "UPDATE", "risk", "r-1"))
	}

	s := l.Summarize()
	require.Len(t, s.TopActors, 3)
	assert.Equal(t, ActorActivity{ActorID: "user-c", Count: 3}, s.TopActors[0])
	assert.Equal(t, ActorActivity{ActorID: "user-a", Count: 2}, s.TopActors[1], "ties break by actor id ascending")
	assert.Equal(t, ActorActivity{ActorID: "user-b", Count: 2}, s.TopActors[2])
}

func TestSummarizeRecentActivityWindow(t *testing.T) {
	l := testLedger(t)

	old := rec("user-1", "UPDATE", "risk", "r-old")
	old.Timestamp = testOrigin.Add(-48 * time.Hour)
	mustAppend(t, l, old)

	fresh := rec("user-1", "UPDATE", "risk", "r-new")
	fresh.Timestamp = testOrigin.Add(-time.Hour)
	mustAppend(t, l, fresh)

	fresher := rec("user-1", "UPDATE", "risk", "r-newest")
	fresher.Timestamp = testOrigin.Add(-time.Minute)
	mustAppend(t, l, fresher)

	s := l.Summarize()
	require.Len(t, s.RecentActivity, 2, "only entries inside the trailing window")
	assert.Equal(t, "r-newest", s.RecentActivity[0].ResourceID, "newest first")
	assert.Equal(t, "r-new", s.RecentActivity[1].ResourceID)
}

func TestSummarizeRecentActivityCap(t *testing.T) {
	l := testLedger(t)
	for i := 0; i < RecentLimit+5; i++ {
		mustAppend(t, l, rec("user-1", "UPDATE", "risk", fmt.Sprintf("r-%d", i)))
	}
	s := l.Summarize()
	assert.Len(t, s.RecentActivity, RecentLimit)
}

func TestSummarizeSecurityAlerts(t *testing.T) {
	l := testLedger(t)

	add := func(c Category, s Severity, id string) {
		r := rec("user-1", "ALERT", "system", id)
		r.Category = c
		r.Severity = s
		mustAppend(t, l, r)
	}
	add(CategorySecurity, SeverityInfo, "s-info")            // below warning: excluded
	add(CategorySecurity, SeverityCritical, "s-crit")        // included
	add(CategoryAuthentication, SeverityWarning, "a-warn")   // included
	add(CategoryAuthorization, SeverityError, "z-err")       // included
	add(CategoryDataModification, SeverityCritical, "d-mod") // not security-related: excluded

	s := l.Summarize()
	require.Len(t, s.SecurityAlerts, 3)
	assert.Equal(t, "z-err", s.SecurityAlerts[0].ResourceID, "newest first")
	for _, e := range s.SecurityAlerts {
		assert.True(t, securityRelated(e.Category))
		assert.GreaterOrEqual(t, severityRank[e.Severity], severityRank[SeverityWarning])
	}
}

func TestRetentionDays(t *testing.T) {
	cases := []struct {
		category   Category
		compliance bool
		want       int
	}{
		{CategoryCompliance, true, 2555},
		{CategoryCompliance, false, 2555},
		{CategorySystem, true, 2555},
		{CategorySecurity, false, 365},
		{CategoryAuthentication, false, 365},
		{CategoryAuthorization, false, 365},
		{CategoryConfiguration, false, 365},
		{CategoryDataModification, false, 730},
		{CategorySystem, false, 90},
		{Category("unknown"), false, 90},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RetentionDays(tc.category, tc.compliance),
			"category=%s compliance=%v", tc.category, tc.compliance)
	}
}
