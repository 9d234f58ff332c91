package ledger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ledgerMetrics publishes counters on the OTel metric API. Hosts that
// install no meter provider get the API's no-op implementation.
type ledgerMetrics struct {
	appends  metric.Int64Counter
	scans    metric.Int64Counter
	findings metric.Int64Counter
}

func newLedgerMetrics() *ledgerMetrics {
	meter := otel.Meter("github.com/attestia/grc-core/pkg/ledger")

	appends, _ := meter.Int64Counter("audit_ledger.appends",
		metric.WithDescription("Entries committed to the audit trail"))
	scans, _ := meter.Int64Counter("audit_ledger.verify_entries",
		metric.WithDescription("Entries examined by integrity scans"))
	findings, _ := meter.Int64Counter("audit_ledger.tamper_findings",
		metric.WithDescription("Integrity violations found, by reason"))

	return &ledgerMetrics{appends: appends, scans: scans, findings: findings}
}

func (m *ledgerMetrics) appended(ctx context.Context) {
	m.appends.Add(ctx, 1)
}

func (m *ledgerMetrics) scanned(ctx context.Context, res Result) {
	m.scans.Add(ctx, int64(res.Checked))
	if !res.Valid {
		m.findings.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", string(res.Reason))))
	}
}
