package audit

import (
	"context"
	"errors"
	"time"
)

// ComplianceMetrics summarizes pipeline-level compliance posture for a
// reporting period.
type ComplianceMetrics struct {
	ConsentedEvents   int  `json:"consentedEvents"`
	DataMinimization  bool `json:"dataMinimization"`
	EncryptionEnabled bool `json:"encryptionEnabled"`
}

// Report aggregates audit activity over a period for compliance reviews.
type Report struct {
	PeriodStart     time.Time         `json:"periodStart"`
	PeriodEnd       time.Time         `json:"periodEnd"`
	TotalEvents     int               `json:"totalEvents"`
	EventsByType    map[string]int    `json:"eventsByType"`
	UsersByProvider map[string]int    `json:"usersByProvider"`
	Compliance      ComplianceMetrics `json:"compliance"`
	GeneratedAt     time.Time         `json:"generatedAt"`
}

// ErrReportingUnsupported indicates the configured store cannot serve period
// queries.
var ErrReportingUnsupported = errors.New("audit: store does not support period queries")

// BuildReport aggregates events between from and to (inclusive). Requires a
// store implementing PeriodLister.
func (p *Pipeline) BuildReport(ctx context.Context, from, to time.Time) (Report, error) {
	lister, ok := p.store.(PeriodLister)
	if !ok {
		return Report{}, ErrReportingUnsupported
	}
	events, err := lister.ListByPeriod(ctx, from, to)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		PeriodStart:     from,
		PeriodEnd:       to,
		TotalEvents:     len(events),
		EventsByType:    make(map[string]int),
		UsersByProvider: make(map[string]int),
		Compliance: ComplianceMetrics{
			DataMinimization:  p.cfg.DataMinimization,
			EncryptionEnabled: p.cipher != nil,
		},
		GeneratedAt: p.now().UTC(),
	}

	providerUsers := make(map[string]map[string]struct{})
	for _, e := range events {
		report.EventsByType[string(e.Type)]++
		if e.Provider != "" && e.UserID != "" {
			if providerUsers[e.Provider] == nil {
				providerUsers[e.Provider] = make(map[string]struct{})
			}
			providerUsers[e.Provider][e.UserID] = struct{}{}
		}
		if consent, ok := e.Metadata["consentGiven"].(bool); ok && consent {
			report.Compliance.ConsentedEvents++
		}
	}
	for provider, users := range providerUsers {
		report.UsersByProvider[provider] = len(users)
	}
	return report, nil
}
