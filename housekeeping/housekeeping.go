// Package housekeeping declares the recurring maintenance jobs of the
// backend and the handlers that execute them.
package housekeeping

import (
	"context"
	"time"

	"github.com/quarters-hq/quarters/cron"
)

// Cron job names. Each doubles as the queue routing key its handler is
// registered under.
const (
	JobLeaseExpiryCheck = "lease-expiry-check"
	JobMediaTempCleanup = "media-temp-cleanup"
	JobTrackedJobReport = "tracked-job-report"
)

// Lease is the slice of a lease record the expiry check needs.
type Lease struct {
	ID             string
	TenantID       string
	PropertyName   string
	ResidentUserID string
	EndsAt         time.Time
}

// LeaseSource yields leases ending within a window, soonest first.
type LeaseSource interface {
	ExpiringWithin(ctx context.Context, window time.Duration) ([]Lease, error)
}

// Provider declares the maintenance schedule. The tracked-job report is
// registered disabled; operators enable it when they want the extra
// queue traffic.
type Provider struct{}

// CronJobs implements cron.Provider.
func (Provider) CronJobs() []cron.Job {
	return []cron.Job{
		{
			Name:     JobLeaseExpiryCheck,
			Schedule: "0 0 * * *",
			Handler:  "checkExpiringLeases",
			Service:  "leases",
			Enabled:  true,
			Timeout:  5 * time.Minute,
		},
		{
			Name:     JobMediaTempCleanup,
			Schedule: "0 3 * * *",
			Handler:  "cleanupTempMedia",
			Service:  "media",
			Enabled:  true,
			Timeout:  10 * time.Minute,
		},
		{
			Name:     JobTrackedJobReport,
			Schedule: "*/30 * * * *",
			Handler:  "reportTrackedJobs",
			Service:  "track",
			Enabled:  false,
			Timeout:  time.Minute,
		},
	}
}
