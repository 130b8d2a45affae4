package housekeeping

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/errors"
	"github.com/quarters-hq/quarters/event"
	"github.com/quarters-hq/quarters/queue/sqliteq"
	"github.com/quarters-hq/quarters/track"
)

// DefaultExpiryWindow is how far ahead the lease check looks when the job
// payload does not say otherwise.
const DefaultExpiryWindow = 30 * 24 * time.Hour

// LeaseExpiryHandler finds leases ending soon and notifies their
// residents, plus a per-tenant digest announcement.
type LeaseExpiryHandler struct {
	leases LeaseSource
	bus    *event.Bus
	logger *zap.SugaredLogger
}

// NewLeaseExpiryHandler creates the lease-expiry-check handler.
func NewLeaseExpiryHandler(leases LeaseSource, bus *event.Bus, log *zap.SugaredLogger) *LeaseExpiryHandler {
	return &LeaseExpiryHandler{leases: leases, bus: bus, logger: log}
}

func (h *LeaseExpiryHandler) Name() string { return JobLeaseExpiryCheck }

// Execute implements sqliteq.Handler.
func (h *LeaseExpiryHandler) Execute(ctx context.Context, job *sqliteq.Job) error {
	var params struct {
		WindowDays int `json:"window_days"`
	}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &params); err != nil {
			return errors.Wrap(err, "invalid lease expiry payload")
		}
	}

	window := DefaultExpiryWindow
	if params.WindowDays > 0 {
		window = time.Duration(params.WindowDays) * 24 * time.Hour
	}

	leases, err := h.leases.ExpiringWithin(ctx, window)
	if err != nil {
		return errors.Wrap(err, "failed to list expiring leases")
	}

	perTenant := make(map[string]int)
	for _, lease := range leases {
		perTenant[lease.TenantID]++
		h.bus.Publish(event.Event{
			Type:     "lease.expiring",
			TenantID: lease.TenantID,
			UserID:   lease.ResidentUserID,
			Audience: event.AudiencePersonal,
			Payload: map[string]any{
				"lease_id": lease.ID,
				"property": lease.PropertyName,
				"ends_at":  lease.EndsAt.Format(time.RFC3339),
			},
		})
	}

	for tenantID, count := range perTenant {
		h.bus.Publish(event.Event{
			Type:     "lease.expiry-digest",
			TenantID: tenantID,
			Audience: event.AudienceAnnouncement,
			Payload:  map[string]any{"expiring_leases": count},
		})
	}

	h.logger.Infow("Lease expiry check completed",
		"window", window,
		"expiring", len(leases),
		"tenants", len(perTenant))
	return nil
}

// MediaTempCleanupHandler deletes stale files from the media staging
// directory. Files still younger than the age bound are left alone.
type MediaTempCleanupHandler struct {
	dir    string
	maxAge time.Duration
	logger *zap.SugaredLogger
}

// NewMediaTempCleanupHandler creates the media-temp-cleanup handler.
func NewMediaTempCleanupHandler(dir string, maxAge time.Duration, log *zap.SugaredLogger) *MediaTempCleanupHandler {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &MediaTempCleanupHandler{dir: dir, maxAge: maxAge, logger: log}
}

func (h *MediaTempCleanupHandler) Name() string { return JobMediaTempCleanup }

// Execute implements sqliteq.Handler. A missing staging directory means
// nothing has been uploaded yet, which is success.
func (h *MediaTempCleanupHandler) Execute(ctx context.Context, job *sqliteq.Job) error {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to read staging directory %s", h.dir)
	}

	cutoff := time.Now().Add(-h.maxAge)
	removed := 0
	var firstErr error

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(h.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			h.logger.Warnw("Failed to remove staged file",
				"path", path,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}

	h.logger.Infow("Media staging cleanup completed",
		"dir", h.dir,
		"removed", removed,
		"max_age", h.maxAge)

	if firstErr != nil {
		return errors.Wrap(firstErr, "some staged files could not be removed")
	}
	return nil
}

// TrackedJobReportHandler publishes a queue and tracking snapshot as an
// operator announcement. Registered disabled by default.
type TrackedJobReportHandler struct {
	stats    StatsSource
	tracker  *track.Registry
	bus      *event.Bus
	tenantID string
	logger   *zap.SugaredLogger
}

// StatsSource reports queue depth by status. *sqliteq.Backend satisfies it.
type StatsSource interface {
	GetStats() (*sqliteq.Stats, error)
}

// NewTrackedJobReportHandler creates the tracked-job-report handler.
// Reports are announced to the given operator tenant.
func NewTrackedJobReportHandler(stats StatsSource, tracker *track.Registry, bus *event.Bus, tenantID string, log *zap.SugaredLogger) *TrackedJobReportHandler {
	return &TrackedJobReportHandler{
		stats:    stats,
		tracker:  tracker,
		tenantID: tenantID,
		logger:   log,
		bus:      bus,
	}
}

func (h *TrackedJobReportHandler) Name() string { return JobTrackedJobReport }

// Execute implements sqliteq.Handler. The payload may carry user ids
// whose tracked-job counts are included in the report.
func (h *TrackedJobReportHandler) Execute(ctx context.Context, job *sqliteq.Job) error {
	stats, err := h.stats.GetStats()
	if err != nil {
		return errors.Wrap(err, "failed to collect queue stats")
	}

	var params struct {
		UserIDs []string `json:"user_ids"`
	}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &params); err != nil {
			return errors.Wrap(err, "invalid report payload")
		}
	}

	trackedByUser := make(map[string]int64, len(params.UserIDs))
	for _, userID := range params.UserIDs {
		result := h.tracker.Count(ctx, userID)
		if !result.Success {
			h.logger.Warnw("Tracked job count unavailable",
				"user_id", userID,
				"error", result.Err)
			continue
		}
		trackedByUser[userID] = result.Data
	}

	h.bus.Publish(event.Event{
		Type:     "jobs.report",
		TenantID: h.tenantID,
		Audience: event.AudienceAnnouncement,
		Payload: map[string]any{
			"queued":          stats.Queued,
			"running":         stats.Running,
			"completed":       stats.Completed,
			"failed":          stats.Failed,
			"tracked_by_user": trackedByUser,
		},
	})

	h.logger.Infow("Tracked job report published",
		"queued", stats.Queued,
		"running", stats.Running,
		"failed", stats.Failed)
	return nil
}
