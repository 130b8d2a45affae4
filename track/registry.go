package track

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/cache"
	"github.com/quarters-hq/quarters/errors"
)

// DefaultRetention is the bounded lifetime shared by a job record and its
// per-user membership entry.
const DefaultRetention = 2 * time.Hour

// staleRemovalTimeout bounds the background removal of expired set members.
const staleRemovalTimeout = 5 * time.Second

// Registry tracks which background jobs belong to which user, with bounded
// lifetime. It has no knowledge of job execution.
type Registry struct {
	backend   cache.Backend
	retention time.Duration
	logger    *zap.SugaredLogger
}

// NewRegistry creates a job registry over the given cache backend.
// A non-positive retention falls back to DefaultRetention.
func NewRegistry(backend cache.Backend, retention time.Duration, log *zap.SugaredLogger) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		backend:   backend,
		retention: retention,
		logger:    log,
	}
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:data", jobID)
}

func userJobsKey(userID string) string {
	return fmt.Sprintf("user:%s:jobs", userID)
}

// Track writes the job record and adds jobID to the user's job set; both
// writes carry the same expiry. If either write fails the operation reports
// failure — partial writes are never silent.
func (r *Registry) Track(ctx context.Context, userID, jobID string, jobType JobType, metadata map[string]string) Result[TrackedJob] {
	if userID == "" || jobID == "" {
		return Fail[TrackedJob](errors.NewInvalidRequestError("userID and jobID are required"))
	}
	if !IsValidJobType(string(jobType)) {
		return Fail[TrackedJob](errors.NewInvalidRequestError("unknown job type %q", jobType))
	}

	job := TrackedJob{
		JobID:     jobID,
		JobType:   jobType,
		UserID:    userID,
		CreatedAt: time.Now(),
		Metadata:  metadata,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return Fail[TrackedJob](errors.Wrap(err, "failed to marshal tracked job"))
	}

	if err := r.backend.Set(ctx, jobKey(jobID), data, r.retention); err != nil {
		err = errors.Wrap(err, "failed to write job record")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", jobID))
		err = errors.WithDetail(err, fmt.Sprintf("User ID: %s", userID))
		r.logger.Warnw("Job track failed", "job_id", jobID, "user_id", userID, "error", err)
		return Fail[TrackedJob](err)
	}

	if err := r.backend.SAdd(ctx, userJobsKey(userID), jobID); err != nil {
		err = errors.Wrap(err, "failed to add job to user set")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", jobID))
		err = errors.WithDetail(err, fmt.Sprintf("User ID: %s", userID))
		r.logger.Warnw("Job track failed", "job_id", jobID, "user_id", userID, "error", err)
		return Fail[TrackedJob](err)
	}

	// Refresh the set TTL on every track so the membership set lives exactly
	// as long as its newest record.
	if err := r.backend.Expire(ctx, userJobsKey(userID), r.retention); err != nil {
		err = errors.Wrap(err, "failed to refresh user set expiry")
		err = errors.WithDetail(err, fmt.Sprintf("User ID: %s", userID))
		return Fail[TrackedJob](err)
	}

	r.logger.Debugw("Tracked job",
		"job_id", jobID,
		"user_id", userID,
		"job_type", jobType,
		"retention", r.retention)

	return Ok(job)
}

// ListForUser reads the user's job-id set and resolves each id to its record.
// Ids whose records have expired are excluded and removed from the set in the
// background (self-cleaning read). A user with zero tracked jobs gets an
// empty, successful result — never an error.
func (r *Registry) ListForUser(ctx context.Context, userID string) Result[[]TrackedJob] {
	jobIDs, err := r.backend.SMembers(ctx, userJobsKey(userID))
	if err != nil {
		err = errors.Wrap(err, "failed to read user job set")
		err = errors.WithDetail(err, fmt.Sprintf("User ID: %s", userID))
		return Fail[[]TrackedJob](err)
	}

	jobs := make([]TrackedJob, 0, len(jobIDs))
	var stale []string

	for _, jobID := range jobIDs {
		data, err := r.backend.Get(ctx, jobKey(jobID))
		if errors.Is(err, cache.ErrNotFound) {
			stale = append(stale, jobID)
			continue
		}
		if err != nil {
			// Transient read failure: exclude the record but keep the
			// membership, the next read may succeed.
			r.logger.Warnw("Failed to resolve tracked job", "job_id", jobID, "user_id", userID, "error", err)
			continue
		}

		var job TrackedJob
		if err := json.Unmarshal(data, &job); err != nil {
			r.logger.Warnw("Corrupt tracked job record, dropping", "job_id", jobID, "error", err)
			stale = append(stale, jobID)
			continue
		}
		jobs = append(jobs, job)
	}

	if len(stale) > 0 {
		go r.removeStale(userID, stale)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	return Ok(jobs)
}

// removeStale drops expired membership entries discovered during a read.
func (r *Registry) removeStale(userID string, jobIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), staleRemovalTimeout)
	defer cancel()

	removed, err := r.backend.SRem(ctx, userJobsKey(userID), jobIDs...)
	if err != nil {
		r.logger.Warnw("Failed to clean stale job memberships",
			"user_id", userID,
			"stale", len(jobIDs),
			"error", err)
		return
	}

	r.logger.Debugw("Cleaned stale job memberships",
		"user_id", userID,
		"removed", removed)
}

// RemoveCompleted removes membership and record for each id. Ids that are
// already gone are tolerated (idempotent); the returned count reflects what
// was actually removed.
func (r *Registry) RemoveCompleted(ctx context.Context, userID string, jobIDs []string) Result[RemovedCount] {
	if len(jobIDs) == 0 {
		return Ok(RemovedCount{})
	}

	var total int64
	var firstErr error

	for _, jobID := range jobIDs {
		removed, err := r.backend.SRem(ctx, userJobsKey(userID), jobID)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "failed to remove job %s from user set", jobID)
			}
			r.logger.Warnw("Failed to remove job membership", "job_id", jobID, "user_id", userID, "error", err)
			continue
		}
		total += removed

		if err := r.backend.Delete(ctx, jobKey(jobID)); err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "failed to delete job record %s", jobID)
			}
			r.logger.Warnw("Failed to delete job record", "job_id", jobID, "error", err)
		}
	}

	if firstErr != nil {
		firstErr = errors.WithDetail(firstErr, fmt.Sprintf("User ID: %s", userID))
		firstErr = errors.WithDetail(firstErr, fmt.Sprintf("Removed before failure: %d", total))
		return Fail[RemovedCount](firstErr)
	}

	return Ok(RemovedCount{Removed: total})
}

// Count returns the cardinality of the user's job set.
func (r *Registry) Count(ctx context.Context, userID string) Result[int64] {
	count, err := r.backend.SCard(ctx, userJobsKey(userID))
	if err != nil {
		err = errors.Wrap(err, "failed to count user jobs")
		err = errors.WithDetail(err, fmt.Sprintf("User ID: %s", userID))
		return Fail[int64](err)
	}
	return Ok(count)
}
