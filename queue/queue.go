package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const pendingKey = "wablast:jobs:pending"

// Job is one unit of dispatch work: deliver one campaign message to one
// recipient. Jobs are stored as JSON members of a redis sorted set whose
// score is the absolute fire time in unix milliseconds, so the set itself is
// the delay mechanism and the rate limiter.
type Job struct {
	ID            string `json:"id"`
	CampaignID    uint   `json:"campaign_id"`
	MessageID     uint   `json:"message_id"`
	UserID        uint   `json:"user_id"`
	Recipient     string `json:"recipient"`
	Body          string `json:"body"`
	MediaURL      string `json:"media_url,omitempty"`
	MediaKind     string `json:"media_kind,omitempty"`
	Attempt       int    `json:"attempt"`
	MaxAttempts   int    `json:"max_attempts"`
	BackoffBaseMs int64  `json:"backoff_base_ms"`
	FireAt        int64  `json:"fire_at"` // unix milliseconds
}

// BackoffDelay returns the exponential backoff delay for the given attempt
// number (1-based): base, 2*base, 4*base, ...
func (j Job) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(j.BackoffBaseMs<<(attempt-1)) * time.Millisecond
}

// Queue is a durable delayed-job queue on a redis sorted set. Multiple
// consumers may poll concurrently; ownership of a due job is decided by
// whoever removes the member first.
type Queue struct {
	rdb    *redis.Client
	logger *logrus.Entry
}

func NewQueue(rdb *redis.Client, logger *logrus.Logger) *Queue {
	return &Queue{
		rdb:    rdb,
		logger: logger.WithField("component", "queue"),
	}
}

// EnqueueBulk adds all jobs in one pipeline, each at its own fire time.
func (q *Queue) EnqueueBulk(ctx context.Context, jobs []Job) error {
	if len(jobs) == 0 {
		return nil
	}

	pipe := q.rdb.Pipeline()
	for _, j := range jobs {
		data, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", j.ID, err)
		}
		pipe.ZAdd(ctx, pendingKey, &redis.Z{
			Score:  float64(j.FireAt),
			Member: string(data),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %d jobs: %w", len(jobs), err)
	}
	return nil
}

// PollDue returns up to limit jobs whose fire time has passed, removing them
// from the set. A job is returned only if this caller won the removal, so
// concurrent pollers never process the same job twice.
func (q *Queue) PollDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	members, err := q.rdb.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("poll due jobs: %w", err)
	}

	var due []Job
	for _, member := range members {
		removed, err := q.rdb.ZRem(ctx, pendingKey, member).Result()
		if err != nil {
			return due, fmt.Errorf("claim job: %w", err)
		}
		if removed == 0 {
			continue // another poller claimed it
		}

		var j Job
		if err := json.Unmarshal([]byte(member), &j); err != nil {
			q.logger.WithError(err).Warn("dropping malformed job payload")
			continue
		}
		due = append(due, j)
	}
	return due, nil
}

// Retry re-enqueues a failed job with its next exponential backoff delay.
// The attempt counter is advanced on the stored payload.
func (q *Queue) Retry(ctx context.Context, j Job) error {
	j.Attempt++
	delay := j.BackoffDelay(j.Attempt)
	j.FireAt = time.Now().Add(delay).UnixMilli()

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal retry job %s: %w", j.ID, err)
	}
	if err := q.rdb.ZAdd(ctx, pendingKey, &redis.Z{
		Score:  float64(j.FireAt),
		Member: string(data),
	}).Err(); err != nil {
		return fmt.Errorf("requeue job %s: %w", j.ID, err)
	}

	q.logger.WithFields(logrus.Fields{
		"job_id":  j.ID,
		"attempt": j.Attempt,
		"delay":   delay,
	}).Info("job requeued with backoff")
	return nil
}

// DrainCampaign removes every not-yet-claimed job belonging to the campaign
// and returns how many were removed. Jobs already claimed by a worker are
// left to finish; they observe cancellation on their own.
func (q *Queue) DrainCampaign(ctx context.Context, campaignID uint) (int, error) {
	removed := 0
	var cursor uint64
	for {
		members, next, err := q.rdb.ZScan(ctx, pendingKey, cursor, "", 500).Result()
		if err != nil {
			return removed, fmt.Errorf("scan jobs: %w", err)
		}

		// ZScan yields member/score pairs; scores are skipped.
		for i := 0; i < len(members); i += 2 {
			var j Job
			if err := json.Unmarshal([]byte(members[i]), &j); err != nil {
				continue
			}
			if j.CampaignID != campaignID {
				continue
			}
			n, err := q.rdb.ZRem(ctx, pendingKey, members[i]).Result()
			if err != nil {
				return removed, fmt.Errorf("remove job %s: %w", j.ID, err)
			}
			removed += int(n)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

// Len returns the number of jobs currently waiting in the queue.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, pendingKey).Result()
}
