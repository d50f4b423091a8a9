package engine

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"wablast/gateway"
	"wablast/queue"
)

// Dispatch tuning constants.
const (
	// progressBatch bounds event volume: progress is published every
	// progressBatch processed recipients, and always when pending hits zero.
	progressBatch = 5

	// maxAttempts is the retry cap for a single message delivery.
	maxAttempts = 3

	// backoffBaseMs is the base of the exponential retry backoff.
	backoffBaseMs = 5000

	// replyLookbackHours is how far back an inbound message may be attributed
	// to a prior outbound send.
	replyLookbackHours = 72

	// DefaultDelayMs / MinDelayMs bound the per-recipient pacing.
	DefaultDelayMs = 3000
	MinDelayMs     = 1000
)

// JobQueue is the slice of the job queue the engine drives.
type JobQueue interface {
	EnqueueBulk(ctx context.Context, jobs []queue.Job) error
	Retry(ctx context.Context, j queue.Job) error
	DrainCampaign(ctx context.Context, campaignID uint) (int, error)
}

// Notifier publishes engine events to a per-user realtime channel and a
// durable notification record.
type Notifier interface {
	Publish(userID uint, event string, payload map[string]interface{})
}

// EffectRecorder receives best-effort side effects of dispatch: conversation
// log entries and funnel updates. Implementations must never block the
// caller for long and must swallow their own errors.
type EffectRecorder interface {
	OutboundSent(userID, campaignID uint, contact, body string, mediaURL *string, gatewayMessageID string)
	ReplyReceived(userID, campaignID uint, contact, body string, mediaURL *string, gatewayMessageID string)
}

// Engine is the campaign dispatch and attribution engine. It owns campaign
// intake, job scheduling, per-job dispatch, counter bookkeeping, completion
// and cancellation, and reply attribution.
type Engine struct {
	db       *gorm.DB
	gw       gateway.Gateway
	queue    JobQueue
	notifier Notifier
	effects  EffectRecorder
	logger   *logrus.Entry
}

// New builds the engine and, when a subscriber is given, registers it for
// inbound gateway events so replies flow into the attribution matcher.
func New(db *gorm.DB, gw gateway.Gateway, q JobQueue, n Notifier, fx EffectRecorder, logger *logrus.Logger, sub gateway.Subscriber) *Engine {
	e := &Engine{
		db:       db,
		gw:       gw,
		queue:    q,
		notifier: n,
		effects:  fx,
		logger:   logger.WithField("component", "engine"),
	}
	if sub != nil {
		sub.Subscribe(e)
	}
	return e
}

func (e *Engine) publish(userID uint, event string, payload map[string]interface{}) {
	if e.notifier == nil {
		return
	}
	e.notifier.Publish(userID, event, payload)
}
