package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"wablast/models"
)

// QuotaReset zeroes every user's daily send counter once per day. The check
// runs hourly and only touches users whose last reset is older than the
// current UTC day, so restarts never double-reset.
type QuotaReset struct {
	db     *gorm.DB
	logger *logrus.Entry
}

func NewQuotaReset(db *gorm.DB, logger *logrus.Logger) *QuotaReset {
	return &QuotaReset{
		db:     db,
		logger: logger.WithField("component", "quota_reset"),
	}
}

func (q *QuotaReset) Start(ctx context.Context) {
	q.logger.Info("starting quota reset worker")
	ticker := time.NewTicker(time.Hour)

	q.resetStale()
	for {
		select {
		case <-ticker.C:
			q.resetStale()
		case <-ctx.Done():
			q.logger.Info("stopping quota reset worker")
			ticker.Stop()
			return
		}
	}
}

func (q *QuotaReset) resetStale() {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)

	res := q.db.Model(&models.User{}).
		Where("sent_today > 0 AND (last_credit_reset IS NULL OR last_credit_reset < ?)", dayStart).
		Updates(map[string]interface{}{
			"sent_today":        0,
			"last_credit_reset": time.Now().UTC(),
		})
	if res.Error != nil {
		q.logger.WithError(res.Error).Error("daily quota reset failed")
		return
	}
	if res.RowsAffected > 0 {
		q.logger.WithField("users", res.RowsAffected).Info("daily send counters reset")
	}
}
