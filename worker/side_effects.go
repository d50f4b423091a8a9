package worker

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wablast/models"
)

// SideEffects consumes dispatch side effects on a single background
// goroutine: conversation log entries and funnel updates. Everything here is
// best-effort; a full buffer drops the effect with a log line rather than
// slow down delivery.
type SideEffects struct {
	db     *gorm.DB
	logger *logrus.Entry

	effects chan effect
	stopCh  chan struct{}
	done    chan struct{}
}

type effect struct {
	userID           uint
	campaignID       uint
	contact          string
	body             string
	mediaURL         *string
	gatewayMessageID string
	direction        string
}

func NewSideEffects(db *gorm.DB, logger *logrus.Logger) *SideEffects {
	return &SideEffects{
		db:      db,
		logger:  logger.WithField("component", "side_effects"),
		effects: make(chan effect, 256),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the consumer goroutine.
func (s *SideEffects) Start() {
	go s.run()
}

// Stop drains buffered effects and waits for the consumer to exit.
func (s *SideEffects) Stop() {
	close(s.stopCh)
	<-s.done
}

// OutboundSent records a successful campaign send in the conversation log and
// marks the contact as reached in the funnel.
func (s *SideEffects) OutboundSent(userID, campaignID uint, contact, body string, mediaURL *string, gatewayMessageID string) {
	s.offer(effect{
		userID:           userID,
		campaignID:       campaignID,
		contact:          contact,
		body:             body,
		mediaURL:         mediaURL,
		gatewayMessageID: gatewayMessageID,
		direction:        models.ChatDirectionOut,
	})
}

// ReplyReceived records an attributed reply in the conversation log and
// advances the contact's funnel stage.
func (s *SideEffects) ReplyReceived(userID, campaignID uint, contact, body string, mediaURL *string, gatewayMessageID string) {
	s.offer(effect{
		userID:           userID,
		campaignID:       campaignID,
		contact:          contact,
		body:             body,
		mediaURL:         mediaURL,
		gatewayMessageID: gatewayMessageID,
		direction:        models.ChatDirectionIn,
	})
}

func (s *SideEffects) offer(e effect) {
	select {
	case s.effects <- e:
	default:
		s.logger.WithFields(logrus.Fields{
			"user_id":     e.userID,
			"campaign_id": e.campaignID,
		}).Warn("side effect buffer full, dropping")
	}
}

func (s *SideEffects) run() {
	defer close(s.done)
	for {
		select {
		case e := <-s.effects:
			s.apply(e)
		case <-s.stopCh:
			// Drain what is already buffered before exiting.
			for {
				select {
				case e := <-s.effects:
					s.apply(e)
				default:
					return
				}
			}
		}
	}
}

func (s *SideEffects) apply(e effect) {
	campaignID := e.campaignID
	entry := models.ChatEntry{
		UserID:           e.userID,
		Contact:          e.contact,
		Direction:        e.direction,
		Body:             e.body,
		MediaURL:         e.mediaURL,
		CampaignID:       &campaignID,
		GatewayMessageID: e.gatewayMessageID,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		s.logger.WithError(err).Error("failed to append chat entry")
	}

	stage := models.FunnelStageContacted
	if e.direction == models.ChatDirectionIn {
		stage = models.FunnelStageReplied
	}
	s.upsertFunnel(e.userID, e.contact, stage, &campaignID)
}

// upsertFunnel inserts or touches the (user, contact) funnel row. The stage
// only moves forward: contacted never overwrites replied.
func (s *SideEffects) upsertFunnel(userID uint, contact, stage string, campaignID *uint) {
	now := time.Now()
	row := models.FunnelContact{
		UserID:      userID,
		Contact:     contact,
		Stage:       stage,
		CampaignID:  campaignID,
		LastTouchAt: now,
	}

	assignments := map[string]interface{}{
		"last_touch_at": now,
		"campaign_id":   campaignID,
	}
	if stage == models.FunnelStageReplied {
		assignments["stage"] = models.FunnelStageReplied
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "contact"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&row).Error
	if err != nil {
		s.logger.WithError(err).WithField("contact", contact).
			Error("failed to upsert funnel contact")
	}
}
