package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wablast/gateway"
	"wablast/models"
	"wablast/utils"
)

func (env *testEnv) completedCampaign(t *testing.T, recipients ...string) *models.Campaign {
	t.Helper()
	c := env.createCampaign(t, recipients...)
	env.startCampaign(t, c.ID)
	env.runAllJobs(t)
	return env.reloadCampaign(t, c.ID)
}

func TestHandleInboundAttributesReply(t *testing.T) {
	env := newTestEnv(t)
	c := env.completedCampaign(t, "15550000001")

	env.engine.HandleInbound(context.Background(), gateway.InboundMessage{
		UserID:           env.user.ID,
		Sender:           "15550000001@c.us",
		Body:             "yes, interested!",
		GatewayMessageID: "wamid-in-1",
		Timestamp:        time.Now().Unix(),
	})

	var reply models.CampaignReply
	require.NoError(t, env.db.Where("campaign_id = ?", c.ID).First(&reply).Error)
	assert.Equal(t, "15550000001", reply.Sender)
	assert.Equal(t, "yes, interested!", reply.Body)
	require.NotNil(t, reply.MessageID)
	assert.False(t, reply.IsRead)

	assert.Equal(t, 1, env.reloadCampaign(t, c.ID).ReplyCount)
	assert.Equal(t, 1, env.effects.replies)
	assert.Len(t, env.notifier.byName(models.EventReplyReceived), 1)
}

func TestHandleInboundMatchesStoredVariants(t *testing.T) {
	env := newTestEnv(t)

	// Force a stored recipient with a "+" prefix, as older imports carried.
	c := env.createCampaign(t, "15550000001")
	require.NoError(t, env.db.Model(&models.CampaignMessage{}).
		Where("campaign_id = ?", c.ID).
		Update("recipient", "+15550000001").Error)
	env.startCampaign(t, c.ID)
	env.runAllJobs(t)

	env.engine.HandleInbound(context.Background(), gateway.InboundMessage{
		UserID: env.user.ID,
		Sender: "15550000001",
		Body:   "hello back",
	})

	assert.Equal(t, 1, env.reloadCampaign(t, c.ID).ReplyCount)
}

func TestHandleInboundPicksMostRecentSend(t *testing.T) {
	env := newTestEnv(t)
	first := env.completedCampaign(t, "15550000001")

	// Backdate the first send so the second campaign's is the latest.
	require.NoError(t, env.db.Model(&models.CampaignMessage{}).
		Where("campaign_id = ?", first.ID).
		Update("sent_at", time.Now().Add(-time.Hour)).Error)

	second := env.completedCampaign(t, "15550000001")

	env.engine.HandleInbound(context.Background(), gateway.InboundMessage{
		UserID: env.user.ID,
		Sender: "15550000001",
		Body:   "replying",
	})

	assert.Zero(t, env.reloadCampaign(t, first.ID).ReplyCount)
	assert.Equal(t, 1, env.reloadCampaign(t, second.ID).ReplyCount)
}

func TestHandleInboundIgnoresStaleAndUnknownSenders(t *testing.T) {
	env := newTestEnv(t)
	c := env.completedCampaign(t, "15550000001")

	// Outside the lookback window.
	require.NoError(t, env.db.Model(&models.CampaignMessage{}).
		Where("campaign_id = ?", c.ID).
		Update("sent_at", time.Now().Add(-(replyLookbackHours+1)*time.Hour)).Error)
	env.engine.HandleInbound(context.Background(), gateway.InboundMessage{
		UserID: env.user.ID,
		Sender: "15550000001",
		Body:   "too late",
	})

	// Never contacted at all.
	env.engine.HandleInbound(context.Background(), gateway.InboundMessage{
		UserID: env.user.ID,
		Sender: "19990000000",
		Body:   "who is this?",
	})

	var count int64
	env.db.Model(&models.CampaignReply{}).Count(&count)
	assert.Zero(t, count)
	assert.Zero(t, env.reloadCampaign(t, c.ID).ReplyCount)
}

func TestHandleInboundScopedToUser(t *testing.T) {
	env := newTestEnv(t)
	env.completedCampaign(t, "15550000001")

	other := &models.User{Email: "other@example.com", PasswordHash: "x", IsActive: true, SubscriptionActive: true, MessageCredits: 10, DailySendLimit: 10}
	require.NoError(t, env.db.Create(other).Error)

	// Same sender, different account: no cross-tenant attribution.
	env.engine.HandleInbound(context.Background(), gateway.InboundMessage{
		UserID: other.ID,
		Sender: "15550000001",
		Body:   "hi",
	})

	var count int64
	env.db.Model(&models.CampaignReply{}).Count(&count)
	assert.Zero(t, count)
}

func TestListRepliesAndMarkRead(t *testing.T) {
	env := newTestEnv(t)
	c := env.completedCampaign(t, "15550000001")

	env.engine.HandleInbound(context.Background(), gateway.InboundMessage{
		UserID:   env.user.ID,
		Sender:   "15550000001",
		Body:     "first",
		MediaURL: utils.Pointer("https://cdn.example.com/pic.jpg"),
	})
	env.engine.HandleInbound(context.Background(), gateway.InboundMessage{
		UserID: env.user.ID,
		Sender: "15550000001",
		Body:   "second",
	})

	replies, err := env.engine.ListReplies(context.Background(), env.user, c.ID, false)
	require.NoError(t, err)
	require.Len(t, replies, 2)

	require.NoError(t, env.engine.MarkReplyRead(context.Background(), env.user, replies[0].ID))

	var reply models.CampaignReply
	require.NoError(t, env.db.First(&reply, replies[0].ID).Error)
	assert.True(t, reply.IsRead)

	unread, err := env.engine.ListReplies(context.Background(), env.user, c.ID, true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.NotEqual(t, replies[0].ID, unread[0].ID)

	// Foreign reply ids are invisible.
	err = env.engine.MarkReplyRead(context.Background(), env.user, 9999)
	assert.ErrorIs(t, err, ErrReplyNotFound)

	_, err = env.engine.ListReplies(context.Background(), env.user, 9999, false)
	assert.ErrorIs(t, err, ErrNotFound)
}
