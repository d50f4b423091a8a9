package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"wablast/config"
	"wablast/models"
	"wablast/queue"
)

// fakeGateway is a scriptable stand-in for the messaging gateway.
type fakeGateway struct {
	mu           sync.Mutex
	sessionReady bool
	unregistered map[string]bool
	textErrs     map[string][]error // consumed per recipient, in order
	mediaErrs    map[string][]error
	sentTexts    []string // recipients, in send order
	sentMedia    []string
	lastBody     map[string]string
	nextID       int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		sessionReady: true,
		unregistered: make(map[string]bool),
		textErrs:     make(map[string][]error),
		mediaErrs:    make(map[string][]error),
		lastBody:     make(map[string]string),
	}
}

func (f *fakeGateway) IsSessionReady(ctx context.Context, userID uint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionReady
}

func (f *fakeGateway) IsRegistered(ctx context.Context, userID uint, phone string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unregistered[phone], nil
}

func (f *fakeGateway) SendText(ctx context.Context, userID uint, phone, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.textErrs[phone]; len(errs) > 0 {
		err := errs[0]
		f.textErrs[phone] = errs[1:]
		return "", err
	}
	f.sentTexts = append(f.sentTexts, phone)
	f.lastBody[phone] = body
	f.nextID++
	return fmt.Sprintf("wamid-%d", f.nextID), nil
}

func (f *fakeGateway) SendMedia(ctx context.Context, userID uint, phone, body, mediaURL, mediaKind string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.mediaErrs[phone]; len(errs) > 0 {
		err := errs[0]
		f.mediaErrs[phone] = errs[1:]
		return "", err
	}
	f.sentMedia = append(f.sentMedia, phone)
	f.lastBody[phone] = body
	f.nextID++
	return fmt.Sprintf("wamid-%d", f.nextID), nil
}

// fakeQueue records queue traffic instead of touching redis.
type fakeQueue struct {
	mu         sync.Mutex
	enqueued   []queue.Job
	retried    []queue.Job
	drained    []uint
	enqueueErr error
}

func (f *fakeQueue) EnqueueBulk(ctx context.Context, jobs []queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, jobs...)
	return nil
}

func (f *fakeQueue) Retry(ctx context.Context, j queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j.Attempt++
	f.retried = append(f.retried, j)
	return nil
}

func (f *fakeQueue) DrainCampaign(ctx context.Context, campaignID uint) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained = append(f.drained, campaignID)
	return 0, nil
}

type publishedEvent struct {
	userID  uint
	event   string
	payload map[string]interface{}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakeNotifier) Publish(userID uint, event string, payload map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{userID: userID, event: event, payload: payload})
}

func (f *fakeNotifier) byName(name string) []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedEvent
	for _, e := range f.events {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeEffects struct {
	mu       sync.Mutex
	outbound int
	replies  int
}

func (f *fakeEffects) OutboundSent(userID, campaignID uint, contact, body string, mediaURL *string, gatewayMessageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbound++
}

func (f *fakeEffects) ReplyReceived(userID, campaignID uint, contact, body string, mediaURL *string, gatewayMessageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies++
}

type testEnv struct {
	db       *gorm.DB
	gw       *fakeGateway
	queue    *fakeQueue
	notifier *fakeNotifier
	effects  *fakeEffects
	engine   *Engine
	user     *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, config.MigrateDB(db))

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	env := &testEnv{
		db:       db,
		gw:       newFakeGateway(),
		queue:    &fakeQueue{},
		notifier: &fakeNotifier{},
		effects:  &fakeEffects{},
	}
	env.engine = New(db, env.gw, env.queue, env.notifier, env.effects, logger, nil)

	user := &models.User{
		Email:              "owner@example.com",
		PasswordHash:       "x",
		IsActive:           true,
		SubscriptionActive: true,
		MessageCredits:     1000,
		DailySendLimit:     500,
	}
	require.NoError(t, db.Create(user).Error)
	env.user = user
	return env
}

func (env *testEnv) reloadUser(t *testing.T) *models.User {
	t.Helper()
	var u models.User
	require.NoError(t, env.db.First(&u, env.user.ID).Error)
	return &u
}

func (env *testEnv) reloadCampaign(t *testing.T, id uint) *models.Campaign {
	t.Helper()
	var c models.Campaign
	require.NoError(t, env.db.First(&c, id).Error)
	return &c
}

func (env *testEnv) createCampaign(t *testing.T, recipients ...string) *models.Campaign {
	t.Helper()
	c, err := env.engine.CreateCampaign(context.Background(), env.user, CreateCampaignInput{
		Name:       "launch",
		Body:       "hello there",
		Recipients: recipients,
	})
	require.NoError(t, err)
	return c
}

func (env *testEnv) startCampaign(t *testing.T, id uint) *models.Campaign {
	t.Helper()
	c, err := env.engine.StartCampaign(context.Background(), env.reloadUser(t), id)
	require.NoError(t, err)
	return c
}

// runAllJobs pushes every enqueued job through the engine, including any
// retries it schedules along the way.
func (env *testEnv) runAllJobs(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		env.queue.mu.Lock()
		pending := append(env.queue.enqueued, env.queue.retried...)
		env.queue.enqueued = nil
		env.queue.retried = nil
		env.queue.mu.Unlock()

		if len(pending) == 0 {
			return
		}
		for _, job := range pending {
			require.NoError(t, env.engine.HandleJob(ctx, job))
		}
	}
	t.Fatal("jobs never settled")
}

func assertCounterInvariant(t *testing.T, c *models.Campaign) {
	t.Helper()
	assert.Equal(t, c.TotalCount, c.SentCount+c.FailedCount+c.InvalidCount+c.PendingCount,
		"sent+failed+invalid+pending must equal total")
}

func TestCreateCampaignPersistsMessages(t *testing.T) {
	env := newTestEnv(t)

	c, err := env.engine.CreateCampaign(context.Background(), env.user, CreateCampaignInput{
		Name:       "launch",
		Body:       "hello",
		Recipients: []string{"+1 555-000-0001", "15550000002@c.us", "0015550000003"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.CampaignStatusPending, c.Status)
	assert.Equal(t, 3, c.TotalCount)
	assert.Equal(t, 3, c.PendingCount)
	assert.Equal(t, DefaultDelayMs, c.DelayMs)

	var messages []models.CampaignMessage
	require.NoError(t, env.db.Where("campaign_id = ?", c.ID).Order("id").Find(&messages).Error)
	require.Len(t, messages, 3)
	for i, want := range []string{"15550000001", "15550000002", "15550000003"} {
		assert.Equal(t, want, messages[i].Recipient)
		assert.Equal(t, models.MessageStatusPending, messages[i].Status)
	}
}

func TestCreateCampaignGates(t *testing.T) {
	t.Run("session not ready", func(t *testing.T) {
		env := newTestEnv(t)
		env.gw.sessionReady = false
		_, err := env.engine.CreateCampaign(context.Background(), env.user, CreateCampaignInput{
			Name: "x", Body: "y", Recipients: []string{"15550000001"},
		})
		assert.Error(t, err)
	})

	t.Run("no subscription", func(t *testing.T) {
		env := newTestEnv(t)
		env.user.SubscriptionActive = false
		_, err := env.engine.CreateCampaign(context.Background(), env.user, CreateCampaignInput{
			Name: "x", Body: "y", Recipients: []string{"15550000001"},
		})
		assert.ErrorIs(t, err, ErrNoSubscription)
	})

	t.Run("insufficient credits", func(t *testing.T) {
		env := newTestEnv(t)
		env.user.MessageCredits = 1
		_, err := env.engine.CreateCampaign(context.Background(), env.user, CreateCampaignInput{
			Name: "x", Body: "y", Recipients: []string{"15550000001", "15550000002"},
		})
		var quotaErr *QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, 2, quotaErr.Required)
		assert.Equal(t, 1, quotaErr.Available)
		assert.False(t, quotaErr.Daily)
	})

	t.Run("daily limit exhausted", func(t *testing.T) {
		env := newTestEnv(t)
		env.user.SentToday = env.user.DailySendLimit - 1
		_, err := env.engine.CreateCampaign(context.Background(), env.user, CreateCampaignInput{
			Name: "x", Body: "y", Recipients: []string{"15550000001", "15550000002"},
		})
		var quotaErr *QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.True(t, quotaErr.Daily)
	})

	t.Run("delay below minimum rejected", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.engine.CreateCampaign(context.Background(), env.user, CreateCampaignInput{
			Name: "x", Body: "y", Recipients: []string{"15550000001"}, DelayMs: 500,
		})
		assert.Error(t, err)
	})
}

func TestStartCampaignSchedulesStaggeredJobs(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "15550000001", "15550000002", "15550000003")

	before := time.Now()
	started := env.startCampaign(t, c.ID)

	assert.Equal(t, models.CampaignStatusProcessing, started.Status)
	require.NotNil(t, started.StartedAt)

	require.Len(t, env.queue.enqueued, 3)
	for i, job := range env.queue.enqueued {
		assert.Equal(t, c.ID, job.CampaignID)
		assert.Equal(t, maxAttempts, job.MaxAttempts)
		wantFire := before.Add(time.Duration(i*DefaultDelayMs) * time.Millisecond)
		assert.WithinDuration(t, wantFire, time.UnixMilli(job.FireAt), time.Second, "job %d", i)
	}

	// Quota consumed up front for the whole list.
	u := env.reloadUser(t)
	assert.Equal(t, 997, u.MessageCredits)
	assert.Equal(t, 3, u.SentToday)

	// Messages moved to queued.
	var queued int64
	env.db.Model(&models.CampaignMessage{}).
		Where("campaign_id = ? AND status = ?", c.ID, models.MessageStatusQueued).
		Count(&queued)
	assert.EqualValues(t, 3, queued)

	assert.Len(t, env.notifier.byName(models.EventCampaignStarted), 1)
}

func TestStartCampaignRejectsWrongStates(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "15550000001")
	env.startCampaign(t, c.ID)

	// Already processing.
	_, err := env.engine.StartCampaign(context.Background(), env.reloadUser(t), c.ID)
	var stateErr *StateConflictError
	assert.ErrorAs(t, err, &stateErr)

	// Unknown campaign.
	_, err = env.engine.StartCampaign(context.Background(), env.reloadUser(t), 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	// Another user's campaign stays invisible.
	other := &models.User{Email: "other@example.com", PasswordHash: "x", IsActive: true, SubscriptionActive: true, MessageCredits: 10, DailySendLimit: 10}
	require.NoError(t, env.db.Create(other).Error)
	_, err = env.engine.StartCampaign(context.Background(), other, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartCampaignOnePerOwner(t *testing.T) {
	env := newTestEnv(t)
	first := env.createCampaign(t, "15550000001")
	second := env.createCampaign(t, "15550000002")

	env.startCampaign(t, first.ID)

	_, err := env.engine.StartCampaign(context.Background(), env.reloadUser(t), second.ID)
	var concurrentErr *ConcurrentCampaignError
	require.ErrorAs(t, err, &concurrentErr)
	assert.Equal(t, first.ID, concurrentErr.ActiveID)

	// Second campaign is untouched and can start after the first finishes.
	assert.Equal(t, models.CampaignStatusPending, env.reloadCampaign(t, second.ID).Status)

	env.runAllJobs(t)
	assert.Equal(t, models.CampaignStatusCompleted, env.reloadCampaign(t, first.ID).Status)

	_, err = env.engine.StartCampaign(context.Background(), env.reloadUser(t), second.ID)
	assert.NoError(t, err)
}

func TestStartCampaignEnqueueFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "15550000001", "15550000002")
	env.queue.enqueueErr = errors.New("redis down")

	_, err := env.engine.StartCampaign(context.Background(), env.reloadUser(t), c.ID)
	require.Error(t, err)

	reloaded := env.reloadCampaign(t, c.ID)
	assert.Equal(t, models.CampaignStatusPending, reloaded.Status)

	u := env.reloadUser(t)
	assert.Equal(t, 1000, u.MessageCredits)
	assert.Zero(t, u.SentToday)
}

func TestCancelCampaignSettlesUndelivered(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "15550000001", "15550000002", "15550000003")
	env.startCampaign(t, c.ID)

	// Deliver the first job, then cancel.
	require.NoError(t, env.engine.HandleJob(context.Background(), env.queue.enqueued[0]))

	cancelled, err := env.engine.CancelCampaign(context.Background(), env.reloadUser(t), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, []uint{c.ID}, env.queue.drained)

	var messages []models.CampaignMessage
	require.NoError(t, env.db.Where("campaign_id = ?", c.ID).Order("id").Find(&messages).Error)
	assert.Equal(t, models.MessageStatusSent, messages[0].Status)
	assert.Equal(t, models.MessageStatusCancelled, messages[1].Status)
	assert.Equal(t, models.MessageStatusCancelled, messages[2].Status)

	// A job that outraced the drainer is a no-op now.
	require.NoError(t, env.engine.HandleJob(context.Background(), env.queue.enqueued[1]))
	assert.Equal(t, models.CampaignStatusCancelled,
		env.reloadCampaign(t, c.ID).Status, "campaign stays cancelled")

	// Quota is not refunded.
	assert.Equal(t, 997, env.reloadUser(t).MessageCredits)
}

func TestCancelCampaignRejectsTerminalStates(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "15550000001")
	env.startCampaign(t, c.ID)
	env.runAllJobs(t)

	_, err := env.engine.CancelCampaign(context.Background(), env.reloadUser(t), c.ID)
	var stateErr *StateConflictError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.CampaignStatusCompleted, stateErr.Status)
}

func TestListCampaignsFiltersAndPages(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.createCampaign(t, "15550000001")
	}
	c := env.createCampaign(t, "15550000002")
	env.startCampaign(t, c.ID)

	all, total, err := env.engine.ListCampaigns(context.Background(), env.user, "", 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Len(t, all, 2)

	processing, total, err := env.engine.ListCampaigns(context.Background(), env.user, models.CampaignStatusProcessing, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, processing, 1)
	assert.Equal(t, c.ID, processing[0].ID)
}

func TestGetStatsAggregates(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "15550000001", "15550000002")
	env.gw.unregistered["15550000002"] = true
	env.startCampaign(t, c.ID)
	env.runAllJobs(t)

	stats, err := env.engine.GetStats(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Campaigns)
	assert.EqualValues(t, 0, stats.Processing)
	assert.EqualValues(t, 1, stats.Sent)
	assert.EqualValues(t, 1, stats.Invalid)
	assert.EqualValues(t, 0, stats.Failed)
}
