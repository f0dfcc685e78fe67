package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nestcare-monitor/internal/models"
	"nestcare-monitor/internal/notifier"
	"nestcare-monitor/internal/repository"
)

type fakeReminderStore struct {
	due          []models.Reminder
	sent         []string
	failed       map[string]string
	deleteCounts []int // DeleteTerminalBefore 每次调用的返回值
	deleteCalls  int
}

func newFakeReminderStore() *fakeReminderStore {
	return &fakeReminderStore{failed: make(map[string]string)}
}

func (f *fakeReminderStore) ListDue(_ context.Context, _ time.Time, limit int) ([]models.Reminder, error) {
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeReminderStore) MarkSent(_ context.Context, reminderID string) error {
	f.sent = append(f.sent, reminderID)
	return nil
}

func (f *fakeReminderStore) MarkFailed(_ context.Context, reminderID, lastError string) error {
	f.failed[reminderID] = lastError
	return nil
}

func (f *fakeReminderStore) DeleteTerminalBefore(_ context.Context, _ time.Time, _ int) (int, error) {
	f.deleteCalls++
	if f.deleteCalls > len(f.deleteCounts) {
		return 0, nil
	}
	return f.deleteCounts[f.deleteCalls-1], nil
}

func (f *fakeReminderStore) CreateScheduled(_ context.Context, _ *models.Reminder) (bool, error) {
	return true, nil
}
func (f *fakeReminderStore) GetByID(_ context.Context, _ string) (*models.Reminder, error) {
	return nil, nil
}
func (f *fakeReminderStore) Dismiss(_ context.Context, _, _ string) error { return nil }
func (f *fakeReminderStore) UpsertRuleReminder(_ context.Context, _ repository.RuleReminderParams) (*models.Reminder, bool, error) {
	return nil, false, nil
}
func (f *fakeReminderStore) ResolveRuleReminder(_ context.Context, _, _, _ string) (bool, error) {
	return false, nil
}

type fakeDispatcher struct {
	deliver bool
	err     error
	calls   int
}

func (f *fakeDispatcher) SendReminder(_ context.Context, _ *models.Reminder) (notifier.DeliveryResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.deliver {
		return notifier.DeliveryResult{
			models.ChannelPush: {Success: true, ProviderMessageID: "msg-1"},
		}, nil
	}
	return notifier.DeliveryResult{
		models.ChannelPush: {Error: "provider unavailable"},
	}, nil
}

func dueReminder() models.Reminder {
	now := time.Now()
	return models.Reminder{
		ReminderID:    uuid.New().String(),
		SubjectID:     uuid.New().String(),
		OwnerID:       uuid.New().String(),
		Type:          models.ReminderTypeMedicine,
		ScheduledFor:  now.Add(-time.Minute),
		NextTriggerAt: now.Add(-time.Minute),
		Channels:      []string{models.ChannelPush},
		Status:        models.ReminderStatusPending,
	}
}

func testConfig() Config {
	return Config{
		PollInterval:     time.Minute,
		PollBatchSize:    50,
		DispatchDelay:    0,
		CleanupInterval:  time.Hour,
		CleanupBatchSize: 100,
		Retention:        30 * 24 * time.Hour,
	}
}

func TestPollOnce_DispatchesAndMarksSent(t *testing.T) {
	store := newFakeReminderStore()
	store.due = []models.Reminder{dueReminder(), dueReminder()}
	dispatcher := &fakeDispatcher{deliver: true}

	s := NewScheduler(testConfig(), store, dispatcher, zap.NewNop())

	err := s.pollOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, dispatcher.calls)
	assert.Len(t, store.sent, 2)
	assert.Empty(t, store.failed)
}

func TestPollOnce_AllChannelsFailMarksFailed(t *testing.T) {
	store := newFakeReminderStore()
	reminder := dueReminder()
	store.due = []models.Reminder{reminder}
	dispatcher := &fakeDispatcher{deliver: false}

	s := NewScheduler(testConfig(), store, dispatcher, zap.NewNop())

	err := s.pollOnce(context.Background())

	require.NoError(t, err)
	assert.Empty(t, store.sent)
	assert.Contains(t, store.failed[reminder.ReminderID], "provider unavailable")
}

func TestPollOnce_NotDeliverableMarksFailed(t *testing.T) {
	store := newFakeReminderStore()
	reminder := dueReminder()
	store.due = []models.Reminder{reminder}
	dispatcher := &fakeDispatcher{
		err: fmt.Errorf("%w: caregiver not found: owner_id=%s", notifier.ErrNotDeliverable, reminder.OwnerID),
	}

	s := NewScheduler(testConfig(), store, dispatcher, zap.NewNop())

	err := s.pollOnce(context.Background())

	require.NoError(t, err)
	assert.Empty(t, store.sent)
	assert.Contains(t, store.failed[reminder.ReminderID], "caregiver not found")
}

func TestPollOnce_TransientDispatchErrorLeavesPending(t *testing.T) {
	store := newFakeReminderStore()
	reminder := dueReminder()
	store.due = []models.Reminder{reminder}
	// 联系方式查询出错属于瞬时故障：不落终态，下一轮重新捞出
	dispatcher := &fakeDispatcher{
		err: fmt.Errorf("failed to look up caregiver contact: pq: too many connections"),
	}

	s := NewScheduler(testConfig(), store, dispatcher, zap.NewNop())

	err := s.pollOnce(context.Background())

	require.NoError(t, err)
	assert.Empty(t, store.sent)
	assert.Empty(t, store.failed)
}

func TestPollOnce_NothingDueIsSilent(t *testing.T) {
	store := newFakeReminderStore()
	dispatcher := &fakeDispatcher{deliver: true}

	s := NewScheduler(testConfig(), store, dispatcher, zap.NewNop())

	err := s.pollOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, dispatcher.calls)
}

func TestPollOnce_RespectsBatchSize(t *testing.T) {
	store := newFakeReminderStore()
	for i := 0; i < 5; i++ {
		store.due = append(store.due, dueReminder())
	}
	dispatcher := &fakeDispatcher{deliver: true}

	cfg := testConfig()
	cfg.PollBatchSize = 3
	s := NewScheduler(cfg, store, dispatcher, zap.NewNop())

	err := s.pollOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, dispatcher.calls)
}

func TestTickPoll_OverlapGuard(t *testing.T) {
	store := newFakeReminderStore()
	store.due = []models.Reminder{dueReminder()}
	dispatcher := &fakeDispatcher{deliver: true}

	s := NewScheduler(testConfig(), store, dispatcher, zap.NewNop())

	// 模拟上一轮仍在运行：本轮 tick 必须跳过
	s.pollRunning.Store(true)
	s.tickPoll(context.Background())
	assert.Equal(t, 0, dispatcher.calls)

	s.pollRunning.Store(false)
	s.tickPoll(context.Background())
	assert.Equal(t, 1, dispatcher.calls)
}

func TestCleanupOnce_LoopsUntilShortBatch(t *testing.T) {
	store := newFakeReminderStore()
	// 前两批满批，第三批不满：共三次调用后停止
	store.deleteCounts = []int{100, 100, 17}
	dispatcher := &fakeDispatcher{}

	s := NewScheduler(testConfig(), store, dispatcher, zap.NewNop())

	total, err := s.cleanupOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 217, total)
	assert.Equal(t, 3, store.deleteCalls)
}

func TestCleanupOnce_NothingToDelete(t *testing.T) {
	store := newFakeReminderStore()
	dispatcher := &fakeDispatcher{}

	s := NewScheduler(testConfig(), store, dispatcher, zap.NewNop())

	total, err := s.cleanupOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Equal(t, 1, store.deleteCalls)
}

func TestScheduler_StartStop(t *testing.T) {
	store := newFakeReminderStore()
	dispatcher := &fakeDispatcher{deliver: true}

	cfg := testConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.CleanupInterval = 10 * time.Millisecond
	s := NewScheduler(cfg, store, dispatcher, zap.NewNop())

	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	// 停止后不再有新的 tick
	calls := dispatcher.calls
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, dispatcher.calls)
}
