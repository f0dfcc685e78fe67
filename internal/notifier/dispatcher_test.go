package notifier

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nestcare-monitor/internal/models"
)

type fakeChannel struct {
	name  string
	fail  bool
	calls int
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, _ *models.CaregiverContact, _ Message) (string, error) {
	f.calls++
	if f.fail {
		return "", fmt.Errorf("provider unavailable")
	}
	return "msg-" + f.name, nil
}

type fakeCaregivers struct {
	contact *models.CaregiverContact
	err     error
}

func (f *fakeCaregivers) GetContact(_ context.Context, _ string) (*models.CaregiverContact, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.contact, nil
}

func strPtr(s string) *string { return &s }

func setupDispatcher(pushFails, smsFails bool) (*Dispatcher, *fakeChannel, *fakeChannel) {
	push := &fakeChannel{name: models.ChannelPush, fail: pushFails}
	sms := &fakeChannel{name: models.ChannelSMS, fail: smsFails}
	caregivers := &fakeCaregivers{contact: &models.CaregiverContact{
		OwnerID:     uuid.New().String(),
		DeviceToken: strPtr("token-1"),
		PhoneNumber: strPtr("+15550001111"),
	}}
	d := NewDispatcher([]Channel{push, sms}, caregivers, zap.NewNop())
	return d, push, sms
}

func testReminder(channels ...string) *models.Reminder {
	return &models.Reminder{
		ReminderID: uuid.New().String(),
		SubjectID:  uuid.New().String(),
		OwnerID:    uuid.New().String(),
		Type:       models.ReminderTypeMedicine,
		Title:      "Medicine reminder",
		Body:       "Time to give Vitamin D",
		Channels:   channels,
		Status:     models.ReminderStatusPending,
	}
}

func TestSendReminder_PartialFailureStillDelivered(t *testing.T) {
	d, push, sms := setupDispatcher(true, false)

	result, err := d.SendReminder(context.Background(), testReminder(models.ChannelPush, models.ChannelSMS))

	require.NoError(t, err)
	// push 失败、sms 成功：整体仍视为已投递
	assert.True(t, result.Delivered())
	assert.False(t, result[models.ChannelPush].Success)
	assert.True(t, result[models.ChannelSMS].Success)
	assert.Equal(t, "msg-sms", result[models.ChannelSMS].ProviderMessageID)

	// 单渠道失败不阻止其他渠道尝试
	assert.Equal(t, 1, push.calls)
	assert.Equal(t, 1, sms.calls)

	assert.Contains(t, result.ErrorSummary(), "push")
}

func TestSendReminder_AllChannelsFail(t *testing.T) {
	d, _, _ := setupDispatcher(true, true)

	result, err := d.SendReminder(context.Background(), testReminder(models.ChannelPush, models.ChannelSMS))

	require.NoError(t, err)
	assert.False(t, result.Delivered())
	assert.Contains(t, result.ErrorSummary(), "provider unavailable")
}

func TestSendReminder_OnlyListedChannelsAttempted(t *testing.T) {
	d, push, sms := setupDispatcher(false, false)

	result, err := d.SendReminder(context.Background(), testReminder(models.ChannelPush))

	require.NoError(t, err)
	assert.True(t, result.Delivered())
	assert.Equal(t, 1, push.calls)
	assert.Equal(t, 0, sms.calls)
	_, hasSMS := result[models.ChannelSMS]
	assert.False(t, hasSMS)
}

func TestSendReminder_UnknownChannelCountsAsFailed(t *testing.T) {
	push := &fakeChannel{name: models.ChannelPush}
	caregivers := &fakeCaregivers{contact: &models.CaregiverContact{OwnerID: "o"}}
	d := NewDispatcher([]Channel{push}, caregivers, zap.NewNop())

	result, err := d.SendReminder(context.Background(), testReminder(models.ChannelPush, models.ChannelSMS))

	require.NoError(t, err)
	assert.True(t, result.Delivered())
	assert.False(t, result[models.ChannelSMS].Success)
	assert.Equal(t, "channel not configured", result[models.ChannelSMS].Error)
}

func TestSendReminder_MissingContact(t *testing.T) {
	push := &fakeChannel{name: models.ChannelPush}
	d := NewDispatcher([]Channel{push}, &fakeCaregivers{contact: nil}, zap.NewNop())

	_, err := d.SendReminder(context.Background(), testReminder(models.ChannelPush))

	// 照护人不存在是数据问题：调用方据此落终态
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotDeliverable)
	assert.Contains(t, err.Error(), "caregiver not found")
	assert.Equal(t, 0, push.calls)
}

func TestSendReminder_NoChannels(t *testing.T) {
	d, _, _ := setupDispatcher(false, false)

	_, err := d.SendReminder(context.Background(), testReminder())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotDeliverable)
}

func TestSendReminder_ContactLookupErrorIsTransient(t *testing.T) {
	push := &fakeChannel{name: models.ChannelPush}
	caregivers := &fakeCaregivers{err: fmt.Errorf("pq: too many connections")}
	d := NewDispatcher([]Channel{push}, caregivers, zap.NewNop())

	_, err := d.SendReminder(context.Background(), testReminder(models.ChannelPush))

	// 联系方式查询出错不带 ErrNotDeliverable 标记：调用方可重试
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotDeliverable)
	assert.Equal(t, 0, push.calls)
}

func TestSendAlert_HighSeverityDispatches(t *testing.T) {
	d, push, sms := setupDispatcher(false, false)

	err := d.SendAlert(context.Background(), &models.Alert{
		AlertID:  uuid.New().String(),
		OwnerID:  uuid.New().String(),
		RuleID:   "feeding-delay-fullterm",
		Severity: models.SeverityHigh,
		Title:    "Feeding overdue",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, push.calls)
	assert.Equal(t, 1, sms.calls)
}

func TestSendAlert_MediumSeverityIsStoreOnly(t *testing.T) {
	d, push, sms := setupDispatcher(false, false)

	err := d.SendAlert(context.Background(), &models.Alert{
		AlertID:  uuid.New().String(),
		OwnerID:  uuid.New().String(),
		Severity: models.SeverityMedium,
	})

	require.NoError(t, err)
	// MEDIUM/LOW 只落库，不触发任何渠道调用
	assert.Equal(t, 0, push.calls)
	assert.Equal(t, 0, sms.calls)
}

func TestSendAlert_AllChannelsFailReturnsError(t *testing.T) {
	d, _, _ := setupDispatcher(true, true)

	err := d.SendAlert(context.Background(), &models.Alert{
		AlertID:  uuid.New().String(),
		OwnerID:  uuid.New().String(),
		Severity: models.SeverityHigh,
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "all channels failed")
}
