package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
)

func sentParent(campaignID string, sentAt time.Time) *models.SendTask {
	parent := &models.SendTask{
		CampaignID:  campaignID,
		RecipientID: "rcpt-0",
		StepIndex:   0,
		AccountID:   "acct-1",
		ScheduledAt: sentAt.Add(-time.Minute),
		SentAt:      &sentAt,
		Status:      models.SendTaskStatusSent,
	}
	parent.ID = "parent-1"
	return parent
}

func TestOnParentSent_SchedulesNextStep(t *testing.T) {
	store := newMemStore()
	f := NewFollowUpSequencer(store)
	campaign := testCampaign(weekdayPolicy())

	sentAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) // Monday
	parent := sentParent(campaign.ID, sentAt)
	store.add(parent)

	task, err := f.OnParentSent(context.Background(), campaign, parent)
	require.NoError(t, err)
	require.NotNil(t, task)

	assert.Equal(t, 1, task.StepIndex)
	assert.Equal(t, parent.RecipientID, task.RecipientID)
	assert.Equal(t, parent.AccountID, task.AccountID, "follow-up stays on the parent's account")
	require.NotNil(t, task.ParentID)
	assert.Equal(t, parent.ID, *task.ParentID)
	assert.Equal(t, models.SendTaskStatusScheduled, task.Status)

	// Step 1 has a 3 day delay counted from the actual sent instant:
	// Monday 10:00 + 3d lands on Thursday 10:00, inside the window.
	assert.Equal(t, time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC), task.ScheduledAt)

	// Same-thread follow-ups carry the dispatch floor.
	require.NotNil(t, task.EarliestAt)
	assert.Equal(t, sentAt.Add(ReplySafetyGap), *task.EarliestAt)
}

func TestOnParentSent_DelayCountsFromSentAtNotSchedule(t *testing.T) {
	store := newMemStore()
	f := NewFollowUpSequencer(store)
	campaign := testCampaign(weekdayPolicy())

	// Scheduled Monday but actually sent Wednesday: the follow-up counts
	// its 3 days from Wednesday.
	sentAt := time.Date(2024, 1, 3, 11, 0, 0, 0, time.UTC)
	parent := sentParent(campaign.ID, sentAt)
	parent.ScheduledAt = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store.add(parent)

	task, err := f.OnParentSent(context.Background(), campaign, parent)
	require.NoError(t, err)
	require.NotNil(t, task)

	// Wednesday + 3d is Saturday; window correction pushes to Monday 09:00.
	assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), task.ScheduledAt)
}

func TestOnParentSent_Idempotent(t *testing.T) {
	store := newMemStore()
	f := NewFollowUpSequencer(store)
	campaign := testCampaign(weekdayPolicy())

	sentAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	parent := sentParent(campaign.ID, sentAt)
	store.add(parent)

	first, err := f.OnParentSent(context.Background(), campaign, parent)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.OnParentSent(context.Background(), campaign, parent)
	require.NoError(t, err)
	assert.Nil(t, second, "re-delivery of the sent signal must not create a second follow-up")

	count := 0
	for _, task := range store.all() {
		if task.StepIndex == 1 {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestOnParentSent_NoNextStep(t *testing.T) {
	store := newMemStore()
	f := NewFollowUpSequencer(store)
	campaign := testCampaign(weekdayPolicy())

	sentAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	last := sentParent(campaign.ID, sentAt)
	last.StepIndex = 1 // final step of the two-step sequence
	store.add(last)

	task, err := f.OnParentSent(context.Background(), campaign, last)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestOnParentSent_ParentNotSent(t *testing.T) {
	store := newMemStore()
	f := NewFollowUpSequencer(store)
	campaign := testCampaign(weekdayPolicy())

	parent := sentParent(campaign.ID, time.Now())
	parent.Status = models.SendTaskStatusScheduled
	parent.SentAt = nil

	task, err := f.OnParentSent(context.Background(), campaign, parent)
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.Empty(t, store.all())
}

func TestOnParentSent_DetachedThreadHasNoFloor(t *testing.T) {
	store := newMemStore()
	f := NewFollowUpSequencer(store)
	campaign := testCampaign(weekdayPolicy())
	campaign.Steps[1].SameThread = false

	sentAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	parent := sentParent(campaign.ID, sentAt)
	store.add(parent)

	task, err := f.OnParentSent(context.Background(), campaign, parent)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Nil(t, task.EarliestAt, "a new-thread follow-up needs no reply-safety floor")
}

func TestOnParentSent_ZeroDelaySameThread(t *testing.T) {
	store := newMemStore()
	f := NewFollowUpSequencer(store)
	campaign := testCampaign(weekdayPolicy())
	campaign.Steps[1].DelayDays = 0

	sentAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	parent := sentParent(campaign.ID, sentAt)
	store.add(parent)

	task, err := f.OnParentSent(context.Background(), campaign, parent)
	require.NoError(t, err)
	require.NotNil(t, task)

	// The schedule may say "immediately", but the dispatch floor still holds
	// the send back a full day.
	require.NotNil(t, task.EarliestAt)
	assert.Equal(t, sentAt.Add(ReplySafetyGap), *task.EarliestAt)
	assert.False(t, EligibleForDispatch(task, parent, campaign, sentAt.Add(time.Hour)))
	assert.True(t, EligibleForDispatch(task, parent, campaign, sentAt.Add(25*time.Hour)))
}

func TestEligibleForDispatch(t *testing.T) {
	campaign := testCampaign(weekdayPolicy())
	sentAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	parent := sentParent(campaign.ID, sentAt)
	floor := sentAt.Add(ReplySafetyGap)

	followUp := &models.SendTask{
		CampaignID:  campaign.ID,
		RecipientID: "rcpt-0",
		StepIndex:   1,
		EarliestAt:  &floor,
	}

	bounced := *parent
	bounced.Status = models.SendTaskStatusBounced

	pending := *parent
	pending.Status = models.SendTaskStatusScheduled
	pending.SentAt = nil

	tests := []struct {
		name   string
		task   *models.SendTask
		parent *models.SendTask
		now    time.Time
		want   bool
	}{
		{"step zero always eligible", &models.SendTask{StepIndex: 0}, nil, sentAt, true},
		{"missing parent", followUp, nil, floor.Add(time.Hour), false},
		{"parent not sent", followUp, &pending, floor.Add(time.Hour), false},
		{"parent bounced", followUp, &bounced, floor.Add(time.Hour), false},
		{"before safety gap", followUp, parent, floor.Add(-time.Minute), false},
		{"at safety gap", followUp, parent, floor, true},
		{"after safety gap", followUp, parent, floor.Add(time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EligibleForDispatch(tt.task, tt.parent, campaign, tt.now))
		})
	}
}

func TestEligibleForDispatch_SameThreadWithoutStoredFloor(t *testing.T) {
	// Even when the stored floor is missing, a same-thread follow-up is held
	// to the gap against the parent's actual sent time.
	campaign := testCampaign(weekdayPolicy())
	sentAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	parent := sentParent(campaign.ID, sentAt)

	followUp := &models.SendTask{
		CampaignID:  campaign.ID,
		RecipientID: "rcpt-0",
		StepIndex:   1,
	}

	assert.False(t, EligibleForDispatch(followUp, parent, campaign, sentAt.Add(23*time.Hour)))
	assert.True(t, EligibleForDispatch(followUp, parent, campaign, sentAt.Add(24*time.Hour)))
}
